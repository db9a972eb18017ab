// Package tgui holds small Telegram text helpers: rune-safe truncation and
// splitting bounds for the Bot API limits.
package tgui
