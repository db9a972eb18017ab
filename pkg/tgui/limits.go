package tgui

// Telegram Bot API limits, counted in characters (runes) after entity parsing.
const (
	MaxMessageRunes = 4096
	MaxCaptionRunes = 1024
)

// ParseModeHTML is the Bot API parse mode for HTML-formatted text.
const ParseModeHTML = "HTML"

// Caption fits s into a media caption.
func Caption(s string) string { return TruncRunes(s, MaxCaptionRunes) }
