package router

import (
	"regexp"
	"strings"
)

// linkPattern matches short-video share links such as https://vt.tiktok.com/ZS8abc/
// or https://www.tiktok.com/@user/video/123.
var linkPattern = regexp.MustCompile(`^https?://[a-z]{1,3}\.tiktok\.com/@?[a-zA-Z0-9/?.&_=-]{5,100}$`)

// IsVideoLink reports whether text is a link the resolver can handle.
func IsVideoLink(text string) bool {
	return linkPattern.MatchString(strings.TrimSpace(text))
}

// parseCommand splits "/cmd[@bot] [arg...]" into a lowercased command and the raw
// remainder. Commands addressed to another bot are not ours.
func parseCommand(text, botUsername string) (cmd, arg string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	word, rest, _ := strings.Cut(text[1:], " ")
	if name, at, found := strings.Cut(word, "@"); found {
		if botUsername != "" && !strings.EqualFold(at, botUsername) {
			return "", "", false
		}
		word = name
	}
	if word == "" {
		return "", "", false
	}
	return strings.ToLower(word), strings.TrimSpace(rest), true
}
