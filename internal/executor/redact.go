package executor

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var secretPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)(authorization:\s*)(?:bearer|basic)?\s*\S+`), "${1}[REDACTED]"},
	{regexp.MustCompile(`(?i)\b(bearer|basic)\s+[A-Za-z0-9\-._~+/]+=*`), "$1 [REDACTED]"},
	{regexp.MustCompile(`(?i)([?&;](?:api[_-]?key|apikey|access[_-]?token|token|key|secret|password|pass|auth|sig|signature)=)[^&\s"']+`), "${1}REDACTED"},
	{regexp.MustCompile(`(://)[^/@\s:]+:[^/@\s]+@`), "${1}REDACTED@"},
}

// sanitizeMessage scrubs credential-looking fragments and bounds the length
// on a rune boundary.
func sanitizeMessage(msg string, maxLen int) string {
	for _, p := range secretPatterns {
		msg = p.re.ReplaceAllString(msg, p.repl)
	}
	msg = strings.Join(strings.Fields(msg), " ")
	if maxLen <= 0 || utf8.RuneCountInString(msg) <= maxLen {
		return msg
	}
	runes := []rune(msg)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
