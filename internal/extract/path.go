package extract

import (
	"fmt"
	"strings"
)

// compilePath turns a dot/bracket path such as `data.jobs[0]["job title"]`
// into a gjson path. An empty expression (or "$") selects the root.
func compilePath(expr string) (string, error) {
	expr = strings.TrimSpace(expr)
	expr = strings.TrimPrefix(expr, "$")
	expr = strings.TrimPrefix(expr, ".")
	if expr == "" {
		return "", nil
	}
	var segments []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			segments = append(segments, escapeSegment(cur.String()))
			cur.Reset()
		}
	}
	for i := 0; i < len(expr); i++ {
		ch := expr[i]
		switch ch {
		case '.':
			if cur.Len() == 0 && (i == 0 || expr[i-1] != ']') {
				return "", fmt.Errorf("empty segment at offset %d in %q", i, expr)
			}
			flush()
		case '[':
			flush()
			end := strings.IndexByte(expr[i:], ']')
			if end < 0 {
				return "", fmt.Errorf("unclosed bracket in %q", expr)
			}
			inner := strings.TrimSpace(expr[i+1 : i+end])
			if len(inner) >= 2 && (inner[0] == '"' || inner[0] == '\'') && inner[len(inner)-1] == inner[0] {
				inner = inner[1 : len(inner)-1]
			} else if !isIndex(inner) {
				return "", fmt.Errorf("bracket must hold an index or quoted key in %q", expr)
			}
			if inner == "" {
				return "", fmt.Errorf("empty bracket in %q", expr)
			}
			segments = append(segments, escapeSegment(inner))
			i += end
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	if len(segments) == 0 {
		return "", fmt.Errorf("empty path %q", expr)
	}
	return strings.Join(segments, "."), nil
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// escapeSegment escapes characters gjson treats as syntax.
func escapeSegment(seg string) string {
	var b strings.Builder
	for _, r := range seg {
		switch r {
		case '.', '*', '?', '|', '#', '@', '!', '=', '<', '>', '%', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
