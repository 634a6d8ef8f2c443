package normalize

import (
	"fmt"
	"slices"
	"strings"
)

// Tags lower-cases, trims, de-duplicates and sorts tag values. Accepts a
// list or a single comma/semicolon separated string.
func Tags(v any) []string {
	var raw []string
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		raw = splitTags(val)
	case []string:
		for _, s := range val {
			raw = append(raw, splitTags(s)...)
		}
	case []any:
		for _, item := range val {
			if item == nil {
				continue
			}
			raw = append(raw, splitTags(fmt.Sprint(item))...)
		}
	default:
		raw = splitTags(fmt.Sprint(val))
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.Join(strings.Fields(strings.ToLower(t)), " ")
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return out
}

func splitTags(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '|' })
}
