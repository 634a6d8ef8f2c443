package extract

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// applyChain runs the transform chain over v. On the first failing step it
// returns the original value together with the error.
func applyChain(v any, chain []Transform) (any, error) {
	cur := v
	for _, t := range chain {
		next, err := t.apply(cur)
		if err != nil {
			return v, fmt.Errorf("%s: %w", t.Op, err)
		}
		cur = next
	}
	return cur, nil
}

func (t Transform) apply(v any) (any, error) {
	switch t.Op {
	case "lowercase":
		return mapStrings(v, strings.ToLower)
	case "uppercase":
		return mapStrings(v, strings.ToUpper)
	case "trim":
		return mapStrings(v, strings.TrimSpace)
	case "join":
		return join(v, t.Sep)
	case "first":
		if arr, ok := v.([]any); ok {
			if len(arr) == 0 {
				return nil, nil
			}
			return arr[0], nil
		}
		return v, nil
	case "default":
		if isEmpty(v) {
			return t.Value, nil
		}
		return v, nil
	case "lookup":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("lookup needs a string, got %T", v)
		}
		key := strings.TrimSpace(s)
		if out, ok := t.Table[key]; ok {
			return out, nil
		}
		for k, out := range t.Table {
			if strings.EqualFold(k, key) {
				return out, nil
			}
		}
		return v, nil
	case "date":
		at, err := parseDate(v, t.Format)
		if err != nil {
			return nil, err
		}
		return at.Format("2006-01-02"), nil
	default:
		return nil, fmt.Errorf("unknown transform %q", t.Op)
	}
}

func mapStrings(v any, fn func(string) string) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return fn(val), nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, not a string", i, item)
			}
			out[i] = fn(s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string, got %T", v)
	}
}

func join(v any, sep string) (any, error) {
	if sep == "" {
		sep = ", "
	}
	switch val := v.(type) {
	case nil, string:
		return val, nil
	case []any:
		parts := make([]string, 0, len(val))
		for i, item := range val {
			switch it := item.(type) {
			case string:
				parts = append(parts, it)
			case float64:
				parts = append(parts, strconv.FormatFloat(it, 'f', -1, 64))
			case bool:
				parts = append(parts, strconv.FormatBool(it))
			default:
				return nil, fmt.Errorf("element %d is %T, cannot join", i, item)
			}
		}
		return strings.Join(parts, sep), nil
	default:
		return nil, fmt.Errorf("expected array, got %T", v)
	}
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

// parseDate interprets v according to a format hint: "unix", "unix_ms",
// "rfc3339", a strftime-style pattern such as "%d/%m/%Y", or a Go layout.
// An empty hint tries a handful of common layouts.
func parseDate(v any, format string) (time.Time, error) {
	switch val := v.(type) {
	case float64:
		switch format {
		case "unix_ms":
			return time.UnixMilli(int64(val)).UTC(), nil
		default:
			return time.Unix(int64(val), 0).UTC(), nil
		}
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, fmt.Errorf("empty date")
		}
		switch format {
		case "unix", "unix_ms":
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return time.Time{}, fmt.Errorf("parse %s: %w", format, err)
			}
			if format == "unix_ms" {
				return time.UnixMilli(n).UTC(), nil
			}
			return time.Unix(n, 0).UTC(), nil
		case "", "auto":
			for _, layout := range defaultDateLayouts {
				if at, err := time.Parse(layout, s); err == nil {
					return at, nil
				}
			}
			return time.Time{}, fmt.Errorf("unrecognised date %q", s)
		case "rfc3339":
			format = time.RFC3339
		}
		layout := strftimeToLayout(format)
		at, err := time.Parse(layout, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse date: %w", err)
		}
		return at, nil
	default:
		return time.Time{}, fmt.Errorf("cannot parse %T as date", v)
	}
}

var defaultDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

var strftimeTokens = strings.NewReplacer(
	"%Y", "2006",
	"%y", "06",
	"%m", "01",
	"%d", "02",
	"%e", "_2",
	"%H", "15",
	"%M", "04",
	"%S", "05",
	"%b", "Jan",
	"%B", "January",
	"%z", "-0700",
	"%Z", "MST",
)

func strftimeToLayout(format string) string {
	if !strings.Contains(format, "%") {
		return format
	}
	return strftimeTokens.Replace(format)
}
