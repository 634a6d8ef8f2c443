package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var monthNames = map[string]time.Month{}

func init() {
	sets := [][]string{
		// en
		{"january", "february", "march", "april", "may", "june", "july", "august", "september", "october", "november", "december"},
		// fr
		{"janvier", "fevrier", "mars", "avril", "mai", "juin", "juillet", "aout", "septembre", "octobre", "novembre", "decembre"},
		// es
		{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"},
		// de
		{"januar", "februar", "marz", "april", "mai", "juni", "juli", "august", "september", "oktober", "november", "dezember"},
		// pt
		{"janeiro", "fevereiro", "marco", "abril", "maio", "junho", "julho", "agosto", "setembro", "outubro", "novembro", "dezembro"},
	}
	for _, set := range sets {
		for i, name := range set {
			monthNames[name] = time.Month(i + 1)
		}
	}
	for i, name := range sets[0] {
		monthNames[name[:3]] = time.Month(i + 1)
	}
	abbrev := map[string]time.Month{
		"janv": time.January, "fevr": time.February, "avr": time.April, "juil": time.July,
		"sept": time.September, "setiembre": time.September, "ene": time.January,
		"abr": time.April, "ago": time.August, "dic": time.December, "okt": time.October,
		"dez": time.December, "fev": time.February, "set": time.September, "out": time.October,
	}
	for name, m := range abbrev {
		monthNames[name] = m
	}
}

var (
	deadlinePrefix = regexp.MustCompile(`^(?:application\s+)?(?:deadline|closing date|closes|close date|apply by|date limite|fecha limite|bewerbungsfrist|prazo)\s*(?:[:\-]|on)?\s*`)
	isoDate        = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	numericDate    = regexp.MustCompile(`\b(\d{1,2})[./-](\d{1,2})[./-](\d{2,4})\b`)
	textualDate    = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th|er|o)?\.?\s+(?:de\s+)?([a-z]+)\.?,?\s+(?:de\s+)?(\d{4})\b`)
	monthFirstDate = regexp.MustCompile(`\b([a-z]+)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
)

// ParseDeadline turns a structured or free-text deadline into a calendar
// date in UTC. Numeric dates are read day-first unless that is impossible.
func ParseDeadline(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05", time.RFC1123Z, time.RFC1123, time.RFC822Z} {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOf(t), true
		}
	}

	text := deadlinePrefix.ReplaceAllString(fold(s), "")
	if m := isoDate.FindStringSubmatch(text); m != nil {
		return build(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}
	if m := textualDate.FindStringSubmatch(text); m != nil {
		if month, ok := monthNames[m[2]]; ok {
			return build(atoi(m[3]), int(month), atoi(m[1]))
		}
	}
	if m := monthFirstDate.FindStringSubmatch(text); m != nil {
		if month, ok := monthNames[m[1]]; ok {
			return build(atoi(m[3]), int(month), atoi(m[2]))
		}
	}
	if m := numericDate.FindStringSubmatch(text); m != nil {
		first, second, year := atoi(m[1]), atoi(m[2]), atoi(m[3])
		if year < 100 {
			year += 2000
		}
		if first > 12 || second <= 12 {
			return build(year, second, first)
		}
		return build(year, first, second)
	}
	return time.Time{}, false
}

func build(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 || year < 1970 || year > 2100 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes 31 April to 1 May; reject that.
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
