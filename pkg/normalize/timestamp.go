package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// layouts accepted by ParseTimestamp, tried in order. Zoneless layouts are
// read as UTC unless a "(UTC+h)" suffix says otherwise.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"Jan 2, 2006 15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// utcSuffix matches the offset annotation UFED appends, e.g. "(UTC+2)" or "(UTC-05:30)".
var utcSuffix = regexp.MustCompile(`\s*\(\s*UTC\s*(?:([+-])\s*(\d{1,2})(?::?(\d{2}))?)?\s*\)\s*$`)

// ParseTimestamp parses the date-time formats found in KML exports. The
// result is always in UTC. ok is false for empty or unknown input.
func ParseTimestamp(s string) (t time.Time, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	loc := time.UTC
	if m := utcSuffix.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(s[:len(s)-len(m[0])])
		if m[1] != "" {
			offset, valid := suffixOffset(m[1], m[2], m[3])
			if !valid {
				return time.Time{}, false
			}
			loc = time.FixedZone("", offset)
		}
	}

	for _, layout := range layouts {
		parsed, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

func suffixOffset(sign, hours, minutes string) (int, bool) {
	h, err := strconv.Atoi(hours)
	if err != nil || h > 14 {
		return 0, false
	}
	m := 0
	if minutes != "" {
		m, err = strconv.Atoi(minutes)
		if err != nil || m > 59 {
			return 0, false
		}
	}
	offset := h*3600 + m*60
	if sign == "-" {
		offset = -offset
	}
	return offset, true
}
