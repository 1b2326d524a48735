package core

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	wireDatePattern = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})$`)
	keyDatePattern  = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
)

// WireToKey converts a day-first slashed date (DD/MM/YYYY) to an ISO key.
// Anything that does not match the pattern exactly yields the absent key.
// No calendar check is made: 31/02/2024 becomes 2024-02-31.
func WireToKey(s string) DateKey {
	t := strings.TrimSpace(s)
	if t == "" {
		return ""
	}
	m := wireDatePattern.FindStringSubmatch(t)
	if m == nil {
		return ""
	}
	return DateKey(m[3] + "-" + m[2] + "-" + m[1])
}

// KeyToWire converts an ISO key (or a longer timestamp whose first ten
// characters are an ISO key) to DD/MM/YYYY. Malformed input yields "".
func KeyToWire(s string) string {
	if s == "" {
		return ""
	}
	if len(s) > 10 {
		s = s[:10]
	}
	m := keyDatePattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[3] + "/" + m[2] + "/" + m[1]
}

// KeyFromTime returns the ISO key of t in its own location.
func KeyFromTime(t time.Time) DateKey {
	return DateKey(t.Format("2006-01-02"))
}

// IsZero reports whether the key is absent.
func (k DateKey) IsZero() bool {
	return k == ""
}

// String implements fmt.Stringer
func (k DateKey) String() string {
	return string(k)
}

// Wire returns the DD/MM/YYYY form of the key, or "" when absent.
func (k DateKey) Wire() string {
	return KeyToWire(string(k))
}

// comparable returns the first ten characters of the key, which is what
// range filters compare against.
func (k DateKey) comparable() string {
	s := string(k)
	if len(s) > 10 {
		return s[:10]
	}
	return s
}

// YearMonth extracts year and month from the key without validating the
// day. ok is false when the key is absent or not shaped like YYYY-MM-DD.
func (k DateKey) YearMonth() (year, month int, ok bool) {
	m := keyDatePattern.FindStringSubmatch(k.comparable())
	if m == nil {
		return 0, 0, false
	}
	year, _ = strconv.Atoi(m[1])
	month, _ = strconv.Atoi(m[2])
	return year, month, true
}

// Valid is the optional strict check the codec itself never applies: the
// key must name a real calendar day.
func (k DateKey) Valid() error {
	if k.IsZero() {
		return ErrInvalidDate
	}
	t, err := time.Parse("2006-01-02", string(k))
	if err != nil {
		return ErrInvalidDate
	}
	if KeyFromTime(t) != k {
		return ErrInvalidDate
	}
	return nil
}
