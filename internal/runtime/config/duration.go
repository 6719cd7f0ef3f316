package config

import (
	"errors"
	"strings"
	"time"

	"github.com/sosodev/duration"
)

var (
	errCalendarDuration = errors.New("years, months and weeks are not supported")
	errNoDesignator     = errors.New("at least one value must follow P")
	errEmptyTimePart    = errors.New("T must be followed by at least one time value")
)

// ParseDuration parses ISO-8601 duration text such as "PT20S" or "P1DT2H".
// Only day and time designators are accepted; calendar units have no fixed
// length and are rejected.
func ParseDuration(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, errors.New("empty duration")
	}

	text := strings.ToUpper(trimmed)
	if err := checkSections(text); err != nil {
		return 0, err
	}
	d, err := duration.Parse(text)
	if err != nil {
		return 0, err
	}
	if d.Years != 0 || d.Months != 0 || d.Weeks != 0 {
		return 0, errCalendarDuration
	}
	return d.ToTimeDuration(), nil
}

// checkSections rejects "P", "PT" and a trailing "T", which the parser
// reads as zero.
func checkSections(text string) error {
	body := strings.TrimPrefix(text, "-")
	rest, ok := strings.CutPrefix(body, "P")
	if !ok {
		return nil
	}
	date, clock, hasClock := strings.Cut(rest, "T")
	if hasClock && clock == "" {
		return errEmptyTimePart
	}
	if date == "" && !hasClock {
		return errNoDesignator
	}
	return nil
}

// ParseOptionalDuration returns nil for empty text.
func ParseOptionalDuration(s string) (*time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := ParseDuration(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
