// Package duration extends time.ParseDuration with day and week units
// for configuration values like retry windows and cache lifetimes.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

var extUnits = map[string]time.Duration{
	"d": Day,
	"w": Week,
}

var extPattern = regexp.MustCompile(`(\d+)([wd])`)

// Parse accepts everything time.ParseDuration does plus "d" (days) and
// "w" (weeks). Compound values like "1d12h" or "2w3d" work as expected,
// and "0" is accepted as the zero duration.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	if s == "0" {
		return 0, nil
	}

	if !strings.ContainsAny(s, "dw") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return d, nil
	}

	var total time.Duration
	remaining := s
	for _, match := range extPattern.FindAllStringSubmatch(remaining, -1) {
		value, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration value %q in %q", match[1], s)
		}
		total += time.Duration(value) * extUnits[match[2]]
	}
	remaining = strings.TrimSpace(extPattern.ReplaceAllString(remaining, ""))

	if remaining != "" {
		d, err := time.ParseDuration(remaining)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		total += d
	}
	return total, nil
}
