// Package bytesize parses and formats human-friendly byte sizes.
package bytesize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Binary (1024-based) multipliers keyed by suffix.
var multipliers = map[string]int64{
	"B":  1,
	"KB": 1 << 10,
	"MB": 1 << 20,
	"GB": 1 << 30,
	"TB": 1 << 40,
}

// Suffixes ordered longest first so "KB" is not matched as "B".
var suffixes = []string{"TB", "GB", "MB", "KB", "B"}

// Parse converts a size string such as "512MB" or "1.5GB" into bytes.
// Units are case-insensitive and 1024-based.
func Parse(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	var unit, valueStr string
	for _, u := range suffixes {
		if strings.HasSuffix(s, u) {
			unit = u
			valueStr = strings.TrimSpace(strings.TrimSuffix(s, u))
			break
		}
	}
	if unit == "" {
		return 0, fmt.Errorf("invalid size %q: missing unit (B, KB, MB, GB, TB)", s)
	}
	if valueStr == "" {
		return 0, fmt.Errorf("invalid size %q: missing numeric value", s)
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value %q in %q: %w", valueStr, s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid size %q: negative value not allowed", s)
	}

	result := value * float64(multipliers[unit])
	if result > math.MaxInt64 {
		return 0, fmt.Errorf("size %q overflows int64", s)
	}
	return int64(result), nil
}

// Format renders n as a compact human-readable size, e.g. "12.4MB".
func Format(n int64) string {
	switch {
	case n >= 1<<40:
		return fmt.Sprintf("%.1fTB", float64(n)/float64(1<<40))
	case n >= 1<<30:
		return fmt.Sprintf("%.1fGB", float64(n)/float64(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/float64(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/float64(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
