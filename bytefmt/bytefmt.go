// Package bytefmt formats and parses byte counts for humans.
package bytefmt

import (
	"fmt"
	"strconv"
	"strings"
)

const unit = 1024

// Format renders n using binary units, e.g. "512 B", "1.5 KiB", "47.7 MiB".
// Negative values render as "unknown".
func Format(n int64) string {
	if n < 0 {
		return "unknown"
	}
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 5; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

var suffixes = []struct {
	suffix string
	mult   int64
}{
	{"kib", 1 << 10},
	{"mib", 1 << 20},
	{"gib", 1 << 30},
	{"tib", 1 << 40},
	{"kb", 1000},
	{"mb", 1000 * 1000},
	{"gb", 1000 * 1000 * 1000},
	{"tb", 1000 * 1000 * 1000 * 1000},
	{"k", 1 << 10},
	{"m", 1 << 20},
	{"g", 1 << 30},
	{"b", 1},
}

// Parse accepts a plain integer byte count or a number with a unit suffix
// ("48MiB", "50MB", "1.5 GiB", "512k"). Single letters are binary units.
func Parse(s string) (int64, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if in == "" {
		return 0, fmt.Errorf("empty byte size")
	}
	if n, err := strconv.ParseInt(in, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("byte size must be >= 0, got %d", n)
		}
		return n, nil
	}
	for _, sf := range suffixes {
		if !strings.HasSuffix(in, sf.suffix) {
			continue
		}
		num := strings.TrimSpace(strings.TrimSuffix(in, sf.suffix))
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid byte size %q", s)
		}
		if f < 0 {
			return 0, fmt.Errorf("byte size must be >= 0, got %q", s)
		}
		return int64(f * float64(sf.mult)), nil
	}
	return 0, fmt.Errorf("invalid byte size %q", s)
}
