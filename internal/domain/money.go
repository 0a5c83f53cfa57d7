package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCents parses a non-negative decimal amount with at most two fractional digits.
func ParseCents(s string) (int64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" && !hasFrac {
		return 0, fmt.Errorf("empty amount")
	}
	if whole == "" {
		whole = "0"
	}
	if hasFrac && (len(frac) == 0 || len(frac) > 2) {
		return 0, fmt.Errorf("amount %q: expected at most two decimals", s)
	}
	if strings.HasPrefix(whole, "+") || strings.HasPrefix(whole, "-") {
		return 0, fmt.Errorf("amount %q: sign not allowed", s)
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	var f int64
	if hasFrac {
		if strings.HasPrefix(frac, "+") || strings.HasPrefix(frac, "-") {
			return 0, fmt.Errorf("amount %q: sign not allowed", s)
		}
		f, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("amount %q: %w", s, err)
		}
		if len(frac) == 1 {
			f *= 10
		}
	}
	if w > (1<<62)/100 {
		return 0, fmt.Errorf("amount %q: too large", s)
	}
	return w*100 + f, nil
}

// FormatCents renders cents as a decimal amount.
func FormatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
