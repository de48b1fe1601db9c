package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseBandwidth parses a bytes-per-second value such as "500K", "10M",
// "1G" or a plain byte count. Suffixes are powers of 1024 and may carry a
// trailing "B" or "/s". Empty and "0" mean unlimited.
func ParseBandwidth(s string) (int64, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.TrimSuffix(v, "/S")
	v = strings.TrimSuffix(v, "B")
	if v == "" {
		return 0, nil
	}

	mult := int64(1)
	switch v[len(v)-1] {
	case 'K':
		mult = 1 << 10
	case 'M':
		mult = 1 << 20
	case 'G':
		mult = 1 << 30
	}
	if mult > 1 {
		v = v[:len(v)-1]
	}

	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid bandwidth %q (use e.g. 500K, 10M, 1G)", s)
	}
	return int64(n * float64(mult)), nil
}
