package tlscheck

import (
	"math"
	"strconv"
	"strings"

	"go.trai.ch/zerr"
)

const (
	kib = 1 << 10
	mib = 1 << 20
	gib = 1 << 30
)

// parseByteSize reads sizes such as "512", "64kb", "1.5M" or "2GB". Units are
// binary.
func parseByteSize(raw string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimSpace(strings.TrimSuffix(s, "b"))
	if s == "" {
		return 0, zerr.With(ErrInvalidSize, "size", raw)
	}

	mult := int64(1)
	switch s[len(s)-1] {
	case 'k':
		mult = kib
	case 'm':
		mult = mib
	case 'g':
		mult = gib
	}
	if mult > 1 {
		s = strings.TrimSpace(s[:len(s)-1])
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, zerr.With(zerr.Wrap(err, ErrInvalidSize.Error()), "size", raw)
	}
	n := v * float64(mult)
	// float64(math.MaxInt64) rounds up to 2^63, which itself overflows.
	if math.IsNaN(n) || n < 0 || n >= math.MaxInt64 {
		return 0, zerr.With(ErrInvalidSize, "size", raw)
	}
	return int64(n), nil
}

func formatBytes(b uint64) string {
	one := func(v float64, unit string) string {
		return strings.TrimSuffix(strconv.FormatFloat(v, 'f', 1, 64), ".0") + unit
	}
	switch {
	case b < kib:
		return strconv.FormatUint(b, 10) + "b"
	case b < mib:
		return one(float64(b)/kib, "kb")
	case b < gib:
		return one(float64(b)/mib, "mb")
	}
	return one(float64(b)/gib, "gb")
}
