package wire

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidValue is returned when a raw value cannot be converted to the
// type its data type code names.
var ErrInvalidValue = errors.New("wire: invalid value for data type")

// Coerce converts a raw product update value according to dt:
//   - Boolean: true for "1", "true", "on" or "yes" (any case), otherwise false
//   - Double: float64
//   - Integer: int
//
// Every other data type passes the string through unchanged.
func Coerce(dt DataType, raw string) (any, error) {
	switch dt {
	case DataTypeBoolean:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "1", "true", "on", "yes":
			return true, nil
		}
		return false, nil

	case DataTypeDouble:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%w %s: %q", ErrInvalidValue, dt, raw)
		}
		return f, nil

	case DataTypeInteger:
		s := strings.TrimSpace(raw)
		if n, err := strconv.Atoi(s); err == nil {
			return n, nil
		}
		// Integral values are sometimes rendered with a fraction ("16.0").
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f != math.Trunc(f) || f >= float64(math.MaxInt) || f < float64(math.MinInt) {
			return nil, fmt.Errorf("%w %s: %q", ErrInvalidValue, dt, raw)
		}
		return int(f), nil
	}
	return raw, nil
}
