package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the canonical text encoding of KindTime values.
const TimeLayout = time.RFC3339Nano

// timeLayouts lists the encodings accepted when reading times back from a
// driver that hands them over as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// Normalize converts v to the canonical Go representation of kind:
// string, int64, bool or UTC time.Time. nil stays nil (SQL NULL).
func Normalize(kind Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case KindText:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case fmt.Stringer:
			return x.String(), nil
		}
	case KindInteger:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int16:
			return int64(x), nil
		case int8:
			return int64(x), nil
		case uint32:
			return int64(x), nil
		case uint16:
			return int64(x), nil
		case uint8:
			return int64(x), nil
		case float64:
			if x == float64(int64(x)) {
				return int64(x), nil
			}
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err == nil {
				return n, nil
			}
		case []byte:
			n, err := strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
			if err == nil {
				return n, nil
			}
		}
	case KindBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case int:
			return x != 0, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err == nil {
				return b, nil
			}
		case []byte:
			b, err := strconv.ParseBool(strings.TrimSpace(string(x)))
			if err == nil {
				return b, nil
			}
		}
	case KindTime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case *time.Time:
			if x == nil {
				return nil, nil
			}
			return x.UTC(), nil
		case string:
			return parseTime(x)
		case []byte:
			return parseTime(string(x))
		}
	}
	return nil, fmt.Errorf("%w: %T is not a %s value", ErrTypeMismatch, v, kind)
}

func parseTime(s string) (any, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return nil, fmt.Errorf("%w: cannot parse time %q", ErrTypeMismatch, s)
}

// equalValues compares two normalized values.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}

// KeyString renders a normalized value as a stable string, for use as a
// cache key.
func KeyString(v any) string {
	switch x := v.(type) {
	case nil:
		return "\x00nil"
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(TimeLayout)
	default:
		return fmt.Sprint(x)
	}
}
