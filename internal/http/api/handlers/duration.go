package handlers

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Duration is a wire duration. It accepts Go duration strings, a "d"
// suffix meaning days, and bare JSON numbers meaning seconds.
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if errUnmarshal := json.Unmarshal(b, &v); errUnmarshal != nil {
		return errUnmarshal
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value * float64(time.Second))
		return nil
	case string:
		if value == "" {
			d.Duration = 0
			return nil
		}
		parsed, errParse := parseDurationWithDays(value)
		if errParse != nil {
			return errParse
		}
		d.Duration = parsed
		return nil
	default:
		return errors.New("invalid duration")
	}
}

func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		days, errParse := strconv.ParseFloat(strings.TrimSuffix(s, "d"), 64)
		if errParse != nil {
			return 0, errors.New("invalid days value")
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}
	return time.ParseDuration(s)
}
