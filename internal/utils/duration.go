package utils

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrBadDuration reports a duration string that is not <number><s|m|h|d>.
var ErrBadDuration = errors.New("invalid duration: use a number followed by s, m, h or d")

// ParseDuration parses the short moderation duration format ("30s", "10m",
// "2h", "1d"). The value must be positive.
func ParseDuration(value string) (time.Duration, error) {
	if len(value) < 2 {
		return 0, ErrBadDuration
	}

	unit := strings.ToLower(value[len(value)-1:])
	amount, err := strconv.Atoi(value[:len(value)-1])
	if err != nil || amount <= 0 {
		return 0, ErrBadDuration
	}

	switch unit {
	case "s":
		return time.Duration(amount) * time.Second, nil
	case "m":
		return time.Duration(amount) * time.Minute, nil
	case "h":
		return time.Duration(amount) * time.Hour, nil
	case "d":
		return time.Duration(amount) * 24 * time.Hour, nil
	default:
		return 0, ErrBadDuration
	}
}
