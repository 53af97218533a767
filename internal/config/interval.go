package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultIdleInterval applies when no schedule interval is configured.
const DefaultIdleInterval = time.Hour

var intervalPattern = regexp.MustCompile(`^(\d+(?:\.\d*)?)([smh]?)$`)

// ParseInterval converts an idle tick setting to a duration.
//
//   - "" → [DefaultIdleInterval]
//   - "0", "off", "false", "disabled", "none", "no" → 0 (disabled)
//   - "300", "2.5" → seconds
//   - "45s", "15m", "2h" → that unit
//
// Anything else is an error. Matching is case-insensitive and ignores
// surrounding whitespace. A value that evaluates to zero disables ticks.
func ParseInterval(s string) (time.Duration, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "":
		return DefaultIdleInterval, nil
	case "0", "off", "false", "disabled", "none", "no":
		return 0, nil
	}

	m := intervalPattern.FindStringSubmatch(v)
	if m == nil {
		return 0, fmt.Errorf("invalid interval %q: want seconds or a number ending in s, m or h (e.g. 300, 15m, 2h, off)", s)
	}
	amount, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	switch m[2] {
	case "m":
		amount *= 60
	case "h":
		amount *= 3600
	}
	return seconds(amount), nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
