package config

import (
	"fmt"
	"strings"
	"time"
)

// durationField parses an optional Go duration string from a config
// section. Empty or zero means "not set" and yields def. Negatives are
// rejected: no interval, timeout or delay in this engine makes sense
// below zero.
func durationField(name, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration: %w", name, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: %q is negative", name, raw)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
