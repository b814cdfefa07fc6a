package datetime

import (
	"fmt"
	"strings"
	"time"
)

// LoadLocation resolves a configured timezone name. Empty and "local" mean
// the host's local zone.
func LoadLocation(name string) (*time.Location, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || strings.EqualFold(trimmed, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", trimmed, err)
	}
	return loc, nil
}
