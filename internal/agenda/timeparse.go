package agenda

import (
	"errors"
	"strings"
	"time"

	appLog "inkcal/internal/log"
)

// parseStart parses a basic ICS date/date-time value into the display
// location. Supported forms:
//   - 20250101T090000Z  (UTC)
//   - 20250101T090000   (floating, or in TZID when the parameter names a known zone)
//   - 20250101          (all-day, midnight in the display location)
func parseStart(raw string, params map[string]string, display *time.Location) (time.Time, bool, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	if strings.HasSuffix(v, "Z") {
		const layout = "20060102T150405Z"
		t, err := time.Parse(layout, v)
		return t.In(display), false, err
	}

	if strings.Contains(v, "T") {
		loc := display
		if tz := params["TZID"]; tz != "" {
			if l, err := time.LoadLocation(tz); err == nil {
				loc = l
			} else {
				appLog.Debug("agenda: unknown TZID, using display zone", "tzid", tz)
			}
		}
		const layout = "20060102T150405"
		t, err := time.ParseInLocation(layout, v, loc)
		return t.In(display), false, err
	}

	const layoutDate = "20060102"
	t, err := time.ParseInLocation(layoutDate, v, display)
	return t, true, err
}
