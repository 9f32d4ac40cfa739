package conditions

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var clockLayouts = []string{"15:04", "15:04:05"}

// timeWindow is either an absolute [start, end] interval or a daily
// time-of-day window evaluated in a location. Daily windows whose start is
// after their end wrap past midnight (22:00-06:00).
type timeWindow struct {
	absolute   bool
	start, end time.Time
	startClock time.Duration
	endClock   time.Duration
	location   *time.Location
}

func parseTimeWindow(value any) (*timeWindow, error) {
	bounds, ok := value.(map[string]any)
	if !ok {
		return nil, errors.New(`time_range expects an object with "start" and "end"`)
	}

	start, _ := bounds["start"].(string)
	end, _ := bounds["end"].(string)

	if start == "" || end == "" {
		return nil, errors.New(`time_range requires "start" and "end"`)
	}

	location := time.UTC

	if tz, _ := bounds["timezone"].(string); tz != "" {
		loaded, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("time_range timezone %q: %w", tz, err)
		}

		location = loaded
	}

	startTime, startErr := time.Parse(time.RFC3339, start)
	endTime, endErr := time.Parse(time.RFC3339, end)

	if startErr == nil && endErr == nil {
		if endTime.Before(startTime) {
			return nil, errors.New("time_range end is before start")
		}

		return &timeWindow{absolute: true, start: startTime, end: endTime}, nil
	}

	startClock, err := parseClock(start)
	if err != nil {
		return nil, err
	}

	endClock, err := parseClock(end)
	if err != nil {
		return nil, err
	}

	return &timeWindow{startClock: startClock, endClock: endClock, location: location}, nil
}

func parseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	for _, layout := range clockLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			return time.Duration(parsed.Hour())*time.Hour +
				time.Duration(parsed.Minute())*time.Minute +
				time.Duration(parsed.Second())*time.Second, nil
		}
	}

	return 0, fmt.Errorf("time_range value %q is neither HH:MM nor RFC3339", s)
}

func (w *timeWindow) contains(ts time.Time) bool {
	if ts.IsZero() {
		return false
	}

	if w.absolute {
		return !ts.Before(w.start) && !ts.After(w.end)
	}

	local := ts.In(w.location)
	clock := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second

	if w.startClock <= w.endClock {
		return clock >= w.startClock && clock <= w.endClock
	}

	return clock >= w.startClock || clock <= w.endClock
}
