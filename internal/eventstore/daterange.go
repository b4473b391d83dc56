package eventstore

import (
	"errors"
	"time"

	"robots_timeline/internal/model"
)

// ErrNoTimestamps is returned by DateRange when no event carries a usable
// timestamp. The returned bounds are both "now" and must not be used as a
// real window.
var ErrNoTimestamps = errors.New("no timestamped events found")

// Loader returns the ordered event stream of one publisher.
type Loader interface {
	Load(publisher string) []model.Event
}

// DateRange scans every publisher's stream and returns the global minimum
// and maximum event instants, truncated to whole UTC days.
func DateRange(l Loader, publishers []string, now func() time.Time) (time.Time, time.Time, error) {
	var minT, maxT time.Time
	found := false

	for _, p := range publishers {
		for _, ev := range l.Load(p) {
			t, ok := ev.Instant()
			if !ok {
				continue
			}
			if !found || t.Before(minT) {
				minT = t
			}
			if !found || t.After(maxT) {
				maxT = t
			}
			found = true
		}
	}

	if !found {
		n := Day(now())
		return n, n, ErrNoTimestamps
	}
	return Day(minT), Day(maxT), nil
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
