// Package materialize forward-fills sparse blocking transitions into one
// state per calendar day.
package materialize

import (
	"fmt"
	"time"

	"robots_timeline/internal/interpret"
	"robots_timeline/internal/model"
)

// Window is a closed range of whole UTC days.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow truncates start and end to days and validates their order.
func NewWindow(start, end time.Time) (Window, error) {
	w := Window{Start: day(start), End: day(end)}
	if w.End.Before(w.Start) {
		return Window{}, fmt.Errorf("window end %s before start %s",
			w.End.Format(model.DateLayout), w.Start.Format(model.DateLayout))
	}
	return w, nil
}

// Days returns the number of days in the window, counting both ends.
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

// States returns one blocked flag per day of w. The state of a day is the
// value of the last transition whose date is on or before that day, or
// false when there is none. transitions must be sorted by At.
func States(transitions []interpret.Transition, w Window) []bool {
	out := make([]bool, w.Days())

	state := false
	next := 0
	for i := range out {
		d := w.Start.AddDate(0, 0, i)
		for next < len(transitions) && !day(transitions[next].At).After(d) {
			state = transitions[next].Blocked
			next++
		}
		out[i] = state
	}
	return out
}

// Records expands a publisher's timeline into daily records, ordered by day
// and then by the order of bots.
func Records(publisher string, tl interpret.Timeline, bots []model.Bot, w Window) []model.DailyRecord {
	states := make([][]bool, len(bots))
	for i, b := range bots {
		states[i] = States(tl[b.Name], w)
	}

	days := w.Days()
	out := make([]model.DailyRecord, 0, days*len(bots))
	for d := 0; d < days; d++ {
		date := w.Start.AddDate(0, 0, d)
		for i, b := range bots {
			category := b.Category
			if category == "" {
				category = model.UnknownCategory
			}
			out = append(out, model.DailyRecord{
				Date:        date,
				Publisher:   publisher,
				BotName:     b.Name,
				BotCategory: category,
				IsBlocked:   states[i][d],
			})
		}
	}
	return out
}

// BlockedAt returns the bots blocked as of the end of the given day.
func BlockedAt(tl interpret.Timeline, bots []model.Bot, at time.Time) []string {
	w := Window{Start: day(at), End: day(at)}
	var out []string
	for _, b := range bots {
		if States(tl[b.Name], w)[0] {
			out = append(out, b.Name)
		}
	}
	return out
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
