// Package interpret replays a publisher's ordered robots.txt events into
// sparse per-bot blocking transitions.
package interpret

import (
	"strings"
	"time"

	"robots_timeline/internal/model"
)

// Cause records which rule produced a transition.
type Cause string

// Transition causes.
const (
	CauseBaseline     Cause = "baseline"
	CauseFullSite     Cause = "full_site_disallow"
	CauseDisallow     Cause = "disallow"
	CauseCleared      Cause = "cleared"
	CauseAgentAdded   Cause = "agent_added"
	CauseAgentRemoved Cause = "agent_removed"
)

// Transition is a derived fact: from At on, the bot is Blocked.
type Transition struct {
	At      time.Time
	Blocked bool
	Cause   Cause
}

// Timeline maps a bot name to its transitions in non-decreasing At order.
// A bot without transitions is absent from the map.
type Timeline map[string][]Transition

// Stats counts what the interpreter saw while replaying one stream.
type Stats struct {
	Events        int
	Untimestamped int
	// Ambiguous counts allow-only rule changes, which produce no transition.
	Ambiguous   int
	Transitions map[Cause]int
}

// Result is the outcome of replaying one publisher.
type Result struct {
	Publisher string
	Timeline  Timeline
	Stats     Stats
}

// RootPattern returns the disallow path that blocks the whole site of a
// publisher, as resolved by the snapshot differ.
func RootPattern(publisher string) string {
	host := strings.TrimSuffix(publisher, "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host + "/"
	}
	return "https://" + host + "/"
}

// Interpret replays events, which must be sorted ascending by timestamp,
// and derives transitions for each tracked bot.
func Interpret(publisher string, events []model.Event, bots []string) *Result {
	tracked := make(map[string]struct{}, len(bots))
	for _, b := range bots {
		tracked[b] = struct{}{}
	}

	r := &replay{
		root:    RootPattern(publisher),
		tracked: tracked,
		res: &Result{
			Publisher: publisher,
			Timeline:  make(Timeline),
			Stats:     Stats{Transitions: make(map[Cause]int)},
		},
	}
	for i := range events {
		r.apply(&events[i])
	}
	return r.res
}

type replay struct {
	root    string
	tracked map[string]struct{}
	res     *Result
}

func (r *replay) apply(ev *model.Event) {
	r.res.Stats.Events++

	at, ok := ev.Instant()
	if !ok {
		r.res.Stats.Untimestamped++
		return
	}

	if ev.Has(model.KindInitialContent) {
		r.baseline(at, ev.InitialContent)
	}
	if ev.Has(model.KindRuleChanges) {
		r.ruleChanges(at, ev.RuleChanges)
	}
	if ev.Has(model.KindAgentsAdded) {
		r.agentsAdded(at, ev.AgentsAdded, ev.RuleChanges)
	}
	if ev.Has(model.KindAgentsRemoved) {
		for _, agent := range ev.AgentsRemoved {
			if r.isTracked(agent) {
				r.emit(agent, at, false, CauseAgentRemoved)
			}
		}
	}
}

func (r *replay) baseline(at time.Time, entries []model.RuleEntry) {
	// A bot listed more than once is blocked if any of its groups disallows.
	seen := make(map[string]bool)
	var order []string
	for _, e := range entries {
		if !r.isTracked(e.UserAgent) {
			continue
		}
		if _, ok := seen[e.UserAgent]; !ok {
			order = append(order, e.UserAgent)
		}
		seen[e.UserAgent] = seen[e.UserAgent] || e.Disallow.Truthy
	}
	for _, agent := range order {
		r.emit(agent, at, seen[agent], CauseBaseline)
	}
}

func (r *replay) ruleChanges(at time.Time, changes []model.RuleEntry) {
	for _, c := range changes {
		if !r.isTracked(c.UserAgent) {
			continue
		}
		cause, blocked := r.classify(c)
		switch {
		case blocked:
			r.emit(c.UserAgent, at, true, cause)
		case !c.Allow.Truthy:
			r.emit(c.UserAgent, at, false, CauseCleared)
		default:
			r.res.Stats.Ambiguous++
		}
	}
}

// agentsAdded blocks a newly listed bot only when a sibling rule change in
// the same event corroborates a disallow.
func (r *replay) agentsAdded(at time.Time, agents []string, changes []model.RuleEntry) {
	for _, agent := range agents {
		if !r.isTracked(agent) {
			continue
		}
		for _, c := range changes {
			if c.UserAgent != agent {
				continue
			}
			if _, blocked := r.classify(c); blocked {
				r.emit(agent, at, true, CauseAgentAdded)
			}
		}
	}
}

// classify reports whether a rule change expresses a disallow, and which
// rule matched. The full-site pattern is checked first.
func (r *replay) classify(c model.RuleEntry) (Cause, bool) {
	if c.Disallow.AddedExactly(r.root) {
		return CauseFullSite, true
	}
	if c.Disallow.Truthy {
		return CauseDisallow, true
	}
	return "", false
}

// emit records a transition. A second signal at the same instant replaces
// the previous one.
func (r *replay) emit(agent string, at time.Time, blocked bool, cause Cause) {
	r.res.Stats.Transitions[cause]++

	ts := r.res.Timeline[agent]
	if n := len(ts); n > 0 && ts[n-1].At.Equal(at) {
		ts[n-1] = Transition{At: at, Blocked: blocked, Cause: cause}
		return
	}
	r.res.Timeline[agent] = append(ts, Transition{At: at, Blocked: blocked, Cause: cause})
}

func (r *replay) isTracked(agent string) bool {
	_, ok := r.tracked[agent]
	return ok
}

// MentionedBots returns the bots, in input order, that appear in a baseline
// or agents_added list of any of the given streams.
func MentionedBots(streams [][]model.Event, bots []string) []string {
	mentioned := make(map[string]bool)
	for _, events := range streams {
		for i := range events {
			ev := &events[i]
			for _, e := range ev.InitialContent {
				mentioned[e.UserAgent] = true
			}
			for _, a := range ev.AgentsAdded {
				mentioned[a] = true
			}
		}
	}

	var out []string
	for _, b := range bots {
		if mentioned[b] {
			out = append(out, b)
		}
	}
	return out
}
