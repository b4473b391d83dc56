// Package pipeline runs the per-publisher reconstruction and hands the
// resulting daily grid to the sinks.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"robots_timeline/internal/interpret"
	"robots_timeline/internal/materialize"
	"robots_timeline/internal/model"
	"robots_timeline/internal/storage"
)

// Loader returns the ordered event stream of one publisher.
type Loader interface {
	Load(publisher string) []model.Event
}

// Observer receives per-run diagnostics. It must be safe for concurrent use.
type Observer interface {
	ObserveReplay(s interpret.Stats)
	RecordsWritten(n int)
	PublisherDone(status string)
}

// Publisher statuses reported to the Observer.
const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
)

// Summary describes a finished run.
type Summary struct {
	Publishers int
	Completed  int
	Skipped    int
	Records    int
	Ambiguous  int
}

// Runner reconstructs and emits the grid for a list of publishers.
type Runner struct {
	loader  Loader
	bots    []model.Bot
	sinks   []storage.Sink
	workers int
	obs     Observer
	log     *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithWorkers sets the number of publishers reconstructed in parallel.
// -1 uses all CPUs; values below 1 otherwise mean 1.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		switch {
		case n == -1:
			r.workers = runtime.NumCPU()
		case n < 1:
			r.workers = 1
		default:
			r.workers = n
		}
	}
}

// WithObserver attaches a diagnostics observer.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.obs = o }
}

// New creates a Runner over the tracked bots that writes to sinks.
func New(loader Loader, bots []model.Bot, sinks []storage.Sink, log *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		loader:  loader,
		bots:    bots,
		sinks:   sinks,
		workers: 1,
		obs:     nopObserver{},
		log:     log,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

type result struct {
	records []model.DailyRecord
	blocked []string
	stats   interpret.Stats
	skipped bool
}

// Run reconstructs every publisher over w. Publishers are processed in
// parallel but written in input order, so output is deterministic.
//
// Cancelling ctx abandons the publishers not yet written; those already
// written are complete. Run returns ctx.Err() in that case. A sink failure
// stops the run and is returned.
func (r *Runner) Run(ctx context.Context, publishers []string, w materialize.Window) (Summary, error) {
	sum := Summary{Publishers: len(publishers)}
	botNames := make([]string, len(r.bots))
	for i, b := range r.bots {
		botNames[i] = b.Name
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := make([]chan result, len(publishers))
	for i := range slots {
		slots[i] = make(chan result, 1)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		g.SetLimit(r.workers)
		for i, p := range publishers {
			g.Go(func() error {
				if runCtx.Err() != nil {
					slots[i] <- result{skipped: true}
					return nil
				}
				slots[i] <- r.process(p, botNames, w)
				return nil
			})
		}
		_ = g.Wait()
	}()
	defer func() { <-done }()

	// Writes are not tied to ctx so a publisher is never half written.
	writeCtx := context.WithoutCancel(ctx)

	for i, p := range publishers {
		res := <-slots[i]
		if res.skipped || ctx.Err() != nil {
			sum.Skipped++
			r.obs.PublisherDone(StatusSkipped)
			continue
		}

		r.obs.ObserveReplay(res.stats)
		sum.Ambiguous += res.stats.Ambiguous

		for _, s := range r.sinks {
			if err := s.WriteRecords(writeCtx, res.records); err != nil {
				cancel()
				return sum, fmt.Errorf("write %s records for %s: %w", s.Name(), p, err)
			}
		}
		sum.Completed++
		sum.Records += len(res.records)
		r.obs.RecordsWritten(len(res.records))
		r.obs.PublisherDone(StatusCompleted)

		r.log.Info("publisher done",
			"publisher", p,
			"events", res.stats.Events,
			"records", len(res.records),
			"ambiguous", res.stats.Ambiguous,
			"blocked", res.blocked,
		)
	}

	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}

func (r *Runner) process(publisher string, botNames []string, w materialize.Window) result {
	events := r.loader.Load(publisher)
	replayed := interpret.Interpret(publisher, events, botNames)

	if replayed.Stats.Untimestamped > 0 {
		r.log.Warn("events without timestamp ignored",
			"publisher", publisher, "count", replayed.Stats.Untimestamped)
	}
	r.log.Debug("publisher replayed",
		"publisher", publisher,
		"events", replayed.Stats.Events,
		"bots_with_transitions", len(replayed.Timeline),
	)

	return result{
		records: materialize.Records(publisher, replayed.Timeline, r.bots, w),
		blocked: materialize.BlockedAt(replayed.Timeline, r.bots, w.End),
		stats:   replayed.Stats,
	}
}

type nopObserver struct{}

func (nopObserver) ObserveReplay(interpret.Stats) {}
func (nopObserver) RecordsWritten(int)            {}
func (nopObserver) PublisherDone(string)          {}
