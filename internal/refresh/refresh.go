// Package refresh runs one fetch-merge-persist cycle and serves the last
// persisted snapshot.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"elvcal/internal/clock"
	"elvcal/internal/elvanto"
	"elvcal/internal/links"
	appLog "elvcal/internal/log"
	"elvcal/internal/metrics"
	"elvcal/internal/model"
	"elvcal/internal/store"
	"elvcal/internal/timeline"
)

// Fetcher is the upstream surface the refresher needs. *elvanto.Client
// implements it.
type Fetcher interface {
	FetchEvents(ctx context.Context, apiKey string, win model.Window) ([]model.RawEvent, model.EndpointDiagnostics, error)
	FetchServices(ctx context.Context, apiKey string, win model.Window) ([]model.RawService, model.EndpointDiagnostics, error)
}

// Result is what Run reports. Ran is false when the run was a no-op.
type Result struct {
	Snapshot model.Snapshot
	Ran      bool
}

// Refresher owns the persisted snapshot.
type Refresher struct {
	store   store.Store
	fetcher Fetcher
	clock   clock.Clock

	linkText func() string
	months   int
	newID    func() string

	// mu serializes runs within the process.
	mu sync.Mutex
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithLinkText supplies the "label|url" table text, read at the start of
// every run so config edits take effect without a restart.
func WithLinkText(fn func() string) Option {
	return func(r *Refresher) {
		if fn != nil {
			r.linkText = fn
		}
	}
}

// WithWindowMonths sets how many months ahead of today are requested.
func WithWindowMonths(n int) Option {
	return func(r *Refresher) {
		if n > 0 {
			r.months = n
		}
	}
}

// WithRunID overrides the run id generator.
func WithRunID(fn func() string) Option {
	return func(r *Refresher) {
		if fn != nil {
			r.newID = fn
		}
	}
}

func New(st store.Store, f Fetcher, c clock.Clock, opts ...Option) *Refresher {
	r := &Refresher{
		store:    st,
		fetcher:  f,
		clock:    c,
		linkText: func() string { return "" },
		months:   1,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one refresh. With an empty apiKey nothing is fetched or
// written and the prior snapshot is returned. Run never fails: fetch and
// store errors end up in the snapshot's diagnostics and status.
//
// Cancelling ctx does not abort a run; only the client timeout bounds it.
// A dropped request or a shutdown therefore cannot replace a good snapshot
// with an empty one.
func (r *Refresher) Run(ctx context.Context, apiKey string) Result {
	ctx = context.WithoutCancel(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	if apiKey == "" {
		appLog.Info("refresh skipped: no API key configured")
		snap, _ := r.Snapshot(ctx)
		return Result{Snapshot: snap}
	}

	started := time.Now()
	now := r.clock.Now()
	win := clock.Window(r.clock, r.months)
	runID := r.newID()
	appLog.Info("refresh start", "run_id", runID, "start", clock.DateString(win.Start), "end", clock.DateString(win.End))

	table := links.Parse(r.linkText())
	for _, a := range table.Ambiguities() {
		appLog.Info("service link labels overlap; first configured wins", "label", a.Label, "shadowed", a.Shadowed)
	}

	var (
		events          []model.RawEvent
		services        []model.RawService
		evDiag, svcDiag model.EndpointDiagnostics
		evErr, svcErr   error
		g               errgroup.Group
	)
	// Neither fetch cancels the other, so the goroutines never return an error.
	g.Go(func() error {
		events, evDiag, evErr = r.fetcher.FetchEvents(ctx, apiKey, win)
		metrics.ObserveFetch("events", len(events), errorKind(evErr))
		return nil
	})
	g.Go(func() error {
		services, svcDiag, svcErr = r.fetcher.FetchServices(ctx, apiKey, win)
		metrics.ObserveFetch("services", len(services), errorKind(svcErr))
		return nil
	})
	_ = g.Wait()

	diag := model.Diagnostics{
		RunID:     runID,
		Timestamp: now.UTC(),
		Window:    win,
		Endpoints: model.Endpoints{Events: evDiag, Services: svcDiag},
	}
	for _, err := range []error{evErr, svcErr} {
		if err != nil {
			diag.Errors = append(diag.Errors, err.Error())
		}
	}

	items, stats := timeline.Merge(events, services, table)
	stats.SkippedRecords += evDiag.Invalid + svcDiag.Invalid
	diag.Merge = stats

	snap := model.Snapshot{
		Items:       items,
		Diagnostics: diag,
		RefreshedAt: now.UTC(),
		Status:      model.StatusSuccess,
		Partial:     (evErr == nil) != (svcErr == nil),
	}
	if evErr != nil && svcErr != nil {
		snap.Status = model.StatusFailure
	}

	if err := store.PutJSON(ctx, r.store, store.KeySnapshot, snap); err != nil {
		snap.Status = model.StatusFailure
		snap.Diagnostics.Errors = append(snap.Diagnostics.Errors, "persist snapshot: "+err.Error())
	} else {
		// Raw arrays are kept for inspection; failures are only logged.
		if events == nil {
			events = []model.RawEvent{}
		}
		if services == nil {
			services = []model.RawService{}
		}
		_ = store.PutJSON(ctx, r.store, store.KeyRawEvents, events)
		_ = store.PutJSON(ctx, r.store, store.KeyRawServices, services)
	}

	metrics.ObserveRefresh(string(snap.Status), time.Since(started), len(items))
	appLog.Info("refresh done",
		"run_id", runID,
		"status", snap.Status,
		"partial", snap.Partial,
		"items", len(items),
		"services", stats.ServicesConverted,
		"events", stats.EventsAdded,
		"duplicates", len(stats.DuplicatesSkipped),
		"duration", time.Since(started),
	)
	return Result{Snapshot: snap, Ran: true}
}

// Snapshot returns the last persisted snapshot, or the zero snapshot when
// none has been written.
func (r *Refresher) Snapshot(ctx context.Context) (model.Snapshot, error) {
	var snap model.Snapshot
	if _, err := store.GetJSON(ctx, r.store, store.KeySnapshot, &snap); err != nil {
		appLog.Error("read snapshot failed", err)
		return model.Snapshot{}, err
	}
	return snap, nil
}

// Events returns the persisted items, never nil.
func (r *Refresher) Events(ctx context.Context) ([]model.Item, error) {
	snap, err := r.Snapshot(ctx)
	if err != nil {
		return []model.Item{}, err
	}
	if snap.Items == nil {
		return []model.Item{}, nil
	}
	return snap.Items, nil
}

func errorKind(err error) string {
	if err == nil {
		return ""
	}
	var ferr *elvanto.FetchError
	if errors.As(err, &ferr) {
		return string(ferr.Kind)
	}
	return "unknown"
}
