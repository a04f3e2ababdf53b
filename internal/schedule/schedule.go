// Package schedule triggers the periodic refresh from a cron spec.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "elvcal/internal/log"
)

// Scheduler runs one job on a cron spec. A firing that arrives while the
// previous run is still going is skipped.
type Scheduler struct {
	cron *cron.Cron
	id   cron.EntryID
	spec string
}

// New parses spec (five-field cron or a descriptor such as @hourly or
// "@every 15m") and registers job, evaluated in loc.
func New(spec string, loc *time.Location, job func()) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("schedule: invalid refresh spec %q: %w", spec, err)
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	id, err := c.AddFunc(spec, job)
	if err != nil {
		return nil, fmt.Errorf("schedule: add job: %w", err)
	}
	return &Scheduler{cron: c, id: id, spec: spec}, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	appLog.Info("refresh schedule started", "spec", s.spec, "next", s.Next())
}

// Stop halts future firings and returns a context that is done once any
// running job has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Next reports the next firing time, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.id).Next
}

func (s *Scheduler) Spec() string { return s.spec }

// cronLogger routes cron's internal logging through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
