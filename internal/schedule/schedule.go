// Package schedule runs the report cycle on a cron schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/steveyegge/pulse/internal/snapshot"
)

// ErrBusy is returned by RunOnce when a cycle is already running.
var ErrBusy = errors.New("a report cycle is already running")

// DefaultTimeout bounds one cycle.
const DefaultTimeout = 30 * time.Minute

// Job is one report cycle.
type Job func(ctx context.Context) error

// Options configures a Scheduler.
type Options struct {
	// Spec is a five-field cron expression or a descriptor such as @daily.
	Spec string
	// Timezone is an IANA name. Empty means local time.
	Timezone string
	Timeout  time.Duration

	// SnapshotPath and MaxAge enable skipping a tick while the artifact
	// is complete and younger than MaxAge.
	SnapshotPath string
	MaxAge       time.Duration

	Log *slog.Logger
	Now func() time.Time
}

// Scheduler triggers Job on a schedule. At most one cycle runs at a time.
type Scheduler struct {
	opts    Options
	job     Job
	log     *slog.Logger
	c       *cron.Cron
	entry   cron.EntryID
	running atomic.Bool

	// ctx parents scheduled cycles; Stop cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates the schedule and registers job.
func New(opts Options, job Job) (*Scheduler, error) {
	if opts.Log == nil {
		opts.Log = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	loc := time.Local
	spec := opts.Spec
	if opts.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(opts.Timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", opts.Timezone, err)
		}
		// the parser pins schedules to time.Local unless told otherwise
		spec = "CRON_TZ=" + opts.Timezone + " " + spec
	}
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", opts.Spec, err)
	}

	cronLog := cron.PrintfLogger(slog.NewLogLogger(opts.Log.Handler(), slog.LevelWarn))
	s := &Scheduler{opts: opts, job: job, log: opts.Log}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.c = cron.New(
		cron.WithLocation(loc),
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cronLog)),
	)
	id, err := s.c.AddFunc(spec, s.tick)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", opts.Spec, err)
	}
	s.entry = id
	return s, nil
}

// Start begins running the schedule in the background. Scheduled cycles
// run under ctx and are cancelled when it is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c.Start()
	s.log.Info("report schedule started", "spec", s.opts.Spec, "next", s.Next())
}

// Stop halts the schedule and cancels a running cycle. The returned
// context is done when that cycle has returned.
func (s *Scheduler) Stop() context.Context {
	s.cancel()
	return s.c.Stop()
}

// Next is the next scheduled run, or zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.c.Entry(s.entry).Next
}

// NextAfter returns the first scheduled time after t.
func (s *Scheduler) NextAfter(t time.Time) time.Time {
	return s.c.Entry(s.entry).Schedule.Next(t)
}

func (s *Scheduler) tick() {
	if _, err := s.RunOnce(s.ctx, false); err != nil && !errors.Is(err, ErrBusy) {
		s.log.Error("scheduled report cycle failed", "error", err)
	}
}

// RunOnce runs one cycle now. Unless force, a fresh complete snapshot
// makes it a no-op; ran reports whether the job was invoked.
func (s *Scheduler) RunOnce(ctx context.Context, force bool) (ran bool, err error) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Info("skipping report cycle, previous still running")
		return false, ErrBusy
	}
	defer s.running.Store(false)

	if !force && s.opts.MaxAge > 0 && s.opts.SnapshotPath != "" {
		rep, err := snapshot.Freshness(s.opts.SnapshotPath, s.opts.MaxAge, s.opts.Now())
		if err != nil {
			s.log.Warn("freshness check failed, running anyway", "error", err)
		} else if rep.Fresh {
			s.log.Info("skipping report cycle, snapshot is fresh", "age", rep.Age.Round(time.Second))
			return false, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	start := s.opts.Now()
	s.log.Info("report cycle starting")
	if err := s.job(ctx); err != nil {
		return true, err
	}
	s.log.Info("report cycle complete", "elapsed", s.opts.Now().Sub(start).Round(time.Millisecond))
	return true, nil
}
