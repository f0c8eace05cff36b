// Package reaper runs the periodic cleanup pass that deletes expired
// widget locks and retires idle editing sessions. Liveness depends on
// it: a crashed client's locks only come back because the reaper sweeps
// them.
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pulseboard/collab/v1/collab"
)

const (
	// DefaultInterval is the sweep period.
	DefaultInterval = 30 * time.Second
	// MinInterval is the floor for SetInterval; sweeping faster than this
	// only burns database round trips.
	MinInterval = 10 * time.Second
)

// Cleaner is the single cleanup pass the reaper drives. Satisfied by
// *collab.Service.
type Cleaner interface {
	Cleanup(ctx context.Context) (collab.CleanupStats, error)
}

// Status is a snapshot of the reaper's state.
type Status struct {
	Running   bool                `json:"running"`
	Interval  time.Duration       `json:"interval"`
	Cycles    uint64              `json:"cycles"`
	LastRun   time.Time           `json:"last_run,omitempty"`
	LastStats collab.CleanupStats `json:"last_stats"`
	LastError string              `json:"last_error,omitempty"`
}

// Reaper periodically invokes a Cleaner. One cycle failing is logged and
// does not stop the loop; quiet cycles that remove nothing are silent.
type Reaper struct {
	cleaner Cleaner

	mu        sync.Mutex
	interval  time.Duration
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	cycles    uint64
	lastRun   time.Time
	lastStats collab.CleanupStats
	lastErr   error
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithInterval sets the sweep period, clamped to MinInterval.
func WithInterval(d time.Duration) Option {
	return func(r *Reaper) {
		r.interval = clamp(d)
	}
}

func clamp(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	return d
}

// New creates a Reaper driving the given cleaner. Call Start to begin
// sweeping.
func New(cleaner Cleaner, opts ...Option) *Reaper {
	r := &Reaper{cleaner: cleaner, interval: DefaultInterval}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the sweep loop. Starting a running reaper is a no-op.
func (r *Reaper) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop halts the loop and waits for an in-flight cycle to finish.
// Stopping a stopped reaper is a no-op.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()
	cancel()
	r.wg.Wait()
}

// SetInterval changes the sweep period, clamped to MinInterval. Takes
// effect from the next cycle.
func (r *Reaper) SetInterval(d time.Duration) {
	r.mu.Lock()
	r.interval = clamp(d)
	r.mu.Unlock()
}

// RunNow performs one cleanup pass immediately, outside the schedule.
func (r *Reaper) RunNow(ctx context.Context) (collab.CleanupStats, error) {
	stats, err := r.cleaner.Cleanup(ctx)
	r.mu.Lock()
	r.cycles++
	r.lastRun = time.Now()
	r.lastStats = stats
	r.lastErr = err
	r.mu.Unlock()
	return stats, err
}

// Status reports the reaper's current state.
func (r *Reaper) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{
		Running:   r.running,
		Interval:  r.interval,
		Cycles:    r.cycles,
		LastRun:   r.lastRun,
		LastStats: r.lastStats,
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	return st
}

func (r *Reaper) loop(ctx context.Context) {
	defer r.wg.Done()
	timer := time.NewTimer(r.currentInterval())
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			stats, err := r.RunNow(ctx)
			if err != nil {
				slog.Error("reaper: cleanup cycle failed", "error", err)
			} else if stats.ExpiredLocks > 0 || stats.StaleSessions > 0 {
				slog.Info("reaper: cleanup cycle",
					"expired_locks", stats.ExpiredLocks,
					"stale_sessions", stats.StaleSessions)
			}
			timer.Reset(r.currentInterval())
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reaper) currentInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}
