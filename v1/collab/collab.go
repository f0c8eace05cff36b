// Package collab implements lease-based widget locking for concurrent
// dashboard editing.
//
// A lock is a short-lived lease on one widget, renewed by client
// heartbeats and reclaimed by the reaper when the holder disappears. The
// durable store is authoritative for every grant decision; the cache
// layer only short-circuits denials and absorbs status polling, and the
// engine stays correct with caching disabled entirely.
package collab

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pulseboard/collab/v1/audit"
	"github.com/pulseboard/collab/v1/cache"
	"github.com/pulseboard/collab/v1/presence"
	"github.com/pulseboard/collab/v1/store"
	"github.com/pulseboard/collab/v1/syncbus"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("github.com/pulseboard/collab/v1/collab")

// Lease bounds. Callers may ask for anything; the engine clamps.
const (
	MinLease = 30 * time.Second
	MaxLease = 5 * time.Minute
)

// Config holds the engine's tunables. The zero value selects defaults.
type Config struct {
	// LeaseDuration is the default lock lease, used when a caller passes
	// zero. Clamped to [MinLease, MaxLease]. Default 60s.
	LeaseDuration time.Duration
	// SessionTimeout is how long a session may stay idle before the
	// reaper deactivates it. Default 5m.
	SessionTimeout time.Duration
	// StatusTTL is the cache TTL for lock status views. Default 2s.
	StatusTTL time.Duration
	// PresenceTTL is the cache TTL for dashboard presence views. Default 3s.
	PresenceTTL time.Duration
	// LockTTLCap bounds the lock record's cache TTL so a crashed
	// instance's cache entry cannot mislead others for long. Default 30s.
	LockTTLCap time.Duration
}

func (c Config) withDefaults() Config {
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = time.Minute
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 5 * time.Minute
	}
	if c.StatusTTL <= 0 {
		c.StatusTTL = 2 * time.Second
	}
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = 3 * time.Second
	}
	if c.LockTTLCap <= 0 {
		c.LockTTLCap = 30 * time.Second
	}
	return c
}

// Service is the widget lock engine and session tracker. Construct one
// per process with New and release it with Close; there is no package
// singleton.
type Service struct {
	store *store.Store
	cfg   Config

	locks    cache.Cache[store.WidgetLock]
	statuses cache.Cache[LockStatus]
	views    cache.Cache[Presence]

	sink  audit.Sink
	bus   syncbus.Bus
	watch presence.WatchBus

	sf           singleflight.Group
	now          func() time.Time
	traceEnabled bool

	closed  atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closers []interface{ Close() }
}

// Option configures a Service.
type Option func(*Service)

// WithCaches installs the three cache instances (lock records, status
// views, presence views). Backends are wrapped so their failures degrade
// to misses. By default each is an in-process cache.
func WithCaches(locks cache.Cache[store.WidgetLock], statuses cache.Cache[LockStatus], views cache.Cache[Presence]) Option {
	return func(s *Service) {
		s.locks = cache.NewResilient(locks)
		s.statuses = cache.NewResilient(statuses)
		s.views = cache.NewResilient(views)
	}
}

// WithoutCache disables caching; every read goes to the store.
func WithoutCache() Option {
	return func(s *Service) {
		s.locks = cache.NewNop[store.WidgetLock]()
		s.statuses = cache.NewNop[LockStatus]()
		s.views = cache.NewNop[Presence]()
	}
}

// WithAudit installs the collaboration event sink. Recording is
// best-effort; sink failures are logged and swallowed.
func WithAudit(sink audit.Sink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

// WithBus installs the invalidation bus. The service publishes affected
// tags after each mutation and drops local cache entries when other
// instances publish.
func WithBus(bus syncbus.Bus) Option {
	return func(s *Service) {
		s.bus = bus
	}
}

// WithWatchBus installs the presence watch bus for pushing change
// notifications to connected clients.
func WithWatchBus(wb presence.WatchBus) Option {
	return func(s *Service) {
		s.watch = wb
	}
}

// WithTracing enables OpenTelemetry spans on engine operations.
func WithTracing() Option {
	return func(s *Service) {
		s.traceEnabled = true
	}
}

// WithClock overrides the engine's time source. Tests use this to step
// through lease expiry without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a Service on top of the given store.
func New(st *store.Store, cfg Config, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		store:  st,
		cfg:    cfg.withDefaults(),
		sink:   audit.Nop{},
		now:    time.Now,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locks == nil {
		locks := cache.NewInMemory[store.WidgetLock]()
		statuses := cache.NewInMemory[LockStatus]()
		views := cache.NewInMemory[Presence]()
		s.closers = append(s.closers, locks, statuses, views)
		s.locks = cache.NewResilient[store.WidgetLock](locks)
		s.statuses = cache.NewResilient[LockStatus](statuses)
		s.views = cache.NewResilient[Presence](views)
	}
	if s.bus != nil {
		ch, err := s.bus.Subscribe(ctx)
		if err != nil {
			slog.Warn("collab: bus subscribe failed, remote invalidations disabled", "error", err)
		} else {
			s.wg.Add(1)
			go s.listen(ctx, ch)
		}
	}
	return s
}

// listen drops local cache entries for tags published by other instances.
func (s *Service) listen(ctx context.Context, ch <-chan string) {
	defer s.wg.Done()
	for {
		select {
		case tag, ok := <-ch:
			if !ok {
				return
			}
			_ = s.locks.InvalidateTag(ctx, tag)
			_ = s.statuses.InvalidateTag(ctx, tag)
			_ = s.views.InvalidateTag(ctx, tag)
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the service's background work. Store and bus lifetimes
// belong to the caller.
func (s *Service) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.cancel()
	s.wg.Wait()
	for _, c := range s.closers {
		c.Close()
	}
}

// clampLease applies the default and the [MinLease, MaxLease] bounds.
func (s *Service) clampLease(d time.Duration) time.Duration {
	if d <= 0 {
		d = s.cfg.LeaseDuration
	}
	if d < MinLease {
		return MinLease
	}
	if d > MaxLease {
		return MaxLease
	}
	return d
}

// lockTTL caps the lock record's cache lifetime at LockTTLCap.
func (s *Service) lockTTL(lease time.Duration) time.Duration {
	if lease < s.cfg.LockTTLCap {
		return lease
	}
	return s.cfg.LockTTLCap
}

// publishTags broadcasts invalidated tags to the other instances.
func (s *Service) publishTags(ctx context.Context, tags ...string) {
	if s.bus == nil {
		return
	}
	for _, tag := range tags {
		if err := s.bus.Publish(ctx, tag); err != nil {
			slog.Warn("collab: invalidation publish failed", "tag", tag, "error", err)
		}
	}
}

// record appends an audit event, best-effort.
func (s *Service) record(ctx context.Context, event audit.Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	if err := s.sink.Record(ctx, event); err != nil {
		slog.Warn("collab: audit record failed", "event_type", event.Type, "error", err)
	}
}

// notify pushes a presence notification, best-effort.
func (s *Service) notify(ctx context.Context, kind string, dashboardID uuid.UUID, widgetID *uuid.UUID, req Requester) {
	if s.watch == nil {
		return
	}
	data, err := presence.Notification{
		DashboardID: dashboardID,
		WidgetID:    widgetID,
		UserID:      req.UserID,
		UserName:    req.UserName,
		Kind:        kind,
		At:          s.now(),
	}.Encode()
	if err != nil {
		return
	}
	if err := s.watch.Publish(ctx, dashboardID, data); err != nil {
		slog.Warn("collab: presence publish failed", "dashboard_id", dashboardID, "error", err)
	}
}
