// Package retention periodically removes inbox entries older than a
// configured age.
package retention

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"copybot/internal/eventbus"
	logx "copybot/pkg/logx"
)

const EventPruned = "retention.pruned"

const (
	DefaultSchedule = "@hourly"
	DefaultMaxAge   = 7 * 24 * time.Hour
)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Config struct {
	Enabled  bool
	Schedule string
	MaxAge   time.Duration
}

// ParseSchedule validates a cron spec or descriptor such as "@hourly".
func ParseSchedule(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("retention.schedule: invalid %q: %w", spec, err)
	}
	return nil
}

// Pruner is the store capability the sweep needs.
type Pruner interface {
	PruneSignals(ctx context.Context, before time.Time) (int64, error)
}

type Result struct {
	Deleted int64
	Before  time.Time
	Took    time.Duration
}

type Service struct {
	store Pruner
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	mu   sync.Mutex
	cfg  Config
	c    *cron.Cron
	base context.Context
}

func New(cfg Config, store Pruner, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{store: store, log: log, bus: bus, now: time.Now, cfg: withDefaults(cfg)}
}

func withDefaults(cfg Config) Config {
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	return cfg
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = ctx
	if s.c != nil || !s.cfg.Enabled {
		return
	}
	s.startLocked()
}

func (s *Service) startLocked() {
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.cfg.Schedule, s.tick); err != nil {
		s.log.Error("retention schedule rejected", logx.String("schedule", s.cfg.Schedule), logx.Err(err))
		return
	}
	c.Start()
	s.c = c
	s.log.Info("retention started", logx.String("schedule", s.cfg.Schedule), logx.Duration("max_age", s.cfg.MaxAge))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("retention stopped")
}

// Apply swaps the config, restarting the schedule when it changed.
func (s *Service) Apply(cfg Config) {
	cfg = withDefaults(cfg)
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	c := s.c
	base := s.base
	s.mu.Unlock()

	switch {
	case c == nil && cfg.Enabled && base != nil:
		s.Start(base)
	case c != nil && !cfg.Enabled:
		s.Stop(context.Background())
	case c != nil && prev.Schedule != cfg.Schedule:
		s.Stop(context.Background())
		s.Start(base)
	}
}

func (s *Service) tick() {
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, time.Minute)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Warn("retention sweep failed", logx.Err(err))
	}
}

// RunOnce deletes entries older than MaxAge.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	s.mu.Lock()
	maxAge := s.cfg.MaxAge
	s.mu.Unlock()

	start := s.now()
	res := Result{Before: start.Add(-maxAge)}
	n, err := s.store.PruneSignals(ctx, res.Before)
	if err != nil {
		return res, err
	}
	res.Deleted = n
	res.Took = time.Since(start)
	if n > 0 {
		s.log.Info("inbox pruned", logx.Int64("deleted", n), logx.Time("before", res.Before))
	} else {
		s.log.Debug("inbox prune found nothing", logx.Time("before", res.Before))
	}
	s.bus.Publish(eventbus.Event{Type: EventPruned, Time: start, Data: res})
	return res, nil
}

// cronLogger routes cron's key/value logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
