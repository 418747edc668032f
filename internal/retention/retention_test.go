package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"copybot/internal/eventbus"
	logx "copybot/pkg/logx"
)

type fakePruner struct {
	mu     sync.Mutex
	before []time.Time
	n      int64
	err    error
}

func (f *fakePruner) PruneSignals(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.before = append(f.before, before)
	return f.n, f.err
}

func TestRunOnceUsesMaxAge(t *testing.T) {
	t.Parallel()
	p := &fakePruner{n: 4}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(1)
	defer unsub()

	s := New(Config{Enabled: true, MaxAge: 24 * time.Hour}, p, logx.Nop(), bus)
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Deleted != 4 || !res.Before.Equal(now.Add(-24*time.Hour)) {
		t.Fatalf("result = %+v", res)
	}
	select {
	case e := <-events:
		if e.Type != EventPruned || e.Data.(Result).Deleted != 4 {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no pruned event")
	}
}

func TestRunOnceError(t *testing.T) {
	t.Parallel()
	p := &fakePruner{err: errors.New("locked")}
	s := New(Config{}, p, logx.Nop(), nil)
	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	for _, ok := range []string{"@hourly", "@every 30m", "0 */6 * * *", "0 0 3 * * *"} {
		if err := ParseSchedule(ok); err != nil {
			t.Fatalf("ParseSchedule(%q) = %v", ok, err)
		}
	}
	if err := ParseSchedule("every tuesday"); err == nil {
		t.Fatal("bad schedule accepted")
	}
}

func TestScheduledSweepRuns(t *testing.T) {
	t.Parallel()
	p := &fakePruner{}
	s := New(Config{Enabled: true, Schedule: "@every 1s"}, p, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		n := len(p.before)
		p.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("sweep never ran")
}
