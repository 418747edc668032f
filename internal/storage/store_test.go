package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	logx "copybot/pkg/logx"
)

func openMemory(t *testing.T) Store {
	t.Helper()
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: ":memory:"}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

var half = decimal.RequireFromString("0.5")

func TestRebind(t *testing.T) {
	t.Parallel()
	q := `SELECT a FROM t WHERE x = ? AND y IN (?,?)`
	if got := dialectSQLite.rebind(q); got != q {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
	if got := dialectPostgres.rebind(q); got != `SELECT a FROM t WHERE x = $1 AND y IN ($2,$3)` {
		t.Fatalf("postgres rebind = %q", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(context.Background(), Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("postgres without dsn accepted")
	}
}

func TestSubscriberLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openMemory(t)

	if err := st.UpsertSubscriber(ctx, 42, "GODSEYE", half); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	ok, err := st.UpdateRisk(ctx, 42, decimal.RequireFromString("1.5"))
	if err != nil || !ok {
		t.Fatalf("update risk: %v %v", ok, err)
	}

	// re-subscribe resets risk and keeps a single row
	if err := st.UpsertSubscriber(ctx, 42, "GODSEYE", half); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	sub, found, err := st.GetSubscriber(ctx, 42)
	if err != nil || !found {
		t.Fatalf("get: %v %v", found, err)
	}
	if !sub.Risk.Equal(half) || sub.Ref != "GODSEYE" {
		t.Fatalf("subscriber = %+v", sub)
	}
	if n, _ := st.CountSubscribers(ctx); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}

	if ok, err := st.UpdateRisk(ctx, 7, half); err != nil || ok {
		t.Fatalf("update unknown subscriber: %v %v", ok, err)
	}
	if _, found, _ := st.GetSubscriber(ctx, 7); found {
		t.Fatal("unknown subscriber found")
	}
}

func TestDeleteSubscriberCascades(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openMemory(t)

	for _, id := range []int64{1, 2} {
		if err := st.UpsertSubscriber(ctx, id, "GODSEYE", half); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 3; i++ {
			e := InboxEntry{SignalID: fmt.Sprintf("sig-%d", i), UserID: id, Payload: `{}`}
			if _, err := st.InsertSignal(ctx, e); err != nil {
				t.Fatal(err)
			}
		}
	}

	removed, err := st.DeleteSubscriber(ctx, 1)
	if err != nil || !removed {
		t.Fatalf("delete: %v %v", removed, err)
	}
	if got, _ := st.ListSignals(ctx, 1, 10); len(got) != 0 {
		t.Fatalf("inbox not cleared: %d entries", len(got))
	}
	if got, _ := st.ListSignals(ctx, 2, 10); len(got) != 3 {
		t.Fatalf("other inbox touched: %d entries", len(got))
	}

	removed, err = st.DeleteSubscriber(ctx, 1)
	if err != nil || removed {
		t.Fatalf("second delete: %v %v", removed, err)
	}
}

func TestListSubscribersByRef(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openMemory(t)

	_ = st.UpsertSubscriber(ctx, 1, "GODSEYE", half)
	_ = st.UpsertSubscriber(ctx, 2, "OLDCODE", half)
	_ = st.UpsertSubscriber(ctx, 3, "GODSEYE", half)

	subs, err := st.ListSubscribers(ctx, []string{"GODSEYE"})
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 || subs[0].UserID != 1 || subs[1].UserID != 3 {
		t.Fatalf("subs = %+v", subs)
	}
	all, _ := st.ListSubscribers(ctx, nil)
	if len(all) != 3 {
		t.Fatalf("all = %d", len(all))
	}
}

func TestInboxOrderingAndOwnership(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openMemory(t)
	if err := st.UpsertSubscriber(ctx, 42, "GODSEYE", half); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 12; i++ {
		e := InboxEntry{SignalID: fmt.Sprintf("sig-%02d", i), UserID: 42, Payload: fmt.Sprintf(`{"n":%d}`, i)}
		if _, err := st.InsertSignal(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if ok, _ := st.InsertSignal(ctx, InboxEntry{SignalID: "sig-00", UserID: 42, Payload: `{}`}); ok {
		t.Fatal("duplicate (id, user) inserted")
	}

	got, err := st.ListSignals(ctx, 42, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10 || got[0].SignalID != "sig-11" || got[9].SignalID != "sig-02" {
		t.Fatalf("ordering wrong: first=%s last=%s n=%d", got[0].SignalID, got[len(got)-1].SignalID, len(got))
	}

	if ok, _ := st.DeleteSignal(ctx, 99, "sig-11"); ok {
		t.Fatal("deleted another subscriber's entry")
	}
	if ok, _ := st.DeleteSignal(ctx, 42, "sig-11"); !ok {
		t.Fatal("owner delete failed")
	}
	if ok, err := st.DeleteSignal(ctx, 42, "sig-11"); ok || err != nil {
		t.Fatalf("repeat delete: %v %v", ok, err)
	}
}

func TestInsertSignalRequiresSubscriber(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openMemory(t)

	ok, err := st.InsertSignal(ctx, InboxEntry{SignalID: "sig-1", UserID: 5, Payload: `{}`})
	if err != nil || ok {
		t.Fatalf("insert without subscriber: %v %v", ok, err)
	}
	if got, _ := st.ListSignals(ctx, 5, 10); len(got) != 0 {
		t.Fatalf("orphan entries = %d", len(got))
	}

	_ = st.UpsertSubscriber(ctx, 5, "GODSEYE", half)
	if _, err := st.DeleteSubscriber(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if ok, _ := st.InsertSignal(ctx, InboxEntry{SignalID: "sig-2", UserID: 5, Payload: `{}`}); ok {
		t.Fatal("insert after unsubscribe stored an entry")
	}
}

func TestPruneSignals(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openMemory(t)

	_ = st.UpsertSubscriber(ctx, 1, "GODSEYE", half)
	old := time.Now().Add(-48 * time.Hour)
	_, _ = st.InsertSignal(ctx, InboxEntry{SignalID: "old", UserID: 1, Payload: `{}`, CreatedAt: old})
	_, _ = st.InsertSignal(ctx, InboxEntry{SignalID: "new", UserID: 1, Payload: `{}`})

	n, err := st.PruneSignals(ctx, time.Now().Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("prune: %d %v", n, err)
	}
	got, _ := st.ListSignals(ctx, 1, 10)
	if len(got) != 1 || got[0].SignalID != "new" {
		t.Fatalf("remaining = %+v", got)
	}
}

func TestClosedStore(t *testing.T) {
	t.Parallel()
	st := openMemory(t)
	_ = st.Close()
	if err := st.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("ping after close: %v", err)
	}
	if _, err := st.ListSignals(context.Background(), 1, 10); !errors.Is(err, ErrClosed) {
		t.Fatalf("list after close: %v", err)
	}
}
