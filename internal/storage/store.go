package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	logx "copybot/pkg/logx"
)

// Store is the persistence API used by the relay and the HTTP API.
// Every method is a single atomic statement or transaction.
type Store interface {
	// UpsertSubscriber creates or replaces the subscriber's ref and risk.
	UpsertSubscriber(ctx context.Context, userID int64, ref string, risk decimal.Decimal) error
	// DeleteSubscriber removes the subscriber and all their inbox entries in
	// one transaction. It reports false when there was no subscriber.
	DeleteSubscriber(ctx context.Context, userID int64) (bool, error)
	// UpdateRisk reports false when there is no subscriber.
	UpdateRisk(ctx context.Context, userID int64, risk decimal.Decimal) (bool, error)
	GetSubscriber(ctx context.Context, userID int64) (Subscriber, bool, error)
	// ListSubscribers returns subscribers whose ref is in refs; no refs means all.
	ListSubscribers(ctx context.Context, refs []string) ([]Subscriber, error)
	CountSubscribers(ctx context.Context) (int, error)

	// InsertSignal stores one inbox entry for an existing subscriber. A
	// duplicate (signal id, user id) or a missing subscriber is ignored and
	// reported as false.
	InsertSignal(ctx context.Context, e InboxEntry) (bool, error)
	// ListSignals returns up to limit entries, newest first.
	ListSignals(ctx context.Context, userID int64, limit int) ([]InboxEntry, error)
	// DeleteSignal deletes the entry matching both ids.
	DeleteSignal(ctx context.Context, userID int64, signalID string) (bool, error)
	// PruneSignals deletes entries created before the cutoff.
	PruneSignals(ctx context.Context, before time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and applies the schema.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pq":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
