package storage

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file; Path ":memory:" keeps everything in RAM
//   - "postgres": PostgreSQL reachable through DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

type Subscriber struct {
	UserID    int64
	Risk      decimal.Decimal
	Ref       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InboxEntry is one subscriber's copy of a broadcast signal. Payload is the
// JSON form of the signal including its id.
type InboxEntry struct {
	Seq       int64
	SignalID  string
	UserID    int64
	Payload   string
	CreatedAt time.Time
}
