package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	logx "copybot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type dialect struct {
	name       string
	migrations string
	numbered   bool // $1, $2 ... instead of ?
}

var (
	dialectSQLite   = dialect{name: "sqlite", migrations: "migrations/sqlite.sql"}
	dialectPostgres = dialect{name: "postgres", migrations: "migrations/postgres.sql", numbered: true}
)

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(q string) string {
	if !d.numbered || !strings.Contains(q, "?") {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

type sqlStore struct {
	db      *sql.DB
	dialect dialect
	log     logx.Logger
	closed  atomic.Bool
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile(s.dialect.migrations)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqlStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.db.ExecContext(ctx, s.dialect.rebind(q), args...)
}

func (s *sqlStore) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.db.QueryContext(ctx, s.dialect.rebind(q), args...)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqlStore) UpsertSubscriber(ctx context.Context, userID int64, ref string, risk decimal.Decimal) error {
	now := time.Now().UnixMilli()
	_, err := s.exec(ctx,
		`INSERT INTO subscribers(user_id, risk, ref, created_at, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET risk=excluded.risk, ref=excluded.ref, updated_at=excluded.updated_at`,
		userID, risk.String(), ref, now, now,
	)
	return err
}

func (s *sqlStore) DeleteSubscriber(ctx context.Context, userID int64) (removed bool, err error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil || !removed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM subscribers WHERE user_id = ?`), userID)
	if err != nil {
		return false, err
	}
	if removed, err = affected(res); err != nil || !removed {
		return false, err
	}
	if _, err = tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM signals WHERE user_id = ?`), userID); err != nil {
		return false, err
	}
	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqlStore) UpdateRisk(ctx context.Context, userID int64, risk decimal.Decimal) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE subscribers SET risk = ?, updated_at = ? WHERE user_id = ?`,
		risk.String(), time.Now().UnixMilli(), userID,
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

const subscriberCols = `user_id, risk, ref, created_at, updated_at`

func scanSubscriber(sc interface{ Scan(...any) error }) (Subscriber, error) {
	var (
		sub              Subscriber
		created, updated int64
	)
	if err := sc.Scan(&sub.UserID, &sub.Risk, &sub.Ref, &created, &updated); err != nil {
		return Subscriber{}, err
	}
	sub.CreatedAt = time.UnixMilli(created)
	sub.UpdatedAt = time.UnixMilli(updated)
	return sub, nil
}

func (s *sqlStore) GetSubscriber(ctx context.Context, userID int64) (Subscriber, bool, error) {
	if s.closed.Load() {
		return Subscriber{}, false, ErrClosed
	}
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+subscriberCols+` FROM subscribers WHERE user_id = ?`), userID)
	sub, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscriber{}, false, nil
	}
	if err != nil {
		return Subscriber{}, false, err
	}
	return sub, true, nil
}

func (s *sqlStore) ListSubscribers(ctx context.Context, refs []string) ([]Subscriber, error) {
	q := `SELECT ` + subscriberCols + ` FROM subscribers`
	args := make([]any, 0, len(refs))
	if len(refs) > 0 {
		q += ` WHERE ref IN (?` + strings.Repeat(",?", len(refs)-1) + `)`
		for _, r := range refs {
			args = append(args, r)
		}
	}
	q += ` ORDER BY user_id`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqlStore) CountSubscribers(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscribers`).Scan(&n)
	return n, err
}

func (s *sqlStore) InsertSignal(ctx context.Context, e InboxEntry) (bool, error) {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	// The subscriber check and the insert are one statement, so a concurrent
	// DeleteSubscriber cannot leave an orphaned row behind.
	res, err := s.exec(ctx,
		`INSERT INTO signals(id, user_id, signal, created_at)
		 SELECT CAST(? AS TEXT), CAST(? AS BIGINT), CAST(? AS TEXT), CAST(? AS BIGINT)
		 WHERE EXISTS (SELECT 1 FROM subscribers WHERE user_id = ?)
		 ON CONFLICT(id, user_id) DO NOTHING`,
		e.SignalID, e.UserID, e.Payload, created.UnixMilli(), e.UserID,
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *sqlStore) ListSignals(ctx context.Context, userID int64, limit int) ([]InboxEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.query(ctx,
		`SELECT seq, id, user_id, signal, created_at FROM signals WHERE user_id = ? ORDER BY seq DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]InboxEntry, 0, limit)
	for rows.Next() {
		var (
			e       InboxEntry
			created int64
		)
		if err := rows.Scan(&e.Seq, &e.SignalID, &e.UserID, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteSignal(ctx context.Context, userID int64, signalID string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM signals WHERE id = ? AND user_id = ?`, signalID, userID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *sqlStore) PruneSignals(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM signals WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqlStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	if s == nil || s.closed.Swap(true) {
		return nil
	}
	s.log.Debug("storage closing", logx.String("driver", s.dialect.name))
	return s.db.Close()
}
