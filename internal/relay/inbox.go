package relay

import (
	"context"
	"encoding/json"

	"copybot/internal/signal"
	logx "copybot/pkg/logx"
)

// ListPending returns up to limit inbox entries for userID, newest first.
// limit <= 0 means DefaultPendingLimit; it is capped at MaxPendingLimit.
// Entries whose payload no longer decodes are skipped.
func (s *Service) ListPending(ctx context.Context, userID int64, limit int) ([]signal.Signal, error) {
	switch {
	case limit <= 0:
		limit = DefaultPendingLimit
	case limit > MaxPendingLimit:
		limit = MaxPendingLimit
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	entries, err := s.store.ListSignals(sctx, userID, limit)
	if err != nil {
		return nil, storeErr("list signals", err)
	}
	out := make([]signal.Signal, 0, len(entries))
	for _, e := range entries {
		var sig signal.Signal
		if err := json.Unmarshal([]byte(e.Payload), &sig); err != nil {
			s.log.Warn("skipping undecodable inbox entry", logx.String("signal_id", e.SignalID), logx.Int64("user_id", userID), logx.Err(err))
			continue
		}
		if sig.ID == "" {
			sig.ID = e.SignalID
		}
		out = append(out, sig)
	}
	return out, nil
}

// Acknowledge removes one entry from userID's inbox. It never touches another
// subscriber's copy of the same signal. removed is false for unknown ids.
func (s *Service) Acknowledge(ctx context.Context, userID int64, signalID string) (removed bool, err error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	removed, err = s.store.DeleteSignal(sctx, userID, signalID)
	if err != nil {
		return false, storeErr("delete signal", err)
	}
	return removed, nil
}
