package relay

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"copybot/internal/storage"
	logx "copybot/pkg/logx"
)

// Subscribe registers userID under ref, resetting risk to the default.
// Subscribing again is an upsert.
func (s *Service) Subscribe(ctx context.Context, userID int64, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" || !s.current().accepts(ref) {
		return ErrInvalidReferral
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.UpsertSubscriber(sctx, userID, ref, DefaultRisk); err != nil {
		return storeErr("upsert subscriber", err)
	}
	s.log.Info("subscribed", logx.Int64("user_id", userID), logx.String("ref", ref))
	s.publish(EventSubscribed, map[string]any{"user_id": userID, "ref": ref})
	return nil
}

// Unsubscribe deletes the subscriber and their inbox. removed is false when
// there was nothing to delete.
func (s *Service) Unsubscribe(ctx context.Context, userID int64) (removed bool, err error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	removed, err = s.store.DeleteSubscriber(sctx, userID)
	if err != nil {
		return false, storeErr("delete subscriber", err)
	}
	if removed {
		s.log.Info("unsubscribed", logx.Int64("user_id", userID))
		s.publish(EventUnsubscribed, map[string]any{"user_id": userID})
	}
	return removed, nil
}

// ParseRisk accepts a decimal in [MinRisk, MaxRisk].
func ParseRisk(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, ErrInvalidRisk
	}
	if d.LessThan(MinRisk) || d.GreaterThan(MaxRisk) {
		return decimal.Decimal{}, ErrInvalidRisk
	}
	return d, nil
}

// SetRisk validates raw before touching the store; invalid input never
// mutates state.
func (s *Service) SetRisk(ctx context.Context, userID int64, raw string) (decimal.Decimal, error) {
	risk, err := ParseRisk(raw)
	if err != nil {
		return decimal.Decimal{}, err
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	ok, err := s.store.UpdateRisk(sctx, userID, risk)
	if err != nil {
		return decimal.Decimal{}, storeErr("update risk", err)
	}
	if !ok {
		return decimal.Decimal{}, ErrNotSubscribed
	}
	return risk, nil
}

func (s *Service) Subscriber(ctx context.Context, userID int64) (storage.Subscriber, bool, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	sub, ok, err := s.store.GetSubscriber(sctx, userID)
	if err != nil {
		return storage.Subscriber{}, false, storeErr("get subscriber", err)
	}
	return sub, ok, nil
}

func (s *Service) IsSubscribed(ctx context.Context, userID int64) (bool, error) {
	_, ok, err := s.Subscriber(ctx, userID)
	return ok, err
}

func (s *Service) GetRisk(ctx context.Context, userID int64) (decimal.Decimal, error) {
	sub, ok, err := s.Subscriber(ctx, userID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !ok {
		return decimal.Decimal{}, ErrNotSubscribed
	}
	return sub.Risk, nil
}
