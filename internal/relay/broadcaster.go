package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"copybot/internal/signal"
	"copybot/internal/storage"
	kit "copybot/internal/transport"
	logx "copybot/pkg/logx"
)

// BroadcastReport summarizes one fan-out. Skipped counts recipients who
// unsubscribed after the recipient list was read; they get neither a copy
// nor a push.
type BroadcastReport struct {
	SignalID   string          `json:"signal_id"`
	Recipients int             `json:"recipients"`
	Stored     int             `json:"stored"`
	Failed     int             `json:"failed"`
	Skipped    int             `json:"skipped"`
	Notified   int             `json:"notified"`
	Failures   []DeliveryError `json:"failures,omitempty"`
}

// DeliveryError records one recipient whose copy was not stored or not pushed.
// Stage is "store" or "notify".
type DeliveryError struct {
	UserID int64  `json:"user_id"`
	Stage  string `json:"stage"`
	Err    error  `json:"-"`
}

func (e DeliveryError) Error() string {
	return fmt.Sprintf("user %d: %s: %v", e.UserID, e.Stage, e.Err)
}

func (e DeliveryError) Unwrap() error { return e.Err }

// Broadcast assigns sig a fresh id and delivers a copy to every subscriber
// present when the recipient list is read. Subscribers added later do not
// receive it. One recipient's failure never stops the others.
func (s *Service) Broadcast(ctx context.Context, sig signal.Signal) (BroadcastReport, error) {
	st := s.current()
	sig.ID = uuid.NewString()
	rep := BroadcastReport{SignalID: sig.ID}

	raw, err := json.Marshal(sig)
	if err != nil {
		return rep, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	payload := string(raw)

	lctx, cancel := context.WithTimeout(ctx, st.StoreTimeout)
	subs, err := s.store.ListSubscribers(lctx, st.ReferralCodes)
	cancel()
	if err != nil {
		return rep, storeErr("list subscribers", err)
	}
	rep.Recipients = len(subs)

	log := s.log.With(logx.String("signal_id", sig.ID), logx.String("symbol", sig.Symbol))
	log.Info("broadcasting signal", logx.Int("recipients", len(subs)))

	var (
		stored, skipped, notified atomic.Int64
		mu               sync.Mutex
		failures         []DeliveryError
	)
	fail := func(userID int64, stage string, err error) {
		log.Warn("delivery failed", logx.Int64("user_id", userID), logx.String("stage", stage), logx.Err(err))
		de := DeliveryError{UserID: userID, Stage: stage, Err: err}
		mu.Lock()
		failures = append(failures, de)
		mu.Unlock()
		s.publish(EventDeliveryFailed, map[string]any{"signal_id": sig.ID, "user_id": userID, "stage": stage, "error": err.Error()})
	}

	now := time.Now()
	g := new(errgroup.Group)
	g.SetLimit(st.FanoutConcurrency)
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			ok, err := s.storeCopy(ctx, st, storage.InboxEntry{SignalID: sig.ID, UserID: sub.UserID, Payload: payload, CreatedAt: now})
			if err != nil {
				fail(sub.UserID, "store", err)
				return nil
			}
			if !ok {
				log.Debug("recipient gone, skipped", logx.Int64("user_id", sub.UserID))
				skipped.Add(1)
				return nil
			}
			stored.Add(1)

			err = s.notifier.Notify(ctx, kit.Notification{
				Target: kit.ChatTarget{ChatID: sub.UserID},
				Text:   st.NotifyPrefix + payload,
				Kind:   "signal",
			})
			if err != nil {
				fail(sub.UserID, "notify", fmt.Errorf("%w: %v", ErrNotificationFailure, err))
				return nil
			}
			notified.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	rep.Stored = int(stored.Load())
	rep.Skipped = int(skipped.Load())
	rep.Notified = int(notified.Load())
	rep.Failures = failures
	for _, f := range failures {
		if f.Stage == "store" {
			rep.Failed++
		}
	}

	log.Info("broadcast done",
		logx.Int("stored", rep.Stored),
		logx.Int("failed", rep.Failed),
		logx.Int("skipped", rep.Skipped),
		logx.Int("notified", rep.Notified),
	)
	s.publish(EventBroadcast, rep)
	return rep, nil
}

// storeCopy reports false when the recipient no longer has a subscription.
func (s *Service) storeCopy(ctx context.Context, st Settings, e storage.InboxEntry) (bool, error) {
	sctx, cancel := context.WithTimeout(ctx, st.StoreTimeout)
	defer cancel()
	ok, err := s.store.InsertSignal(sctx, e)
	if err != nil {
		return false, storeErr("insert signal", err)
	}
	return ok, nil
}
