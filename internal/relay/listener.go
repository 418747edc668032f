package relay

import (
	"context"
	"errors"

	"copybot/internal/signal"
	"copybot/internal/transport/telegram/router"
	logx "copybot/pkg/logx"
)

// Drop reasons carried by EventDropped.
const (
	DropNoSignal  = "no_signal"
	DropMalformed = "malformed"
	DropAuth      = "auth"
	DropStore     = "store"
)

// HandleMessage runs a chat message through recognition, decoding and
// authentication, then broadcasts it. It returns nil, nil for messages that
// are not leader alerts. A dropped alert returns the reason as an error.
func (s *Service) HandleMessage(ctx context.Context, src signal.Source, text string) (*BroadcastReport, error) {
	st := s.current()
	if st.Codec == nil || !st.Codec.Recognize(src, text) {
		return nil, nil
	}
	log := s.log.With(logx.Int64("from_id", src.UserID), logx.String("from", src.Username))

	sig, err := st.Codec.Decode(text)
	if err != nil {
		reason := DropMalformed
		if errors.Is(err, signal.ErrNoSignal) {
			reason = DropNoSignal
		}
		s.drop(log, reason, src, err)
		return nil, err
	}
	if st.Auth == nil {
		err = ErrAuthenticationFailure
	} else {
		err = st.Auth.Verify(sig)
	}
	if err != nil {
		s.drop(log, DropAuth, src, err)
		return nil, err
	}

	rep, err := s.Broadcast(ctx, sig)
	if err != nil {
		s.drop(log, DropStore, src, err)
		return nil, err
	}
	return &rep, nil
}

func (s *Service) drop(log logx.Logger, reason string, src signal.Source, err error) {
	if reason == DropNoSignal {
		log.Info("leader alert without signal", logx.Err(err))
	} else {
		log.Warn("signal dropped", logx.String("reason", reason), logx.Err(err))
	}
	s.publish(EventDropped, map[string]any{
		"reason":   reason,
		"from_id":  src.UserID,
		"username": src.Username,
		"error":    err.Error(),
	})
}

// PlainHandler adapts HandleMessage to the dispatcher. Drops are already
// logged and published, so they are not reported as handler errors.
func (s *Service) PlainHandler() router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		_, _ = s.HandleMessage(ctx, signal.Source{UserID: req.FromID, Username: req.FromUsername}, req.Text)
		return nil
	}
}
