package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"copybot/internal/transport/telegram/router"
	logx "copybot/pkg/logx"
)

// Commands returns the chat commands served by the relay.
func (s *Service) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "subscribe",
			Aliases:     []string{"start"},
			Description: "Subscribe with a referral code",
			Usage:       "/subscribe ref=CODE",
			Handle:      s.cmdSubscribe,
		},
		{
			Name:        "unsubscribe",
			Aliases:     []string{"stop"},
			Description: "Stop signals and clear your inbox",
			Usage:       "/unsubscribe",
			Handle:      s.cmdUnsubscribe,
		},
		{
			Name:        "risk",
			Description: "Set your risk multiplier (0.1-2.0)",
			Usage:       "/risk <value>",
			Handle:      s.cmdRisk,
		},
		{
			Name:        "status",
			Description: "Show your subscription",
			Usage:       "/status",
			Handle:      s.cmdStatus,
		},
	}
}

func (s *Service) firstReferral() string {
	if refs := s.current().ReferralCodes; len(refs) > 0 {
		return refs[0]
	}
	return DefaultReferral
}

func (s *Service) cmdSubscribe(ctx context.Context, req *router.Request) error {
	ref := req.Params["ref"]
	if ref == "" && len(req.Args) > 0 {
		ref = req.Args[0]
	}
	err := s.Subscribe(ctx, req.FromID, ref)
	switch {
	case err == nil:
		return req.Reply(ctx, fmt.Sprintf("Subscribed with ref %s! Set risk with /risk 0.5.", ref))
	case errors.Is(err, ErrInvalidReferral):
		return req.Reply(ctx, "Invalid referral. Join via leader link.")
	default:
		req.Logger.Error("subscribe failed", logx.Err(err))
		return req.Reply(ctx, "Error subscribing, try again.")
	}
}

func (s *Service) cmdUnsubscribe(ctx context.Context, req *router.Request) error {
	removed, err := s.Unsubscribe(ctx, req.FromID)
	switch {
	case err != nil:
		req.Logger.Error("unsubscribe failed", logx.Err(err))
		return req.Reply(ctx, "Error unsubscribing, try again.")
	case !removed:
		return req.Reply(ctx, "Not subscribed.")
	default:
		return req.Reply(ctx, "Unsubscribed, signals cleared.")
	}
}

func (s *Service) cmdRisk(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, "Risk must be 0.1-2.0. Usage: /risk 0.5")
	}
	risk, err := s.SetRisk(ctx, req.FromID, req.Args[0])
	switch {
	case err == nil:
		return req.Reply(ctx, fmt.Sprintf("Risk set to %sx.", risk.String()))
	case errors.Is(err, ErrInvalidRisk):
		return req.Reply(ctx, "Risk must be 0.1-2.0. Usage: /risk 0.5")
	case errors.Is(err, ErrNotSubscribed):
		return req.Reply(ctx, fmt.Sprintf("Subscribe first with /subscribe ref=%s.", s.firstReferral()))
	default:
		req.Logger.Error("set risk failed", logx.Err(err))
		return req.Reply(ctx, "Error setting risk, try again.")
	}
}

func (s *Service) cmdStatus(ctx context.Context, req *router.Request) error {
	sub, ok, err := s.Subscriber(ctx, req.FromID)
	if err != nil {
		req.Logger.Error("status failed", logx.Err(err))
		return req.Reply(ctx, "Error reading status, try again.")
	}
	if !ok {
		return req.Reply(ctx, fmt.Sprintf("Not subscribed. Use /subscribe ref=%s.", s.firstReferral()))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Subscribed with ref %s\n", sub.Ref)
	fmt.Fprintf(&b, "Risk: %sx\n", sub.Risk.String())
	if !sub.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "Since: %s", sub.CreatedAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}
