package relay

import (
	"errors"

	"copybot/internal/signal"
)

var (
	ErrInvalidReferral = errors.New("invalid referral code")
	ErrInvalidRisk     = errors.New("risk must be between 0.1 and 2.0")
	ErrNotSubscribed   = errors.New("not subscribed")

	ErrMalformedPayload      = signal.ErrMalformedPayload
	ErrAuthenticationFailure = signal.ErrAuthenticationFailure

	// ErrStoreUnavailable wraps any persistence failure, including timeouts.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotificationFailure means a push could not be queued. The inbox entry stays.
	ErrNotificationFailure = errors.New("notification failed")
)
