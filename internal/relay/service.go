// Package relay holds the signal relay domain: subscription rules, the
// leader listener, fan-out broadcasting and the per-subscriber inbox.
package relay

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"copybot/internal/eventbus"
	"copybot/internal/signal"
	"copybot/internal/storage"
	kit "copybot/internal/transport"
	logx "copybot/pkg/logx"
)

const (
	EventBroadcast      = "relay.broadcast"
	EventDropped        = "relay.dropped"
	EventDeliveryFailed = "relay.delivery_failed"
	EventSubscribed     = "relay.subscribed"
	EventUnsubscribed   = "relay.unsubscribed"
)

var (
	MinRisk     = decimal.RequireFromString("0.1")
	MaxRisk     = decimal.RequireFromString("2.0")
	DefaultRisk = decimal.RequireFromString("0.5")
)

const (
	DefaultReferral     = "GODSEYE"
	DefaultNotifyPrefix = "Auto-Signal: "
	DefaultPendingLimit = 10
	MaxPendingLimit     = 100
)

// Settings is the hot-reloadable part of the relay.
type Settings struct {
	Codec         *signal.Codec
	Auth          *signal.Authenticator
	ReferralCodes []string
	// FanoutConcurrency bounds concurrent per-recipient deliveries.
	FanoutConcurrency int
	StoreTimeout      time.Duration
	NotifyPrefix      string
}

func (s Settings) withDefaults() Settings {
	if len(s.ReferralCodes) == 0 {
		s.ReferralCodes = []string{DefaultReferral}
	}
	if s.FanoutConcurrency <= 0 {
		s.FanoutConcurrency = 8
	}
	if s.StoreTimeout <= 0 {
		s.StoreTimeout = 5 * time.Second
	}
	if s.NotifyPrefix == "" {
		s.NotifyPrefix = DefaultNotifyPrefix
	}
	return s
}

func (s Settings) accepts(ref string) bool {
	for _, c := range s.ReferralCodes {
		if c == ref {
			return true
		}
	}
	return false
}

// Notifier queues outbound pushes. *notifier.Service satisfies it.
type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

type Deps struct {
	Store    storage.Store
	Notifier Notifier
	Bus      eventbus.Bus
	Log      logx.Logger
}

// Service is safe for concurrent use. It keeps no domain state of its own;
// all coordination goes through the store.
type Service struct {
	store    storage.Store
	notifier Notifier
	bus      eventbus.Bus
	log      logx.Logger

	settings atomic.Pointer[Settings]
}

func New(st Settings, d Deps) *Service {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop()
	}
	s := &Service{
		store:    d.Store,
		notifier: d.Notifier,
		bus:      d.Bus,
		log:      d.Log,
	}
	s.Apply(st)
	return s
}

// Apply swaps settings; in-flight broadcasts keep the snapshot they started with.
func (s *Service) Apply(st Settings) {
	st = st.withDefaults()
	s.settings.Store(&st)
}

func (s *Service) current() Settings { return *s.settings.Load() }

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.current().StoreTimeout)
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func (s *Service) publish(typ string, data any) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
