// Package metrics turns relay, notifier and retention events into
// Prometheus counters.
//
// Registers:
//
//	copybot_broadcasts_total
//	copybot_inbox_copies_total
//	copybot_delivery_failures_total{stage}
//	copybot_signals_dropped_total{reason}
//	copybot_notifications_total{kind,result}
//	copybot_subscription_changes_total{action}
//	copybot_inbox_pruned_total
//	go_* and process_* system metrics
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"copybot/internal/eventbus"
	"copybot/internal/notifier"
	"copybot/internal/relay"
	"copybot/internal/retention"
)

const namespace = "copybot"

// Collector owns a private registry; nothing is registered globally.
type Collector struct {
	reg *prometheus.Registry

	broadcasts    prometheus.Counter
	copies        prometheus.Counter
	deliveryFails *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	notifications *prometheus.CounterVec
	subscriptions *prometheus.CounterVec
	pruned        prometheus.Counter
}

func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Signals accepted and fanned out to subscribers",
		}),
		copies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbox_copies_total",
			Help:      "Per-subscriber inbox entries written by broadcasts",
		}),
		deliveryFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Per-recipient delivery failures by stage",
		}, []string{"stage"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_dropped_total",
			Help:      "Leader alerts that were not broadcast",
		}, []string{"reason"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound Telegram messages by result",
		}, []string{"kind", "result"}),
		subscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_changes_total",
			Help:      "Subscribe and unsubscribe operations",
		}, []string{"action"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbox_pruned_total",
			Help:      "Inbox entries removed by the retention sweep",
		}),
	}
	c.reg.MustRegister(
		c.broadcasts,
		c.copies,
		c.deliveryFails,
		c.dropped,
		c.notifications,
		c.subscriptions,
		c.pruned,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Observe updates counters for one event. Unknown event types are ignored.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case relay.EventBroadcast:
		if rep, ok := e.Data.(relay.BroadcastReport); ok {
			c.broadcasts.Inc()
			c.copies.Add(float64(rep.Stored))
		}
	case relay.EventDeliveryFailed:
		c.deliveryFails.WithLabelValues(label(e.Data, "stage")).Inc()
	case relay.EventDropped:
		c.dropped.WithLabelValues(label(e.Data, "reason")).Inc()
	case relay.EventSubscribed:
		c.subscriptions.WithLabelValues("subscribe").Inc()
	case relay.EventUnsubscribed:
		c.subscriptions.WithLabelValues("unsubscribe").Inc()
	case notifier.EventSent, notifier.EventFailed, notifier.EventDropped:
		kind := "unknown"
		if ev, ok := e.Data.(notifier.NotificationEvent); ok && ev.Kind != "" {
			kind = ev.Kind
		}
		c.notifications.WithLabelValues(kind, e.Type[len("notifier."):]).Inc()
	case retention.EventPruned:
		if res, ok := e.Data.(retention.Result); ok {
			c.pruned.Add(float64(res.Deleted))
		}
	}
}

// Run consumes bus events until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) {
	events, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			c.Observe(e)
		}
	}
}

func label(data any, key string) string {
	if m, ok := data.(map[string]any); ok {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return "unknown"
}
