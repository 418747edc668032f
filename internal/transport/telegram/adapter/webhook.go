package adapter

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "copybot/pkg/logx"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// webhookPoller is a tele.Poller that registers the webhook with Telegram and
// receives updates through ServeHTTP, so it can be mounted on an existing
// router instead of opening its own listener.
type webhookPoller struct {
	cfg WebhookConfig
	log logx.Logger

	mu   sync.RWMutex
	dest chan tele.Update
}

func newWebhookPoller(cfg WebhookConfig, log logx.Logger) *webhookPoller {
	return &webhookPoller{cfg: cfg, log: log}
}

func (p *webhookPoller) Poll(b *tele.Bot, dest chan tele.Update, stop chan struct{}) {
	hook := &tele.Webhook{
		SecretToken: p.cfg.SecretToken,
		Endpoint:    &tele.WebhookEndpoint{PublicURL: p.cfg.PublicURL},
	}

	wait := time.Second
	for {
		err := b.SetWebhook(hook)
		if err == nil {
			break
		}
		p.log.Warn("setWebhook failed; retrying", logx.Err(err), logx.Duration("backoff", wait))
		select {
		case <-stop:
			return
		case <-time.After(wait):
		}
		wait = min(wait*2, 30*time.Second)
	}
	p.log.Info("webhook registered", logx.String("url", p.cfg.PublicURL))

	p.mu.Lock()
	p.dest = dest
	p.mu.Unlock()

	<-stop

	p.mu.Lock()
	p.dest = nil
	p.mu.Unlock()
}

func (p *webhookPoller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if p.cfg.SecretToken != "" &&
		subtle.ConstantTimeCompare([]byte(r.Header.Get(secretHeader)), []byte(p.cfg.SecretToken)) != 1 {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	p.mu.RLock()
	dest := p.dest
	p.mu.RUnlock()
	if dest == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	var upd tele.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&upd); err != nil {
		p.log.Debug("webhook decode failed", logx.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	select {
	case dest <- upd:
		w.WriteHeader(http.StatusOK)
	case <-r.Context().Done():
		// Telegram redelivers on non-2xx.
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}
