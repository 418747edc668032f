package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"copybot/internal/relay"
	"copybot/internal/signal"
	"copybot/internal/storage"
	logx "copybot/pkg/logx"
)

// DegradedHeader marks a compatibility-mode 200 that hides a store failure.
const DegradedHeader = "X-Signals-Degraded"

// Relay is the part of relay.Service the API reads and acknowledges through.
type Relay interface {
	ListPending(ctx context.Context, userID int64, limit int) ([]signal.Signal, error)
	Acknowledge(ctx context.Context, userID int64, signalID string) (bool, error)
	GetRisk(ctx context.Context, userID int64) (decimal.Decimal, error)
	Subscriber(ctx context.Context, userID int64) (storage.Subscriber, bool, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type HandlerOptions struct {
	// StrictErrors answers store failures with 503 instead of the
	// compatibility 200 [] on GET /signals.
	StrictErrors bool
	SignalsLimit int
}

type Handler struct {
	relay Relay
	store Pinger
	log   logx.Logger
	opts  atomic.Pointer[HandlerOptions]
}

func NewHandler(r Relay, store Pinger, opts HandlerOptions, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &Handler{relay: r, store: store, log: log}
	h.Apply(opts)
	return h
}

func (h *Handler) Apply(opts HandlerOptions) {
	if opts.SignalsLimit <= 0 {
		opts.SignalsLimit = relay.DefaultPendingLimit
	}
	h.opts.Store(&opts)
}

// RegisterRoutes mounts the API on r and again under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	api := func(r chi.Router) {
		r.Get("/signals", h.listSignals)
		r.Delete("/signals/{id}", h.deleteSignal)
		r.Get("/risk", h.getRisk)
		r.Get("/subscription", h.getSubscription)
	}
	api(r)
	r.Route("/api", api)
	r.Get("/healthz", h.healthz)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func userID(r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("userId"))
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}

func (h *Handler) listSignals(w http.ResponseWriter, r *http.Request) {
	opts := h.opts.Load()
	id, ok := userID(r)
	if !ok {
		if opts.StrictErrors {
			writeError(w, http.StatusBadRequest, "userId is required")
			return
		}
		writeJSON(w, http.StatusOK, []signal.Signal{})
		return
	}
	sigs, err := h.relay.ListPending(r.Context(), id, opts.SignalsLimit)
	if err != nil {
		h.log.Error("list signals failed", logx.Int64("user_id", id), logx.Err(err))
		if opts.StrictErrors {
			writeError(w, http.StatusServiceUnavailable, "signals unavailable")
			return
		}
		w.Header().Set(DegradedHeader, "true")
		writeJSON(w, http.StatusOK, []signal.Signal{})
		return
	}
	writeJSON(w, http.StatusOK, sigs)
}

func (h *Handler) deleteSignal(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	sigID := chi.URLParam(r, "id")
	if _, err := h.relay.Acknowledge(r.Context(), id, sigID); err != nil {
		h.log.Error("delete signal failed", logx.Int64("user_id", id), logx.String("signal_id", sigID), logx.Err(err))
		code := http.StatusOK
		if h.opts.Load().StrictErrors {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]bool{"success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) getRisk(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	risk, err := h.relay.GetRisk(r.Context(), id)
	switch {
	case errors.Is(err, relay.ErrNotSubscribed):
		writeError(w, http.StatusNotFound, "not subscribed")
	case err != nil:
		h.log.Error("get risk failed", logx.Int64("user_id", id), logx.Err(err))
		writeError(w, http.StatusServiceUnavailable, "risk unavailable")
	default:
		writeJSON(w, http.StatusOK, map[string]float64{"risk": risk.InexactFloat64()})
	}
}

type subscriptionResponse struct {
	Subscribed bool     `json:"subscribed"`
	Risk       *float64 `json:"risk,omitempty"`
	Ref        string   `json:"ref,omitempty"`
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	sub, found, err := h.relay.Subscriber(r.Context(), id)
	if err != nil {
		h.log.Error("get subscription failed", logx.Int64("user_id", id), logx.Err(err))
		writeError(w, http.StatusServiceUnavailable, "subscription unavailable")
		return
	}
	resp := subscriptionResponse{Subscribed: found}
	if found {
		risk := sub.Risk.InexactFloat64()
		resp.Risk = &risk
		resp.Ref = sub.Ref
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
