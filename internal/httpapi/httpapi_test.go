package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copybot/internal/relay"
	"copybot/internal/signal"
	"copybot/internal/storage"
	kit "copybot/internal/transport"
	logx "copybot/pkg/logx"
)

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, kit.Notification) error { return nil }

func setupRelay(t *testing.T) (*relay.Service, storage.Store) {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Driver: "sqlite", Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	auth, err := signal.NewAuthenticator("k", 16)
	require.NoError(t, err)
	svc := relay.New(relay.Settings{
		Codec:         signal.NewCodec("", "leader", 0),
		Auth:          auth,
		ReferralCodes: []string{"GODSEYE"},
		StoreTimeout:  2 * time.Second,
	}, relay.Deps{Store: st, Notifier: nopNotifier{}, Log: logx.Nop()})
	return svc, st
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "192.0.2.1:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSignalsFlow(t *testing.T) {
	svc, st := setupRelay(t)
	ctx := context.Background()
	require.NoError(t, svc.Subscribe(ctx, 42, "GODSEYE"))
	require.NoError(t, svc.Subscribe(ctx, 43, "GODSEYE"))
	rep, err := svc.Broadcast(ctx, signal.Signal{Symbol: "BTCUSD", Side: "buy", Size: 1, Price: 50000, Leverage: 10})
	require.NoError(t, err)

	r := NewRouter(NewHandler(svc, st, HandlerOptions{}, logx.Nop()), RouterOptions{}, logx.Nop())

	for _, prefix := range []string{"", "/api"} {
		w := do(t, r, http.MethodGet, prefix+"/signals?userId=42")
		require.Equal(t, http.StatusOK, w.Code)
		var got []signal.Signal
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, rep.SignalID, got[0].ID)
		assert.Equal(t, "BTCUSD", got[0].Symbol)
		assert.Empty(t, w.Header().Get(DegradedHeader))
	}

	w := do(t, r, http.MethodDelete, "/api/signals/"+rep.SignalID+"?userId=43")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	// 42's copy survives 43's acknowledgement
	w = do(t, r, http.MethodGet, "/signals?userId=42")
	assert.Contains(t, w.Body.String(), rep.SignalID)
	w = do(t, r, http.MethodGet, "/signals?userId=43")
	assert.JSONEq(t, `[]`, w.Body.String())

	// unknown ids are a no-op success
	w = do(t, r, http.MethodDelete, "/signals/nope?userId=43")
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = do(t, r, http.MethodDelete, "/signals/"+rep.SignalID)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRiskAndSubscription(t *testing.T) {
	svc, st := setupRelay(t)
	ctx := context.Background()
	r := NewRouter(NewHandler(svc, st, HandlerOptions{}, logx.Nop()), RouterOptions{}, logx.Nop())

	w := do(t, r, http.MethodGet, "/risk?userId=42")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"not subscribed"}`, w.Body.String())

	w = do(t, r, http.MethodGet, "/api/subscription?userId=42")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"subscribed":false}`, w.Body.String())

	require.NoError(t, svc.Subscribe(ctx, 42, "GODSEYE"))
	_, err := svc.SetRisk(ctx, 42, "1.5")
	require.NoError(t, err)

	w = do(t, r, http.MethodGet, "/api/risk?userId=42")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"risk":1.5}`, w.Body.String())

	w = do(t, r, http.MethodGet, "/subscription?userId=42")
	assert.JSONEq(t, `{"subscribed":true,"risk":1.5,"ref":"GODSEYE"}`, w.Body.String())

	w = do(t, r, http.MethodGet, "/risk?userId=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type brokenRelay struct{}

var errDown = errors.New("database is locked")

func (brokenRelay) ListPending(context.Context, int64, int) ([]signal.Signal, error) {
	return nil, errDown
}
func (brokenRelay) Acknowledge(context.Context, int64, string) (bool, error) { return false, errDown }
func (brokenRelay) GetRisk(context.Context, int64) (decimal.Decimal, error) {
	return decimal.Decimal{}, errDown
}
func (brokenRelay) Subscriber(context.Context, int64) (storage.Subscriber, bool, error) {
	return storage.Subscriber{}, false, errDown
}

func TestSignalsFailureModes(t *testing.T) {
	h := NewHandler(brokenRelay{}, nil, HandlerOptions{}, logx.Nop())
	r := NewRouter(h, RouterOptions{}, logx.Nop())

	w := do(t, r, http.MethodGet, "/signals?userId=42")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.Equal(t, "true", w.Header().Get(DegradedHeader))

	w = do(t, r, http.MethodGet, "/signals")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = do(t, r, http.MethodDelete, "/signals/x?userId=42")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":false}`, w.Body.String())

	h.Apply(HandlerOptions{StrictErrors: true})

	w = do(t, r, http.MethodGet, "/signals?userId=42")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"error"`)

	w = do(t, r, http.MethodGet, "/signals")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/risk?userId=1")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type failingPinger struct{ err error }

func (p failingPinger) Ping(context.Context) error { return p.err }

func TestHealthzWebhookAndMetrics(t *testing.T) {
	hook := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) })

	h := NewHandler(brokenRelay{}, failingPinger{}, HandlerOptions{}, logx.Nop())
	r := NewRouter(h, RouterOptions{WebhookPath: "webhook", Webhook: hook, Metrics: metrics}, logx.Nop())

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusAccepted, do(t, r, http.MethodPost, "/webhook").Code)
	assert.Equal(t, "# metrics", do(t, r, http.MethodGet, "/metrics").Body.String())

	down := NewRouter(NewHandler(brokenRelay{}, failingPinger{err: errDown}, HandlerOptions{}, logx.Nop()), RouterOptions{}, logx.Nop())
	assert.Equal(t, http.StatusServiceUnavailable, do(t, down, http.MethodGet, "/healthz").Code)
}

func TestCORSAndRateLimit(t *testing.T) {
	h := NewHandler(brokenRelay{}, nil, HandlerOptions{}, logx.Nop())
	r := NewRouter(h, RouterOptions{RateLimitPerMin: 2}, logx.Nop())

	req := httptest.NewRequest(http.MethodGet, "/signals?userId=1", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.RemoteAddr = "198.51.100.7:5555"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	_ = do(t, r, http.MethodGet, "/signals?userId=1")
	_ = do(t, r, http.MethodGet, "/signals?userId=1")
	w = do(t, r, http.MethodGet, "/signals?userId=1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestServiceServesAndStops(t *testing.T) {
	svc, st := setupRelay(t)
	r := NewRouter(NewHandler(svc, st, HandlerOptions{}, logx.Nop()), RouterOptions{}, logx.Nop())
	srv := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, r, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Start(ctx)

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	srv.Stop(stopCtx)
	assert.Empty(t, srv.Addr())
}
