package app

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"copybot/internal/config"
	"copybot/internal/httpapi"
	"copybot/internal/notifier"
	"copybot/internal/relay"
	"copybot/internal/retention"
	"copybot/internal/signal"
	"copybot/internal/storage"
	telegram "copybot/internal/transport/telegram/adapter"
	logx "copybot/pkg/logx"
)

const defaultWebhookPath = "/webhook"

// Every map* function validates and converts one config section. None of
// them starts anything, so the reload validator can call them freely.

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	tc := cfg.Telegram
	out := telegram.Config{
		Token: strings.TrimSpace(tc.Token),
		Mode:  strings.ToLower(strings.TrimSpace(tc.Mode)),
	}
	if out.Token == "" {
		return out, fmt.Errorf("telegram.token is required (or set %s)", config.EnvBotToken)
	}
	pt, err := config.ParseDurationOrDefault("telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
	if err != nil {
		return out, err
	}
	out.PollTimeout = pt

	switch out.Mode {
	case "", telegram.ModePoll:
		out.Mode = telegram.ModePoll
	case telegram.ModeWebhook:
		if tc.Webhook == nil || strings.TrimSpace(tc.Webhook.PublicURL) == "" {
			return out, errors.New("telegram.webhook.public_url is required in webhook mode")
		}
		if !cfg.HTTP.Enabled {
			return out, errors.New("telegram.mode=webhook requires http.enabled")
		}
		out.Webhook = telegram.WebhookConfig{
			PublicURL:   strings.TrimSpace(tc.Webhook.PublicURL),
			SecretToken: strings.TrimSpace(tc.Webhook.SecretToken),
		}
	default:
		return out, fmt.Errorf("telegram.mode: invalid %q (expected poll or webhook)", tc.Mode)
	}
	if tc.Workers < 0 {
		return out, errors.New("telegram.workers must be >= 0")
	}
	return out, nil
}

func webhookPath(cfg *config.Config) string {
	if w := cfg.Telegram.Webhook; w != nil && strings.TrimSpace(w.Path) != "" {
		return strings.TrimSpace(w.Path)
	}
	return defaultWebhookPath
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled:    lc.File.Enabled,
			Path:       lc.File.Path,
			MaxSizeMB:  lc.File.MaxSizeMB,
			MaxBackups: lc.File.MaxBackups,
			MaxAgeDays: lc.File.MaxAgeDays,
			Compress:   lc.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

// logTarget parses telegram.group_log; ok is false when unset or invalid.
func logTarget(cfg *config.Config) (int64, bool) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	out := storage.Config{
		Driver: strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:   strings.TrimSpace(sc.Path),
		DSN:    strings.TrimSpace(sc.DSN),
	}
	switch out.Driver {
	case "", "sqlite", "sqlite3":
		out.Driver = "sqlite"
		if out.Path == "" {
			out.Path = "./data/copybot.db"
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return out, err
		}
		out.BusyTimeout = busy
	case "postgres", "postgresql", "pq":
		out.Driver = "postgres"
		if out.DSN == "" {
			return out, fmt.Errorf("storage.dsn is required for postgres (or set %s)", config.EnvDatabaseURL)
		}
	default:
		return out, fmt.Errorf("storage.driver: unknown %q", sc.Driver)
	}
	return out, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := config.DefaultNotifier()
	if cfg.Notifier != nil {
		nc = *cfg.Notifier
	}
	if nc.Workers < 0 || nc.QueueSize < 0 || nc.RatePerSec < 0 || nc.RetryMax < 0 {
		return notifier.Config{}, errors.New("notifier: workers, queue_size, rate_per_sec and retry_max must be >= 0")
	}
	base, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTO, err := config.ParseDurationField("notifier.send_timeout", nc.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       nc.Enabled,
		Workers:       nc.Workers,
		QueueSize:     nc.QueueSize,
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		SendTimeout:   sendTO,
	}, nil
}

func mapRelaySettings(cfg *config.Config) (relay.Settings, error) {
	rc := cfg.Relay
	if strings.TrimSpace(rc.LeaderUsername) == "" && rc.LeaderUserID == 0 {
		return relay.Settings{}, fmt.Errorf("relay.leader_username or relay.leader_user_id is required (or set %s)", config.EnvLeader)
	}
	auth, err := signal.NewAuthenticator(rc.Secret, rc.SignatureLength)
	if err != nil {
		return relay.Settings{}, fmt.Errorf("relay.secret: %w (or set %s)", err, config.EnvSignalSecret)
	}
	if rc.FanoutConcurrency < 0 {
		return relay.Settings{}, errors.New("relay.fanout_concurrency must be >= 0")
	}
	var refs []string
	for _, r := range rc.ReferralCodes {
		if r = strings.TrimSpace(r); r != "" {
			refs = append(refs, r)
		}
	}
	storeTO, err := config.ParseDurationOrDefault("relay.store_timeout", rc.StoreTimeout, 5*time.Second)
	if err != nil {
		return relay.Settings{}, err
	}
	return relay.Settings{
		Codec:             signal.NewCodec(rc.Marker, rc.LeaderUsername, rc.LeaderUserID),
		Auth:              auth,
		ReferralCodes:     refs,
		FanoutConcurrency: rc.FanoutConcurrency,
		StoreTimeout:      storeTO,
		NotifyPrefix:      rc.NotifyPrefix,
	}, nil
}

type httpSettings struct {
	server  httpapi.Config
	handler httpapi.HandlerOptions
	router  httpapi.RouterOptions
}

func mapHTTPConfig(cfg *config.Config) (httpSettings, error) {
	hc := cfg.HTTP
	var out httpSettings
	addr := strings.TrimSpace(hc.Addr)
	if addr == "" {
		addr = httpapi.DefaultAddr
	}
	if hc.Enabled {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return out, fmt.Errorf("http.addr: invalid %q (expected host:port): %w", addr, err)
		}
	}
	if hc.SignalsLimit < 0 || hc.SignalsLimit > relay.MaxPendingLimit {
		return out, fmt.Errorf("http.signals_limit must be between 0 and %d", relay.MaxPendingLimit)
	}
	if hc.RateLimitPerMin < 0 {
		return out, errors.New("http.rate_limit_per_min must be >= 0")
	}
	readTO, err := config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 10*time.Second)
	if err != nil {
		return out, err
	}
	writeTO, err := config.ParseDurationOrDefault("http.write_timeout", hc.WriteTimeout, 15*time.Second)
	if err != nil {
		return out, err
	}
	idleTO, err := config.ParseDurationOrDefault("http.idle_timeout", hc.IdleTimeout, 120*time.Second)
	if err != nil {
		return out, err
	}
	out.server = httpapi.Config{Enabled: hc.Enabled, Addr: addr, ReadTimeout: readTO, WriteTimeout: writeTO, IdleTimeout: idleTO}
	out.handler = httpapi.HandlerOptions{StrictErrors: hc.StrictErrors, SignalsLimit: hc.SignalsLimit}
	out.router = httpapi.RouterOptions{CORSOrigins: hc.CORSOrigins, RateLimitPerMin: hc.RateLimitPerMin}
	return out, nil
}

func mapRetentionConfig(cfg *config.Config) (retention.Config, error) {
	if cfg.Retention == nil {
		return retention.Config{}, nil
	}
	rc := cfg.Retention
	out := retention.Config{Enabled: rc.Enabled, Schedule: strings.TrimSpace(rc.Schedule)}
	if out.Schedule != "" {
		if err := retention.ParseSchedule(out.Schedule); err != nil {
			return out, err
		}
	}
	maxAge, err := config.ParseDurationOrDefault("retention.max_age", rc.MaxAge, retention.DefaultMaxAge)
	if err != nil {
		return out, err
	}
	out.MaxAge = maxAge
	return out, nil
}

// validate runs every mapper; it is the hot-reload gate.
func validate(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := mapAdapterConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRelaySettings(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRetentionConfig(cfg); err != nil {
		return err
	}
	return nil
}
