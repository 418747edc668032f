package config

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	logx "copybot/pkg/logx"
)

func TestDecodeJSONAndYAML(t *testing.T) {
	t.Parallel()

	js := []byte(`{"telegram":{"token":"t","poll_timeout":"10s"},"relay":{"leader_username":"godseye","referral_codes":["GODSEYE"]},"storage":{"driver":"sqlite","path":"x.db"}}`)
	cfg, err := Decode("config.json", js)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if cfg.Relay.LeaderUsername != "godseye" || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("json decoded wrong: %+v", cfg)
	}

	ym := []byte("telegram:\n  token: t\nrelay:\n  leader_username: godseye\n  signature_length: 16\nhttp:\n  enabled: true\n  addr: \":9090\"\n")
	cfg, err = Decode("config.yaml", ym)
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if cfg.Relay.SignatureLength != 16 || !cfg.HTTP.Enabled || cfg.HTTP.Addr != ":9090" {
		t.Fatalf("yaml decoded wrong: %+v", cfg)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()

	if _, err := Decode("c.json", []byte(`{"relay":{"leadr":"x"}}`)); err == nil {
		t.Fatal("unknown field accepted")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("trailing data err = %v", err)
	}
	if _, err := Decode("c.yml", []byte("")); err == nil {
		t.Fatal("empty yaml accepted")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		EnvBotToken:     "env-token",
		EnvSignalSecret: " s3cret ",
		EnvDatabaseURL:  "postgres://u:p@db/relay",
		EnvHTTPAddr:     "",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := &Config{HTTP: HTTPConfig{Addr: ":8080"}}
	applyEnv(cfg, lookup)

	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Relay.Secret != "s3cret" {
		t.Fatalf("secret = %q", cfg.Relay.Secret)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN == "" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("empty env var overrode addr: %q", cfg.HTTP.Addr)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	old := &Config{
		Telegram: TelegramConfig{Token: "a"},
		Relay:    RelayConfig{LeaderUsername: "godseye", Secret: "k"},
		Storage:  StorageConfig{Driver: "sqlite", Path: "a.db"},
	}
	next := *old
	next.Relay.Secret = "k2"
	next.Storage.Path = "b.db"

	changed, attrs, restart := SummarizeConfigChange(old, &next)
	if !slices.Equal(changed, []string{"relay", "storage"}) {
		t.Fatalf("changed = %v", changed)
	}
	if !slices.Equal(restart, []string{"storage"}) {
		t.Fatalf("restart = %v", restart)
	}
	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config changed", attrs...)
	if strings.Contains(buf.String(), "k2") {
		t.Fatalf("secret leaked into attrs: %s", buf.String())
	}

	if c, _, _ := SummarizeConfigChange(old, old); len(c) != 0 {
		t.Fatalf("identical configs reported changes: %v", c)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative accepted")
	}
	if _, err := ParseDurationField("relay.store_timeout", "soon"); err == nil || !strings.Contains(err.Error(), "relay.store_timeout") {
		t.Fatalf("error does not name the key: %v", err)
	}
	if d, _ := ParseDurationOrDefault("x", "", 3*time.Second); d != 3*time.Second {
		t.Fatalf("default not applied: %v", d)
	}

	days := map[string]time.Duration{
		"7d":   168 * time.Hour,
		"1.5d": 36 * time.Hour,
		" 2d ": 48 * time.Hour,
		"90m":  90 * time.Minute,
	}
	for raw, want := range days {
		if d, err := ParseDurationField("retention.max_age", raw); err != nil || d != want {
			t.Fatalf("ParseDurationField(%q) = %v %v, want %v", raw, d, err, want)
		}
	}
	for _, bad := range []string{"-1d", "d", "1h2d", "weekd"} {
		if _, err := ParseDurationField("retention.max_age", bad); err == nil {
			t.Fatalf("ParseDurationField(%q) accepted", bad)
		}
	}
}

func TestReloadValidatesAndPublishes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write(`{"relay":{"leader_username":"a"}}`)

	m := NewConfigManager(path)
	m.lookupEnv = func(string) (string, bool) { return "", false }
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Relay.LeaderUsername == "" {
			return errors.New("leader required")
		}
		return nil
	})

	// unchanged content is not republished
	m.reload(context.Background())
	select {
	case <-ch:
		t.Fatal("unchanged config published")
	default:
	}

	write(`{"relay":{"leader_username":""}}`)
	m.reload(context.Background())
	select {
	case <-ch:
		t.Fatal("invalid config published")
	default:
	}
	if m.Get().Relay.LeaderUsername != "a" {
		t.Fatal("invalid config committed")
	}

	write(`{"relay":{"leader_username":"b"}}`)
	m.reload(context.Background())
	select {
	case cfg := <-ch:
		if cfg.Relay.LeaderUsername != "b" {
			t.Fatalf("published %q", cfg.Relay.LeaderUsername)
		}
	default:
		t.Fatal("valid config not published")
	}
}
