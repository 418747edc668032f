package config

import (
	"reflect"
	"sort"
	"strings"

	logx "copybot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections, safe log attrs (never
// secrets) and the subset of changed sections that only apply after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.Mode != nt.Mode || ot.PollTimeout != nt.PollTimeout ||
		ot.Workers != nt.Workers || !reflect.DeepEqual(ot.Webhook, nt.Webhook) {
		changed = append(changed, "telegram")
		restart = append(restart, "telegram")
		attrs = append(attrs,
			logx.String("telegram.mode", strings.TrimSpace(nt.Mode)),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}
	if strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) {
		changed = append(changed, "telegram.group_log")
		attrs = append(attrs, logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""))
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	or, nr := oldCfg.Relay, newCfg.Relay
	if !reflect.DeepEqual(or, nr) {
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.String("relay.leader", nr.LeaderUsername),
			logx.Int("relay.referral_codes", len(nr.ReferralCodes)),
			logx.Int("relay.fanout_concurrency", nr.FanoutConcurrency),
			logx.Bool("relay.secret_changed", or.Secret != nr.Secret),
		)
	}

	if !reflect.DeepEqual(derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)) {
		n := derefNotifier(newCfg.Notifier)
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", n.Enabled),
			logx.Int("notifier.workers", n.Workers),
			logx.Int("notifier.rate_per_sec", n.RatePerSec),
		)
	}

	ost, nst := oldCfg.Storage, newCfg.Storage
	if ost != nst {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nst.Driver)),
			logx.Bool("storage.dsn_set", strings.TrimSpace(nst.DSN) != ""),
		)
	}

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	if !reflect.DeepEqual(oh, nh) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", nh.Addr),
			logx.Bool("http.strict_errors", nh.StrictErrors),
		)
	}

	if !reflect.DeepEqual(oldCfg.Retention, newCfg.Retention) {
		changed = append(changed, "retention")
		if newCfg.Retention != nil {
			attrs = append(attrs,
				logx.Bool("retention.enabled", newCfg.Retention.Enabled),
				logx.String("retention.schedule", newCfg.Retention.Schedule),
				logx.String("retention.max_age", newCfg.Retention.MaxAge),
			)
		}
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}

// DefaultNotifier is the notifier section used when the config omits it.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:       true,
		Workers:       2,
		QueueSize:     512,
		RatePerSec:    25,
		RetryMax:      3,
		RetryBase:     "500ms",
		RetryMaxDelay: "10s",
		SendTimeout:   "10s",
	}
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return DefaultNotifier()
	}
	return *n
}
