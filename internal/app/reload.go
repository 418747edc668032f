package app

import (
	"context"
	"reflect"
	"slices"
	"strings"
	"time"

	"copybot/internal/config"
	logx "copybot/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts; only the newest config matters
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			if next == nil {
				continue
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	if id, ok := logTarget(next); ok {
		a.logs.SetTelegramTarget(id, next.Logging.Telegram.ThreadID)
	} else {
		a.logs.SetTelegramTarget(0, 0)
	}
	a.logs.Apply(mapLoggingConfig(next))

	if rs, err := mapRelaySettings(next); err != nil {
		a.log.Warn("invalid relay config; keeping previous", logx.Err(err))
	} else {
		a.relay.Apply(rs)
	}

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	if hs, err := mapHTTPConfig(next); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.api.Apply(hs.handler)
		old, _ := mapHTTPConfig(prev)
		if !slices.Equal(old.router.CORSOrigins, hs.router.CORSOrigins) || old.router.RateLimitPerMin != hs.router.RateLimitPerMin ||
			prev.HTTP.Metrics != next.HTTP.Metrics {
			a.log.Warn("http middleware settings changed; restart required")
		}
		if !reflect.DeepEqual(old.server, hs.server) {
			a.http.Reconfigure(ctx, hs.server)
		}
	}

	if rc, err := mapRetentionConfig(next); err != nil {
		a.log.Warn("invalid retention config; keeping previous", logx.Err(err))
	} else {
		a.sweep.Apply(rc)
	}

	a.log.Info("config reloaded", fields...)
}
