package app

import (
	"context"
	"fmt"
	"time"

	"copybot/internal/config"
	"copybot/internal/eventbus"
	"copybot/internal/httpapi"
	"copybot/internal/metrics"
	"copybot/internal/notifier"
	"copybot/internal/relay"
	"copybot/internal/retention"
	rtsup "copybot/internal/runtime/supervisor"
	"copybot/internal/storage"
	kit "copybot/internal/transport"
	telegram "copybot/internal/transport/telegram/adapter"
	"copybot/internal/transport/telegram/router"
	logx "copybot/pkg/logx"
)

// plainTimeout bounds one leader alert end to end, including the fan-out.
const plainTimeout = 5 * time.Minute

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	disp    *router.Dispatcher
	notif   *notifier.Service
	relay   *relay.Service
	metrics *metrics.Collector
	api     *httpapi.Handler
	http    *httpapi.Service
	sweep   *retention.Service

	updates chan kit.Update
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	adCfg, _ := mapAdapterConfig(cfg)
	ad, err := telegram.New(adCfg, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// Telegram logging starts disabled so Apply does not warn before the
	// target chat is set.
	logCfg := mapLoggingConfig(cfg)
	enableTG := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, root := logx.New(logCfg, func(ctx context.Context, chatID int64, threadID int, text string) error {
		_, err := ad.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true})
		return err
	})
	if id, ok := logTarget(cfg); ok {
		logSvc.SetTelegramTarget(id, cfg.Logging.Telegram.ThreadID)
	}
	logCfg.Telegram.Enabled = enableTG
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, _ := mapStorageConfig(cfg)
	store, err := storage.Open(ctx, sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	ncfg, _ := mapNotifierConfig(cfg)
	notif := notifier.New(ncfg, ad, root.With(logx.String("comp", "notifier")), bus,
		notifier.WithPermanentErrors(telegram.IsPermanent))

	rs, _ := mapRelaySettings(cfg)
	relaySvc := relay.New(rs, relay.Deps{
		Store:    store,
		Notifier: notif,
		Bus:      bus,
		Log:      root.With(logx.String("comp", "relay")),
	})

	disp := router.NewDispatcher(root.With(logx.String("comp", "router")), ad, router.Options{
		Workers:      cfg.Telegram.Workers,
		PlainTimeout: plainTimeout,
	})

	hs, _ := mapHTTPConfig(cfg)
	var mc *metrics.Collector
	if cfg.HTTP.Metrics {
		mc = metrics.New()
		hs.router.Metrics = mc.Handler()
	}
	if adCfg.Mode == telegram.ModeWebhook {
		hs.router.WebhookPath = webhookPath(cfg)
		hs.router.Webhook = ad.WebhookHandler()
	}
	httpLog := root.With(logx.String("comp", "httpapi"))
	api := httpapi.NewHandler(relaySvc, store, hs.handler, httpLog)
	handler := httpapi.NewRouter(api, hs.router, httpLog)

	rc, _ := mapRetentionConfig(cfg)

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		disp:    disp,
		notif:   notif,
		relay:   relaySvc,
		metrics: mc,
		api:     api,
		http:    httpapi.New(hs.server, handler, httpLog),
		sweep:   retention.New(rc, store, root.With(logx.String("comp", "retention")), bus),
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	a.disp.SetSupervisor(a.sup)
	a.disp.SetPlainHandler(a.relay.PlainHandler())
	a.disp.SetCommands(a.relay.Commands())

	if a.notif.Enabled() {
		a.notif.Start(run)
	} else {
		a.log.Warn("notifier disabled; signals are stored but not pushed")
	}
	if a.metrics != nil {
		a.sup.Go0("metrics.collect", func(c context.Context) { a.metrics.Run(c, a.bus) })
	}
	// the webhook route must be up before Telegram is told about it
	if a.http.Enabled() {
		a.http.Start(run)
	}
	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.sup.Go("telegram.dispatch", func(c context.Context) error {
		return a.disp.Run(c, a.updates)
	})
	// a disabled sweep still records run so a reload can enable it
	a.sweep.Start(run)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped, no time left", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			go func() {
				<-done
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	step("adapter", 2*time.Second, a.adapter.Stop)
	step("http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("retention", time.Second, func(c context.Context) error { a.sweep.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
