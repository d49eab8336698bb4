package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fcfswatch/internal/bot"
	"fcfswatch/internal/catalog"
	"fcfswatch/internal/config"
	"fcfswatch/internal/eventbus"
	"fcfswatch/internal/eventbus/amqpbridge"
	"fcfswatch/internal/httpapi"
	"fcfswatch/internal/metrics"
	"fcfswatch/internal/monitor"
	"fcfswatch/internal/notifier"
	rtsup "fcfswatch/internal/runtime/supervisor"
	"fcfswatch/internal/storage"
	kit "fcfswatch/internal/transport"
	telegram "fcfswatch/internal/transport/telegram/adapter"
	"fcfswatch/internal/transport/telegram/router"
	logx "fcfswatch/pkg/logx"
	"fcfswatch/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	notif   *notifier.Service
	chain   *catalog.Chain
	mon     *monitor.Service
	metrics *metrics.Metrics
	http    *httpapi.Server
	amqp    *amqpbridge.Bridge
	sd      *systemd.Notifier

	cmdm     *router.CommandManager
	handlers *bot.Handlers
	sups     *router.SupervisorRegistry

	updates chan kit.Update
}

// New builds the full bot: Telegram transport, command router and every
// configured side service.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(ctx, cfg); err != nil {
		return nil, err
	}

	pollTimeout, _ := mapPollTimeout(cfg)
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logx.Nop())
	if err != nil {
		return nil, err
	}

	a, err := build(ctx, cfgm, cfg, ad)
	if err != nil {
		return nil, err
	}
	a.adapter = ad
	ad.SetLogger(a.log.With(logx.String("comp", "telegram")))
	a.updates = make(chan kit.Update, 256)

	a.sups = router.NewSupervisorRegistry()
	a.cmdm = router.NewCommandManager(a.log.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs)
	a.cmdm.SetSupervisorRegistry(a.sups)
	mcfg := a.mon.Config()
	a.handlers = bot.New(a.mon, bot.Options{Supervisors: a.sups, SpaceLimit: mcfg.MaxSpaces})
	a.cmdm.SetRegistry(a.handlers.Commands())

	if hc, enabled, _ := mapHTTP(cfg); enabled {
		a.http = httpapi.New(hc, a.mon, a.metrics.Handler(), a.log)
	}
	if ac, enabled, _ := mapAMQP(cfg); enabled {
		a.amqp = amqpbridge.New(ac, amqpbridge.DialAMQP, a.log.With(logx.String("comp", "amqp")))
	}
	a.sd = systemd.New(cfg.Systemd.Notify, a.log.With(logx.String("comp", "systemd")))
	return a, nil
}

// NewHeadless builds storage, catalog and monitor without any chat
// transport. Used by one-shot CLI commands; nothing is sent.
func NewHeadless(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return build(ctx, cfgm, cfg, nil)
}

// build wires the components shared by both modes. sender may be nil.
func build(ctx context.Context, cfgm *config.Manager, cfg *config.Config, sender logx.Sender) (*App, error) {
	logSvc, log := logx.New(mapLogging(cfg), sender)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, _ := mapStorage(cfg)
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	met := metrics.New(prometheus.NewRegistry())

	cc, _ := mapCatalog(cfg)
	chain := catalog.New(cc, log.With(logx.String("comp", "catalog")))
	chain.SetObserver(met)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		chain:   chain,
		metrics: met,
	}

	deps := monitor.Deps{Store: store, Source: chain, Bus: bus}
	if ad, ok := sender.(kit.Adapter); ok && ad != nil {
		ncfg, _ := mapNotifier(cfg)
		ncfg.PersistDedup = true
		a.notif = notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), bus, store)
		deps.Sender = a.notif
		deps.Notifier = a.notif
	}
	mcfg, _ := mapMonitor(cfg)
	a.mon = monitor.NewService(mcfg, deps, log)
	a.mon.Scanner().SetObserver(met)
	return a, nil
}

func (a *App) Monitor() *monitor.Service { return a.mon }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.adapter == nil {
		return fmt.Errorf("app built without a transport cannot be started")
	}
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.sups.Set("app", a.sup)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
		a.sups.Set("notifier", a.notif.Supervisor())
	}
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sups.Set("telegram.adapter", a.adapter.Supervisor())

	a.sup.Go0("metrics.consume", func(c context.Context) {
		a.metrics.Consume(c, a.bus)
	})
	if a.amqp != nil {
		a.sup.GoRestart("events.amqp", func(c context.Context) error {
			return a.amqp.Run(c, a.bus)
		},
			rtsup.WithRestartBackoff(time.Second, 30*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}
	if a.http != nil {
		if err := a.http.Start(); err != nil {
			return err
		}
		a.log.Info("http listening", logx.String("addr", a.http.Addr()))
	}

	if err := a.mon.Boot(a.sup.Context()); err != nil {
		return fmt.Errorf("monitor boot: %w", err)
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("commands.menu", func(c context.Context) {
		if err := a.cmdm.PublishMenu(c); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
	})

	// Debug-level event trail; metrics and the AMQP bridge subscribe themselves.
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

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if a.sd.Ready() {
		a.sup.Go("systemd.watchdog", a.sd.RunWatchdog)
	}
	a.sd.Status(fmt.Sprintf("monitoring %s", a.mon.Config().Mode))

	a.log.Info("app started", logx.Strings("sources", a.chain.Sources()))
	return nil
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if config.RequiresRestart(s) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogging(next))
	a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)

	// The validator already accepted next, so mapping errors are not expected.
	if mcfg, err := mapMonitor(next); err != nil {
		a.log.Warn("invalid monitor config; keeping previous", logx.Err(err))
	} else {
		a.mon.Apply(mcfg)
		a.handlers.SetSpaceLimit(a.mon.Config().MaxSpaces)
	}

	if ncfg, err := mapNotifier(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		ncfg.PersistDedup = true
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
			a.sups.Delete("notifier")
		case !wasEnabled && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
			a.sups.Set("notifier", a.notif.Supervisor())
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		runStep(ctx, a.log, name, max, fn)
	}

	step("monitor", 3*time.Second, func(c context.Context) error { a.mon.Shutdown(c); return nil })
	step("http", 2*time.Second, func(c context.Context) error {
		if a.http != nil {
			a.http.Stop(c)
		}
		return nil
	})
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, command dispatcher, etc.)
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.logs.Close()
}

// Close releases a headless app.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// runStep runs one shutdown step with an upper bound so one component
// can't stall the whole stop. It never extends the caller's deadline.
func runStep(ctx context.Context, log logx.Logger, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	stepCtx := ctx
	if limit > 0 {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < limit {
				limit = max(rem, 0)
			}
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

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
			log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		// fn must honor stepCtx; if it doesn't, log when it finally returns.
		log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
