// Package app wires configuration, storage, transport, dispatch and the
// periodic trigger into one process.
package app

import (
	"context"
	"strconv"
	"time"

	"signalbot/internal/broadcast"
	"signalbot/internal/config"
	"signalbot/internal/dispatch"
	"signalbot/internal/runtime/supervisor"
	"signalbot/internal/scheduler"
	"signalbot/internal/storage"
	"signalbot/internal/transport"
	"signalbot/internal/transport/telegram"
	"signalbot/pkg/logx"
)

const updateQueueSize = 64

type App struct {
	cfg config.Config

	logSvc *logx.Service
	log    logx.Logger

	store   storage.Store
	adapter transport.Adapter
	engine  *broadcast.Engine
	disp    *dispatch.Dispatcher
	sched   *scheduler.Service
	watcher *config.OverridesWatcher

	sup     *supervisor.Supervisor
	updates chan transport.Update
}

func New(cfg config.Config) (*App, error) {
	// The adapter is constructed with a plain console logger because the log
	// service itself wants the adapter as its telegram sink.
	bootLog := logx.NewConsole(cfg.LogLevel)

	adapter, err := telegram.New(telegram.Config{
		Token:      cfg.Token,
		PublicURL:  cfg.PublicWebhookURL(),
		ListenAddr: listenAddr(cfg.Port),
	}, bootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.LogLevel,
		Console: true,
		File: logx.FileConfig{
			Enabled: cfg.LogFile != "",
			Path:    cfg.LogFile,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.AdminID != 0,
			MinLevel:   "error",
			RatePerSec: 1,
		},
	}, adapter)
	if cfg.AdminID != 0 {
		logSvc.SetTelegramTarget(cfg.AdminID)
	}

	store, err := storage.Open(storage.Config{
		Path:        cfg.DBPath,
		BusyTimeout: 5 * time.Second,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	engine := broadcast.New(store, adapter, log.With(logx.String("comp", "broadcast")))
	disp := dispatch.New(store, adapter, engine, cfg.AdminID, log.With(logx.String("comp", "dispatch")))

	sched := scheduler.New(scheduler.Config{
		Interval: cfg.BroadcastInterval,
	}, func(ctx context.Context, text string) {
		_, _ = engine.Broadcast(ctx, text)
	}, log.With(logx.String("comp", "scheduler")))

	a := &App{
		cfg:     cfg,
		logSvc:  logSvc,
		log:     log.With(logx.String("comp", "app")),
		store:   store,
		adapter: adapter,
		engine:  engine,
		disp:    disp,
		sched:   sched,
		updates: make(chan transport.Update, updateQueueSize),
	}
	if cfg.OverridesPath != "" {
		a.watcher = config.NewOverridesWatcher(cfg.OverridesPath, log.With(logx.String("comp", "overrides")))
	}
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go0("dispatch.loop", func(c context.Context) {
		a.disp.Run(c, a.updates)
	})

	if a.watcher != nil {
		if o, err := a.watcher.Load(); err != nil {
			a.log.Warn("overrides load failed", logx.Err(err))
		} else {
			a.applyOverrides(o)
		}
		a.sup.Go("overrides.watch", a.watcher.Watch)
		a.sup.Go0("overrides.apply", func(c context.Context) {
			ch := a.watcher.Subscribe(1)
			defer a.watcher.Unsubscribe(ch)
			for {
				select {
				case <-c.Done():
					return
				case o, ok := <-ch:
					if !ok {
						return
					}
					a.applyOverrides(o)
				}
			}
		})
	}

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	a.log.Info("signalbot started",
		logx.Bool("webhook", a.cfg.PublicWebhookURL() != ""),
		logx.Duration("broadcast_interval", a.cfg.BroadcastInterval))
	return nil
}

func (a *App) applyOverrides(o config.Overrides) {
	level := a.cfg.LogLevel
	if o.LogLevel != "" {
		level = o.LogLevel
	}
	a.logSvc.Apply(logx.Config{
		Level:   level,
		Console: true,
		File: logx.FileConfig{
			Enabled: a.cfg.LogFile != "",
			Path:    a.cfg.LogFile,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    a.cfg.AdminID != 0,
			MinLevel:   "error",
			RatePerSec: 1,
		},
	})

	interval := a.cfg.BroadcastInterval
	if d, ok := o.IntervalDuration(); ok {
		interval = d
	}
	if err := a.sched.Apply(scheduler.Config{
		Interval:   interval,
		SampleText: o.Broadcast.SampleText,
	}); err != nil {
		a.log.Warn("scheduler apply failed", logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.sched.Stop()
	_ = a.adapter.Stop(ctx)

	if a.sup != nil {
		a.sup.Cancel()
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = a.sup.Wait(wctx)
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	_ = a.logSvc.Close()
	a.log.Info("signalbot stopped")
	return nil
}

func listenAddr(port int) string {
	if port <= 0 {
		port = 8000
	}
	return ":" + strconv.Itoa(port)
}
