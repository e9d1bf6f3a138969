// Package app composes the daemon: config manager, logging service, shared
// store, event bus, notifier channels, and the two scheduling contexts, all
// running under one supervisor.
package app

import (
	"context"
	"time"

	"github.com/jmhodges/clock"

	"alarmd/internal/alert"
	"alarmd/internal/background"
	"alarmd/internal/config"
	"alarmd/internal/eventbus"
	"alarmd/internal/foreground"
	"alarmd/internal/notifier"
	"alarmd/internal/observability/pprof"
	"alarmd/internal/runtime/supervisor"
	"alarmd/internal/store"
	logx "alarmd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	st   store.Store

	fg      *foreground.Scheduler
	monitor *background.Monitor
	notif   *notifier.Service
	tg      *notifier.Telegram
	pprof   *pprof.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	st, err := store.Open(mapStoreConfig(cfg), log.With(logx.String("comp", "store")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		st:      st,
	}

	a.fg = foreground.New(foreground.Config{
		SnoozeMinutes: cfg.Alarm.SnoozeMinutes,
		SnoozeLimit:   cfg.Alarm.SnoozeLimitOrDefault(),
	}, st, bus, clock.New(), log.With(logx.String("comp", "foreground")), foreground.Callbacks{
		// This context noticed first, so it owns the user alert.
		OnRing: func(reason alert.Reason, count, limit int) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.notif.Alert(ctx, notifier.AlarmAlert(reason, count, limit)); err != nil {
				log.Warn("ring alert failed", logx.Err(err))
			}
		},
	})

	channels, tg, err := buildChannels(cfg, st, a, log)
	if err != nil {
		st.Close()
		logSvc.Close()
		return nil, err
	}
	a.tg = tg
	a.notif = notifier.New(notifier.Config{RatePerSec: cfg.Notifier.RatePerSec},
		log.With(logx.String("comp", "notifier")), channels...)

	poll, _ := config.ParseDurationOrDefault("monitor.poll_interval", cfg.Monitor.PollInterval, 30*time.Second)
	a.monitor = background.New(background.Config{
		PollInterval:  poll,
		SnoozeDefault: cfg.Alarm.SnoozeDuration(),
	}, st, bus, a.notif, clock.New(), a.fg, log.With(logx.String("comp", "monitor")))

	a.pprof = pprof.New(pprof.Config{
		Enabled: cfg.Pprof.Enabled,
		Addr:    cfg.Pprof.Addr,
		Token:   cfg.Pprof.Token,
	}, log)

	return a, nil
}

func mapStoreConfig(cfg *config.Config) store.Config {
	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	path := cfg.Storage.Path
	if path == "" {
		path = "./alarmd.db"
	}
	return store.Config{Path: path, BusyTimeout: busy}
}

// buildChannels assembles the platform alert channels the config enables.
// Console is always on: a headless daemon still needs a visible trace of
// every ring.
func buildChannels(cfg *config.Config, st store.Store, a *App, log logx.Logger) ([]notifier.Channel, *notifier.Telegram, error) {
	channels := []notifier.Channel{notifier.NewConsole(log.With(logx.String("comp", "alert")))}

	var tg *notifier.Telegram
	if cfg.Notifier.Telegram.Enabled {
		pollTimeout, err := config.ParseDurationOrDefault("notifier.telegram.poll_timeout",
			cfg.Notifier.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, nil, err
		}
		tg, err = notifier.NewTelegram(notifier.TelegramConfig{
			Token:       cfg.Notifier.Telegram.Token,
			ChatID:      cfg.Notifier.Telegram.ChatID,
			PollTimeout: pollTimeout,
		}, notifier.Callbacks{
			// Button taps arrive with no foreground surface; route them
			// through the background context.
			OnSnooze: func(ctx context.Context) error {
				return a.monitor.RequestSnooze(ctx, 0)
			},
			OnOpen: func(ctx context.Context) {
				if err := a.fg.Resume(ctx); err != nil {
					log.Warn("resume on open failed", logx.Err(err))
				}
			},
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, nil, err
		}
		channels = append(channels, tg)
	}

	if cfg.Notifier.WebPush.Enabled {
		wp, err := notifier.NewWebPush(notifier.WebPushConfig{
			Subscriber: cfg.Notifier.WebPush.Subscriber,
			PublicKey:  cfg.Notifier.WebPush.PublicKey,
			PrivateKey: cfg.Notifier.WebPush.PrivateKey,
			TTLSeconds: cfg.Notifier.WebPush.TTLSeconds,
		}, st, log.With(logx.String("comp", "webpush")))
		if err != nil {
			return nil, nil, err
		}
		channels = append(channels, wp)
	}
	return channels, tg, nil
}

// Foreground exposes the user-facing scheduler for UI surfaces.
func (a *App) Foreground() *foreground.Scheduler { return a.fg }

// Monitor exposes the background context, mainly for alert-action handlers.
func (a *App) Monitor() *background.Monitor { return a.monitor }

// Done is closed when the supervisor context dies (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	// Arm the foreground chain from the configured intent before anything
	// can fire.
	if cfg := a.cfgm.Get(); cfg != nil && cfg.Alarm.Enabled {
		sc, err := cfg.Alarm.ScheduleConfig()
		if err != nil {
			return err
		}
		if err := a.fg.Init(a.sup.Context(), sc); err != nil {
			return err
		}
	}

	a.sup.Go("background.monitor", a.monitor.Start)

	if a.tg != nil {
		a.sup.GoRestart("telegram", a.tg.Start)
	}
	if a.pprof.Enabled() {
		a.sup.GoRestart("pprof", a.pprof.Run)
	}

	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})

	// Debug trace of everything crossing the bus.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event",
					logx.String("kind", string(e.Kind)),
					logx.String("id", e.ID))
			}
		}
	})

	a.log.Info("alarmd started")
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the newest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			a.applyReload(ctx, cfg)
		}
	}
}

func (a *App) applyReload(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if !cfg.Alarm.Enabled {
		if err := a.fg.Stop(ctx); err != nil {
			a.log.Warn("disable on reload failed", logx.Err(err))
		}
	} else {
		sc, err := cfg.Alarm.ScheduleConfig()
		if err != nil {
			a.log.Warn("reload: bad alarm config", logx.Err(err))
		} else if err := a.fg.Init(ctx, sc); err != nil {
			a.log.Warn("reload: re-arm failed", logx.Err(err))
		}
	}
	a.monitor.Refresh(ctx)
	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil {
			a.log.Warn("supervisor stop", logx.Err(err))
		}
	}
	a.fg.Shutdown()
	if err := a.st.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	a.log.Info("alarmd stopped")
	return a.logs.Close()
}
