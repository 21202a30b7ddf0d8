// Package app wires the catalog poller, dispatcher, subscriber registry and
// chat adapter into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"shopwatch/internal/catalog"
	"shopwatch/internal/commands"
	"shopwatch/internal/config"
	"shopwatch/internal/dispatch"
	"shopwatch/internal/eventbus"
	"shopwatch/internal/observability/metrics"
	"shopwatch/internal/observability/server"
	"shopwatch/internal/render"
	rtsup "shopwatch/internal/runtime/supervisor"
	"shopwatch/internal/scheduler"
	"shopwatch/internal/storage"
	"shopwatch/internal/subscribers"
	kit "shopwatch/internal/transport"
	telegram "shopwatch/internal/transport/telegram/adapter"
	logx "shopwatch/pkg/logx"
	"shopwatch/pkg/systemd"
)

const pollJob = "catalog.poll"

// ChatAdapter is the chat platform surface the app needs.
type ChatAdapter interface {
	kit.Adapter
	kit.Resolver
	Username() string
}

type App struct {
	cfgm    *config.Manager
	secrets config.Secrets

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	metrics *metrics.Metrics
	notify  *systemd.Notifier

	store    storage.Store
	registry *subscribers.Registry
	adapter  ChatAdapter

	poller     *catalog.Poller
	dispatcher *dispatch.Dispatcher
	sched      *scheduler.Service
	commands   *commands.Handler
	server     *server.Service

	sup     *rtsup.Supervisor
	updates chan kit.Update

	stateMu  sync.Mutex
	started  bool
	lastPoll catalog.Result
	lastAt   time.Time
}

// deps are the externally connected collaborators. New builds real ones; tests
// pass fakes to build.
type deps struct {
	adapter ChatAdapter
	fetcher catalog.Fetcher
	store   storage.Store
	logs    *logx.Service
	log     logx.Logger
}

// New loads configuration and secrets, connects to Telegram and opens the
// subscriber store. Any failure here is fatal.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	sec, err := config.LoadSecrets()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level)
	ad, err := telegram.New(telegram.Config{
		Token:       sec.TelegramBotToken,
		PollTimeout: cfg.Telegram.PollTimeout.D(),
	}, bootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.LogConfig(), ad)

	store, err := storage.Open(mapStorageConfig(cfg, sec), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	client := catalog.NewClient(mapCatalogConfig(cfg, sec), log.With(logx.String("comp", "catalog")))
	return build(cfgm, sec, deps{adapter: ad, fetcher: client, store: store, logs: logSvc, log: log}), nil
}

func build(cfgm *config.Manager, sec config.Secrets, d deps) *App {
	cfg := cfgm.Get()
	log := d.log
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &App{
		cfgm:    cfgm,
		secrets: sec,
		log:     log.With(logx.String("comp", "app")),
		logs:    d.logs,
		bus:     eventbus.New(),
		metrics: metrics.New(),
		notify:  systemd.New(log.With(logx.String("comp", "systemd"))),
		store:   d.store,
		adapter: d.adapter,
		updates: make(chan kit.Update, 256),
	}
	a.registry = subscribers.New(d.store, log.With(logx.String("comp", "subscribers")),
		subscribers.WithBus(a.bus),
		subscribers.WithGauge(a.metrics.Subscribers),
	)
	a.dispatcher = dispatch.New(d.adapter, d.adapter, mapDispatchConfig(cfg), log.With(logx.String("comp", "dispatch")),
		dispatch.WithBus(a.bus),
		dispatch.WithMetrics(a.metrics),
	)
	a.poller = catalog.NewPoller(d.fetcher, log.With(logx.String("comp", "poller")),
		catalog.WithBus(a.bus),
		catalog.WithMetrics(a.metrics),
		catalog.WithChangeHandler(a.onChange),
	)
	a.sched = scheduler.New(scheduler.Config{Timezone: cfg.Poll.Timezone}, log.With(logx.String("comp", "scheduler")))
	a.commands = commands.New(a.registry, d.adapter.Username(), log.With(logx.String("comp", "commands")))
	a.server = server.New(mapServerConfig(cfg, sec), a.metrics.Registry, a.health, log.With(logx.String("comp", "http")))
	return a
}

// onChange notifies every subscriber about a new catalog.
func (a *App) onChange(ctx context.Context, snap *catalog.Snapshot) {
	items := render.Render(snap)
	if len(items) == 0 {
		a.log.Info("catalog changed but has no featured items", logx.String("fingerprint", snap.Fingerprint))
		return
	}
	a.dispatcher.Dispatch(ctx, items, a.registry.Snapshot())
}

func (a *App) tick(ctx context.Context) {
	res := a.poller.Tick(ctx)
	if res.Outcome == catalog.Skipped {
		return
	}
	a.stateMu.Lock()
	a.lastPoll = res
	a.lastAt = time.Now()
	a.stateMu.Unlock()
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start loads subscribers, starts the chat adapter, and only then arms the poll
// timer. A corrupt subscriber store aborts startup.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.checkReload)

	if _, err := a.registry.Load(run); err != nil {
		if errors.Is(err, storage.ErrCorrupt) {
			a.log.Error("subscriber store is corrupt; refusing to start", logx.Err(err))
		}
		return err
	}

	if err := a.adapter.Start(run, a.updates); err != nil {
		return fmt.Errorf("chat adapter: %w", err)
	}
	if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		mctx, cancel := context.WithTimeout(run, 10*time.Second)
		if err := mu.UpdateMenuCommands(mctx, commands.Menu); err != nil {
			a.log.Warn("command menu not published", logx.Err(err))
		}
		cancel()
	}

	a.sup.Go0("commands", func(c context.Context) {
		a.commands.Run(c, a.updates, a.adapter)
	})
	a.sup.Go0("eventbus.log", a.logEvents)

	if err := a.sched.Add(pollJob, cfg.Poll.Interval, a.tick); err != nil {
		return fmt.Errorf("poll.interval: %w", err)
	}
	if err := a.sched.Start(run); err != nil {
		return err
	}
	if cfg.Poll.RunOnStart {
		a.sched.RunNow(pollJob)
	}

	a.server.Reconfigure(run, mapServerConfig(cfg, a.secrets))

	reloads := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, reloads) })
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", a.notify.Watchdog)

	a.stateMu.Lock()
	a.started = true
	a.stateMu.Unlock()

	a.notify.Ready()
	a.log.Info("app started",
		logx.String("bot", a.adapter.Username()),
		logx.String("poll_interval", cfg.Poll.Interval),
		logx.Int("subscribers", a.registry.Count()),
	)
	return nil
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// Stop shuts components down in reverse dependency order. Each step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.notify.Stopping()
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.stateMu.Lock()
	a.started = false
	a.stateMu.Unlock()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
			return
		}
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("http", time.Second, func(c context.Context) error { a.server.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
