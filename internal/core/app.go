package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"dealbot/internal/alerts"
	"dealbot/internal/config"
	"dealbot/internal/deals"
	"dealbot/internal/metrics"
	"dealbot/internal/notify"
	"dealbot/internal/ratelimit"
	"dealbot/internal/scheduler"
	"dealbot/internal/setup"
	"dealbot/internal/steam"
	"dealbot/internal/storage"
	"dealbot/internal/transport"
	"dealbot/internal/transport/telegram"
	"dealbot/pkg/logx"
)

// App owns every service and wires them together. All mutable domain state
// lives in the injected components, never in package globals, so tests can
// stand up isolated instances.
type App struct {
	mgr    *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store      storage.Store
	messenger  transport.Messenger
	cache      *deals.Cache
	subs       *alerts.Store
	setupMgr   *setup.Manager
	limiter    *ratelimit.Limiter
	notify     *notify.Service
	sched      *scheduler.Service
	mets       *metrics.Collector
	metricsSrv *metrics.Server
	handlers   *Handlers
	handle     HandlerFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	updates chan transport.Update
	wg      sync.WaitGroup
}

func NewApp(mgr *config.Manager, logSvc *logx.Service, log logx.Logger) (*App, error) {
	cfg := mgr.Get()
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	reg := prometheus.NewRegistry()
	mets := metrics.NewCollector(reg)

	store, err := storage.Open(cfg.ToStorage(), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	messenger, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.PollTimeout(),
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}

	fetcher := steam.NewClient(cfg.ToSteam(), log.With(logx.String("comp", "steam")))
	cache := deals.NewCache(cfg.ToCache(), fetcher, log.With(logx.String("comp", "cache")), mets)
	subs := alerts.NewStore(store, log.With(logx.String("comp", "alerts")), mets)
	nf := notify.New(cfg.ToNotify(), messenger, log.With(logx.String("comp", "notify")))

	setupMgr := setup.NewManager(store, cfg.SetupTimeout(), func(p setup.Pending) {
		_ = nf.Enqueue(transport.Notification{
			Target: transport.Target{ChannelID: p.CommunityID},
			Text:   "Channel setup expired without a currency choice. Nothing was changed; run /setchannel to try again.",
		})
	}, log.With(logx.String("comp", "setup")))

	limiter := ratelimit.New(cfg.RateLimitWindow(), cfg.RateLimitExempt(), mets)
	sched := scheduler.New(cfg.ToScheduler(), cache, subs, store, nf, messenger,
		log.With(logx.String("comp", "scheduler")))
	metricsSrv := metrics.NewServer(metrics.ServerConfig{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
	}, reg, log.With(logx.String("comp", "metrics")))

	handlers := NewHandlers(mgr.Get, store, cache, subs, setupMgr, messenger,
		log.With(logx.String("comp", "commands")))

	a := &App{
		mgr:        mgr,
		logSvc:     logSvc,
		log:        log,
		store:      store,
		messenger:  messenger,
		cache:      cache,
		subs:       subs,
		setupMgr:   setupMgr,
		limiter:    limiter,
		notify:     nf,
		sched:      sched,
		mets:       mets,
		metricsSrv: metricsSrv,
		handlers:   handlers,
	}
	a.handle = Chain(handlers.Dispatch,
		MWPanicRecover(log.With(logx.String("comp", "dispatch"))),
		MWRequestLog(mets),
		MWRateLimit(limiter),
	)
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.updates != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.updates = make(chan transport.Update, 128)

	a.notify.Start(runCtx)
	if err := a.messenger.Start(runCtx, a.updates); err != nil {
		cancel()
		a.updates = nil
		return err
	}
	if err := a.sched.Start(runCtx); err != nil {
		cancel()
		a.updates = nil
		return err
	}
	a.metricsSrv.Start()

	a.wg.Add(2)
	go a.consumeLoop(runCtx, a.updates)
	go a.watchConfig(runCtx)

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) {
	a.mu.Lock()
	cancel := a.cancel
	updates := a.updates
	a.cancel = nil
	a.updates = nil
	a.mu.Unlock()
	if updates == nil {
		return
	}

	_ = a.messenger.Stop(ctx)
	a.sched.Stop(ctx)
	a.setupMgr.Stop()
	a.notify.Stop(ctx)
	a.metricsSrv.Stop(ctx)
	cancel()
	a.wg.Wait()
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("app stopped")
}

// consumeLoop dispatches inbound updates sequentially, the same ordering the
// chat platform delivers them in.
func (a *App) consumeLoop(ctx context.Context, updates <-chan transport.Update) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			req, ok := a.buildRequest(up)
			if !ok {
				continue
			}
			_ = a.handle(ctx, req)
		}
	}
}

func (a *App) buildRequest(up transport.Update) (*Request, bool) {
	switch up.Kind {
	case transport.UpdateMessage:
		m := up.Message
		if m == nil {
			return nil, false
		}
		cmd, args, ok := ParseCommand(m.Text)
		if !ok {
			return nil, false
		}
		return &Request{
			Update:  up,
			ChatID:  m.ChatID,
			FromID:  m.FromID,
			IsGroup: m.IsGroup,
			Command: cmd,
			Args:    args,
			Log:     a.log.With(logx.String("comp", "request")),
		}, true
	case transport.UpdateCallback:
		cb := up.Callback
		if cb == nil {
			return nil, false
		}
		return &Request{
			Update:  up,
			ChatID:  cb.ChatID,
			FromID:  cb.FromID,
			Command: "callback",
			Payload: cb.Data,
			Log:     a.log.With(logx.String("comp", "request")),
		}, true
	default:
		return nil, false
	}
}

// watchConfig applies hot reloads. Only logging changes take effect live;
// anything else is logged so the operator knows a restart is needed.
func (a *App) watchConfig(ctx context.Context) {
	defer a.wg.Done()

	sub := a.mgr.Subscribe(1)
	defer a.mgr.Unsubscribe(sub)

	prev := a.mgr.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok || cfg == nil {
				return
			}
			changed, attrs := config.SummarizeChange(prev, cfg)
			if len(changed) == 0 {
				continue
			}
			a.log.Info("config changed", append(attrs, logx.Any("sections", changed))...)
			for _, section := range changed {
				if section == "logging" {
					a.logSvc.Apply(cfg.Logging.ToLogx())
				} else {
					a.log.Warn("config section needs restart to apply", logx.String("section", section))
				}
			}
			prev = cfg
		}
	}
}
