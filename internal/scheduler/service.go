package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"dealbot/internal/alerts"
	"dealbot/internal/deals"
	"dealbot/internal/format"
	"dealbot/internal/notify"
	"dealbot/internal/storage"
	"dealbot/internal/transport"
	"dealbot/pkg/logx"
)

const (
	DefaultRefreshEvery  = 30 * time.Minute
	DefaultAutoPostEvery = 2 * time.Hour
)

type Config struct {
	RefreshEvery  time.Duration
	AutoPostEvery time.Duration
}

// Service drives the two periodic cycles: refresh-and-alert and auto-post.
// Each cycle is registered with SkipIfStillRunning, so a slow upstream
// stretches the interval instead of stacking runs. Communities are walked
// sequentially; a failing community is logged and skipped, never fatal.
type Service struct {
	cfg       Config
	log       logx.Logger
	cache     *deals.Cache
	subs      *alerts.Store
	store     storage.Store
	notify    *notify.Service
	messenger transport.Messenger

	mu     sync.Mutex
	c      *cron.Cron
	cancel context.CancelFunc
	runCtx context.Context

	now func() time.Time
}

func New(cfg Config, cache *deals.Cache, subs *alerts.Store, store storage.Store, nf *notify.Service, messenger transport.Messenger, log logx.Logger) *Service {
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = DefaultRefreshEvery
	}
	if cfg.AutoPostEvery <= 0 {
		cfg.AutoPostEvery = DefaultAutoPostEvery
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg,
		log:       log,
		cache:     cache,
		subs:      subs,
		store:     store,
		notify:    nf,
		messenger: messenger,
		now:       time.Now,
	}
}

// cronLogger adapts logx to cron's logging interface. Cron only speaks up
// when a job is skipped or panics, which is exactly what we want logged.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug(msg, logx.Any("details", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error(msg, logx.Err(err), logx.Any("details", kv))
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.runCtx = runCtx
	s.cancel = cancel

	cl := cronLogger{log: s.log.With(logx.String("comp", "cron"))}
	c := cron.New(cron.WithChain(
		cron.Recover(cl),
		cron.SkipIfStillRunning(cl),
	))
	if _, err := c.AddFunc("@every "+s.cfg.RefreshEvery.String(), func() { s.RefreshCycle(runCtx) }); err != nil {
		cancel()
		return err
	}
	if _, err := c.AddFunc("@every "+s.cfg.AutoPostEvery.String(), func() { s.AutoPostCycle(runCtx) }); err != nil {
		cancel()
		return err
	}
	c.Start()
	s.c = c

	s.log.Info("scheduler started",
		logx.Duration("refresh_every", s.cfg.RefreshEvery),
		logx.Duration("autopost_every", s.cfg.AutoPostEvery),
	)
	return nil
}

// Stop halts the cron and waits for a running cycle to finish, up to ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.runCtx = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		cancel()
		<-stopCtx.Done()
	}
	cancel()
}

// RefreshCycle refreshes the snapshot for every community that has
// subscriptions and sweeps them, routing deal alerts and expiry notices to
// the notify queue.
func (s *Service) RefreshCycle(ctx context.Context) {
	communities, err := s.store.Communities(ctx)
	if err != nil {
		s.log.Warn("community enumeration failed", logx.Err(err))
		return
	}

	for _, communityID := range communities {
		if ctx.Err() != nil {
			return
		}
		if !s.subs.HasAny(ctx, communityID) {
			continue
		}
		cfg, _ := s.store.LoadCommunity(ctx, communityID)

		snap, err := s.cache.Get(ctx, cfg.CurrencyCode)
		if err != nil {
			s.log.Warn("snapshot unavailable, skipping community",
				logx.Int64("community", communityID), logx.Err(err))
			continue
		}

		res, err := s.subs.Sweep(ctx, communityID, snap)
		if err != nil {
			s.log.Warn("sweep failed", logx.Int64("community", communityID), logx.Err(err))
			continue
		}
		for _, m := range res.Notified {
			_ = s.notify.Enqueue(transport.Notification{
				Target:  transport.Target{UserID: m.Sub.UserID},
				Text:    format.DealAlert(m),
				Options: &transport.SendOptions{ParseMode: "HTML"},
			})
		}
		for _, sub := range res.Expired {
			_ = s.notify.Enqueue(transport.Notification{
				Target: transport.Target{UserID: sub.UserID},
				Text:   format.ExpiryNotice(sub),
			})
		}
		if len(res.Notified) > 0 || len(res.Expired) > 0 {
			s.log.Info("sweep finished",
				logx.Int64("community", communityID),
				logx.Int("notified", len(res.Notified)),
				logx.Int("expired", len(res.Expired)),
			)
		}
	}
}

// AutoPostCycle posts the current snapshot to every community's configured
// deals channel, replacing the previous auto-post. Deleting the old message
// is best-effort; it may already be gone.
func (s *Service) AutoPostCycle(ctx context.Context) {
	communities, err := s.store.Communities(ctx)
	if err != nil {
		s.log.Warn("community enumeration failed", logx.Err(err))
		return
	}

	for _, communityID := range communities {
		if ctx.Err() != nil {
			return
		}
		cfg, _ := s.store.LoadCommunity(ctx, communityID)
		if cfg.DealsChannelID == 0 {
			continue
		}

		snap, err := s.cache.Get(ctx, cfg.CurrencyCode)
		if err != nil {
			s.log.Warn("snapshot unavailable, skipping auto-post",
				logx.Int64("community", communityID), logx.Err(err))
			continue
		}

		if cfg.LastPostMessageID != 0 {
			if err := s.messenger.DeleteMessage(ctx, cfg.DealsChannelID, cfg.LastPostMessageID); err != nil {
				s.log.Debug("previous auto-post delete failed",
					logx.Int64("channel", cfg.DealsChannelID),
					logx.Int("message", cfg.LastPostMessageID),
					logx.Err(err),
				)
			}
		}

		msgID, err := s.messenger.SendChannel(ctx, cfg.DealsChannelID,
			format.Snapshot(snap, s.now()),
			&transport.SendOptions{ParseMode: "HTML", DisablePreview: true},
		)
		if err != nil {
			s.log.Warn("auto-post failed",
				logx.Int64("channel", cfg.DealsChannelID), logx.Err(err))
			continue
		}

		cfg.LastPostMessageID = msgID
		if err := s.store.SaveCommunity(ctx, cfg); err != nil {
			s.log.Warn("auto-post id not persisted",
				logx.Int64("community", communityID), logx.Err(err))
		}
	}
}
