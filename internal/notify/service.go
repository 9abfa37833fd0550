package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dealbot/internal/transport"
	"dealbot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notify queue full")
	ErrStopped   = errors.New("notify service stopped")
)

type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int
	// SendTimeout bounds one outbound call so a wedged transport cannot hang
	// a worker.
	SendTimeout time.Duration
}

// Service is the outbound notification pipeline: a bounded queue drained by
// a small worker pool behind one shared token bucket. Per-recipient delivery
// failures are logged and swallowed; a dead DM never blocks the rest of a
// sweep's notices.
type Service struct {
	cfg       Config
	messenger transport.Messenger
	log       logx.Logger
	limiter   *rate.Limiter

	mu        sync.Mutex
	queue     chan transport.Notification
	accepting bool
	enqueueWG sync.WaitGroup
	workerWG  sync.WaitGroup
	cancel    context.CancelFunc
}

func New(cfg Config, messenger transport.Messenger, log logx.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg,
		messenger: messenger,
		log:       log,
		// Burst equals the per-second rate so short spikes drain quickly.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.queue = make(chan transport.Notification, s.cfg.QueueSize)
	s.accepting = true

	for i := 0; i < s.cfg.Workers; i++ {
		s.workerWG.Add(1)
		go s.workerLoop(runCtx, s.queue)
	}
}

// Stop blocks intake and drains the queue until ctx expires, then cancels
// whatever is left.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	cancel := s.cancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.queue = nil
	s.cancel = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.enqueueWG.Wait()
		close(q)
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		<-done
	}
	cancel()
}

// Enqueue queues a notification for async delivery. Returns ErrQueueFull
// rather than blocking when the pipeline is saturated.
func (s *Service) Enqueue(n transport.Notification) error {
	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.enqueueWG.Add(1)
	s.mu.Unlock()
	defer s.enqueueWG.Done()

	select {
	case q <- n:
		return nil
	default:
		s.log.Warn("notification dropped, queue full",
			logx.Int64("user", n.Target.UserID),
			logx.Int64("channel", n.Target.ChannelID),
		)
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan transport.Notification) {
	defer s.workerWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.send(ctx, n)
		}
	}
}

func (s *Service) send(ctx context.Context, n transport.Notification) {
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	var err error
	if n.Target.UserID != 0 {
		err = s.messenger.SendUser(callCtx, n.Target.UserID, n.Text, n.Options)
	} else {
		_, err = s.messenger.SendChannel(callCtx, n.Target.ChannelID, n.Text, n.Options)
	}
	if err != nil {
		s.log.Debug("notification delivery failed",
			logx.Int64("user", n.Target.UserID),
			logx.Int64("channel", n.Target.ChannelID),
			logx.Err(err),
		)
	}
}
