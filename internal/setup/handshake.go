package setup

import (
	"context"
	"errors"
	"sync"
	"time"

	"dealbot/internal/storage"
	"dealbot/pkg/logx"
)

var (
	// ErrNotAuthorized means someone other than the initiator tried to
	// resolve a pending setup. State is unchanged.
	ErrNotAuthorized = errors.New("only the user who started setup may finish it")
	// ErrNoActiveSetup means there is nothing pending for the community,
	// either because setup was never started or because it timed out.
	ErrNoActiveSetup = errors.New("no setup in progress")
)

// DefaultTimeout is how long a started setup waits for a currency choice.
const DefaultTimeout = 10 * time.Minute

// Pending is the externally visible view of an in-flight setup.
type Pending struct {
	CommunityID int64
	ChannelID   int64
	InitiatorID int64
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

type pendingSetup struct {
	Pending
	timer *time.Timer
}

// Manager owns at most one pending setup per community. A setup is created
// by Begin, armed with a timeout timer, and resolved exactly one way:
// confirmed by its initiator, timed out, or superseded by a newer Begin.
// The timer handle lives next to the state it guards and is cancelled on
// every transition that replaces it.
type Manager struct {
	store   storage.Store
	log     logx.Logger
	timeout time.Duration

	// onTimeout delivers the user-visible notice when a setup expires
	// unresolved. Runs outside the manager lock.
	onTimeout func(p Pending)

	mu      sync.Mutex
	pending map[int64]*pendingSetup

	now func() time.Time
}

func NewManager(st storage.Store, timeout time.Duration, onTimeout func(Pending), log logx.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		store:     st,
		log:       log,
		timeout:   timeout,
		onTimeout: onTimeout,
		pending:   map[int64]*pendingSetup{},
		now:       time.Now,
	}
}

// Begin starts a setup for the community targeting the given channel. Any
// existing pending setup for the community is superseded: its timer is
// cancelled and it is silently discarded, so no timeout notice fires for it
// later. Returns the new pending state and whether an older one was
// replaced.
func (m *Manager) Begin(communityID, channelID, initiatorID int64) (Pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	superseded := false
	if old, ok := m.pending[communityID]; ok {
		old.timer.Stop()
		delete(m.pending, communityID)
		superseded = true
	}

	now := m.now()
	p := &pendingSetup{Pending: Pending{
		CommunityID: communityID,
		ChannelID:   channelID,
		InitiatorID: initiatorID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.timeout),
	}}
	p.timer = time.AfterFunc(m.timeout, func() { m.expire(communityID, p) })
	m.pending[communityID] = p

	m.log.Debug("setup started",
		logx.Int64("community", communityID),
		logx.Int64("channel", channelID),
		logx.Int64("initiator", initiatorID),
	)
	return p.Pending, superseded
}

// expire runs on the timer goroutine. The identity check guards against the
// race where the setup was confirmed or superseded between the timer firing
// and the lock being taken.
func (m *Manager) expire(communityID int64, p *pendingSetup) {
	m.mu.Lock()
	cur, ok := m.pending[communityID]
	if !ok || cur != p {
		m.mu.Unlock()
		return
	}
	delete(m.pending, communityID)
	m.mu.Unlock()

	m.log.Info("setup timed out", logx.Int64("community", communityID))
	if m.onTimeout != nil {
		m.onTimeout(p.Pending)
	}
}

// Pending returns the community's in-flight setup, if any. Used to re-open
// the currency prompt; it never moves ExpiresAt.
func (m *Manager) Pending(communityID int64) (Pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[communityID]
	if !ok {
		return Pending{}, false
	}
	return p.Pending, true
}

// Confirm resolves the community's pending setup with the chosen currency.
// Only the initiator may confirm; anyone else gets ErrNotAuthorized and the
// setup stays pending. On success the channel and currency are committed to
// the community config in one save, the timer is cancelled and the pending
// state discarded. A failed save leaves the setup pending, so the initiator
// can tap the currency again while the deadline still stands.
func (m *Manager) Confirm(ctx context.Context, communityID, userID int64, currency string) (storage.CommunityConfig, error) {
	m.mu.Lock()
	p, ok := m.pending[communityID]
	if !ok {
		m.mu.Unlock()
		return storage.CommunityConfig{}, ErrNoActiveSetup
	}
	if p.InitiatorID != userID {
		m.mu.Unlock()
		return storage.CommunityConfig{}, ErrNotAuthorized
	}
	m.mu.Unlock()

	cfg, err := m.store.LoadCommunity(ctx, communityID)
	if err != nil {
		cfg = storage.CommunityConfig{CommunityID: communityID}
	}
	cfg.CommunityID = communityID
	cfg.DealsChannelID = p.ChannelID
	cfg.CurrencyCode = currency
	if err := m.store.SaveCommunity(ctx, cfg); err != nil {
		return storage.CommunityConfig{}, err
	}

	// Discard only after the save landed. The identity check covers the
	// setup timing out or being superseded while the save was in flight.
	m.mu.Lock()
	if cur, ok := m.pending[communityID]; ok && cur == p {
		p.timer.Stop()
		delete(m.pending, communityID)
	}
	m.mu.Unlock()

	m.log.Info("setup confirmed",
		logx.Int64("community", communityID),
		logx.Int64("channel", p.ChannelID),
		logx.String("currency", currency),
	)
	return cfg, nil
}

// Stop cancels every outstanding timer. Used on shutdown so no timeout
// notices fire into a stopped transport.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.pending {
		p.timer.Stop()
		delete(m.pending, id)
	}
}
