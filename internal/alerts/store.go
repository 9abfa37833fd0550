package alerts

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"dealbot/internal/metrics"
	"dealbot/internal/storage"
	"dealbot/pkg/logx"
)

var ErrDuplicateSubscription = errors.New("already subscribed to this item")

// InactivityThreshold is how long a user may stay inactive in a community
// before their subscriptions are swept away.
const InactivityThreshold = 15 * 24 * time.Hour

// Store manages per-community deal-alert subscriptions on top of the
// persistence collaborator. Every mutation is a read-modify-write of the
// community's full subscription list under one lock, mirroring the
// full-collection overwrite contract of storage.Store.
type Store struct {
	mu    sync.Mutex
	store storage.Store
	log   logx.Logger
	mets  *metrics.Collector

	now func() time.Time
}

func NewStore(st storage.Store, log logx.Logger, mets *metrics.Collector) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{store: st, log: log, mets: mets, now: time.Now}
}

// Key case-folds an item name into its subscription key.
func Key(itemName string) string {
	return strings.ToLower(strings.TrimSpace(itemName))
}

func (s *Store) load(ctx context.Context, communityID int64) []storage.Subscription {
	subs, err := s.store.LoadSubscriptions(ctx, communityID)
	if err != nil {
		// Fail open: an unreadable list behaves as empty.
		s.log.Warn("subscription load failed", logx.Int64("community", communityID), logx.Err(err))
		return nil
	}
	return subs
}

// Subscribe adds a subscription for (community, user, itemName).
// A second subscribe for the same case-folded key is rejected with
// ErrDuplicateSubscription and leaves the store unchanged.
func (s *Store) Subscribe(ctx context.Context, communityID, userID int64, itemName string) error {
	key := Key(itemName)
	if key == "" {
		return errors.New("empty item name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.load(ctx, communityID)
	for _, sub := range subs {
		if sub.UserID == userID && sub.ItemNameKey == key {
			return ErrDuplicateSubscription
		}
	}
	now := s.now()
	subs = append(subs, storage.Subscription{
		CommunityID:  communityID,
		UserID:       userID,
		ItemNameKey:  key,
		CreatedAt:    now,
		LastActiveAt: now,
	})
	return s.store.SaveSubscriptions(ctx, communityID, subs)
}

// Unsubscribe removes the (community, user, itemName) subscription.
// Returns false when no such subscription existed.
func (s *Store) Unsubscribe(ctx context.Context, communityID, userID int64, itemName string) (bool, error) {
	key := Key(itemName)

	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.load(ctx, communityID)
	kept := subs[:0]
	removed := false
	for _, sub := range subs {
		if sub.UserID == userID && sub.ItemNameKey == key {
			removed = true
			continue
		}
		kept = append(kept, sub)
	}
	if !removed {
		return false, nil
	}
	return true, s.store.SaveSubscriptions(ctx, communityID, kept)
}

// List returns the user's subscriptions in the community, sorted by key.
func (s *Store) List(ctx context.Context, communityID, userID int64) []storage.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []storage.Subscription
	for _, sub := range s.load(ctx, communityID) {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemNameKey < out[j].ItemNameKey })
	return out
}

// Clear removes all of the user's subscriptions in the community and
// reports how many were removed.
func (s *Store) Clear(ctx context.Context, communityID, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.load(ctx, communityID)
	kept := subs[:0]
	removed := 0
	for _, sub := range subs {
		if sub.UserID == userID {
			removed++
			continue
		}
		kept = append(kept, sub)
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.store.SaveSubscriptions(ctx, communityID, kept)
}

// Touch refreshes lastActiveAt on every subscription the user holds in the
// community. Called on any user action so inactivity expiry only hits users
// who actually went quiet.
func (s *Store) Touch(ctx context.Context, communityID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.load(ctx, communityID)
	now := s.now()
	changed := false
	for i := range subs {
		if subs[i].UserID == userID && subs[i].LastActiveAt.Before(now) {
			subs[i].LastActiveAt = now
			changed = true
		}
	}
	if changed {
		if err := s.store.SaveSubscriptions(ctx, communityID, subs); err != nil {
			s.log.Warn("subscription touch failed", logx.Int64("community", communityID), logx.Err(err))
		}
	}
}

// HasAny reports whether the community has at least one subscription.
func (s *Store) HasAny(ctx context.Context, communityID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.load(ctx, communityID)) > 0
}
