package alerts

import (
	"context"
	"strings"

	"dealbot/internal/deals"
	"dealbot/internal/steam"
	"dealbot/internal/storage"
)

// Match pairs a subscription with the first snapshot item whose name
// contains the subscription key.
type Match struct {
	Sub  storage.Subscription
	Item steam.Item
}

// SweepResult reports the outcome of one sweep over a community. Both slices
// hold subscriptions that have already been removed from the store.
type SweepResult struct {
	Notified []Match
	Expired  []storage.Subscription
}

// Sweep walks the community's subscriptions against a snapshot. A
// subscription matches when an item name case-insensitively contains its
// key; the first match in snapshot order wins and the subscription is
// removed so it fires exactly once. Matching is checked before inactivity,
// so a subscription that both matches and has gone quiet gets the alert,
// not the expiry notice. Remaining subscriptions whose lastActiveAt is
// older than InactivityThreshold are removed and reported as expired.
func (s *Store) Sweep(ctx context.Context, communityID int64, snap deals.Snapshot) (SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.load(ctx, communityID)
	if len(subs) == 0 {
		return SweepResult{}, nil
	}

	cutoff := s.now().Add(-InactivityThreshold)

	var res SweepResult
	kept := subs[:0]
	for _, sub := range subs {
		if item, ok := firstMatch(snap.Items, sub.ItemNameKey); ok {
			res.Notified = append(res.Notified, Match{Sub: sub, Item: item})
			s.mets.AlertSent()
			continue
		}
		if sub.LastActiveAt.Before(cutoff) {
			res.Expired = append(res.Expired, sub)
			s.mets.ExpiryNotice()
			continue
		}
		kept = append(kept, sub)
	}

	if len(res.Notified) == 0 && len(res.Expired) == 0 {
		s.mets.SweepDone()
		return res, nil
	}
	if err := s.store.SaveSubscriptions(ctx, communityID, kept); err != nil {
		return SweepResult{}, err
	}
	s.mets.SweepDone()
	return res, nil
}

func firstMatch(items []steam.Item, key string) (steam.Item, bool) {
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Name), key) {
			return it, true
		}
	}
	return steam.Item{}, false
}
