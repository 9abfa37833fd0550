package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"dealbot/internal/deals"
	"dealbot/internal/steam"
	"dealbot/internal/storage"
	"dealbot/pkg/logx"
)

type memStore struct {
	subs map[int64][]storage.Subscription
}

func newMemStore() *memStore {
	return &memStore{subs: map[int64][]storage.Subscription{}}
}

func (m *memStore) LoadCommunity(_ context.Context, id int64) (storage.CommunityConfig, error) {
	return storage.CommunityConfig{CommunityID: id}, nil
}
func (m *memStore) SaveCommunity(context.Context, storage.CommunityConfig) error { return nil }
func (m *memStore) LoadSubscriptions(_ context.Context, id int64) ([]storage.Subscription, error) {
	return append([]storage.Subscription(nil), m.subs[id]...), nil
}
func (m *memStore) SaveSubscriptions(_ context.Context, id int64, subs []storage.Subscription) error {
	m.subs[id] = append([]storage.Subscription(nil), subs...)
	return nil
}
func (m *memStore) Communities(context.Context) ([]int64, error) {
	out := make([]int64, 0, len(m.subs))
	for id := range m.subs {
		out = append(out, id)
	}
	return out, nil
}
func (m *memStore) Close() error { return nil }

func newTestStore(t *testing.T, now time.Time) (*Store, *memStore) {
	t.Helper()
	mem := newMemStore()
	st := NewStore(mem, logx.Nop(), nil)
	st.now = func() time.Time { return now }
	return st, mem
}

func TestSubscribeDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, _ := newTestStore(t, time.Now())

	if err := st.Subscribe(ctx, 1, 10, "Hollow Knight"); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	err := st.Subscribe(ctx, 1, 10, "HOLLOW KNIGHT")
	if !errors.Is(err, ErrDuplicateSubscription) {
		t.Fatalf("want ErrDuplicateSubscription, got %v", err)
	}
	if got := st.List(ctx, 1, 10); len(got) != 1 {
		t.Fatalf("want 1 subscription, got %d", len(got))
	}
	// Same key for a different user is fine.
	if err := st.Subscribe(ctx, 1, 11, "hollow knight"); err != nil {
		t.Fatalf("other user subscribe: %v", err)
	}
}

func TestUnsubscribeAndClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, _ := newTestStore(t, time.Now())

	for _, name := range []string{"celeste", "hades", "dredge"} {
		if err := st.Subscribe(ctx, 1, 10, name); err != nil {
			t.Fatalf("subscribe %q: %v", name, err)
		}
	}

	ok, err := st.Unsubscribe(ctx, 1, 10, "Hades")
	if err != nil || !ok {
		t.Fatalf("unsubscribe hades: ok=%v err=%v", ok, err)
	}
	ok, err = st.Unsubscribe(ctx, 1, 10, "hades")
	if err != nil || ok {
		t.Fatalf("second unsubscribe should miss: ok=%v err=%v", ok, err)
	}

	n, err := st.Clear(ctx, 1, 10)
	if err != nil || n != 2 {
		t.Fatalf("clear: n=%d err=%v", n, err)
	}
	if got := st.List(ctx, 1, 10); len(got) != 0 {
		t.Fatalf("want empty list after clear, got %d", len(got))
	}
}

func TestSweepFiresOnceOnSubstring(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st, _ := newTestStore(t, now)

	if err := st.Subscribe(ctx, 1, 10, "zelda"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	snap := deals.Snapshot{Items: []steam.Item{
		{ID: 1, Name: "Portal 2", DiscountPercent: 90},
		{ID: 2, Name: "The Legend of Zelda-like Adventure", DiscountPercent: 60},
		{ID: 3, Name: "Zelda Classic Remake", DiscountPercent: 40},
	}}

	res, err := st.Sweep(ctx, 1, snap)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(res.Notified) != 1 || len(res.Expired) != 0 {
		t.Fatalf("want 1 notified 0 expired, got %d/%d", len(res.Notified), len(res.Expired))
	}
	if res.Notified[0].Item.ID != 2 {
		t.Fatalf("want first matching item in snapshot order (id 2), got %d", res.Notified[0].Item.ID)
	}

	// Fired once: the subscription is gone, a second sweep is silent.
	res, err = st.Sweep(ctx, 1, snap)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(res.Notified) != 0 {
		t.Fatalf("subscription should have been consumed, got %d notified", len(res.Notified))
	}
}

func TestSweepExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st, mem := newTestStore(t, now)

	mem.subs[1] = []storage.Subscription{
		{CommunityID: 1, UserID: 10, ItemNameKey: "silksong", LastActiveAt: now.Add(-16 * 24 * time.Hour)},
		{CommunityID: 1, UserID: 11, ItemNameKey: "celeste", LastActiveAt: now.Add(-14 * 24 * time.Hour)},
		{CommunityID: 1, UserID: 12, ItemNameKey: "hades", LastActiveAt: now.Add(-20 * 24 * time.Hour)},
	}
	// Hades is on sale, so user 12 gets the alert even though they are past
	// the inactivity cutoff.
	snap := deals.Snapshot{Items: []steam.Item{
		{ID: 7, Name: "Hades", DiscountPercent: 50},
	}}

	res, err := st.Sweep(ctx, 1, snap)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(res.Notified) != 1 || res.Notified[0].Sub.UserID != 12 {
		t.Fatalf("want user 12 notified, got %+v", res.Notified)
	}
	if len(res.Expired) != 1 || res.Expired[0].UserID != 10 {
		t.Fatalf("want user 10 expired, got %+v", res.Expired)
	}
	// User 11 is within the window and keeps their subscription.
	left := mem.subs[1]
	if len(left) != 1 || left[0].UserID != 11 {
		t.Fatalf("want only user 11 remaining, got %+v", left)
	}
}

func TestTouchRefreshesActivity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st, mem := newTestStore(t, now)

	mem.subs[1] = []storage.Subscription{
		{CommunityID: 1, UserID: 10, ItemNameKey: "silksong", LastActiveAt: now.Add(-16 * 24 * time.Hour)},
	}
	st.Touch(ctx, 1, 10)

	res, err := st.Sweep(ctx, 1, deals.Snapshot{})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(res.Expired) != 0 {
		t.Fatalf("touched subscription must not expire, got %+v", res.Expired)
	}
}
