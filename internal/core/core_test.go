package core

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"dealbot/internal/alerts"
	"dealbot/internal/config"
	"dealbot/internal/deals"
	"dealbot/internal/setup"
	"dealbot/internal/steam"
	"dealbot/internal/storage"
	"dealbot/internal/transport"
	"dealbot/pkg/logx"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		cmd  string
		args string
		ok   bool
	}{
		{"/deals", "deals", "", true},
		{"/subscribe Hollow Knight", "subscribe", "Hollow Knight", true},
		{"/Subscribe@DealBot  hades ", "subscribe", "hades", true},
		{"hello there", "", "", false},
		{"/", "", "", false},
		{"  /help", "help", "", true},
	}
	for _, tc := range cases {
		cmd, args, ok := ParseCommand(tc.in)
		if cmd != tc.cmd || args != tc.args || ok != tc.ok {
			t.Errorf("ParseCommand(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.in, cmd, args, ok, tc.cmd, tc.args, tc.ok)
		}
	}
}

type memStore struct {
	mu     sync.Mutex
	config map[int64]storage.CommunityConfig
	subs   map[int64][]storage.Subscription
}

func newMemStore() *memStore {
	return &memStore{
		config: map[int64]storage.CommunityConfig{},
		subs:   map[int64][]storage.Subscription{},
	}
}

func (m *memStore) LoadCommunity(_ context.Context, id int64) (storage.CommunityConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := m.config[id]; ok {
		return cfg, nil
	}
	return storage.CommunityConfig{CommunityID: id}, nil
}
func (m *memStore) SaveCommunity(_ context.Context, cfg storage.CommunityConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[cfg.CommunityID] = cfg
	return nil
}
func (m *memStore) LoadSubscriptions(_ context.Context, id int64) ([]storage.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.Subscription(nil), m.subs[id]...), nil
}
func (m *memStore) SaveSubscriptions(_ context.Context, id int64, subs []storage.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[id] = append([]storage.Subscription(nil), subs...)
	return nil
}
func (m *memStore) Communities(context.Context) ([]int64, error) { return nil, nil }
func (m *memStore) Close() error                                 { return nil }

type chatRecorder struct {
	mu      sync.Mutex
	replies []string
	answers []string
}

func (m *chatRecorder) Start(context.Context, chan<- transport.Update) error { return nil }
func (m *chatRecorder) Stop(context.Context) error                           { return nil }
func (m *chatRecorder) DeleteMessage(context.Context, int64, int) error      { return nil }

func (m *chatRecorder) SendUser(context.Context, int64, string, *transport.SendOptions) error {
	return nil
}
func (m *chatRecorder) SendChannel(_ context.Context, _ int64, text string, _ *transport.SendOptions) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, text)
	return len(m.replies), nil
}
func (m *chatRecorder) AnswerCallback(_ context.Context, _ string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, text)
	return nil
}

func (m *chatRecorder) lastReply() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return ""
	}
	return m.replies[len(m.replies)-1]
}

type staticFetcher struct{ items []steam.Item }

func (f staticFetcher) FetchCatalog(context.Context, string) ([]steam.Item, error) {
	return append([]steam.Item(nil), f.items...), nil
}

func newTestHandlers(t *testing.T) (*Handlers, *memStore, *chatRecorder, *setup.Manager) {
	t.Helper()
	mem := newMemStore()
	chat := &chatRecorder{}
	cache := deals.NewCache(deals.CacheConfig{}, staticFetcher{items: []steam.Item{
		{ID: 1, Name: "Hades", DiscountPercent: 60, OriginalPrice: 2499, FinalPrice: 999},
	}}, logx.Nop(), nil)
	subs := alerts.NewStore(mem, logx.Nop(), nil)
	mgr := setup.NewManager(mem, time.Minute, nil, logx.Nop())
	t.Cleanup(mgr.Stop)

	cfg := &config.Config{}
	cfg.Telegram.AdminUserIDs = []int64{10}
	h := NewHandlers(func() *config.Config { return cfg }, mem, cache, subs, mgr, chat, logx.Nop())
	return h, mem, chat, mgr
}

func msgReq(chatID, fromID int64, text string) *Request {
	cmd, args, _ := ParseCommand(text)
	return &Request{
		Update:  transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: chatID, FromID: fromID, Text: text}},
		ChatID:  chatID,
		FromID:  fromID,
		Command: cmd,
		Args:    args,
		Log:     logx.Nop(),
	}
}

func callbackReq(chatID, fromID int64, data string) *Request {
	return &Request{
		Update:  transport.Update{Kind: transport.UpdateCallback, Callback: &transport.Callback{ID: "cb1", ChatID: chatID, FromID: fromID, Data: data}},
		ChatID:  chatID,
		FromID:  fromID,
		Command: "callback",
		Payload: data,
		Log:     logx.Nop(),
	}
}

func TestSubscribeFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, _, chat, _ := newTestHandlers(t)

	if err := h.Dispatch(ctx, msgReq(1, 20, "/subscribe Hollow Knight")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if !strings.Contains(chat.lastReply(), "hollow knight") {
		t.Fatalf("unexpected reply %q", chat.lastReply())
	}

	if err := h.Dispatch(ctx, msgReq(1, 20, "/subscribe HOLLOW KNIGHT")); err != nil {
		t.Fatalf("duplicate subscribe: %v", err)
	}
	if !strings.Contains(chat.lastReply(), "already") {
		t.Fatalf("duplicate should be rejected politely, got %q", chat.lastReply())
	}
}

func TestDealsCommand(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, _, chat, _ := newTestHandlers(t)

	if err := h.Dispatch(ctx, msgReq(1, 20, "/deals")); err != nil {
		t.Fatalf("deals: %v", err)
	}
	if !strings.Contains(chat.lastReply(), "Hades") {
		t.Fatalf("deals reply missing items: %q", chat.lastReply())
	}
}

func TestSetChannelFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, mem, chat, _ := newTestHandlers(t)

	// Non-admin is refused.
	if err := h.Dispatch(ctx, msgReq(1, 20, "/setchannel")); err != nil {
		t.Fatalf("setchannel non-admin: %v", err)
	}
	if !strings.Contains(chat.lastReply(), "admin") {
		t.Fatalf("non-admin should be refused, got %q", chat.lastReply())
	}

	// Admin starts the handshake and picks a currency.
	if err := h.Dispatch(ctx, msgReq(1, 10, "/setchannel 500")); err != nil {
		t.Fatalf("setchannel: %v", err)
	}
	// Another user's callback is rejected without consuming the setup.
	if err := h.Dispatch(ctx, callbackReq(1, 20, "setup:de")); err != nil {
		t.Fatalf("foreign callback: %v", err)
	}
	if cfg, _ := mem.LoadCommunity(ctx, 1); cfg.DealsChannelID != 0 {
		t.Fatalf("foreign callback must not commit config: %+v", cfg)
	}
	// Initiator confirms.
	if err := h.Dispatch(ctx, callbackReq(1, 10, "setup:de")); err != nil {
		t.Fatalf("confirm callback: %v", err)
	}
	cfg, _ := mem.LoadCommunity(ctx, 1)
	if cfg.DealsChannelID != 500 || cfg.CurrencyCode != "de" {
		t.Fatalf("config not committed: %+v", cfg)
	}
}

func TestDispatchTouchesActivity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, mem, _, _ := newTestHandlers(t)

	old := time.Now().Add(-20 * 24 * time.Hour)
	mem.subs[1] = []storage.Subscription{
		{CommunityID: 1, UserID: 20, ItemNameKey: "silksong", CreatedAt: old, LastActiveAt: old},
	}

	if err := h.Dispatch(ctx, msgReq(1, 20, "/help")); err != nil {
		t.Fatalf("help: %v", err)
	}
	if got := mem.subs[1][0].LastActiveAt; !got.After(old) {
		t.Fatalf("activity not refreshed: %v", got)
	}
}
