package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON file backend (default)
//   - "sqlite": SQLite database file (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// CommunityConfig is the per-community configuration record.
// Zero DealsChannelID means no auto-post channel is configured.
type CommunityConfig struct {
	CommunityID       int64  `json:"community_id"`
	DealsChannelID    int64  `json:"deals_channel_id,omitempty"`
	CurrencyCode      string `json:"currency_code,omitempty"`
	LastPostMessageID int    `json:"last_post_message_id,omitempty"`
}

// Subscription is one (community, user, item key) deal alert.
// ItemNameKey is stored case-folded; at most one record exists per triple.
type Subscription struct {
	CommunityID  int64     `json:"community_id"`
	UserID       int64     `json:"user_id"`
	ItemNameKey  string    `json:"item_name_key"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Store is the persistence collaborator. Saves are full-collection
// overwrites for their scope; there are no cross-record transactions.
type Store interface {
	// LoadCommunity returns the stored config, or a default (zero-valued,
	// ID filled in) config when none exists or the read fails.
	LoadCommunity(ctx context.Context, communityID int64) (CommunityConfig, error)
	SaveCommunity(ctx context.Context, cfg CommunityConfig) error

	// LoadSubscriptions returns the community's subscriptions; missing or
	// unreadable data yields an empty slice.
	LoadSubscriptions(ctx context.Context, communityID int64) ([]Subscription, error)
	SaveSubscriptions(ctx context.Context, communityID int64, subs []Subscription) error

	// Communities enumerates every community id with stored state.
	Communities(ctx context.Context) ([]int64, error)

	Close() error
}
