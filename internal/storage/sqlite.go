//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"dealbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadCommunity(ctx context.Context, communityID int64) (CommunityConfig, error) {
	cfg := CommunityConfig{CommunityID: communityID}
	err := s.db.QueryRowContext(ctx,
		`SELECT deals_channel_id, currency_code, last_post_message_id
		 FROM communities WHERE community_id = ?`, communityID,
	).Scan(&cfg.DealsChannelID, &cfg.CurrencyCode, &cfg.LastPostMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, nil
	}
	if err != nil {
		// Fail open: unreadable config behaves like an unconfigured community.
		s.log.Warn("community config read failed", logx.Int64("community", communityID), logx.Err(err))
		return CommunityConfig{CommunityID: communityID}, nil
	}
	return cfg, nil
}

func (s *sqliteStore) SaveCommunity(ctx context.Context, cfg CommunityConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO communities(community_id, deals_channel_id, currency_code, last_post_message_id)
		 VALUES(?,?,?,?)
		 ON CONFLICT(community_id) DO UPDATE SET
		   deals_channel_id=excluded.deals_channel_id,
		   currency_code=excluded.currency_code,
		   last_post_message_id=excluded.last_post_message_id`,
		cfg.CommunityID, cfg.DealsChannelID, cfg.CurrencyCode, cfg.LastPostMessageID,
	)
	return err
}

func (s *sqliteStore) LoadSubscriptions(ctx context.Context, communityID int64) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, item_name_key, created_at, last_active_at
		 FROM subscriptions WHERE community_id = ?`, communityID,
	)
	if err != nil {
		s.log.Warn("subscriptions read failed", logx.Int64("community", communityID), logx.Err(err))
		return nil, nil
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var (
			sub             Subscription
			created, active string
		)
		if err := rows.Scan(&sub.UserID, &sub.ItemNameKey, &created, &active); err != nil {
			continue
		}
		sub.CommunityID = communityID
		sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		sub.LastActiveAt, _ = time.Parse(time.RFC3339Nano, active)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveSubscriptions(ctx context.Context, communityID int64, subs []Subscription) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE community_id = ?`, communityID); err != nil {
		return err
	}
	for _, sub := range subs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subscriptions(community_id, user_id, item_name_key, created_at, last_active_at)
			 VALUES(?,?,?,?,?)`,
			communityID, sub.UserID, sub.ItemNameKey,
			sub.CreatedAt.Format(time.RFC3339Nano), sub.LastActiveAt.Format(time.RFC3339Nano),
		); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO communities(community_id) VALUES(?)
		 ON CONFLICT(community_id) DO NOTHING`, communityID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Communities(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT community_id FROM communities ORDER BY community_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
