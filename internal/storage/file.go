package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"dealbot/pkg/logx"
)

const fileSchemaVersion = 2

// fileStore is the dependency-free persistence backend: one JSON document
// holding every community's config and subscriptions. Saves rewrite the
// whole document atomically (tmp + rename).
type fileStore struct {
	log  logx.Logger
	path string

	mu   sync.Mutex
	data fileDocument
}

type fileDocument struct {
	Version     int                        `json:"version"`
	Communities map[string]communityRecord `json:"communities"`
}

type communityRecord struct {
	Config        CommunityConfig `json:"config"`
	Subscriptions []Subscription  `json:"subscriptions,omitempty"`
}

// legacyAlert is the version-1 record shape: per-community arrays of
// loosely-typed alerts with unix-milli activity stamps.
type legacyAlert struct {
	UserID     json.Number `json:"userId"`
	GameName   string      `json:"gameName"`
	LastActive int64       `json:"lastActive"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.data = fileDocument{Version: fileSchemaVersion, Communities: map[string]communityRecord{}}
			return nil
		}
		return err
	}

	var doc fileDocument
	if err := json.Unmarshal(b, &doc); err == nil && doc.Version >= fileSchemaVersion {
		if doc.Communities == nil {
			doc.Communities = map[string]communityRecord{}
		}
		s.data = doc
		return nil
	}

	// Version 1 (or unversioned) data: migrate once, then persist the new
	// shape so the legacy path never runs again.
	migrated, err := migrateLegacy(b)
	if err != nil {
		return err
	}
	s.data = migrated
	s.log.Info("storage migrated to current schema",
		logx.Int("version", fileSchemaVersion),
		logx.Int("communities", len(migrated.Communities)),
	)
	return s.persistLocked()
}

// migrateLegacy converts the original flat layout
// {"<communityID>": [{"userId","gameName","lastActive"}]} into the
// versioned document.
func migrateLegacy(b []byte) (fileDocument, error) {
	doc := fileDocument{Version: fileSchemaVersion, Communities: map[string]communityRecord{}}

	var legacy map[string]json.RawMessage
	if err := json.Unmarshal(b, &legacy); err != nil {
		return doc, errors.New("storage file is neither current nor legacy format")
	}
	for key, raw := range legacy {
		if key == "version" || key == "communities" {
			continue
		}
		communityID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		var alerts []legacyAlert
		if err := json.Unmarshal(raw, &alerts); err != nil {
			continue
		}
		rec := communityRecord{Config: CommunityConfig{CommunityID: communityID}}
		for _, a := range alerts {
			uid, err := a.UserID.Int64()
			if err != nil || strings.TrimSpace(a.GameName) == "" {
				continue
			}
			at := time.UnixMilli(a.LastActive)
			if a.LastActive == 0 {
				at = time.Now()
			}
			rec.Subscriptions = append(rec.Subscriptions, Subscription{
				CommunityID:  communityID,
				UserID:       uid,
				ItemNameKey:  strings.ToLower(strings.TrimSpace(a.GameName)),
				CreatedAt:    at,
				LastActiveAt: at,
			})
		}
		doc.Communities[key] = rec
	}
	return doc, nil
}

func (s *fileStore) persistLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func communityKey(id int64) string { return strconv.FormatInt(id, 10) }

func (s *fileStore) LoadCommunity(ctx context.Context, communityID int64) (CommunityConfig, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data.Communities[communityKey(communityID)]
	if !ok {
		return CommunityConfig{CommunityID: communityID}, nil
	}
	cfg := rec.Config
	cfg.CommunityID = communityID
	return cfg, nil
}

func (s *fileStore) SaveCommunity(ctx context.Context, cfg CommunityConfig) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	key := communityKey(cfg.CommunityID)
	rec := s.data.Communities[key]
	rec.Config = cfg
	s.data.Communities[key] = rec
	return s.persistLocked()
}

func (s *fileStore) LoadSubscriptions(ctx context.Context, communityID int64) ([]Subscription, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data.Communities[communityKey(communityID)]
	if !ok {
		return nil, nil
	}
	return append([]Subscription(nil), rec.Subscriptions...), nil
}

func (s *fileStore) SaveSubscriptions(ctx context.Context, communityID int64, subs []Subscription) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	key := communityKey(communityID)
	rec := s.data.Communities[key]
	if rec.Config.CommunityID == 0 {
		rec.Config.CommunityID = communityID
	}
	rec.Subscriptions = append([]Subscription(nil), subs...)
	s.data.Communities[key] = rec
	return s.persistLocked()
}

func (s *fileStore) Communities(ctx context.Context) ([]int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.data.Communities))
	for key := range s.data.Communities {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *fileStore) Close() error { return nil }
