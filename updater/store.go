// Copyright 2025 aura-social Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package updater

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"

	"github.com/aura-social/recsys/logics"
)

const (
	FilePrefix  = "file://"
	RedisPrefix = "redis://"

	redisSnapshotKey = "recsys:incremental_cache"
)

// Snapshot is the persisted multi-artifact cache document. Composite keys
// are flattened to "a:b" strings and timestamps to unix seconds, so the
// document is plain JSON scalars and round-trips unchanged.
type Snapshot struct {
	PopularityScores map[string]float64          `json:"popularity_scores"`
	UserSimilarity   map[string]float64          `json:"user_similarity"`
	ItemSimilarity   map[string]float64          `json:"item_similarity"`
	LocationCache    map[string][]logics.GeoItem `json:"location_cache"`
	LastUpdateTimes  map[string]float64          `json:"last_update_times"`
}

// Store persists cache snapshots. Load returns nil without error when no
// snapshot exists yet.
type Store interface {
	Save(ctx context.Context, snapshot *Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
}

// NewStore opens a snapshot store. The backend is dispatched on the DSN
// prefix: a local file or a redis key.
func NewStore(dsn string) (Store, error) {
	switch {
	case strings.HasPrefix(dsn, FilePrefix):
		return &fileStore{path: dsn[len(FilePrefix):]}, nil
	case strings.HasPrefix(dsn, RedisPrefix):
		options, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return &redisStore{client: redis.NewClient(options)}, nil
	}
	return nil, errors.Errorf("unknown snapshot store: %s", dsn)
}

type fileStore struct {
	path string
}

func (s *fileStore) Save(_ context.Context, snapshot *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Trace(err)
	}
	encoded, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(os.WriteFile(s.path, encoded, 0o644))
}

func (s *fileStore) Load(context.Context) (*Snapshot, error) {
	encoded, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(encoded, &snapshot); err != nil {
		return nil, errors.Trace(err)
	}
	return &snapshot, nil
}

type redisStore struct {
	client *redis.Client
}

func (s *redisStore) Save(ctx context.Context, snapshot *Snapshot) error {
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.client.Set(ctx, redisSnapshotKey, encoded, 0).Err())
}

func (s *redisStore) Load(ctx context.Context) (*Snapshot, error) {
	encoded, err := s.client.Get(ctx, redisSnapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(encoded, &snapshot); err != nil {
		return nil, errors.Trace(err)
	}
	return &snapshot, nil
}
