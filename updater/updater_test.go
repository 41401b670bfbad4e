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
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"

	"github.com/aura-social/recsys/config"
	"github.com/aura-social/recsys/logics"
	"github.com/aura-social/recsys/storage/data"
)

// testDatabase backs the refresh paths. The fail switch makes every read
// error to exercise the error state.
type testDatabase struct {
	data.Database
	events []data.Event
	items  []data.Item
	fail   bool
}

func (db *testDatabase) GetEvents(_ context.Context, cursor string, _ int, beginTime *time.Time) (string, []data.Event, error) {
	if db.fail {
		return "", nil, errors.New("store unavailable")
	}
	if cursor != "" {
		return "", nil, nil
	}
	var events []data.Event
	for _, event := range db.events {
		if beginTime == nil || !event.Timestamp.Before(*beginTime) {
			events = append(events, event)
		}
	}
	return "", events, nil
}

func (db *testDatabase) LatestEventTime(context.Context) (time.Time, error) {
	if db.fail {
		return time.Time{}, errors.New("store unavailable")
	}
	var latest time.Time
	for _, event := range db.events {
		if event.Timestamp.After(latest) {
			latest = event.Timestamp
		}
	}
	return latest, nil
}

func (db *testDatabase) GetItems(_ context.Context, cursor string, _ int) (string, []data.Item, error) {
	if db.fail {
		return "", nil, errors.New("store unavailable")
	}
	if cursor != "" {
		return "", nil, nil
	}
	items := append([]data.Item(nil), db.items...)
	sort.Slice(items, func(i, j int) bool { return items[i].ItemId < items[j].ItemId })
	return "", items, nil
}

func (db *testDatabase) GetItem(_ context.Context, itemId string) (data.Item, error) {
	if db.fail {
		return data.Item{}, errors.New("store unavailable")
	}
	for _, item := range db.items {
		if item.ItemId == itemId {
			return item, nil
		}
	}
	return data.Item{}, errors.Annotate(data.ErrItemNotExist, itemId)
}

func newTestDatabase() *testDatabase {
	now := time.Now()
	lat, lon := 39.95, 116.45
	return &testDatabase{
		events: []data.Event{
			{UserId: "u1", ItemId: "i1", EventType: data.EventClick, Timestamp: now},
			{UserId: "u1", ItemId: "i2", EventType: data.EventLike, Timestamp: now},
			{UserId: "u2", ItemId: "i1", EventType: data.EventClick, Timestamp: now},
			{UserId: "u2", ItemId: "i2", EventType: data.EventFav, Timestamp: now},
		},
		items: []data.Item{
			{ItemId: "i1", PublishTimestamp: now, GeoLat: &lat, GeoLon: &lon},
			{ItemId: "i2", PublishTimestamp: now},
		},
	}
}

func updateConfig(store string) config.UpdateConfig {
	return config.UpdateConfig{
		PopularityInterval: 10 * time.Millisecond,
		CFInterval:         10 * time.Millisecond,
		LocationInterval:   10 * time.Millisecond,
		SnapshotStore:      store,
	}
}

func newTestService(t *testing.T, db *testDatabase) (*Service, string) {
	path := filepath.Join(t.TempDir(), "cache", "snapshot.json")
	store, err := NewStore(FilePrefix + path)
	assert.NoError(t, err)
	recall := config.RecallConfig{
		NumItemNeighbors: 100, NumSimilarUsers: 30, UserSimilarityFloor: 0.1,
	}
	popularity := logics.NewPopularity(db, config.PopularityConfig{
		CacheTTL: time.Hour, WindowDays: 7, MaxItems: 1000,
	})
	cf := logics.NewCollaborativeFiltering(db, recall)
	location := logics.NewLocation(db, config.LocationConfig{
		MaxDistanceKm: 100, DistanceDecay: 0.1,
	})
	return NewService(updateConfig(FilePrefix+path), store, popularity, cf, location), path
}

func TestForceUpdate(t *testing.T) {
	service, path := newTestService(t, newTestDatabase())
	ctx := context.Background()

	assert.NoError(t, service.ForceUpdate(ctx, KindPopularity))
	status := service.Status()
	assert.Equal(t, StateIdle, status.UpdateStatus[KindPopularity])
	assert.Equal(t, 2, status.CacheSizes["popularity_scores"])
	// only the refreshed kind moves its timestamp
	assert.NotZero(t, status.LastUpdateTimes[KindPopularity])
	assert.Zero(t, status.LastUpdateTimes[KindCollaborativeFiltering])
	assert.Zero(t, status.LastUpdateTimes[KindLocation])

	assert.NoError(t, service.ForceUpdate(ctx, KindCollaborativeFiltering))
	assert.NoError(t, service.ForceUpdate(ctx, KindLocation))
	status = service.Status()
	assert.Positive(t, status.CacheSizes["user_similarity"])
	assert.Positive(t, status.CacheSizes["item_similarity"])
	assert.Equal(t, 1, status.CacheSizes["location_cache"])

	// each success persisted a snapshot
	snapshot, err := service.store.Load(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, snapshot)
	assert.Len(t, snapshot.PopularityScores, 2)
	assert.Len(t, snapshot.LastUpdateTimes, 3)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestForceUpdateUnknownKind(t *testing.T) {
	service, _ := newTestService(t, newTestDatabase())
	err := service.ForceUpdate(context.Background(), "embeddings")
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestScheduledRefreshFailure(t *testing.T) {
	db := newTestDatabase()
	service, _ := newTestService(t, db)
	ctx := context.Background()

	db.fail = true
	service.runScheduled(ctx, KindPopularity)
	status := service.Status()
	assert.Equal(t, StateError, status.UpdateStatus[KindPopularity])
	assert.Zero(t, status.CacheSizes["popularity_scores"])
	assert.Zero(t, status.LastUpdateTimes[KindPopularity])

	// an errored kind is retried at the next tick
	db.fail = false
	service.runScheduled(ctx, KindPopularity)
	status = service.Status()
	assert.Equal(t, StateIdle, status.UpdateStatus[KindPopularity])
	assert.Equal(t, 2, status.CacheSizes["popularity_scores"])
}

func TestScheduledSkipsWhileUpdating(t *testing.T) {
	service, _ := newTestService(t, newTestDatabase())
	service.mu.Lock()
	service.states[KindPopularity] = StateUpdating
	service.mu.Unlock()

	service.runScheduled(context.Background(), KindPopularity)
	status := service.Status()
	assert.Equal(t, StateUpdating, status.UpdateStatus[KindPopularity])
	assert.Zero(t, status.LastUpdateTimes[KindPopularity])
}

func TestForceUpdateError(t *testing.T) {
	db := newTestDatabase()
	service, _ := newTestService(t, db)
	db.fail = true
	err := service.ForceUpdate(context.Background(), KindLocation)
	assert.Error(t, err)
	assert.Equal(t, StateError, service.Status().UpdateStatus[KindLocation])
}

func TestWarmStart(t *testing.T) {
	db := newTestDatabase()
	first, _ := newTestService(t, db)
	ctx := context.Background()
	assert.NoError(t, first.ForceUpdate(ctx, KindPopularity))
	assert.NoError(t, first.ForceUpdate(ctx, KindLocation))

	second := NewService(first.config, first.store,
		logics.NewPopularity(db, config.PopularityConfig{CacheTTL: time.Hour, WindowDays: 7, MaxItems: 1000}),
		first.cf, first.location)
	second.WarmStart(ctx)
	status := second.Status()
	assert.Equal(t, 2, status.CacheSizes["popularity_scores"])
	assert.Equal(t, 1, status.CacheSizes["location_cache"])
	assert.InDelta(t,
		first.Status().LastUpdateTimes[KindPopularity].Unix(),
		status.LastUpdateTimes[KindPopularity].Unix(), 1)
}

func TestWarmStartMissingSnapshot(t *testing.T) {
	service, _ := newTestService(t, newTestDatabase())
	service.WarmStart(context.Background())
	status := service.Status()
	assert.Zero(t, status.CacheSizes["popularity_scores"])
	for _, kind := range Kinds {
		assert.Equal(t, StateIdle, status.UpdateStatus[kind])
	}
}

func TestWarmStartCorruptSnapshot(t *testing.T) {
	service, path := newTestService(t, newTestDatabase())
	assert.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	assert.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	service.WarmStart(context.Background())
	assert.Zero(t, service.Status().CacheSizes["popularity_scores"])
}

func TestStartStop(t *testing.T) {
	service, _ := newTestService(t, newTestDatabase())
	service.Start()
	assert.Eventually(t, func() bool {
		status := service.Status()
		return !status.LastUpdateTimes[KindPopularity].IsZero() &&
			!status.LastUpdateTimes[KindCollaborativeFiltering].IsZero() &&
			!status.LastUpdateTimes[KindLocation].IsZero()
	}, 5*time.Second, 10*time.Millisecond)
	service.Stop(context.Background())

	snapshot, err := service.store.Load(context.Background())
	assert.NoError(t, err)
	assert.NotNil(t, snapshot)
	assert.Len(t, snapshot.LastUpdateTimes, 3)
}
