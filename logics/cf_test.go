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

package logics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aura-social/recsys/config"
	"github.com/aura-social/recsys/storage/data"
)

func recallConfig() config.RecallConfig {
	return config.RecallConfig{
		CandidateSize:       200,
		CFWeight:            0.5,
		PopularityWeight:    0.25,
		LocationWeight:      0.25,
		NumItemNeighbors:    100,
		NumSimilarUsers:     30,
		UserSimilarityFloor: 0.1,
	}
}

func cfEvent(user, item, eventType string) data.Event {
	return data.Event{UserId: user, ItemId: item, EventType: eventType, Timestamp: time.Now()}
}

func TestCollaborativeFilteringRecall(t *testing.T) {
	db := newMockDatabase()
	err := db.BatchInsertEvents(context.Background(), []data.Event{
		cfEvent("u1", "i1", data.EventClick),
		cfEvent("u1", "i2", data.EventLike),
		cfEvent("u2", "i1", data.EventClick),
		cfEvent("u2", "i2", data.EventLike),
		cfEvent("u2", "i3", data.EventFav),
		cfEvent("u3", "i1", data.EventClick),
		cfEvent("u3", "i4", data.EventClick),
	})
	assert.NoError(t, err)

	cf := NewCollaborativeFiltering(db, recallConfig())
	items, err := cf.Recall(context.Background(), "u1", 10)
	assert.NoError(t, err)
	assert.NotEmpty(t, items)
	assert.True(t, checkRecallInvariants(items, 10))
	for _, item := range items {
		// never recommend what the user already interacted with
		assert.NotEqual(t, "i1", item.ItemId)
		assert.NotEqual(t, "i2", item.ItemId)
	}
	// i3 is reachable through both item and user similarity
	assert.Equal(t, "i3", items[0].ItemId)
}

func TestCollaborativeFilteringEmptyHistory(t *testing.T) {
	db := newMockDatabase()
	err := db.BatchInsertEvents(context.Background(), []data.Event{
		cfEvent("u1", "i1", data.EventClick),
		// exposures carry no weight, so u2 has no interactions
		cfEvent("u2", "i1", data.EventExpose),
	})
	assert.NoError(t, err)

	cf := NewCollaborativeFiltering(db, recallConfig())
	items, err := cf.Recall(context.Background(), "u2", 10)
	assert.NoError(t, err)
	assert.Empty(t, items)

	items, err = cf.Recall(context.Background(), "unknown", 10)
	assert.NoError(t, err)
	assert.Empty(t, items)
}

func TestCollaborativeFilteringRebuild(t *testing.T) {
	db := newMockDatabase()
	err := db.BatchInsertEvents(context.Background(), []data.Event{
		cfEvent("u1", "i1", data.EventClick),
		cfEvent("u2", "i1", data.EventClick),
	})
	assert.NoError(t, err)

	cf := NewCollaborativeFiltering(db, recallConfig())
	items, err := cf.Recall(context.Background(), "u1", 10)
	assert.NoError(t, err)
	assert.Empty(t, items)

	// a new co-interaction only shows up after a rebuild
	err = db.BatchInsertEvents(context.Background(), []data.Event{
		cfEvent("u2", "i2", data.EventLike),
	})
	assert.NoError(t, err)
	items, err = cf.Recall(context.Background(), "u1", 10)
	assert.NoError(t, err)
	assert.Empty(t, items)

	assert.NoError(t, cf.Rebuild(context.Background()))
	items, err = cf.Recall(context.Background(), "u1", 10)
	assert.NoError(t, err)
	assert.Equal(t, []string{"i2"}, itemIds(items))
}

func TestSimilarityMaps(t *testing.T) {
	db := newMockDatabase()
	err := db.BatchInsertEvents(context.Background(), []data.Event{
		cfEvent("u1", "i1", data.EventClick),
		cfEvent("u1", "i2", data.EventClick),
		cfEvent("u2", "i1", data.EventClick),
		cfEvent("u2", "i2", data.EventClick),
	})
	assert.NoError(t, err)

	cf := NewCollaborativeFiltering(db, recallConfig())
	userSim, itemSim := cf.SimilarityMaps()
	assert.Nil(t, userSim)
	assert.Nil(t, itemSim)

	assert.NoError(t, cf.Rebuild(context.Background()))
	userSim, itemSim = cf.SimilarityMaps()
	assert.InDelta(t, 1.0, userSim["u1:u2"], 1e-6)
	assert.InDelta(t, 1.0, userSim["u2:u1"], 1e-6)
	assert.InDelta(t, 1.0, itemSim["i1:i2"], 1e-6)
}

func itemIds(items []ScoredItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ItemId
	}
	return ids
}
