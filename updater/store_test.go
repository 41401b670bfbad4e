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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aura-social/recsys/logics"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewStore(FilePrefix + filepath.Join(t.TempDir(), "cache", "snapshot.json"))
	assert.NoError(t, err)

	want := &Snapshot{
		PopularityScores: map[string]float64{"i1": 4.5},
		UserSimilarity:   map[string]float64{"u1:u2": 0.9},
		ItemSimilarity:   map[string]float64{"i1:i2": 0.8},
		LocationCache: map[string][]logics.GeoItem{
			"399.0:1164.0": {{ItemId: "i1", Lat: 39.95, Lon: 116.45}},
		},
		LastUpdateTimes: map[string]float64{KindPopularity: 1700000000.5},
	}
	assert.NoError(t, store.Save(context.Background(), want))
	got, err := store.Load(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileStoreMissing(t *testing.T) {
	store, err := NewStore(FilePrefix + filepath.Join(t.TempDir(), "missing.json"))
	assert.NoError(t, err)
	snapshot, err := store.Load(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, snapshot)
}

func TestNewStoreDispatch(t *testing.T) {
	store, err := NewStore("redis://localhost:6379/0")
	assert.NoError(t, err)
	assert.IsType(t, &redisStore{}, store)

	_, err = NewStore("s3://bucket/key")
	assert.Error(t, err)
}
