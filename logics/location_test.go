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

func locationConfig() config.LocationConfig {
	return config.LocationConfig{
		MaxDistanceKm: 100,
		DistanceDecay: 0.1,
	}
}

func geoPtr(v float64) *float64 {
	return &v
}

func locationFixture(t *testing.T) *mockDatabase {
	db := newMockDatabase()
	err := db.BatchInsertUsers(context.Background(), []data.User{
		{UserId: "geo_user", RecentGeos: []string{"wx4g0"}},
		{UserId: "city_user", City: "北京"},
		{UserId: "lost_user", City: "atlantis"},
	})
	assert.NoError(t, err)
	err = db.BatchInsertItems(context.Background(), []data.Item{
		{ItemId: "near", GeoLat: geoPtr(39.95), GeoLon: geoPtr(116.45),
			PublishTimestamp: time.Now(), PopularityScore: 0.8},
		{ItemId: "nearer", GeoLat: geoPtr(39.92), GeoLon: geoPtr(116.42),
			PublishTimestamp: time.Now(), PopularityScore: 0.5},
		{ItemId: "shanghai", GeoLat: geoPtr(31.23), GeoLon: geoPtr(121.47),
			PublishTimestamp: time.Now()},
		{ItemId: "nowhere"},
	})
	assert.NoError(t, err)
	return db
}

func TestLocationRecall(t *testing.T) {
	db := locationFixture(t)
	l := NewLocation(db, locationConfig())
	items, err := l.Recall(context.Background(), "geo_user", 10)
	assert.NoError(t, err)
	assert.True(t, checkRecallInvariants(items, 10))
	assert.ElementsMatch(t, []string{"near", "nearer"}, itemIds(items))
	assert.NotContains(t, itemIds(items), "shanghai")
	assert.NotContains(t, itemIds(items), "nowhere")
}

func TestLocationRecallByCity(t *testing.T) {
	db := locationFixture(t)
	l := NewLocation(db, locationConfig())
	items, err := l.Recall(context.Background(), "city_user", 10)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"near", "nearer"}, itemIds(items))
}

func TestLocationUnresolvable(t *testing.T) {
	db := locationFixture(t)
	l := NewLocation(db, locationConfig())
	items, err := l.Recall(context.Background(), "lost_user", 10)
	assert.NoError(t, err)
	assert.Empty(t, items)

	items, err = l.Recall(context.Background(), "unknown", 10)
	assert.NoError(t, err)
	assert.Empty(t, items)
}

func TestLocationBudget(t *testing.T) {
	db := newMockDatabase()
	err := db.BatchInsertUsers(context.Background(), []data.User{
		{UserId: "geo_user", RecentGeos: []string{"wx4g0"}},
	})
	assert.NoError(t, err)
	err = db.BatchInsertItems(context.Background(), []data.Item{
		{ItemId: "close", GeoLat: geoPtr(39.90), GeoLon: geoPtr(116.40), PublishTimestamp: time.Now()},
		{ItemId: "far", GeoLat: geoPtr(40.40), GeoLon: geoPtr(116.90), PublishTimestamp: time.Now()},
	})
	assert.NoError(t, err)

	l := NewLocation(db, locationConfig())
	items, err := l.Recall(context.Background(), "geo_user", 1)
	assert.NoError(t, err)
	// the nearest item wins the budget cut
	assert.Equal(t, []string{"close"}, itemIds(items))
}

func TestLocationBuckets(t *testing.T) {
	db := locationFixture(t)
	l := NewLocation(db, locationConfig())
	assert.Nil(t, l.Buckets())

	assert.NoError(t, l.Rebuild(context.Background()))
	buckets := l.Buckets()
	assert.NotEmpty(t, buckets)
	total := 0
	for _, bucket := range buckets {
		total += len(bucket)
	}
	assert.Equal(t, 3, total) // "nowhere" has no coordinate

	// recall served from the index matches the scan path
	items, err := l.Recall(context.Background(), "geo_user", 10)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"near", "nearer"}, itemIds(items))
}

func TestLocationWarmBuckets(t *testing.T) {
	l := NewLocation(newMockDatabase(), locationConfig())
	l.WarmBuckets(nil)
	assert.Nil(t, l.Buckets())

	buckets := map[string][]GeoItem{
		bucketKey(39.95, 116.45): {{ItemId: "near", Lat: 39.95, Lon: 116.45}},
	}
	l.WarmBuckets(buckets)
	assert.Equal(t, buckets, l.Buckets())
}

func TestHaversine(t *testing.T) {
	// Beijing to Shanghai is a little over 1000 km
	d := haversine(39.9042, 116.4074, 31.2304, 121.4737)
	assert.InDelta(t, 1067, d, 20)
	assert.Zero(t, haversine(39.9, 116.4, 39.9, 116.4))
}
