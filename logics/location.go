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
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
	"go.uber.org/atomic"

	"github.com/aura-social/recsys/config"
	"github.com/aura-social/recsys/storage/data"
)

// geohash fallback coordinates are derived near this reference point
const (
	referenceLat = 39.9
	referenceLon = 116.4

	geoBucketStep = 0.1

	earthRadiusKm = 6371
)

type coordinate struct {
	Lat float64
	Lon float64
}

var cityCoordinates = map[string]coordinate{
	"北京": {39.9042, 116.4074},
	"上海": {31.2304, 121.4737},
	"广州": {23.1291, 113.2644},
	"深圳": {22.5431, 114.0579},
	"杭州": {30.2741, 120.1551},
	"成都": {30.5728, 104.0668},
	"重庆": {29.5647, 106.5507},
	"西安": {34.3416, 108.9398},
	"南京": {32.0603, 118.7969},
	"武汉": {30.5928, 114.3055},
}

// GeoItem is one located item in the geo-bucket index. Field names follow
// the persisted snapshot schema.
type GeoItem struct {
	ItemId string  `json:"item_id"`
	Lat    float64 `json:"geo_lat"`
	Lon    float64 `json:"geo_lon"`
}

type geoIndex struct {
	buckets map[string][]GeoItem
}

// Location recalls items near the user's resolved coordinate. Candidates
// come from the geo-bucket index maintained by the update service; before
// the first refresh the strategy scans item profiles directly.
type Location struct {
	database data.Database
	config   config.LocationConfig
	resolved *ttlcache.Cache[string, coordinate]
	index    atomic.Pointer[geoIndex]
}

func NewLocation(database data.Database, cfg config.LocationConfig) *Location {
	resolved := ttlcache.New[string, coordinate](
		ttlcache.WithTTL[string, coordinate](time.Hour))
	go resolved.Start()
	return &Location{database: database, config: cfg, resolved: resolved}
}

func (l *Location) Name() string {
	return "location"
}

func (l *Location) Recall(ctx context.Context, userId string, n int) ([]ScoredItem, error) {
	origin, ok, err := l.resolveCoordinate(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !ok {
		return nil, nil
	}
	nearby, err := l.nearbyItems(ctx, origin)
	if err != nil {
		return nil, errors.Trace(err)
	}
	// nearest first, then cap to the budget before scoring
	sort.Slice(nearby, func(i, j int) bool {
		if nearby[i].distance != nearby[j].distance {
			return nearby[i].distance < nearby[j].distance
		}
		return nearby[i].item.ItemId < nearby[j].item.ItemId
	})
	if n >= 0 && len(nearby) > n {
		nearby = nearby[:n]
	}
	candidates := make([]ScoredItem, 0, len(nearby))
	for _, candidate := range nearby {
		item, err := l.database.GetItem(ctx, candidate.item.ItemId)
		if errors.Is(err, data.ErrItemNotExist) {
			continue
		} else if err != nil {
			return nil, errors.Trace(err)
		}
		candidates = append(candidates, ScoredItem{
			ItemId: item.ItemId,
			Score:  l.scoreCandidate(candidate.distance, item),
		})
	}
	sortCandidates(candidates)
	return candidates, nil
}

func (l *Location) scoreCandidate(distance float64, item data.Item) float64 {
	proximity := math.Max(0, 1-distance/l.config.MaxDistanceKm)
	decay := math.Exp(-distance * l.config.DistanceDecay)
	popularity := math.Min(item.PopularityScore, 1.0)
	// freshness is measured against the wall clock, unlike popularity recall
	freshness := freshnessBonus(time.Since(item.PublishTimestamp))
	return 0.4*proximity + 0.3*decay + 0.2*popularity + 0.1*(freshness-1)
}

// resolveCoordinate maps a user to a coordinate: most recent geohash first,
// named city second. Users with neither yield no candidates.
func (l *Location) resolveCoordinate(ctx context.Context, userId string) (coordinate, bool, error) {
	if entry := l.resolved.Get(userId); entry != nil {
		return entry.Value(), true, nil
	}
	user, err := l.database.GetUser(ctx, userId)
	if errors.Is(err, data.ErrUserNotExist) {
		return coordinate{}, false, nil
	} else if err != nil {
		return coordinate{}, false, errors.Trace(err)
	}
	var origin coordinate
	if len(user.RecentGeos) > 0 {
		offset := float64(geohashOffset(user.RecentGeos[0])) / 1000
		origin = coordinate{Lat: referenceLat + offset, Lon: referenceLon + offset}
	} else if city, ok := cityCoordinates[user.City]; ok {
		origin = coordinate{
			Lat: city.Lat + rand.Float64()*0.2 - 0.1,
			Lon: city.Lon + rand.Float64()*0.2 - 0.1,
		}
	} else {
		return coordinate{}, false, nil
	}
	l.resolved.Set(userId, origin, ttlcache.DefaultTTL)
	return origin, true, nil
}

// geohashOffset maps a geohash string to a deterministic offset in [0, 100).
func geohashOffset(geohash string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(geohash))
	return h.Sum32() % 100
}

type nearbyItem struct {
	item     GeoItem
	distance float64
}

func (l *Location) nearbyItems(ctx context.Context, origin coordinate) ([]nearbyItem, error) {
	if index := l.index.Load(); index != nil {
		var nearby []nearbyItem
		for _, bucket := range index.buckets {
			for _, item := range bucket {
				distance := haversine(origin.Lat, origin.Lon, item.Lat, item.Lon)
				if distance <= l.config.MaxDistanceKm {
					nearby = append(nearby, nearbyItem{item: item, distance: distance})
				}
			}
		}
		return nearby, nil
	}
	// no index yet, scan item profiles
	var nearby []nearbyItem
	cursor := ""
	for {
		var items []data.Item
		var err error
		cursor, items, err = l.database.GetItems(ctx, cursor, eventBatchSize)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, item := range items {
			if !item.HasLocation() {
				continue
			}
			distance := haversine(origin.Lat, origin.Lon, *item.GeoLat, *item.GeoLon)
			if distance <= l.config.MaxDistanceKm {
				nearby = append(nearby, nearbyItem{
					item:     GeoItem{ItemId: item.ItemId, Lat: *item.GeoLat, Lon: *item.GeoLon},
					distance: distance,
				})
			}
		}
		if cursor == "" {
			break
		}
	}
	return nearby, nil
}

// Rebuild regroups located items into geo buckets and swaps the index in.
func (l *Location) Rebuild(ctx context.Context) error {
	buckets := make(map[string][]GeoItem)
	cursor := ""
	for {
		var items []data.Item
		var err error
		cursor, items, err = l.database.GetItems(ctx, cursor, eventBatchSize)
		if err != nil {
			return errors.Trace(err)
		}
		for _, item := range items {
			if !item.HasLocation() {
				continue
			}
			key := bucketKey(*item.GeoLat, *item.GeoLon)
			buckets[key] = append(buckets[key], GeoItem{ItemId: item.ItemId, Lat: *item.GeoLat, Lon: *item.GeoLon})
		}
		if cursor == "" {
			break
		}
	}
	l.index.Store(&geoIndex{buckets: buckets})
	return nil
}

// Buckets exports the current geo-bucket index, nil before the first build.
func (l *Location) Buckets() map[string][]GeoItem {
	if index := l.index.Load(); index != nil {
		return index.buckets
	}
	return nil
}

// WarmBuckets installs a previously persisted geo-bucket index.
func (l *Location) WarmBuckets(buckets map[string][]GeoItem) {
	if len(buckets) > 0 {
		l.index.Store(&geoIndex{buckets: buckets})
	}
}

func bucketKey(lat, lon float64) string {
	return fmt.Sprintf("%.1f:%.1f", lat/geoBucketStep, lon/geoBucketStep)
}

// haversine returns the great-circle distance between two coordinates in
// kilometers.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1, lon1 = lat1*math.Pi/180, lon1*math.Pi/180
	lat2, lon2 = lat2*math.Pi/180, lon2*math.Pi/180
	dLat := lat2 - lat1
	dLon := lon2 - lon1
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
