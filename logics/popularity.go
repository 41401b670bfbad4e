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
	"math"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/aura-social/recsys/base/heap"
	"github.com/aura-social/recsys/base/log"
	"github.com/aura-social/recsys/config"
	"github.com/aura-social/recsys/storage/data"
)

// popularityWeights are per-event contributions to an item's popularity
// score, deliberately flatter than the interaction matrix weights.
var popularityWeights = map[string]float64{
	data.EventClick: 1,
	data.EventLike:  2,
	data.EventFav:   3,
}

// Popularity recalls globally hot items. The ranking is recomputed at most
// once per hour and served from a TTL cache in between.
type Popularity struct {
	database data.Database
	config   config.PopularityConfig
	cache    *ttlcache.Cache[string, []ScoredItem]
}

func NewPopularity(database data.Database, cfg config.PopularityConfig) *Popularity {
	cache := ttlcache.New[string, []ScoredItem](
		ttlcache.WithTTL[string, []ScoredItem](cfg.CacheTTL))
	go cache.Start()
	return &Popularity{database: database, config: cfg, cache: cache}
}

func (p *Popularity) Name() string {
	return "popularity"
}

func hourKey(t time.Time) string {
	return t.Format("2006010215")
}

func (p *Popularity) Recall(ctx context.Context, userId string, n int) ([]ScoredItem, error) {
	key := hourKey(time.Now())
	if entry := p.cache.Get(key); entry != nil {
		return truncateCandidates(entry.Value(), n), nil
	}
	scores, err := p.ComputeScores(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ranked := rankScores(scores)
	p.cache.Set(key, ranked, ttlcache.DefaultTTL)
	return truncateCandidates(ranked, n), nil
}

// Warm pre-populates the current hour's ranking, bypassing computation. Used
// by the update service after a refresh and at snapshot warm start.
func (p *Popularity) Warm(scores map[string]float64) {
	p.cache.Set(hourKey(time.Now()), rankScores(scores), ttlcache.DefaultTTL)
}

// ComputeScores aggregates popularity over the trailing window. The window
// is anchored at the latest event timestamp rather than the wall clock, so a
// static dataset scores reproducibly.
func (p *Popularity) ComputeScores(ctx context.Context) (map[string]float64, error) {
	latest, err := p.database.LatestEventTime(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if latest.IsZero() {
		return map[string]float64{}, nil
	}
	windowHours := float64(24 * p.config.WindowDays)
	begin := latest.Add(-time.Duration(p.config.WindowDays) * 24 * time.Hour)

	scores := make(map[string]float64)
	cursor := ""
	for {
		var batch []data.Event
		cursor, batch, err = p.database.GetEvents(ctx, cursor, eventBatchSize, &begin)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, event := range batch {
			weight, ok := popularityWeights[event.EventType]
			if !ok {
				continue
			}
			decay := math.Exp(-latest.Sub(event.Timestamp).Hours() / windowHours)
			dwellBonus := math.Min(1+math.Log1p(event.DwellTime)/10, 2.0)
			scores[event.ItemId] += weight * decay * dwellBonus
		}
		if cursor == "" {
			break
		}
	}
	if len(scores) == 0 {
		return scores, nil
	}

	// one-time publish freshness multiplier
	cursor = ""
	for {
		var items []data.Item
		cursor, items, err = p.database.GetItems(ctx, cursor, eventBatchSize)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, item := range items {
			if _, ok := scores[item.ItemId]; ok {
				scores[item.ItemId] *= freshnessBonus(latest.Sub(item.PublishTimestamp))
			}
		}
		if cursor == "" {
			break
		}
	}

	// bound memory to the hottest items
	if len(scores) > p.config.MaxItems {
		filter := heap.NewTopKFilter[string, float64](p.config.MaxItems)
		for item, score := range scores {
			filter.Push(item, score)
		}
		items, values := filter.PopAll()
		scores = make(map[string]float64, len(items))
		for i, item := range items {
			scores[item] = values[i]
		}
	}
	log.Logger().Debug("computed popularity scores", zap.Int("items", len(scores)))
	return scores, nil
}

func freshnessBonus(age time.Duration) float64 {
	switch {
	case age <= 24*time.Hour:
		return 1.5
	case age <= 7*24*time.Hour:
		return 1.2
	default:
		return 1.0
	}
}

func rankScores(scores map[string]float64) []ScoredItem {
	ranked := make([]ScoredItem, 0, len(scores))
	for item, score := range scores {
		ranked = append(ranked, ScoredItem{ItemId: item, Score: score})
	}
	sortCandidates(ranked)
	return ranked
}
