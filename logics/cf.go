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
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/aura-social/recsys/base/log"
	"github.com/aura-social/recsys/config"
	"github.com/aura-social/recsys/dataset"
	"github.com/aura-social/recsys/storage/data"
)

const (
	itemBasedWeight = 0.7
	userBasedWeight = 0.3

	eventBatchSize = 1024
)

// cfIndex is an immutable similarity index. It is swapped wholesale on
// rebuild, never patched.
type cfIndex struct {
	matrix        *dataset.Matrix
	itemNeighbors [][]dataset.Neighbor
	userNeighbors [][]dataset.Neighbor
}

// CollaborativeFiltering recalls items by interaction-pattern similarity. The
// index is built once on first use under a mutex and rebuilt by the update
// service.
type CollaborativeFiltering struct {
	database data.Database
	config   config.RecallConfig

	buildMu sync.Mutex
	index   atomic.Pointer[cfIndex]
}

func NewCollaborativeFiltering(database data.Database, cfg config.RecallConfig) *CollaborativeFiltering {
	return &CollaborativeFiltering{database: database, config: cfg}
}

func (cf *CollaborativeFiltering) Name() string {
	return "collaborative_filtering"
}

// getIndex returns the current index, building it on first use. The mutex
// keeps concurrent first calls from building twice; later calls take the
// fast path on the atomic pointer.
func (cf *CollaborativeFiltering) getIndex(ctx context.Context) (*cfIndex, error) {
	if index := cf.index.Load(); index != nil {
		return index, nil
	}
	cf.buildMu.Lock()
	defer cf.buildMu.Unlock()
	if index := cf.index.Load(); index != nil {
		return index, nil
	}
	index, err := cf.buildIndex(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cf.index.Store(index)
	return index, nil
}

// Rebuild recomputes the similarity index from the full event log and swaps
// it in atomically. Readers keep the previous index until the swap.
func (cf *CollaborativeFiltering) Rebuild(ctx context.Context) error {
	start := time.Now()
	index, err := cf.buildIndex(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	cf.index.Store(index)
	log.Logger().Info("rebuilt collaborative filtering index",
		zap.Int("users", index.matrix.CountUsers()),
		zap.Int("items", index.matrix.CountItems()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (cf *CollaborativeFiltering) buildIndex(ctx context.Context) (*cfIndex, error) {
	var events []data.Event
	cursor := ""
	for {
		var batch []data.Event
		var err error
		cursor, batch, err = cf.database.GetEvents(ctx, cursor, eventBatchSize, nil)
		if err != nil {
			return nil, errors.Trace(err)
		}
		events = append(events, batch...)
		if cursor == "" {
			break
		}
	}
	matrix := dataset.BuildMatrix(events)
	return &cfIndex{
		matrix:        matrix,
		itemNeighbors: matrix.ItemNeighbors(cf.config.NumItemNeighbors),
		userNeighbors: matrix.UserNeighbors(),
	}, nil
}

func (cf *CollaborativeFiltering) Recall(ctx context.Context, userId string, n int) ([]ScoredItem, error) {
	index, err := cf.getIndex(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	userIndex, ok := index.matrix.UserIndex(userId)
	if !ok {
		return nil, nil
	}
	seedItems, seedRatings := index.matrix.UserItems(userIndex)
	if len(seedItems) == 0 {
		return nil, nil
	}
	interacted := mapset.NewThreadUnsafeSet(seedItems...)
	scores := make(map[int32]float64)

	// item-based: propagate the user's ratings through item neighbors
	for i, seed := range seedItems {
		for _, neighbor := range index.itemNeighbors[seed] {
			if interacted.Contains(neighbor.Index) {
				continue
			}
			scores[neighbor.Index] += itemBasedWeight * float64(neighbor.Similarity) * float64(seedRatings[i])
		}
	}

	// user-based: borrow items from the most similar users. Neighbors are
	// sorted descending, so the similarity floor is a correct early exit.
	for rank, neighbor := range index.userNeighbors[userIndex] {
		if rank >= cf.config.NumSimilarUsers {
			break
		}
		if float64(neighbor.Similarity) <= cf.config.UserSimilarityFloor {
			break
		}
		theirItems, theirRatings := index.matrix.UserItems(neighbor.Index)
		for i, item := range theirItems {
			if interacted.Contains(item) {
				continue
			}
			scores[item] += userBasedWeight * float64(neighbor.Similarity) * float64(theirRatings[i])
		}
	}

	candidates := make([]ScoredItem, 0, len(scores))
	for item, score := range scores {
		candidates = append(candidates, ScoredItem{ItemId: index.matrix.ItemId(item), Score: score})
	}
	sortCandidates(candidates)
	return truncateCandidates(candidates, n), nil
}

// SimilarityMaps exports the current index as flat similarity maps with
// composite "a:b" keys, keeping pairs above the similarity floor. Both maps
// are nil before the first build.
func (cf *CollaborativeFiltering) SimilarityMaps() (userSimilarity, itemSimilarity map[string]float64) {
	index := cf.index.Load()
	if index == nil {
		return nil, nil
	}
	userSimilarity = make(map[string]float64)
	for u, neighbors := range index.userNeighbors {
		for _, neighbor := range neighbors {
			if float64(neighbor.Similarity) > cf.config.UserSimilarityFloor {
				key := fmt.Sprintf("%s:%s", index.matrix.UserId(int32(u)), index.matrix.UserId(neighbor.Index))
				userSimilarity[key] = float64(neighbor.Similarity)
			}
		}
	}
	itemSimilarity = make(map[string]float64)
	for i, neighbors := range index.itemNeighbors {
		for _, neighbor := range neighbors {
			if float64(neighbor.Similarity) > cf.config.UserSimilarityFloor {
				key := fmt.Sprintf("%s:%s", index.matrix.ItemId(int32(i)), index.matrix.ItemId(neighbor.Index))
				itemSimilarity[key] = float64(neighbor.Similarity)
			}
		}
	}
	return
}
