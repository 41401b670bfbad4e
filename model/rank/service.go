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

package rank

import (
	"context"
	"sort"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/aura-social/recsys/base/log"
	"github.com/aura-social/recsys/config"
	"github.com/aura-social/recsys/feature"
	"github.com/aura-social/recsys/logics"
)

// RankedItem is one candidate after reranking.
type RankedItem struct {
	ItemId     string             `json:"item_id"`
	Score      float64            `json:"score"`
	TaskScores map[string]float64 `json:"task_scores,omitempty"`
}

// Service reranks recall candidates with the multi-task model. Any failure
// degrades to the recall order instead of failing the request.
type Service struct {
	model  *Model
	engine feature.Engine
	config config.RankingConfig
}

func NewService(model *Model, engine feature.Engine, cfg config.RankingConfig) *Service {
	return &Service{model: model, engine: engine, config: cfg}
}

// Ready reports whether a model is loaded.
func (s *Service) Ready() bool {
	return s.model != nil && s.engine != nil
}

// Rank reorders candidates by combined multi-task score and truncates to n.
// The returned flag reports whether model ranking was actually applied.
func (s *Service) Rank(ctx context.Context, userId string, candidates []logics.ScoredItem, reqContext map[string]string, n int) ([]RankedItem, bool) {
	if len(candidates) == 0 {
		return nil, false
	}
	if !s.Ready() {
		return s.degrade(userId, candidates, n, errors.New("ranking model not loaded")), false
	}
	ranked, err := s.rank(ctx, userId, candidates, reqContext)
	if err != nil {
		return s.degrade(userId, candidates, n, err), false
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ItemId < ranked[j].ItemId
	})
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked, true
}

func (s *Service) rank(ctx context.Context, userId string, candidates []logics.ScoredItem, reqContext map[string]string) ([]RankedItem, error) {
	userVector, err := s.engine.UserVector(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	contextVector := s.engine.ContextVector(reqContext)
	sequence, mask, err := s.engine.RecentSequence(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ranked := make([]RankedItem, 0, len(candidates))
	for _, candidate := range candidates {
		itemVector, err := s.engine.ItemVector(ctx, candidate.ItemId)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if len(itemVector) < s.model.Hyper.SequenceDim {
			return nil, errors.Errorf("item vector of %s is shorter than the sequence dimension", candidate.ItemId)
		}
		query := feature.Embedding(itemVector, s.model.Hyper.SequenceDim)
		probabilities, err := s.model.Forward(userVector, itemVector, contextVector, sequence, mask, query)
		if err != nil {
			return nil, errors.Trace(err)
		}
		taskScores := make(map[string]float64, numTasks)
		for task, name := range TaskNames {
			taskScores[name] = float64(probabilities[task])
		}
		ranked = append(ranked, RankedItem{
			ItemId: candidate.ItemId,
			Score: s.config.ClickWeight*taskScores[TaskNames[TaskClick]] +
				s.config.LikeWeight*taskScores[TaskNames[TaskLike]] +
				s.config.FavoriteWeight*taskScores[TaskNames[TaskFavorite]],
			TaskScores: taskScores,
		})
	}
	return ranked, nil
}

// degrade falls back to the recall order, keeping recall scores.
func (s *Service) degrade(userId string, candidates []logics.ScoredItem, n int, cause error) []RankedItem {
	log.Logger().Error("ranking degraded to recall order",
		zap.String("user_id", userId),
		zap.Int("candidates", len(candidates)),
		zap.Error(cause))
	if n >= 0 && len(candidates) > n {
		candidates = candidates[:n]
	}
	ranked := make([]RankedItem, len(candidates))
	for i, candidate := range candidates {
		ranked[i] = RankedItem{ItemId: candidate.ItemId, Score: candidate.Score}
	}
	return ranked
}
