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

// Package logics implements the recall strategies and the orchestrator that
// merges their candidates.
package logics

import (
	"context"
	"sort"
)

// ScoredItem is one candidate produced by a recall strategy. Scores are only
// comparable within a single recall call.
type ScoredItem struct {
	ItemId string  `json:"item_id"`
	Score  float64 `json:"score"`
}

// Strategy produces a scored candidate list for a user within a budget.
type Strategy interface {
	Name() string
	Recall(ctx context.Context, userId string, n int) ([]ScoredItem, error)
}

// sortCandidates orders candidates by descending score. Equal scores fall
// back to ascending item id so results are reproducible.
func sortCandidates(items []ScoredItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ItemId < items[j].ItemId
	})
}

func truncateCandidates(items []ScoredItem, n int) []ScoredItem {
	if n >= 0 && len(items) > n {
		return items[:n]
	}
	return items
}
