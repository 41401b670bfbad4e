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
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/aura-social/recsys/base/log"
)

// statsWindowSize bounds the trailing statistics windows.
const statsWindowSize = 1000

// Orchestrator fans a recall request out to the registered strategies,
// weights and merges their candidates. A failed strategy contributes an
// empty list; the orchestrator itself never fails.
type Orchestrator struct {
	strategies []Strategy
	weights    map[string]float64
	corpusSize int

	mu       sync.Mutex
	coverage map[string]*rollingWindow
	dedup    *rollingWindow
}

func NewOrchestrator(weights map[string]float64, corpusSize int, strategies ...Strategy) *Orchestrator {
	if corpusSize <= 0 {
		corpusSize = 1000
	}
	return &Orchestrator{
		strategies: strategies,
		weights:    weights,
		corpusSize: corpusSize,
		coverage:   make(map[string]*rollingWindow),
		dedup:      &rollingWindow{},
	}
}

// Recall returns at most n candidates merged across all strategies, ordered
// by descending merged score with ascending item id breaking ties.
func (o *Orchestrator) Recall(ctx context.Context, userId string, n int) []ScoredItem {
	return o.RecallSubset(ctx, userId, n, nil)
}

// RecallSubset restricts recall to the named strategies. Unknown names are
// ignored, an empty selection means all strategies.
func (o *Orchestrator) RecallSubset(ctx context.Context, userId string, n int, names []string) []ScoredItem {
	selected := o.strategies
	if len(names) > 0 {
		wanted := mapset.NewThreadUnsafeSet(names...)
		selected = lo.Filter(o.strategies, func(strategy Strategy, _ int) bool {
			return wanted.Contains(strategy.Name())
		})
	}
	o.checkWeights()
	merged := make(map[string]float64)
	counts := make(map[string]int)
	unique := mapset.NewThreadUnsafeSet[string]()
	total := 0
	for _, strategy := range selected {
		weight := o.weights[strategy.Name()]
		budget := int(float64(n) * weight)
		start := time.Now()
		items, err := strategy.Recall(ctx, userId, budget)
		RecallStrategySeconds.WithLabelValues(strategy.Name()).Observe(time.Since(start).Seconds())
		if err != nil {
			log.Logger().Error("recall strategy failed",
				zap.String("strategy", strategy.Name()),
				zap.String("user_id", userId),
				zap.Error(err))
			RecallStrategyFailures.WithLabelValues(strategy.Name()).Inc()
			items = nil
		}
		RecallStrategyCandidates.WithLabelValues(strategy.Name()).Observe(float64(len(items)))
		counts[strategy.Name()] = len(items)
		total += len(items)
		for _, item := range items {
			merged[item.ItemId] += item.Score * weight
			unique.Add(item.ItemId)
		}
	}
	candidates := make([]ScoredItem, 0, len(merged))
	for itemId, score := range merged {
		candidates = append(candidates, ScoredItem{ItemId: itemId, Score: score})
	}
	sortCandidates(candidates)
	candidates = truncateCandidates(candidates, n)
	o.updateStats(counts, unique.Cardinality(), total)
	return candidates
}

// Strategies returns the registered strategies in dispatch order.
func (o *Orchestrator) Strategies() []Strategy {
	return o.strategies
}

// checkWeights logs misconfigured weights but never rejects them.
func (o *Orchestrator) checkWeights() {
	sum := 0.0
	for _, strategy := range o.strategies {
		weight, ok := o.weights[strategy.Name()]
		if !ok {
			log.Logger().Warn("recall strategy has no configured weight",
				zap.String("strategy", strategy.Name()))
			continue
		}
		sum += weight
	}
	if math.Abs(sum-1.0) > 0.01 {
		log.Logger().Warn("recall strategy weights do not sum to 1.0", zap.Float64("sum", sum))
	}
}

func (o *Orchestrator) updateStats(counts map[string]int, uniqueCount, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for name, count := range counts {
		window, ok := o.coverage[name]
		if !ok {
			window = &rollingWindow{}
			o.coverage[name] = window
		}
		window.Push(float64(count) / float64(o.corpusSize))
	}
	dedupRatio := 1.0
	if total > 0 {
		dedupRatio = float64(uniqueCount) / float64(total)
	}
	o.dedup.Push(dedupRatio)
}

// WindowStats summarizes one trailing statistics window.
type WindowStats struct {
	Current float64 `json:"current"`
	Avg     float64 `json:"avg"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// CoverageStats returns per-strategy coverage over the trailing window.
func (o *Orchestrator) CoverageStats() map[string]WindowStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	stats := make(map[string]WindowStats, len(o.coverage))
	for name, window := range o.coverage {
		if summary, ok := window.Summary(); ok {
			stats[name] = summary
		}
	}
	return stats
}

// DedupStats returns the overall dedup ratio over the trailing window.
func (o *Orchestrator) DedupStats() (WindowStats, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dedup.Summary()
}

// rollingWindow is a bounded FIFO sample window.
type rollingWindow struct {
	samples []float64
}

func (w *rollingWindow) Push(v float64) {
	if len(w.samples) >= statsWindowSize {
		w.samples = w.samples[1:]
	}
	w.samples = append(w.samples, v)
}

func (w *rollingWindow) Summary() (WindowStats, bool) {
	if len(w.samples) == 0 {
		return WindowStats{}, false
	}
	stats := WindowStats{
		Current: w.samples[len(w.samples)-1],
		Min:     math.Inf(1),
		Max:     math.Inf(-1),
	}
	sum := 0.0
	for _, v := range w.samples {
		sum += v
		stats.Min = math.Min(stats.Min, v)
		stats.Max = math.Max(stats.Max, v)
	}
	stats.Avg = sum / float64(len(w.samples))
	return stats, true
}
