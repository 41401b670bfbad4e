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

// Package updater refreshes the recall caches on per-kind schedules and
// persists them as a single snapshot document for warm starts.
package updater

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/aura-social/recsys/base/log"
	"github.com/aura-social/recsys/config"
	"github.com/aura-social/recsys/logics"
)

const (
	KindPopularity             = "popularity"
	KindCollaborativeFiltering = "collaborative_filtering"
	KindLocation               = "location"

	StateIdle     = "idle"
	StateUpdating = "updating"
	StateError    = "error"
)

// Kinds lists every schedulable cache kind.
var Kinds = []string{KindPopularity, KindCollaborativeFiltering, KindLocation}

// Status is a consistent view of the cache state.
type Status struct {
	CacheSizes      map[string]int       `json:"cache_sizes"`
	LastUpdateTimes map[string]time.Time `json:"last_update_times"`
	UpdateStatus    map[string]string    `json:"update_status"`
}

// Service owns the background refresh loops. Recomputation happens outside
// the lock; the lock only guards the swap of the finished artifact.
type Service struct {
	config     config.UpdateConfig
	store      Store
	popularity *logics.Popularity
	cf         *logics.CollaborativeFiltering
	location   *logics.Location

	mu               sync.Mutex
	popularityScores map[string]float64
	userSimilarity   map[string]float64
	itemSimilarity   map[string]float64
	locationBuckets  map[string][]logics.GeoItem
	states           map[string]string
	times            map[string]time.Time

	saveMu sync.Mutex
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewService(cfg config.UpdateConfig, store Store,
	popularity *logics.Popularity, cf *logics.CollaborativeFiltering, location *logics.Location) *Service {
	states := make(map[string]string, len(Kinds))
	for _, kind := range Kinds {
		states[kind] = StateIdle
	}
	return &Service{
		config:     cfg,
		store:      store,
		popularity: popularity,
		cf:         cf,
		location:   location,
		states:     states,
		times:      make(map[string]time.Time),
		done:       make(chan struct{}),
	}
}

// WarmStart restores caches from the last snapshot. A missing or unreadable
// snapshot only logs, the service starts cold.
func (s *Service) WarmStart(ctx context.Context) {
	snapshot, err := s.store.Load(ctx)
	if err != nil {
		log.Logger().Warn("failed to load cache snapshot, starting cold", zap.Error(err))
		return
	} else if snapshot == nil {
		log.Logger().Info("no cache snapshot found, starting cold")
		return
	}
	s.popularity.Warm(snapshot.PopularityScores)
	s.location.WarmBuckets(snapshot.LocationCache)
	s.mu.Lock()
	s.popularityScores = snapshot.PopularityScores
	s.userSimilarity = snapshot.UserSimilarity
	s.itemSimilarity = snapshot.ItemSimilarity
	s.locationBuckets = snapshot.LocationCache
	for kind, seconds := range snapshot.LastUpdateTimes {
		s.times[kind] = time.Unix(0, int64(seconds*float64(time.Second)))
	}
	s.mu.Unlock()
	log.Logger().Info("cache snapshot restored",
		zap.Int("popularity_scores", len(snapshot.PopularityScores)),
		zap.Int("user_similarity", len(snapshot.UserSimilarity)),
		zap.Int("item_similarity", len(snapshot.ItemSimilarity)),
		zap.Int("location_cache", len(snapshot.LocationCache)))
}

// Start launches one refresh loop per cache kind.
func (s *Service) Start() {
	intervals := map[string]time.Duration{
		KindPopularity:             s.config.PopularityInterval,
		KindCollaborativeFiltering: s.config.CFInterval,
		KindLocation:               s.config.LocationInterval,
	}
	for _, kind := range Kinds {
		s.wg.Add(1)
		go s.loop(kind, intervals[kind])
	}
	log.Logger().Info("incremental updater started",
		zap.Duration("popularity_interval", s.config.PopularityInterval),
		zap.Duration("cf_interval", s.config.CFInterval),
		zap.Duration("location_interval", s.config.LocationInterval))
}

// Stop waits for in-flight refreshes and persists a final snapshot.
func (s *Service) Stop(ctx context.Context) {
	close(s.done)
	s.wg.Wait()
	if err := s.persist(ctx); err != nil {
		log.Logger().Error("failed to persist cache snapshot on shutdown", zap.Error(err))
	}
}

func (s *Service) loop(kind string, interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.runScheduled(context.Background(), kind)
		}
	}
}

// runScheduled performs one scheduled refresh. A kind already updating is
// skipped, an errored kind is retried.
func (s *Service) runScheduled(ctx context.Context, kind string) {
	s.mu.Lock()
	if s.states[kind] == StateUpdating {
		s.mu.Unlock()
		log.Logger().Debug("cache refresh already in progress", zap.String("kind", kind))
		return
	}
	s.states[kind] = StateUpdating
	s.mu.Unlock()

	start := time.Now()
	err := s.refresh(ctx, kind)
	UpdateSeconds.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	s.mu.Lock()
	if err != nil {
		s.states[kind] = StateError
	} else {
		s.states[kind] = StateIdle
		s.times[kind] = time.Now()
	}
	s.mu.Unlock()
	if err != nil {
		UpdatesTotal.WithLabelValues(kind, "error").Inc()
		log.Logger().Error("scheduled cache refresh failed",
			zap.String("kind", kind), zap.Error(err))
		return
	}
	UpdatesTotal.WithLabelValues(kind, "success").Inc()
	log.Logger().Info("cache refreshed",
		zap.String("kind", kind), zap.Duration("elapsed", time.Since(start)))
	if err := s.persist(ctx); err != nil {
		log.Logger().Error("failed to persist cache snapshot", zap.Error(err))
	}
}

// ForceUpdate refreshes one cache kind synchronously, regardless of its
// current state. The refresh error is returned to the caller.
func (s *Service) ForceUpdate(ctx context.Context, kind string) error {
	switch kind {
	case KindPopularity, KindCollaborativeFiltering, KindLocation:
	default:
		return errors.NotFoundf("cache kind %s", kind)
	}
	start := time.Now()
	err := s.refresh(ctx, kind)
	UpdateSeconds.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	s.mu.Lock()
	if err != nil {
		s.states[kind] = StateError
	} else {
		s.states[kind] = StateIdle
		s.times[kind] = time.Now()
	}
	s.mu.Unlock()
	if err != nil {
		UpdatesTotal.WithLabelValues(kind, "error").Inc()
		return errors.Annotatef(err, "force update %s", kind)
	}
	UpdatesTotal.WithLabelValues(kind, "success").Inc()
	log.Logger().Info("cache refreshed",
		zap.String("kind", kind), zap.String("trigger", "force"),
		zap.Duration("elapsed", time.Since(start)))
	if err := s.persist(ctx); err != nil {
		log.Logger().Error("failed to persist cache snapshot", zap.Error(err))
	}
	return nil
}

func (s *Service) refresh(ctx context.Context, kind string) error {
	switch kind {
	case KindPopularity:
		return s.refreshPopularity(ctx)
	case KindCollaborativeFiltering:
		return s.refreshCollaborativeFiltering(ctx)
	case KindLocation:
		return s.refreshLocation(ctx)
	}
	return errors.NotFoundf("cache kind %s", kind)
}

func (s *Service) refreshPopularity(ctx context.Context) error {
	scores, err := s.popularity.ComputeScores(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	s.popularity.Warm(scores)
	s.mu.Lock()
	s.popularityScores = scores
	s.mu.Unlock()
	return nil
}

func (s *Service) refreshCollaborativeFiltering(ctx context.Context) error {
	if err := s.cf.Rebuild(ctx); err != nil {
		return errors.Trace(err)
	}
	userSimilarity, itemSimilarity := s.cf.SimilarityMaps()
	s.mu.Lock()
	s.userSimilarity = userSimilarity
	s.itemSimilarity = itemSimilarity
	s.mu.Unlock()
	return nil
}

func (s *Service) refreshLocation(ctx context.Context) error {
	if err := s.location.Rebuild(ctx); err != nil {
		return errors.Trace(err)
	}
	buckets := s.location.Buckets()
	s.mu.Lock()
	s.locationBuckets = buckets
	s.mu.Unlock()
	return nil
}

// persist writes one snapshot at a time so concurrent refresh loops never
// interleave writes.
func (s *Service) persist(ctx context.Context) error {
	snapshot := s.snapshot()
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return errors.Trace(s.store.Save(ctx, snapshot))
}

func (s *Service) snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	times := make(map[string]float64, len(s.times))
	for kind, t := range s.times {
		times[kind] = float64(t.UnixNano()) / float64(time.Second)
	}
	return &Snapshot{
		PopularityScores: s.popularityScores,
		UserSimilarity:   s.userSimilarity,
		ItemSimilarity:   s.itemSimilarity,
		LocationCache:    s.locationBuckets,
		LastUpdateTimes:  times,
	}
}

// Status reports cache sizes, last update times and per-kind states.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{
		CacheSizes: map[string]int{
			"popularity_scores": len(s.popularityScores),
			"user_similarity":   len(s.userSimilarity),
			"item_similarity":   len(s.itemSimilarity),
			"location_cache":    len(s.locationBuckets),
		},
		LastUpdateTimes: make(map[string]time.Time, len(s.times)),
		UpdateStatus:    make(map[string]string, len(s.states)),
	}
	for kind, t := range s.times {
		status.LastUpdateTimes[kind] = t
	}
	for kind, state := range s.states {
		status.UpdateStatus[kind] = state
	}
	return status
}
