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

// Package server exposes the recommendation engine over a REST-ful API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/aura-social/recsys/base/log"
	"github.com/aura-social/recsys/config"
	"github.com/aura-social/recsys/logics"
	"github.com/aura-social/recsys/model/rank"
	"github.com/aura-social/recsys/storage/data"
	"github.com/aura-social/recsys/updater"
)

// Version of the engine, overridable at build time.
var Version = "0.1.0"

const (
	defaultRecommendations = 10
	maxRecommendations     = 100
)

// RestServer implements the REST-ful API of the recommendation engine.
type RestServer struct {
	Config       *config.Config
	DataClient   data.Database
	Orchestrator *logics.Orchestrator
	Ranking      *rank.Service
	Updater      *updater.Service
	WebService   *restful.WebService

	httpServer *http.Server
}

func NewRestServer(cfg *config.Config, database data.Database,
	orchestrator *logics.Orchestrator, ranking *rank.Service, upd *updater.Service) *RestServer {
	return &RestServer{
		Config:       cfg,
		DataClient:   database,
		Orchestrator: orchestrator,
		Ranking:      ranking,
		Updater:      upd,
		WebService:   new(restful.WebService),
	}
}

// RecommendRequest is the body of a recommendation request.
type RecommendRequest struct {
	UserId             string            `json:"user_id"`
	NumRecommendations int               `json:"num_recommendations"`
	RecallStrategies   []string          `json:"recall_strategies"`
	EnableRanking      *bool             `json:"enable_ranking"`
	Context            map[string]string `json:"context"`
}

// RecommendMetadata describes how a recommendation list was produced.
type RecommendMetadata struct {
	RecallCandidatesCount     int      `json:"recall_candidates_count"`
	FinalRecommendationsCount int      `json:"final_recommendations_count"`
	ProcessingTimeMs          float64  `json:"processing_time_ms"`
	StrategiesUsed            []string `json:"strategies_used"`
	RankingEnabled            bool     `json:"ranking_enabled"`
}

// RecommendResponse is the body of a recommendation response.
type RecommendResponse struct {
	UserId          string            `json:"user_id"`
	Recommendations []rank.RankedItem `json:"recommendations"`
	Metadata        RecommendMetadata `json:"metadata"`
	Timestamp       time.Time         `json:"timestamp"`
}

// HealthResponse reports the state of each component.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Success is the response of a write operation.
type Success struct {
	Message string `json:"message"`
}

// Description is the service descriptor served at the API root.
type Description struct {
	Service   string   `json:"service"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}

// StartHttpServer starts the REST-ful API server and blocks until shutdown.
func (s *RestServer) StartHttpServer() error {
	container := restful.NewContainer()
	s.CreateWebService()
	container.Add(s.WebService)
	specConfig := restfulspec.Config{
		WebServices: container.RegisteredWebServices(),
		APIPath:     "/apidocs.json",
	}
	container.Add(restfulspec.NewOpenAPIService(specConfig))
	container.Handle("/metrics", promhttp.Handler())

	address := fmt.Sprintf("%s:%d", s.Config.Server.HTTPHost, s.Config.Server.HTTPPort)
	s.httpServer = &http.Server{Addr: address, Handler: container}
	log.Logger().Info("start http server", zap.String("url", "http://"+address))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Trace(err)
	}
	return nil
}

// Shutdown stops the REST-ful API server gracefully.
func (s *RestServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return errors.Trace(s.httpServer.Shutdown(ctx))
}

// RequestIDFilter tags every response with a request id.
func RequestIDFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	requestId := req.HeaderParameter("X-Request-ID")
	if requestId == "" {
		requestId = uuid.NewString()
	}
	resp.Header().Set("X-Request-ID", requestId)
	chain.ProcessFilter(req, resp)
}

func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	start := time.Now()
	chain.ProcessFilter(req, resp)
	log.ResponseLogger(resp).Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("elapsed", time.Since(start)))
}

// CreateWebService registers the API routes.
func (s *RestServer) CreateWebService() {
	ws := s.WebService
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/api/")
	ws.Filter(RequestIDFilter)
	ws.Filter(LogFilter)

	ws.Route(ws.GET("/").To(s.describe).
		Doc("Describe the service.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
		Writes(Description{}))
	ws.Route(ws.POST("/recommend").To(s.recommend).
		Doc("Get personalized recommendations for a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Reads(RecommendRequest{}).
		Writes(RecommendResponse{}))
	ws.Route(ws.GET("/health").To(s.health).
		Doc("Check the health of the engine and its components.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
		Writes(HealthResponse{}))
	ws.Route(ws.GET("/cache/status").To(s.cacheStatus).
		Doc("Get the state of the incremental caches.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"cache"}).
		Writes(updater.Status{}))
	ws.Route(ws.POST("/cache/update/{cache-type}").To(s.forceUpdate).
		Doc("Force a refresh of one incremental cache.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"cache"}).
		Param(ws.PathParameter("cache-type", "kind of the cache").DataType("string")).
		Writes(Success{}))
}

func (s *RestServer) describe(_ *restful.Request, response *restful.Response) {
	Ok(response, Description{
		Service: "recsys",
		Version: Version,
		Endpoints: []string{
			"POST /api/recommend",
			"GET /api/health",
			"GET /api/cache/status",
			"POST /api/cache/update/{cache-type}",
		},
	})
}

func (s *RestServer) recommend(request *restful.Request, response *restful.Response) {
	start := time.Now()
	var body RecommendRequest
	if err := request.ReadEntity(&body); err != nil {
		BadRequest(response, err)
		return
	}
	if body.UserId == "" {
		BadRequest(response, errors.New("user_id is required"))
		return
	}
	n := body.NumRecommendations
	if n == 0 {
		n = defaultRecommendations
	}
	if n < 1 || n > maxRecommendations {
		BadRequest(response, errors.Errorf("num_recommendations must be in [1, %d]", maxRecommendations))
		return
	}
	rankingEnabled := s.Config.Ranking.Enable
	if body.EnableRanking != nil {
		rankingEnabled = *body.EnableRanking
	}
	strategiesUsed := body.RecallStrategies
	if len(strategiesUsed) == 0 {
		strategiesUsed = lo.Map(s.Orchestrator.Strategies(),
			func(strategy logics.Strategy, _ int) string { return strategy.Name() })
	}

	ctx := request.Request.Context()
	candidates := s.Orchestrator.RecallSubset(ctx, body.UserId, s.Config.Recall.CandidateSize, body.RecallStrategies)
	var (
		recommendations []rank.RankedItem
		rankingApplied  bool
	)
	if rankingEnabled {
		recommendations, rankingApplied = s.Ranking.Rank(ctx, body.UserId, candidates, body.Context, n)
	} else {
		truncated := candidates
		if len(truncated) > n {
			truncated = truncated[:n]
		}
		recommendations = lo.Map(truncated, func(item logics.ScoredItem, _ int) rank.RankedItem {
			return rank.RankedItem{ItemId: item.ItemId, Score: item.Score}
		})
	}
	if recommendations == nil {
		recommendations = []rank.RankedItem{}
	}
	elapsed := time.Since(start)
	RecommendSeconds.Observe(elapsed.Seconds())
	RecommendedItems.Observe(float64(len(recommendations)))
	Ok(response, RecommendResponse{
		UserId:          body.UserId,
		Recommendations: recommendations,
		Metadata: RecommendMetadata{
			RecallCandidatesCount:     len(candidates),
			FinalRecommendationsCount: len(recommendations),
			ProcessingTimeMs:          float64(elapsed.Microseconds()) / 1e3,
			StrategiesUsed:            strategiesUsed,
			RankingEnabled:            rankingApplied,
		},
		Timestamp: time.Now(),
	})
}

func (s *RestServer) health(_ *restful.Request, response *restful.Response) {
	components := map[string]string{
		"engine":          "healthy",
		"data_connector":  "healthy",
		"recall_strategy": "healthy",
		"ranking_service": "healthy",
	}
	if err := s.DataClient.Ping(); err != nil {
		components["data_connector"] = "unhealthy"
	}
	if len(s.Orchestrator.Strategies()) == 0 {
		components["recall_strategy"] = "unhealthy"
	}
	if !s.Ranking.Ready() {
		components["ranking_service"] = "unhealthy"
	}
	status := "healthy"
	for _, state := range components {
		if state != "healthy" {
			status = "degraded"
			break
		}
	}
	Ok(response, HealthResponse{
		Status:     status,
		Components: components,
		Timestamp:  time.Now(),
	})
}

func (s *RestServer) cacheStatus(_ *restful.Request, response *restful.Response) {
	Ok(response, s.Updater.Status())
}

func (s *RestServer) forceUpdate(request *restful.Request, response *restful.Response) {
	kind := request.PathParameter("cache-type")
	if err := s.Updater.ForceUpdate(request.Request.Context(), kind); err != nil {
		if errors.Is(err, errors.NotFound) {
			BadRequest(response, err)
		} else {
			InternalServerError(response, err)
		}
		return
	}
	Ok(response, Success{Message: fmt.Sprintf("%s cache updated", kind)})
}

// BadRequest returns a bad request error.
func BadRequest(response *restful.Response, err error) {
	log.ResponseLogger(response).Error("bad request", zap.Error(err))
	if err = response.WriteError(http.StatusBadRequest, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// InternalServerError returns an internal server error.
func InternalServerError(response *restful.Response, err error) {
	log.ResponseLogger(response).Error("internal server error", zap.Error(err))
	if err = response.WriteError(http.StatusInternalServerError, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content interface{}) {
	if err := response.WriteAsJson(content); err != nil {
		log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
	}
}
