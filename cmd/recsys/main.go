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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aura-social/recsys/base/log"
	"github.com/aura-social/recsys/config"
	"github.com/aura-social/recsys/feature"
	"github.com/aura-social/recsys/logics"
	"github.com/aura-social/recsys/model/rank"
	"github.com/aura-social/recsys/server"
	"github.com/aura-social/recsys/storage/data"
	"github.com/aura-social/recsys/updater"
)

// Feature vector dimensions of the profile engine. The ranking checkpoint
// must be trained with the same shapes.
const (
	userDim    = 64
	itemDim    = 128
	contextDim = 32
)

var rootCommand = &cobra.Command{
	Use:   "recsys",
	Short: "Personalized recommendation engine with multi-strategy recall and multi-task ranking.",
	Run: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.PersistentFlags().GetBool("debug")
		log.SetLogger(cmd.PersistentFlags(), debug)
		configPath, _ := cmd.PersistentFlags().GetString("config")
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			log.Logger().Fatal("failed to load config",
				zap.String("config_path", configPath), zap.Error(err))
		}
		serve(cfg)
	},
}

func init() {
	rootCommand.PersistentFlags().StringP("config", "c", "config.toml", "configuration file path")
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	log.AddFlags(rootCommand.PersistentFlags())
}

func serve(cfg *config.Config) {
	// connect the data store, retrying while it comes up
	database, err := data.Open(cfg.Database.DataStore, cfg.Database.TablePrefix)
	if err != nil {
		log.Logger().Fatal("failed to open data store", zap.Error(err))
	}
	if err = database.Init(); err != nil {
		log.Logger().Fatal("failed to init data store", zap.Error(err))
	}
	_, err = backoff.Retry(context.Background(), func() (struct{}, error) {
		return struct{}{}, database.Ping()
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(time.Minute))
	if err != nil {
		log.Logger().Fatal("failed to reach data store", zap.Error(err))
	}

	// recall strategies
	popularity := logics.NewPopularity(database, cfg.Popularity)
	cf := logics.NewCollaborativeFiltering(database, cfg.Recall)
	location := logics.NewLocation(database, cfg.Location)
	orchestrator := logics.NewOrchestrator(cfg.Recall.StrategyWeights(), cfg.Popularity.MaxItems,
		cf, popularity, location)

	// ranking service, degrades to recall order without a checkpoint
	hyper := rank.DefaultHyperparameters(userDim, itemDim, contextDim)
	engine, err := feature.NewProfileEngine(database,
		userDim, itemDim, contextDim, hyper.SequenceDim, hyper.SequenceLen)
	if err != nil {
		log.Logger().Fatal("failed to create profile engine", zap.Error(err))
	}
	var model *rank.Model
	if cfg.Ranking.Enable && cfg.Ranking.ModelPath != "" {
		var metadata rank.Metadata
		model, metadata, err = rank.Load(cfg.Ranking.ModelPath)
		if err != nil {
			log.Logger().Error("failed to load ranking model, serving recall order",
				zap.String("model_path", cfg.Ranking.ModelPath), zap.Error(err))
		} else {
			log.Logger().Info("ranking model loaded",
				zap.String("name", metadata.Name),
				zap.Time("created_at", metadata.CreatedAt))
		}
	}
	ranking := rank.NewService(model, engine, cfg.Ranking)

	// incremental cache updater
	store, err := updater.NewStore(cfg.Update.SnapshotStore)
	if err != nil {
		log.Logger().Fatal("failed to open snapshot store", zap.Error(err))
	}
	upd := updater.NewService(cfg.Update, store, popularity, cf, location)
	upd.WarmStart(context.Background())
	upd.Start()

	restServer := server.NewRestServer(cfg, database, orchestrator, ranking, upd)
	go func() {
		if err := restServer.StartHttpServer(); err != nil {
			log.Logger().Fatal("failed to start http server", zap.Error(err))
		}
	}()

	// graceful shutdown
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	log.Logger().Info("shutting down", zap.String("signal", sig.String()))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := restServer.Shutdown(ctx); err != nil {
		log.Logger().Error("failed to shutdown http server", zap.Error(err))
	}
	upd.Stop(ctx)
	if err := database.Close(); err != nil {
		log.Logger().Error("failed to close data store", zap.Error(err))
	}
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute command", zap.Error(err))
	}
}
