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

package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// Config is the configuration of the recommendation engine.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Recall     RecallConfig     `mapstructure:"recall"`
	Popularity PopularityConfig `mapstructure:"popularity"`
	Location   LocationConfig   `mapstructure:"location"`
	Ranking    RankingConfig    `mapstructure:"ranking"`
	Update     UpdateConfig     `mapstructure:"update"`
	Server     ServerConfig     `mapstructure:"server"`
}

// DatabaseConfig is the configuration of the upstream data store.
type DatabaseConfig struct {
	DataStore   string `mapstructure:"data_store" validate:"required"`
	TablePrefix string `mapstructure:"table_prefix"`
}

// RecallConfig is the configuration of the multi-strategy recall stage.
type RecallConfig struct {
	CandidateSize       int     `mapstructure:"candidate_size" validate:"gt=0"`
	CFWeight            float64 `mapstructure:"cf_weight" validate:"gte=0"`
	PopularityWeight    float64 `mapstructure:"popularity_weight" validate:"gte=0"`
	LocationWeight      float64 `mapstructure:"location_weight" validate:"gte=0"`
	NumItemNeighbors    int     `mapstructure:"num_item_neighbors" validate:"gt=0"`
	NumSimilarUsers     int     `mapstructure:"num_similar_users" validate:"gt=0"`
	UserSimilarityFloor float64 `mapstructure:"user_similarity_floor"`
}

// PopularityConfig is the configuration of popularity recall.
type PopularityConfig struct {
	CacheTTL   time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`
	WindowDays int           `mapstructure:"window_days" validate:"gt=0"`
	MaxItems   int           `mapstructure:"max_items" validate:"gt=0"`
}

// LocationConfig is the configuration of location recall.
type LocationConfig struct {
	MaxDistanceKm float64 `mapstructure:"max_distance_km" validate:"gt=0"`
	DistanceDecay float64 `mapstructure:"distance_decay" validate:"gt=0"`
}

// RankingConfig is the configuration of the multi-task ranking service.
type RankingConfig struct {
	Enable         bool    `mapstructure:"enable"`
	ModelPath      string  `mapstructure:"model_path"`
	ClickWeight    float64 `mapstructure:"click_weight"`
	LikeWeight     float64 `mapstructure:"like_weight"`
	FavoriteWeight float64 `mapstructure:"favorite_weight"`
}

// UpdateConfig is the configuration of the incremental update service.
type UpdateConfig struct {
	PopularityInterval time.Duration `mapstructure:"popularity_interval" validate:"gt=0"`
	CFInterval         time.Duration `mapstructure:"cf_interval" validate:"gt=0"`
	LocationInterval   time.Duration `mapstructure:"location_interval" validate:"gt=0"`
	SnapshotStore      string        `mapstructure:"snapshot_store"`
}

// ServerConfig is the configuration of the REST server.
type ServerConfig struct {
	HTTPHost string `mapstructure:"http_host"`
	HTTPPort int    `mapstructure:"http_port" validate:"gte=0"`
}

func setDefault() {
	viper.SetDefault("database.data_store", "sqlite://recsys.db")
	viper.SetDefault("recall.candidate_size", 200)
	viper.SetDefault("recall.cf_weight", 0.5)
	viper.SetDefault("recall.popularity_weight", 0.25)
	viper.SetDefault("recall.location_weight", 0.25)
	viper.SetDefault("recall.num_item_neighbors", 100)
	viper.SetDefault("recall.num_similar_users", 30)
	viper.SetDefault("recall.user_similarity_floor", 0.1)
	viper.SetDefault("popularity.cache_ttl", "1h")
	viper.SetDefault("popularity.window_days", 7)
	viper.SetDefault("popularity.max_items", 1000)
	viper.SetDefault("location.max_distance_km", 100)
	viper.SetDefault("location.distance_decay", 0.1)
	viper.SetDefault("ranking.enable", true)
	viper.SetDefault("ranking.click_weight", 0.6)
	viper.SetDefault("ranking.like_weight", 0.3)
	viper.SetDefault("ranking.favorite_weight", 0.1)
	viper.SetDefault("update.popularity_interval", "5m")
	viper.SetDefault("update.cf_interval", "1h")
	viper.SetDefault("update.location_interval", "30m")
	viper.SetDefault("update.snapshot_store", "file://cache/incremental_cache.json")
	viper.SetDefault("server.http_host", "0.0.0.0")
	viper.SetDefault("server.http_port", 8087)
}

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() *Config {
	setDefault()
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(err)
	}
	return &config
}

// LoadConfig loads and validates configuration from a TOML file.
func LoadConfig(path string) (*Config, error) {
	setDefault()
	viper.SetConfigFile(path)
	viper.SetConfigType("toml")
	viper.SetEnvPrefix("recsys")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		return nil, errors.Trace(err)
	}
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, errors.Trace(err)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &config, nil
}

// Validate checks field constraints.
func (config *Config) Validate() error {
	validate := validator.New()
	return errors.Trace(validate.Struct(config))
}

// StrategyWeights returns configured weights keyed by strategy name.
func (config *RecallConfig) StrategyWeights() map[string]float64 {
	return map[string]float64{
		"collaborative_filtering": config.CFWeight,
		"popularity":              config.PopularityWeight,
		"location":                config.LocationWeight,
	}
}
