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

// Package data reads and writes the interaction log and the user and item
// profiles backing the recommendation engine.
package data

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/juju/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	_ "modernc.org/sqlite"
)

const (
	SQLitePrefix   = "sqlite://"
	MySQLPrefix    = "mysql://"
	PostgresPrefix = "postgres://"
)

var (
	ErrUserNotExist = errors.NotFoundf("user")
	ErrItemNotExist = errors.NotFoundf("item")
)

// Supported interaction event types.
const (
	EventExpose  = "expose"
	EventClick   = "click"
	EventLike    = "like"
	EventFav     = "fav"
	EventShare   = "share"
	EventComment = "comment"
)

// Event is one row of the append-only interaction log.
type Event struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	UserId         string    `gorm:"column:user_id;index" json:"user_id"`
	ItemId         string    `gorm:"column:item_id;index" json:"item_id"`
	EventType      string    `gorm:"column:event_type" json:"event_type"`
	Timestamp      time.Time `gorm:"column:ts;index" json:"ts"`
	SessionId      string    `gorm:"column:session_id" json:"session_id"`
	DwellTime      float64   `gorm:"column:dwell_time" json:"dwell_time"`
	DeviceType     string    `gorm:"column:device_type" json:"device_type"`
	NetworkType    string    `gorm:"column:network_type" json:"network_type"`
	GeoLat         *float64  `gorm:"column:geo_lat" json:"geo_lat,omitempty"`
	GeoLon         *float64  `gorm:"column:geo_lon" json:"geo_lon,omitempty"`
	City           string    `gorm:"column:city" json:"city"`
	ReferrerItemId string    `gorm:"column:referrer_item_id" json:"referrer_item_id"`
	Position       int       `gorm:"column:position" json:"position"`
}

func (Event) TableName() string {
	return "event_log"
}

// User stores the read-mostly user profile.
type User struct {
	UserId        string   `gorm:"column:user_id;primaryKey" json:"user_id"`
	AgeBucket     string   `gorm:"column:age_bucket" json:"age_bucket"`
	Gender        string   `gorm:"column:gender" json:"gender"`
	City          string   `gorm:"column:location" json:"location"`
	RecentGeos    []string `gorm:"column:recent_geos;serializer:json" json:"recent_geos"`
	Interests     []string `gorm:"column:interests;serializer:json" json:"interests"`
	Followees     []string `gorm:"column:followees;serializer:json" json:"followees"`
	ActivityLevel float64  `gorm:"column:activity_level" json:"activity_level"`
	Tier          string   `gorm:"column:tier" json:"tier"`
}

func (User) TableName() string {
	return "user_profile"
}

// Item stores the read-mostly item profile.
type Item struct {
	ItemId           string    `gorm:"column:item_id;primaryKey" json:"item_id"`
	Title            string    `gorm:"column:title" json:"title"`
	Tags             []string  `gorm:"column:tags;serializer:json" json:"tags"`
	Category         string    `gorm:"column:category" json:"category"`
	Author           string    `gorm:"column:author" json:"author"`
	PublishTimestamp time.Time `gorm:"column:publish_ts" json:"publish_ts"`
	GeoLat           *float64  `gorm:"column:geo_lat" json:"geo_lat,omitempty"`
	GeoLon           *float64  `gorm:"column:geo_lon" json:"geo_lon,omitempty"`
	PopularityScore  float64   `gorm:"column:popularity_score" json:"popularity_score"`
	VideoDuration    float64   `gorm:"column:video_duration" json:"video_duration"`
	TextEmbedding    []float32 `gorm:"column:text_embedding;serializer:json" json:"text_embedding"`
	ImageEmbedding   []float32 `gorm:"column:image_embedding;serializer:json" json:"image_embedding"`
}

func (Item) TableName() string {
	return "item_profile"
}

// HasLocation reports whether the item carries a coordinate.
func (item *Item) HasLocation() bool {
	return item.GeoLat != nil && item.GeoLon != nil
}

// Impression is one row of the impression log.
type Impression struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	UserId    string    `gorm:"column:user_id;index" json:"user_id"`
	ItemId    string    `gorm:"column:item_id;index" json:"item_id"`
	Timestamp time.Time `gorm:"column:ts" json:"ts"`
	Page      string    `gorm:"column:page" json:"page"`
	Position  int       `gorm:"column:position" json:"position"`
}

func (Impression) TableName() string {
	return "impression_log"
}

// Database is the read/write contract over the upstream data store.
type Database interface {
	Init() error
	Ping() error
	Close() error
	Purge() error
	BatchInsertEvents(ctx context.Context, events []Event) error
	GetEvents(ctx context.Context, cursor string, n int, beginTime *time.Time) (string, []Event, error)
	GetUserEvents(ctx context.Context, userId string, limit int, eventTypes ...string) ([]Event, error)
	LatestEventTime(ctx context.Context) (time.Time, error)
	BatchInsertUsers(ctx context.Context, users []User) error
	GetUser(ctx context.Context, userId string) (User, error)
	BatchInsertItems(ctx context.Context, items []Item) error
	GetItem(ctx context.Context, itemId string) (Item, error)
	GetItems(ctx context.Context, cursor string, n int) (string, []Item, error)
	BatchInsertImpressions(ctx context.Context, impressions []Impression) error
	GetImpressions(ctx context.Context, cursor string, n int) (string, []Impression, error)
}

// Open a connection to a data store. The driver is dispatched on the DSN
// prefix.
func Open(path, tablePrefix string) (Database, error) {
	gormConfig := &gorm.Config{
		NamingStrategy: schema.NamingStrategy{TablePrefix: tablePrefix},
	}
	switch {
	case strings.HasPrefix(path, SQLitePrefix):
		name := path[len(SQLitePrefix):]
		client, err := sql.Open("sqlite", name)
		if err != nil {
			return nil, errors.Trace(err)
		}
		gormDB, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", Conn: client}, gormConfig)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return &SQLDatabase{gormDB: gormDB, client: client}, nil
	case strings.HasPrefix(path, MySQLPrefix):
		name := path[len(MySQLPrefix):]
		gormDB, err := gorm.Open(mysql.Open(name), gormConfig)
		if err != nil {
			return nil, errors.Trace(err)
		}
		client, err := gormDB.DB()
		if err != nil {
			return nil, errors.Trace(err)
		}
		return &SQLDatabase{gormDB: gormDB, client: client}, nil
	case strings.HasPrefix(path, PostgresPrefix):
		gormDB, err := gorm.Open(postgres.Open(path), gormConfig)
		if err != nil {
			return nil, errors.Trace(err)
		}
		client, err := gormDB.DB()
		if err != nil {
			return nil, errors.Trace(err)
		}
		return &SQLDatabase{gormDB: gormDB, client: client}, nil
	}
	return nil, errors.Errorf("unknown data store: %s", path)
}
