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

package data

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/juju/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLDatabase manages the data store over SQL (SQLite, MySQL or Postgres).
type SQLDatabase struct {
	gormDB *gorm.DB
	client *sql.DB
}

// Init creates tables if they do not exist.
func (d *SQLDatabase) Init() error {
	return errors.Trace(d.gormDB.AutoMigrate(&Event{}, &User{}, &Item{}, &Impression{}))
}

// Ping checks the connection to the data store.
func (d *SQLDatabase) Ping() error {
	return errors.Trace(d.client.Ping())
}

// Close the connection to the data store.
func (d *SQLDatabase) Close() error {
	return errors.Trace(d.client.Close())
}

// Purge removes all rows from all tables.
func (d *SQLDatabase) Purge() error {
	for _, table := range []string{"event_log", "user_profile", "item_profile", "impression_log"} {
		if err := d.gormDB.Exec("DELETE FROM " + table).Error; err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *SQLDatabase) BatchInsertEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	return errors.Trace(d.gormDB.WithContext(ctx).Create(&events).Error)
}

// GetEvents scans the event log in insertion order. The returned cursor is
// empty when the scan is exhausted.
func (d *SQLDatabase) GetEvents(ctx context.Context, cursor string, n int, beginTime *time.Time) (string, []Event, error) {
	tx := d.gormDB.WithContext(ctx).Model(&Event{}).Order("id")
	if cursor != "" {
		last, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return "", nil, errors.Trace(err)
		}
		tx = tx.Where("id > ?", last)
	}
	if beginTime != nil {
		tx = tx.Where("ts >= ?", *beginTime)
	}
	var events []Event
	if err := tx.Limit(n + 1).Find(&events).Error; err != nil {
		return "", nil, errors.Trace(err)
	}
	if len(events) > n {
		return strconv.FormatInt(events[n-1].ID, 10), events[:n], nil
	}
	return "", events, nil
}

// GetUserEvents returns a user's events from latest to oldest, optionally
// restricted to the given event types.
func (d *SQLDatabase) GetUserEvents(ctx context.Context, userId string, limit int, eventTypes ...string) ([]Event, error) {
	tx := d.gormDB.WithContext(ctx).Model(&Event{}).
		Where("user_id = ?", userId).
		Order("ts DESC")
	if len(eventTypes) > 0 {
		tx = tx.Where("event_type IN ?", eventTypes)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var events []Event
	if err := tx.Find(&events).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return events, nil
}

// LatestEventTime returns the newest timestamp in the event log. A zero time
// is returned for an empty log.
func (d *SQLDatabase) LatestEventTime(ctx context.Context) (time.Time, error) {
	var latest sql.NullTime
	if err := d.gormDB.WithContext(ctx).Model(&Event{}).
		Select("MAX(ts)").Scan(&latest).Error; err != nil {
		return time.Time{}, errors.Trace(err)
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return latest.Time, nil
}

func (d *SQLDatabase) BatchInsertUsers(ctx context.Context, users []User) error {
	if len(users) == 0 {
		return nil
	}
	return errors.Trace(d.gormDB.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&users).Error)
}

func (d *SQLDatabase) GetUser(ctx context.Context, userId string) (User, error) {
	var user User
	err := d.gormDB.WithContext(ctx).Where("user_id = ?", userId).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, errors.Annotate(ErrUserNotExist, userId)
	}
	return user, errors.Trace(err)
}

func (d *SQLDatabase) BatchInsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	return errors.Trace(d.gormDB.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&items).Error)
}

func (d *SQLDatabase) GetItem(ctx context.Context, itemId string) (Item, error) {
	var item Item
	err := d.gormDB.WithContext(ctx).Where("item_id = ?", itemId).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Item{}, errors.Annotate(ErrItemNotExist, itemId)
	}
	return item, errors.Trace(err)
}

// GetItems scans item profiles ordered by item id.
func (d *SQLDatabase) GetItems(ctx context.Context, cursor string, n int) (string, []Item, error) {
	tx := d.gormDB.WithContext(ctx).Model(&Item{}).Order("item_id")
	if cursor != "" {
		tx = tx.Where("item_id > ?", cursor)
	}
	var items []Item
	if err := tx.Limit(n + 1).Find(&items).Error; err != nil {
		return "", nil, errors.Trace(err)
	}
	if len(items) > n {
		return items[n-1].ItemId, items[:n], nil
	}
	return "", items, nil
}

func (d *SQLDatabase) BatchInsertImpressions(ctx context.Context, impressions []Impression) error {
	if len(impressions) == 0 {
		return nil
	}
	return errors.Trace(d.gormDB.WithContext(ctx).Create(&impressions).Error)
}

func (d *SQLDatabase) GetImpressions(ctx context.Context, cursor string, n int) (string, []Impression, error) {
	tx := d.gormDB.WithContext(ctx).Model(&Impression{}).Order("id")
	if cursor != "" {
		last, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return "", nil, errors.Trace(err)
		}
		tx = tx.Where("id > ?", last)
	}
	var impressions []Impression
	if err := tx.Limit(n + 1).Find(&impressions).Error; err != nil {
		return "", nil, errors.Trace(err)
	}
	if len(impressions) > n {
		return strconv.FormatInt(impressions[n-1].ID, 10), impressions[:n], nil
	}
	return "", impressions, nil
}
