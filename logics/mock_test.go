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
	"sort"
	"time"

	"github.com/juju/errors"

	"github.com/aura-social/recsys/storage/data"
)

// mockDatabase is an in-memory data.Database for strategy tests.
type mockDatabase struct {
	events []data.Event
	users  map[string]data.User
	items  map[string]data.Item
}

func newMockDatabase() *mockDatabase {
	return &mockDatabase{
		users: make(map[string]data.User),
		items: make(map[string]data.Item),
	}
}

func (m *mockDatabase) Init() error  { return nil }
func (m *mockDatabase) Ping() error  { return nil }
func (m *mockDatabase) Close() error { return nil }
func (m *mockDatabase) Purge() error {
	m.events = nil
	m.users = make(map[string]data.User)
	m.items = make(map[string]data.Item)
	return nil
}

func (m *mockDatabase) BatchInsertEvents(_ context.Context, events []data.Event) error {
	m.events = append(m.events, events...)
	return nil
}

func (m *mockDatabase) GetEvents(_ context.Context, cursor string, _ int, beginTime *time.Time) (string, []data.Event, error) {
	if cursor != "" {
		return "", nil, nil
	}
	var events []data.Event
	for _, event := range m.events {
		if beginTime == nil || !event.Timestamp.Before(*beginTime) {
			events = append(events, event)
		}
	}
	return "", events, nil
}

func (m *mockDatabase) GetUserEvents(_ context.Context, userId string, limit int, eventTypes ...string) ([]data.Event, error) {
	var events []data.Event
	for _, event := range m.events {
		if event.UserId != userId {
			continue
		}
		if len(eventTypes) > 0 {
			found := false
			for _, eventType := range eventTypes {
				if event.EventType == eventType {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (m *mockDatabase) LatestEventTime(context.Context) (time.Time, error) {
	var latest time.Time
	for _, event := range m.events {
		if event.Timestamp.After(latest) {
			latest = event.Timestamp
		}
	}
	return latest, nil
}

func (m *mockDatabase) BatchInsertUsers(_ context.Context, users []data.User) error {
	for _, user := range users {
		m.users[user.UserId] = user
	}
	return nil
}

func (m *mockDatabase) GetUser(_ context.Context, userId string) (data.User, error) {
	user, ok := m.users[userId]
	if !ok {
		return data.User{}, errors.Annotate(data.ErrUserNotExist, userId)
	}
	return user, nil
}

func (m *mockDatabase) BatchInsertItems(_ context.Context, items []data.Item) error {
	for _, item := range items {
		m.items[item.ItemId] = item
	}
	return nil
}

func (m *mockDatabase) GetItem(_ context.Context, itemId string) (data.Item, error) {
	item, ok := m.items[itemId]
	if !ok {
		return data.Item{}, errors.Annotate(data.ErrItemNotExist, itemId)
	}
	return item, nil
}

func (m *mockDatabase) GetItems(_ context.Context, cursor string, _ int) (string, []data.Item, error) {
	if cursor != "" {
		return "", nil, nil
	}
	items := make([]data.Item, 0, len(m.items))
	for _, item := range m.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemId < items[j].ItemId })
	return "", items, nil
}

func (m *mockDatabase) BatchInsertImpressions(context.Context, []data.Impression) error {
	return nil
}

func (m *mockDatabase) GetImpressions(context.Context, string, int) (string, []data.Impression, error) {
	return "", nil, nil
}

func checkRecallInvariants(items []ScoredItem, n int) (ok bool) {
	if len(items) > n {
		return false
	}
	seen := make(map[string]struct{})
	for i, item := range items {
		if _, dup := seen[item.ItemId]; dup {
			return false
		}
		seen[item.ItemId] = struct{}{}
		if i > 0 && items[i-1].Score < item.Score {
			return false
		}
	}
	return true
}
