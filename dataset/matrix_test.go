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

package dataset

import (
	"testing"
	"time"

	"github.com/aura-social/recsys/storage/data"
	"github.com/stretchr/testify/assert"
)

func newEvent(user, item, eventType string) data.Event {
	return data.Event{UserId: user, ItemId: item, EventType: eventType, Timestamp: time.Now()}
}

func TestBuildMatrix(t *testing.T) {
	m := BuildMatrix([]data.Event{
		newEvent("u1", "i1", data.EventClick),
		newEvent("u1", "i1", data.EventLike),
		newEvent("u1", "i2", data.EventFav),
		newEvent("u2", "i1", data.EventClick),
		newEvent("u2", "i3", data.EventExpose), // no weight, dropped
	})
	assert.Equal(t, 2, m.CountUsers())
	assert.Equal(t, 2, m.CountItems())

	u1, ok := m.UserIndex("u1")
	assert.True(t, ok)
	i1, ok := m.ItemIndex("i1")
	assert.True(t, ok)
	i2, ok := m.ItemIndex("i2")
	assert.True(t, ok)
	// click + like accumulate on the same cell
	assert.Equal(t, float32(8), m.UserRating(u1, i1))
	assert.Equal(t, float32(7), m.UserRating(u1, i2))

	// i3 never got a weighted event so it has no axis entry
	_, ok = m.ItemIndex("i3")
	assert.False(t, ok)
	_, ok = m.UserIndex("unknown")
	assert.False(t, ok)
}

func TestBuildMatrixEmpty(t *testing.T) {
	m := BuildMatrix(nil)
	assert.Zero(t, m.CountUsers())
	assert.Zero(t, m.CountItems())
	assert.Zero(t, m.Density())
	assert.Empty(t, m.ItemNeighbors(10))
	assert.Empty(t, m.UserNeighbors())
}

func TestItemNeighbors(t *testing.T) {
	// i1 and i2 are co-clicked by u1 and u2, i3 only by u3
	m := BuildMatrix([]data.Event{
		newEvent("u1", "i1", data.EventClick),
		newEvent("u1", "i2", data.EventClick),
		newEvent("u2", "i1", data.EventClick),
		newEvent("u2", "i2", data.EventClick),
		newEvent("u3", "i3", data.EventClick),
	})
	neighbors := m.ItemNeighbors(10)
	i1, _ := m.ItemIndex("i1")
	i2, _ := m.ItemIndex("i2")
	i3, _ := m.ItemIndex("i3")

	assert.Len(t, neighbors[i1], 1)
	assert.Equal(t, i2, neighbors[i1][0].Index)
	assert.InDelta(t, 1.0, neighbors[i1][0].Similarity, 1e-6)
	assert.Len(t, neighbors[i2], 1)
	assert.Equal(t, i1, neighbors[i2][0].Index)
	// no co-occurrence, no entry
	assert.Empty(t, neighbors[i3])
}

func TestItemNeighborsTopK(t *testing.T) {
	events := []data.Event{newEvent("u0", "target", data.EventClick)}
	// five neighbors with increasing overlap strength
	for i := 0; i < 5; i++ {
		item := string(rune('a' + i))
		events = append(events, newEvent("u0", item, data.EventClick))
		for j := 0; j < i; j++ {
			user := "extra" + item + string(rune('0'+j))
			events = append(events, newEvent(user, item, data.EventClick))
		}
	}
	m := BuildMatrix(events)
	target, _ := m.ItemIndex("target")
	neighbors := m.ItemNeighbors(3)[target]
	assert.Len(t, neighbors, 3)
	for i := 1; i < len(neighbors); i++ {
		assert.GreaterOrEqual(t, neighbors[i-1].Similarity, neighbors[i].Similarity)
	}
	// strongest neighbor is the one with the least dilution
	assert.Equal(t, "a", m.ItemId(neighbors[0].Index))
}

func TestUserNeighbors(t *testing.T) {
	m := BuildMatrix([]data.Event{
		newEvent("u1", "i1", data.EventClick),
		newEvent("u1", "i2", data.EventClick),
		newEvent("u2", "i1", data.EventClick),
		newEvent("u2", "i2", data.EventClick),
		newEvent("u3", "i2", data.EventClick),
		newEvent("u4", "i9", data.EventClick),
	})
	neighbors := m.UserNeighbors()
	u1, _ := m.UserIndex("u1")
	u2, _ := m.UserIndex("u2")
	u3, _ := m.UserIndex("u3")
	u4, _ := m.UserIndex("u4")

	// u2 overlaps fully, u3 partially
	assert.Len(t, neighbors[u1], 2)
	assert.Equal(t, u2, neighbors[u1][0].Index)
	assert.InDelta(t, 1.0, neighbors[u1][0].Similarity, 1e-6)
	assert.Equal(t, u3, neighbors[u1][1].Index)
	assert.Greater(t, neighbors[u1][0].Similarity, neighbors[u1][1].Similarity)
	// symmetry
	assert.Equal(t, u1, neighbors[u2][0].Index)
	// disjoint user has no neighbors
	assert.Empty(t, neighbors[u4])
}

func TestDict(t *testing.T) {
	d := NewDict()
	assert.Equal(t, int32(0), d.Id("a"))
	assert.Equal(t, int32(1), d.Id("b"))
	assert.Equal(t, int32(0), d.Id("a"))
	assert.Equal(t, 2, d.Count())

	id, ok := d.Lookup("b")
	assert.True(t, ok)
	assert.Equal(t, int32(1), id)
	_, ok = d.Lookup("c")
	assert.False(t, ok)

	s, ok := d.String(1)
	assert.True(t, ok)
	assert.Equal(t, "b", s)
	_, ok = d.String(5)
	assert.False(t, ok)
}
