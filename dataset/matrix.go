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

// Package dataset builds the sparse interaction matrix and its derived
// similarity indices from the raw event log.
package dataset

import (
	"sort"

	"github.com/aura-social/recsys/base/floats"
	"github.com/aura-social/recsys/base/heap"
	"github.com/aura-social/recsys/storage/data"
)

// RatingWeights are the per-event-type contributions to the interaction
// matrix. Exposures carry no weight and are dropped during the build.
var RatingWeights = map[string]float32{
	data.EventClick: 3,
	data.EventLike:  5,
	data.EventFav:   7,
}

// Neighbor is one entry of a similarity index.
type Neighbor struct {
	Index      int32
	Similarity float32
}

// Matrix is the sparse user-by-item interaction matrix. A cell is the
// additive sum of event-type weights over all history for that pair. Both
// axes index only users and items that appear in at least one weighted
// event.
type Matrix struct {
	userDict *Dict
	itemDict *Dict

	// row and column postings, sorted by index
	userItems   [][]int32
	userRatings [][]float32
	itemUsers   [][]int32
	itemRatings [][]float32

	userNorms []float32
	itemNorms []float32
}

// BuildMatrix aggregates weighted events into an interaction matrix. The
// matrix is rebuilt wholesale, never patched.
func BuildMatrix(events []data.Event) *Matrix {
	m := &Matrix{
		userDict: NewDict(),
		itemDict: NewDict(),
	}
	type cell struct {
		user, item int32
	}
	ratings := make(map[cell]float32)
	for _, event := range events {
		weight, ok := RatingWeights[event.EventType]
		if !ok {
			continue
		}
		key := cell{m.userDict.Id(event.UserId), m.itemDict.Id(event.ItemId)}
		ratings[key] += weight
	}
	m.userItems = make([][]int32, m.userDict.Count())
	m.userRatings = make([][]float32, m.userDict.Count())
	m.itemUsers = make([][]int32, m.itemDict.Count())
	m.itemRatings = make([][]float32, m.itemDict.Count())
	for key := range ratings {
		m.userItems[key.user] = append(m.userItems[key.user], key.item)
		m.itemUsers[key.item] = append(m.itemUsers[key.item], key.user)
	}
	for u, items := range m.userItems {
		sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
		m.userRatings[u] = make([]float32, len(items))
		for i, item := range items {
			m.userRatings[u][i] = ratings[cell{int32(u), item}]
		}
		m.userNorms = append(m.userNorms, floats.Norm(m.userRatings[u]))
	}
	for i, users := range m.itemUsers {
		sort.Slice(users, func(a, b int) bool { return users[a] < users[b] })
		m.itemRatings[i] = make([]float32, len(users))
		for a, user := range users {
			m.itemRatings[i][a] = ratings[cell{user, int32(i)}]
		}
		m.itemNorms = append(m.itemNorms, floats.Norm(m.itemRatings[i]))
	}
	return m
}

func (m *Matrix) CountUsers() int {
	return m.userDict.Count()
}

func (m *Matrix) CountItems() int {
	return m.itemDict.Count()
}

func (m *Matrix) UserIndex(userId string) (int32, bool) {
	return m.userDict.Lookup(userId)
}

func (m *Matrix) ItemIndex(itemId string) (int32, bool) {
	return m.itemDict.Lookup(itemId)
}

func (m *Matrix) UserId(index int32) string {
	s, _ := m.userDict.String(index)
	return s
}

func (m *Matrix) ItemId(index int32) string {
	s, _ := m.itemDict.String(index)
	return s
}

// UserItems returns the item indices and ratings of a user's row.
func (m *Matrix) UserItems(user int32) ([]int32, []float32) {
	return m.userItems[user], m.userRatings[user]
}

// UserRating returns the rating of a (user, item) cell, zero if absent.
func (m *Matrix) UserRating(user, item int32) float32 {
	items := m.userItems[user]
	i := sort.Search(len(items), func(i int) bool { return items[i] >= item })
	if i < len(items) && items[i] == item {
		return m.userRatings[user][i]
	}
	return 0
}

// ItemNeighbors computes, for every item, the top k most similar other items
// by cosine similarity over matrix columns, sorted by descending similarity.
// Items without a co-occurring rating have no entry.
func (m *Matrix) ItemNeighbors(k int) [][]Neighbor {
	neighbors := make([][]Neighbor, m.CountItems())
	dots := make([]float32, m.CountItems())
	var touched []int32
	for i := range m.itemUsers {
		// accumulate dot products against co-rated columns
		for a, user := range m.itemUsers[i] {
			rating := m.itemRatings[i][a]
			items, ratings := m.userItems[user], m.userRatings[user]
			for b, j := range items {
				if int(j) == i {
					continue
				}
				if dots[j] == 0 {
					touched = append(touched, j)
				}
				dots[j] += rating * ratings[b]
			}
		}
		if len(touched) == 0 {
			continue
		}
		filter := heap.NewTopKFilter[int32, float32](k)
		for _, j := range touched {
			if dots[j] > 0 {
				filter.Push(j, dots[j]/(m.itemNorms[i]*m.itemNorms[j]))
			}
			dots[j] = 0
		}
		touched = touched[:0]
		indices, similarities := filter.PopAll()
		neighbors[i] = make([]Neighbor, len(indices))
		for a := range indices {
			neighbors[i][a] = Neighbor{Index: indices[a], Similarity: similarities[a]}
		}
	}
	return neighbors
}

// UserNeighbors computes, for every user, all other users with positive
// cosine similarity, sorted by descending similarity. The computation is
// dense in the number of users and is acceptable only for moderate user
// counts.
func (m *Matrix) UserNeighbors() [][]Neighbor {
	neighbors := make([][]Neighbor, m.CountUsers())
	for u := 0; u < m.CountUsers(); u++ {
		for v := u + 1; v < m.CountUsers(); v++ {
			similarity := m.cosineUsers(int32(u), int32(v))
			if similarity > 0 {
				neighbors[u] = append(neighbors[u], Neighbor{Index: int32(v), Similarity: similarity})
				neighbors[v] = append(neighbors[v], Neighbor{Index: int32(u), Similarity: similarity})
			}
		}
	}
	for u := range neighbors {
		sort.Slice(neighbors[u], func(i, j int) bool {
			return neighbors[u][i].Similarity > neighbors[u][j].Similarity
		})
	}
	return neighbors
}

func (m *Matrix) cosineUsers(u, v int32) float32 {
	if m.userNorms[u] == 0 || m.userNorms[v] == 0 {
		return 0
	}
	a, b := m.userItems[u], m.userItems[v]
	ra, rb := m.userRatings[u], m.userRatings[v]
	var dot float32
	var i, j int
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			dot += ra[i] * rb[j]
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	if dot == 0 {
		return 0
	}
	return dot / (m.userNorms[u] * m.userNorms[v])
}

// Density returns the fraction of non-zero cells.
func (m *Matrix) Density() float64 {
	if m.CountUsers() == 0 || m.CountItems() == 0 {
		return 0
	}
	var cells int
	for _, items := range m.userItems {
		cells += len(items)
	}
	return float64(cells) / float64(m.CountUsers()) / float64(m.CountItems())
}
