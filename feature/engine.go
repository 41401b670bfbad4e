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

// Package feature derives fixed-shape numeric vectors from stored profiles
// and the event log for the ranking model.
package feature

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/chewxy/math32"
	"github.com/juju/errors"

	"github.com/aura-social/recsys/storage/data"
)

// Engine produces the feature vectors consumed by the ranking model. All
// vectors have fixed shapes; missing source data is an error, never
// fabricated.
type Engine interface {
	// UserVector returns the user feature vector.
	UserVector(ctx context.Context, userId string) ([]float32, error)
	// ItemVector returns the item feature vector. Its trailing SequenceDim
	// entries double as the item's embedding.
	ItemVector(ctx context.Context, itemId string) ([]float32, error)
	// ContextVector encodes the request context.
	ContextVector(reqContext map[string]string) []float32
	// RecentSequence returns the user's recent interactions as SequenceLen
	// zero-padded keys of SequenceDim with a parallel 0/1 validity mask.
	RecentSequence(ctx context.Context, userId string) (keys [][]float32, mask []float32, err error)
}

// sequence keys are built from weighted interactions only
var sequenceEventTypes = []string{data.EventClick, data.EventLike, data.EventFav}

// ProfileEngine derives feature vectors from the data store by feature
// hashing profile attributes into fixed dimensions.
type ProfileEngine struct {
	database    data.Database
	userDim     int
	itemDim     int
	contextDim  int
	sequenceDim int
	sequenceLen int
}

func NewProfileEngine(database data.Database, userDim, itemDim, contextDim, sequenceDim, sequenceLen int) (*ProfileEngine, error) {
	if itemDim < sequenceDim {
		return nil, errors.Errorf("item dimension %d is smaller than sequence dimension %d", itemDim, sequenceDim)
	}
	return &ProfileEngine{
		database:    database,
		userDim:     userDim,
		itemDim:     itemDim,
		contextDim:  contextDim,
		sequenceDim: sequenceDim,
		sequenceLen: sequenceLen,
	}, nil
}

func (e *ProfileEngine) UserVector(ctx context.Context, userId string) ([]float32, error) {
	user, err := e.database.GetUser(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	v := make([]float32, e.userDim)
	hashInto(v, "age:"+user.AgeBucket, "gender:"+user.Gender, "city:"+user.City, "tier:"+user.Tier)
	for _, interest := range user.Interests {
		hashInto(v, "interest:"+interest)
	}
	for _, followee := range user.Followees {
		hashInto(v, "followee:"+followee)
	}
	v[0] = float32(user.ActivityLevel)
	normalize(v)
	return v, nil
}

func (e *ProfileEngine) ItemVector(ctx context.Context, itemId string) ([]float32, error) {
	item, err := e.database.GetItem(ctx, itemId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	v := make([]float32, e.itemDim)
	copy(v, item.TextEmbedding)
	hashInto(v, "category:"+item.Category, "author:"+item.Author)
	for _, tag := range item.Tags {
		hashInto(v, "tag:"+tag)
	}
	v[0] = float32(math32.Min(float32(item.PopularityScore), 1))
	normalize(v)
	return v, nil
}

func (e *ProfileEngine) ContextVector(reqContext map[string]string) []float32 {
	v := make([]float32, e.contextDim)
	for key, value := range reqContext {
		hashInto(v, key+"="+value)
	}
	normalize(v)
	return v
}

func (e *ProfileEngine) RecentSequence(ctx context.Context, userId string) ([][]float32, []float32, error) {
	events, err := e.database.GetUserEvents(ctx, userId, e.sequenceLen, sequenceEventTypes...)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	keys := make([][]float32, e.sequenceLen)
	mask := make([]float32, e.sequenceLen)
	position := 0
	for _, event := range events {
		if position >= e.sequenceLen {
			break
		}
		itemVector, err := e.ItemVector(ctx, event.ItemId)
		if errors.Is(err, data.ErrItemNotExist) {
			continue
		} else if err != nil {
			return nil, nil, errors.Trace(err)
		}
		keys[position] = Embedding(itemVector, e.sequenceDim)
		mask[position] = 1
		position++
	}
	for i := position; i < e.sequenceLen; i++ {
		keys[i] = make([]float32, e.sequenceDim)
	}
	return keys, mask, nil
}

// Embedding slices the trailing n entries of an item vector, the part used
// as attention query and sequence key.
func Embedding(itemVector []float32, n int) []float32 {
	return itemVector[len(itemVector)-n:]
}

// hashInto folds tokens into the vector by feature hashing. The hash picks
// both the slot and the sign so collisions tend to cancel.
func hashInto(v []float32, tokens ...string) {
	for _, token := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum32()
		slot := int(sum % uint32(len(v)))
		if sum&0x80000000 != 0 {
			v[slot] -= 1
		} else {
			v[slot] += 1
		}
	}
}

func normalize(v []float32) {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	norm := math32.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
}

// String summarizes the engine's shape contract.
func (e *ProfileEngine) String() string {
	return fmt.Sprintf("ProfileEngine(user=%d, item=%d, context=%d, sequence=%dx%d)",
		e.userDim, e.itemDim, e.contextDim, e.sequenceLen, e.sequenceDim)
}
