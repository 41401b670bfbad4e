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

// Package rank implements the inference side of the multi-task ranking
// model: sequence attention, shared experts under hierarchical gating and
// per-task scoring towers.
package rank

import "github.com/juju/errors"

// Task names and indices are fixed.
const (
	TaskClick = iota
	TaskLike
	TaskFavorite
	numTasks
)

var TaskNames = [numTasks]string{"click", "like", "favorite"}

// Hyperparameters is the structural record persisted alongside the model
// weights. A loaded checkpoint's embedded record always wins over defaults.
type Hyperparameters struct {
	UserDim         int
	ItemDim         int
	ContextDim      int
	SequenceDim     int
	SequenceLen     int
	ExpertDim       int
	NumExperts      int
	TaskGroups      [][]int
	HiddenDims      [3]int // fusion, tower hidden 1, tower hidden 2
	AttentionHidden int
	GateHidden      int

	// task index -> group index, precomputed once in init
	taskGroup []int
}

// DefaultHyperparameters returns the standard architecture for the given
// input dimensions.
func DefaultHyperparameters(userDim, itemDim, contextDim int) Hyperparameters {
	return Hyperparameters{
		UserDim:         userDim,
		ItemDim:         itemDim,
		ContextDim:      contextDim,
		SequenceDim:     64,
		SequenceLen:     20,
		ExpertDim:       128,
		NumExperts:      4,
		TaskGroups:      [][]int{{TaskClick}, {TaskLike, TaskFavorite}},
		HiddenDims:      [3]int{256, 128, 64},
		AttentionHidden: 64,
		GateHidden:      64,
	}
}

// init validates the record and precomputes the task to group table.
func (h *Hyperparameters) init() error {
	for _, dim := range []int{h.UserDim, h.ItemDim, h.ContextDim, h.SequenceDim, h.SequenceLen,
		h.ExpertDim, h.NumExperts, h.AttentionHidden, h.GateHidden} {
		if dim <= 0 {
			return errors.Errorf("non-positive dimension in hyperparameters: %+v", h)
		}
	}
	for _, dim := range h.HiddenDims {
		if dim <= 0 {
			return errors.Errorf("non-positive hidden dimension in hyperparameters: %+v", h)
		}
	}
	h.taskGroup = make([]int, numTasks)
	for i := range h.taskGroup {
		h.taskGroup[i] = -1
	}
	for groupIndex, group := range h.TaskGroups {
		for _, task := range group {
			if task < 0 || task >= numTasks {
				return errors.Errorf("task index %d out of range", task)
			}
			if h.taskGroup[task] != -1 {
				return errors.Errorf("task %d assigned to multiple groups", task)
			}
			h.taskGroup[task] = groupIndex
		}
	}
	for task, group := range h.taskGroup {
		if group == -1 {
			return errors.Errorf("task %d missing from task groups", task)
		}
	}
	return nil
}

// groupOf returns the group index of a task via the precomputed table.
func (h *Hyperparameters) groupOf(task int) int {
	return h.taskGroup[task]
}

// fusionInput is the width of the concatenated fusion input.
func (h *Hyperparameters) fusionInput() int {
	return h.UserDim + h.ItemDim + h.ContextDim + h.SequenceDim
}
