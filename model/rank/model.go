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

package rank

import (
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/juju/errors"

	"github.com/aura-social/recsys/base/floats"
)

// expert weight blend of the three gating heads
const (
	globalGateWeight = 0.4
	groupGateWeight  = 0.3
	taskGateWeight   = 0.3
)

// Attention pools the interaction sequence into one interest vector,
// weighted by relevance to the candidate embedding.
type Attention struct {
	Hidden1  *Linear // 4*SequenceDim -> AttentionHidden
	Hidden2  *Linear
	Score    *Linear // AttentionHidden -> 1
	Fallback []float32
}

// forward computes masked attention pooling. Invalid positions get -Inf
// scores before the softmax. Zero valid positions yield the fallback vector,
// never NaN.
func (a *Attention) forward(query []float32, keys [][]float32, mask []float32) []float32 {
	scores := make([]float32, len(keys))
	anyValid := false
	buffer := make([]float32, 4*len(query))
	for i, key := range keys {
		if mask[i] == 0 {
			scores[i] = math32.Inf(-1)
			continue
		}
		anyValid = true
		copy(buffer, query)
		copy(buffer[len(query):], key)
		floats.MulTo(query, key, buffer[2*len(query):3*len(query)])
		floats.SubTo(query, key, buffer[3*len(query):])
		hidden := relu(a.Hidden2.forward(relu(a.Hidden1.forward(buffer))))
		scores[i] = a.Score.forward(hidden)[0]
	}
	if !anyValid {
		interest := make([]float32, len(query))
		copy(interest, a.Fallback)
		return interest
	}
	floats.Softmax(scores)
	interest := make([]float32, len(query))
	for i, key := range keys {
		if mask[i] != 0 {
			floats.MulConstAddTo(key, scores[i], interest)
		}
	}
	return interest
}

// Expert is one shared subnetwork of the mixture.
type Expert struct {
	Hidden1 *Linear
	Norm1   *BatchNorm
	Hidden2 *Linear
	Norm2   *BatchNorm
}

func (e *Expert) forward(x []float32) []float32 {
	x = silu(e.Norm1.forward(e.Hidden1.forward(x)))
	return silu(e.Norm2.forward(e.Hidden2.forward(x)))
}

// GateHead emits a softmax distribution over experts.
type GateHead struct {
	Hidden *Linear
	Out    *Linear
}

func (g *GateHead) forward(x []float32) []float32 {
	weights := g.Out.forward(relu(g.Hidden.forward(x)))
	floats.Softmax(weights)
	return weights
}

// FeatureGate rescales the fused vector into a task-specific view.
type FeatureGate struct {
	Hidden *Linear
	Out    *Linear // back to fusion width, sigmoid
}

func (g *FeatureGate) forward(x []float32) []float32 {
	gate := g.Out.forward(relu(g.Hidden.forward(x)))
	for i := range gate {
		gate[i] = sigmoid(gate[i])
	}
	return mul(x, gate)
}

// Tower is one task's two-hidden-layer scoring head.
type Tower struct {
	Hidden1 *Linear
	Norm1   *BatchNorm
	Hidden2 *Linear
	Norm2   *BatchNorm
	Out     *Linear // -> 1 logit
}

func (t *Tower) forward(x []float32) float32 {
	x = silu(t.Norm1.forward(t.Hidden1.forward(x)))
	x = silu(t.Norm2.forward(t.Hidden2.forward(x)))
	return t.Out.forward(x)[0]
}

// Model is the multi-task ranker. All inference is single-sample; batching
// is a loop at the call site.
type Model struct {
	Hyper Hyperparameters

	Attention    *Attention
	Fusion       *Linear
	FusionNorm   *BatchNorm
	FeatureGates []*FeatureGate
	Experts      []*Expert
	GlobalGate   *GateHead
	GroupGates   []*GateHead
	TaskGates    []*GateHead
	Towers       []*Tower
}

// NewModel builds a randomly initialized model. The seed makes weight
// initialization reproducible.
func NewModel(hyper Hyperparameters, seed int64) (*Model, error) {
	if err := hyper.init(); err != nil {
		return nil, errors.Trace(err)
	}
	rng := rand.New(rand.NewSource(seed))
	fusionIn := hyper.fusionInput()
	fusionOut := hyper.HiddenDims[0]
	m := &Model{
		Hyper: hyper,
		Attention: &Attention{
			Hidden1:  newLinear(4*hyper.SequenceDim, hyper.AttentionHidden, rng),
			Hidden2:  newLinear(hyper.AttentionHidden, hyper.AttentionHidden, rng),
			Score:    newLinear(hyper.AttentionHidden, 1, rng),
			Fallback: make([]float32, hyper.SequenceDim),
		},
		Fusion:     newLinear(fusionIn, fusionOut, rng),
		FusionNorm: newBatchNorm(fusionOut),
		GlobalGate: &GateHead{
			Hidden: newLinear(fusionOut, hyper.GateHidden, rng),
			Out:    newLinear(hyper.GateHidden, hyper.NumExperts, rng),
		},
	}
	for t := 0; t < numTasks; t++ {
		m.FeatureGates = append(m.FeatureGates, &FeatureGate{
			Hidden: newLinear(fusionOut, hyper.GateHidden, rng),
			Out:    newLinear(hyper.GateHidden, fusionOut, rng),
		})
		m.TaskGates = append(m.TaskGates, &GateHead{
			Hidden: newLinear(fusionOut, hyper.GateHidden/4, rng),
			Out:    newLinear(hyper.GateHidden/4, hyper.NumExperts, rng),
		})
		m.Towers = append(m.Towers, &Tower{
			Hidden1: newLinear(hyper.ExpertDim, hyper.HiddenDims[1], rng),
			Norm1:   newBatchNorm(hyper.HiddenDims[1]),
			Hidden2: newLinear(hyper.HiddenDims[1], hyper.HiddenDims[2], rng),
			Norm2:   newBatchNorm(hyper.HiddenDims[2]),
			Out:     newLinear(hyper.HiddenDims[2], 1, rng),
		})
	}
	for e := 0; e < hyper.NumExperts; e++ {
		m.Experts = append(m.Experts, &Expert{
			Hidden1: newLinear(fusionOut, hyper.ExpertDim, rng),
			Norm1:   newBatchNorm(hyper.ExpertDim),
			Hidden2: newLinear(hyper.ExpertDim, hyper.ExpertDim, rng),
			Norm2:   newBatchNorm(hyper.ExpertDim),
		})
	}
	for range hyper.TaskGroups {
		m.GroupGates = append(m.GroupGates, &GateHead{
			Hidden: newLinear(fusionOut, hyper.GateHidden/2, rng),
			Out:    newLinear(hyper.GateHidden/2, hyper.NumExperts, rng),
		})
	}
	return m, nil
}

// Probabilities holds the per-task predictions of one candidate.
type Probabilities [numTasks]float32

// Forward scores one candidate. The query is the candidate item's embedding.
func (m *Model) Forward(user, item, context []float32, sequence [][]float32, mask []float32, query []float32) (Probabilities, error) {
	if err := m.checkShapes(user, item, context, sequence, mask, query); err != nil {
		return Probabilities{}, errors.Trace(err)
	}
	interest := m.Attention.forward(query, sequence, mask)

	combined := make([]float32, 0, m.Hyper.fusionInput())
	combined = append(combined, user...)
	combined = append(combined, item...)
	combined = append(combined, context...)
	combined = append(combined, interest...)
	fused := relu(m.FusionNorm.forward(m.Fusion.forward(combined)))

	var probabilities Probabilities
	for task := 0; task < numTasks; task++ {
		gated := m.FeatureGates[task].forward(fused)

		weights := make([]float32, m.Hyper.NumExperts)
		floats.MulConstAddTo(m.GlobalGate.forward(gated), globalGateWeight, weights)
		floats.MulConstAddTo(m.GroupGates[m.Hyper.groupOf(task)].forward(gated), groupGateWeight, weights)
		floats.MulConstAddTo(m.TaskGates[task].forward(gated), taskGateWeight, weights)
		floats.Softmax(weights)

		mixed := make([]float32, m.Hyper.ExpertDim)
		for e, expert := range m.Experts {
			floats.MulConstAddTo(expert.forward(gated), weights[e], mixed)
		}
		probabilities[task] = sigmoid(m.Towers[task].forward(mixed))
	}
	return probabilities, nil
}

func (m *Model) checkShapes(user, item, context []float32, sequence [][]float32, mask []float32, query []float32) error {
	switch {
	case len(user) != m.Hyper.UserDim:
		return errors.Errorf("user vector has %d dimensions, want %d", len(user), m.Hyper.UserDim)
	case len(item) != m.Hyper.ItemDim:
		return errors.Errorf("item vector has %d dimensions, want %d", len(item), m.Hyper.ItemDim)
	case len(context) != m.Hyper.ContextDim:
		return errors.Errorf("context vector has %d dimensions, want %d", len(context), m.Hyper.ContextDim)
	case len(query) != m.Hyper.SequenceDim:
		return errors.Errorf("query vector has %d dimensions, want %d", len(query), m.Hyper.SequenceDim)
	case len(sequence) != m.Hyper.SequenceLen || len(mask) != m.Hyper.SequenceLen:
		return errors.Errorf("sequence has %d positions, want %d", len(sequence), m.Hyper.SequenceLen)
	}
	for _, key := range sequence {
		if len(key) != m.Hyper.SequenceDim {
			return errors.Errorf("sequence key has %d dimensions, want %d", len(key), m.Hyper.SequenceDim)
		}
	}
	return nil
}

// validate checks that the weight shapes agree with the hyperparameter
// record. A mismatched checkpoint must fail fast, never silently reshape.
func (m *Model) validate() error {
	hyper := &m.Hyper
	if err := hyper.init(); err != nil {
		return errors.Trace(err)
	}
	fusionOut := hyper.HiddenDims[0]
	if m.Fusion.in() != hyper.fusionInput() || m.Fusion.out() != fusionOut {
		return errors.Errorf("fusion layer is %dx%d, hyperparameters say %dx%d",
			m.Fusion.out(), m.Fusion.in(), fusionOut, hyper.fusionInput())
	}
	if m.Attention.Hidden1.in() != 4*hyper.SequenceDim {
		return errors.Errorf("attention input is %d, hyperparameters say %d",
			m.Attention.Hidden1.in(), 4*hyper.SequenceDim)
	}
	if len(m.Attention.Fallback) != hyper.SequenceDim {
		return errors.Errorf("attention fallback has %d dimensions, want %d",
			len(m.Attention.Fallback), hyper.SequenceDim)
	}
	if len(m.Experts) != hyper.NumExperts {
		return errors.Errorf("model has %d experts, hyperparameters say %d", len(m.Experts), hyper.NumExperts)
	}
	for _, expert := range m.Experts {
		if expert.Hidden1.in() != fusionOut || expert.Hidden2.out() != hyper.ExpertDim {
			return errors.Errorf("expert is %dx%d, hyperparameters say %dx%d",
				expert.Hidden2.out(), expert.Hidden1.in(), hyper.ExpertDim, fusionOut)
		}
	}
	if len(m.GroupGates) != len(hyper.TaskGroups) {
		return errors.Errorf("model has %d group gates, hyperparameters say %d",
			len(m.GroupGates), len(hyper.TaskGroups))
	}
	if len(m.FeatureGates) != numTasks || len(m.TaskGates) != numTasks || len(m.Towers) != numTasks {
		return errors.Errorf("model does not carry %d tasks", numTasks)
	}
	for _, gate := range append(append([]*GateHead{m.GlobalGate}, m.GroupGates...), m.TaskGates...) {
		if gate.Out.out() != hyper.NumExperts {
			return errors.Errorf("gate emits %d experts, hyperparameters say %d", gate.Out.out(), hyper.NumExperts)
		}
	}
	for _, tower := range m.Towers {
		if tower.Hidden1.in() != hyper.ExpertDim || tower.Out.out() != 1 {
			return errors.Errorf("tower input is %d, hyperparameters say %d", tower.Hidden1.in(), hyper.ExpertDim)
		}
	}
	return nil
}
