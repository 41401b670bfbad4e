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

	"github.com/aura-social/recsys/base/floats"
)

// Linear is a dense layer storing weights row-major as [out][in].
type Linear struct {
	Weight [][]float32
	Bias   []float32
}

// newLinear initializes a dense layer with Xavier-uniform weights.
func newLinear(in, out int, rng *rand.Rand) *Linear {
	bound := math32.Sqrt(6 / float32(in+out))
	weight := make([][]float32, out)
	for i := range weight {
		weight[i] = make([]float32, in)
		for j := range weight[i] {
			weight[i][j] = (rng.Float32()*2 - 1) * bound
		}
	}
	return &Linear{Weight: weight, Bias: make([]float32, out)}
}

func (l *Linear) forward(x []float32) []float32 {
	y := make([]float32, len(l.Weight))
	for i, row := range l.Weight {
		y[i] = floats.Dot(row, x) + l.Bias[i]
	}
	return y
}

func (l *Linear) in() int {
	if len(l.Weight) == 0 {
		return 0
	}
	return len(l.Weight[0])
}

func (l *Linear) out() int {
	return len(l.Weight)
}

// BatchNorm applies inference-mode batch normalization using running
// statistics and an affine transform.
type BatchNorm struct {
	Mean     []float32
	Variance []float32
	Gamma    []float32
	Beta     []float32
	Eps      float32
}

// newBatchNorm returns an identity normalization (zero mean, unit variance).
func newBatchNorm(dim int) *BatchNorm {
	bn := &BatchNorm{
		Mean:     make([]float32, dim),
		Variance: make([]float32, dim),
		Gamma:    make([]float32, dim),
		Beta:     make([]float32, dim),
		Eps:      1e-5,
	}
	for i := 0; i < dim; i++ {
		bn.Variance[i] = 1
		bn.Gamma[i] = 1
	}
	return bn
}

func (bn *BatchNorm) forward(x []float32) []float32 {
	y := make([]float32, len(x))
	for i, v := range x {
		y[i] = (v-bn.Mean[i])/math32.Sqrt(bn.Variance[i]+bn.Eps)*bn.Gamma[i] + bn.Beta[i]
	}
	return y
}

func relu(x []float32) []float32 {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
	return x
}

func silu(x []float32) []float32 {
	for i, v := range x {
		x[i] = v * sigmoid(v)
	}
	return x
}

func sigmoid(v float32) float32 {
	return 1 / (1 + math32.Exp(-v))
}

func mul(x, y []float32) []float32 {
	z := make([]float32, len(x))
	floats.MulTo(x, y, z)
	return z
}
