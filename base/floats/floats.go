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

// Package floats provides pure Go float32 vector arithmetic.
package floats

import "github.com/chewxy/math32"

// Dot returns the dot product of two vectors.
func Dot(a, b []float32) (ret float32) {
	if len(a) != len(b) {
		panic("floats: slice lengths do not match")
	}
	for i := range a {
		ret += a[i] * b[i]
	}
	return
}

// Norm returns the Euclidean norm of a vector.
func Norm(a []float32) float32 {
	return math32.Sqrt(Dot(a, a))
}

// AddTo adds b to a and stores the result in dst.
func AddTo(a, b, dst []float32) {
	if len(a) != len(b) || len(a) != len(dst) {
		panic("floats: slice lengths do not match")
	}
	for i := range a {
		dst[i] = a[i] + b[i]
	}
}

// MulTo multiplies a and b elementwise and stores the result in dst.
func MulTo(a, b, dst []float32) {
	if len(a) != len(b) || len(a) != len(dst) {
		panic("floats: slice lengths do not match")
	}
	for i := range a {
		dst[i] = a[i] * b[i]
	}
}

// SubTo subtracts b from a and stores the result in dst.
func SubTo(a, b, dst []float32) {
	if len(a) != len(b) || len(a) != len(dst) {
		panic("floats: slice lengths do not match")
	}
	for i := range a {
		dst[i] = a[i] - b[i]
	}
}

// MulConstAddTo adds a*c to dst.
func MulConstAddTo(a []float32, c float32, dst []float32) {
	if len(a) != len(dst) {
		panic("floats: slice lengths do not match")
	}
	for i := range a {
		dst[i] += a[i] * c
	}
}

// Softmax replaces a with its softmax distribution in place.
// Entries equal to -Inf keep zero probability.
func Softmax(a []float32) {
	if len(a) == 0 {
		return
	}
	m := math32.Inf(-1)
	for _, v := range a {
		if v > m {
			m = v
		}
	}
	if math32.IsInf(m, -1) {
		return
	}
	var sum float32
	for i, v := range a {
		a[i] = math32.Exp(v - m)
		sum += a[i]
	}
	for i := range a {
		a[i] /= sum
	}
}
