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

// Dict maps string identifiers to dense indices.
type Dict struct {
	si map[string]int32
	is []string
}

func NewDict() *Dict {
	return &Dict{si: map[string]int32{}}
}

func (d *Dict) Count() int {
	return len(d.is)
}

// Id returns the index of s, inserting it if unseen.
func (d *Dict) Id(s string) int32 {
	if y, ok := d.si[s]; ok {
		return y
	}
	y := int32(len(d.is))
	d.si[s] = y
	d.is = append(d.is, s)
	return y
}

// Lookup returns the index of s without inserting.
func (d *Dict) Lookup(s string) (int32, bool) {
	y, ok := d.si[s]
	return y, ok
}

// String returns the identifier at index id.
func (d *Dict) String(id int32) (string, bool) {
	if id < 0 || int(id) >= len(d.is) {
		return "", false
	}
	return d.is[id], true
}
