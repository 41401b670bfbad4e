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
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/errors"
)

// Metadata describes a persisted model.
type Metadata struct {
	Name      string
	CreatedAt time.Time
	Comment   string
}

// checkpoint is the on-disk layout: weights, the hyperparameter record used
// to build them, and descriptive metadata.
type checkpoint struct {
	Hyper    Hyperparameters
	Model    *Model
	Metadata Metadata
}

// Save persists the model to a gob checkpoint file.
func Save(m *Model, path string, metadata Metadata) error {
	if metadata.CreatedAt.IsZero() {
		metadata.CreatedAt = time.Now()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Trace(err)
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer file.Close()
	encoder := gob.NewEncoder(file)
	return errors.Trace(encoder.Encode(checkpoint{
		Hyper:    m.Hyper,
		Model:    m,
		Metadata: metadata,
	}))
}

// Load reads a checkpoint. The embedded hyperparameter record always takes
// precedence over caller defaults; a record that disagrees with the weight
// shapes is an error, never a silent reshape.
func Load(path string) (*Model, Metadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, Metadata{}, errors.Trace(err)
	}
	defer file.Close()
	var cp checkpoint
	if err := gob.NewDecoder(file).Decode(&cp); err != nil {
		return nil, Metadata{}, errors.Trace(err)
	}
	if cp.Model == nil {
		return nil, Metadata{}, errors.Errorf("checkpoint %s carries no model", path)
	}
	// the record stored next to the weights is authoritative
	cp.Model.Hyper = cp.Hyper
	if err := cp.Model.validate(); err != nil {
		return nil, Metadata{}, errors.Annotatef(err, "checkpoint %s", path)
	}
	return cp.Model, cp.Metadata, nil
}
