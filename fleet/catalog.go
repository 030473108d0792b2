// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fleet

import (
	"bytes"
	"cmp"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed epics.yaml
var defaultCatalogYAML []byte

var ErrEpicNotFound = errors.New("epic not found")

// Epic is the known final target of an epic. Epics that branch on votes
// carry one target per outcome key in Variants and leave Target unset.
type Epic struct {
	Variants map[string]int64 `yaml:"variants,omitempty"`
	Name     string           `yaml:"name"`
	ID       int64            `yaml:"id"`
	Target   int64            `yaml:"target,omitempty"`
}

// Resolve returns the target for an outcome key. When the key is not one of
// the variants the cheapest variant is used and exact is false, along with
// the variant that was picked.
func (e *Epic) Resolve(votes string) (target int64, variant string, exact bool) {
	if len(e.Variants) == 0 {
		return e.Target, "", true
	}
	if target, ok := e.Variants[votes]; ok {
		return target, votes, true
	}
	// Sorted so that ties between equal targets pick the same variant
	keys := slices.Sorted(maps.Keys(e.Variants))
	variant = keys[0]
	for _, k := range keys[1:] {
		if e.Variants[k] < e.Variants[variant] {
			variant = k
		}
	}
	return e.Variants[variant], variant, false
}

// Catalog looks up epics by their upstream id
type Catalog interface {
	Epic(id int64) (*Epic, error)
}

// StaticCatalog is a Catalog backed by a fixed set of epics
type StaticCatalog struct {
	epics map[int64]*Epic
}

type catalogFile struct {
	Epics []Epic `yaml:"epics"`
}

// NewStaticCatalog builds a catalog from a list of epics
func NewStaticCatalog(epics []Epic) (*StaticCatalog, error) {
	c := &StaticCatalog{
		epics: make(map[int64]*Epic, len(epics)),
	}
	for i := range epics {
		epic := epics[i]
		if _, ok := c.epics[epic.ID]; ok {
			return nil, fmt.Errorf("duplicate epic id %d", epic.ID)
		}
		if epic.Target == 0 && len(epic.Variants) == 0 {
			return nil, fmt.Errorf("epic %d has neither a target nor variants", epic.ID)
		}
		c.epics[epic.ID] = &epic
	}
	return c, nil
}

// LoadCatalog reads a YAML catalog document
func LoadCatalog(r io.Reader) (*StaticCatalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decoding epic catalog: %w", err)
	}
	return NewStaticCatalog(file.Epics)
}

// LoadCatalogFile reads a YAML catalog from a file
func LoadCatalogFile(path string) (*StaticCatalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening epic catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// DefaultCatalog returns the built-in catalog of known epics
func DefaultCatalog() *StaticCatalog {
	c, err := LoadCatalog(bytes.NewReader(defaultCatalogYAML))
	if err != nil {
		panic("invalid built-in epic catalog: " + err.Error())
	}
	return c
}

func (c *StaticCatalog) Epic(id int64) (*Epic, error) {
	epic, ok := c.epics[id]
	if !ok {
		return nil, fmt.Errorf("epic %d: %w", id, ErrEpicNotFound)
	}
	return epic, nil
}

// Epics returns all epics ordered by id
func (c *StaticCatalog) Epics() []*Epic {
	ret := make([]*Epic, 0, len(c.epics))
	for _, epic := range c.epics {
		ret = append(ret, epic)
	}
	slices.SortFunc(ret, func(a, b *Epic) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return ret
}
