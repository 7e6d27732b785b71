// Copyright 2024 The morph authors
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

package morph

import "context"

// Definition objects describe catalog model elements to be created. They are
// plain data: the core reads their fields and ships them to the remote
// catalog, it does not attach behavior to them.

type ColumnDef struct {
	Name    string      `json:"name"`
	Type    string      `json:"type"`
	NullOK  bool        `json:"nullok"`
	Default interface{} `json:"default,omitempty"`
	Comment string      `json:"comment,omitempty"`
}

type KeyDef struct {
	Name          string   `json:"name,omitempty"`
	UniqueColumns []string `json:"unique_columns"`
}

type ForeignKeyDef struct {
	Name      string   `json:"name,omitempty"`
	Columns   []string `json:"foreign_key_columns"`
	ToSchema  string   `json:"referenced_schema"`
	ToTable   string   `json:"referenced_table"`
	ToColumns []string `json:"referenced_columns"`
}

type TableDef struct {
	SchemaName  string          `json:"schema_name,omitempty"`
	TableName   string          `json:"table_name"`
	Columns     []ColumnDef     `json:"column_definitions"`
	Keys        []KeyDef        `json:"keys,omitempty"`
	ForeignKeys []ForeignKeyDef `json:"foreign_keys,omitempty"`
	Comment     string          `json:"comment,omitempty"`
}

type SchemaDef struct {
	Name    string              `json:"schema_name"`
	Tables  map[string]TableDef `json:"tables"`
	Comment string              `json:"comment,omitempty"`
}

// ModelDoc is the remote catalog's model snapshot.
type ModelDoc struct {
	Schemas map[string]SchemaDef `json:"schemas"`
}

// Row is a single tuple keyed by column name.
type Row map[string]interface{}

// TableRef names an extant table in the remote catalog.
type TableRef struct {
	Schema string
	Table  string
}

func (r TableRef) String() string { return r.Schema + ":" + r.Table }

// ColumnRef names a column of an extant table.
type ColumnRef struct {
	Schema string
	Table  string
	Column string
}

func (r ColumnRef) String() string { return r.Schema + ":" + r.Table + ":" + r.Column }

// Backend is the remote catalog API consumed by the planner and the evolution
// context. Apply executes a single mutation intent. Fetch returns rows of an
// extant table, all of them when limit <= 0. FetchDistinct returns the
// distinct non-null values of a column in first-encountered order. Model
// returns the catalog's current model snapshot.
type Backend interface {
	Apply(ctx context.Context, intent Intent) error
	Fetch(ctx context.Context, ref TableRef, limit int) ([]Row, error)
	FetchDistinct(ctx context.Context, ref ColumnRef) ([]string, error)
	Model(ctx context.Context) (*ModelDoc, error)
}

func (d *TableDef) column(name string) *ColumnDef {
	for i := range d.Columns {
		if d.Columns[i].Name == name {
			return &d.Columns[i]
		}
	}
	return nil
}

// minKey returns the smallest declared key, the introspected "primary" key
// used by ReifySub and ToAtoms. Returns nil when the table declares no keys.
func minKey(keys []KeyDef) []string {
	var best []string
	for _, key := range keys {
		if len(key.UniqueColumns) == 0 {
			continue
		}
		if best == nil || len(key.UniqueColumns) < len(best) {
			best = key.UniqueColumns
		}
	}
	if best == nil {
		return nil
	}
	out := make([]string, len(best))
	copy(out, best)
	return out
}
