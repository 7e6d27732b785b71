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

import (
	"context"
)

// fakeBackend is an in-memory Backend. Apply mutates the model the way the
// remote server would so refresh-after-commit sees the effects.
type fakeBackend struct {
	model   *ModelDoc
	data    map[string][]Row
	applied []Intent
	fetches int

	// failOn, when set, is consulted before each Apply.
	failOn func(Intent) error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		model: &ModelDoc{Schemas: map[string]SchemaDef{
			"public": {Name: "public", Tables: map[string]TableDef{}},
		}},
		data: map[string][]Row{},
	}
}

func (b *fakeBackend) addTable(schema string, def TableDef, rows []Row) {
	def.SchemaName = schema
	s := b.model.Schemas[schema]
	if s.Tables == nil {
		s.Tables = map[string]TableDef{}
		s.Name = schema
	}
	s.Tables[def.TableName] = def
	b.model.Schemas[schema] = s
	b.data[schema+":"+def.TableName] = rows
}

func (b *fakeBackend) Model(ctx context.Context) (*ModelDoc, error) {
	return b.model, nil
}

func (b *fakeBackend) Fetch(ctx context.Context, ref TableRef, limit int) ([]Row, error) {
	b.fetches++
	rows := b.data[ref.Schema+":"+ref.Table]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (b *fakeBackend) FetchDistinct(ctx context.Context, ref ColumnRef) ([]string, error) {
	rows := b.data[ref.Schema+":"+ref.Table]
	seen := map[string]bool{}
	var values []string
	for _, row := range rows {
		v := row[ref.Column]
		if v == nil {
			continue
		}
		s := stringValue(v)
		if !seen[s] {
			seen[s] = true
			values = append(values, s)
		}
	}
	return values, nil
}

func (b *fakeBackend) Apply(ctx context.Context, intent Intent) error {
	if b.failOn != nil {
		if err := b.failOn(intent); err != nil {
			return err
		}
	}
	b.applied = append(b.applied, intent)
	switch in := intent.(type) {
	case *CreateSchema:
		b.model.Schemas[in.Schema] = SchemaDef{Name: in.Schema, Tables: map[string]TableDef{}}
	case *CreateTable:
		b.addTable(in.Schema, in.Def, nil)
	case *CreateTableAs:
		def, rows := in.Resolved()
		b.addTable(in.Schema, *def, rows)
	case *DropTable:
		s := b.model.Schemas[in.Schema]
		delete(s.Tables, in.Table)
		b.model.Schemas[in.Schema] = s
		delete(b.data, in.Schema+":"+in.Table)
	case *RenameTable:
		s := b.model.Schemas[in.Schema]
		def := s.Tables[in.Old]
		def.TableName = in.New
		delete(s.Tables, in.Old)
		s.Tables[in.New] = def
		b.model.Schemas[in.Schema] = s
		b.data[in.Schema+":"+in.New] = b.data[in.Schema+":"+in.Old]
		delete(b.data, in.Schema+":"+in.Old)
	case *MoveTable:
		src := b.model.Schemas[in.Schema]
		def := src.Tables[in.Table]
		delete(src.Tables, in.Table)
		b.model.Schemas[in.Schema] = src
		def.SchemaName = in.NewSchema
		dst := b.model.Schemas[in.NewSchema]
		if dst.Tables == nil {
			dst.Tables = map[string]TableDef{}
			dst.Name = in.NewSchema
		}
		dst.Tables[in.Table] = def
		b.model.Schemas[in.NewSchema] = dst
		b.data[in.NewSchema+":"+in.Table] = b.data[in.Schema+":"+in.Table]
		delete(b.data, in.Schema+":"+in.Table)
	case *AddColumn:
		s := b.model.Schemas[in.Schema]
		def := s.Tables[in.Table]
		def.Columns = append(def.Columns, in.Def)
		s.Tables[in.Table] = def
		b.model.Schemas[in.Schema] = s
	case *DropColumn:
		s := b.model.Schemas[in.Schema]
		def := s.Tables[in.Table]
		var cols []ColumnDef
		for _, col := range def.Columns {
			if col.Name != in.Column {
				cols = append(cols, col)
			}
		}
		def.Columns = cols
		s.Tables[in.Table] = def
		b.model.Schemas[in.Schema] = s
	case *RenameColumn:
		s := b.model.Schemas[in.Schema]
		def := s.Tables[in.Table]
		for i := range def.Columns {
			if def.Columns[i].Name == in.Old {
				def.Columns[i].Name = in.New
			}
		}
		s.Tables[in.Table] = def
		b.model.Schemas[in.Schema] = s
	}
	return nil
}

// reviewDef is the table used by most planner and evolution tests: movie
// reviews with a delimited genre column.
func reviewDef() TableDef {
	return TableDef{
		SchemaName: "public",
		TableName:  "review",
		Columns: []ColumnDef{
			{Name: "id", Type: "int8"},
			{Name: "title", Type: "text"},
			{Name: "rating", Type: "int8", NullOK: true},
			{Name: "genres", Type: "text", NullOK: true},
		},
		Keys: []KeyDef{{Name: "review_id_key", UniqueColumns: []string{"id"}}},
	}
}

func reviewRows() []Row {
	return []Row{
		{"id": 1, "title": "Alpha", "rating": 4, "genres": "drama, comedy"},
		{"id": 2, "title": "Beta", "rating": 2, "genres": "drama"},
		{"id": 3, "title": "Gamma", "rating": 5, "genres": " comedy ,, thriller"},
		{"id": 4, "title": "Delta", "rating": 3, "genres": nil},
	}
}

func seededBackend() *fakeBackend {
	b := newFakeBackend()
	b.addTable("public", reviewDef(), reviewRows())
	return b
}
