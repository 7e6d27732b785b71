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
	"io"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Options configures a catalog connection. The zero value is usable: a no-op
// logger, plan output on stdout, the default matcher and sample limit.
type Options struct {
	Logger      *zap.Logger
	Diagnostics io.Writer
	SampleLimit int
	Matcher     *Matcher
}

// Catalog is the client-side facade over a remote versioned catalog. Its
// mutation methods never touch the remote model directly; they enqueue
// intents into the active evolution context, opening a one-shot context when
// none is open.
type Catalog struct {
	backend Backend
	logger  *zap.Logger
	diag    io.Writer
	limit   int
	matcher *Matcher

	mu       sync.Mutex
	schemas  map[string]*Schema
	evolving *EvolveContext
}

// Connect binds a catalog facade to a backend and loads the current model
// snapshot.
func Connect(ctx context.Context, backend Backend, opts *Options) (*Catalog, error) {
	if opts == nil {
		opts = &Options{}
	}
	c := &Catalog{
		backend: backend,
		logger:  opts.Logger,
		diag:    opts.Diagnostics,
		limit:   opts.SampleLimit,
		matcher: opts.Matcher,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.diag == nil {
		c.diag = os.Stdout
	}
	if c.limit <= 0 {
		c.limit = DefaultSampleLimit
	}
	if c.matcher == nil {
		c.matcher = NewMatcher()
	}
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// refresh rebuilds the local model facade from the remote snapshot. Existing
// table handles whose tables no longer exist are invalidated.
func (c *Catalog) refresh(ctx context.Context) error {
	doc, err := c.backend.Model(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.schemas
	c.schemas = make(map[string]*Schema, len(doc.Schemas))
	for name, sdef := range doc.Schemas {
		s := &Schema{catalog: c, name: name, tables: map[string]*Table{}}
		for tname, tdef := range sdef.Tables {
			tdef.SchemaName = name
			tdef.TableName = tname
			s.tables[tname] = &Table{schema: s, name: tname, def: tdef}
		}
		c.schemas[name] = s
	}
	for sname, s := range old {
		for tname, t := range s.tables {
			ns, ok := c.schemas[sname]
			if !ok {
				t.dropped = true
				continue
			}
			if _, ok := ns.tables[tname]; !ok {
				t.dropped = true
			}
		}
	}
	return nil
}

// Schemas lists schema names in sorted order.
func (c *Catalog) Schemas() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.schemas))
	for name := range c.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schema returns the handle for a named schema.
func (c *Catalog) Schema(name string) (*Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.schemas[name]
	if !ok {
		return nil, schemaErrorf("schema '%s' not found", name)
	}
	return s, nil
}

// CreateSchema enqueues creation of a new schema.
func (c *Catalog) CreateSchema(ctx context.Context, name string) error {
	if _, err := c.Schema(name); err == nil {
		return schemaErrorf("schema '%s' already exists", name)
	}
	return c.submit(ctx, &CreateSchema{Schema: name})
}

// submit routes an intent to the open evolution context, or runs it through
// a one-shot autocommit context with the process-wide guard defaults.
func (c *Catalog) submit(ctx context.Context, in Intent) error {
	c.mu.Lock()
	active := c.evolving
	c.mu.Unlock()
	if active != nil {
		return active.Enqueue(in)
	}

	e, err := c.Evolve(EvolveOptions{AllowAlter: DefaultAllowAlter, AllowDrop: DefaultAllowDrop})
	if err != nil {
		return err
	}
	c.logger.Debug("autocommit", zap.String("intent", in.Describe()))
	if err := e.Enqueue(in); err != nil {
		e.Abort()
		return err
	}
	return e.Close(ctx)
}

// Schema is a facade over one schema of the catalog model.
type Schema struct {
	catalog *Catalog
	name    string
	tables  map[string]*Table
}

func (s *Schema) Name() string { return s.name }

// current resolves this handle against the latest model snapshot, so schema
// handles held across a commit keep working. Caller holds the catalog mutex.
func (s *Schema) current() (*Schema, error) {
	cur, ok := s.catalog.schemas[s.name]
	if !ok {
		return nil, schemaErrorf("schema '%s' no longer exists", s.name)
	}
	return cur, nil
}

// Tables lists table names in sorted order.
func (s *Schema) Tables() []string {
	s.catalog.mu.Lock()
	defer s.catalog.mu.Unlock()
	cur, err := s.current()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(cur.tables))
	for name := range cur.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Table returns the handle for a named table.
func (s *Schema) Table(name string) (*Table, error) {
	s.catalog.mu.Lock()
	defer s.catalog.mu.Unlock()
	cur, err := s.current()
	if err != nil {
		return nil, err
	}
	t, ok := cur.tables[name]
	if !ok {
		return nil, schemaErrorf("table '%s' not found in schema '%s'", name, s.name)
	}
	return t, nil
}

// CreateTable enqueues creation of a table from an explicit definition.
func (s *Schema) CreateTable(ctx context.Context, def TableDef) error {
	if _, err := s.Table(def.TableName); err == nil {
		return schemaErrorf("table '%s' already exists in schema '%s'", def.TableName, s.name)
	}
	def.SchemaName = s.name
	return s.catalog.submit(ctx, &CreateTable{Schema: s.name, Def: def})
}

// SetTable assigns a computed relation to a table name in this schema. The
// relation is materialized when the owning evolution context commits.
func (s *Schema) SetTable(ctx context.Context, name string, rel *Relation) error {
	if rel == nil {
		return schemaErrorf("cannot assign a nil relation")
	}
	if _, err := s.Table(name); err == nil {
		return schemaErrorf("table '%s' already exists in schema '%s'", name, s.name)
	}
	return s.catalog.submit(ctx, &CreateTableAs{Schema: s.name, Table: name, Rel: rel})
}

// DropTable enqueues removal of a table.
func (s *Schema) DropTable(ctx context.Context, name string) error {
	if _, err := s.Table(name); err != nil {
		return err
	}
	return s.catalog.submit(ctx, &DropTable{Schema: s.name, Table: name})
}

// RenameTable enqueues a table rename within this schema.
func (s *Schema) RenameTable(ctx context.Context, old, new string) error {
	if _, err := s.Table(old); err != nil {
		return err
	}
	if _, err := s.Table(new); err == nil {
		return schemaErrorf("table '%s' already exists in schema '%s'", new, s.name)
	}
	return s.catalog.submit(ctx, &RenameTable{Schema: s.name, Old: old, New: new})
}

// MoveTable enqueues relocation of a table to another schema.
func (s *Schema) MoveTable(ctx context.Context, name, newSchema string) error {
	if _, err := s.Table(name); err != nil {
		return err
	}
	dst, err := s.catalog.Schema(newSchema)
	if err != nil {
		return err
	}
	if _, err := dst.Table(name); err == nil {
		return schemaErrorf("table '%s' already exists in schema '%s'", name, newSchema)
	}
	return s.catalog.submit(ctx, &MoveTable{Schema: s.name, Table: name, NewSchema: newSchema})
}

// Table is a facade over one extant table. A handle is invalidated when the
// underlying table disappears from the model; operations on an invalidated
// handle fail.
type Table struct {
	schema  *Schema
	name    string
	def     TableDef
	dropped bool
}

func (t *Table) Name() string { return t.name }

func (t *Table) Def() TableDef {
	return TableDef{
		SchemaName:  t.def.SchemaName,
		TableName:   t.def.TableName,
		Columns:     cloneColumns(t.def.Columns),
		Keys:        cloneKeys(t.def.Keys),
		ForeignKeys: cloneFKs(t.def.ForeignKeys),
		Comment:     t.def.Comment,
	}
}

func (t *Table) check() error {
	if t.dropped {
		return schemaErrorf("table '%s:%s' no longer exists", t.schema.name, t.name)
	}
	return nil
}

// Base returns the relation expression leaf for this table.
func (t *Table) Base() (*Relation, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return BaseRelation(t.Def()), nil
}

// AddColumn enqueues addition of a column to this table.
func (t *Table) AddColumn(ctx context.Context, def ColumnDef) error {
	if err := t.check(); err != nil {
		return err
	}
	if t.def.column(def.Name) != nil {
		return schemaErrorf("column '%s' already exists on '%s:%s'", def.Name, t.schema.name, t.name)
	}
	return t.schema.catalog.submit(ctx, &AddColumn{Schema: t.schema.name, Table: t.name, Def: def})
}

// DropColumn enqueues removal of a column from this table.
func (t *Table) DropColumn(ctx context.Context, name string) error {
	if err := t.check(); err != nil {
		return err
	}
	if t.def.column(name) == nil {
		return schemaErrorf("column '%s' not found on '%s:%s'", name, t.schema.name, t.name)
	}
	return t.schema.catalog.submit(ctx, &DropColumn{Schema: t.schema.name, Table: t.name, Column: name})
}

// RenameColumn enqueues a column rename on this table.
func (t *Table) RenameColumn(ctx context.Context, old, new string) error {
	if err := t.check(); err != nil {
		return err
	}
	if t.def.column(old) == nil {
		return schemaErrorf("column '%s' not found on '%s:%s'", old, t.schema.name, t.name)
	}
	if t.def.column(new) != nil {
		return schemaErrorf("column '%s' already exists on '%s:%s'", new, t.schema.name, t.name)
	}
	return t.schema.catalog.submit(ctx, &RenameColumn{Schema: t.schema.name, Table: t.name, Old: old, New: new})
}
