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
	"strings"

	"github.com/google/uuid"
)

// Kind tags the operator of a relation expression node.
type Kind int

const (
	KindBase Kind = iota
	KindSelect
	KindWhere
	KindJoin
	KindUnion
	KindDomain
	KindVocabulary
	KindAtoms
	KindReify
	KindReifySub
	KindAlign
	KindTags
)

var kindNames = map[Kind]string{
	KindBase:       "base",
	KindSelect:     "select",
	KindWhere:      "where",
	KindJoin:       "join",
	KindUnion:      "union",
	KindDomain:     "domain",
	KindVocabulary: "vocabulary",
	KindAtoms:      "atoms",
	KindReify:      "reify",
	KindReifySub:   "reify-sub",
	KindAlign:      "align",
	KindTags:       "tags",
}

func (k Kind) String() string { return kindNames[k] }

// AlignPolicy controls what Align does with a source value that has no exact
// match in the reference relation.
type AlignPolicy int

const (
	// AlignStrict fails evaluation with an AlignmentError.
	AlignStrict AlignPolicy = iota
	// AlignAddUnmatched creates the unmatched value as a new reference term.
	AlignAddUnmatched
)

// pendingFK is a foreign key whose target relation is still virtual. The
// evolution context resolves it when the target is assigned a name in the
// same batch; otherwise it is discarded at commit.
type pendingFK struct {
	columns    []string
	target     *Relation
	targetCols []string
}

// Relation is an immutable node in a relational expression DAG. Construction
// resolves the node's output schema structurally and never touches the remote
// catalog; only assignment to a schema under a name has side effects.
//
// The zero value is not usable; nodes are built from a base table handle and
// the derivation methods below.
type Relation struct {
	kind    Kind
	name    string
	inputs  []*Relation
	columns []ColumnDef
	keys    []KeyDef
	fkeys   []ForeignKeyDef
	pending []pendingFK

	base       *TableRef    // KindBase
	projection []Projection // KindSelect
	projMap    [][2]string  // KindSelect, (source, output) per output column
	pred       Predicate   // KindWhere
	column     string      // domain/vocabulary/atoms/align/tags driving column
	delim      string      // atoms/tags
	keyCols    []string    // reify
	valCols    []string    // reify
	ref        *Relation   // align/tags reference
	policy     AlignPolicy // align/tags
}

// BaseRelation returns the expression leaf for an extant table.
func BaseRelation(def TableDef) *Relation {
	return &Relation{
		kind:    KindBase,
		name:    def.TableName,
		base:    &TableRef{Schema: def.SchemaName, Table: def.TableName},
		columns: cloneColumns(def.Columns),
		keys:    cloneKeys(def.Keys),
		fkeys:   cloneFKs(def.ForeignKeys),
	}
}

func (r *Relation) Kind() Kind { return r.kind }

// Name is the relation's derived name; anonymous until assigned.
func (r *Relation) Name() string { return r.name }

// Children returns the node's input relations.
func (r *Relation) Children() []*Relation {
	out := make([]*Relation, len(r.inputs))
	copy(out, r.inputs)
	return out
}

// Columns returns the node's resolved output column descriptors.
func (r *Relation) Columns() []ColumnDef { return cloneColumns(r.columns) }

func (r *Relation) Keys() []KeyDef { return cloneKeys(r.keys) }

func (r *Relation) ForeignKeys() []ForeignKeyDef { return cloneFKs(r.fkeys) }

// Def renders the relation's schema as a table definition.
func (r *Relation) Def() TableDef {
	return TableDef{
		TableName:   r.name,
		Columns:     r.Columns(),
		Keys:        r.Keys(),
		ForeignKeys: r.ForeignKeys(),
	}
}

// Projection is an item of a Select column list.
type Projection interface {
	isProjection()
}

type colProjection struct{ name string }

type aliasProjection struct{ name, alias string }

type dropProjection struct{ name string }

func (colProjection) isProjection()   {}
func (aliasProjection) isProjection() {}
func (dropProjection) isProjection()  {}

// Col projects a column under its own name.
func Col(name string) Projection { return colProjection{name: name} }

// Alias projects a column under a new name.
func Alias(name, alias string) Projection { return aliasProjection{name: name, alias: alias} }

// Drop removes a column. Drop items cannot be mixed with other projections;
// a Select of only drops keeps every other column.
func Drop(name string) Projection { return dropProjection{name: name} }

// derived names follow the original's table:hex convention so anonymous
// computed relations stay unique until assigned.
func derivedName(parent string) string {
	return parent + ":" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// Select projects, renames, or drops columns.
func (r *Relation) Select(items ...Projection) (*Relation, error) {
	if len(items) == 0 {
		// full projection, i.e. a clone
		for _, col := range r.columns {
			items = append(items, Col(col.Name))
		}
	}

	drops := 0
	for _, item := range items {
		if _, ok := item.(dropProjection); ok {
			drops++
		}
	}
	if drops > 0 && drops != len(items) {
		return nil, schemaErrorf("column drops cannot be mixed with other projections")
	}

	var cols []ColumnDef
	var projMap [][2]string
	rename := map[string]string{} // old -> new
	if drops > 0 {
		dropped := map[string]bool{}
		for _, item := range items {
			d := item.(dropProjection)
			if r.columnDef(d.name) == nil {
				return nil, schemaErrorf("column '%s' not found in relation '%s'", d.name, r.name)
			}
			dropped[d.name] = true
		}
		for _, col := range r.columns {
			if !dropped[col.Name] {
				cols = append(cols, col)
				rename[col.Name] = col.Name
				projMap = append(projMap, [2]string{col.Name, col.Name})
			}
		}
		if len(cols) == 0 {
			return nil, schemaErrorf("projection of '%s' drops every column", r.name)
		}
	} else {
		seen := map[string]bool{}
		for _, item := range items {
			var src, dst string
			switch it := item.(type) {
			case colProjection:
				src, dst = it.name, it.name
			case aliasProjection:
				src, dst = it.name, it.alias
			}
			def := r.columnDef(src)
			if def == nil {
				return nil, schemaErrorf("column '%s' not found in relation '%s'", src, r.name)
			}
			if seen[dst] {
				return nil, schemaErrorf("duplicate column '%s' in projection", dst)
			}
			seen[dst] = true
			out := *def
			out.Name = dst
			cols = append(cols, out)
			rename[src] = dst
			projMap = append(projMap, [2]string{src, dst})
		}
	}

	out := &Relation{
		kind:       KindSelect,
		name:       derivedName(r.name),
		inputs:     []*Relation{r},
		columns:    cols,
		projection: items,
		projMap:    projMap,
	}
	out.keys = projectKeys(r.keys, rename)
	out.fkeys = projectFKs(r.fkeys, rename)
	return out, nil
}

// Clone is a full projection of the relation.
func (r *Relation) Clone() *Relation {
	out, _ := r.Select()
	return out
}

// Where filters rows by a comparison predicate over literal values.
func (r *Relation) Where(pred Predicate) (*Relation, error) {
	if pred == nil {
		return nil, schemaErrorf("where requires a predicate")
	}
	for _, col := range pred.Columns() {
		if r.columnDef(col) == nil {
			return nil, schemaErrorf("predicate column '%s' not found in relation '%s'", col, r.name)
		}
	}
	return &Relation{
		kind:    KindWhere,
		name:    derivedName(r.name),
		inputs:  []*Relation{r},
		columns: cloneColumns(r.columns),
		keys:    cloneKeys(r.keys),
		fkeys:   cloneFKs(r.fkeys),
		pred:    pred,
	}, nil
}

// Join is the unconditional cross product of two relations. Colliding column
// names must be projected apart by the caller first.
func (r *Relation) Join(other *Relation) (*Relation, error) {
	for _, right := range other.columns {
		if r.columnDef(right.Name) != nil {
			return nil, schemaErrorf("column '%s' exists on both sides of the join", right.Name)
		}
	}
	cols := cloneColumns(r.columns)
	cols = append(cols, cloneColumns(other.columns)...)
	return &Relation{
		kind:    KindJoin,
		name:    r.name + "_" + other.name,
		inputs:  []*Relation{r, other},
		columns: cols,
	}, nil
}

// Union is the bag union of two column-compatible relations. Duplicate rows
// are preserved. The output takes the left relation's column names.
func (r *Relation) Union(other *Relation) (*Relation, error) {
	if len(r.columns) != len(other.columns) {
		return nil, schemaErrorf("union of incompatible relations: %d vs %d columns", len(r.columns), len(other.columns))
	}
	for i := range r.columns {
		if r.columns[i].Type != other.columns[i].Type {
			return nil, schemaErrorf("union column %d type mismatch: '%s' vs '%s'", i, r.columns[i].Type, other.columns[i].Type)
		}
	}
	return &Relation{
		kind:    KindUnion,
		name:    derivedName(r.name),
		inputs:  []*Relation{r, other},
		columns: cloneColumns(r.columns),
	}, nil
}

// Plus is Union.
func (r *Relation) Plus(other *Relation) (*Relation, error) { return r.Union(other) }

// ToDomain computes a deduplicated set of canonical terms from the distinct
// non-null values of the named column. The output has a single column 'name'
// of the source column's type.
func (r *Relation) ToDomain(column string) (*Relation, error) {
	def := r.columnDef(column)
	if def == nil {
		return nil, schemaErrorf("column '%s' not found in relation '%s'", column, r.name)
	}
	return &Relation{
		kind:   KindDomain,
		name:   derivedName(r.name),
		inputs: []*Relation{r},
		columns: []ColumnDef{
			{Name: "name", Type: def.Type},
		},
		keys:   []KeyDef{{UniqueColumns: []string{"name"}}},
		column: column,
	}, nil
}

// ToVocabulary is ToDomain plus a 'synonyms' column listing the raw values
// collapsed into each canonical term.
func (r *Relation) ToVocabulary(column string) (*Relation, error) {
	def := r.columnDef(column)
	if def == nil {
		return nil, schemaErrorf("column '%s' not found in relation '%s'", column, r.name)
	}
	return &Relation{
		kind:   KindVocabulary,
		name:   derivedName(r.name),
		inputs: []*Relation{r},
		columns: []ColumnDef{
			{Name: "name", Type: def.Type},
			{Name: "synonyms", Type: def.Type + "[]", NullOK: true},
		},
		keys:   []KeyDef{{UniqueColumns: []string{"name"}}},
		column: column,
	}, nil
}

// ToAtoms splits the named column's delimited values into one row per atomic
// value. The output carries the source relation's key columns and a foreign
// key back to the source so every atom stays attributable to its row.
func (r *Relation) ToAtoms(column, delim string) (*Relation, error) {
	def := r.columnDef(column)
	if def == nil {
		return nil, schemaErrorf("column '%s' not found in relation '%s'", column, r.name)
	}
	if delim == "" {
		return nil, schemaErrorf("atomize requires a delimiter")
	}
	key := minKey(r.keys)
	if key == nil {
		return nil, schemaErrorf("relation '%s' has no identifiable key; atomized rows would not be attributable", r.name)
	}
	for _, k := range key {
		if k == column {
			return nil, schemaErrorf("cannot atomize key column '%s'", column)
		}
	}

	out := &Relation{
		kind:    KindAtoms,
		name:    derivedName(r.name),
		inputs:  []*Relation{r},
		column:  column,
		delim:   delim,
		keyCols: key,
	}
	for _, k := range key {
		out.columns = append(out.columns, *r.columnDef(k))
	}
	atom := *def
	atom.NullOK = false
	out.columns = append(out.columns, atom)
	out.attachSourceKeyFK(r, key)
	return out, nil
}

// Reify splits out a new relation keyed by keyCols with one row per distinct
// key tuple, paired with the first value tuple seen for that key in the
// source's row order. Key columns come first in the output, then value
// columns, both in caller order.
func (r *Relation) Reify(keyCols, valCols []string) (*Relation, error) {
	if len(keyCols) == 0 {
		return nil, schemaErrorf("reify requires at least one key column")
	}
	seen := map[string]bool{}
	for _, k := range keyCols {
		if seen[k] {
			return nil, schemaErrorf("duplicate key column '%s' in reify", k)
		}
		seen[k] = true
	}
	for _, v := range valCols {
		if seen[v] {
			return nil, schemaErrorf("reify value column '%s' overlaps the key columns", v)
		}
	}
	out := &Relation{
		kind:    KindReify,
		name:    derivedName(r.name),
		inputs:  []*Relation{r},
		keyCols: append([]string(nil), keyCols...),
		valCols: append([]string(nil), valCols...),
		keys:    []KeyDef{{UniqueColumns: append([]string(nil), keyCols...)}},
	}
	for _, name := range append(append([]string(nil), keyCols...), valCols...) {
		def := r.columnDef(name)
		if def == nil {
			return nil, schemaErrorf("column '%s' not found in relation '%s'", name, r.name)
		}
		out.columns = append(out.columns, *def)
	}
	return out, nil
}

// ReifySub promotes a sub-concept of the relation into its own table keyed by
// the source's introspected primary key, with a foreign key referencing it.
func (r *Relation) ReifySub(cols ...string) (*Relation, error) {
	if len(cols) == 0 {
		return nil, schemaErrorf("reify-sub requires at least one column")
	}
	key := minKey(r.keys)
	if key == nil {
		return nil, schemaErrorf("relation '%s' has no identifiable key for reify-sub", r.name)
	}
	out := &Relation{
		kind:    KindReifySub,
		name:    derivedName(r.name),
		inputs:  []*Relation{r},
		valCols: append([]string(nil), cols...),
		keyCols: key,
		keys:    []KeyDef{{UniqueColumns: append([]string(nil), key...)}},
	}
	for _, k := range key {
		out.columns = append(out.columns, *r.columnDef(k))
	}
	for _, name := range cols {
		def := r.columnDef(name)
		if def == nil {
			return nil, schemaErrorf("column '%s' not found in relation '%s'", name, r.name)
		}
		for _, k := range key {
			if k == name {
				return nil, schemaErrorf("reify-sub column '%s' is part of the source key", name)
			}
		}
		out.columns = append(out.columns, *def)
	}
	out.attachSourceKeyFK(r, key)
	return out, nil
}

// Align replaces the named column's raw values with references into a domain
// or vocabulary relation. The reference must expose a 'name' column and may
// expose 'synonyms'. Matching is exact against the name and each synonym;
// what happens on a miss is the policy's call.
func (r *Relation) Align(column string, ref *Relation, policy AlignPolicy) (*Relation, error) {
	def := r.columnDef(column)
	if def == nil {
		return nil, schemaErrorf("column '%s' not found in relation '%s'", column, r.name)
	}
	nameDef := ref.columnDef("name")
	if nameDef == nil {
		return nil, schemaErrorf("reference relation '%s' has no 'name' column", ref.name)
	}

	out := &Relation{
		kind:   KindAlign,
		name:   derivedName(r.name),
		inputs: []*Relation{r, ref},
		keys:   cloneKeys(r.keys),
		column: column,
		ref:    ref,
		policy: policy,
	}
	for _, col := range r.columns {
		if col.Name == column {
			aligned := col
			aligned.Type = nameDef.Type
			out.columns = append(out.columns, aligned)
			continue
		}
		out.columns = append(out.columns, col)
	}
	// carry source fkeys that do not involve the aligned column
	for _, fk := range r.fkeys {
		involved := false
		for _, c := range fk.Columns {
			if c == column {
				involved = true
			}
		}
		if !involved {
			out.fkeys = append(out.fkeys, fk)
		}
	}
	out.attachRefFK(ref, column)
	return out, nil
}

// ToTags normalizes a delimited multi-valued column into a many-to-many
// tagging relation: each value is atomized, each atom aligned against the
// reference, and a foreign key retains the originating row.
func (r *Relation) ToTags(column string, ref *Relation, delim string, policy AlignPolicy) (*Relation, error) {
	def := r.columnDef(column)
	if def == nil {
		return nil, schemaErrorf("column '%s' not found in relation '%s'", column, r.name)
	}
	if delim == "" {
		return nil, schemaErrorf("tagging requires a delimiter")
	}
	key := minKey(r.keys)
	if key == nil {
		return nil, schemaErrorf("relation '%s' has no identifiable key; tags would not be attributable", r.name)
	}
	nameDef := ref.columnDef("name")
	if nameDef == nil {
		return nil, schemaErrorf("reference relation '%s' has no 'name' column", ref.name)
	}

	out := &Relation{
		kind:    KindTags,
		name:    derivedName(r.name),
		inputs:  []*Relation{r, ref},
		column:  column,
		delim:   delim,
		ref:     ref,
		policy:  policy,
		keyCols: key,
	}
	for _, k := range key {
		out.columns = append(out.columns, *r.columnDef(k))
	}
	tag := *def
	tag.Type = nameDef.Type
	tag.NullOK = false
	out.columns = append(out.columns, tag)
	out.attachSourceKeyFK(r, key)
	out.attachRefFK(ref, column)
	return out, nil
}

func (r *Relation) columnDef(name string) *ColumnDef {
	for i := range r.columns {
		if r.columns[i].Name == name {
			return &r.columns[i]
		}
	}
	return nil
}

// attachSourceKeyFK records a foreign key from the given key columns back to
// the source relation. Resolved immediately for extant sources, deferred for
// virtual ones.
func (r *Relation) attachSourceKeyFK(src *Relation, key []string) {
	if src.base != nil {
		r.fkeys = append(r.fkeys, ForeignKeyDef{
			Columns:   append([]string(nil), key...),
			ToSchema:  src.base.Schema,
			ToTable:   src.base.Table,
			ToColumns: append([]string(nil), key...),
		})
		return
	}
	r.pending = append(r.pending, pendingFK{
		columns:    append([]string(nil), key...),
		target:     src,
		targetCols: append([]string(nil), key...),
	})
}

func (r *Relation) attachRefFK(ref *Relation, column string) {
	if ref.base != nil {
		r.fkeys = append(r.fkeys, ForeignKeyDef{
			Columns:   []string{column},
			ToSchema:  ref.base.Schema,
			ToTable:   ref.base.Table,
			ToColumns: []string{"name"},
		})
		return
	}
	r.pending = append(r.pending, pendingFK{
		columns:    []string{column},
		target:     ref,
		targetCols: []string{"name"},
	})
}

// walk visits the expression DAG bottom-up, each node once.
func (r *Relation) walk(visited map[*Relation]bool, fn func(*Relation)) {
	if visited[r] {
		return
	}
	visited[r] = true
	for _, in := range r.inputs {
		in.walk(visited, fn)
	}
	fn(r)
}

func projectKeys(keys []KeyDef, rename map[string]string) []KeyDef {
	var out []KeyDef
	for _, key := range keys {
		mapped := make([]string, 0, len(key.UniqueColumns))
		ok := true
		for _, col := range key.UniqueColumns {
			dst, found := rename[col]
			if !found {
				ok = false
				break
			}
			mapped = append(mapped, dst)
		}
		if ok {
			out = append(out, KeyDef{Name: key.Name, UniqueColumns: mapped})
		}
	}
	return out
}

func projectFKs(fkeys []ForeignKeyDef, rename map[string]string) []ForeignKeyDef {
	var out []ForeignKeyDef
	for _, fk := range fkeys {
		mapped := make([]string, 0, len(fk.Columns))
		ok := true
		for _, col := range fk.Columns {
			dst, found := rename[col]
			if !found {
				ok = false
				break
			}
			mapped = append(mapped, dst)
		}
		if ok {
			kept := fk
			kept.Columns = mapped
			out = append(out, kept)
		}
	}
	return out
}

func cloneColumns(cols []ColumnDef) []ColumnDef {
	out := make([]ColumnDef, len(cols))
	copy(out, cols)
	return out
}

func cloneKeys(keys []KeyDef) []KeyDef {
	out := make([]KeyDef, len(keys))
	for i, k := range keys {
		k.UniqueColumns = append([]string(nil), k.UniqueColumns...)
		out[i] = k
	}
	return out
}

func cloneFKs(fkeys []ForeignKeyDef) []ForeignKeyDef {
	out := make([]ForeignKeyDef, len(fkeys))
	for i, fk := range fkeys {
		fk.Columns = append([]string(nil), fk.Columns...)
		fk.ToColumns = append([]string(nil), fk.ToColumns...)
		out[i] = fk
	}
	return out
}
