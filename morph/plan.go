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
	"strings"

	"github.com/pkg/errors"
)

// DefaultSampleLimit caps the rows surfaced per computed relation in a plan.
// It bounds what is displayed, not what is computed: matching and alignment
// always see the complete value population.
const DefaultSampleLimit = 10

// Planner resolves a relation expression DAG into concrete column
// descriptors and materialized rows. Each node is evaluated once per planner
// instance; shared sub-expressions hit the cache.
type Planner struct {
	backend Backend
	matcher *Matcher
	limit   int
	cache   map[*Relation]*evalResult
}

type evalResult struct {
	rows []Row
}

func NewPlanner(backend Backend, matcher *Matcher, sampleLimit int) *Planner {
	if matcher == nil {
		matcher = NewMatcher()
	}
	if sampleLimit <= 0 {
		sampleLimit = DefaultSampleLimit
	}
	return &Planner{
		backend: backend,
		matcher: matcher,
		limit:   sampleLimit,
		cache:   map[*Relation]*evalResult{},
	}
}

// Evaluation is the planner's resolved output for one relation: the schema
// used to physically create the target table, the full materialized rows,
// and the display sample.
type Evaluation struct {
	Columns     []ColumnDef
	Keys        []KeyDef
	ForeignKeys []ForeignKeyDef
	Sample      []Row

	rows []Row
}

// Rows returns the full materialized result, not just the sample.
func (e *Evaluation) Rows() []Row { return e.rows }

func (p *Planner) Evaluate(ctx context.Context, r *Relation) (*Evaluation, error) {
	res, err := p.eval(ctx, r)
	if err != nil {
		return nil, err
	}
	sample := res.rows
	if len(sample) > p.limit {
		sample = sample[:p.limit]
	}
	return &Evaluation{
		Columns:     r.Columns(),
		Keys:        r.Keys(),
		ForeignKeys: r.ForeignKeys(),
		Sample:      sample,
		rows:        res.rows,
	}, nil
}

func (p *Planner) eval(ctx context.Context, r *Relation) (*evalResult, error) {
	if res, ok := p.cache[r]; ok {
		return res, nil
	}
	rows, err := p.compute(ctx, r)
	if err != nil {
		return nil, err
	}
	res := &evalResult{rows: rows}
	p.cache[r] = res
	return res, nil
}

func (p *Planner) compute(ctx context.Context, r *Relation) ([]Row, error) {
	switch r.kind {
	case KindBase:
		return p.backend.Fetch(ctx, *r.base, 0)
	case KindSelect:
		return p.evalSelect(ctx, r)
	case KindWhere:
		return p.evalWhere(ctx, r)
	case KindJoin:
		return p.evalJoin(ctx, r)
	case KindUnion:
		return p.evalUnion(ctx, r)
	case KindDomain, KindVocabulary:
		return p.evalTerms(ctx, r)
	case KindAtoms:
		return p.evalAtoms(ctx, r)
	case KindReify:
		return p.evalReify(ctx, r)
	case KindReifySub:
		return p.evalReifySub(ctx, r)
	case KindAlign:
		return p.evalAlign(ctx, r)
	case KindTags:
		return p.evalTags(ctx, r)
	}
	return nil, errors.Errorf("unknown relation kind %d", int(r.kind))
}

func (p *Planner) evalSelect(ctx context.Context, r *Relation) ([]Row, error) {
	in, err := p.eval(ctx, r.inputs[0])
	if err != nil {
		return nil, err
	}
	out := make([]Row, 0, len(in.rows))
	for _, row := range in.rows {
		next := make(Row, len(r.projMap))
		for _, m := range r.projMap {
			next[m[1]] = row[m[0]]
		}
		out = append(out, next)
	}
	return out, nil
}

func (p *Planner) evalWhere(ctx context.Context, r *Relation) ([]Row, error) {
	in, err := p.eval(ctx, r.inputs[0])
	if err != nil {
		return nil, err
	}
	var out []Row
	for _, row := range in.rows {
		if r.pred.Match(row) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (p *Planner) evalJoin(ctx context.Context, r *Relation) ([]Row, error) {
	left, err := p.eval(ctx, r.inputs[0])
	if err != nil {
		return nil, err
	}
	right, err := p.eval(ctx, r.inputs[1])
	if err != nil {
		return nil, err
	}
	out := make([]Row, 0, len(left.rows)*len(right.rows))
	for _, lr := range left.rows {
		for _, rr := range right.rows {
			row := make(Row, len(lr)+len(rr))
			for k, v := range lr {
				row[k] = v
			}
			for k, v := range rr {
				row[k] = v
			}
			out = append(out, row)
		}
	}
	return out, nil
}

func (p *Planner) evalUnion(ctx context.Context, r *Relation) ([]Row, error) {
	left, err := p.eval(ctx, r.inputs[0])
	if err != nil {
		return nil, err
	}
	right, err := p.eval(ctx, r.inputs[1])
	if err != nil {
		return nil, err
	}
	rightCols := r.inputs[1].columns
	out := make([]Row, 0, len(left.rows)+len(right.rows))
	out = append(out, left.rows...)
	// right rows take the left side's column names, positionally
	for _, row := range right.rows {
		next := make(Row, len(r.columns))
		for i, col := range r.columns {
			next[col.Name] = row[rightCols[i].Name]
		}
		out = append(out, next)
	}
	return out, nil
}

// evalTerms materializes to_domain / to_vocabulary. The complete distinct
// value population of the driving column is fetched so matching never splits
// a term between dry run and commit.
func (p *Planner) evalTerms(ctx context.Context, r *Relation) ([]Row, error) {
	values, err := p.distinctValues(ctx, r.inputs[0], r.column)
	if err != nil {
		return nil, err
	}
	terms := p.matcher.Match(values)
	out := make([]Row, 0, len(terms))
	for _, t := range terms {
		row := Row{"name": t.Name}
		if r.kind == KindVocabulary {
			row["synonyms"] = t.Synonyms
		}
		out = append(out, row)
	}
	return out, nil
}

func (p *Planner) distinctValues(ctx context.Context, r *Relation, column string) ([]string, error) {
	if r.kind == KindBase {
		return p.backend.FetchDistinct(ctx, ColumnRef{Schema: r.base.Schema, Table: r.base.Table, Column: column})
	}
	in, err := p.eval(ctx, r)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var values []string
	for _, row := range in.rows {
		v := row[column]
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

func (p *Planner) evalAtoms(ctx context.Context, r *Relation) ([]Row, error) {
	in, err := p.eval(ctx, r.inputs[0])
	if err != nil {
		return nil, err
	}
	return atomizeRows(in.rows, r.keyCols, r.column, r.delim), nil
}

func atomizeRows(rows []Row, keyCols []string, column, delim string) []Row {
	var out []Row
	for _, row := range rows {
		v := row[column]
		if v == nil {
			continue
		}
		for _, part := range strings.Split(stringValue(v), delim) {
			atom := strings.TrimSpace(part)
			if atom == "" {
				continue
			}
			next := make(Row, len(keyCols)+1)
			for _, k := range keyCols {
				next[k] = row[k]
			}
			next[column] = atom
			out = append(out, next)
		}
	}
	return out
}

func (p *Planner) evalReify(ctx context.Context, r *Relation) ([]Row, error) {
	in, err := p.eval(ctx, r.inputs[0])
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []Row
	for _, row := range in.rows {
		key := tupleKey(row, r.keyCols)
		if seen[key] {
			continue
		}
		seen[key] = true
		next := make(Row, len(r.keyCols)+len(r.valCols))
		for _, k := range r.keyCols {
			next[k] = row[k]
		}
		for _, v := range r.valCols {
			next[v] = row[v]
		}
		out = append(out, next)
	}
	return out, nil
}

func (p *Planner) evalReifySub(ctx context.Context, r *Relation) ([]Row, error) {
	in, err := p.eval(ctx, r.inputs[0])
	if err != nil {
		return nil, err
	}
	out := make([]Row, 0, len(in.rows))
	for _, row := range in.rows {
		next := make(Row, len(r.columns))
		for _, col := range r.columns {
			next[col.Name] = row[col.Name]
		}
		out = append(out, next)
	}
	return out, nil
}

func (p *Planner) evalAlign(ctx context.Context, r *Relation) ([]Row, error) {
	in, err := p.eval(ctx, r.inputs[0])
	if err != nil {
		return nil, err
	}
	lookup, refRes, err := p.refLookup(ctx, r.ref)
	if err != nil {
		return nil, err
	}
	out := make([]Row, 0, len(in.rows))
	for _, row := range in.rows {
		name, err := p.alignValue(row[r.column], r, lookup, refRes)
		if err != nil {
			return nil, err
		}
		next := make(Row, len(row))
		for k, v := range row {
			next[k] = v
		}
		next[r.column] = name
		out = append(out, next)
	}
	return out, nil
}

func (p *Planner) evalTags(ctx context.Context, r *Relation) ([]Row, error) {
	in, err := p.eval(ctx, r.inputs[0])
	if err != nil {
		return nil, err
	}
	lookup, refRes, err := p.refLookup(ctx, r.ref)
	if err != nil {
		return nil, err
	}
	atoms := atomizeRows(in.rows, r.keyCols, r.column, r.delim)
	out := make([]Row, 0, len(atoms))
	for _, row := range atoms {
		name, err := p.alignValue(row[r.column], r, lookup, refRes)
		if err != nil {
			return nil, err
		}
		row[r.column] = name
		out = append(out, row)
	}
	return out, nil
}

// refLookup indexes a reference relation: every canonical name maps to
// itself, every synonym maps to its canonical name. First entry wins so
// overlapping vocabularies resolve deterministically.
func (p *Planner) refLookup(ctx context.Context, ref *Relation) (map[string]string, *evalResult, error) {
	res, err := p.eval(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	lookup := map[string]string{}
	for _, row := range res.rows {
		name := stringValue(row["name"])
		if _, ok := lookup[name]; !ok {
			lookup[name] = name
		}
		for _, syn := range synonymList(row["synonyms"]) {
			if _, ok := lookup[syn]; !ok {
				lookup[syn] = name
			}
		}
	}
	return lookup, res, nil
}

func (p *Planner) alignValue(v interface{}, r *Relation, lookup map[string]string, refRes *evalResult) (string, error) {
	s := stringValue(v)
	if name, ok := lookup[s]; ok {
		return name, nil
	}
	if r.policy == AlignAddUnmatched {
		lookup[s] = s
		term := Row{"name": s}
		if r.ref.columnDef("synonyms") != nil {
			term["synonyms"] = []string{}
		}
		refRes.rows = append(refRes.rows, term)
		return s, nil
	}
	return "", &AlignmentError{Column: r.column, Value: s}
}

func synonymList(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			out = append(out, stringValue(item))
		}
		return out
	}
	return nil
}

func tupleKey(row Row, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = stringValue(row[c])
	}
	return strings.Join(parts, "\x00")
}

// Plan is the human-readable execution plan produced when an evolution
// context closes: the ordered intents plus, for each computed relation, its
// resolved columns and a bounded row sample.
type Plan struct {
	Steps []PlanStep
}

type PlanStep struct {
	Intent  Intent
	Columns []ColumnDef
	Sample  []Row
}
