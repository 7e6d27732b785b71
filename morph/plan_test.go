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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateBase(t *testing.T) {
	b := seededBackend()
	p := NewPlanner(b, nil, 0)
	ev, err := p.Evaluate(context.Background(), BaseRelation(reviewDef()))
	require.NoError(t, err)
	assert.Len(t, ev.Rows(), 4)
	assert.Len(t, ev.Sample, 4)
}

func TestEvaluateSelectAndWhere(t *testing.T) {
	b := seededBackend()
	p := NewPlanner(b, nil, 0)
	base := BaseRelation(reviewDef())

	w, err := base.Where(Ge("rating", 4))
	require.NoError(t, err)
	sel, err := w.Select(Col("id"), Alias("title", "name"))
	require.NoError(t, err)

	ev, err := p.Evaluate(context.Background(), sel)
	require.NoError(t, err)
	require.Len(t, ev.Rows(), 2)
	assert.Equal(t, Row{"id": 1, "name": "Alpha"}, ev.Rows()[0])
	assert.Equal(t, Row{"id": 3, "name": "Gamma"}, ev.Rows()[1])
}

func TestEvaluateJoinIsCrossProduct(t *testing.T) {
	b := seededBackend()
	b.addTable("public", TableDef{
		TableName: "site",
		Columns:   []ColumnDef{{Name: "site", Type: "text"}},
	}, []Row{{"site": "east"}, {"site": "west"}})

	p := NewPlanner(b, nil, 0)
	base := BaseRelation(reviewDef())
	sites := BaseRelation(TableDef{
		SchemaName: "public",
		TableName:  "site",
		Columns:    []ColumnDef{{Name: "site", Type: "text"}},
	})
	j, err := base.Join(sites)
	require.NoError(t, err)

	ev, err := p.Evaluate(context.Background(), j)
	require.NoError(t, err)
	assert.Len(t, ev.Rows(), 8)
	assert.Equal(t, "east", ev.Rows()[0]["site"])
	assert.Equal(t, 1, ev.Rows()[0]["id"])
}

func TestEvaluateUnionKeepsDuplicates(t *testing.T) {
	b := seededBackend()
	p := NewPlanner(b, nil, 0)
	base := BaseRelation(reviewDef())
	u, err := base.Union(base.Clone())
	require.NoError(t, err)

	ev, err := p.Evaluate(context.Background(), u)
	require.NoError(t, err)
	assert.Len(t, ev.Rows(), 8)
}

func TestEvaluateAtoms(t *testing.T) {
	b := seededBackend()
	p := NewPlanner(b, nil, 0)
	base := BaseRelation(reviewDef())
	a, err := base.ToAtoms("genres", ",")
	require.NoError(t, err)

	ev, err := p.Evaluate(context.Background(), a)
	require.NoError(t, err)
	// row 3 has an empty atom that is skipped, row 4 is null
	require.Len(t, ev.Rows(), 5)
	assert.Equal(t, Row{"id": 1, "genres": "drama"}, ev.Rows()[0])
	assert.Equal(t, Row{"id": 1, "genres": "comedy"}, ev.Rows()[1])
	assert.Equal(t, Row{"id": 2, "genres": "drama"}, ev.Rows()[2])
	assert.Equal(t, Row{"id": 3, "genres": "comedy"}, ev.Rows()[3])
	assert.Equal(t, Row{"id": 3, "genres": "thriller"}, ev.Rows()[4])
}

func TestEvaluateDomain(t *testing.T) {
	b := seededBackend()
	b.addTable("public", TableDef{
		TableName: "color",
		Columns:   []ColumnDef{{Name: "c", Type: "text"}},
	}, []Row{{"c": "red"}, {"c": "redd"}, {"c": "blue"}, {"c": nil}})

	p := NewPlanner(b, nil, 0)
	base := BaseRelation(TableDef{
		SchemaName: "public",
		TableName:  "color",
		Columns:    []ColumnDef{{Name: "c", Type: "text"}},
	})
	d, err := base.ToDomain("c")
	require.NoError(t, err)

	ev, err := p.Evaluate(context.Background(), d)
	require.NoError(t, err)
	require.Len(t, ev.Rows(), 2)
	assert.Equal(t, Row{"name": "red"}, ev.Rows()[0])
	assert.Equal(t, Row{"name": "blue"}, ev.Rows()[1])
}

func TestEvaluateVocabularyCarriesSynonyms(t *testing.T) {
	b := seededBackend()
	b.addTable("public", TableDef{
		TableName: "color",
		Columns:   []ColumnDef{{Name: "c", Type: "text"}},
	}, []Row{{"c": "red"}, {"c": "redd"}, {"c": "blue"}})

	p := NewPlanner(b, nil, 0)
	base := BaseRelation(TableDef{
		SchemaName: "public",
		TableName:  "color",
		Columns:    []ColumnDef{{Name: "c", Type: "text"}},
	})
	v, err := base.ToVocabulary("c")
	require.NoError(t, err)

	ev, err := p.Evaluate(context.Background(), v)
	require.NoError(t, err)
	require.Len(t, ev.Rows(), 2)
	assert.Equal(t, Row{"name": "red", "synonyms": []string{"redd"}}, ev.Rows()[0])
	assert.Equal(t, Row{"name": "blue", "synonyms": []string{}}, ev.Rows()[1])
}

func TestEvaluateReifyFirstSeenWins(t *testing.T) {
	b := newFakeBackend()
	def := TableDef{
		SchemaName: "public",
		TableName:  "obs",
		Columns: []ColumnDef{
			{Name: "k", Type: "int8"},
			{Name: "a", Type: "text"},
			{Name: "b", Type: "text"},
		},
	}
	b.addTable("public", def, []Row{
		{"k": 1, "a": "x", "b": "p"},
		{"k": 1, "a": "y", "b": "q"},
		{"k": 2, "a": "z", "b": "r"},
	})

	p := NewPlanner(b, nil, 0)
	r, err := BaseRelation(def).Reify([]string{"k"}, []string{"a", "b"})
	require.NoError(t, err)

	ev, err := p.Evaluate(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, ev.Rows(), 2)
	assert.Equal(t, Row{"k": 1, "a": "x", "b": "p"}, ev.Rows()[0])
	assert.Equal(t, Row{"k": 2, "a": "z", "b": "r"}, ev.Rows()[1])
}

func TestEvaluateReifySub(t *testing.T) {
	b := seededBackend()
	p := NewPlanner(b, nil, 0)
	r, err := BaseRelation(reviewDef()).ReifySub("rating")
	require.NoError(t, err)

	ev, err := p.Evaluate(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, ev.Rows(), 4)
	assert.Equal(t, Row{"id": 1, "rating": 4}, ev.Rows()[0])
}

func genreRef() *Relation {
	return BaseRelation(TableDef{
		SchemaName: "public",
		TableName:  "genre",
		Columns: []ColumnDef{
			{Name: "name", Type: "text"},
			{Name: "synonyms", Type: "text[]", NullOK: true},
		},
		Keys: []KeyDef{{UniqueColumns: []string{"name"}}},
	})
}

func TestEvaluateAlignStrict(t *testing.T) {
	b := seededBackend()
	b.addTable("public", TableDef{
		TableName: "genre",
		Columns: []ColumnDef{
			{Name: "name", Type: "text"},
			{Name: "synonyms", Type: "text[]"},
		},
	}, []Row{
		{"name": "drama", "synonyms": []string{"dramas"}},
	})

	p := NewPlanner(b, nil, 0)
	base := BaseRelation(reviewDef())
	narrowed, err := base.Select(Col("id"), Col("genres"))
	require.NoError(t, err)
	only, err := narrowed.Where(Eq("genres", "drama"))
	require.NoError(t, err)
	aligned, err := only.Align("genres", genreRef(), AlignStrict)
	require.NoError(t, err)

	ev, err := p.Evaluate(context.Background(), aligned)
	require.NoError(t, err)
	require.Len(t, ev.Rows(), 1)
	assert.Equal(t, "drama", ev.Rows()[0]["genres"])
}

func TestEvaluateAlignSynonymMapsToCanonical(t *testing.T) {
	b := newFakeBackend()
	def := TableDef{
		SchemaName: "public",
		TableName:  "obs",
		Columns: []ColumnDef{
			{Name: "k", Type: "int8"},
			{Name: "v", Type: "text"},
		},
		Keys: []KeyDef{{UniqueColumns: []string{"k"}}},
	}
	b.addTable("public", def, []Row{
		{"k": 1, "v": "a"},
		{"k": 2, "v": "bb"},
		{"k": 3, "v": "a"},
	})
	b.addTable("public", TableDef{
		TableName: "term",
		Columns: []ColumnDef{
			{Name: "name", Type: "text"},
			{Name: "synonyms", Type: "text[]"},
		},
	}, []Row{
		{"name": "alpha", "synonyms": []string{"a"}},
		{"name": "beta", "synonyms": []string{"bb"}},
	})
	ref := BaseRelation(TableDef{
		SchemaName: "public",
		TableName:  "term",
		Columns: []ColumnDef{
			{Name: "name", Type: "text"},
			{Name: "synonyms", Type: "text[]", NullOK: true},
		},
	})

	p := NewPlanner(b, nil, 0)
	aligned, err := BaseRelation(def).Align("v", ref, AlignStrict)
	require.NoError(t, err)

	ev, err := p.Evaluate(context.Background(), aligned)
	require.NoError(t, err)
	require.Len(t, ev.Rows(), 3)
	assert.Equal(t, "alpha", ev.Rows()[0]["v"])
	assert.Equal(t, "beta", ev.Rows()[1]["v"])
	assert.Equal(t, "alpha", ev.Rows()[2]["v"])
}

func TestEvaluateAlignStrictMissFails(t *testing.T) {
	b := seededBackend()
	b.addTable("public", TableDef{
		TableName: "genre",
		Columns: []ColumnDef{
			{Name: "name", Type: "text"},
			{Name: "synonyms", Type: "text[]"},
		},
	}, []Row{{"name": "drama", "synonyms": []string{}}})

	p := NewPlanner(b, nil, 0)
	base := BaseRelation(reviewDef())
	tags, err := base.ToTags("genres", genreRef(), ",", AlignStrict)
	require.NoError(t, err)

	_, err = p.Evaluate(context.Background(), tags)
	var aerr *AlignmentError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "comedy", aerr.Value)
}

func TestEvaluateTagsAddUnmatched(t *testing.T) {
	b := seededBackend()
	b.addTable("public", TableDef{
		TableName: "genre",
		Columns: []ColumnDef{
			{Name: "name", Type: "text"},
			{Name: "synonyms", Type: "text[]"},
		},
	}, []Row{{"name": "drama", "synonyms": []string{}}})

	p := NewPlanner(b, nil, 0)
	base := BaseRelation(reviewDef())
	ref := genreRef()
	tags, err := base.ToTags("genres", ref, ",", AlignAddUnmatched)
	require.NoError(t, err)

	ev, err := p.Evaluate(context.Background(), tags)
	require.NoError(t, err)
	require.Len(t, ev.Rows(), 5)
	assert.Equal(t, Row{"id": 1, "genres": "drama"}, ev.Rows()[0])
	assert.Equal(t, Row{"id": 1, "genres": "comedy"}, ev.Rows()[1])

	// unmatched atoms were added to the reference relation's result
	refEv, err := p.Evaluate(context.Background(), ref)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, row := range refEv.Rows() {
		names[stringValue(row["name"])] = true
	}
	assert.True(t, names["drama"])
	assert.True(t, names["comedy"])
	assert.True(t, names["thriller"])
}

func TestEvaluateCachesSharedSubexpressions(t *testing.T) {
	b := seededBackend()
	p := NewPlanner(b, nil, 0)
	base := BaseRelation(reviewDef())
	u, err := base.Union(base)
	require.NoError(t, err)

	_, err = p.Evaluate(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, 1, b.fetches)
}

func TestSampleLimitBoundsDisplayNotComputation(t *testing.T) {
	b := seededBackend()
	p := NewPlanner(b, nil, 2)
	ev, err := p.Evaluate(context.Background(), BaseRelation(reviewDef()))
	require.NoError(t, err)
	assert.Len(t, ev.Sample, 2)
	assert.Len(t, ev.Rows(), 4)
}
