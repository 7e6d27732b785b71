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
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, b *fakeBackend) *Catalog {
	t.Helper()
	cat, err := Connect(context.Background(), b, &Options{Diagnostics: &bytes.Buffer{}})
	require.NoError(t, err)
	return cat
}

func TestGuardsCheckedAtEnqueue(t *testing.T) {
	b := seededBackend()
	cat := connect(t, b)
	e, err := cat.Evolve(EvolveOptions{AllowAlter: false, AllowDrop: false})
	require.NoError(t, err)

	schema, err := cat.Schema("public")
	require.NoError(t, err)

	var gerr *GuardError
	err = schema.DropTable(context.Background(), "review")
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "allow_drop", gerr.Guard)

	err = schema.RenameTable(context.Background(), "review", "critique")
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "allow_alter", gerr.Guard)

	// a rejected intent leaves the queue unchanged
	assert.Empty(t, e.Pending())
	assert.Empty(t, b.applied)
	require.NoError(t, e.Abort())
}

func TestAbortDiscardsQueue(t *testing.T) {
	b := seededBackend()
	cat := connect(t, b)
	e, err := cat.Evolve(EvolveOptions{AllowAlter: true, AllowDrop: true})
	require.NoError(t, err)

	schema, err := cat.Schema("public")
	require.NoError(t, err)
	require.NoError(t, schema.DropTable(context.Background(), "review"))
	require.Len(t, e.Pending(), 1)

	require.NoError(t, e.Abort())
	assert.Equal(t, StateAborted, e.State())
	assert.Empty(t, b.applied)

	// the facade still reflects the pre-context model
	_, err = schema.Table("review")
	assert.NoError(t, err)
}

func TestClosedContextRejectsFurtherUse(t *testing.T) {
	b := seededBackend()
	cat := connect(t, b)
	e, err := cat.Evolve(EvolveOptions{})
	require.NoError(t, err)
	require.NoError(t, e.Close(context.Background()))

	var cerr *ClosedContextError
	err = e.Enqueue(&CreateSchema{Schema: "x"})
	require.ErrorAs(t, err, &cerr)

	// close and abort are idempotent after close
	assert.NoError(t, e.Close(context.Background()))
	assert.NoError(t, e.Abort())
}

func TestSingleContextPerCatalog(t *testing.T) {
	b := seededBackend()
	cat := connect(t, b)
	e, err := cat.Evolve(EvolveOptions{})
	require.NoError(t, err)
	_, err = cat.Evolve(EvolveOptions{})
	require.Error(t, err)
	require.NoError(t, e.Abort())

	// a closed context frees the slot
	_, err = cat.Evolve(EvolveOptions{})
	require.NoError(t, err)
}

func TestDryRunNeverMutates(t *testing.T) {
	b := seededBackend()
	var out bytes.Buffer
	cat, err := Connect(context.Background(), b, &Options{Diagnostics: &out})
	require.NoError(t, err)

	e, err := cat.Evolve(EvolveOptions{DryRun: true, AllowAlter: true, AllowDrop: true})
	require.NoError(t, err)

	schema, err := cat.Schema("public")
	require.NoError(t, err)
	table, err := schema.Table("review")
	require.NoError(t, err)
	base, err := table.Base()
	require.NoError(t, err)
	d, err := base.ToDomain("genres")
	require.NoError(t, err)
	require.NoError(t, schema.SetTable(context.Background(), "genre", d))
	require.NoError(t, schema.DropTable(context.Background(), "review"))

	require.NoError(t, e.Close(context.Background()))
	assert.Equal(t, StateDryRunCompleted, e.State())
	assert.Empty(t, b.applied)

	// the plan was rendered with both steps
	rendered := out.String()
	assert.Contains(t, rendered, "plan: 2 step(s)")
	assert.Contains(t, rendered, "create table 'public:genre'")
	assert.Contains(t, rendered, "drop table 'public:review'")

	plan := e.Plan()
	require.NotNil(t, plan)
	require.Len(t, plan.Steps, 2)
	assert.NotEmpty(t, plan.Steps[0].Columns)
}

func TestCommitResolvesBeforeApplying(t *testing.T) {
	b := seededBackend()
	cat := connect(t, b)
	e, err := cat.Evolve(EvolveOptions{AllowAlter: true, AllowDrop: true})
	require.NoError(t, err)

	schema, err := cat.Schema("public")
	require.NoError(t, err)
	table, err := schema.Table("review")
	require.NoError(t, err)
	base, err := table.Base()
	require.NoError(t, err)
	v, err := base.ToVocabulary("genres")
	require.NoError(t, err)
	require.NoError(t, schema.SetTable(context.Background(), "genre", v))

	require.NoError(t, e.Close(context.Background()))
	assert.Equal(t, StateCommitted, e.State())
	require.Len(t, b.applied, 1)

	cta, ok := b.applied[0].(*CreateTableAs)
	require.True(t, ok)
	def, rows := cta.Resolved()
	require.NotNil(t, def)
	assert.Equal(t, "genre", def.TableName)
	assert.Equal(t, "public", def.SchemaName)
	assert.NotEmpty(t, rows)

	// the facade sees the committed table after refresh
	_, err = schema.Table("genre")
	assert.NoError(t, err)
}

func TestCommitPartialFailure(t *testing.T) {
	b := seededBackend()
	b.addTable("public", TableDef{
		TableName: "stale",
		Columns:   []ColumnDef{{Name: "x", Type: "text"}},
	}, nil)
	cat := connect(t, b)

	boom := errors.New("server said no")
	b.failOn = func(in Intent) error {
		if dt, ok := in.(*DropTable); ok && dt.Table == "stale" {
			return boom
		}
		return nil
	}

	e, err := cat.Evolve(EvolveOptions{AllowAlter: true, AllowDrop: true})
	require.NoError(t, err)
	schema, err := cat.Schema("public")
	require.NoError(t, err)
	require.NoError(t, cat.CreateSchema(context.Background(), "archive"))
	require.NoError(t, schema.DropTable(context.Background(), "stale"))
	require.NoError(t, schema.DropTable(context.Background(), "review"))

	err = e.Close(context.Background())
	var cerr *CommitError
	require.ErrorAs(t, err, &cerr)
	require.Len(t, cerr.Applied, 1)
	assert.Equal(t, "drop table 'public:stale'", cerr.Failed.Describe())
	require.Len(t, cerr.Remaining, 1)
	assert.ErrorIs(t, err, boom)

	// the first intent took effect, the rest never ran
	require.Len(t, b.applied, 1)
	_, err = cat.Schema("archive")
	assert.NoError(t, err)
	_, err = schema.Table("review")
	assert.NoError(t, err)
}

func TestResolutionErrorAbortsWithoutRemoteCalls(t *testing.T) {
	b := seededBackend()
	b.addTable("public", TableDef{
		TableName: "genre",
		Columns: []ColumnDef{
			{Name: "name", Type: "text"},
			{Name: "synonyms", Type: "text[]"},
		},
	}, []Row{{"name": "drama", "synonyms": []string{}}})
	cat := connect(t, b)

	e, err := cat.Evolve(EvolveOptions{AllowAlter: true, AllowDrop: true})
	require.NoError(t, err)
	schema, err := cat.Schema("public")
	require.NoError(t, err)
	table, err := schema.Table("review")
	require.NoError(t, err)
	base, err := table.Base()
	require.NoError(t, err)
	ref, err := schema.Table("genre")
	require.NoError(t, err)
	refBase, err := ref.Base()
	require.NoError(t, err)
	tags, err := base.ToTags("genres", refBase, ",", AlignStrict)
	require.NoError(t, err)
	require.NoError(t, schema.SetTable(context.Background(), "review_genre", tags))

	err = e.Close(context.Background())
	var aerr *AlignmentError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, StateAborted, e.State())
	assert.Empty(t, b.applied)
}

func TestAutocommitOpensOneShotContext(t *testing.T) {
	b := seededBackend()
	cat := connect(t, b)
	schema, err := cat.Schema("public")
	require.NoError(t, err)

	require.NoError(t, schema.DropTable(context.Background(), "review"))
	require.Len(t, b.applied, 1)

	// no context left open
	_, err = cat.Evolve(EvolveOptions{})
	require.NoError(t, err)
}

func TestWithEvolveAbortsOnError(t *testing.T) {
	b := seededBackend()
	cat := connect(t, b)
	boom := errors.New("nope")
	err := cat.WithEvolve(context.Background(), EvolveOptions{AllowDrop: true}, func(e *EvolveContext) error {
		schema, err := cat.Schema("public")
		if err != nil {
			return err
		}
		if err := schema.DropTable(context.Background(), "review"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, b.applied)

	_, err = cat.Evolve(EvolveOptions{})
	require.NoError(t, err)
}

func TestWithEvolveCommits(t *testing.T) {
	b := seededBackend()
	cat := connect(t, b)
	err := cat.WithEvolve(context.Background(), EvolveOptions{AllowAlter: true}, func(e *EvolveContext) error {
		schema, err := cat.Schema("public")
		if err != nil {
			return err
		}
		table, err := schema.Table("review")
		if err != nil {
			return err
		}
		return table.RenameColumn(context.Background(), "genres", "genre_list")
	})
	require.NoError(t, err)
	require.Len(t, b.applied, 1)

	schema, err := cat.Schema("public")
	require.NoError(t, err)
	table, err := schema.Table("review")
	require.NoError(t, err)
	names := make([]string, 0)
	for _, col := range table.Def().Columns {
		names = append(names, col.Name)
	}
	assert.Contains(t, names, "genre_list")
}

func TestDroppedTableHandleInvalidated(t *testing.T) {
	b := seededBackend()
	cat := connect(t, b)
	schema, err := cat.Schema("public")
	require.NoError(t, err)
	table, err := schema.Table("review")
	require.NoError(t, err)

	require.NoError(t, schema.DropTable(context.Background(), "review"))

	_, err = table.Base()
	var serr *SchemaError
	require.ErrorAs(t, err, &serr)
	assert.True(t, strings.Contains(err.Error(), "no longer exists"))
}

func TestBatchResolvesForeignKeyToAssignedRelation(t *testing.T) {
	b := seededBackend()
	cat := connect(t, b)

	e, err := cat.Evolve(EvolveOptions{AllowAlter: true, AllowDrop: true})
	require.NoError(t, err)
	schema, err := cat.Schema("public")
	require.NoError(t, err)
	table, err := schema.Table("review")
	require.NoError(t, err)
	base, err := table.Base()
	require.NoError(t, err)

	atoms, err := base.ToAtoms("genres", ",")
	require.NoError(t, err)
	vocab, err := atoms.ToVocabulary("genres")
	require.NoError(t, err)
	tags, err := base.ToTags("genres", vocab, ",", AlignStrict)
	require.NoError(t, err)

	require.NoError(t, schema.SetTable(context.Background(), "genre", vocab))
	require.NoError(t, schema.SetTable(context.Background(), "review_genre", tags))
	require.NoError(t, e.Close(context.Background()))

	require.Len(t, b.applied, 2)
	cta := b.applied[1].(*CreateTableAs)
	def, _ := cta.Resolved()
	require.NotNil(t, def)

	var toGenre bool
	for _, fk := range def.ForeignKeys {
		if fk.ToTable == "genre" && fk.ToSchema == "public" {
			toGenre = true
			assert.Equal(t, []string{"genres"}, fk.Columns)
			assert.Equal(t, []string{"name"}, fk.ToColumns)
		}
	}
	assert.True(t, toGenre, "tag table should reference the assigned vocabulary")
}
