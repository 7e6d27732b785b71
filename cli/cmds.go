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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"morph/morph"
)

func fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	os.Exit(1)
}

func readFile(fname string) (string, error) {
	data, err := os.ReadFile(fname)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Represents the state used when processing a command.
type Action struct {
	cmd     *cobra.Command
	quiet   bool
	client  *morph.Client
	catalog *morph.Catalog
	logger  *zap.Logger
	start   time.Time
}

func newAction(cmd *cobra.Command) *Action {
	result := &Action{cmd: cmd, start: time.Now()}
	result.quiet = result.getBool("quiet")
	if result.getBool("verbose") {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fatal("%s", err)
		}
		result.logger = logger
	} else {
		result.logger = zap.NewNop()
	}
	return result
}

func (a *Action) Context() context.Context {
	return a.cmd.Context()
}

func (a *Action) getBool(name string) bool {
	result, _ := a.cmd.Flags().GetBool(name)
	return result
}

func (a *Action) getInt(name string) int {
	result, _ := a.cmd.Flags().GetInt(name)
	return result
}

func (a *Action) getString(name string) string {
	result, _ := a.cmd.Flags().GetString(name)
	return result
}

func (a *Action) getStringArray(name string) []string {
	result, _ := a.cmd.Flags().GetStringArray(name)
	return result
}

func (a *Action) loadConfig() *morph.Config {
	var cfg morph.Config
	fname := a.getString("config")
	profile := a.getString("profile")
	if err := morph.LoadConfigFile(fname, profile, &cfg); err != nil {
		fmt.Printf("\n%s\n", strings.TrimRight(err.Error(), "\r\n"))
	}
	if host := a.getString("host"); host != "" {
		cfg.Host = host
	}
	if port := a.getString("port"); port != "" {
		cfg.Port = port
	}
	if catalog := a.getString("catalog"); catalog != "" {
		cfg.Catalog = catalog
	}
	return &cfg
}

func (a *Action) Client() *morph.Client {
	if a.client == nil {
		cfg := a.loadConfig()
		a.client = morph.NewClient(morph.NewClientOptions(cfg))
	}
	return a.client
}

func (a *Action) Catalog() (*morph.Catalog, error) {
	if a.catalog == nil {
		// the plan is shown by Exit; keep the library's dry-run sink quiet
		cat, err := morph.Connect(a.Context(), a.Client(), &morph.Options{Logger: a.logger, Diagnostics: io.Discard})
		if err != nil {
			return nil, err
		}
		a.catalog = cat
	}
	return a.catalog, nil
}

func (a *Action) evolveOpts() morph.EvolveOptions {
	return morph.EvolveOptions{
		DryRun:     a.getBool("dry-run"),
		AllowAlter: a.getBool("allow-alter"),
		AllowDrop:  a.getBool("allow-drop"),
	}
}

// evolve runs fn inside an evolution context configured from the command's
// guard flags and returns the resolved plan.
func (a *Action) evolve(fn func(ctx context.Context, cat *morph.Catalog, e *morph.EvolveContext) error) (*morph.Plan, error) {
	cat, err := a.Catalog()
	if err != nil {
		return nil, err
	}
	var e *morph.EvolveContext
	err = cat.WithEvolve(a.Context(), a.evolveOpts(), func(ectx *morph.EvolveContext) error {
		e = ectx
		return fn(a.Context(), cat, ectx)
	})
	if err != nil {
		return nil, err
	}
	return e.Plan(), nil
}

func isNil(v interface{}) bool {
	switch v.(type) {
	case string:
		return false
	}
	return v == nil || reflect.ValueOf(v).IsNil()
}

func rtrimEol(value string) string {
	return strings.TrimRight(value, "\r\n")
}

func showJSON(v interface{}) {
	e := json.NewEncoder(os.Stdout)
	e.SetIndent("", "  ")
	e.Encode(v)
}

func (a *Action) showValue(v interface{}) {
	switch vv := v.(type) {
	case string:
		fmt.Println(rtrimEol(vv))
	case []string:
		for _, s := range vv {
			fmt.Println(s)
		}
	default:
		if isNil(v) {
			return
		}
		switch a.getString("format") {
		case "pretty":
			if s, ok := v.(morph.Showable); ok {
				s.Show()
				return
			}
		case "json":
			break // default
		}
		showJSON(v)
	}
}

func (a *Action) Append(format string, args ...interface{}) *Action {
	if a.quiet {
		return a
	}
	fmt.Printf(format, args...)
	return a
}

// Show the action banner message.
func (a *Action) Start(format string, args ...interface{}) *Action {
	if a.quiet {
		return a
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Printf("%s .. ", msg)
	return a
}

// Update the action banner and exit.
func (a *Action) Exit(result interface{}, err error) {
	delta := time.Since(a.start).Seconds()
	if err != nil {
		a.Append("(%.1fs)\n%s\n", delta, rtrimEol(err.Error()))
		os.Exit(1)
	}
	a.Append("Ok (%.1fs)\n", delta)
	a.showValue(result)
	os.Exit(0)
}

//
// Model
//

func listSchemas(cmd *cobra.Command, args []string) {
	action := newAction(cmd)
	action.Start("List schemas")
	cat, err := action.Catalog()
	if err != nil {
		action.Exit(nil, err)
	}
	action.Exit(cat.Schemas(), nil)
}

func listTables(cmd *cobra.Command, args []string) {
	action := newAction(cmd)
	action.Start("List tables in '%s'", args[0])
	cat, err := action.Catalog()
	if err != nil {
		action.Exit(nil, err)
	}
	schema, err := cat.Schema(args[0])
	if err != nil {
		action.Exit(nil, err)
	}
	action.Exit(schema.Tables(), nil)
}

func getTable(cmd *cobra.Command, args []string) {
	action := newAction(cmd)
	action.Start("Get table '%s:%s'", args[0], args[1])
	table, err := action.table(args[0], args[1])
	if err != nil {
		action.Exit(nil, err)
	}
	action.Exit(table.Def(), nil)
}

func (a *Action) table(schema, table string) (*morph.Table, error) {
	cat, err := a.Catalog()
	if err != nil {
		return nil, err
	}
	s, err := cat.Schema(schema)
	if err != nil {
		return nil, err
	}
	return s.Table(table)
}

func createSchema(cmd *cobra.Command, args []string) {
	action := newAction(cmd)
	name := args[0]
	action.Start("Create schema '%s'", name)
	plan, err := action.evolve(func(ctx context.Context, cat *morph.Catalog, e *morph.EvolveContext) error {
		return cat.CreateSchema(ctx, name)
	})
	action.Exit(plan, err)
}

//
// Tables
//

func createTable(cmd *cobra.Command, args []string) {
	action := newAction(cmd)
	source, err := readFile(args[1])
	if err != nil {
		action.Exit(nil, err)
	}
	var def morph.TableDef
	if err := json.Unmarshal([]byte(source), &def); err != nil {
		action.Exit(nil, err)
	}
	action.Start("Create table '%s:%s'", args[0], def.TableName)
	plan, err := action.evolve(func(ctx context.Context, cat *morph.Catalog, e *morph.EvolveContext) error {
		schema, err := cat.Schema(args[0])
		if err != nil {
			return err
		}
		return schema.CreateTable(ctx, def)
	})
	action.Exit(plan, err)
}

func dropTable(cmd *cobra.Command, args []string) {
	action := newAction(cmd)
	action.Start("Drop table '%s:%s'", args[0], args[1])
	plan, err := action.evolve(func(ctx context.Context, cat *morph.Catalog, e *morph.EvolveContext) error {
		schema, err := cat.Schema(args[0])
		if err != nil {
			return err
		}
		return schema.DropTable(ctx, args[1])
	})
	action.Exit(plan, err)
}

func renameTable(cmd *cobra.Command, args []string) {
	action := newAction(cmd)
	action.Start("Rename table '%s:%s' to '%s'", args[0], args[1], args[2])
	plan, err := action.evolve(func(ctx context.Context, cat *morph.Catalog, e *morph.EvolveContext) error {
		schema, err := cat.Schema(args[0])
		if err != nil {
			return err
		}
		return schema.RenameTable(ctx, args[1], args[2])
	})
	action.Exit(plan, err)
}

func moveTable(cmd *cobra.Command, args []string) {
	action := newAction(cmd)
	action.Start("Move table '%s:%s' to '%s'", args[0], args[1], args[2])
	plan, err := action.evolve(func(ctx context.Context, cat *morph.Catalog, e *morph.EvolveContext) error {
		schema, err := cat.Schema(args[0])
		if err != nil {
			return err
		}
		return schema.MoveTable(ctx, args[1], args[2])
	})
	action.Exit(plan, err)
}

//
// Columns
//

func addColumn(cmd *cobra.Command, args []string) {
	action := newAction(cmd)
	def := morph.ColumnDef{
		Name:    args[2],
		Type:    args[3],
		NullOK:  action.getBool("nullok"),
		Comment: action.getString("comment"),
	}
	action.Start("Add column '%s' to '%s:%s'", def.Name, args[0], args[1])
	plan, err := action.evolve(func(ctx context.Context, cat *morph.Catalog, e *morph.EvolveContext) error {
		table, err := action.table(args[0], args[1])
		if err != nil {
			return err
		}
		return table.AddColumn(ctx, def)
	})
	action.Exit(plan, err)
}

func dropColumn(cmd *cobra.Command, args []string) {
	action := newAction(cmd)
	action.Start("Drop column '%s' from '%s:%s'", args[2], args[0], args[1])
	plan, err := action.evolve(func(ctx context.Context, cat *morph.Catalog, e *morph.EvolveContext) error {
		table, err := action.table(args[0], args[1])
		if err != nil {
			return err
		}
		return table.DropColumn(ctx, args[2])
	})
	action.Exit(plan, err)
}

func renameColumn(cmd *cobra.Command, args []string) {
	action := newAction(cmd)
	action.Start("Rename column '%s' to '%s' on '%s:%s'", args[2], args[3], args[0], args[1])
	plan, err := action.evolve(func(ctx context.Context, cat *morph.Catalog, e *morph.EvolveContext) error {
		table, err := action.table(args[0], args[1])
		if err != nil {
			return err
		}
		return table.RenameColumn(ctx, args[2], args[3])
	})
	action.Exit(plan, err)
}

//
// Schema evolution
//

// assign builds a derived relation from the named table and assigns it to the
// target table name in the same schema.
func (a *Action) assign(schema, table, target string, derive func(*morph.Relation) (*morph.Relation, error)) (*morph.Plan, error) {
	return a.evolve(func(ctx context.Context, cat *morph.Catalog, e *morph.EvolveContext) error {
		s, err := cat.Schema(schema)
		if err != nil {
			return err
		}
		t, err := s.Table(table)
		if err != nil {
			return err
		}
		base, err := t.Base()
		if err != nil {
			return err
		}
		rel, err := derive(base)
		if err != nil {
			return err
		}
		return s.SetTable(ctx, target, rel)
	})
}

func toDomain(cmd *cobra.Command, args []string) {
	action := newAction(cmd)
	action.Start("Create domain '%s:%s' from column '%s'", args[0], args[3], args[2])
	plan, err := action.assign(args[0], args[1], args[3], func(base *morph.Relation) (*morph.Relation, error) {
		return base.ToDomain(args[2])
	})
	action.Exit(plan, err)
}

func toVocabulary(cmd *cobra.Command, args []string) {
	action := newAction(cmd)
	action.Start("Create vocabulary '%s:%s' from column '%s'", args[0], args[3], args[2])
	plan, err := action.assign(args[0], args[1], args[3], func(base *morph.Relation) (*morph.Relation, error) {
		return base.ToVocabulary(args[2])
	})
	action.Exit(plan, err)
}

func toAtoms(cmd *cobra.Command, args []string) {
	action := newAction(cmd)
	delim := action.getString("delim")
	action.Start("Atomize column '%s' of '%s:%s' into '%s'", args[2], args[0], args[1], args[3])
	plan, err := action.assign(args[0], args[1], args[3], func(base *morph.Relation) (*morph.Relation, error) {
		return base.ToAtoms(args[2], delim)
	})
	action.Exit(plan, err)
}

func (a *Action) alignPolicy() morph.AlignPolicy {
	if a.getBool("add-unmatched") {
		return morph.AlignAddUnmatched
	}
	return morph.AlignStrict
}

func (a *Action) refRelation(cat *morph.Catalog, schema, table string) (*morph.Relation, error) {
	s, err := cat.Schema(schema)
	if err != nil {
		return nil, err
	}
	t, err := s.Table(table)
	if err != nil {
		return nil, err
	}
	return t.Base()
}

func toTags(cmd *cobra.Command, args []string) {
	action := newAction(cmd)
	delim := action.getString("delim")
	action.Start("Tag column '%s' of '%s:%s' against '%s' into '%s'", args[2], args[0], args[1], args[3], args[4])
	plan, err := action.evolve(func(ctx context.Context, cat *morph.Catalog, e *morph.EvolveContext) error {
		ref, err := action.refRelation(cat, args[0], args[3])
		if err != nil {
			return err
		}
		s, err := cat.Schema(args[0])
		if err != nil {
			return err
		}
		t, err := s.Table(args[1])
		if err != nil {
			return err
		}
		base, err := t.Base()
		if err != nil {
			return err
		}
		rel, err := base.ToTags(args[2], ref, delim, action.alignPolicy())
		if err != nil {
			return err
		}
		return s.SetTable(ctx, args[4], rel)
	})
	action.Exit(plan, err)
}

func alignColumn(cmd *cobra.Command, args []string) {
	action := newAction(cmd)
	action.Start("Align column '%s' of '%s:%s' against '%s' into '%s'", args[2], args[0], args[1], args[3], args[4])
	plan, err := action.evolve(func(ctx context.Context, cat *morph.Catalog, e *morph.EvolveContext) error {
		ref, err := action.refRelation(cat, args[0], args[3])
		if err != nil {
			return err
		}
		s, err := cat.Schema(args[0])
		if err != nil {
			return err
		}
		t, err := s.Table(args[1])
		if err != nil {
			return err
		}
		base, err := t.Base()
		if err != nil {
			return err
		}
		rel, err := base.Align(args[2], ref, action.alignPolicy())
		if err != nil {
			return err
		}
		return s.SetTable(ctx, args[4], rel)
	})
	action.Exit(plan, err)
}

func reify(cmd *cobra.Command, args []string) {
	action := newAction(cmd)
	keys := action.getStringArray("key")
	values := action.getStringArray("value")
	action.Start("Reify '%s:%s' into '%s'", args[0], args[1], args[2])
	plan, err := action.assign(args[0], args[1], args[2], func(base *morph.Relation) (*morph.Relation, error) {
		return base.Reify(keys, values)
	})
	action.Exit(plan, err)
}

func reifySub(cmd *cobra.Command, args []string) {
	action := newAction(cmd)
	cols := args[3:]
	action.Start("Reify columns [%s] of '%s:%s' into '%s'", strings.Join(cols, ", "), args[0], args[1], args[2])
	plan, err := action.assign(args[0], args[1], args[2], func(base *morph.Relation) (*morph.Relation, error) {
		return base.ReifySub(cols...)
	})
	action.Exit(plan, err)
}

//
// Data
//

func fetchRows(cmd *cobra.Command, args []string) {
	action := newAction(cmd)
	limit := action.getInt("limit")
	action.Start("Fetch '%s:%s'", args[0], args[1])
	rows, err := action.Client().Fetch(action.Context(), morph.TableRef{Schema: args[0], Table: args[1]}, limit)
	action.Exit(rows, err)
}
