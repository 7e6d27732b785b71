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

import "fmt"

// Intent is one pending catalog model mutation. Intents carry everything
// needed to replay or discard them; nothing happens until the evolution
// context executes its queue.
type Intent interface {
	Describe() string
}

// alterIntent and dropIntent mark intents subject to the allow_alter and
// allow_drop guards.
type alterIntent interface{ isAlter() }

type dropIntent interface{ isDrop() }

type CreateSchema struct {
	Schema string `json:"schema"`
}

func (i *CreateSchema) Describe() string { return fmt.Sprintf("create schema '%s'", i.Schema) }

type CreateTable struct {
	Schema string   `json:"schema"`
	Def    TableDef `json:"def"`
}

func (i *CreateTable) Describe() string {
	return fmt.Sprintf("create table '%s:%s'", i.Schema, i.Def.TableName)
}

// CreateTableAs assigns a computed relation to a name. The definition and the
// materialized rows are resolved by the planner when the owning context
// closes, before any intent is executed.
type CreateTableAs struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Rel    *Relation

	def  *TableDef
	rows []Row
}

func (i *CreateTableAs) Describe() string {
	return fmt.Sprintf("create table '%s:%s' as %s", i.Schema, i.Table, i.Rel.Kind())
}

// Resolved reports the planner's output for this intent; both results are nil
// until the owning context has closed.
func (i *CreateTableAs) Resolved() (*TableDef, []Row) { return i.def, i.rows }

type DropTable struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

func (i *DropTable) Describe() string { return fmt.Sprintf("drop table '%s:%s'", i.Schema, i.Table) }
func (i *DropTable) isDrop()          {}

type RenameTable struct {
	Schema string `json:"schema"`
	Old    string `json:"old"`
	New    string `json:"new"`
}

func (i *RenameTable) Describe() string {
	return fmt.Sprintf("rename table '%s:%s' to '%s'", i.Schema, i.Old, i.New)
}
func (i *RenameTable) isAlter() {}

type MoveTable struct {
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	NewSchema string `json:"new_schema"`
}

func (i *MoveTable) Describe() string {
	return fmt.Sprintf("move table '%s:%s' to schema '%s'", i.Schema, i.Table, i.NewSchema)
}
func (i *MoveTable) isAlter() {}

type AddColumn struct {
	Schema string    `json:"schema"`
	Table  string    `json:"table"`
	Def    ColumnDef `json:"def"`
}

func (i *AddColumn) Describe() string {
	return fmt.Sprintf("add column '%s' to '%s:%s'", i.Def.Name, i.Schema, i.Table)
}
func (i *AddColumn) isAlter() {}

type DropColumn struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Column string `json:"column"`
}

func (i *DropColumn) Describe() string {
	return fmt.Sprintf("drop column '%s' from '%s:%s'", i.Column, i.Schema, i.Table)
}
func (i *DropColumn) isAlter() {}

type RenameColumn struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Old    string `json:"old"`
	New    string `json:"new"`
}

func (i *RenameColumn) Describe() string {
	return fmt.Sprintf("rename column '%s' to '%s' on '%s:%s'", i.Old, i.New, i.Schema, i.Table)
}
func (i *RenameColumn) isAlter() {}

func isAlter(in Intent) bool {
	_, ok := in.(alterIntent)
	return ok
}

func isDrop(in Intent) bool {
	_, ok := in.(dropIntent)
	return ok
}
