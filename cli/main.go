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
	"github.com/spf13/cobra"
)

func addCommands(root *cobra.Command) {
	// Model
	cmd := &cobra.Command{
		Use:   "list-schemas",
		Short: "List all schemas in the catalog",
		Run:   listSchemas}
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "list-tables schema",
		Short: "List all tables in the given schema",
		Args:  cobra.ExactArgs(1),
		Run:   listTables}
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "get-table schema table",
		Short: "Get the definition of the given table",
		Args:  cobra.ExactArgs(2),
		Run:   getTable}
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "create-schema schema",
		Short: "Create a schema",
		Args:  cobra.ExactArgs(1),
		Run:   createSchema}
	root.AddCommand(cmd)

	// Tables
	cmd = &cobra.Command{
		Use:   "create-table schema file",
		Short: "Create a table from a JSON definition file",
		Args:  cobra.ExactArgs(2),
		Run:   createTable}
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "drop-table schema table",
		Short: "Drop a table",
		Args:  cobra.ExactArgs(2),
		Run:   dropTable}
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "rename-table schema table new-name",
		Short: "Rename a table within its schema",
		Args:  cobra.ExactArgs(3),
		Run:   renameTable}
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "move-table schema table new-schema",
		Short: "Move a table to another schema",
		Args:  cobra.ExactArgs(3),
		Run:   moveTable}
	root.AddCommand(cmd)

	// Columns
	cmd = &cobra.Command{
		Use:   "add-column schema table column type",
		Short: "Add a column to a table",
		Args:  cobra.ExactArgs(4),
		Run:   addColumn}
	cmd.Flags().Bool("nullok", false, "column accepts nulls")
	cmd.Flags().String("comment", "", "column comment")
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "drop-column schema table column",
		Short: "Drop a column from a table",
		Args:  cobra.ExactArgs(3),
		Run:   dropColumn}
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "rename-column schema table column new-name",
		Short: "Rename a column on a table",
		Args:  cobra.ExactArgs(4),
		Run:   renameColumn}
	root.AddCommand(cmd)

	// Schema evolution
	cmd = &cobra.Command{
		Use:   "to-domain schema table column target",
		Short: "Create a domain table from a column's distinct values",
		Args:  cobra.ExactArgs(4),
		Run:   toDomain}
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "to-vocabulary schema table column target",
		Short: "Create a vocabulary table from a column's distinct values",
		Args:  cobra.ExactArgs(4),
		Run:   toVocabulary}
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "to-atoms schema table column target",
		Short: "Unnest a delimited column into one row per atomic value",
		Args:  cobra.ExactArgs(4),
		Run:   toAtoms}
	cmd.Flags().String("delim", ",", "value delimiter")
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "to-tags schema table column ref-table target",
		Short: "Normalize a delimited column into a tagging table aligned to a vocabulary",
		Args:  cobra.ExactArgs(5),
		Run:   toTags}
	cmd.Flags().String("delim", ",", "value delimiter")
	cmd.Flags().Bool("add-unmatched", false, "add unmatched values to the vocabulary")
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "align schema table column ref-table target",
		Short: "Replace a column's values with references into a domain or vocabulary",
		Args:  cobra.ExactArgs(5),
		Run:   alignColumn}
	cmd.Flags().Bool("add-unmatched", false, "add unmatched values to the reference")
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "reify schema table target",
		Short: "Split a new table keyed by the given columns out of a table",
		Args:  cobra.ExactArgs(3),
		Run:   reify}
	cmd.Flags().StringArray("key", nil, "key columns")
	cmd.Flags().StringArray("value", nil, "value columns")
	cmd.MarkFlagRequired("key")
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "reify-sub schema table target column+",
		Short: "Promote a sub-concept of a table into its own table",
		Args:  cobra.MinimumNArgs(4),
		Run:   reifySub}
	root.AddCommand(cmd)

	// Data
	cmd = &cobra.Command{
		Use:   "fetch schema table",
		Short: "Fetch rows of the given table",
		Args:  cobra.ExactArgs(2),
		Run:   fetchRows}
	cmd.Flags().Int("limit", 0, "maximum number of rows, 0 for all")
	root.AddCommand(cmd)
}

func main() {
	var root = &cobra.Command{Use: "morph"}
	root.PersistentFlags().String("host", "", "host name")
	root.PersistentFlags().String("port", "", "port number")
	root.PersistentFlags().String("config", "~/.morph/config", "config file")
	root.PersistentFlags().String("profile", "default", "config profile")
	root.PersistentFlags().String("catalog", "", "catalog id")
	root.PersistentFlags().BoolP("quiet", "q", false, "silence status output")
	root.PersistentFlags().String("format", "pretty", "format results, 'json' or 'pretty'")
	root.PersistentFlags().Bool("dry-run", false, "resolve and print the plan without mutating the catalog")
	root.PersistentFlags().Bool("allow-alter", true, "permit table and column alterations")
	root.PersistentFlags().Bool("allow-drop", true, "permit table and column drops")
	root.PersistentFlags().BoolP("verbose", "v", false, "verbose logging")
	addCommands(root)
	root.Execute()
}
