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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

func makeIndent(indent int) string {
	result := make([]rune, indent)
	for i := 0; i < indent; i++ {
		result[i] = ' '
	}
	return string(result)
}

// Encode the given item as JSON to the given writer.
func Encode(w io.Writer, item interface{}, indent int) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", makeIndent(indent))
	return enc.Encode(item)
}

// Print the given item as JSON to stdout.
func ShowJSON(item interface{}, indent int) error {
	return Encode(os.Stdout, item, indent)
}

type Showable interface {
	Show()
}

// Returns a "showable" string for the given value.
func displayString(v interface{}) string {
	switch vv := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(vv)
	case int:
		return strconv.Itoa(vv)
	case string:
		return fmt.Sprintf("\"%s\"", vv)
	case []string:
		parts := make([]string, len(vv))
		for i, s := range vv {
			parts[i] = displayString(s)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []interface{}:
		parts := make([]string, len(vv))
		for i, item := range vv {
			parts[i] = displayString(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprintf("%v", v)
}

func columnString(col ColumnDef) string {
	s := col.Name + " " + col.Type
	if col.NullOK {
		s += " null"
	}
	return s
}

// Render writes the plan in display order: one line per intent, with
// resolved columns and a bounded row sample for each computed relation.
func (p *Plan) Render(w io.Writer) {
	fmt.Fprintf(w, "plan: %d step(s)\n", len(p.Steps))
	for i, step := range p.Steps {
		fmt.Fprintf(w, "%2d. %s\n", i+1, step.Intent.Describe())
		if len(step.Columns) > 0 {
			cols := make([]string, len(step.Columns))
			for j, col := range step.Columns {
				cols[j] = columnString(col)
			}
			fmt.Fprintf(w, "    columns: %s\n", strings.Join(cols, ", "))
		}
		if len(step.Sample) > 0 {
			fmt.Fprintf(w, "    sample (%d row(s)):\n", len(step.Sample))
			for _, row := range step.Sample {
				parts := make([]string, len(step.Columns))
				for j, col := range step.Columns {
					parts[j] = displayString(row[col.Name])
				}
				fmt.Fprintf(w, "      %s\n", strings.Join(parts, ", "))
			}
		}
	}
}

func (p *Plan) Show() {
	p.Render(os.Stdout)
}

// Show for Evaluation prints the resolved columns and the sample to stdout.
func (e *Evaluation) Show() {
	cols := make([]string, len(e.Columns))
	for i, col := range e.Columns {
		cols[i] = columnString(col)
	}
	fmt.Printf("// %s\n", strings.Join(cols, ", "))
	for _, row := range e.Sample {
		parts := make([]string, len(e.Columns))
		for i, col := range e.Columns {
			parts[i] = displayString(row[col.Name])
		}
		fmt.Println(strings.Join(parts, ", "))
	}
}
