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
	"fmt"
	"strconv"
	"strings"
)

// Predicate is a restriction formula for Where: a simple comparison over a
// literal value, or a conjunction of comparisons. No correlated subqueries,
// no disjunction.
type Predicate interface {
	Match(row Row) bool
	Columns() []string
	String() string
}

// Comparison compares a named column against a literal.
type Comparison struct {
	Column  string
	Op      string // one of = < <= > >=
	Literal interface{}
}

func Eq(column string, literal interface{}) Comparison {
	return Comparison{Column: column, Op: "=", Literal: literal}
}

func Lt(column string, literal interface{}) Comparison {
	return Comparison{Column: column, Op: "<", Literal: literal}
}

func Le(column string, literal interface{}) Comparison {
	return Comparison{Column: column, Op: "<=", Literal: literal}
}

func Gt(column string, literal interface{}) Comparison {
	return Comparison{Column: column, Op: ">", Literal: literal}
}

func Ge(column string, literal interface{}) Comparison {
	return Comparison{Column: column, Op: ">=", Literal: literal}
}

func (c Comparison) Columns() []string { return []string{c.Column} }

func (c Comparison) String() string {
	return fmt.Sprintf("%s %s %v", c.Column, c.Op, c.Literal)
}

func (c Comparison) Match(row Row) bool {
	cmp, ok := compare(row[c.Column], c.Literal)
	if !ok {
		return false
	}
	switch c.Op {
	case "=":
		return cmp == 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

// And combines comparisons into a conjunction.
func (c Comparison) And(others ...Comparison) Conjunction {
	return Conjunction(append([]Comparison{c}, others...))
}

// Conjunction matches when every member comparison matches.
type Conjunction []Comparison

func (cj Conjunction) Match(row Row) bool {
	for _, c := range cj {
		if !c.Match(row) {
			return false
		}
	}
	return true
}

func (cj Conjunction) Columns() []string {
	cols := make([]string, len(cj))
	for i, c := range cj {
		cols[i] = c.Column
	}
	return cols
}

func (cj Conjunction) String() string {
	parts := make([]string, len(cj))
	for i, c := range cj {
		parts[i] = c.String()
	}
	return strings.Join(parts, " and ")
}

// compare orders two literal values, numerically when both parse as numbers,
// lexically otherwise. The second result is false when either side is nil.
func compare(a, b interface{}) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	av, aok := toFloat(a)
	bv, bok := toFloat(b)
	if aok && bok {
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	}
	return strings.Compare(stringValue(a), stringValue(b)), true
}

func toFloat(v interface{}) (float64, bool) {
	switch vv := v.(type) {
	case int:
		return float64(vv), true
	case int64:
		return float64(vv), true
	case float64:
		return vv, true
	case float32:
		return float64(vv), true
	case string:
		f, err := strconv.ParseFloat(vv, 64)
		return f, err == nil
	}
	return 0, false
}

func stringValue(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
