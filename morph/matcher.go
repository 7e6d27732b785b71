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

import "sort"

// SimilarityFunc scores two values in [0, 1] where 0 is an exact match and 1
// is no similarity at all.
type SimilarityFunc func(a, b string) float64

// DefaultThreshold is the similarity score at or below which two values
// collapse into the same term.
const DefaultThreshold = 0.2

// Term is one group of the matcher's output partition: a canonical name and
// the raw values that collapsed into it.
type Term struct {
	Name     string
	Synonyms []string
}

// Matcher groups near-duplicate values into canonical terms using a pluggable
// similarity function.
type Matcher struct {
	Similarity SimilarityFunc
	Threshold  float64
}

func NewMatcher() *Matcher {
	return &Matcher{Similarity: EditDistance, Threshold: DefaultThreshold}
}

// Match partitions the input multiset into terms. Every distinct input value
// lands in exactly one term, either as its canonical name or as a synonym.
// The canonical value of each group is the most frequent member, ties broken
// by first-seen order, so repeated runs over the same input are identical.
func (m *Matcher) Match(values []string) []Term {
	order := make([]string, 0, len(values))
	count := map[string]int{}
	for _, v := range values {
		if _, ok := count[v]; !ok {
			order = append(order, v)
		}
		count[v]++
	}

	firstSeen := make(map[string]int, len(order))
	for i, v := range order {
		firstSeen[v] = i
	}
	candidates := append([]string(nil), order...)
	sort.SliceStable(candidates, func(i, j int) bool {
		if count[candidates[i]] != count[candidates[j]] {
			return count[candidates[i]] > count[candidates[j]]
		}
		return firstSeen[candidates[i]] < firstSeen[candidates[j]]
	})

	assigned := make(map[string]bool, len(order))
	var terms []Term
	for _, canon := range candidates {
		if assigned[canon] {
			continue
		}
		assigned[canon] = true
		term := Term{Name: canon, Synonyms: []string{}}
		for _, v := range order {
			if assigned[v] {
				continue
			}
			if m.Similarity(canon, v) <= m.Threshold {
				assigned[v] = true
				term.Synonyms = append(term.Synonyms, v)
			}
		}
		terms = append(terms, term)
	}
	return terms
}

// EditDistance is the default similarity function: Levenshtein distance
// normalized by the combined length of the inputs. Two empty values are an
// exact match; an empty value never matches a non-empty one.
func EditDistance(a, b string) float64 {
	if a == "" && b == "" {
		return 0.0
	}
	if a == "" || b == "" {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	return float64(levenshtein(ra, rb)) / float64(len(ra)+len(rb))
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min3(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
