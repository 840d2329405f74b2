// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

/*
Package wordpool holds the semantic word pools that captcha challenges are
built from.

The pools are loaded once at process start from a JSON file mapping category
names to word lists and are read-only afterwards. Challenge composition
requires at least two disjoint-enough categories, so loading fails early on
degenerate files instead of at request time.
*/
package wordpool

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/tidwall/gjson"
)

var (
	ErrNotObject      = errors.New("word pool file must contain a JSON object")
	ErrNotStringArray = errors.New("word pool category must be an array of strings")
	ErrTooFewPools    = errors.New("word pool file must define at least two categories")
	ErrEmptyPool      = errors.New("word pool category must not be empty")
)

// Pool is one category of related words.
type Pool struct {
	Category string

	words []string
	index map[string]struct{}
}

// newPool builds a Pool, dropping duplicate words.
func newPool(category string, words []string) Pool {
	p := Pool{
		Category: category,
		index:    make(map[string]struct{}, len(words)),
	}

	for _, w := range words {
		if _, dup := p.index[w]; dup {
			continue
		}

		p.index[w] = struct{}{}
		p.words = append(p.words, w)
	}

	return p
}

// Len returns the number of distinct words in the pool.
func (p Pool) Len() int {
	return len(p.words)
}

// Words returns a copy of the pool's words.
func (p Pool) Words() []string {
	return append([]string(nil), p.words...)
}

// Contains reports whether word is a member of the pool.
func (p Pool) Contains(word string) bool {
	_, ok := p.index[word]

	return ok
}

// Minus returns the pool's words that are not members of other.
func (p Pool) Minus(other Pool) []string {
	var diff []string

	for _, w := range p.words {
		if !other.Contains(w) {
			diff = append(diff, w)
		}
	}

	return diff
}

// Set is the full, immutable collection of word pools.
type Set struct {
	pools []Pool
}

// Pools returns the pools in category order.
func (s *Set) Pools() []Pool {
	return s.pools
}

// Len returns the number of pools.
func (s *Set) Len() int {
	return len(s.pools)
}

// Load reads a word pool file from disk.
func Load(path string) (*Set, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- only loading a config file
	if err != nil {
		return nil, fmt.Errorf("failed to read word pool file %s: %w", path, err)
	}

	set, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("word pool file %s: %w", path, err)
	}

	return set, nil
}

// Parse builds a Set from raw JSON of the shape {"category": ["word", ...], ...}.
func Parse(raw []byte) (*Set, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrNotObject
	}

	parsed := gjson.ParseBytes(raw)
	if !parsed.IsObject() {
		return nil, ErrNotObject
	}

	byCategory := make(map[string][]string)

	var parseErr error

	parsed.ForEach(func(key, value gjson.Result) bool {
		if !value.IsArray() {
			parseErr = fmt.Errorf("%w: %q", ErrNotStringArray, key.String())

			return false
		}

		var words []string

		for _, item := range value.Array() {
			if item.Type != gjson.String {
				parseErr = fmt.Errorf("%w: %q", ErrNotStringArray, key.String())

				return false
			}

			words = append(words, item.String())
		}

		byCategory[key.String()] = words

		return true
	})

	if parseErr != nil {
		return nil, parseErr
	}

	return FromMap(byCategory)
}

// FromMap builds a Set from an in-memory category mapping.
func FromMap(byCategory map[string][]string) (*Set, error) {
	if len(byCategory) < 2 {
		return nil, ErrTooFewPools
	}

	categories := make([]string, 0, len(byCategory))
	for category := range byCategory {
		categories = append(categories, category)
	}

	// Stable order keeps challenge sampling reproducible under a seeded source.
	sort.Strings(categories)

	set := &Set{}

	for _, category := range categories {
		pool := newPool(category, byCategory[category])
		if pool.Len() == 0 {
			return nil, fmt.Errorf("%w: %q", ErrEmptyPool, category)
		}

		set.pools = append(set.pools, pool)
	}

	return set, nil
}
