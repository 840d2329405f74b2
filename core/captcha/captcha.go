// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

/*
Package captcha generates semantic multiple-choice challenges.

A challenge presents a shuffled word list drawn from two different semantic
categories: a handful of "normal" words from one pool plus a smaller number of
"oddball" words from another. The caller must name exactly the oddballs.
Oddballs are sampled from the set difference of the two pools, so a word that
happens to belong to both categories can never be part of the answer.
*/
package captcha

import (
	"crypto/rand"
	"errors"
	"fmt"
	mathrand "math/rand/v2"
	"strings"
	"sync"
	"time"

	"codeberg.org/casebook/casebook/core/wordpool"
)

// Challenge composition defaults, also used by the server configuration.
const (
	DefaultNormals      = 7
	DefaultOddballs     = 3
	DefaultAnswerWindow = 2 * time.Minute
)

var (
	ErrPoolTooSmall = errors.New("word pool too small for challenge composition")
	ErrNoPools      = errors.New("no word pools available")
)

// Config sets the challenge composition.
type Config struct {
	// Normals is the number of same-category filler words per challenge.
	Normals int

	// Oddballs is the number of words the caller must identify.
	Oddballs int

	// AnswerWindow is how long a challenge stays answerable.
	AnswerWindow time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.Normals <= 0 {
		cfg.Normals = DefaultNormals
	}

	if cfg.Oddballs <= 0 {
		cfg.Oddballs = DefaultOddballs
	}

	if cfg.AnswerWindow <= 0 {
		cfg.AnswerWindow = DefaultAnswerWindow
	}

	return cfg
}

// Challenge is one issued challenge.
type Challenge struct {
	// Text is the shuffled, space-separated word list shown to the caller.
	Text string

	// Answer holds the lowercased oddball words.
	Answer []string

	// Expires is the answer submission deadline.
	Expires time.Time
}

// Engine issues challenges from a fixed word pool set.
//
// Safe for concurrent use; the pool set is never mutated after construction.
type Engine struct {
	pools *wordpool.Set
	cfg   Config

	mu  sync.Mutex
	src *mathrand.Rand

	timeNow func() time.Time
}

// New validates that every ordered pool pair can satisfy the configured
// composition and returns an Engine. Validating up front keeps Issue
// infallible at request time.
func New(pools *wordpool.Set, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	if pools == nil || pools.Len() < 2 {
		return nil, ErrNoPools
	}

	for _, normal := range pools.Pools() {
		if normal.Len() < cfg.Normals {
			return nil, fmt.Errorf("%w: category %q has %d words, need %d normals",
				ErrPoolTooSmall, normal.Category, normal.Len(), cfg.Normals)
		}

		for _, oddball := range pools.Pools() {
			if oddball.Category == normal.Category {
				continue
			}

			if diff := oddball.Minus(normal); len(diff) < cfg.Oddballs {
				return nil, fmt.Errorf("%w: category %q minus %q has %d words, need %d oddballs",
					ErrPoolTooSmall, oddball.Category, normal.Category, len(diff), cfg.Oddballs)
			}
		}
	}

	var seed [32]byte

	_, _ = rand.Read(seed[:])

	return &Engine{
		pools:   pools,
		cfg:     cfg,
		src:     mathrand.New(mathrand.NewChaCha8(seed)),
		timeNow: time.Now,
	}, nil
}

// Issue builds a fresh challenge.
func (e *Engine) Issue() Challenge {
	e.mu.Lock()
	defer e.mu.Unlock()

	pools := e.pools.Pools()

	normalIdx := e.src.IntN(len(pools))

	oddballIdx := e.src.IntN(len(pools) - 1)
	if oddballIdx >= normalIdx {
		oddballIdx++
	}

	normalPool := pools[normalIdx]
	oddballPool := pools[oddballIdx]

	normals := e.sample(normalPool.Words(), e.cfg.Normals)
	oddballs := e.sample(oddballPool.Minus(normalPool), e.cfg.Oddballs)

	united := make([]string, 0, len(normals)+len(oddballs))
	united = append(united, normals...)
	united = append(united, oddballs...)
	e.src.Shuffle(len(united), func(i, j int) {
		united[i], united[j] = united[j], united[i]
	})

	answer := make([]string, len(oddballs))
	for i, w := range oddballs {
		answer[i] = strings.ToLower(w)
	}

	return Challenge{
		Text:    strings.Join(united, " "),
		Answer:  answer,
		Expires: e.timeNow().Add(e.cfg.AnswerWindow),
	}
}

// AnswerWindow returns the configured submission deadline duration.
func (e *Engine) AnswerWindow() time.Duration {
	return e.cfg.AnswerWindow
}

// sample draws n distinct elements from words. Callers guarantee n <= len(words).
func (e *Engine) sample(words []string, n int) []string {
	e.src.Shuffle(len(words), func(i, j int) {
		words[i], words[j] = words[j], words[i]
	})

	return words[:n]
}

// Match reports whether a submitted answer names exactly the stored oddballs.
// The submission is lowercased and split on whitespace; word order and
// repeated words do not matter, but a missing oddball or an extra word fails.
func Match(stored []string, submitted string) bool {
	if len(stored) == 0 {
		return false
	}

	want := make(map[string]struct{}, len(stored))
	for _, w := range stored {
		want[strings.ToLower(w)] = struct{}{}
	}

	got := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(submitted)) {
		got[w] = struct{}{}
	}

	if len(got) != len(want) {
		return false
	}

	for w := range want {
		if _, ok := got[w]; !ok {
			return false
		}
	}

	return true
}
