// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package captcha

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/casebook/casebook/core/wordpool"
)

func testPools(t *testing.T) *wordpool.Set {
	t.Helper()

	set, err := wordpool.FromMap(map[string][]string{
		"colours":  strings.Fields("red orange yellow green blue purple pink grey"),
		"numbers":  strings.Fields("one two three four five six seven eight nine ten eleven"),
		"capitals": strings.Fields("Paris London Berlin Madrid Amsterdam Dublin Stockholm Utrecht"),
	})
	require.NoError(t, err)

	return set
}

func TestNewValidatesPoolSizes(t *testing.T) {
	t.Parallel()

	small, err := wordpool.FromMap(map[string][]string{
		"a": {"one", "two"},
		"b": {"three", "four"},
	})
	require.NoError(t, err)

	_, err = New(small, Config{})
	assert.ErrorIs(t, err, ErrPoolTooSmall)

	_, err = New(nil, Config{})
	assert.ErrorIs(t, err, ErrNoPools)
}

func TestIssueComposition(t *testing.T) {
	t.Parallel()

	pools := testPools(t)

	engine, err := New(pools, Config{})
	require.NoError(t, err)

	// Sampling is randomized; check the composition invariants over many draws.
	for range 50 {
		before := time.Now()
		challenge := engine.Issue()

		shown := strings.Fields(challenge.Text)
		assert.Len(t, shown, DefaultNormals+DefaultOddballs)
		assert.Len(t, challenge.Answer, DefaultOddballs)

		// The answer is a strict subset of the displayed challenge.
		lowered := make(map[string]bool, len(shown))
		for _, w := range shown {
			lowered[strings.ToLower(w)] = true
		}

		for _, w := range challenge.Answer {
			assert.True(t, lowered[w], "answer word %q not displayed", w)
			assert.Equal(t, strings.ToLower(w), w, "answer words are lowercased")
		}

		// Normals and oddballs come from two distinct pools.
		answer := make(map[string]bool, len(challenge.Answer))
		for _, w := range challenge.Answer {
			answer[w] = true
		}

		var answerPool, fillerPool string

		for _, pool := range pools.Pools() {
			inPool := make(map[string]bool, pool.Len())
			for _, w := range pool.Words() {
				inPool[strings.ToLower(w)] = true
			}

			answerSubset, fillerSubset := true, true

			for _, w := range shown {
				if answer[strings.ToLower(w)] {
					answerSubset = answerSubset && inPool[strings.ToLower(w)]
				} else {
					fillerSubset = fillerSubset && inPool[strings.ToLower(w)]
				}
			}

			if answerSubset {
				answerPool = pool.Category
			}

			if fillerSubset {
				fillerPool = pool.Category
			}
		}

		require.NotEmpty(t, answerPool)
		require.NotEmpty(t, fillerPool)
		assert.NotEqual(t, answerPool, fillerPool)

		// Expiry lands inside the configured window.
		assert.False(t, challenge.Expires.Before(before.Add(DefaultAnswerWindow)))
		assert.False(t, challenge.Expires.After(time.Now().Add(DefaultAnswerWindow)))
	}
}

func TestMatch(t *testing.T) {
	t.Parallel()

	stored := []string{"one", "two", "three"}

	assert.True(t, Match(stored, "one two three"))
	assert.True(t, Match(stored, "three one two"), "order must not matter")
	assert.True(t, Match(stored, "  ONE  Two   three "), "case and spacing must not matter")
	assert.True(t, Match(stored, "one one two three"), "repeated words collapse")

	assert.False(t, Match(stored, "one two"), "missing oddball")
	assert.False(t, Match(stored, "one two four"), "wrong word")
	assert.False(t, Match(stored, "one two three four"), "extra word")
	assert.False(t, Match(stored, ""), "empty submission")
	assert.False(t, Match(nil, "anything"), "no stored answer")
}
