package tree

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten_RoundTrip(t *testing.T) {
	testCases := []struct {
		name       string
		value      any
		wantLeaves []any
	}{
		{name: "single leaf", value: 3, wantLeaves: []any{3}},
		{name: "flat list", value: []any{1, "a", 2.5}, wantLeaves: []any{1, "a", 2.5}},
		{
			name:       "nested",
			value:      []any{1, []any{2, map[string]any{"b": 4, "a": 3}}, 5},
			wantLeaves: []any{1, 2, 3, 4, 5},
		},
		{name: "empty list", value: []any{}, wantLeaves: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			leaves, spec := Flatten(tc.value)
			assert.Equal(t, tc.wantLeaves, leaves)
			assert.Equal(t, len(tc.wantLeaves), spec.NumLeaves())

			rebuilt, err := Unflatten(leaves, spec)
			require.NoError(t, err)
			assert.Equal(t, tc.value, rebuilt)
		})
	}
}

func TestUnflatten_LeafCountMismatch(t *testing.T) {
	_, spec := Flatten([]any{1, 2})
	_, err := Unflatten([]any{1}, spec)
	assert.ErrorContains(t, err, "holds 2 leaves, got 1")
}

func TestMap(t *testing.T) {
	in := []any{1, []any{2, 3}, map[string]any{"k": 4}}
	out := Map(in, func(v any) any { return v.(int) * 10 })
	assert.Equal(t, []any{10, []any{20, 30}, map[string]any{"k": 40}}, out)
	// The input is left untouched.
	assert.Equal(t, []any{1, []any{2, 3}, map[string]any{"k": 4}}, in)
}

func TestMapErr_StopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	visited := 0
	_, err := MapErr([]any{1, 2, 3}, func(v any) (any, error) {
		visited++
		if v.(int) == 2 {
			return nil, boom
		}
		return v, nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, visited)
}

func TestAny(t *testing.T) {
	isString := func(v any) bool { _, ok := v.(string); return ok }
	assert.True(t, Any([]any{1, []any{"x"}}, isString))
	assert.False(t, Any([]any{1, []any{2}}, isString))
}
