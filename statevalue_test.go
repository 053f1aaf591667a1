package xstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToStateValue(t *testing.T) {
	t.Run("leaf string stays a leaf", func(t *testing.T) {
		assert.Equal(t, "green", ToStateValue("green", "."))
	})

	t.Run("dotted path nests", func(t *testing.T) {
		value := ToStateValue("a.b.c", ".")
		assert.True(t, ValueEquals(value, map[string]StateValue{
			"a": map[string]StateValue{"b": "c"},
		}))
	})

	t.Run("custom delimiter", func(t *testing.T) {
		value := ToStateValue("a/b", "/")
		assert.True(t, ValueEquals(value, map[string]StateValue{"a": "b"}))
	})

	t.Run("mapping normalized recursively", func(t *testing.T) {
		value := ToStateValue(map[string]StateValue{"red": "walk.more"}, ".")
		assert.True(t, ValueEquals(value, map[string]StateValue{
			"red": map[string]StateValue{"walk": "more"},
		}))
	})
}

func TestValueEquals(t *testing.T) {
	assert.True(t, ValueEquals("a", "a"))
	assert.False(t, ValueEquals("a", "b"))
	assert.False(t, ValueEquals("a", map[string]StateValue{"a": "b"}))
	assert.True(t, ValueEquals(
		map[string]StateValue{"a": "x", "b": "y"},
		map[string]StateValue{"b": "y", "a": "x"},
	))
	assert.False(t, ValueEquals(
		map[string]StateValue{"a": "x"},
		map[string]StateValue{"a": "x", "b": "y"},
	))
}

func TestMatchesState(t *testing.T) {
	assert.True(t, MatchesState("red", map[string]StateValue{"red": "walk"}, "."))
	assert.True(t, MatchesState("red.walk", map[string]StateValue{"red": "walk"}, "."))
	assert.True(t, MatchesState("red", "red", "."))
	assert.False(t, MatchesState("red.wait", map[string]StateValue{"red": "walk"}, "."))
	assert.False(t, MatchesState("green", map[string]StateValue{"red": "walk"}, "."))
	assert.True(t, MatchesState(
		map[string]StateValue{"A": "a2"},
		map[string]StateValue{"A": "a2", "B": "b1"},
		".",
	))
}

func TestToPathsAndStrings(t *testing.T) {
	value := map[string]StateValue{
		"A": "a2",
		"B": map[string]StateValue{"inner": "b1"},
	}
	assert.Equal(t, [][]string{{"A", "a2"}, {"B", "inner", "b1"}}, ToPaths(value))
	assert.Equal(t, []string{"A.a2", "B.inner.b1"}, ToStrings(value, "."))
	assert.Equal(t, []string{"green"}, ToStrings("green", "."))
}

func TestResolve_CompletesPartialValues(t *testing.T) {
	machine := mustMachine(newHierarchicalLightConfig())

	t.Run("atomic leaf", func(t *testing.T) {
		value, err := machine.Resolve("green")
		require.NoError(t, err)
		assert.True(t, ValueEquals("green", value))
	})

	t.Run("compound child resolves to initial descent", func(t *testing.T) {
		value, err := machine.Resolve("red")
		require.NoError(t, err)
		assert.True(t, ValueEquals(map[string]StateValue{"red": "walk"}, value))
	})

	t.Run("explicit descendant preserved", func(t *testing.T) {
		value, err := machine.Resolve("red.wait")
		require.NoError(t, err)
		assert.True(t, ValueEquals(map[string]StateValue{"red": "wait"}, value))
	})

	t.Run("unknown child fails", func(t *testing.T) {
		_, err := machine.Resolve("blue")
		require.Error(t, err)
		assert.True(t, IsStateError(err))
	})
}

func TestResolve_FillsParallelRegions(t *testing.T) {
	machine := mustMachine(newParallelConfig())

	value, err := machine.Resolve(map[string]StateValue{"A": "a2"})
	require.NoError(t, err)
	assert.True(t, ValueEquals(map[string]StateValue{"A": "a2", "B": "b1"}, value))

	value, err = machine.Resolve(nil)
	require.NoError(t, err)
	assert.True(t, ValueEquals(map[string]StateValue{"A": "a1", "B": "b1"}, value))
}
