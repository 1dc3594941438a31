package toolcall

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulator_ConcatenatesArguments(t *testing.T) {
	acc := NewAccumulator()

	acc.Apply([]Delta{IndexedDelta(0, "call_1", "get_weather", "")})
	acc.Apply([]Delta{IndexedDelta(0, "", "", `{"loc`)})
	acc.Apply([]Delta{IndexedDelta(0, "", "", `ation":`)})
	acc.Apply([]Delta{IndexedDelta(0, "", "", `"Paris"}`)})

	calls := acc.Finalize()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "function", calls[0].Type)
	assert.Equal(t, "get_weather", calls[0].Function.Name)
	assert.JSONEq(t, `{"location":"Paris"}`, calls[0].Function.Arguments)
}

func TestAccumulator_GroupingInvariance(t *testing.T) {
	args := `{"query":"weather in Paris","units":"metric","days":3}`

	for size := 1; size <= len(args); size++ {
		acc := NewAccumulator()
		acc.Apply([]Delta{IndexedDelta(0, "call_x", "forecast", "")})

		var batch []Delta
		for start := 0; start < len(args); start += size {
			end := min(start+size, len(args))
			batch = append(batch, IndexedDelta(0, "", "", args[start:end]))
			if len(batch) == 2 {
				acc.Apply(batch)
				batch = nil
			}
		}
		acc.Apply(batch)

		calls := acc.Finalize()
		require.Len(t, calls, 1, "fragment size %d", size)
		assert.Equal(t, args, calls[0].Function.Arguments, "fragment size %d", size)
		assert.True(t, json.Valid([]byte(calls[0].Function.Arguments)))
	}
}

func TestAccumulator_MultipleIndices(t *testing.T) {
	acc := NewAccumulator()

	acc.Apply([]Delta{
		IndexedDelta(1, "call_b", "second", `{"b":`),
		IndexedDelta(0, "call_a", "first", `{"a":`),
	})
	acc.Apply([]Delta{
		IndexedDelta(0, "", "", `1}`),
		IndexedDelta(1, "", "", `2}`),
	})
	assert.Equal(t, 2, acc.Len())

	calls := acc.Finalize()
	require.Len(t, calls, 2)
	assert.Equal(t, 0, calls[0].Index)
	assert.Equal(t, "first", calls[0].Function.Name)
	assert.Equal(t, `{"a":1}`, calls[0].Function.Arguments)
	assert.Equal(t, 1, calls[1].Index)
	assert.Equal(t, "second", calls[1].Function.Name)
	assert.Equal(t, `{"b":2}`, calls[1].Function.Arguments)
}

func TestAccumulator_NameAndIDNotOverwritten(t *testing.T) {
	acc := NewAccumulator()
	acc.Apply([]Delta{IndexedDelta(0, "call_1", "get_time", "")})
	acc.Apply([]Delta{IndexedDelta(0, "call_other", "other", "{}")})

	calls := acc.Finalize()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "get_time", calls[0].Function.Name)
}

func TestAccumulator_MissingIndex(t *testing.T) {
	acc := NewAccumulator()
	acc.Apply([]Delta{{ID: "call_a", Function: FunctionDelta{Name: "a"}}})
	acc.Apply([]Delta{{Function: FunctionDelta{Arguments: `{}`}}})
	acc.Apply([]Delta{{ID: "call_b", Function: FunctionDelta{Name: "b", Arguments: `{"x":1}`}}})

	calls := acc.Finalize()
	require.Len(t, calls, 2)
	assert.Equal(t, "call_a", calls[0].ID)
	assert.Equal(t, `{}`, calls[0].Function.Arguments)
	assert.Equal(t, "call_b", calls[1].ID)
	assert.Equal(t, 1, calls[1].Index)
}

func TestAccumulator_FinalizeResetsAndGeneratesIDs(t *testing.T) {
	acc := NewAccumulator()
	assert.Nil(t, acc.Finalize())

	acc.Apply([]Delta{IndexedDelta(0, "", "get_time", "")})
	calls := acc.Finalize()
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(calls[0].ID, "call_"))
	assert.Empty(t, calls[0].Function.Arguments)

	assert.Zero(t, acc.Len())
	assert.Nil(t, acc.Finalize())
}

func TestDelta_UnmarshalChunk(t *testing.T) {
	var deltas []Delta
	err := json.Unmarshal([]byte(`[{"index":2,"id":"call_z","type":"function","function":{"name":"n"}}]`), &deltas)
	require.NoError(t, err)

	require.Len(t, deltas, 1)
	require.NotNil(t, deltas[0].Index)
	assert.Equal(t, 2, *deltas[0].Index)
	assert.Equal(t, "", deltas[0].Function.Arguments)
}
