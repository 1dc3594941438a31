package sse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStream = "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
	"event: chunk\ndata: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
	": keep-alive\n\n" +
	"data: {not json}\n\n" +
	"data: {\"choices\":[{\"finish_reason\":\"stop\"}]}\r\n\r\n" +
	"data: [DONE]\n\n"

type collector struct {
	events []Event
	done   int
}

func (c *collector) onEvent(ev Event) { c.events = append(c.events, ev) }
func (c *collector) onDone()          { c.done++ }

func parseInChunks(t *testing.T, stream string, size int) *collector {
	t.Helper()

	c := &collector{}
	var leftover []byte
	for start := 0; start < len(stream); start += size {
		end := min(start+size, len(stream))
		leftover = Parse(leftover, []byte(stream[start:end]), c.onEvent, c.onDone)
	}
	Flush(leftover, c.onEvent, c.onDone)

	return c
}

func TestParse_SingleChunk(t *testing.T) {
	c := parseInChunks(t, sampleStream, len(sampleStream))

	require.Len(t, c.events, 3)
	assert.JSONEq(t, `{"choices":[{"delta":{"content":"Hel"}}]}`, string(c.events[0].Data))
	assert.Equal(t, "chunk", c.events[1].Name)
	assert.JSONEq(t, `{"choices":[{"finish_reason":"stop"}]}`, string(c.events[2].Data))
	assert.Equal(t, 1, c.done)
}

func TestParse_ChunkBoundaryInvariance(t *testing.T) {
	want := parseInChunks(t, sampleStream, len(sampleStream))

	for size := 1; size < len(sampleStream); size++ {
		got := parseInChunks(t, sampleStream, size)
		require.Equal(t, len(want.events), len(got.events), "chunk size %d", size)
		for i := range want.events {
			assert.Equal(t, string(want.events[i].Data), string(got.events[i].Data), "chunk size %d event %d", size, i)
			assert.Equal(t, want.events[i].Name, got.events[i].Name)
		}
		assert.Equal(t, want.done, got.done, "chunk size %d", size)
	}
}

func TestParse_KeepsDanglingPartialLine(t *testing.T) {
	c := &collector{}

	leftover := Parse(nil, []byte(`data: {"a":`), c.onEvent, c.onDone)
	assert.Empty(t, c.events)
	assert.Equal(t, `data: {"a":`, string(leftover))

	leftover = Parse(leftover, []byte("1}\n"), c.onEvent, c.onDone)
	assert.Empty(t, c.events)

	leftover = Parse(leftover, []byte("\n"), c.onEvent, c.onDone)
	require.Len(t, c.events, 1)
	assert.JSONEq(t, `{"a":1}`, string(c.events[0].Data))
	assert.Nil(t, leftover)
}

func TestParse_MultiLineData(t *testing.T) {
	c := &collector{}
	Parse(nil, []byte("data: {\"a\":\ndata: 2}\n\n"), c.onEvent, c.onDone)

	require.Len(t, c.events, 1)
	assert.JSONEq(t, `{"a":2}`, string(c.events[0].Data))
}

func TestParse_MalformedJSONIsSwallowed(t *testing.T) {
	c := &collector{}
	leftover := Parse(nil, []byte("data: {oops\n\ndata: {\"ok\":true}\n\n"), c.onEvent, c.onDone)

	require.Len(t, c.events, 1)
	assert.JSONEq(t, `{"ok":true}`, string(c.events[0].Data))
	assert.Nil(t, leftover)
	assert.Zero(t, c.done)
}

func TestFlush_UnterminatedEvent(t *testing.T) {
	c := &collector{}
	leftover := Parse(nil, []byte(strings.TrimSuffix("data: [DONE]\n\n", "\n\n")), c.onEvent, c.onDone)
	assert.Zero(t, c.done)

	Flush(leftover, c.onEvent, c.onDone)
	assert.Equal(t, 1, c.done)
}
