// Package toolcall reconstructs tool calls from streamed fragments.
package toolcall

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mihaisavezi/toolgate/internal/chat"
)

// Delta is one tool-call fragment as it appears in a streamed chunk.
type Delta struct {
	Index    *int          `json:"index,omitempty"`
	ID       string        `json:"id,omitempty"`
	Type     string        `json:"type,omitempty"`
	Function FunctionDelta `json:"function"`
}

type FunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// IndexedDelta is a convenience constructor for dialects that know the index.
func IndexedDelta(index int, id, name, arguments string) Delta {
	return Delta{
		Index:    &index,
		ID:       id,
		Function: FunctionDelta{Name: name, Arguments: arguments},
	}
}

type record struct {
	id        string
	name      string
	arguments strings.Builder
}

// Accumulator merges deltas for one round. It is not safe for concurrent use.
type Accumulator struct {
	calls map[int]*record
	last  int
}

func NewAccumulator() *Accumulator {
	return &Accumulator{calls: make(map[int]*record), last: -1}
}

// Apply merges a batch of deltas into the current state.
func (a *Accumulator) Apply(deltas []Delta) {
	for _, d := range deltas {
		index := a.resolveIndex(d)

		rec, ok := a.calls[index]
		if !ok {
			rec = &record{}
			a.calls[index] = rec
		}

		if rec.id == "" && d.ID != "" {
			rec.id = d.ID
		}
		if rec.name == "" && d.Function.Name != "" {
			rec.name = d.Function.Name
		}
		rec.arguments.WriteString(d.Function.Arguments)

		a.last = index
	}
}

// resolveIndex attributes deltas that omit an index by id, then to the most
// recently touched call.
func (a *Accumulator) resolveIndex(d Delta) int {
	if d.Index != nil {
		return *d.Index
	}

	if d.ID != "" {
		for index, rec := range a.calls {
			if rec.id == d.ID {
				return index
			}
		}
		return a.nextIndex()
	}

	if a.last >= 0 {
		return a.last
	}

	return 0
}

func (a *Accumulator) nextIndex() int {
	next := 0
	for index := range a.calls {
		if index >= next {
			next = index + 1
		}
	}
	return next
}

// Len reports how many distinct calls are pending.
func (a *Accumulator) Len() int {
	return len(a.calls)
}

// Finalize returns the complete calls in ascending index order and resets
// the accumulator for the next round.
func (a *Accumulator) Finalize() []chat.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}

	indices := make([]int, 0, len(a.calls))
	for index := range a.calls {
		indices = append(indices, index)
	}
	sort.Ints(indices)

	calls := make([]chat.ToolCall, 0, len(indices))
	for _, index := range indices {
		rec := a.calls[index]

		id := rec.id
		if id == "" {
			id = generateID()
		}

		calls = append(calls, chat.ToolCall{
			Index: index,
			ID:    id,
			Type:  chat.ToolTypeFunction,
			Function: chat.FunctionCall{
				Name:      rec.name,
				Arguments: rec.arguments.String(),
			},
		})
	}

	a.calls = make(map[int]*record)
	a.last = -1

	return calls
}

func generateID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
