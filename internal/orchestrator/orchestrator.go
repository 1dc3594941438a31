// Package orchestrator runs the tool loop of one chat request: stream a round
// from the upstream, run the tools it asked for, feed the results back and
// repeat until the model answers or the round cap is reached.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mihaisavezi/toolgate/internal/chat"
	"github.com/mihaisavezi/toolgate/internal/emitter"
	"github.com/mihaisavezi/toolgate/internal/providers"
	"github.com/mihaisavezi/toolgate/internal/sse"
	"github.com/mihaisavezi/toolgate/internal/tools"
)

const (
	DefaultMaxRounds       = 10
	DefaultStreamTimeout   = 30 * time.Second
	DefaultToolConcurrency = 4

	readBufferSize = 32 * 1024
	maxErrorBody   = 64 * 1024
)

type Config struct {
	MaxRounds     int
	StreamTimeout time.Duration
	// ToolConcurrency bounds parallel tool runs within a round; 1 runs them
	// one after another.
	ToolConcurrency int
}

func (c Config) withDefaults() Config {
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = DefaultStreamTimeout
	}
	if c.ToolConcurrency <= 0 {
		c.ToolConcurrency = DefaultToolConcurrency
	}
	return c
}

// Persistence records the conversation as it happens.
type Persistence interface {
	AppendText(text string)
	AppendToolCalls(calls []chat.ToolCall)
	AppendToolOutput(out emitter.ToolOutput)
	MarkError(err error)
	// Metadata is read once, right before the terminal marker.
	Metadata() emitter.Metadata
	RecordFinal(state *State)
}

// Input is one client request ready for orchestration.
type Input struct {
	// Request carries the client turns and the active tool set.
	Request     *chat.Request
	Invocation  tools.Invocation
	Emitter     emitter.Emitter
	Persistence Persistence
	// SingleRound returns tool calls to the client instead of running them.
	SingleRound bool
}

type Orchestrator struct {
	upstream providers.Upstream
	executor tools.Executor
	config   Config
	logger   *slog.Logger
}

func New(upstream providers.Upstream, executor tools.Executor, config Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		upstream: upstream,
		executor: executor,
		config:   config.withDefaults(),
		logger:   logger,
	}
}

// Run drives the request to completion. It always ends with Metadata and Done
// on the emitter, whatever happened upstream.
func (o *Orchestrator) Run(ctx context.Context, in Input) *State {
	if in.Persistence == nil {
		in.Persistence = Discard
	}

	// The in-flight round and its tools finish even if the client leaves.
	ctx = context.WithoutCancel(ctx)
	state := newState(in.Request.Messages)

	for {
		calls, err := o.streamRound(ctx, in, state)
		if err != nil {
			o.fail(in, state, err)
			break
		}

		if len(calls) == 0 {
			break
		}

		if in.SingleRound {
			state.PendingToolCalls = calls
			break
		}

		o.runTools(ctx, in, state, calls)

		state.Round++
		if state.Round > o.config.MaxRounds {
			o.logger.Warn("Round limit reached", "max_rounds", o.config.MaxRounds, "model", in.Request.Model)
			in.Emitter.Emit(emitter.ContentDelta{Text: RoundLimitNotice})
			in.Persistence.AppendText(RoundLimitNotice)
			state.RoundLimitHit = true
			state.FinishReason = chat.FinishReasonLength
			break
		}

		if in.Emitter.Closed() {
			o.logger.Info("Client disconnected, skipping further rounds", "round", state.Round)
			break
		}
	}

	o.finish(in, state)
	return state
}

// streamRound sends the current turns upstream and consumes the reply. It
// returns the finalized tool calls of the round.
func (o *Orchestrator) streamRound(ctx context.Context, in Input, state *State) ([]chat.ToolCall, error) {
	req := in.Request.WithTurns(state.Messages, in.Request.Tools)
	req.Stream = true

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wd := startWatchdog(o.config.StreamTimeout, cancel)
	defer wd.disarm()

	state.Requests++
	o.logger.Debug("Starting round", "round", state.Round, "messages", len(req.Messages), "tools", len(req.Tools))

	resp, err := o.upstream.Send(ctx, req)
	if err != nil {
		if wd.fired() {
			return nil, ErrStreamTimeout
		}
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		wd.disarm()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	r := newRound(in.Emitter, in.Persistence)
	body := &firstByteReader{r: resp.Body, w: wd}

	if resp.Streaming() {
		err = readStream(body, resp.Provider.NewStreamDecoder(), r)
	} else {
		err = readBody(body, resp.Provider, r)
	}
	if err != nil {
		if wd.fired() && !body.seen {
			return nil, ErrStreamTimeout
		}
		return nil, &TransportError{Err: err}
	}

	state.Usage.Add(r.usage)
	if r.finishReason != "" {
		state.FinishReason = r.finishReason
	}

	calls := r.accumulator.Finalize()
	if r.err != nil {
		return nil, r.err
	}

	if len(calls) == 0 {
		state.Messages = append(state.Messages, chat.Message{Role: chat.RoleAssistant, Content: r.text.String()})
		if state.FinishReason == "" || state.FinishReason == chat.FinishReasonToolCalls {
			state.FinishReason = chat.FinishReasonStop
		}
		return nil, nil
	}

	in.Emitter.Emit(emitter.ToolCallsChunk{Calls: calls})
	state.Messages = append(state.Messages, r.assistantTurn(calls))
	in.Persistence.AppendToolCalls(calls)
	state.FinishReason = chat.FinishReasonToolCalls

	o.logger.Debug("Round produced tool calls", "round", state.Round, "tool_calls", len(calls))

	return calls, nil
}

// readStream pumps SSE bytes through the parser until the round ends.
func readStream(body io.Reader, decoder providers.StreamDecoder, r *round) error {
	var leftover []byte

	onEvent := func(ev sse.Event) {
		for _, d := range decoder.Decode(ev) {
			r.apply(d)
		}
	}
	onDone := func() {
		r.done = true
	}

	buf := make([]byte, readBufferSize)
	for !r.done {
		n, err := body.Read(buf)
		if n > 0 {
			leftover = sse.Parse(leftover, buf[:n], onEvent, onDone)
		}

		if errors.Is(err, io.EOF) {
			sse.Flush(leftover, onEvent, onDone)
			return nil
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// readBody handles upstreams that answered with a plain JSON document.
func readBody(body io.Reader, provider providers.Provider, r *round) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	deltas, err := provider.DecodeResponse(data)
	if err != nil {
		return err
	}

	for _, d := range deltas {
		r.apply(d)
	}

	return nil
}

// runTools executes the round's calls and appends their results in index
// order, whatever order they completed in.
func (o *Orchestrator) runTools(ctx context.Context, in Input, state *State, calls []chat.ToolCall) {
	outputs := make([]string, len(calls))

	if o.config.ToolConcurrency == 1 || len(calls) == 1 {
		for i, call := range calls {
			outputs[i] = o.runTool(ctx, in.Invocation, call)
		}
	} else {
		sem := make(chan struct{}, o.config.ToolConcurrency)

		var wg sync.WaitGroup
		for i, call := range calls {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int, call chat.ToolCall) {
				defer wg.Done()
				defer func() { <-sem }()
				outputs[i] = o.runTool(ctx, in.Invocation, call)
			}(i, call)
		}
		wg.Wait()
	}

	for i, call := range calls {
		out := emitter.ToolOutput{
			ToolCallID: call.ID,
			Name:       call.Function.Name,
			Output:     outputs[i],
		}

		in.Emitter.Emit(out)
		in.Persistence.AppendToolOutput(out)
		state.Messages = append(state.Messages, chat.Message{
			Role:       chat.RoleTool,
			ToolCallID: call.ID,
			Name:       call.Function.Name,
			Content:    outputs[i],
		})
	}
}

// runTool never fails: errors and panics become the tool's output.
func (o *Orchestrator) runTool(ctx context.Context, inv tools.Invocation, call chat.ToolCall) (output string) {
	name := call.Function.Name

	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("Tool panicked", "tool", name, "panic", p)
			output = (&tools.ExecutionError{Name: name, Err: fmt.Errorf("panic: %v", p)}).Error()
		}
	}()

	out, err := o.executor.Execute(ctx, call, inv)
	if err != nil {
		var execErr *tools.ExecutionError
		if !errors.As(err, &execErr) {
			execErr = &tools.ExecutionError{Name: name, Err: err}
		}

		o.logger.Warn("Tool failed", "tool", name, "tool_call_id", call.ID, "error", err)

		return execErr.Error()
	}

	return out
}

func (o *Orchestrator) fail(in Input, state *State, err error) {
	state.Err = err
	state.ErrorKind = KindOf(err)
	state.FinishReason = chat.FinishReasonStop

	o.logger.Error("Orchestration failed",
		"kind", state.ErrorKind,
		"round", state.Round,
		"model", in.Request.Model,
		"error", err,
	)

	in.Emitter.Emit(emitter.ContentDelta{Text: Notice(err)})
	in.Persistence.MarkError(err)
}

func (o *Orchestrator) finish(in Input, state *State) {
	state.Terminated = true
	if state.FinishReason == "" {
		state.FinishReason = chat.FinishReasonStop
	}

	in.Persistence.RecordFinal(state)

	meta := in.Persistence.Metadata()
	meta.Rounds = state.Requests
	if state.Err != nil {
		meta.Error = true
	}
	if state.Usage != (chat.Usage{}) {
		usage := state.Usage
		meta.Usage = &usage
	}
	if meta.Model == "" {
		meta.Model = in.Request.Model
	}

	in.Emitter.Emit(meta)
	in.Emitter.Emit(emitter.Done{
		FinishReason:     state.FinishReason,
		PendingToolCalls: state.PendingToolCalls,
	})
}

// Discard is a Persistence that keeps nothing.
var Discard Persistence = discard{}

type discard struct{}

func (discard) AppendText(string) {}
func (discard) AppendToolCalls([]chat.ToolCall) {}
func (discard) AppendToolOutput(emitter.ToolOutput) {}
func (discard) MarkError(error) {}
func (discard) Metadata() emitter.Metadata { return emitter.Metadata{} }
func (discard) RecordFinal(*State) {}
