/*
Package providers implements the upstream dialect layer of the gateway.

Every configured upstream is reached through a Provider, which converts the
canonical Chat-Completions request into its own wire format and decodes its
stream back into dialect-neutral Deltas. The orchestrator only ever sees
Deltas.

# Dialects

  - ChatProvider: Chat-Completions. Used by openai, openrouter, nvidia and
    anthropic (through its OpenAI-compatible endpoint). The variants differ
    in reasoning format, reasoning support, usage reporting and whether
    max_tokens is renamed to max_completion_tokens.
  - GeminiProvider: native generateContent streaming (alt=sse). System turns
    become systemInstruction, tool calls become functionCall parts, tool
    results become functionResponse parts. Reasoning effort maps onto a
    thinking budget.
  - ResponsesProvider: the Responses API. Messages become input items, tool
    turns become function_call and function_call_output items.

# Selection

The registry resolves a dialect from the provider configuration. An explicit
type wins; otherwise the API base URL domain decides, with a /responses path
on a known domain selecting the Responses dialect:

	provider, err := registry.Resolve(cfg.Type, cfg.APIBase)

# Stream decoding

A StreamDecoder is created per round because some dialects keep per-round
state (Gemini numbers function calls, Responses maps item ids to tool-call
indices). Decode is called once per parsed SSE event and may return zero or
more Deltas:

	decoder := provider.NewStreamDecoder()
	for _, delta := range decoder.Decode(event) {
		accumulator.Apply(delta.ToolCalls)
	}

A Delta carries at most: assistant text, tool-call fragments, opaque
reasoning details, a finish reason, usage, an in-band Done marker and an
in-band error. Errors reported inside the stream are surfaced as Delta.Err
rather than returned, so that the caller decides how the round ends.

Upstreams that answer a streaming request with a plain JSON body are handled
by DecodeResponse, which yields the same Deltas.

# Transport

Client performs the HTTP call for one configured provider. It asks for gzip
and brotli encodings and returns a decompressed body; status handling is left
to the caller so that non-2xx bodies can be reported verbatim.
*/
package providers
