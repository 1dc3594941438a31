package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/mihaisavezi/toolgate/internal/chat"
	"github.com/mihaisavezi/toolgate/internal/tokens"
)

// RegisterBuiltins adds get_time, count_tokens and whoami.
func RegisterBuiltins(r *Registry, now func() time.Time, counter tokens.Counter) error {
	for _, tool := range []Tool{GetTime(now), CountTokens(counter), WhoAmI()} {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// GetTime reports the current time, optionally in an IANA time zone.
func GetTime(now func() time.Time) Tool {
	if now == nil {
		now = time.Now
	}

	def := chat.NewFunctionTool("get_time", "Get the current date and time.")
	def.Function.Parameters = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA time zone name, for example Europe/Paris. Defaults to UTC.",
			},
		},
	}

	return Tool{
		Definition: def,
		Run: func(_ context.Context, args json.RawMessage, _ Invocation) (string, error) {
			var params struct {
				Timezone string `json:"timezone"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}

			loc := time.UTC
			if params.Timezone != "" {
				var err error
				if loc, err = time.LoadLocation(params.Timezone); err != nil {
					return "", fmt.Errorf("unknown timezone %q", params.Timezone)
				}
			}

			return now().In(loc).Format(time.RFC3339), nil
		},
	}
}

// CountTokens counts the tokens of a text with the gateway's tokenizer.
func CountTokens(counter tokens.Counter) Tool {
	def := chat.NewFunctionTool("count_tokens", "Count the tokens in a piece of text.")
	def.Function.Parameters = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []string{"text"},
	}

	return Tool{
		Definition: def,
		Run: func(_ context.Context, args json.RawMessage, _ Invocation) (string, error) {
			var params struct {
				Text *string `json:"text"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if params.Text == nil {
				return "", fmt.Errorf("missing required argument: text")
			}

			n, err := counter.Count(*params.Text)
			if err != nil {
				return "", err
			}

			return fmt.Sprintf(`{"tokens":%d}`, n), nil
		},
	}
}

// WhoAmI reports the identity the call runs under.
func WhoAmI() Tool {
	return Tool{
		Definition: chat.NewFunctionTool("whoami", "Report the calling user and conversation."),
		Run: func(_ context.Context, _ json.RawMessage, inv Invocation) (string, error) {
			data, err := json.Marshal(map[string]string{
				"user_id":         inv.UserID,
				"conversation_id": inv.ConversationID,
			})
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
	}
}
