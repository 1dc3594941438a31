// Package tokens counts prompt tokens for routing and the count_tokens tool.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const DefaultEncoding = "cl100k_base"

// Counter reports the number of tokens in a text.
type Counter interface {
	Count(text string) (int, error)
}

// Tiktoken loads its encoding lazily on first use; loading may fetch the BPE
// ranks over the network.
type Tiktoken struct {
	encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func NewTiktoken(encoding string) *Tiktoken {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Tiktoken{encoding: encoding}
}

func (t *Tiktoken) Count(text string) (int, error) {
	t.once.Do(func() {
		t.enc, t.err = tiktoken.GetEncoding(t.encoding)
	})
	if t.err != nil {
		return 0, fmt.Errorf("load %s encoding: %w", t.encoding, t.err)
	}

	return len(t.enc.Encode(text, nil, nil)), nil
}

// Approximate is an offline fallback: roughly four bytes per token.
type Approximate struct{}

func (Approximate) Count(text string) (int, error) {
	return (len(text) + 3) / 4, nil
}

// Fallback tries each counter in order and returns the first success.
type Fallback []Counter

func (f Fallback) Count(text string) (int, error) {
	var lastErr error
	for _, c := range f {
		n, err := c.Count(text)
		if err == nil {
			return n, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no token counter configured")
	}
	return 0, lastErr
}
