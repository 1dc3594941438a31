package normalize

import (
	"fmt"
	"strings"
)

// ReasoningFormat selects how reasoning controls are shaped for an upstream.
type ReasoningFormat int

const (
	// ReasoningNested emits {"reasoning": {"effort": ...}}.
	ReasoningNested ReasoningFormat = iota
	// ReasoningFlat emits {"reasoning_effort": ...}.
	ReasoningFlat
	// ReasoningNone omits reasoning controls.
	ReasoningNone
)

func (f ReasoningFormat) String() string {
	switch f {
	case ReasoningNested:
		return "nested"
	case ReasoningFlat:
		return "flat"
	case ReasoningNone:
		return "none"
	default:
		return fmt.Sprintf("ReasoningFormat(%d)", int(f))
	}
}

// ParseReasoningFormat maps a configuration string onto a format.
func ParseReasoningFormat(s string) (ReasoningFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nested":
		return ReasoningNested, nil
	case "flat":
		return ReasoningFlat, nil
	case "none", "off":
		return ReasoningNone, nil
	default:
		return ReasoningNone, fmt.Errorf("unknown reasoning format %q", s)
	}
}
