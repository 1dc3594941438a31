package providers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// contentPart is one element of an OpenAI multimodal content array.
type contentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL json.RawMessage `json:"image_url,omitempty"`

	raw json.RawMessage
}

// imageURL reads image_url in either its string or {url, detail} form.
func (p contentPart) imageURL() (url, detail string) {
	if len(p.ImageURL) == 0 {
		return "", ""
	}
	if err := json.Unmarshal(p.ImageURL, &url); err == nil {
		return url, ""
	}

	var obj struct {
		URL    string `json:"url"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(p.ImageURL, &obj); err != nil {
		return "", ""
	}
	return obj.URL, obj.Detail
}

// contentParts decodes content sent as a parts array. It returns nil for
// plain strings and anything that is not an array of objects.
func contentParts(content any) []contentPart {
	raw, ok := content.(json.RawMessage)
	if !ok {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	parts := make([]contentPart, 0, len(items))
	for _, item := range items {
		var part contentPart
		if err := json.Unmarshal(item, &part); err != nil {
			return nil
		}
		part.raw = item
		parts = append(parts, part)
	}
	return parts
}

// contentText flattens message content: strings as they are, multimodal
// arrays reduced to their text parts.
func contentText(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.RawMessage:
		var parts []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(v, &parts); err == nil {
			var b strings.Builder
			for _, part := range parts {
				b.WriteString(part.Text)
			}
			return b.String()
		}
		return string(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
