package core

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

const (
	AppName       = "contextd"
	AppVersion    = "0.1.0"
	RepositoryURL = "https://github.com/sandevgo/contextd"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleUnknown   Role = "unknown"
)

// ParseRole maps free-form role strings onto the known roles. Anything else,
// including an empty string, is RoleUnknown.
func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleUser, RoleAssistant, RoleSystem:
		return r
	default:
		return RoleUnknown
	}
}

// UnmarshalJSON never fails: non-string roles decode as RoleUnknown.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*r = RoleUnknown
		return nil
	}
	*r = ParseRole(s)
	return nil
}

type ContentKind uint8

const (
	ContentText ContentKind = iota
	ContentParts
	ContentEmpty
	ContentUnknown
)

// Content is a tagged union over the shapes message content shows up in:
// a plain string, a list of typed parts, null, or something unrecognized.
// Text is only meaningful for ContentText and ContentParts.
type Content struct {
	Kind ContentKind
	Text string
	Raw  json.RawMessage
}

func TextContent(s string) Content {
	return Content{Kind: ContentText, Text: s}
}

// IsText reports whether the content carries usable text.
func (c Content) IsText() bool {
	return c.Kind == ContentText || c.Kind == ContentParts
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = Content{Kind: ContentEmpty}
		return nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			*c = TextContent(s)
			return nil
		}
	case '[':
		var parts []contentPart
		if err := json.Unmarshal(trimmed, &parts); err == nil {
			texts := make([]string, 0, len(parts))
			for _, p := range parts {
				if p.Text != "" && (p.Type == "" || p.Type == "text") {
					texts = append(texts, p.Text)
				}
			}
			*c = Content{
				Kind: ContentParts,
				Text: strings.Join(texts, "\n"),
				Raw:  append(json.RawMessage(nil), trimmed...),
			}
			return nil
		}
	}

	*c = Content{Kind: ContentUnknown, Raw: append(json.RawMessage(nil), trimmed...)}
	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case ContentEmpty:
		return []byte("null"), nil
	case ContentParts, ContentUnknown:
		if len(c.Raw) > 0 {
			return c.Raw, nil
		}
	}
	return json.Marshal(c.Text)
}

// Message is immutable once appended to a conversation.
type Message struct {
	Role      Role           `json:"role"`
	Content   Content        `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Conversation is a read-only snapshot owned by the conversation store.
type Conversation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	ProjectPath string    `json:"project_path"`
	Messages    []Message `json:"messages"`
	UpdatedAt   time.Time `json:"updated_at"`
}
