// Package types provides core types used across the agentcrew governance layer.
// This package has ZERO dependencies on other agentcrew packages to avoid circular imports.
package types

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a structured conversation message exchanged with the
// external engine. A nil Content means the engine sent no text (for example a
// pure tool-call turn).
type Message struct {
	Role    Role    `json:"role"`
	Name    string  `json:"name,omitempty"`
	Content *string `json:"content"`
}

// NewMessage creates a new message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: &content}
}

// Text returns the message content, or "" when Content is nil.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}
