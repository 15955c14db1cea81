// Package domain contains the core entities of the chat widget.
package domain

// Role tags one side of a conversation turn.
type Role string

const (
	// RoleUser marks a message typed by the visitor.
	RoleUser Role = "user"
	// RoleAgent marks a message produced by the upstream agent.
	RoleAgent Role = "agent"
)

// Message is a single conversation turn. Messages are immutable once created.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
