// Package proxy implements the credential-shielding relay between the public
// widget and the private upstream agent API.
package proxy

import "github.com/mkravets/embedchat/internal/domain"

// PayloadData wraps the message inside the upstream request body.
type PayloadData struct {
	Message domain.Message `json:"message"`
}

// Payload is the request body the widget sends to the relay and the relay
// forwards to the upstream agent API.
type Payload struct {
	Data      PayloadData `json:"data"`
	Stateful  bool        `json:"stateful"`
	Stream    bool        `json:"stream"`
	UserID    string      `json:"user_id"`
	SessionID string      `json:"session_id"`
	Verbose   bool        `json:"verbose"`
}

// NewPayload builds a relay payload for one conversation turn. Conversation
// continuity is delegated entirely to the upstream via the identifier pair,
// so stateful is always true and streaming is never requested.
func NewPayload(msg domain.Message, visitorID, sessionID string) Payload {
	return Payload{
		Data:      PayloadData{Message: msg},
		Stateful:  true,
		Stream:    false,
		UserID:    visitorID,
		SessionID: sessionID,
		Verbose:   false,
	}
}

// EnvelopeOutput holds the agent's reply content.
type EnvelopeOutput struct {
	Content string `json:"content"`
}

// Envelope is the upstream response body. A missing or empty
// output_data.content is a recoverable empty-content case, not an error.
type Envelope struct {
	OutputData EnvelopeOutput `json:"output_data"`
}
