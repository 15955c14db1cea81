package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mkravets/embedchat/internal/domain"
	"github.com/mkravets/embedchat/internal/proxy"
)

// ErrBusy is returned when a submission is attempted while a previous one is
// still in flight. The widget disables its send control while loading; this
// guard backs that up server-side.
var ErrBusy = errors.New("a submission is already in flight")

// FallbackContent replaces an agent reply whose envelope carried no content.
// A missing content field is a recoverable empty-content case, not an error.
const FallbackContent = "No valid response received from agent."

// DefaultSuggestions is the fixed prompt list cycled before the conversation
// starts.
var DefaultSuggestions = []string{
	"What can you help me with?",
	"Tell me about your services",
	"How do I get started?",
	"Can I talk to a human?",
}

// Relay performs one upstream conversation turn and returns the upstream's
// status and raw body. Implemented by the proxy handler.
type Relay interface {
	Relay(ctx context.Context, visitorID string, payload proxy.Payload) (int, []byte, error)
}

// Timing bundles the animation intervals a conversation's timers use.
type Timing struct {
	SuggestionRotateInterval time.Duration
	LoadingStepInterval      time.Duration
}

// Conversation owns one tab's widget state for the page's lifetime: the
// message log, animation timers, and the submit flow. It lives only in
// memory; a reload within the idle TTL re-attaches to it, after that it is
// swept.
type Conversation struct {
	visitorID string
	sessionID string

	state       *State
	relay       Relay
	suggestions []string
	rotator     *Rotator
	stepper     *Stepper

	mu         sync.Mutex
	lastActive time.Time
	closed     bool
}

// NewConversation creates an empty conversation and starts the suggestion
// rotator. Call Close to cancel the timers.
func NewConversation(visitorID, sessionID string, relay Relay, suggestions []string, timing Timing) *Conversation {
	if len(suggestions) == 0 {
		suggestions = DefaultSuggestions
	}
	state := NewState()
	c := &Conversation{
		visitorID:   visitorID,
		sessionID:   sessionID,
		state:       state,
		relay:       relay,
		suggestions: suggestions,
		rotator:     NewRotator(state, len(suggestions), timing.SuggestionRotateInterval),
		stepper:     NewStepper(state, timing.LoadingStepInterval),
		lastActive:  time.Now(),
	}
	c.rotator.Start()
	return c
}

// VisitorID returns the owning visitor identifier.
func (c *Conversation) VisitorID() string { return c.visitorID }

// SessionID returns the owning tab session identifier.
func (c *Conversation) SessionID() string { return c.sessionID }

// State exposes the conversation state to the rendering layer by reference.
func (c *Conversation) State() *State { return c.state }

// Suggestions returns the fixed prompt list.
func (c *Conversation) Suggestions() []string { return c.suggestions }

// SubmitMessage runs one conversation turn. Whitespace-only text is a no-op.
// On success the conversation gains the user message and exactly one agent
// message; on failure it gains only the user message and the error is both
// recorded in state and returned. The loading flag is cleared on every exit
// path.
func (c *Conversation) SubmitMessage(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	if !c.state.beginSubmission() {
		return ErrBusy
	}
	c.touch()

	userMsg := domain.Message{Role: domain.RoleUser, Content: trimmed}
	c.state.AppendMessage(userMsg)

	// First message ends the suggestion phase for good.
	c.rotator.Stop()
	c.stepper.Start()

	defer func() {
		c.state.SetLoading(false)
		c.stepper.Stop()
	}()

	payload := proxy.NewPayload(userMsg, c.visitorID, c.sessionID)
	status, body, err := c.relay.Relay(ctx, c.visitorID, payload)
	if err != nil {
		c.state.SetError(err.Error())
		return err
	}
	if status < 200 || status >= 300 {
		err := fmt.Errorf("agent request failed with status %d", status)
		c.state.SetError(err.Error())
		return err
	}

	var env proxy.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		err = fmt.Errorf("invalid response from agent: %w", err)
		c.state.SetError(err.Error())
		return err
	}

	content := env.OutputData.Content
	if content == "" {
		content = FallbackContent
	}
	c.state.AppendMessage(domain.Message{Role: domain.RoleAgent, Content: content})
	return nil
}

// SubmitSuggestion submits the currently highlighted (or a chosen) suggestion.
func (c *Conversation) SubmitSuggestion(ctx context.Context, index int) error {
	if index < 0 || index >= len(c.suggestions) {
		return fmt.Errorf("suggestion index %d out of range", index)
	}
	return c.SubmitMessage(ctx, c.suggestions[index])
}

// LastActive returns when the conversation last saw activity.
func (c *Conversation) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

func (c *Conversation) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

// Touch marks the conversation active (called on snapshot reads so an open
// tab is not swept under the visitor).
func (c *Conversation) Touch() { c.touch() }

// Close cancels the conversation's timers. Idempotent.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.rotator.Stop()
	c.stepper.Stop()
}
