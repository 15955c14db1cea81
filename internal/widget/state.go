// Package widget implements the chat widget's conversation core: an explicit
// state object updated only through transition methods, timers for the
// suggestion and loading animations, and the submit flow against the relay.
package widget

import (
	"sync"

	"github.com/mkravets/embedchat/internal/domain"
)

// Loading indicator steps cycle 1..maxLoadingStep while a submission is in
// flight, driving the multi-phase dot animation.
const (
	minLoadingStep = 1
	maxLoadingStep = 5
)

// State holds all mutable widget state. Every mutation goes through a
// transition method; there are no ambient globals. The mutex is needed
// because timers and HTTP handlers touch state concurrently.
type State struct {
	mu          sync.Mutex
	input       string
	messages    []domain.Message
	loading     bool
	err         string
	promptIndex int
	loadingStep int
	started     bool
}

// NewState creates an empty conversation state.
func NewState() *State {
	return &State{loadingStep: minLoadingStep}
}

// SetInput replaces the pending input text.
func (s *State) SetInput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = text
}

// Input returns the pending input text.
func (s *State) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// AppendMessage appends a message to the conversation. The conversation is
// append-only: messages are never reordered or mutated in place.
func (s *State) AppendMessage(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.started = true
}

// Messages returns a snapshot copy of the conversation.
func (s *State) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages in the conversation.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// SetLoading sets the loading flag. Clearing it resets the loading step so
// the next submission's indicator starts from the first phase.
func (s *State) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = loading
	if !loading {
		s.loadingStep = minLoadingStep
	}
}

// Loading returns the loading flag.
func (s *State) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// SetError records an error string for inline display.
func (s *State) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = msg
}

// ClearError dismisses the displayed error.
func (s *State) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = ""
}

// Error returns the currently displayed error string, if any.
func (s *State) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// RotatePrompt advances the highlighted suggestion index, wrapping at count.
func (s *State) RotatePrompt(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count <= 0 {
		s.promptIndex = 0
		return
	}
	s.promptIndex = (s.promptIndex + 1) % count
}

// PromptIndex returns the highlighted suggestion index.
func (s *State) PromptIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promptIndex
}

// AdvanceLoadingStep cycles the loading step through 1..5.
func (s *State) AdvanceLoadingStep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadingStep++
	if s.loadingStep > maxLoadingStep {
		s.loadingStep = minLoadingStep
	}
}

// LoadingStep returns the current loading step.
func (s *State) LoadingStep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingStep
}

// Started reports whether the conversation has any messages.
func (s *State) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// beginSubmission atomically takes the in-flight slot: it fails when a
// submission is already loading, otherwise clears the input and any previous
// error and raises the loading flag.
func (s *State) beginSubmission() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading {
		return false
	}
	s.input = ""
	s.err = ""
	s.loading = true
	return true
}
