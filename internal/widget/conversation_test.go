package widget

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mkravets/embedchat/internal/domain"
	"github.com/mkravets/embedchat/internal/proxy"
)

type fakeRelay struct {
	calls    atomic.Int64
	status   int
	body     []byte
	err      error
	onRelay  func(payload proxy.Payload)
	lastBody proxy.Payload
}

func (f *fakeRelay) Relay(_ context.Context, _ string, payload proxy.Payload) (int, []byte, error) {
	f.calls.Add(1)
	f.lastBody = payload
	if f.onRelay != nil {
		f.onRelay(payload)
	}
	if f.err != nil {
		return 0, nil, f.err
	}
	return f.status, f.body, nil
}

func testTiming() Timing {
	return Timing{
		SuggestionRotateInterval: time.Hour,
		LoadingStepInterval:      time.Hour,
	}
}

func newTestConversation(relay Relay) *Conversation {
	return NewConversation("visitor-1", "session-1", relay, nil, testTiming())
}

func TestSubmitMessageAppendsUserBeforeNetwork(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{status: 200, body: []byte(`{"output_data":{"content":"ok"}}`)}
	conv := newTestConversation(relay)
	defer conv.Close()

	var lenAtRelay int
	relay.onRelay = func(proxy.Payload) {
		lenAtRelay = conv.State().Len()
	}

	if err := conv.SubmitMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SubmitMessage failed: %v", err)
	}
	if lenAtRelay != 1 {
		t.Errorf("Expected 1 message in conversation when relay fired, got %d", lenAtRelay)
	}
}

func TestSubmitMessageEmptyInputIsNoop(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{status: 200, body: []byte(`{}`)}
	conv := newTestConversation(relay)
	defer conv.Close()

	for _, input := range []string{"", "   ", "\n\t  "} {
		if err := conv.SubmitMessage(context.Background(), input); err != nil {
			t.Errorf("SubmitMessage(%q) returned error: %v", input, err)
		}
	}

	if got := conv.State().Len(); got != 0 {
		t.Errorf("Expected empty conversation, got %d messages", got)
	}
	if got := relay.calls.Load(); got != 0 {
		t.Errorf("Expected zero relay calls, got %d", got)
	}
}

func TestSubmitMessageSuccessAppendsTwoMessagesInOrder(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{status: 200, body: []byte(`{"output_data":{"content":"Hello"}}`)}
	conv := newTestConversation(relay)
	defer conv.Close()

	if err := conv.SubmitMessage(context.Background(), "hi there"); err != nil {
		t.Fatalf("SubmitMessage failed: %v", err)
	}

	messages := conv.State().Messages()
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != domain.RoleUser || messages[0].Content != "hi there" {
		t.Errorf("Unexpected user message: %+v", messages[0])
	}
	if messages[1].Role != domain.RoleAgent || messages[1].Content != "Hello" {
		t.Errorf("Unexpected agent message: %+v", messages[1])
	}
	if conv.State().Loading() {
		t.Error("Expected loading to be cleared after success")
	}
}

func TestSubmitMessageMissingContentUsesFallback(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{status: 200, body: []byte(`{"output_data":{}}`)}
	conv := newTestConversation(relay)
	defer conv.Close()

	if err := conv.SubmitMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SubmitMessage failed: %v", err)
	}

	messages := conv.State().Messages()
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}
	if messages[1].Content != FallbackContent {
		t.Errorf("Expected fallback content %q, got %q", FallbackContent, messages[1].Content)
	}
}

func TestSubmitMessageUpstreamErrorKeepsUserMessageOnly(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{status: 500, body: []byte(`{"error":"boom"}`)}
	conv := newTestConversation(relay)
	defer conv.Close()

	err := conv.SubmitMessage(context.Background(), "hi")
	if err == nil {
		t.Fatal("Expected an error for a 500 response")
	}

	if got := conv.State().Len(); got != 1 {
		t.Errorf("Expected exactly 1 message after failure, got %d", got)
	}
	if conv.State().Error() == "" {
		t.Error("Expected an error to be set in state")
	}
	if conv.State().Loading() {
		t.Error("Expected loading to be cleared after failure")
	}
}

func TestSubmitMessageTransportErrorSetsError(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{err: errors.New("connection refused")}
	conv := newTestConversation(relay)
	defer conv.Close()

	if err := conv.SubmitMessage(context.Background(), "hi"); err == nil {
		t.Fatal("Expected an error for a transport failure")
	}
	if got := conv.State().Len(); got != 1 {
		t.Errorf("Expected exactly 1 message, got %d", got)
	}
	if conv.State().Loading() {
		t.Error("Expected loading to be cleared")
	}
}

func TestSubmitMessageMalformedJSONSetsError(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{status: 200, body: []byte(`{not json`)}
	conv := newTestConversation(relay)
	defer conv.Close()

	if err := conv.SubmitMessage(context.Background(), "hi"); err == nil {
		t.Fatal("Expected an error for a malformed response body")
	}
	if got := conv.State().Len(); got != 1 {
		t.Errorf("Expected exactly 1 message, got %d", got)
	}
	if conv.State().Error() == "" {
		t.Error("Expected an error to be set in state")
	}
}

func TestSubmitMessageBusyGuard(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	relay := &fakeRelay{status: 200, body: []byte(`{"output_data":{"content":"ok"}}`)}
	conv := newTestConversation(relay)
	defer conv.Close()

	relay.onRelay = func(proxy.Payload) { <-release }

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- conv.SubmitMessage(context.Background(), "first")
	}()

	// Wait for the first submission to take the in-flight slot.
	deadline := time.Now().Add(2 * time.Second)
	for !conv.State().Loading() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !conv.State().Loading() {
		t.Fatal("First submission never started loading")
	}

	if err := conv.SubmitMessage(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy while in flight, got %v", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("First submission failed: %v", err)
	}
	if got := relay.calls.Load(); got != 1 {
		t.Errorf("Expected exactly 1 relay call, got %d", got)
	}
}

func TestSubmitMessagePayloadShape(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{status: 200, body: []byte(`{"output_data":{"content":"ok"}}`)}
	conv := newTestConversation(relay)
	defer conv.Close()

	if err := conv.SubmitMessage(context.Background(), "  hi  "); err != nil {
		t.Fatalf("SubmitMessage failed: %v", err)
	}

	p := relay.lastBody
	if !p.Stateful || p.Stream || p.Verbose {
		t.Errorf("Unexpected payload flags: stateful=%v stream=%v verbose=%v", p.Stateful, p.Stream, p.Verbose)
	}
	if p.UserID != "visitor-1" || p.SessionID != "session-1" {
		t.Errorf("Unexpected identifiers: user_id=%q session_id=%q", p.UserID, p.SessionID)
	}
	if p.Data.Message.Content != "hi" {
		t.Errorf("Expected trimmed message content, got %q", p.Data.Message.Content)
	}
}

func TestSubmitSuggestion(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{status: 200, body: []byte(`{"output_data":{"content":"ok"}}`)}
	conv := NewConversation("v", "s", relay, []string{"first prompt", "second prompt"}, testTiming())
	defer conv.Close()

	if err := conv.SubmitSuggestion(context.Background(), 1); err != nil {
		t.Fatalf("SubmitSuggestion failed: %v", err)
	}
	messages := conv.State().Messages()
	if len(messages) == 0 || messages[0].Content != "second prompt" {
		t.Errorf("Expected suggestion text as the user message, got %+v", messages)
	}

	if err := conv.SubmitSuggestion(context.Background(), 5); err == nil {
		t.Error("Expected out-of-range suggestion index to fail")
	}
}
