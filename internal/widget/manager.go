package widget

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const sweepInterval = time.Minute

// Manager tracks live conversations keyed by visitor:session. Conversations
// exist only in memory for the tab's lifetime; a background sweep evicts
// those idle past the TTL and cancels their timers.
type Manager struct {
	mu            sync.Mutex
	conversations map[string]*Conversation

	relay       Relay
	suggestions []string
	timing      Timing
	ttl         time.Duration
}

// NewManager creates a conversation manager.
func NewManager(relay Relay, suggestions []string, timing Timing, ttl time.Duration) *Manager {
	return &Manager{
		conversations: make(map[string]*Conversation),
		relay:         relay,
		suggestions:   suggestions,
		timing:        timing,
		ttl:           ttl,
	}
}

func conversationKey(visitorID, sessionID string) string {
	return visitorID + ":" + sessionID
}

// Get returns the live conversation for the visitor/session pair, creating
// it on first use.
func (m *Manager) Get(visitorID, sessionID string) *Conversation {
	key := conversationKey(visitorID, sessionID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if conv, ok := m.conversations[key]; ok {
		return conv
	}
	conv := NewConversation(visitorID, sessionID, m.relay, m.suggestions, m.timing)
	m.conversations[key] = conv
	return conv
}

// Peek returns the live conversation without creating one.
func (m *Manager) Peek(visitorID, sessionID string) *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversations[conversationKey(visitorID, sessionID)]
}

// Len returns the number of live conversations.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conversations)
}

// StartSweeper runs a background goroutine that periodically evicts idle
// conversations. It stops when ctx is canceled.
func (m *Manager) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("conversation sweeper started", "interval", sweepInterval, "ttl", m.ttl)

		for {
			select {
			case <-ticker.C:
				if evicted := m.SweepIdle(time.Now()); evicted > 0 {
					slog.Info("swept idle conversations", "count", evicted)
				}
			case <-ctx.Done():
				slog.Info("conversation sweeper shutting down", "reason", ctx.Err())
				m.CloseAll()
				return
			}
		}
	}()
}

// SweepIdle evicts conversations idle past the TTL, closing their timers.
// Returns the number evicted.
func (m *Manager) SweepIdle(now time.Time) int {
	m.mu.Lock()
	var expired []*Conversation
	for key, conv := range m.conversations {
		if now.Sub(conv.LastActive()) > m.ttl {
			expired = append(expired, conv)
			delete(m.conversations, key)
		}
	}
	m.mu.Unlock()

	for _, conv := range expired {
		conv.Close()
	}
	return len(expired)
}

// CloseAll closes every live conversation. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conversations := make([]*Conversation, 0, len(m.conversations))
	for key, conv := range m.conversations {
		conversations = append(conversations, conv)
		delete(m.conversations, key)
	}
	m.mu.Unlock()

	for _, conv := range conversations {
		conv.Close()
	}
}
