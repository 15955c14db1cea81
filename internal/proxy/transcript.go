package proxy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
)

// TranscriptEvent is one NDJSON line in a relay transcript: either the user
// message going out to the upstream or the agent reply coming back.
type TranscriptEvent struct {
	Timestamp string         `json:"ts"`
	VisitorID string         `json:"visitor_id"`
	SessionID string         `json:"session_id"`
	Direction string         `json:"direction"`  // "outbound" | "inbound"
	EventType string         `json:"event_type"` // "user_message" | "agent_message" | "relay_error"
	Content   string         `json:"content"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// TranscriptLogger writes relay transcripts as per-session NDJSON files under
// dir/<visitor_id>/<session_id>.ndjson. Writes are queued and performed by a
// single background goroutine; when the queue is full events are dropped and
// counted rather than blocking the request path.
type TranscriptLogger interface {
	Log(event TranscriptEvent)
	Close() error
}

// TranscriptLogConfig controls transcript logging.
type TranscriptLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

type noopTranscriptLogger struct{}

func (noopTranscriptLogger) Log(TranscriptEvent) {}
func (noopTranscriptLogger) Close() error        { return nil }

type fileTranscriptLogger struct {
	dir     string
	queue   chan TranscriptEvent
	dropped atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once
	logger  *slog.Logger
}

// unsafePathChars matches anything we refuse to place in a file name derived
// from a client-supplied identifier.
var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// NewTranscriptLogger creates a transcript logger. When disabled it returns a
// no-op implementation.
func NewTranscriptLogger(cfg TranscriptLogConfig, logger *slog.Logger) (TranscriptLogger, error) {
	if !cfg.Enabled {
		return noopTranscriptLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	l := &fileTranscriptLogger{
		dir:    cfg.Dir,
		queue:  make(chan TranscriptEvent, queueSize),
		logger: logger,
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

// Log enqueues an event for writing. Never blocks.
func (l *fileTranscriptLogger) Log(event TranscriptEvent) {
	select {
	case l.queue <- event:
	default:
		if n := l.dropped.Add(1); n%100 == 1 {
			l.logger.Warn("transcript queue full, dropping events", "dropped_total", n)
		}
	}
}

// Close drains the queue and stops the writer goroutine. Idempotent.
func (l *fileTranscriptLogger) Close() error {
	l.once.Do(func() { close(l.queue) })
	l.wg.Wait()
	return nil
}

func (l *fileTranscriptLogger) writeLoop() {
	defer l.wg.Done()
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Warn("failed to write transcript event", "error", err)
		}
	}
}

func (l *fileTranscriptLogger) write(event TranscriptEvent) error {
	visitorDir := filepath.Join(l.dir, sanitizePathPart(event.VisitorID))
	if err := os.MkdirAll(visitorDir, 0755); err != nil {
		return fmt.Errorf("create visitor directory: %w", err)
	}

	path := filepath.Join(visitorDir, sanitizePathPart(event.SessionID)+".ndjson")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open transcript file: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transcript event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append transcript line: %w", err)
	}
	return nil
}

func sanitizePathPart(s string) string {
	s = unsafePathChars.ReplaceAllString(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}
