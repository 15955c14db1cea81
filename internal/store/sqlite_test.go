package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mkravets/embedchat/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestGetVisitorMissingReturnsNil(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)

	visitor, err := repo.GetVisitor(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetVisitor failed: %v", err)
	}
	if visitor != nil {
		t.Errorf("Expected nil for an unknown visitor, got %+v", visitor)
	}
}

func TestUpsertAndGetVisitor(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	original := &domain.Visitor{
		VisitorID:    "abc123",
		FirstSeenAt:  now,
		LastSeenAt:   now,
		MessageCount: 0,
	}
	if err := repo.UpsertVisitor(ctx, original); err != nil {
		t.Fatalf("UpsertVisitor failed: %v", err)
	}

	got, err := repo.GetVisitor(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetVisitor failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected a visitor, got nil")
	}
	if got.VisitorID != "abc123" {
		t.Errorf("Unexpected visitor ID: %q", got.VisitorID)
	}
	if !got.FirstSeenAt.Equal(now) {
		t.Errorf("Expected first seen %v, got %v", now, got.FirstSeenAt)
	}

	// Re-upserting keeps first_seen_at but refreshes last_seen_at.
	later := now.Add(time.Hour)
	original.LastSeenAt = later
	original.MessageCount = 3
	if err := repo.UpsertVisitor(ctx, original); err != nil {
		t.Fatalf("Second UpsertVisitor failed: %v", err)
	}
	got, err = repo.GetVisitor(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetVisitor failed: %v", err)
	}
	if !got.LastSeenAt.Equal(later) {
		t.Errorf("Expected last seen %v, got %v", later, got.LastSeenAt)
	}
	if got.MessageCount != 3 {
		t.Errorf("Expected message count 3, got %d", got.MessageCount)
	}
}

func TestTouchVisitorBumpsCounter(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	if err := repo.UpsertVisitor(ctx, &domain.Visitor{
		VisitorID:   "touched",
		FirstSeenAt: now,
		LastSeenAt:  now,
	}); err != nil {
		t.Fatalf("UpsertVisitor failed: %v", err)
	}

	later := now.Add(10 * time.Minute)
	if err := repo.TouchVisitor(ctx, "touched", later, 2); err != nil {
		t.Fatalf("TouchVisitor failed: %v", err)
	}

	got, err := repo.GetVisitor(ctx, "touched")
	if err != nil {
		t.Fatalf("GetVisitor failed: %v", err)
	}
	if got.MessageCount != 2 {
		t.Errorf("Expected message count 2, got %d", got.MessageCount)
	}
	if !got.LastSeenAt.Equal(later) {
		t.Errorf("Expected last seen %v, got %v", later, got.LastSeenAt)
	}

	// Touching an unknown visitor is a no-op, not an error.
	if err := repo.TouchVisitor(ctx, "ghost", later, 1); err != nil {
		t.Errorf("TouchVisitor on unknown visitor failed: %v", err)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
