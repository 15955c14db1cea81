// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/mkravets/embedchat/internal/domain"
)

// Repository defines the interface for persisting visitor data.
type Repository interface {
	// GetVisitor retrieves a visitor by their visitor ID. Returns (nil, nil)
	// when the visitor does not exist.
	GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error)

	// UpsertVisitor creates or updates a visitor record.
	UpsertVisitor(ctx context.Context, visitor *domain.Visitor) error

	// TouchVisitor updates last_seen_at and bumps the message counter by the
	// given delta (0 for a plain sighting).
	TouchVisitor(ctx context.Context, visitorID string, lastSeen time.Time, messageDelta int64) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
