// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"opspilot/internal/domain"
	"opspilot/internal/task"
)

// Repository defines the interface for persisting diagnosis sessions and
// task record snapshots.
type Repository interface {
	// SaveDiagnosis creates or updates a diagnosis session record.
	SaveDiagnosis(ctx context.Context, session *domain.DiagnosisSession) error

	// GetDiagnosis retrieves a diagnosis session by id. Returns nil when
	// the session does not exist.
	GetDiagnosis(ctx context.Context, sessionID string) (*domain.DiagnosisSession, error)

	// ListDiagnosesByUser retrieves a user's most recent sessions, newest
	// first.
	ListDiagnosesByUser(ctx context.Context, userID string, limit int) ([]*domain.DiagnosisSession, error)

	// SaveTaskSnapshot persists a task record snapshot as JSON.
	SaveTaskSnapshot(ctx context.Context, rec *task.Record) error

	// GetTaskSnapshot retrieves a persisted task record. Returns nil when
	// the snapshot does not exist.
	GetTaskSnapshot(ctx context.Context, taskID string) (*task.Record, error)

	// CleanupTaskSnapshots removes snapshots older than maxAge and returns
	// how many were removed.
	CleanupTaskSnapshots(ctx context.Context, maxAge time.Duration) (int, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
