package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"opspilot/internal/domain"
	"opspilot/internal/task"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS diagnosis_sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		query TEXT NOT NULL,
		service_hint TEXT,
		answer TEXT,
		status TEXT NOT NULL,
		error_msg TEXT,
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_diagnosis_user ON diagnosis_sessions(user_id, created_at);

	CREATE TABLE IF NOT EXISTS task_snapshots (
		task_id TEXT PRIMARY KEY,
		user_id TEXT,
		status TEXT NOT NULL,
		snapshot_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_task_snapshots_completed ON task_snapshots(completed_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveDiagnosis creates or updates a diagnosis session record.
func (s *SQLiteStore) SaveDiagnosis(ctx context.Context, session *domain.DiagnosisSession) error {
	query := `
	INSERT INTO diagnosis_sessions (session_id, user_id, query, service_hint, answer, status, error_msg, created_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		answer = excluded.answer,
		status = excluded.status,
		error_msg = excluded.error_msg,
		completed_at = excluded.completed_at`

	var completedAt interface{}
	if session.CompletedAt != nil {
		completedAt = session.CompletedAt.Unix()
	}

	_, err := s.db.ExecContext(ctx, query,
		session.SessionID, session.UserID, session.Query, session.ServiceHint,
		session.Answer, session.Status, session.ErrorMsg,
		session.CreatedAt.Unix(), completedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert diagnosis session: %w", err)
	}
	return nil
}

// GetDiagnosis retrieves a diagnosis session by id.
func (s *SQLiteStore) GetDiagnosis(ctx context.Context, sessionID string) (*domain.DiagnosisSession, error) {
	query := `
		SELECT session_id, user_id, query, service_hint, answer, status, error_msg, created_at, completed_at
		FROM diagnosis_sessions WHERE session_id = ?`

	session, err := scanDiagnosis(s.db.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan diagnosis session: %w", err)
	}
	return session, nil
}

// ListDiagnosesByUser retrieves a user's most recent sessions, newest first.
func (s *SQLiteStore) ListDiagnosesByUser(ctx context.Context, userID string, limit int) ([]*domain.DiagnosisSession, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT session_id, user_id, query, service_hint, answer, status, error_msg, created_at, completed_at
		FROM diagnosis_sessions WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query diagnosis sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.DiagnosisSession
	for rows.Next() {
		session, err := scanDiagnosis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan diagnosis row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diagnosis sessions: %w", err)
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiagnosis(row rowScanner) (*domain.DiagnosisSession, error) {
	var session domain.DiagnosisSession
	var serviceHint, answer, errorMsg sql.NullString
	var createdAt int64
	var completedAt sql.NullInt64

	err := row.Scan(
		&session.SessionID, &session.UserID, &session.Query, &serviceHint,
		&answer, &session.Status, &errorMsg, &createdAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	session.ServiceHint = serviceHint.String
	session.Answer = answer.String
	session.ErrorMsg = errorMsg.String
	session.CreatedAt = time.Unix(createdAt, 0)
	if completedAt.Valid {
		ts := time.Unix(completedAt.Int64, 0)
		session.CompletedAt = &ts
	}
	return &session, nil
}

// SaveTaskSnapshot persists a task record snapshot as JSON.
func (s *SQLiteStore) SaveTaskSnapshot(ctx context.Context, rec *task.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal task snapshot: %w", err)
	}

	query := `
	INSERT INTO task_snapshots (task_id, user_id, status, snapshot_json, created_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(task_id) DO UPDATE SET
		status = excluded.status,
		snapshot_json = excluded.snapshot_json,
		completed_at = excluded.completed_at`

	var completedAt interface{}
	if rec.CompletedAt != nil {
		completedAt = rec.CompletedAt.Unix()
	}

	_, err = s.db.ExecContext(ctx, query,
		rec.TaskID, rec.UserID, string(rec.Status), string(payload),
		rec.CreatedAt.Unix(), completedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task snapshot: %w", err)
	}
	return nil
}

// GetTaskSnapshot retrieves a persisted task record.
func (s *SQLiteStore) GetTaskSnapshot(ctx context.Context, taskID string) (*task.Record, error) {
	query := `SELECT snapshot_json FROM task_snapshots WHERE task_id = ?`

	var payload string
	err := s.db.QueryRowContext(ctx, query, taskID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan task snapshot: %w", err)
	}

	var rec task.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal task snapshot: %w", err)
	}
	return &rec, nil
}

// CleanupTaskSnapshots removes snapshots older than maxAge.
func (s *SQLiteStore) CleanupTaskSnapshots(ctx context.Context, maxAge time.Duration) (int, error) {
	threshold := time.Now().Add(-maxAge).Unix()
	query := `DELETE FROM task_snapshots WHERE COALESCE(completed_at, created_at) < ?`
	result, err := s.db.ExecContext(ctx, query, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup task snapshots: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(rows), nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
