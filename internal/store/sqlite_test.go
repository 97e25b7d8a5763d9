package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"opspilot/internal/domain"
	"opspilot/internal/task"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "opspilot.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestDiagnosisRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	session := &domain.DiagnosisSession{
		SessionID:   "sess-1",
		UserID:      "user-1",
		Query:       "checkout is down",
		ServiceHint: "checkout",
		Status:      "running",
		CreatedAt:   now,
	}
	if err := repo.SaveDiagnosis(ctx, session); err != nil {
		t.Fatalf("SaveDiagnosis failed: %v", err)
	}

	got, err := repo.GetDiagnosis(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetDiagnosis failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected a session, got nil")
	}
	if got.Query != session.Query || got.ServiceHint != session.ServiceHint {
		t.Errorf("Round trip mangled fields: %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
	if got.CompletedAt != nil {
		t.Errorf("Expected nil CompletedAt, got %v", got.CompletedAt)
	}
}

func TestDiagnosisUpsert(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	session := &domain.DiagnosisSession{
		SessionID: "sess-1",
		UserID:    "user-1",
		Query:     "q",
		Status:    "running",
		CreatedAt: now,
	}
	if err := repo.SaveDiagnosis(ctx, session); err != nil {
		t.Fatalf("SaveDiagnosis failed: %v", err)
	}

	done := now.Add(time.Minute)
	session.Status = "completed"
	session.Answer = "restart checkout"
	session.CompletedAt = &done
	if err := repo.SaveDiagnosis(ctx, session); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := repo.GetDiagnosis(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetDiagnosis failed: %v", err)
	}
	if got.Status != "completed" || got.Answer != "restart checkout" {
		t.Errorf("Upsert did not apply: %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, done)
	}
}

func TestGetDiagnosisMissing(t *testing.T) {
	repo := newTestStore(t)

	got, err := repo.GetDiagnosis(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetDiagnosis failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for a missing session, got %+v", got)
	}
}

func TestListDiagnosesByUserNewestFirst(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i, id := range []string{"a", "b", "c"} {
		session := &domain.DiagnosisSession{
			SessionID: id,
			UserID:    "user-1",
			Query:     "q-" + id,
			Status:    "completed",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.SaveDiagnosis(ctx, session); err != nil {
			t.Fatalf("SaveDiagnosis %s failed: %v", id, err)
		}
	}
	other := &domain.DiagnosisSession{
		SessionID: "other", UserID: "user-2", Query: "q", Status: "completed", CreatedAt: base,
	}
	if err := repo.SaveDiagnosis(ctx, other); err != nil {
		t.Fatalf("SaveDiagnosis failed: %v", err)
	}

	sessions, err := repo.ListDiagnosesByUser(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("ListDiagnosesByUser failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].SessionID != "c" || sessions[1].SessionID != "b" {
		t.Errorf("Wrong order: %s, %s", sessions[0].SessionID, sessions[1].SessionID)
	}
}

func TestTaskSnapshotRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	rec := &task.Record{
		TaskID:          "task-1",
		UserID:          "user-1",
		Query:           "checkout 503",
		Status:          task.StatusCompleted,
		OverallProgress: 1.0,
		Agents: map[string]*task.AgentStatus{
			"planner": {AgentID: "planner", Status: task.AgentDone, Progress: 1.0},
		},
		CreatedAt: time.Now().Truncate(time.Second),
	}
	if err := repo.SaveTaskSnapshot(ctx, rec); err != nil {
		t.Fatalf("SaveTaskSnapshot failed: %v", err)
	}

	got, err := repo.GetTaskSnapshot(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetTaskSnapshot failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected a snapshot, got nil")
	}
	if got.Status != task.StatusCompleted || got.OverallProgress != 1.0 {
		t.Errorf("Round trip mangled record: %+v", got)
	}
	if got.Agents["planner"] == nil || got.Agents["planner"].Status != task.AgentDone {
		t.Errorf("Agent map lost: %+v", got.Agents)
	}

	missing, err := repo.GetTaskSnapshot(ctx, "nope")
	if err != nil {
		t.Fatalf("GetTaskSnapshot failed: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for a missing snapshot, got %+v", missing)
	}
}

func TestCleanupTaskSnapshots(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	oldTime := time.Now().Add(-48 * time.Hour)
	old := &task.Record{
		TaskID: "old", Status: task.StatusCompleted,
		CreatedAt: oldTime, CompletedAt: &oldTime,
	}
	fresh := &task.Record{
		TaskID: "fresh", Status: task.StatusCompleted,
		CreatedAt: time.Now(),
	}
	for _, rec := range []*task.Record{old, fresh} {
		if err := repo.SaveTaskSnapshot(ctx, rec); err != nil {
			t.Fatalf("SaveTaskSnapshot %s failed: %v", rec.TaskID, err)
		}
	}

	removed, err := repo.CleanupTaskSnapshots(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupTaskSnapshots failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removed, got %d", removed)
	}

	if got, _ := repo.GetTaskSnapshot(ctx, "old"); got != nil {
		t.Error("Old snapshot survived cleanup")
	}
	if got, _ := repo.GetTaskSnapshot(ctx, "fresh"); got == nil {
		t.Error("Fresh snapshot removed by cleanup")
	}
}

func TestPing(t *testing.T) {
	repo := newTestStore(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
