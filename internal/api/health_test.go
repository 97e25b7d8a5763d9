package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"opspilot/internal/domain"
	"opspilot/internal/task"
)

// pingRepo stubs the repository with a configurable ping outcome.
type pingRepo struct {
	pingErr error
}

func (r *pingRepo) Ping(ctx context.Context) error { return r.pingErr }
func (r *pingRepo) Close() error                   { return nil }

func (r *pingRepo) SaveDiagnosis(ctx context.Context, s *domain.DiagnosisSession) error {
	return nil
}

func (r *pingRepo) GetDiagnosis(ctx context.Context, id string) (*domain.DiagnosisSession, error) {
	return nil, nil
}

func (r *pingRepo) ListDiagnosesByUser(ctx context.Context, userID string, limit int) ([]*domain.DiagnosisSession, error) {
	return nil, nil
}

func (r *pingRepo) SaveTaskSnapshot(ctx context.Context, rec *task.Record) error { return nil }

func (r *pingRepo) GetTaskSnapshot(ctx context.Context, taskID string) (*task.Record, error) {
	return nil, nil
}

func (r *pingRepo) CleanupTaskSnapshots(ctx context.Context, maxAge time.Duration) (int, error) {
	return 0, nil
}

func healthRouter(repo *pingRepo) chi.Router {
	r := chi.NewRouter()
	if repo == nil {
		NewHealthHandler(nil).RegisterHealth(r)
	} else {
		NewHealthHandler(repo).RegisterHealth(r)
	}
	return r
}

func TestHealthReportsDatabaseState(t *testing.T) {
	r := healthRouter(&pingRepo{})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}

	var got struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	if got.Status != "healthy" || got.Checks["database"] != "ok" {
		t.Errorf("Unexpected health payload: %+v", got)
	}
}

func TestHealthDegradedOnDatabaseFailure(t *testing.T) {
	r := healthRouter(&pingRepo{pingErr: errors.New("db locked")})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rr.Code)
	}
}

func TestReadyEndpoint(t *testing.T) {
	r := healthRouter(&pingRepo{})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	if got["status"] != "ready" {
		t.Errorf("Expected ready, got %v", got)
	}
}

func TestReadyFailsWhenDatabaseUnreachable(t *testing.T) {
	r := healthRouter(&pingRepo{pingErr: errors.New("db gone")})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rr.Code)
	}
}

func TestReadyWithoutRepository(t *testing.T) {
	r := healthRouter(nil)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("Expected 200 without a repository, got %d", rr.Code)
	}
}
