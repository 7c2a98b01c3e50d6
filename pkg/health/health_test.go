package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type staticChecker struct {
	name   string
	status Status
}

func (c staticChecker) Name() string { return c.name }

func (c staticChecker) Check(context.Context) CheckResult {
	return CheckResult{Status: c.status}
}

func TestReadyRequiresFlag(t *testing.T) {
	h := New()
	h.Register(staticChecker{name: "db", status: StatusUp})

	if got := h.Ready(context.Background()).Status; got != StatusDown {
		t.Fatalf("expected down before SetReady, got %s", got)
	}
	h.SetReady(true)
	if got := h.Ready(context.Background()).Status; got != StatusUp {
		t.Fatalf("expected up, got %s", got)
	}
}

func TestReadyDegradedWhenDependencyDown(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Register(staticChecker{name: "db", status: StatusUp})
	h.Register(staticChecker{name: "redis", status: StatusDown})

	rec := httptest.NewRecorder()
	h.ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", resp.Status)
	}
	if resp.Dependencies["redis"].Status != StatusDown {
		t.Fatalf("expected redis down, got %+v", resp.Dependencies)
	}
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	New().LiveHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestPostgresChecker(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectPing()
	res := NewPostgresChecker(db).Check(context.Background())
	if res.Status != StatusUp {
		t.Fatalf("expected up, got %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewRedisChecker(client)
	if res := checker.Check(context.Background()); res.Status != StatusUp {
		t.Fatalf("expected up, got %+v", res)
	}

	mr.Close()
	if res := checker.Check(context.Background()); res.Status != StatusDown {
		t.Fatalf("expected down after close, got %+v", res)
	}
}
