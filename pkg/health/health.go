// Package health 存活与就绪检查
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

type CheckResult struct {
	Status  Status        `json:"status"`
	Latency time.Duration `json:"latency"`
	Message string        `json:"message,omitempty"`
}

type Response struct {
	Status       Status                 `json:"status"`
	Dependencies map[string]CheckResult `json:"dependencies,omitempty"`
}

type Health struct {
	mu       sync.RWMutex
	checkers []Checker
	ready    atomic.Bool
	timeout  time.Duration
}

const defaultCheckTimeout = 2 * time.Second

func New() *Health {
	return &Health{timeout: defaultCheckTimeout}
}

func (h *Health) Register(c Checker) {
	if c == nil {
		return
	}
	h.mu.Lock()
	h.checkers = append(h.checkers, c)
	h.mu.Unlock()
}

func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *Health) IsReady() bool {
	return h.ready.Load()
}

// Live 存活检查（只检查进程是否响应）
func (h *Health) Live() Response {
	return Response{Status: StatusUp}
}

// Ready 就绪检查（未就绪或任一依赖异常都视为不可用）
func (h *Health) Ready(ctx context.Context) Response {
	deps := h.runChecks(ctx)
	if !h.IsReady() {
		return Response{Status: StatusDown, Dependencies: deps}
	}
	return Response{Status: summarize(deps), Dependencies: deps}
}

func (h *Health) runChecks(ctx context.Context) map[string]CheckResult {
	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()
	if len(checkers) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	results := make(map[string]CheckResult, len(checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(len(checkers))

	for _, c := range checkers {
		go func(c Checker) {
			defer wg.Done()
			name := c.Name()
			if name == "" {
				name = "unknown"
			}

			depCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			start := time.Now()
			res := c.Check(depCtx)
			if res.Latency <= 0 {
				res.Latency = time.Since(start)
			}
			if res.Status == "" {
				res.Status = StatusDown
			}

			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(c)
	}

	wg.Wait()
	return results
}

func summarize(deps map[string]CheckResult) Status {
	overall := StatusUp
	for _, r := range deps {
		switch r.Status {
		case StatusDown:
			return StatusDegraded
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

func statusCode(s Status) int {
	if s == StatusUp {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Health) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h.Live()
		writeJSON(w, statusCode(resp.Status), resp)
	}
}

func (h *Health) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h.Ready(r.Context())
		writeJSON(w, statusCode(resp.Status), resp)
	}
}

type postgresChecker struct {
	db *sql.DB
}

func NewPostgresChecker(db *sql.DB) Checker {
	return &postgresChecker{db: db}
}

func (c *postgresChecker) Name() string { return "postgres" }

func (c *postgresChecker) Check(ctx context.Context) CheckResult {
	if c.db == nil {
		return CheckResult{Status: StatusDown, Message: "nil db"}
	}
	start := time.Now()
	err := c.db.PingContext(ctx)
	lat := time.Since(start)
	if err != nil {
		return CheckResult{Status: StatusDown, Latency: lat, Message: err.Error()}
	}
	return CheckResult{Status: StatusUp, Latency: lat}
}

type redisChecker struct {
	client redis.UniversalClient
}

func NewRedisChecker(client redis.UniversalClient) Checker {
	return &redisChecker{client: client}
}

func (c *redisChecker) Name() string { return "redis" }

func (c *redisChecker) Check(ctx context.Context) CheckResult {
	if c.client == nil {
		return CheckResult{Status: StatusDown, Message: "nil redis client"}
	}
	start := time.Now()
	err := c.client.Ping(ctx).Err()
	lat := time.Since(start)
	if err != nil {
		return CheckResult{Status: StatusDown, Latency: lat, Message: err.Error()}
	}
	return CheckResult{Status: StatusUp, Latency: lat}
}
