// README: Smoke and load checks: Postgres schema, Redis, public endpoints, authenticated session flow and throughput.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	log   *logrus.Entry
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type Check struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config, log *logrus.Entry) *Runner {
	return &Runner{
		cfg:   cfg,
		log:   log,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
			defer db.Close()
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
		defer r.redis.Close()
	}

	checks := r.checks()
	results := make([]Result, 0, len(checks))
	for _, c := range checks {
		res := c.Run(ctx, r)
		res.Name = c.Name
		results = append(results, res)

		entry := r.log.WithField("status", res.Status)
		if res.Latency > 0 {
			entry = entry.WithField("latency", res.Latency.String())
		}
		if res.Note != "" {
			entry = entry.WithField("note", res.Note)
		}
		entry.Info(c.Name)
	}
	return results
}

func (r *Runner) checks() []Check {
	base := r.cfg.BaseURL
	return []Check{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: statusFail, Note: "db not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: statusFail, Note: "redis not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Migration: apply (optional)", Run: applyMigration},
		{Name: "Migration: zone tables exist", Run: tablesExist},
		{Name: "Zones: active fare zones present", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: statusFail, Note: "db not configured"}
			}
			var zones, boundaries int
			err := r.db.QueryRow(ctx, `
                SELECT (SELECT count(*) FROM fare_zones WHERE is_active),
                       (SELECT count(*) FROM service_boundaries WHERE is_active)`).Scan(&zones, &boundaries)
			if err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			note := fmt.Sprintf("zones=%d boundaries=%d", zones, boundaries)
			if zones == 0 || boundaries == 0 {
				return Result{Status: statusFail, Note: note}
			}
			return Result{Status: statusPass, Note: note}
		}},

		httpCheck("API: health", http.MethodGet, base+"/health", "", nil, http.StatusOK),
		httpCheck("API: metrics", http.MethodGet, base+"/metrics", "", nil, http.StatusOK),
		httpCheck("Auth: session without token -> 401", http.MethodGet, base+"/api/session", "", nil, http.StatusUnauthorized),

		authedCheck("Session: snapshot", http.MethodGet, base+"/api/session", nil, http.StatusOK),
		authedCheck("Session: history", http.MethodGet, base+"/api/history", nil, http.StatusOK),
		authedCheck("Landmarks: search", http.MethodGet, base+"/api/landmarks?q=mall&lat=14.5547&lng=121.0244", nil, http.StatusOK),
		authedCheck("Booking: invalid body -> 400", http.MethodPost, base+"/api/bookings", map[string]any{}, http.StatusBadRequest),
		authedCheck("Booking: outside service area -> 422", http.MethodPost, base+"/api/bookings", map[string]any{
			"pickup":      map[string]any{"address": "Baguio", "lat": 16.4023, "lng": 120.5960},
			"destination": map[string]any{"address": "Session Road", "lat": 16.4120, "lng": 120.5990},
		}, http.StatusUnprocessableEntity),
		authedCheck("Booking: cancel without booking -> 404", http.MethodPost, base+"/api/bookings/cancel", nil, http.StatusNotFound),

		{Name: "Perf: health throughput", Run: func(ctx context.Context, r *Runner) Result {
			return perfLoad(ctx, r, base+"/health", "")
		}},
		{Name: "Perf: session snapshot throughput", Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.Token == "" {
				return Result{Status: statusSkip, Note: "no token"}
			}
			return perfLoad(ctx, r, base+"/api/session", r.cfg.Token)
		}},
	}
}

func httpCheck(name, method, url, token string, body any, want int) Check {
	return Check{Name: name, Run: func(ctx context.Context, r *Runner) Result {
		return r.do(ctx, method, url, token, body, want)
	}}
}

func authedCheck(name, method, url string, body any, want int) Check {
	return Check{Name: name, Run: func(ctx context.Context, r *Runner) Result {
		if r.cfg.Token == "" {
			return Result{Status: statusSkip, Note: "no token"}
		}
		return r.do(ctx, method, url, r.cfg.Token, body, want)
	}}
}

func (r *Runner) do(ctx context.Context, method, url, token string, body any, want int) Result {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		reader = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	latency := time.Since(start)

	note := fmt.Sprintf("status=%d", resp.StatusCode)
	if resp.StatusCode != want {
		return Result{Status: statusFail, Latency: latency, Note: note + fmt.Sprintf(" want=%d", want)}
	}
	return Result{Status: statusPass, Latency: latency, Note: note}
}

func applyMigration(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: statusSkip, Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	sql, err := os.ReadFile(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, s := range splitSQL(string(sql)) {
		if _, err := r.db.Exec(ctx, s); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
	}
	return Result{Status: statusPass}
}

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: statusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: statusPass, Note: strings.Join(tables, ",")}
}

func perfLoad(ctx context.Context, r *Runner, url, token string) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount, latencyNs atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
				if token != "" {
					req.Header.Set("Authorization", "Bearer "+token)
				}
				start := time.Now()
				resp, err := r.httpc.Do(req)
				if err != nil {
					errCount.Add(1)
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
				if resp.StatusCode >= 400 {
					errCount.Add(1)
					continue
				}
				count.Add(1)
				latencyNs.Add(int64(time.Since(start)))
			}
		}()
	}
	wg.Wait()

	n := count.Load()
	if n == 0 {
		return Result{Status: statusFail, Note: fmt.Sprintf("no successful requests, errors=%d", errCount.Load())}
	}
	rps := float64(n) / r.cfg.Duration.Seconds()
	return Result{
		Status:  statusPass,
		Latency: time.Duration(latencyNs.Load() / n),
		Note:    fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load()),
	}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
