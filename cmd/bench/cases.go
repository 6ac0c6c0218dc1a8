// README: Bench cases: environment checks, ride lifecycle over HTTP, the accept race and request throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"sharedride/internal/infra"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
	run   string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		run:   uuid.NewString()[:8],
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

// user returns a per-run id so repeated bench runs never collide.
func (r *Runner) user(name string) string {
	return fmt.Sprintf("bench-%s-%s", r.run, name)
}

func (r *Runner) token(uid, role string) (string, error) {
	if r.cfg.JWTSecret == "" {
		return "", fmt.Errorf("jwt secret not set; start the API with RIDEHAIL_AUTH=jwt")
	}
	return infra.SignJWT(r.cfg.JWTSecret, uid, role, 10*time.Minute)
}

type response struct {
	Status int
	Body   map[string]any
}

func (r *Runner) call(ctx context.Context, method, path, uid, role string, body any) (response, error) {
	tok, err := r.token(uid, role)
	if err != nil {
		return response{}, err
	}
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := r.httpc.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()
	out := response{Status: resp.StatusCode, Body: map[string]any{}}
	_ = json.NewDecoder(resp.Body).Decode(&out.Body)
	return out, nil
}

func rideRequest() map[string]any {
	return map[string]any{
		"origin":      map[string]any{"label": "Taipei 101", "lat": 25.0340, "lng": 121.5645},
		"destination": map[string]any{"label": "Taipei Main Station", "lat": 25.0478, "lng": 121.5170},
		"ride_class":  "standard",
	}
}

func (r *Runner) createRide(ctx context.Context, passenger string) (string, error) {
	resp, err := r.call(ctx, http.MethodPost, "/api/rides", passenger, "passenger", rideRequest())
	if err != nil {
		return "", err
	}
	if resp.Status != http.StatusCreated {
		return "", fmt.Errorf("create ride: status=%d", resp.Status)
	}
	id, _ := resp.Body["id"].(string)
	if id == "" {
		return "", fmt.Errorf("create ride: no id in response")
	}
	return id, nil
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: pingDB},
		{Name: "Env: Redis connect", Run: pingRedis},
		{Name: "Migration: apply (optional)", Run: applyMigration},
		{Name: "Migration: tables exist", Run: tablesExist},
		{Name: "API: ready", Run: apiReady},
		{Name: "Ride: create -> 201, REQUESTED", Run: createRequested},
		{Name: "Ride: invalid coordinates -> 400", Run: invalidCoordinates},
		{Name: "Ride: happy path accept/start/complete", Run: happyPath},
		{Name: "Ride: complete from MATCHED -> 409", Run: skipToComplete},
		{Name: "Ride: start by other driver -> 403", Run: wrongDriverStart},
		{Name: "Ride: cancel then accept -> 409", Run: cancelThenAccept},
		{Name: "Concurrency: multi accept same ride", Run: concurrentAccept},
		{Name: "Perf: request ride throughput", Run: perfCreate},
	}
}

func pingDB(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "dsn not set"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func pingRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: statusSkip, Note: "redis not set"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
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
		return Result{Status: statusSkip, Note: "dsn not set"}
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
	return Result{Status: statusPass}
}

func apiReady(ctx context.Context, r *Runner) Result {
	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/health/ready", nil)
	resp, err := r.httpc.Do(req)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{Status: statusFail, Latency: time.Since(start), Note: fmt.Sprintf("status=%d", resp.StatusCode)}
	}
	return Result{Status: statusPass, Latency: time.Since(start)}
}

func createRequested(ctx context.Context, r *Runner) Result {
	start := time.Now()
	resp, err := r.call(ctx, http.MethodPost, "/api/rides", r.user("p-create"), "passenger", rideRequest())
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if resp.Status != http.StatusCreated || resp.Body["status"] != "REQUESTED" {
		return Result{Status: statusFail, Note: fmt.Sprintf("status=%d body=%v", resp.Status, resp.Body)}
	}
	return Result{Status: statusPass, Latency: time.Since(start), Note: fmt.Sprintf("fare=%v", resp.Body["fare"])}
}

func invalidCoordinates(ctx context.Context, r *Runner) Result {
	body := rideRequest()
	body["origin"] = map[string]any{"label": "Nowhere", "lat": 123.0, "lng": 456.0}
	resp, err := r.call(ctx, http.MethodPost, "/api/rides", r.user("p-invalid"), "passenger", body)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return expectStatus(resp, http.StatusBadRequest)
}

func happyPath(ctx context.Context, r *Runner) Result {
	start := time.Now()
	passenger, driver := r.user("p-happy"), r.user("d-happy")
	id, err := r.createRide(ctx, passenger)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, step := range []struct{ action, want string }{
		{"accept", "MATCHED"},
		{"start", "ONGOING"},
		{"complete", "COMPLETED"},
	} {
		resp, err := r.call(ctx, http.MethodPost, "/api/drivers/rides/"+id+"/"+step.action, driver, "driver", nil)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if resp.Status != http.StatusOK || resp.Body["status"] != step.want {
			return Result{Status: statusFail, Note: fmt.Sprintf("%s: status=%d body=%v", step.action, resp.Status, resp.Body)}
		}
	}
	return Result{Status: statusPass, Latency: time.Since(start)}
}

func skipToComplete(ctx context.Context, r *Runner) Result {
	passenger, driver := r.user("p-skip"), r.user("d-skip")
	id, err := r.createRide(ctx, passenger)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if _, err := r.call(ctx, http.MethodPost, "/api/drivers/rides/"+id+"/accept", driver, "driver", nil); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	resp, err := r.call(ctx, http.MethodPost, "/api/drivers/rides/"+id+"/complete", driver, "driver", nil)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return expectStatus(resp, http.StatusConflict)
}

func wrongDriverStart(ctx context.Context, r *Runner) Result {
	id, err := r.createRide(ctx, r.user("p-wrong"))
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if _, err := r.call(ctx, http.MethodPost, "/api/drivers/rides/"+id+"/accept", r.user("d-owner"), "driver", nil); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	resp, err := r.call(ctx, http.MethodPost, "/api/drivers/rides/"+id+"/start", r.user("d-other"), "driver", nil)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return expectStatus(resp, http.StatusForbidden)
}

func cancelThenAccept(ctx context.Context, r *Runner) Result {
	passenger := r.user("p-cancel")
	id, err := r.createRide(ctx, passenger)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	resp, err := r.call(ctx, http.MethodPost, "/api/rides/"+id+"/cancel", passenger, "passenger", nil)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if resp.Status != http.StatusOK {
		return Result{Status: statusFail, Note: fmt.Sprintf("cancel: status=%d", resp.Status)}
	}
	resp, err = r.call(ctx, http.MethodPost, "/api/drivers/rides/"+id+"/accept", r.user("d-late"), "driver", nil)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return expectStatus(resp, http.StatusConflict)
}

// concurrentAccept fires Concurrency accepts for one ride from distinct
// drivers; exactly one must win and every other must see 409.
func concurrentAccept(ctx context.Context, r *Runner) Result {
	id, err := r.createRide(ctx, r.user("p-race"))
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}

	n := r.cfg.Concurrency
	start := make(chan struct{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	counts := map[int]int{}
	var firstErr error

	began := time.Now()
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			resp, err := r.call(ctx, http.MethodPost, "/api/drivers/rides/"+id+"/accept", r.user(fmt.Sprintf("d-race-%02d", i)), "driver", nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			counts[resp.Status]++
		}(i)
	}
	close(start)
	wg.Wait()
	latency := time.Since(began)

	if firstErr != nil {
		return Result{Status: statusFail, Note: firstErr.Error()}
	}
	note := fmt.Sprintf("200=%d 409=%d of %d", counts[http.StatusOK], counts[http.StatusConflict], n)
	if counts[http.StatusOK] == 1 && counts[http.StatusConflict] == n-1 {
		return Result{Status: statusPass, Latency: latency, Note: note}
	}
	return Result{Status: statusFail, Latency: latency, Note: note}
}

func perfCreate(ctx context.Context, r *Runner) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			passenger := r.user(fmt.Sprintf("p-load-%02d", i))
			for time.Now().Before(end) && ctx.Err() == nil {
				_, err := r.createRide(ctx, passenger)
				mu.Lock()
				if err != nil {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: statusFail, Note: fmt.Sprintf("no requests completed, errors=%d", errCount)}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func expectStatus(resp response, want int) Result {
	if resp.Status == want {
		return Result{Status: statusPass, Note: fmt.Sprintf("status=%d", resp.Status)}
	}
	return Result{Status: statusFail, Note: fmt.Sprintf("status=%d want %d", resp.Status, want)}
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
