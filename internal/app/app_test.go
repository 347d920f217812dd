package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-jobtrack-backend/internal/config"
	"github.com/tbourn/go-jobtrack-backend/internal/domain"
	"github.com/tbourn/go-jobtrack-backend/internal/repo"
)

func loadConfig(t *testing.T, redisAddr string) config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DB_PATH", filepath.Join(dir, "primary.db"))
	t.Setenv("CHAT_DB_PATH", filepath.Join(dir, "chat.db"))
	t.Setenv("REDIS_ADDR", redisAddr)
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_DIAL_TIMEOUT", "100ms")
	t.Setenv("REDIS_COMMAND_TIMEOUT", "100ms")
	t.Setenv("GIN_MODE", "test")
	t.Setenv("PORT", "0")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func newApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

type health struct {
	Status string `json:"status"`
	Cache  struct {
		Ready bool   `json:"ready"`
		Mode  string `json:"mode"`
	} `json:"cache"`
}

func getHealth(t *testing.T, a *App) health {
	t.Helper()
	w := httptest.NewRecorder()
	a.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("/health = %d", w.Code)
	}
	var h health
	if err := json.Unmarshal(w.Body.Bytes(), &h); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	return h
}

func TestNew_WiresStoresCacheAndRoutes(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newApp(t, loadConfig(t, mr.Addr()))

	if !a.Cache.Ready() {
		t.Fatalf("cache client should be ready")
	}
	if h := getHealth(t, a); h.Status != "ok" || !h.Cache.Ready || h.Cache.Mode != "cache" {
		t.Fatalf("health unexpected: %+v", h)
	}

	body := strings.NewReader(`{"company":"Acme","position":"Engineer","status":"saved"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "u1")
	w := httptest.NewRecorder()
	a.Engine.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create job = %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("X-User-ID", "u1")
	w = httptest.NewRecorder()
	a.Engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Acme") {
		t.Fatalf("list jobs = %d: %s", w.Code, w.Body.String())
	}

	if a.Server.Handler != a.Engine || a.Server.ReadHeaderTimeout != a.Config.ReadHeaderTimeout {
		t.Fatalf("server not configured from the config")
	}
}

func TestNew_UnreachableRedisStartsInFallback(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	a := newApp(t, loadConfig(t, addr))
	if a.Cache.Ready() {
		t.Fatalf("cache client should not be ready")
	}
	if h := getHealth(t, a); h.Status != "ok" || h.Cache.Ready || h.Cache.Mode != "fallback" {
		t.Fatalf("health unexpected: %+v", h)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/groups", nil)
	req.Header.Set("X-User-ID", "u1")
	w := httptest.NewRecorder()
	a.Engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("groups should be served from the store: %d %s", w.Code, w.Body.String())
	}
}

func TestNew_MissingStoreDirectoryFails(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadConfig(t, mr.Addr())
	cfg.DBPath = filepath.Join(t.TempDir(), "missing", "primary.db")

	if _, err := New(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatalf("expected an error for a missing store directory")
	}
}

func TestPurgeIdempotency_RemovesExpiredOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newApp(t, loadConfig(t, mr.Addr()))
	ctx := context.Background()

	if _, err := repo.CreateIdempotency(ctx, a.PrimaryDB, "u1", "jobs:create", "old", "j1", 201, -time.Minute); err != nil {
		t.Fatalf("seed expired: %v", err)
	}
	if _, err := repo.CreateIdempotency(ctx, a.PrimaryDB, "u1", "jobs:create", "fresh", "j2", 201, time.Hour); err != nil {
		t.Fatalf("seed live: %v", err)
	}

	n, err := a.PurgeIdempotency(ctx)
	if err != nil || n != 1 {
		t.Fatalf("PurgeIdempotency = %d, %v; want 1", n, err)
	}
	var left int64
	a.PrimaryDB.Model(&domain.Idempotency{}).Count(&left)
	if left != 1 {
		t.Fatalf("%d records left, want 1", left)
	}
}

func TestStartSweeper_Idempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newApp(t, loadConfig(t, mr.Addr()))
	if err := a.StartSweeper(); err != nil {
		t.Fatalf("StartSweeper: %v", err)
	}
	first := a.sweep
	if err := a.StartSweeper(); err != nil || a.sweep != first {
		t.Fatalf("second StartSweeper should be a no-op")
	}
}

func TestShutdown_ReleasesEverything(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := New(context.Background(), loadConfig(t, mr.Addr()), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.StartSweeper(); err != nil {
		t.Fatalf("StartSweeper: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if a.Cache.Ready() {
		t.Fatalf("cache client should be closed")
	}
	if a.sweep != nil {
		t.Fatalf("sweeper should be stopped")
	}
	if err := a.PrimaryDB.Exec("SELECT 1").Error; err == nil {
		t.Fatalf("primary store should be closed")
	}
	if err := a.ChatDB.Exec("SELECT 1").Error; err == nil {
		t.Fatalf("chat store should be closed")
	}
}
