// Package handlers provides HTTP handler implementations for the public API.
//
// Handlers are transport-thin: they bind and validate input, resolve the
// caller from the context, delegate to application services, and translate
// service errors into the shared error envelope (see response.go).
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-jobtrack-backend/internal/cache"
	"github.com/tbourn/go-jobtrack-backend/internal/domain"
	"github.com/tbourn/go-jobtrack-backend/internal/http/middleware"
	"github.com/tbourn/go-jobtrack-backend/internal/services"
)

// JobService is the subset of services.JobService used by the handlers.
type JobService interface {
	List(ctx context.Context, userID string, in services.ListJobsInput) (domain.JobPage, error)
	Get(ctx context.Context, userID, jobID string) (*domain.JobRow, error)
	Create(ctx context.Context, userID string, in services.JobInput) (*domain.Job, error)
	Sync(ctx context.Context, userID string, in services.JobInput) (*domain.Job, error)
	Update(ctx context.Context, userID, jobID string, p services.JobPatch) (*domain.Job, error)
	Delete(ctx context.Context, userID, jobID string) error
	BulkStatus(ctx context.Context, userID string, ids []string, status string) (int64, error)
	CacheStats(ctx context.Context, userID string) cache.JobCacheStats
}

// GroupService is the subset of services.GroupService used by the handlers.
type GroupService interface {
	Create(ctx context.Context, userID, name string) (*domain.Group, error)
	List(ctx context.Context, userID string) ([]domain.Group, error)
	AddMember(ctx context.Context, actorID, groupID, userID string) error
}

// MessageService is the subset of services.MessageService used by the handlers.
type MessageService interface {
	History(ctx context.Context, userID, groupID string, limit int, before *time.Time) ([]domain.CachedMessage, error)
	Send(ctx context.Context, userID, groupID string, in services.SendInput) (*domain.CachedMessage, error)
	Get(ctx context.Context, userID, messageID string) (*domain.CachedMessage, error)
	Edit(ctx context.Context, userID, messageID, content string) (*domain.CachedMessage, error)
	Delete(ctx context.Context, userID, messageID string) error
	React(ctx context.Context, userID, messageID, emoji string) ([]domain.Reaction, error)
	Count(ctx context.Context, userID, groupID string) (int64, error)
	CacheStats(ctx context.Context, userID, groupID string) (cache.ChatCacheStats, error)
}

// IdempotencyStore records the outcome of keyed POST requests so retries can
// be answered with the original resource.
type IdempotencyStore interface {
	// Lookup returns the resource recorded for (userID, scope, key).
	Lookup(ctx context.Context, userID, scope, key string) (resourceID string, status int, found bool)
	// Remember records the outcome. Failures are the store's to log.
	Remember(ctx context.Context, userID, scope, key, resourceID string, status int)
}

// CacheProbe reports cache backend readiness for the health endpoint.
type CacheProbe interface {
	Ready() bool
	Breakers() []cache.BreakerStats
}

// Handlers groups the service dependencies behind the HTTP endpoints.
type Handlers struct {
	jobs   JobService
	groups GroupService
	msgs   MessageService
	idem   IdempotencyStore
	probe  CacheProbe
}

// New constructs Handlers. idem and probe may be nil: without idem, keyed
// requests are processed normally; without probe, /health omits cache state.
func New(jobs JobService, groups GroupService, msgs MessageService, idem IdempotencyStore, probe CacheProbe) *Handlers {
	return &Handlers{jobs: jobs, groups: groups, msgs: msgs, idem: idem, probe: probe}
}

// userID returns the caller resolved by middleware.Identity.
func userID(c *gin.Context) string {
	return middleware.UserID(c)
}

// replayed answers a keyed request whose outcome was already recorded.
// load fetches the recorded resource; false means the caller should process
// the request normally.
func (h *Handlers) replayed(c *gin.Context, load func(id string) (any, error)) bool {
	if h.idem == nil || !middleware.IsReplay(c) {
		return false
	}
	key, okKey := middleware.GetIdempotencyKey(c)
	if !okKey {
		return false
	}
	rid, status, found := h.idem.Lookup(c.Request.Context(), userID(c), middleware.GetIdempotencyScope(c), key)
	if !found {
		return false
	}
	body, err := load(rid)
	if err != nil {
		// recorded resource is gone; fall through and create a new one
		return false
	}
	c.Header("Idempotency-Replayed", "true")
	ok(c, status, body)
	return true
}

// remember records a successful keyed request, best effort.
func (h *Handlers) remember(c *gin.Context, resourceID string, status int) {
	if h.idem == nil {
		return
	}
	if key, okKey := middleware.GetIdempotencyKey(c); okKey {
		h.idem.Remember(c.Request.Context(), userID(c), middleware.GetIdempotencyScope(c), key, resourceID, status)
	}
}

// notModified sets a weak ETag built from (kind, owner, count, newest update)
// and reports whether the client's If-None-Match already matches it.
func notModified(c *gin.Context, kind, owner string, count int64, maxUpdated *time.Time) bool {
	var ts int64
	if maxUpdated != nil {
		ts = maxUpdated.UnixMilli()
	}
	etag := fmt.Sprintf(`W/"%s:%s:%d:%d"`, kind, owner, count, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}
