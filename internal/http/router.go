// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, caller identity, logging/redaction, panic
// recovery, metrics, compression, CORS, security headers, idempotency, and
// rate limiting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-jobtrack-backend/internal/cache"
	"github.com/tbourn/go-jobtrack-backend/internal/config"
	"github.com/tbourn/go-jobtrack-backend/internal/docs"
	"github.com/tbourn/go-jobtrack-backend/internal/domain"
	"github.com/tbourn/go-jobtrack-backend/internal/http/handlers"
	"github.com/tbourn/go-jobtrack-backend/internal/http/middleware"
	"github.com/tbourn/go-jobtrack-backend/internal/repo"
	"github.com/tbourn/go-jobtrack-backend/internal/services"
)

// Idempotency scopes of the keyed endpoints.
const (
	ScopeJobCreate      = "jobs:create"
	scopeMessagesPrefix = "messages:"
)

// MaxMessageRunes caps chat message length.
const MaxMessageRunes = 4000

// Deps carries everything the routes need. The caller owns the lifecycle of
// each dependency; RegisterRoutes only wires them.
type Deps struct {
	PrimaryDB *gorm.DB
	ChatDB    *gorm.DB
	Cache     *cache.Client
	JobCache  *cache.JobCache
	ChatCache *cache.ChatCache
	Publisher services.Publisher
}

// groupRepoShim adapts the repository free functions to the
// services.GroupRepo interface expected by the GroupService. This keeps
// services decoupled from the concrete repo package.
type groupRepoShim struct{}

// CreateGroup proxies repo.CreateGroup.
func (groupRepoShim) CreateGroup(ctx context.Context, db *gorm.DB, ownerID, name string) (*domain.Group, error) {
	return repo.CreateGroup(ctx, db, ownerID, name)
}

// GetGroup proxies repo.GetGroup.
func (groupRepoShim) GetGroup(ctx context.Context, db *gorm.DB, id string) (*domain.Group, error) {
	return repo.GetGroup(ctx, db, id)
}

// ListGroupsForUser proxies repo.ListGroupsForUser.
func (groupRepoShim) ListGroupsForUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Group, error) {
	return repo.ListGroupsForUser(ctx, db, userID)
}

// AddMember proxies repo.AddMember.
func (groupRepoShim) AddMember(ctx context.Context, db *gorm.DB, groupID, userID, role string) error {
	return repo.AddMember(ctx, db, groupID, userID, role)
}

// IsMember proxies repo.IsMember.
func (groupRepoShim) IsMember(ctx context.Context, db *gorm.DB, groupID, userID string) (bool, error) {
	return repo.IsMember(ctx, db, groupID, userID)
}

// idempotencyStore records keyed POST outcomes in the primary store.
type idempotencyStore struct {
	db  *gorm.DB
	ttl time.Duration
	log zerolog.Logger
}

// exists backs the validator middleware. Errors are reported as misses.
func (s idempotencyStore) exists(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, userID, scope, key, now)
	if err != nil || rec == nil {
		return false, nil
	}
	return true, nil
}

// Lookup implements handlers.IdempotencyStore.
func (s idempotencyStore) Lookup(ctx context.Context, userID, scope, key string) (string, int, bool) {
	rec, err := repo.GetIdempotency(ctx, s.db, userID, scope, key, time.Now().UTC())
	if err != nil || rec == nil {
		return "", 0, false
	}
	return rec.ResourceID, rec.Status, true
}

// Remember implements handlers.IdempotencyStore. A concurrent duplicate is
// expected and ignored; other failures are logged.
func (s idempotencyStore) Remember(ctx context.Context, userID, scope, key, resourceID string, status int) {
	_, err := repo.CreateIdempotency(ctx, s.db, userID, scope, key, resourceID, status, s.ttl)
	if err != nil && !errors.Is(err, repo.ErrDuplicate) {
		s.log.Warn().Err(err).Str("scope", scope).Msg("idempotency record not stored")
	}
}

// cacheProbe reports cache readiness and breaker states to /health.
type cacheProbe struct {
	client   *cache.Client
	breakers []*cache.Breaker
}

func (p cacheProbe) Ready() bool { return p.client != nil && p.client.Ready() }

func (p cacheProbe) Breakers() []cache.BreakerStats {
	out := make([]cache.BreakerStats, 0, len(p.breakers))
	for _, b := range p.breakers {
		out = append(out, b.Stats())
	}
	return out
}

// idempotencyScope names the keyed endpoints; other requests are not
// idempotency-tracked.
func idempotencyScope(base string) func(*gin.Context) string {
	jobs := joinPath(base, "/jobs")
	messages := joinPath(base, "/groups/:id/messages")
	return func(c *gin.Context) string {
		if c.Request.Method != http.MethodPost {
			return ""
		}
		switch c.FullPath() {
		case jobs:
			return ScopeJobCreate
		case messages:
			return scopeMessagesPrefix + c.Param("id")
		}
		return ""
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID and Identity: correlation id and caller
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per user/IP, bypass on replay)
//  9. CORS, security headers and compression
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID(), middleware.Identity())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	idem := idempotencyStore{
		db:  d.PrimaryDB,
		ttl: cfg.IdempotencyTTL,
		log: log.With().Str("component", "idempotency").Logger(),
	}
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
			Scope:  idempotencyScope(cfg.APIBasePath),
		},
		idem.exists,
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	r.Use(corsMiddleware(cfg.CORS)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		CacheControl: "no-cache",
		EnablePolicy: true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Dependency injection: services ← repo/db/cache
	groupSvc := services.NewGroupService(d.ChatDB, groupRepoShim{})
	jobSvc := &services.JobService{DB: d.PrimaryDB, Cache: d.JobCache}
	msgSvc := &services.MessageService{
		DB:              d.ChatDB,
		Groups:          groupSvc,
		Cache:           d.ChatCache,
		Publisher:       d.Publisher,
		MaxContentRunes: MaxMessageRunes,
	}
	probe := cacheProbe{client: d.Cache}
	if d.JobCache != nil {
		probe.breakers = append(probe.breakers, d.JobCache.Breaker())
	}
	if d.ChatCache != nil {
		probe.breakers = append(probe.breakers, d.ChatCache.Breaker())
	}
	h := handlers.New(jobSvc, groupSvc, msgSvc, idem, probe)

	r.GET("/health", h.Health)

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.RequireUser())
	{
		// Jobs
		api.GET("/jobs", h.ListJobs)
		api.POST("/jobs", h.CreateJob)
		api.POST("/jobs/sync", h.SyncJob)
		api.POST("/jobs/bulk-status", h.BulkStatus)
		api.GET("/jobs/cache/stats", h.JobCacheStats)
		api.GET("/jobs/:id", h.GetJob)
		api.PATCH("/jobs/:id", h.UpdateJob)
		api.DELETE("/jobs/:id", h.DeleteJob)

		// Groups
		api.POST("/groups", h.CreateGroup)
		api.GET("/groups", h.ListGroups)
		api.POST("/groups/:id/members", h.AddMember)
		api.GET("/groups/:id/cache/stats", h.GroupCacheStats)

		// Messages
		api.GET("/groups/:id/messages", h.ListMessages)
		api.POST("/groups/:id/messages", h.SendMessage)
		api.GET("/groups/:id/messages/count", h.MessageCount)
		api.GET("/messages/:id", h.GetMessage)
		api.PATCH("/messages/:id", h.EditMessage)
		api.DELETE("/messages/:id", h.DeleteMessage)
		api.POST("/messages/:id/reactions", h.ReactToMessage)
	}
}

// corsMiddleware returns the CORS posture. Without an allowlist every origin
// is accepted (credentials off). With one, the request Origin is echoed when
// it is listed or, if AllowExtensions is set, when it is any browser
// extension origin.
func corsMiddleware(cc config.CORSConfig) []gin.HandlerFunc {
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderUserID, middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed", "Retry-After"}
	methods := []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}

	if len(cc.AllowedOrigins) == 0 && !cc.AllowExtensions {
		return []gin.HandlerFunc{
			// Force ACAO: * even without an Origin header (simple health checks).
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     methods,
				AllowHeaders:     allowHeaders,
				ExposeHeaders:    exposeHeaders,
				AllowCredentials: false, // must remain false with AllowAllOrigins
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(cc.AllowedOrigins))
	for _, o := range cc.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	originOK := func(origin string) bool {
		if _, ok := allowed[origin]; ok {
			return true
		}
		return cc.AllowExtensions && isExtensionOrigin(origin)
	}
	return []gin.HandlerFunc{
		// Echo ACAO with the request Origin when allowed (in addition to gin-contrib/cors).
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" && originOK(origin) {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOriginFunc:        originOK,
			AllowBrowserExtensions: true,
			AllowMethods:           methods,
			AllowHeaders:           allowHeaders,
			ExposeHeaders:          exposeHeaders,
			AllowCredentials:       false,
			MaxAge:                 12 * time.Hour,
		}),
	}
}

func isExtensionOrigin(origin string) bool {
	return strings.HasPrefix(origin, "chrome-extension://") || strings.HasPrefix(origin, "moz-extension://")
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// joinPath matches how gin reports FullPath for routes in groupWithPrefix.
func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return strings.TrimSuffix(base, "/") + p
}
