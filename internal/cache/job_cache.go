package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-jobtrack-backend/internal/config"
	"github.com/tbourn/go-jobtrack-backend/internal/domain"
)

// JobStore is the primary store as seen by the job cache.
type JobStore interface {
	FindJobs(ctx context.Context, q domain.JobQuery, sort domain.JobSort, skip, limit int) ([]domain.Job, error)
	CountJobs(ctx context.Context, q domain.JobQuery) (int64, error)
	// FindJob returns a job owned by userID or gorm.ErrRecordNotFound.
	FindJob(ctx context.Context, userID, jobID string) (*domain.Job, error)
}

// JobCacheOptions tunes JobCache.
type JobCacheOptions struct {
	TTL                 time.Duration
	ScanCount           int
	WarmTimeout         time.Duration
	BreakerThreshold    int
	BreakerResetTimeout time.Duration
}

// JobOptions maps the cache configuration onto JobCacheOptions.
func JobOptions(cfg config.CacheConfig) JobCacheOptions {
	return JobCacheOptions{
		TTL:                 cfg.JobTTL,
		ScanCount:           cfg.ScanCount,
		WarmTimeout:         cfg.WarmTimeout,
		BreakerThreshold:    cfg.BreakerThreshold,
		BreakerResetTimeout: cfg.BreakerResetTimeout,
	}
}

func (o JobCacheOptions) withDefaults() JobCacheOptions {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.ScanCount <= 0 {
		o.ScanCount = 100
	}
	if o.WarmTimeout <= 0 {
		o.WarmTimeout = 5 * time.Second
	}
	return o
}

// JobCacheStats describes the job cache and the number of cached list pages
// (for one user, or for all users when UserID is empty).
type JobCacheStats struct {
	Available     bool         `json:"available"`
	Breaker       BreakerStats `json:"breaker"`
	TTLSeconds    int64        `json:"ttl_seconds"`
	UserID        string       `json:"user_id,omitempty"`
	CachedQueries int          `json:"cached_queries"`
}

// JobCache stores complete job-list pages keyed by user and a hash of the
// normalized filters, plus single job details. Any change to a user's jobs
// drops all of that user's pages.
type JobCache struct {
	client     *Client
	keys       KeyBuilder
	store      JobStore
	identities IdentityResolver
	breaker    *Breaker
	opts       JobCacheOptions
	log        zerolog.Logger
	warm       *warmer
}

// NewJobCache wires a job cache. It owns its own breaker.
func NewJobCache(client *Client, keys KeyBuilder, store JobStore, identities IdentityResolver, opts JobCacheOptions, logger zerolog.Logger) *JobCache {
	opts = opts.withDefaults()
	log := logger.With().Str("component", "job_cache").Logger()
	return &JobCache{
		client:     client,
		keys:       keys,
		store:      store,
		identities: identities,
		breaker:    NewBreaker("job_cache", opts.BreakerThreshold, opts.BreakerResetTimeout, log),
		opts:       opts,
		log:        log,
		warm:       &warmer{name: "job_cache", timeout: opts.WarmTimeout, log: log},
	}
}

// Breaker exposes the job cache breaker.
func (s *JobCache) Breaker() *Breaker { return s.breaker }

// Keys exposes the key builder.
func (s *JobCache) Keys() KeyBuilder { return s.keys }

// GetCachedJobs returns the page for (userID, filters). On a miss the native
// query q/sort/skip/limit runs against the store, sharers are resolved in one
// batch, pagination is computed, and the page is cached in the background.
func (s *JobCache) GetCachedJobs(ctx context.Context, userID string, filters Filters, q domain.JobQuery, sort domain.JobSort, skip, limit int) (domain.JobPage, error) {
	tr := otel.Tracer("cache/JobCache")
	ctx, span := tr.Start(ctx, "GetCachedJobs",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("skip", skip),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	key := s.keys.JobList(userID, filters)
	return guarded(ctx, s.client, s.breaker, "job_list", func(ctx context.Context) (domain.JobPage, error) {
		var page domain.JobPage
		err := s.getJSON(ctx, key, &page)
		return page, err
	}, func(ctx context.Context) (domain.JobPage, error) {
		page, err := s.loadPage(ctx, q, sort, skip, limit)
		if err != nil {
			return page, err
		}
		s.warm.Go(ctx, "warm_job_list", func(ctx context.Context) error {
			return s.setJSON(ctx, key, page)
		})
		return page, nil
	})
}

func (s *JobCache) loadPage(ctx context.Context, q domain.JobQuery, sort domain.JobSort, skip, limit int) (domain.JobPage, error) {
	jobs, err := s.store.FindJobs(ctx, q, sort, skip, limit)
	if err != nil {
		return domain.JobPage{}, err
	}
	total, err := s.store.CountJobs(ctx, q)
	if err != nil {
		return domain.JobPage{}, err
	}
	rows, err := s.attachSharers(ctx, jobs)
	if err != nil {
		return domain.JobPage{}, err
	}
	return domain.JobPage{Rows: rows, Pagination: domain.NewPagination(skip, limit, total)}, nil
}

func (s *JobCache) attachSharers(ctx context.Context, jobs []domain.Job) ([]domain.JobRow, error) {
	return JoinIdentities(ctx, s.identities, jobs,
		func(j domain.Job) string {
			if j.SharedByID == nil {
				return ""
			}
			return *j.SharedByID
		},
		func(j domain.Job, id domain.Identity, ok bool) domain.JobRow {
			row := domain.JobRow{Job: j}
			if ok {
				row.SharedBy = &id
			}
			return row
		},
	)
}

// GetCachedJob returns one job of userID, cache first. A cached job owned by
// someone else is treated as a miss.
func (s *JobCache) GetCachedJob(ctx context.Context, userID, jobID string) (*domain.JobRow, error) {
	key := s.keys.Job(jobID)
	return guarded(ctx, s.client, s.breaker, "job_detail", func(ctx context.Context) (*domain.JobRow, error) {
		var row domain.JobRow
		if err := s.getJSON(ctx, key, &row); err != nil {
			return nil, err
		}
		if row.UserID != userID {
			return nil, ErrCacheMiss
		}
		return &row, nil
	}, func(ctx context.Context) (*domain.JobRow, error) {
		j, err := s.store.FindJob(ctx, userID, jobID)
		if err != nil {
			return nil, err
		}
		rows, err := s.attachSharers(ctx, []domain.Job{*j})
		if err != nil {
			return nil, err
		}
		row := rows[0]
		s.warm.Go(ctx, "warm_job_detail", func(ctx context.Context) error {
			return s.setJSON(ctx, key, row)
		})
		return &row, nil
	})
}

// CacheJobs stores a page under (userID, filters). Failures are logged.
func (s *JobCache) CacheJobs(ctx context.Context, userID string, filters Filters, page domain.JobPage) {
	s.logWrite("cache_jobs", s.setJSON(ctx, s.keys.JobList(userID, filters), page))
}

// InvalidateUserCache deletes every cached list page of userID. Keys are found
// with incremental SCAN and deleted batch by batch, so a large keyspace never
// sees one long blocking command. Failures are logged.
func (s *JobCache) InvalidateUserCache(ctx context.Context, userID string) {
	n, err := s.invalidatePattern(ctx, s.keys.JobListPattern(userID))
	s.logWrite("invalidate_user", err)
	if err == nil {
		s.log.Debug().Str("user_id", userID).Int("keys", n).Msg("job cache invalidated")
	}
}

// InvalidateJob drops the detail entries of the given jobs and all list pages
// of their owner. Failures are logged.
func (s *JobCache) InvalidateJob(ctx context.Context, userID string, jobIDs ...string) {
	if s.client.Ready() && len(jobIDs) > 0 {
		keys := make([]string, len(jobIDs))
		for i, id := range jobIDs {
			keys[i] = s.keys.Job(id)
		}
		ctx, cancel := s.client.withTimeout(ctx)
		s.logWrite("invalidate_job", deleteKeys(ctx, s.client.Redis(), keys))
		cancel()
	}
	s.InvalidateUserCache(ctx, userID)
}

func (s *JobCache) invalidatePattern(ctx context.Context, pattern string) (int, error) {
	if !s.client.Ready() {
		return 0, ErrCacheUnavailable
	}
	rdb := s.client.Redis()
	deleted := 0
	err := s.scan(ctx, pattern, func(ctx context.Context, keys []string) error {
		if err := deleteKeys(ctx, rdb, keys); err != nil {
			return err
		}
		deleted += len(keys)
		return nil
	})
	return deleted, err
}

// scan walks keys matching pattern, giving each batch its own timeout.
func (s *JobCache) scan(ctx context.Context, pattern string, fn func(context.Context, []string) error) error {
	rdb := s.client.Redis()
	var cursor uint64
	for {
		opCtx, cancel := s.client.withTimeout(ctx)
		keys, next, err := rdb.Scan(opCtx, cursor, pattern, int64(s.opts.ScanCount)).Result()
		if err == nil && len(keys) > 0 {
			err = fn(opCtx, keys)
		}
		cancel()
		if err != nil {
			return err
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Stats reports breaker state and the number of cached list pages.
func (s *JobCache) Stats(ctx context.Context, userID string) JobCacheStats {
	st := JobCacheStats{
		Available:  s.client.Ready(),
		Breaker:    s.breaker.Stats(),
		TTLSeconds: int64(s.opts.TTL / time.Second),
		UserID:     userID,
	}
	if !st.Available {
		return st
	}
	pattern := s.keys.JobListPatternAll()
	if userID != "" {
		pattern = s.keys.JobListPattern(userID)
	}
	err := s.scan(ctx, pattern, func(_ context.Context, keys []string) error {
		st.CachedQueries += len(keys)
		return nil
	})
	if err != nil {
		s.log.Debug().Err(err).Msg("job cache stats incomplete")
	}
	return st
}

// WaitForWarm blocks until background warms finish or ctx is done.
func (s *JobCache) WaitForWarm(ctx context.Context) error { return s.warm.Wait(ctx) }

// Close cancels the breaker's pending reset and drains background warms.
func (s *JobCache) Close(ctx context.Context) error {
	s.breaker.Close()
	return s.warm.Wait(ctx)
}

func (s *JobCache) getJSON(ctx context.Context, key string, v any) error {
	raw, err := s.client.Redis().Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *JobCache) setJSON(ctx context.Context, key string, v any) error {
	if !s.client.Ready() {
		return ErrCacheUnavailable
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	return s.client.Redis().Set(ctx, key, b, s.opts.TTL).Err()
}

func (s *JobCache) logWrite(op string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, ErrCacheUnavailable) {
		s.log.Debug().Str("op", op).Msg("cache write skipped; backend unavailable")
		return
	}
	writeFailures.WithLabelValues("job_cache", op).Inc()
	s.log.Warn().Err(err).Str("op", op).Msg("cache write failed")
}
