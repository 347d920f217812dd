// Package services – JobService
//
// This file implements JobService, which owns the tracked job applications of
// a user in the primary store. Reads go through the job query cache; every
// mutation invalidates the owner's cached pages so a later read never serves
// a page that predates the change.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-jobtrack-backend/internal/cache"
	"github.com/tbourn/go-jobtrack-backend/internal/domain"
	"github.com/tbourn/go-jobtrack-backend/internal/repo"
)

// List limits.
const (
	DefaultJobPageSize = 20
	MaxJobPageSize     = 100
)

// sortFields maps API sort names to columns.
var sortFields = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"appliedAt": "applied_at",
	"company":   "company",
	"position":  "position",
	"status":    "status",
}

// ListJobsInput carries the filters, sort and page of a job list request.
type ListJobsInput struct {
	Status       string
	WorkType     string
	Company      string
	Search       string
	AppliedAfter *time.Time
	SortBy       string
	SortOrder    string
	Page         int
	Limit        int
}

// JobInput is the body of a create or sync request.
type JobInput struct {
	Company    string
	Position   string
	Status     string
	WorkType   string
	Location   string
	SourceURL  *string
	Salary     string
	Notes      string
	SharedByID *string
	AppliedAt  *time.Time
}

// JobPatch holds the fields of an update; nil fields are left untouched.
type JobPatch struct {
	Company   *string
	Position  *string
	Status    *string
	WorkType  *string
	Location  *string
	Salary    *string
	Notes     *string
	AppliedAt *time.Time
}

// JobService coordinates job persistence with the job query cache.
type JobService struct {
	DB    *gorm.DB
	Cache *cache.JobCache
}

// List returns one page of the user's jobs, cache first.
func (s *JobService) List(ctx context.Context, userID string, in ListJobsInput) (domain.JobPage, error) {
	tr := otel.Tracer("services/JobService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", in.Page),
			attribute.Int("limit", in.Limit),
		),
	)
	defer span.End()

	in, err := normalizeList(in)
	if err != nil {
		return domain.JobPage{}, err
	}
	q := domain.JobQuery{
		UserID:       userID,
		Status:       in.Status,
		WorkType:     in.WorkType,
		Company:      in.Company,
		Search:       in.Search,
		AppliedAfter: in.AppliedAfter,
	}
	sort := domain.JobSort{Field: sortFields[in.SortBy], Desc: in.SortOrder == "desc"}
	skip := (in.Page - 1) * in.Limit
	return s.Cache.GetCachedJobs(ctx, userID, listFilters(in), q, sort, skip, in.Limit)
}

// normalizeList validates the request and fills defaults.
func normalizeList(in ListJobsInput) (ListJobsInput, error) {
	in.Status = strings.ToLower(strings.TrimSpace(in.Status))
	if in.Status == "" {
		in.Status = domain.StatusAll
	}
	if in.Status != domain.StatusAll && !domain.ValidJobStatus(in.Status) {
		return in, ErrInvalidStatus
	}
	in.WorkType = strings.ToLower(strings.TrimSpace(in.WorkType))
	if in.WorkType == "" {
		in.WorkType = domain.WorkTypeAll
	}
	if in.WorkType != domain.WorkTypeAll && !domain.ValidWorkType(in.WorkType) {
		return in, ErrInvalidWorkType
	}
	if in.SortBy == "" {
		in.SortBy = "createdAt"
	}
	if _, ok := sortFields[in.SortBy]; !ok {
		return in, ErrInvalidSort
	}
	if in.SortOrder = strings.ToLower(in.SortOrder); in.SortOrder != "asc" {
		in.SortOrder = "desc"
	}
	in.Company = strings.TrimSpace(in.Company)
	in.Search = strings.TrimSpace(in.Search)
	if in.Page < 1 {
		in.Page = 1
	}
	if in.Limit <= 0 {
		in.Limit = DefaultJobPageSize
	}
	if in.Limit > MaxJobPageSize {
		in.Limit = MaxJobPageSize
	}
	return in, nil
}

// listFilters renders a normalized request as cache key parameters.
func listFilters(in ListJobsInput) cache.Filters {
	f := cache.Filters{
		"status":    in.Status,
		"workType":  in.WorkType,
		"company":   in.Company,
		"search":    in.Search,
		"sortBy":    in.SortBy,
		"sortOrder": in.SortOrder,
		"page":      in.Page,
		"limit":     in.Limit,
	}
	if in.AppliedAfter != nil {
		f["appliedAfter"] = *in.AppliedAfter
	}
	return f
}

// Get returns one job of the user with its sharer attached.
func (s *JobService) Get(ctx context.Context, userID, jobID string) (*domain.JobRow, error) {
	row, err := s.Cache.GetCachedJob(ctx, userID, jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	return row, err
}

// Create validates and inserts a job, then drops the user's cached pages.
func (s *JobService) Create(ctx context.Context, userID string, in JobInput) (*domain.Job, error) {
	tr := otel.Tracer("services/JobService")
	ctx, span := tr.Start(ctx, "Create", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	j, err := buildJob(userID, in)
	if err != nil {
		return nil, err
	}
	if err := repo.CreateJob(ctx, s.DB, j); err != nil {
		return nil, err
	}
	s.Cache.InvalidateUserCache(ctx, userID)
	return j, nil
}

// Sync upserts a job scraped by the browser extension, keyed by source URL.
func (s *JobService) Sync(ctx context.Context, userID string, in JobInput) (*domain.Job, error) {
	tr := otel.Tracer("services/JobService")
	ctx, span := tr.Start(ctx, "Sync", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if in.SourceURL == nil || strings.TrimSpace(*in.SourceURL) == "" {
		return nil, ErrMissingSourceURL
	}
	j, err := buildJob(userID, in)
	if err != nil {
		return nil, err
	}
	out, err := repo.SyncJob(ctx, s.DB, j)
	if err != nil {
		return nil, err
	}
	s.Cache.InvalidateJob(ctx, userID, out.ID)
	return out, nil
}

// Update applies a patch to one job of the user.
func (s *JobService) Update(ctx context.Context, userID, jobID string, p JobPatch) (*domain.Job, error) {
	tr := otel.Tracer("services/JobService")
	ctx, span := tr.Start(ctx, "Update",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("job.id", jobID),
		),
	)
	defer span.End()

	fields, err := patchFields(p)
	if err != nil {
		return nil, err
	}
	if err := repo.UpdateJob(ctx, s.DB, jobID, userID, fields); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	s.Cache.InvalidateJob(ctx, userID, jobID)
	j, err := repo.GetJob(ctx, s.DB, jobID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	return j, err
}

// Delete soft-deletes one job of the user.
func (s *JobService) Delete(ctx context.Context, userID, jobID string) error {
	if err := repo.DeleteJob(ctx, s.DB, jobID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJobNotFound
		}
		return err
	}
	s.Cache.InvalidateJob(ctx, userID, jobID)
	return nil
}

// BulkStatus sets status on the listed jobs of the user and returns the
// number changed.
func (s *JobService) BulkStatus(ctx context.Context, userID string, ids []string, status string) (int64, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if !domain.ValidJobStatus(status) {
		return 0, ErrInvalidStatus
	}
	n, err := repo.BulkUpdateStatus(ctx, s.DB, userID, ids, status)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.Cache.InvalidateJob(ctx, userID, ids...)
	}
	return n, nil
}

// CacheStats reports the job cache state, scoped to userID when set.
func (s *JobService) CacheStats(ctx context.Context, userID string) cache.JobCacheStats {
	return s.Cache.Stats(ctx, userID)
}

func buildJob(userID string, in JobInput) (*domain.Job, error) {
	j := &domain.Job{
		UserID:     userID,
		Company:    strings.TrimSpace(in.Company),
		Position:   strings.TrimSpace(in.Position),
		Status:     strings.ToLower(strings.TrimSpace(in.Status)),
		WorkType:   strings.ToLower(strings.TrimSpace(in.WorkType)),
		Location:   strings.TrimSpace(in.Location),
		Salary:     strings.TrimSpace(in.Salary),
		Notes:      in.Notes,
		SharedByID: in.SharedByID,
		AppliedAt:  in.AppliedAt,
	}
	if in.SourceURL != nil {
		u := strings.TrimSpace(*in.SourceURL)
		if u != "" {
			j.SourceURL = &u
		}
	}
	if j.Company == "" || j.Position == "" {
		return nil, ErrMissingField
	}
	if j.Status == "" {
		j.Status = domain.StatusSaved
	}
	if !domain.ValidJobStatus(j.Status) {
		return nil, ErrInvalidStatus
	}
	if !domain.ValidWorkType(j.WorkType) {
		return nil, ErrInvalidWorkType
	}
	if j.Status == domain.StatusApplied && j.AppliedAt == nil {
		now := time.Now().UTC()
		j.AppliedAt = &now
	}
	return j, nil
}

func patchFields(p JobPatch) (map[string]any, error) {
	f := map[string]any{}
	if p.Company != nil {
		v := strings.TrimSpace(*p.Company)
		if v == "" {
			return nil, ErrMissingField
		}
		f["company"] = v
	}
	if p.Position != nil {
		v := strings.TrimSpace(*p.Position)
		if v == "" {
			return nil, ErrMissingField
		}
		f["position"] = v
	}
	if p.Status != nil {
		v := strings.ToLower(strings.TrimSpace(*p.Status))
		if !domain.ValidJobStatus(v) {
			return nil, ErrInvalidStatus
		}
		f["status"] = v
		if v == domain.StatusApplied && p.AppliedAt == nil {
			f["applied_at"] = gorm.Expr("COALESCE(applied_at, ?)", time.Now().UTC())
		}
	}
	if p.WorkType != nil {
		v := strings.ToLower(strings.TrimSpace(*p.WorkType))
		if !domain.ValidWorkType(v) {
			return nil, ErrInvalidWorkType
		}
		f["work_type"] = v
	}
	if p.Location != nil {
		f["location"] = strings.TrimSpace(*p.Location)
	}
	if p.Salary != nil {
		f["salary"] = strings.TrimSpace(*p.Salary)
	}
	if p.Notes != nil {
		f["notes"] = *p.Notes
	}
	if p.AppliedAt != nil {
		f["applied_at"] = p.AppliedAt.UTC()
	}
	return f, nil
}
