// Job HTTP handlers.
//
// This file exposes REST endpoints for tracked job applications:
//   - GET    /jobs               (filtered, sorted, paginated list; cached)
//   - POST   /jobs               (create; Idempotency-Key aware)
//   - POST   /jobs/sync          (upsert by source URL, used by the extension)
//   - POST   /jobs/bulk-status   (set status on many jobs)
//   - GET    /jobs/:id
//   - PATCH  /jobs/:id
//   - DELETE /jobs/:id
//   - GET    /jobs/cache/stats   (cache state for the caller)
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-jobtrack-backend/internal/domain"
	"github.com/tbourn/go-jobtrack-backend/internal/repo"
	"github.com/tbourn/go-jobtrack-backend/internal/services"
	"github.com/tbourn/go-jobtrack-backend/internal/utils"
)

// MaxBulkIDs caps one bulk status request.
const MaxBulkIDs = 100

// JobRequest is the JSON payload for creating or syncing a job.
type JobRequest struct {
	Company    string     `json:"company"      example:"Acme"`
	Position   string     `json:"position"     example:"Backend Engineer"`
	Status     string     `json:"status"       example:"saved"`
	WorkType   string     `json:"work_type"    example:"remote"`
	Location   string     `json:"location"     example:"Berlin"`
	SourceURL  *string    `json:"source_url"   example:"https://jobs.example.com/123"`
	Salary     string     `json:"salary"`
	Notes      string     `json:"notes"`
	SharedByID *string    `json:"shared_by_id"`
	AppliedAt  *time.Time `json:"applied_at"`
}

func (r JobRequest) input() services.JobInput {
	return services.JobInput{
		Company:    r.Company,
		Position:   r.Position,
		Status:     r.Status,
		WorkType:   r.WorkType,
		Location:   r.Location,
		SourceURL:  r.SourceURL,
		Salary:     r.Salary,
		Notes:      r.Notes,
		SharedByID: r.SharedByID,
		AppliedAt:  r.AppliedAt,
	}
}

// JobPatchRequest is the JSON payload for a partial update. Omitted fields
// are left untouched.
type JobPatchRequest struct {
	Company   *string    `json:"company"`
	Position  *string    `json:"position"`
	Status    *string    `json:"status"`
	WorkType  *string    `json:"work_type"`
	Location  *string    `json:"location"`
	Salary    *string    `json:"salary"`
	Notes     *string    `json:"notes"`
	AppliedAt *time.Time `json:"applied_at"`
}

// BulkStatusRequest sets one status on several jobs.
type BulkStatusRequest struct {
	IDs    []string `json:"ids"    binding:"required,min=1"`
	Status string   `json:"status" binding:"required" example:"rejected"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job *domain.Job `json:"job"`
}

// JobRowResponse wraps a single job with its sharer.
type JobRowResponse struct {
	Job *domain.JobRow `json:"job"`
}

// BulkStatusResponse reports how many jobs changed.
type BulkStatusResponse struct {
	Updated int64 `json:"updated"`
}

// listInput reads list filters from the query string. Both camelCase and
// snake_case names are accepted for the multi-word parameters.
func listInput(c *gin.Context) (services.ListJobsInput, bool) {
	in := services.ListJobsInput{
		Status:    c.Query("status"),
		WorkType:  firstQuery(c, "workType", "work_type"),
		Company:   c.Query("company"),
		Search:    c.Query("search"),
		SortBy:    firstQuery(c, "sortBy", "sort_by"),
		SortOrder: strings.ToLower(firstQuery(c, "sortOrder", "sort_order")),
		Page:      utils.AtoiDefault(c.Query("page"), 1),
		Limit:     utils.AtoiDefault(firstQuery(c, "limit", "page_size"), services.DefaultJobPageSize),
	}
	if raw := firstQuery(c, "appliedAfter", "applied_after"); raw != "" {
		t, okT := utils.ParseTime(raw)
		if !okT {
			return in, false
		}
		in.AppliedAfter = &t
	}
	return in, true
}

func firstQuery(c *gin.Context, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(c.Query(n)); v != "" {
			return v
		}
	}
	return ""
}

// ListJobs godoc
// @ID          listJobs
// @Summary     List tracked jobs
// @Description Returns one page of the caller's jobs. Pages are served from the query cache when possible.
// @Tags        Jobs
// @Produce     json
// @Param       X-User-ID     header string true  "Caller id"
// @Param       status        query  string false "saved|applied|interview|offer|rejected|withdrawn|all"
// @Param       workType      query  string false "remote|hybrid|onsite|all"
// @Param       company       query  string false "Company substring"
// @Param       search        query  string false "Free-text search"
// @Param       appliedAfter  query  string false "RFC3339, YYYY-MM-DD or Unix ms"
// @Param       sortBy        query  string false "createdAt|updatedAt|appliedAt|company|position|status"
// @Param       sortOrder     query  string false "asc|desc"
// @Param       page          query  int    false "Page number" minimum(1) default(1)
// @Param       limit         query  int    false "Page size"   minimum(1) maximum(100) default(20)
// @Success     200 {object} domain.JobPage
// @Success     304 "Not modified"
// @Failure     400 {object} handlers.ErrorResponse
// @Router      /jobs [get]
func (h *Handlers) ListJobs(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	in, okIn := listInput(c)
	if !okIn {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "appliedAfter must be a date, RFC3339 time or Unix milliseconds")
		return
	}

	// ETag pre-check (best effort).
	if svc, okSvc := h.jobs.(*services.JobService); okSvc && svc.DB != nil {
		if count, maxTS, err := repo.JobsStats(ctx, svc.DB, uid); err == nil {
			if notModified(c, "jobs", uid, count, maxTS) {
				return
			}
		}
	}

	page, err := h.jobs.List(ctx, uid, in)
	if err != nil {
		failErr(c, err)
		return
	}
	if page.Rows == nil {
		page.Rows = []domain.JobRow{}
	}
	ok(c, http.StatusOK, page)
}

// CreateJob godoc
// @ID          createJob
// @Summary     Create a job
// @Description Creates a tracked job. Supports safe retries via the Idempotency-Key header.
// @Tags        Jobs
// @Accept      json
// @Produce     json
// @Param       X-User-ID        header string true  "Caller id"
// @Param       Idempotency-Key  header string false "Idempotency key for safe retries"
// @Param       body             body   handlers.JobRequest true "Job"
// @Success     201 {object} handlers.JobResponse
// @Failure     400 {object} handlers.ErrorResponse
// @Router      /jobs [post]
func (h *Handlers) CreateJob(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid job payload")
		return
	}

	if h.replayed(c, func(id string) (any, error) {
		row, err := h.jobs.Get(ctx, uid, id)
		if err != nil {
			return nil, err
		}
		return JobResponse{Job: &row.Job}, nil
	}) {
		return
	}

	j, err := h.jobs.Create(ctx, uid, req.input())
	if err != nil {
		failErr(c, err)
		return
	}
	h.remember(c, j.ID, http.StatusCreated)
	ok(c, http.StatusCreated, JobResponse{Job: j})
}

// SyncJob godoc
// @ID          syncJob
// @Summary     Upsert a scraped job
// @Description Creates or refreshes the caller's job with the same source URL. Status and notes of an existing job are kept.
// @Tags        Jobs
// @Accept      json
// @Produce     json
// @Param       X-User-ID header string true "Caller id"
// @Param       body      body   handlers.JobRequest true "Scraped job"
// @Success     200 {object} handlers.JobResponse
// @Failure     400 {object} handlers.ErrorResponse
// @Router      /jobs/sync [post]
func (h *Handlers) SyncJob(c *gin.Context) {
	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid job payload")
		return
	}
	j, err := h.jobs.Sync(c.Request.Context(), userID(c), req.input())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, JobResponse{Job: j})
}

// GetJob godoc
// @ID       getJob
// @Summary  Get a job
// @Tags     Jobs
// @Produce  json
// @Param    X-User-ID header string true "Caller id"
// @Param    id        path   string true "Job id"
// @Success  200 {object} handlers.JobRowResponse
// @Failure  404 {object} handlers.ErrorResponse
// @Router   /jobs/{id} [get]
func (h *Handlers) GetJob(c *gin.Context) {
	row, err := h.jobs.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, JobRowResponse{Job: row})
}

// UpdateJob godoc
// @ID       updateJob
// @Summary  Update a job
// @Tags     Jobs
// @Accept   json
// @Produce  json
// @Param    X-User-ID header string true "Caller id"
// @Param    id        path   string true "Job id"
// @Param    body      body   handlers.JobPatchRequest true "Fields to change"
// @Success  200 {object} handlers.JobResponse
// @Failure  400 {object} handlers.ErrorResponse
// @Failure  404 {object} handlers.ErrorResponse
// @Router   /jobs/{id} [patch]
func (h *Handlers) UpdateJob(c *gin.Context) {
	var req JobPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid patch payload")
		return
	}
	j, err := h.jobs.Update(c.Request.Context(), userID(c), c.Param("id"), services.JobPatch{
		Company:   req.Company,
		Position:  req.Position,
		Status:    req.Status,
		WorkType:  req.WorkType,
		Location:  req.Location,
		Salary:    req.Salary,
		Notes:     req.Notes,
		AppliedAt: req.AppliedAt,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, JobResponse{Job: j})
}

// DeleteJob godoc
// @ID       deleteJob
// @Summary  Delete a job
// @Tags     Jobs
// @Param    X-User-ID header string true "Caller id"
// @Param    id        path   string true "Job id"
// @Success  204
// @Failure  404 {object} handlers.ErrorResponse
// @Router   /jobs/{id} [delete]
func (h *Handlers) DeleteJob(c *gin.Context) {
	if err := h.jobs.Delete(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// BulkStatus godoc
// @ID       bulkJobStatus
// @Summary  Set status on several jobs
// @Tags     Jobs
// @Accept   json
// @Produce  json
// @Param    X-User-ID header string true "Caller id"
// @Param    body      body   handlers.BulkStatusRequest true "Ids and status"
// @Success  200 {object} handlers.BulkStatusResponse
// @Failure  400 {object} handlers.ErrorResponse
// @Router   /jobs/bulk-status [post]
func (h *Handlers) BulkStatus(c *gin.Context) {
	var req BulkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ids and status are required")
		return
	}
	if len(req.IDs) > MaxBulkIDs {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "too many ids")
		return
	}
	n, err := h.jobs.BulkStatus(c.Request.Context(), userID(c), req.IDs, req.Status)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, BulkStatusResponse{Updated: n})
}

// JobCacheStats godoc
// @ID       jobCacheStats
// @Summary  Job cache statistics for the caller
// @Tags     Cache
// @Produce  json
// @Param    X-User-ID header string true "Caller id"
// @Success  200 {object} cache.JobCacheStats
// @Router   /jobs/cache/stats [get]
func (h *Handlers) JobCacheStats(c *gin.Context) {
	ok(c, http.StatusOK, h.jobs.CacheStats(c.Request.Context(), userID(c)))
}
