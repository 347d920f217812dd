// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Job model
// in the primary store. List queries are composed from domain.JobQuery with
// gorm scopes; deletes are soft (gorm.DeletedAt).
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-jobtrack-backend/internal/domain"
)

// sortColumns is the allow-list of sortable job columns.
var sortColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"applied_at": true,
	"company":    true,
	"position":   true,
	"status":     true,
}

// SortableJobColumn reports whether col may be used in domain.JobSort.
func SortableJobColumn(col string) bool { return sortColumns[col] }

// jobFilter applies the query's predicates.
func jobFilter(q domain.JobQuery) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("user_id = ?", q.UserID)
		if q.Status != "" && q.Status != domain.StatusAll {
			db = db.Where("status = ?", q.Status)
		}
		if q.WorkType != "" && q.WorkType != domain.WorkTypeAll {
			db = db.Where("work_type = ?", q.WorkType)
		}
		if c := strings.TrimSpace(q.Company); c != "" {
			db = db.Where("LOWER(company) LIKE ? ESCAPE '\\'", likePattern(c))
		}
		if s := strings.TrimSpace(q.Search); s != "" {
			p := likePattern(s)
			db = db.Where(
				"(LOWER(company) LIKE ? ESCAPE '\\' OR LOWER(position) LIKE ? ESCAPE '\\' OR LOWER(location) LIKE ? ESCAPE '\\' OR LOWER(notes) LIKE ? ESCAPE '\\')",
				p, p, p, p,
			)
		}
		if q.AppliedAfter != nil {
			db = db.Where("applied_at >= ?", q.AppliedAfter.UTC())
		}
		return db
	}
}

// jobOrder applies the sort with id as a tiebreaker.
func jobOrder(s domain.JobSort) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		col := s.Field
		if !sortColumns[col] {
			col = "created_at"
		}
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: s.Desc}).
			Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: s.Desc})
	}
}

func likePattern(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return "%" + s + "%"
}

// FindJobs returns one page of jobs matching q.
func FindJobs(ctx context.Context, db *gorm.DB, q domain.JobQuery, sort domain.JobSort, offset, limit int) ([]domain.Job, error) {
	var out []domain.Job
	tx := db.WithContext(ctx).Scopes(jobFilter(q), jobOrder(sort)).Offset(offset)
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	err := tx.Find(&out).Error
	return out, err
}

// CountJobs returns the number of jobs matching q.
func CountJobs(ctx context.Context, db *gorm.DB, q domain.JobQuery) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Job{}).Scopes(jobFilter(q)).Count(&total).Error
	return total, err
}

// GetJob fetches a job by id and owner, or ErrNotFound.
func GetJob(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Job, error) {
	var j domain.Job
	if err := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJob inserts j with a fresh id and timestamps.
func CreateJob(ctx context.Context, db *gorm.DB, j *domain.Job) error {
	now := time.Now().UTC()
	j.ID = uuid.NewString()
	j.CreatedAt, j.UpdatedAt = now, now
	if j.Status == "" {
		j.Status = domain.StatusSaved
	}
	return db.WithContext(ctx).Create(j).Error
}

// UpdateJob applies column updates to a job owned by userID.
func UpdateJob(ctx context.Context, db *gorm.DB, id, userID string, fields map[string]any) error {
	if len(fields) == 0 {
		_, err := GetJob(ctx, db, id, userID)
		return err
	}
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteJob soft-deletes a job owned by userID.
func DeleteJob(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&domain.Job{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// BulkUpdateStatus sets status on every listed job owned by userID and returns
// the number of rows changed.
func BulkUpdateStatus(ctx context.Context, db *gorm.DB, userID string, ids []string, status string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("user_id = ? AND id IN ?", userID, ids).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

// SyncJob upserts a job scraped by the browser extension, keyed by
// (user_id, source_url). An existing row keeps its id, status, notes and
// creation time; a soft-deleted row is restored.
func SyncJob(ctx context.Context, db *gorm.DB, j *domain.Job) (*domain.Job, error) {
	if j.SourceURL == nil || *j.SourceURL == "" {
		if err := CreateJob(ctx, db, j); err != nil {
			return nil, err
		}
		return j, nil
	}
	now := time.Now().UTC()
	j.ID = uuid.NewString()
	j.CreatedAt, j.UpdatedAt = now, now
	if j.Status == "" {
		j.Status = domain.StatusSaved
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "source_url"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"company", "position", "work_type", "location", "salary", "updated_at", "deleted_at",
		}),
	}).Create(j).Error
	if err != nil {
		return nil, err
	}
	var out domain.Job
	err = db.WithContext(ctx).
		Where("user_id = ? AND source_url = ?", j.UserID, *j.SourceURL).
		First(&out).Error
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Jobs adapts the primary store to the job cache's fallback contract.
type Jobs struct {
	DB *gorm.DB
}

// FindJobs implements cache.JobStore.
func (r Jobs) FindJobs(ctx context.Context, q domain.JobQuery, sort domain.JobSort, skip, limit int) ([]domain.Job, error) {
	return FindJobs(ctx, r.DB, q, sort, skip, limit)
}

// CountJobs implements cache.JobStore.
func (r Jobs) CountJobs(ctx context.Context, q domain.JobQuery) (int64, error) {
	return CountJobs(ctx, r.DB, q)
}

// FindJob implements cache.JobStore.
func (r Jobs) FindJob(ctx context.Context, userID, jobID string) (*domain.Job, error) {
	return GetJob(ctx, r.DB, jobID, userID)
}
