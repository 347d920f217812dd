// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model
// in the primary store and the identity resolver used by the cache layer.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-jobtrack-backend/internal/domain"
)

// CreateUser inserts a user with a fresh UUID. Email is stored lowercased.
func CreateUser(ctx context.Context, db *gorm.DB, firstName, lastName, email string) (*domain.User, error) {
	now := time.Now().UTC()
	u := &domain.User{
		ID:        uuid.NewString(),
		FirstName: firstName,
		LastName:  lastName,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser fetches a user by id, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// ResolveIdentities loads the identity snapshots of ids with one IN query.
// Unknown ids are absent from the result.
func ResolveIdentities(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.Identity, error) {
	out := make(map[string]domain.Identity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []domain.User
	err := db.WithContext(ctx).
		Select("id", "first_name", "last_name", "email").
		Where("id IN ?", ids).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = domain.IdentityOf(u)
	}
	return out, nil
}

// Users adapts the primary store to the identity resolver contract.
type Users struct {
	DB *gorm.DB
}

// ResolveIdentities implements cache.IdentityResolver.
func (u Users) ResolveIdentities(ctx context.Context, ids []string) (map[string]domain.Identity, error) {
	return ResolveIdentities(ctx, u.DB, ids)
}
