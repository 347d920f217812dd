// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for groups and their
// memberships in the chat store.
//
// Error semantics:
//   - When a group or membership is not found, functions return
//     gorm.ErrRecordNotFound (ErrNotFound).
//   - On other DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-jobtrack-backend/internal/domain"
)

// Member roles.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// CreateGroup inserts a group and its owner membership in one transaction.
func CreateGroup(ctx context.Context, db *gorm.DB, ownerID, name string) (*domain.Group, error) {
	now := time.Now().UTC()
	g := &domain.Group{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(g).Error; err != nil {
			return err
		}
		return tx.Create(&domain.GroupMember{
			GroupID:  g.ID,
			UserID:   ownerID,
			Role:     RoleOwner,
			JoinedAt: now,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GetGroup fetches a group by id, or ErrNotFound.
func GetGroup(ctx context.Context, db *gorm.DB, id string) (*domain.Group, error) {
	var g domain.Group
	if err := db.WithContext(ctx).Where("id = ?", id).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGroupsForUser returns the groups userID belongs to, newest first.
func ListGroupsForUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Group, error) {
	var out []domain.Group
	err := db.WithContext(ctx).
		Joins("JOIN group_members gm ON gm.group_id = `groups`.id").
		Where("gm.user_id = ?", userID).
		Order("`groups`.created_at desc").
		Find(&out).Error
	return out, err
}

// AddMember adds userID to the group. Adding an existing member is a no-op.
func AddMember(ctx context.Context, db *gorm.DB, groupID, userID, role string) error {
	if role == "" {
		role = RoleMember
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.GroupMember{
			GroupID:  groupID,
			UserID:   userID,
			Role:     role,
			JoinedAt: time.Now().UTC(),
		}).Error
}

// IsMember reports whether userID belongs to groupID.
func IsMember(ctx context.Context, db *gorm.DB, groupID, userID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&n).Error
	return n > 0, err
}

// ListMemberIDs returns the user ids of a group's members.
func ListMemberIDs(ctx context.Context, db *gorm.DB, groupID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.GroupMember{}).
		Where("group_id = ?", groupID).
		Order("joined_at asc").
		Pluck("user_id", &ids).Error
	return ids, err
}
