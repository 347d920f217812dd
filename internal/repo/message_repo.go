// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model in the chat store.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-jobtrack-backend/internal/domain"
)

// NewMessage is the input of CreateMessage.
type NewMessage struct {
	GroupID    string
	SenderID   string
	Content    string
	Kind       string
	Attachment *domain.Attachment
}

// CreateMessage inserts a new message row.
func CreateMessage(ctx context.Context, db *gorm.DB, in NewMessage) (*domain.Message, error) {
	kind := in.Kind
	if kind == "" {
		kind = domain.KindText
	}
	now := time.Now().UTC()
	m := &domain.Message{
		ID:         uuid.NewString(),
		GroupID:    in.GroupID,
		SenderID:   in.SenderID,
		Content:    in.Content,
		Kind:       kind,
		Attachment: datatypes.NewJSONType(in.Attachment),
		Reactions:  datatypes.NewJSONSlice([]domain.Reaction{}),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessage fetches a non-deleted message by id.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ? AND is_deleted = ?", id, false).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// FindRecentMessages returns up to limit non-deleted messages of groupID,
// newest first (created_at DESC, id DESC). When before is set only messages
// created strictly earlier are returned.
func FindRecentMessages(ctx context.Context, db *gorm.DB, groupID string, limit int, before *time.Time) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).
		Where("group_id = ? AND is_deleted = ?", groupID, false)
	if before != nil {
		q = q.Where("created_at < ?", before.UTC())
	}
	q = q.Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
// Deleted messages are not counted.
func CountMessages(ctx context.Context, db *gorm.DB, groupID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE group_id = ? AND is_deleted = ?", groupID, false).
		Scan(&total).Error
	return total, err
}

// EditMessage replaces the content of a message and marks it edited.
func EditMessage(ctx context.Context, db *gorm.DB, id, content string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]any{
			"content":    content,
			"is_edited":  true,
			"edited_at":  at,
			"updated_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteMessage flags a message as deleted. The row is kept.
func SoftDeleteMessage(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]any{
			"is_deleted": true,
			"deleted_at": at,
			"updated_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleReaction adds userID to the emoji's reaction, or removes it when
// already present. Empty reactions are dropped. It returns the new set.
func ToggleReaction(ctx context.Context, db *gorm.DB, id, userID, emoji string) ([]domain.Reaction, error) {
	var out []domain.Reaction
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m domain.Message
		if err := tx.Where("id = ? AND is_deleted = ?", id, false).First(&m).Error; err != nil {
			return err
		}
		out = toggle([]domain.Reaction(m.Reactions), userID, emoji)
		return tx.Model(&domain.Message{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"reactions":  datatypes.NewJSONSlice(out),
				"updated_at": time.Now().UTC(),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func toggle(in []domain.Reaction, userID, emoji string) []domain.Reaction {
	out := make([]domain.Reaction, 0, len(in)+1)
	found := false
	for _, r := range in {
		if r.Emoji != emoji {
			out = append(out, r)
			continue
		}
		found = true
		users := make([]string, 0, len(r.UserIDs)+1)
		had := false
		for _, u := range r.UserIDs {
			if u == userID {
				had = true
				continue
			}
			users = append(users, u)
		}
		if !had {
			users = append(users, userID)
		}
		if len(users) > 0 {
			out = append(out, domain.Reaction{Emoji: emoji, UserIDs: users})
		}
	}
	if !found {
		out = append(out, domain.Reaction{Emoji: emoji, UserIDs: []string{userID}})
	}
	return out
}

// Messages adapts the chat store to the chat cache's fallback contract.
type Messages struct {
	DB *gorm.DB
}

// FindRecentMessages implements cache.ChatStore.
func (m Messages) FindRecentMessages(ctx context.Context, groupID string, limit int, before *time.Time) ([]domain.Message, error) {
	return FindRecentMessages(ctx, m.DB, groupID, limit, before)
}

// CountMessages implements cache.ChatStore.
func (m Messages) CountMessages(ctx context.Context, groupID string) (int64, error) {
	return CountMessages(ctx, m.DB, groupID)
}
