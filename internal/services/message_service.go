// Package services – MessageService
//
// This file implements MessageService, which owns the lifecycle of group chat
// messages. It validates input, enforces group membership, persists changes
// to the chat store, keeps the hot window cache in step with each change, and
// publishes a real-time event afterwards.
//
// History reads serve the first page from the hot window; older pages use the
// `before` cursor against the store directly.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// group/user/message identifiers.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-jobtrack-backend/internal/cache"
	"github.com/tbourn/go-jobtrack-backend/internal/domain"
	"github.com/tbourn/go-jobtrack-backend/internal/repo"
)

// MaxHistoryPage caps one history page.
const MaxHistoryPage = 100

// SendInput is the body of a new message.
type SendInput struct {
	Content    string
	Kind       string
	Attachment *domain.Attachment
}

// MessageService coordinates message persistence, caching and events.
type MessageService struct {
	DB        *gorm.DB
	Groups    *GroupService
	Cache     *cache.ChatCache
	Publisher Publisher

	// MaxContentRunes caps message length; zero disables the check.
	MaxContentRunes int
}

// History returns up to limit messages of the group, newest first. Without a
// cursor the hot window serves the page; with before set, only older
// messages are read from the store.
func (s *MessageService) History(ctx context.Context, userID, groupID string, limit int, before *time.Time) ([]domain.CachedMessage, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "History",
		trace.WithAttributes(
			attribute.String("group.id", groupID),
			attribute.String("user.id", userID),
			attribute.Int("limit", limit),
			attribute.Bool("cursor", before != nil),
		),
	)
	defer span.End()

	if _, err := s.Groups.RequireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.Cache.WindowSize()
	}
	if limit > MaxHistoryPage {
		limit = MaxHistoryPage
	}
	if before == nil {
		return s.Cache.GetHotMessages(ctx, groupID, limit)
	}
	msgs, err := repo.FindRecentMessages(ctx, s.DB, groupID, limit, before)
	if err != nil {
		return nil, err
	}
	return s.Cache.Denormalize(ctx, msgs)
}

// Send persists a new message from userID, adds it to the hot window and
// publishes it.
func (s *MessageService) Send(ctx context.Context, userID, groupID string, in SendInput) (*domain.CachedMessage, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("group.id", groupID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	content, err := s.validContent(in.Content, in.Attachment != nil)
	if err != nil {
		return nil, err
	}
	kind := in.Kind
	switch {
	case in.Attachment != nil:
		kind = domain.KindFile
	case kind != domain.KindJob:
		kind = domain.KindText
	}
	if _, err := s.Groups.RequireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}

	m, err := repo.CreateMessage(ctx, s.DB, repo.NewMessage{
		GroupID:    groupID,
		SenderID:   userID,
		Content:    content,
		Kind:       kind,
		Attachment: in.Attachment,
	})
	if err != nil {
		return nil, err
	}
	snap := s.snapshot(ctx, *m)
	s.Cache.CacheMessage(ctx, groupID, snap)
	s.publish(ctx, EventMessageCreated, groupID, snap.ID, &snap)
	return &snap, nil
}

// Get returns one message visible to userID, cache first.
func (s *MessageService) Get(ctx context.Context, userID, messageID string) (*domain.CachedMessage, error) {
	if cached, ok := s.Cache.GetMessage(ctx, messageID); ok && !cached.IsDeleted {
		if _, err := s.Groups.RequireMember(ctx, cached.GroupID, userID); err != nil {
			return nil, ErrMessageNotFound
		}
		return cached, nil
	}
	m, err := s.load(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	snap := s.snapshot(ctx, *m)
	return &snap, nil
}

// Edit replaces the content of a message. Only its sender may edit it.
func (s *MessageService) Edit(ctx context.Context, userID, messageID, content string) (*domain.CachedMessage, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Edit",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	m, err := s.load(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != userID {
		return nil, ErrForbiddenMessage
	}
	content, err = s.validContent(content, m.Attachment.Data() != nil)
	if err != nil {
		return nil, err
	}
	at := time.Now().UTC()
	if err := repo.EditMessage(ctx, s.DB, messageID, content, at); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	edited := true
	s.Cache.UpdateMessage(ctx, messageID, domain.MessagePatch{
		Content:  &content,
		IsEdited: &edited,
		EditedAt: &at,
	})

	m.Content, m.IsEdited, m.EditedAt = content, true, &at
	snap := s.snapshot(ctx, *m)
	s.publish(ctx, EventMessageUpdated, m.GroupID, messageID, &snap)
	return &snap, nil
}

// Delete soft-deletes a message and evicts it from the cache. The sender and
// the group owner may delete.
func (s *MessageService) Delete(ctx context.Context, userID, messageID string) error {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	m, err := repo.GetMessage(ctx, s.DB, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	g, err := s.Groups.RequireMember(ctx, m.GroupID, userID)
	if err != nil {
		return ErrMessageNotFound
	}
	if m.SenderID != userID && g.OwnerID != userID {
		return ErrForbiddenMessage
	}
	if err := repo.SoftDeleteMessage(ctx, s.DB, messageID, time.Now().UTC()); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	s.Cache.InvalidateMessage(ctx, messageID, m.GroupID)
	s.publish(ctx, EventMessageDeleted, m.GroupID, messageID, nil)
	return nil
}

// React toggles userID's reaction with emoji and returns the message's
// reactions afterwards.
func (s *MessageService) React(ctx context.Context, userID, messageID, emoji string) ([]domain.Reaction, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > 16 {
		return nil, ErrInvalidReaction
	}
	m, err := s.load(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	reactions, err := repo.ToggleReaction(ctx, s.DB, messageID, userID, emoji)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	s.Cache.UpdateMessage(ctx, messageID, domain.MessagePatch{Reactions: &reactions})

	m.Reactions = reactions
	snap := s.snapshot(ctx, *m)
	s.publish(ctx, EventMessageUpdated, m.GroupID, messageID, &snap)
	return reactions, nil
}

// Count returns the approximate number of live messages in the group.
func (s *MessageService) Count(ctx context.Context, userID, groupID string) (int64, error) {
	if _, err := s.Groups.RequireMember(ctx, groupID, userID); err != nil {
		return 0, err
	}
	return s.Cache.GetMessageCount(ctx, groupID)
}

// CacheStats reports the chat cache state for a group the user belongs to.
func (s *MessageService) CacheStats(ctx context.Context, userID, groupID string) (cache.ChatCacheStats, error) {
	if _, err := s.Groups.RequireMember(ctx, groupID, userID); err != nil {
		return cache.ChatCacheStats{}, err
	}
	return s.Cache.Stats(ctx, groupID), nil
}

// load fetches a live message whose group userID belongs to. Messages of
// other groups are reported as not found.
func (s *MessageService) load(ctx context.Context, userID, messageID string) (*domain.Message, error) {
	m, err := repo.GetMessage(ctx, s.DB, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	if _, err := s.Groups.RequireMember(ctx, m.GroupID, userID); err != nil {
		if errors.Is(err, ErrNotGroupMember) || errors.Is(err, ErrGroupNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return m, nil
}

// snapshot denormalizes one message. An identity lookup failure keeps only
// the sender id; the message itself is already stored.
func (s *MessageService) snapshot(ctx context.Context, m domain.Message) domain.CachedMessage {
	out, err := s.Cache.Denormalize(ctx, []domain.Message{m})
	if err != nil || len(out) != 1 {
		return domain.Snapshot(m, domain.Identity{})
	}
	return out[0]
}

func (s *MessageService) publish(ctx context.Context, typ, groupID, messageID string, m *domain.CachedMessage) {
	if s.Publisher == nil {
		return
	}
	_ = s.Publisher.Publish(ctx, Event{
		Type:      typ,
		GroupID:   groupID,
		MessageID: messageID,
		Message:   m,
		At:        time.Now().UTC(),
	})
}

// validContent normalizes content and enforces the length limit. Empty
// content is allowed only alongside an attachment.
func (s *MessageService) validContent(content string, hasAttachment bool) (string, error) {
	content = strings.TrimSpace(norm.NFC.String(content))
	if content == "" && !hasAttachment {
		return "", ErrEmptyContent
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(content) > s.MaxContentRunes {
		return "", ErrTooLong
	}
	return content, nil
}
