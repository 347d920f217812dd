// Package services – GroupService
//
// This file implements GroupService, which manages collaboration groups and
// their memberships in the chat store. It normalizes group names, enforces
// membership rules, and coordinates repository calls. Membership checks are
// shared with MessageService through RequireMember.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-jobtrack-backend/internal/domain"
)

// GroupRepo defines the repository contract required by GroupService.
type GroupRepo interface {
	// CreateGroup inserts a group and makes ownerID its first member.
	CreateGroup(ctx context.Context, db *gorm.DB, ownerID, name string) (*domain.Group, error)

	// GetGroup fetches a group by id.
	GetGroup(ctx context.Context, db *gorm.DB, id string) (*domain.Group, error)

	// ListGroupsForUser returns the groups userID belongs to.
	ListGroupsForUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Group, error)

	// AddMember adds userID to a group; re-adding is a no-op.
	AddMember(ctx context.Context, db *gorm.DB, groupID, userID, role string) error

	// IsMember reports whether userID belongs to groupID.
	IsMember(ctx context.Context, db *gorm.DB, groupID, userID string) (bool, error)
}

// GroupService provides group-level operations.
type GroupService struct {
	// DB is the chat store handle.
	DB *gorm.DB
	// Repo is the group repository used by this service.
	Repo GroupRepo

	// NameMaxLen caps stored names by rune length.
	NameMaxLen int
}

// NewGroupService constructs a GroupService with default name handling.
func NewGroupService(db *gorm.DB, r GroupRepo) *GroupService {
	return &GroupService{DB: db, Repo: r, NameMaxLen: 80}
}

// Create inserts a group owned by userID.
func (s *GroupService) Create(ctx context.Context, userID, name string) (*domain.Group, error) {
	tr := otel.Tracer("services/GroupService")
	ctx, span := tr.Start(ctx, "Create", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	name = normalizeName(name)
	if name == "" {
		return nil, ErrEmptyContent
	}
	return s.Repo.CreateGroup(ctx, s.DB, userID, s.clip(name))
}

// List returns the groups the user belongs to.
func (s *GroupService) List(ctx context.Context, userID string) ([]domain.Group, error) {
	return s.Repo.ListGroupsForUser(ctx, s.DB, userID)
}

// AddMember adds userID to groupID on behalf of actorID, who must already be
// a member.
func (s *GroupService) AddMember(ctx context.Context, actorID, groupID, userID string) error {
	tr := otel.Tracer("services/GroupService")
	ctx, span := tr.Start(ctx, "AddMember",
		trace.WithAttributes(
			attribute.String("group.id", groupID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return ErrEmptyContent
	}
	if _, err := s.RequireMember(ctx, groupID, actorID); err != nil {
		return err
	}
	return s.Repo.AddMember(ctx, s.DB, groupID, userID, "")
}

// RequireMember loads the group and checks that userID belongs to it.
// It returns ErrGroupNotFound or ErrNotGroupMember.
func (s *GroupService) RequireMember(ctx context.Context, groupID, userID string) (*domain.Group, error) {
	g, err := s.Repo.GetGroup(ctx, s.DB, groupID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	ok, err := s.Repo.IsMember(ctx, s.DB, groupID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotGroupMember
	}
	return g, nil
}

// clip truncates a name to the configured maximum rune length.
func (s *GroupService) clip(name string) string {
	if s.NameMaxLen > 0 && utf8.RuneCountInString(name) > s.NameMaxLen {
		return string([]rune(name)[:s.NameMaxLen])
	}
	return name
}

// normalizeName applies NFC, trims whitespace and collapses runs of spaces.
func normalizeName(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(norm.NFC.String(s)), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
