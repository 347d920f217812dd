// Group HTTP handlers: create, list (with ETag) and membership.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-jobtrack-backend/internal/domain"
	"github.com/tbourn/go-jobtrack-backend/internal/repo"
	"github.com/tbourn/go-jobtrack-backend/internal/services"
)

// CreateGroupRequest is the JSON payload for a new group.
type CreateGroupRequest struct {
	Name string `json:"name" binding:"required" example:"Berlin backend hunt"`
}

// AddMemberRequest names the user to add.
type AddMemberRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// GroupResponse wraps a single group.
type GroupResponse struct {
	Group *domain.Group `json:"group"`
}

// ListGroupsResponse lists the caller's groups.
type ListGroupsResponse struct {
	Groups []domain.Group `json:"groups"`
}

// CreateGroup godoc
// @ID       createGroup
// @Summary  Create a group
// @Tags     Groups
// @Accept   json
// @Produce  json
// @Param    X-User-ID header string true "Caller id"
// @Param    body      body   handlers.CreateGroupRequest true "Group"
// @Success  201 {object} handlers.GroupResponse
// @Failure  400 {object} handlers.ErrorResponse
// @Router   /groups [post]
func (h *Handlers) CreateGroup(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name is required")
		return
	}
	g, err := h.groups.Create(c.Request.Context(), userID(c), req.Name)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, GroupResponse{Group: g})
}

// ListGroups godoc
// @ID       listGroups
// @Summary  List the caller's groups
// @Tags     Groups
// @Produce  json
// @Param    X-User-ID header string true "Caller id"
// @Success  200 {object} handlers.ListGroupsResponse
// @Success  304 "Not modified"
// @Router   /groups [get]
func (h *Handlers) ListGroups(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	if svc, okSvc := h.groups.(*services.GroupService); okSvc && svc.DB != nil {
		if count, maxTS, err := repo.GroupsStats(ctx, svc.DB, uid); err == nil {
			if notModified(c, "groups", uid, count, maxTS) {
				return
			}
		}
	}

	groups, err := h.groups.List(ctx, uid)
	if err != nil {
		failErr(c, err)
		return
	}
	if groups == nil {
		groups = []domain.Group{}
	}
	ok(c, http.StatusOK, ListGroupsResponse{Groups: groups})
}

// AddMember godoc
// @ID       addGroupMember
// @Summary  Add a member to a group
// @Tags     Groups
// @Accept   json
// @Param    X-User-ID header string true "Caller id"
// @Param    id        path   string true "Group id"
// @Param    body      body   handlers.AddMemberRequest true "Member"
// @Success  204
// @Failure  403 {object} handlers.ErrorResponse
// @Failure  404 {object} handlers.ErrorResponse
// @Router   /groups/{id}/members [post]
func (h *Handlers) AddMember(c *gin.Context) {
	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id is required")
		return
	}
	if err := h.groups.AddMember(c.Request.Context(), userID(c), c.Param("id"), req.UserID); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
