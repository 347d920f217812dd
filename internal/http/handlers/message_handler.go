// Message HTTP handlers.
//
// This file exposes REST endpoints for group chat:
//   - GET    /groups/:id/messages        (history; first page from the hot window)
//   - POST   /groups/:id/messages        (send; Idempotency-Key aware)
//   - GET    /groups/:id/messages/count
//   - GET    /groups/:id/cache/stats
//   - GET    /messages/:id
//   - PATCH  /messages/:id               (edit own message)
//   - DELETE /messages/:id               (delete own message)
//   - POST   /messages/:id/reactions     (toggle a reaction)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous send with
// the same key succeeded for (user, group), the handler returns the recorded
// message and sets `Idempotency-Replayed: true`.
package handlers

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-jobtrack-backend/internal/domain"
	"github.com/tbourn/go-jobtrack-backend/internal/services"
	"github.com/tbourn/go-jobtrack-backend/internal/utils"
)

// SendMessageRequest is the JSON payload for a new message. Content may be
// empty only when an attachment is present.
type SendMessageRequest struct {
	Content    string             `json:"content" example:"Just applied to the Acme role"`
	Kind       string             `json:"kind"    example:"text"`
	Attachment *domain.Attachment `json:"attachment"`
}

// EditMessageRequest replaces a message's content.
type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// ReactRequest toggles the caller's reaction.
type ReactRequest struct {
	Emoji string `json:"emoji" binding:"required" example:"🎉"`
}

// MessageResponse wraps a single message.
type MessageResponse struct {
	Message *domain.CachedMessage `json:"message"`
}

// HistoryResponse is one page of history, newest first. NextBefore is the
// RFC3339Nano cursor for the following page, absent when the page was short.
type HistoryResponse struct {
	Messages   []domain.CachedMessage `json:"messages"`
	NextBefore string                  `json:"next_before,omitempty"`
}

// ReactionsResponse lists a message's reactions after a toggle.
type ReactionsResponse struct {
	Reactions []domain.Reaction `json:"reactions"`
}

// CountResponse carries a group's message count.
type CountResponse struct {
	GroupID string `json:"group_id"`
	Count   int64  `json:"count"`
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent converts CRLF/CR to LF, collapses runs of blank lines and
// trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     Group message history
// @Description Returns up to limit messages, newest first. Without `before` the page is served from the hot window.
// @Tags        Messages
// @Produce     json
// @Param       X-User-ID header string true  "Caller id"
// @Param       id        path   string true  "Group id"
// @Param       limit     query  int    false "Page size" minimum(1) maximum(100)
// @Param       before    query  string false "Cursor: Unix ms or RFC3339; only older messages are returned"
// @Success     200 {object} handlers.HistoryResponse
// @Failure     400 {object} handlers.ErrorResponse
// @Failure     403 {object} handlers.ErrorResponse
// @Failure     404 {object} handlers.ErrorResponse
// @Router      /groups/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), 0)
	if limit < 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "limit must be positive")
		return
	}
	var before *time.Time
	if raw := strings.TrimSpace(c.Query("before")); raw != "" {
		t, okT := utils.ParseTime(raw)
		if !okT {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "before must be Unix milliseconds or RFC3339")
			return
		}
		before = &t
	}

	msgs, err := h.msgs.History(c.Request.Context(), userID(c), c.Param("id"), limit, before)
	if err != nil {
		failErr(c, err)
		return
	}
	if msgs == nil {
		msgs = []domain.CachedMessage{}
	}
	resp := HistoryResponse{Messages: msgs}
	if n := len(msgs); n > 0 && (limit == 0 || n >= limit) {
		resp.NextBefore = msgs[n-1].CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	ok(c, http.StatusOK, resp)
}

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a message to a group
// @Description Supports safe retries via the Idempotency-Key header (same key, same message).
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       X-User-ID        header string true  "Caller id"
// @Param       Idempotency-Key  header string false "Idempotency key for safe retries"
// @Param       id               path   string true  "Group id"
// @Param       body             body   handlers.SendMessageRequest true "Message"
// @Success     201 {object} handlers.MessageResponse
// @Failure     400 {object} handlers.ErrorResponse
// @Failure     403 {object} handlers.ErrorResponse
// @Failure     404 {object} handlers.ErrorResponse
// @Router      /groups/{id}/messages [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid message payload")
		return
	}

	if h.replayed(c, func(id string) (any, error) {
		m, err := h.msgs.Get(ctx, uid, id)
		if err != nil {
			return nil, err
		}
		return MessageResponse{Message: m}, nil
	}) {
		return
	}

	m, err := h.msgs.Send(ctx, uid, c.Param("id"), services.SendInput{
		Content:    sanitizeContent(req.Content),
		Kind:       req.Kind,
		Attachment: req.Attachment,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	h.remember(c, m.ID, http.StatusCreated)
	ok(c, http.StatusCreated, MessageResponse{Message: m})
}

// MessageCount godoc
// @ID       messageCount
// @Summary  Number of live messages in a group
// @Tags     Messages
// @Produce  json
// @Param    X-User-ID header string true "Caller id"
// @Param    id        path   string true "Group id"
// @Success  200 {object} handlers.CountResponse
// @Failure  403 {object} handlers.ErrorResponse
// @Router   /groups/{id}/messages/count [get]
func (h *Handlers) MessageCount(c *gin.Context) {
	gid := c.Param("id")
	n, err := h.msgs.Count(c.Request.Context(), userID(c), gid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, CountResponse{GroupID: gid, Count: n})
}

// GroupCacheStats godoc
// @ID       groupCacheStats
// @Summary  Chat cache statistics for a group
// @Tags     Cache
// @Produce  json
// @Param    X-User-ID header string true "Caller id"
// @Param    id        path   string true "Group id"
// @Success  200 {object} cache.ChatCacheStats
// @Failure  403 {object} handlers.ErrorResponse
// @Router   /groups/{id}/cache/stats [get]
func (h *Handlers) GroupCacheStats(c *gin.Context) {
	st, err := h.msgs.CacheStats(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// GetMessage godoc
// @ID       getMessage
// @Summary  Get a message
// @Tags     Messages
// @Produce  json
// @Param    X-User-ID header string true "Caller id"
// @Param    id        path   string true "Message id"
// @Success  200 {object} handlers.MessageResponse
// @Failure  404 {object} handlers.ErrorResponse
// @Router   /messages/{id} [get]
func (h *Handlers) GetMessage(c *gin.Context) {
	m, err := h.msgs.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, MessageResponse{Message: m})
}

// EditMessage godoc
// @ID       editMessage
// @Summary  Edit own message
// @Tags     Messages
// @Accept   json
// @Produce  json
// @Param    X-User-ID header string true "Caller id"
// @Param    id        path   string true "Message id"
// @Param    body      body   handlers.EditMessageRequest true "New content"
// @Success  200 {object} handlers.MessageResponse
// @Failure  400 {object} handlers.ErrorResponse
// @Failure  403 {object} handlers.ErrorResponse
// @Failure  404 {object} handlers.ErrorResponse
// @Router   /messages/{id} [patch]
func (h *Handlers) EditMessage(c *gin.Context) {
	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content is required")
		return
	}
	m, err := h.msgs.Edit(c.Request.Context(), userID(c), c.Param("id"), sanitizeContent(req.Content))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, MessageResponse{Message: m})
}

// DeleteMessage godoc
// @ID       deleteMessage
// @Summary  Delete own message
// @Tags     Messages
// @Param    X-User-ID header string true "Caller id"
// @Param    id        path   string true "Message id"
// @Success  204
// @Failure  403 {object} handlers.ErrorResponse
// @Failure  404 {object} handlers.ErrorResponse
// @Router   /messages/{id} [delete]
func (h *Handlers) DeleteMessage(c *gin.Context) {
	if err := h.msgs.Delete(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// ReactToMessage godoc
// @ID       reactToMessage
// @Summary  Toggle a reaction
// @Tags     Messages
// @Accept   json
// @Produce  json
// @Param    X-User-ID header string true "Caller id"
// @Param    id        path   string true "Message id"
// @Param    body      body   handlers.ReactRequest true "Emoji"
// @Success  200 {object} handlers.ReactionsResponse
// @Failure  400 {object} handlers.ErrorResponse
// @Failure  404 {object} handlers.ErrorResponse
// @Router   /messages/{id}/reactions [post]
func (h *Handlers) ReactToMessage(c *gin.Context) {
	var req ReactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "emoji is required")
		return
	}
	reactions, err := h.msgs.React(c.Request.Context(), userID(c), c.Param("id"), req.Emoji)
	if err != nil {
		failErr(c, err)
		return
	}
	if reactions == nil {
		reactions = []domain.Reaction{}
	}
	ok(c, http.StatusOK, ReactionsResponse{Reactions: reactions})
}
