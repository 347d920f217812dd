package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-jobtrack-backend/internal/cache"
	"github.com/tbourn/go-jobtrack-backend/internal/domain"
	"github.com/tbourn/go-jobtrack-backend/internal/http/middleware"
	"github.com/tbourn/go-jobtrack-backend/internal/services"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeJobs keeps jobs in memory, keyed by id.
type fakeJobs struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	seq     int
	creates int
	lastIn  services.ListJobsInput
	err     error
}

func newFakeJobs() *fakeJobs { return &fakeJobs{jobs: map[string]*domain.Job{}} }

func (f *fakeJobs) List(_ context.Context, userID string, in services.ListJobsInput) (domain.JobPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastIn = in
	if f.err != nil {
		return domain.JobPage{}, f.err
	}
	var rows []domain.JobRow
	for _, j := range f.jobs {
		if j.UserID == userID {
			rows = append(rows, domain.JobRow{Job: *j})
		}
	}
	return domain.JobPage{Rows: rows, Pagination: domain.NewPagination(0, 20, int64(len(rows)))}, nil
}

func (f *fakeJobs) Get(_ context.Context, userID, jobID string) (*domain.JobRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok || j.UserID != userID {
		return nil, services.ErrJobNotFound
	}
	return &domain.JobRow{Job: *j}, nil
}

func (f *fakeJobs) Create(_ context.Context, userID string, in services.JobInput) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in.Company == "" || in.Position == "" {
		return nil, services.ErrMissingField
	}
	f.seq++
	f.creates++
	j := &domain.Job{ID: fmt.Sprintf("job-%d", f.seq), UserID: userID, Company: in.Company, Position: in.Position, Status: domain.StatusSaved, CreatedAt: t0}
	f.jobs[j.ID] = j
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) Sync(ctx context.Context, userID string, in services.JobInput) (*domain.Job, error) {
	if in.SourceURL == nil {
		return nil, services.ErrMissingSourceURL
	}
	return f.Create(ctx, userID, in)
}

func (f *fakeJobs) Update(_ context.Context, userID, jobID string, p services.JobPatch) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok || j.UserID != userID {
		return nil, services.ErrJobNotFound
	}
	if p.Status != nil {
		if !domain.ValidJobStatus(*p.Status) {
			return nil, services.ErrInvalidStatus
		}
		j.Status = *p.Status
	}
	if p.Notes != nil {
		j.Notes = *p.Notes
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) Delete(_ context.Context, userID, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok || j.UserID != userID {
		return services.ErrJobNotFound
	}
	delete(f.jobs, jobID)
	return nil
}

func (f *fakeJobs) BulkStatus(_ context.Context, userID string, ids []string, status string) (int64, error) {
	if !domain.ValidJobStatus(status) {
		return 0, services.ErrInvalidStatus
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range ids {
		if j, ok := f.jobs[id]; ok && j.UserID == userID {
			j.Status = status
			n++
		}
	}
	return n, nil
}

func (f *fakeJobs) CacheStats(_ context.Context, userID string) cache.JobCacheStats {
	return cache.JobCacheStats{Available: true, UserID: userID, TTLSeconds: 300, CachedQueries: 2}
}

// fakeGroups tracks groups and members.
type fakeGroups struct {
	mu      sync.Mutex
	groups  map[string]*domain.Group
	members map[string]map[string]bool
	seq     int
}

func newFakeGroups() *fakeGroups {
	return &fakeGroups{groups: map[string]*domain.Group{}, members: map[string]map[string]bool{}}
}

func (f *fakeGroups) Create(_ context.Context, userID, name string) (*domain.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "" {
		return nil, services.ErrEmptyContent
	}
	f.seq++
	g := &domain.Group{ID: fmt.Sprintf("g-%d", f.seq), Name: name, OwnerID: userID, CreatedAt: t0, UpdatedAt: t0}
	f.groups[g.ID] = g
	f.members[g.ID] = map[string]bool{userID: true}
	cp := *g
	return &cp, nil
}

func (f *fakeGroups) List(_ context.Context, userID string) ([]domain.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Group
	for id, m := range f.members {
		if m[userID] {
			out = append(out, *f.groups[id])
		}
	}
	return out, nil
}

func (f *fakeGroups) AddMember(_ context.Context, actorID, groupID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[groupID]
	if !ok {
		return services.ErrGroupNotFound
	}
	if !m[actorID] {
		return services.ErrNotGroupMember
	}
	m[userID] = true
	return nil
}

func (f *fakeGroups) isMember(groupID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[groupID]
	if !ok {
		return services.ErrGroupNotFound
	}
	if !m[userID] {
		return services.ErrNotGroupMember
	}
	return nil
}

// fakeMsgs stores messages per group, newest last.
type fakeMsgs struct {
	mu         sync.Mutex
	groups     *fakeGroups
	msgs       map[string]*domain.CachedMessage
	order      []string
	seq        int
	sends      int
	lastLimit  int
	lastBefore *time.Time
}

func newFakeMsgs(g *fakeGroups) *fakeMsgs {
	return &fakeMsgs{groups: g, msgs: map[string]*domain.CachedMessage{}}
}

func (f *fakeMsgs) History(_ context.Context, userID, groupID string, limit int, before *time.Time) ([]domain.CachedMessage, error) {
	if err := f.groups.isMember(groupID, userID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit, f.lastBefore = limit, before
	var out []domain.CachedMessage
	for i := len(f.order) - 1; i >= 0; i-- {
		m := f.msgs[f.order[i]]
		if m.GroupID != groupID || m.IsDeleted {
			continue
		}
		if before != nil && !m.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, *m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeMsgs) Send(_ context.Context, userID, groupID string, in services.SendInput) (*domain.CachedMessage, error) {
	if in.Content == "" && in.Attachment == nil {
		return nil, services.ErrEmptyContent
	}
	if err := f.groups.isMember(groupID, userID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.sends++
	m := &domain.CachedMessage{
		ID:        fmt.Sprintf("m-%d", f.seq),
		GroupID:   groupID,
		Sender:    domain.Identity{ID: userID},
		Content:   in.Content,
		Kind:      domain.KindText,
		Reactions: []domain.Reaction{},
		CreatedAt: t0.Add(time.Duration(f.seq) * time.Second),
	}
	f.msgs[m.ID] = m
	f.order = append(f.order, m.ID)
	cp := *m
	return &cp, nil
}

func (f *fakeMsgs) visible(userID, messageID string) (*domain.CachedMessage, error) {
	f.mu.Lock()
	m, ok := f.msgs[messageID]
	f.mu.Unlock()
	if !ok || m.IsDeleted {
		return nil, services.ErrMessageNotFound
	}
	if f.groups.isMember(m.GroupID, userID) != nil {
		return nil, services.ErrMessageNotFound
	}
	return m, nil
}

func (f *fakeMsgs) Get(_ context.Context, userID, messageID string) (*domain.CachedMessage, error) {
	m, err := f.visible(userID, messageID)
	if err != nil {
		return nil, err
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMsgs) Edit(_ context.Context, userID, messageID, content string) (*domain.CachedMessage, error) {
	m, err := f.visible(userID, messageID)
	if err != nil {
		return nil, err
	}
	if m.Sender.ID != userID {
		return nil, services.ErrForbiddenMessage
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m.Content = content
	m.IsEdited = true
	cp := *m
	return &cp, nil
}

func (f *fakeMsgs) Delete(_ context.Context, userID, messageID string) error {
	m, err := f.visible(userID, messageID)
	if err != nil {
		return err
	}
	if m.Sender.ID != userID {
		return services.ErrForbiddenMessage
	}
	f.mu.Lock()
	m.IsDeleted = true
	f.mu.Unlock()
	return nil
}

func (f *fakeMsgs) React(_ context.Context, userID, messageID, emoji string) ([]domain.Reaction, error) {
	m, err := f.visible(userID, messageID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m.Reactions = append(m.Reactions, domain.Reaction{Emoji: emoji, UserIDs: []string{userID}})
	return m.Reactions, nil
}

func (f *fakeMsgs) Count(_ context.Context, userID, groupID string) (int64, error) {
	if err := f.groups.isMember(groupID, userID); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.msgs {
		if m.GroupID == groupID && !m.IsDeleted {
			n++
		}
	}
	return n, nil
}

func (f *fakeMsgs) CacheStats(_ context.Context, userID, groupID string) (cache.ChatCacheStats, error) {
	if err := f.groups.isMember(groupID, userID); err != nil {
		return cache.ChatCacheStats{}, err
	}
	return cache.ChatCacheStats{Available: true, GroupID: groupID, WindowCapacity: 50}, nil
}

// fakeIdem is an in-memory IdempotencyStore.
type fakeIdem struct {
	mu   sync.Mutex
	recs map[string][2]any
}

func newFakeIdem() *fakeIdem { return &fakeIdem{recs: map[string][2]any{}} }

func (f *fakeIdem) Lookup(_ context.Context, userID, scope, key string) (string, int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[userID+"|"+scope+"|"+key]
	if !ok {
		return "", 0, false
	}
	return r[0].(string), r[1].(int), true
}

func (f *fakeIdem) Remember(_ context.Context, userID, scope, key, resourceID string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[userID+"|"+scope+"|"+key] = [2]any{resourceID, status}
}

type fakeProbe struct {
	ready    bool
	breakers []cache.BreakerStats
}

func (p fakeProbe) Ready() bool                    { return p.ready }
func (p fakeProbe) Breakers() []cache.BreakerStats { return p.breakers }

// testEnv bundles the fakes and a router that mirrors the production routes.
type testEnv struct {
	r      *gin.Engine
	jobs   *fakeJobs
	groups *fakeGroups
	msgs   *fakeMsgs
	idem   *fakeIdem
}

func newTestEnv(t *testing.T, probe CacheProbe) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	e := &testEnv{jobs: newFakeJobs(), groups: newFakeGroups(), idem: newFakeIdem()}
	e.msgs = newFakeMsgs(e.groups)
	h := New(e.jobs, e.groups, e.msgs, e.idem, probe)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Identity())
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, func(ctx context.Context, uid, scope, key string, _ time.Time) (bool, error) {
		_, _, found := e.idem.Lookup(ctx, uid, scope, key)
		return found, nil
	}))
	r.GET("/health", h.Health)

	api := r.Group("/api", middleware.RequireUser())
	api.GET("/jobs", h.ListJobs)
	api.POST("/jobs", h.CreateJob)
	api.POST("/jobs/sync", h.SyncJob)
	api.POST("/jobs/bulk-status", h.BulkStatus)
	api.GET("/jobs/cache/stats", h.JobCacheStats)
	api.GET("/jobs/:id", h.GetJob)
	api.PATCH("/jobs/:id", h.UpdateJob)
	api.DELETE("/jobs/:id", h.DeleteJob)

	api.POST("/groups", h.CreateGroup)
	api.GET("/groups", h.ListGroups)
	api.POST("/groups/:id/members", h.AddMember)
	api.GET("/groups/:id/messages", h.ListMessages)
	api.POST("/groups/:id/messages", h.SendMessage)
	api.GET("/groups/:id/messages/count", h.MessageCount)
	api.GET("/groups/:id/cache/stats", h.GroupCacheStats)

	api.GET("/messages/:id", h.GetMessage)
	api.PATCH("/messages/:id", h.EditMessage)
	api.DELETE("/messages/:id", h.DeleteMessage)
	api.POST("/messages/:id/reactions", h.ReactToMessage)

	e.r = r
	return e
}

// do performs a request as uid ("" for anonymous) and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path, uid string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		req.Header.Set(middleware.HeaderUserID, uid)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status=%d want %d body=%s", w.Code, want, w.Body.String())
	}
}

