package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-jobtrack-backend/internal/domain"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewClientFrom(rdb, time.Second, zerolog.Nop())
}

// newRawClient returns a redis client that fails fast when addr is down.
func newRawClient(t *testing.T, addr string) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// fakeChatStore is an in-memory chat store that counts calls.
type fakeChatStore struct {
	mu         sync.Mutex
	msgs       []domain.Message
	findCalls  int
	countCalls int
	err        error
}

func (f *fakeChatStore) FindRecentMessages(_ context.Context, groupID string, limit int, before *time.Time) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Message
	for _, m := range f.msgs {
		if m.GroupID != groupID || m.IsDeleted {
			continue
		}
		if before != nil && !m.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeChatStore) CountMessages(_ context.Context, groupID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls++
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for _, m := range f.msgs {
		if m.GroupID == groupID && !m.IsDeleted {
			n++
		}
	}
	return n, nil
}

func (f *fakeChatStore) finds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findCalls
}

// fakeResolver resolves from a fixed table and records each batch.
type fakeResolver struct {
	mu      sync.Mutex
	users   map[string]domain.Identity
	batches [][]string
	err     error
}

func (r *fakeResolver) ResolveIdentities(_ context.Context, ids []string) (map[string]domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]string(nil), ids...))
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[string]domain.Identity, len(ids))
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func newResolver() *fakeResolver {
	return &fakeResolver{users: map[string]domain.Identity{
		"u1": {ID: "u1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		"u2": {ID: "u2", FirstName: "Alan", LastName: "Turing", Email: "alan@example.com"},
	}}
}

// seedMessages returns n messages m1..mn of groupID in ascending creation
// order, alternating senders.
func seedMessages(groupID string, n int) []domain.Message {
	out := make([]domain.Message, n)
	for i := 1; i <= n; i++ {
		sender := "u1"
		if i%2 == 0 {
			sender = "u2"
		}
		out[i-1] = domain.Message{
			ID:        fmt.Sprintf("m%d", i),
			GroupID:   groupID,
			SenderID:  sender,
			Content:   fmt.Sprintf("message %d", i),
			Kind:      domain.KindText,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

func snapshots(msgs []domain.Message) []domain.CachedMessage {
	out := make([]domain.CachedMessage, len(msgs))
	for i, m := range msgs {
		out[i] = domain.Snapshot(m, domain.Identity{})
	}
	return out
}

func ids(msgs []domain.CachedMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

// manualTimer replaces a breaker's reset scheduling so tests decide when the
// reset timeout has elapsed.
type manualTimer struct {
	mu       sync.Mutex
	fire     func()
	after    time.Duration
	stopped  bool
	schedule int
}

func (m *manualTimer) install(b *Breaker) {
	b.afterFunc = func(d time.Duration, f func()) func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.fire, m.after, m.stopped = f, d, false
		m.schedule++
		return func() bool {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.stopped = true
			return true
		}
	}
}

// elapse runs the pending reset as if its timeout had passed.
func (m *manualTimer) elapse() {
	m.mu.Lock()
	f := m.fire
	m.fire = nil
	m.mu.Unlock()
	if f != nil {
		f()
	}
}

var errBoom = errors.New("boom")

func waitWarm(t *testing.T, w interface{ WaitForWarm(context.Context) error }) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.WaitForWarm(ctx); err != nil {
		t.Fatalf("warm did not finish: %v", err)
	}
}
