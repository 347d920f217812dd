package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-jobtrack-backend/internal/cache"
	"github.com/tbourn/go-jobtrack-backend/internal/domain"
	"github.com/tbourn/go-jobtrack-backend/internal/repo"
)

// groupRepo adapts the repository free functions to GroupRepo.
type groupRepo struct{}

func (groupRepo) CreateGroup(ctx context.Context, db *gorm.DB, ownerID, name string) (*domain.Group, error) {
	return repo.CreateGroup(ctx, db, ownerID, name)
}
func (groupRepo) GetGroup(ctx context.Context, db *gorm.DB, id string) (*domain.Group, error) {
	return repo.GetGroup(ctx, db, id)
}
func (groupRepo) ListGroupsForUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Group, error) {
	return repo.ListGroupsForUser(ctx, db, userID)
}
func (groupRepo) AddMember(ctx context.Context, db *gorm.DB, groupID, userID, role string) error {
	return repo.AddMember(ctx, db, groupID, userID, role)
}
func (groupRepo) IsMember(ctx context.Context, db *gorm.DB, groupID, userID string) (bool, error) {
	return repo.IsMember(ctx, db, groupID, userID)
}

// recorder is a Publisher that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type env struct {
	mr        *miniredis.Miniredis
	primary   *gorm.DB
	chat      *gorm.DB
	keys      cache.KeyBuilder
	jobCache  *cache.JobCache
	chatCache *cache.ChatCache
	jobs      *JobService
	groups    *GroupService
	msgs      *MessageService
	pub       *recorder
}

// newEnv wires real services over two temp SQLite stores and miniredis.
// Users u1 (Ada), u2 (Alan) and u3 (Grace) exist in the primary store.
func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()

	primary, err := repo.OpenSQLite(filepath.Join(dir, "primary.db"))
	if err != nil {
		t.Fatalf("open primary: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close(primary) })
	chat, err := repo.OpenSQLite(filepath.Join(dir, "chat.db"))
	if err != nil {
		t.Fatalf("open chat: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close(chat) })
	if err := repo.AutoMigratePrimary(primary); err != nil {
		t.Fatalf("migrate primary: %v", err)
	}
	if err := repo.AutoMigrateChat(chat); err != nil {
		t.Fatalf("migrate chat: %v", err)
	}
	for _, u := range []domain.User{
		{ID: "u1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		{ID: "u2", FirstName: "Alan", LastName: "Turing", Email: "alan@example.com"},
		{ID: "u3", FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com"},
	} {
		if err := primary.Create(&u).Error; err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := cache.NewClientFrom(rdb, time.Second, zerolog.Nop())
	keys := cache.NewKeyBuilder("t:")
	users := repo.Users{DB: primary}

	jc := cache.NewJobCache(client, keys, repo.Jobs{DB: primary}, users, cache.JobCacheOptions{TTL: 5 * time.Minute}, zerolog.Nop())
	cc := cache.NewChatCache(client, keys, repo.Messages{DB: chat}, users, cache.ChatCacheOptions{WindowSize: 5, TTL: time.Hour}, zerolog.Nop())
	t.Cleanup(func() {
		_ = jc.Close(context.Background())
		_ = cc.Close(context.Background())
	})

	groups := NewGroupService(chat, groupRepo{})
	pub := &recorder{}
	return &env{
		mr:        mr,
		primary:   primary,
		chat:      chat,
		keys:      keys,
		jobCache:  jc,
		chatCache: cc,
		jobs:      &JobService{DB: primary, Cache: jc},
		groups:    groups,
		msgs: &MessageService{
			DB:              chat,
			Groups:          groups,
			Cache:           cc,
			Publisher:       pub,
			MaxContentRunes: 50,
		},
		pub: pub,
	}
}

func waitWarm(t *testing.T, w interface{ WaitForWarm(context.Context) error }) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.WaitForWarm(ctx); err != nil {
		t.Fatalf("warm did not finish: %v", err)
	}
}

func strp(s string) *string { return &s }
