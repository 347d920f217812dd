package repo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-jobtrack-backend/internal/domain"
)

func TestOpenSQLite_ErrorOnBadPath(t *testing.T) {
	base := t.TempDir()
	bad := filepath.Join(base, "does-not-exist", "app.db")

	db, err := OpenSQLite(bad)
	if err == nil || db != nil {
		t.Fatalf("expected error opening %q, got db=%v err=%v", bad, db, err)
	}

	lower := strings.ToLower(err.Error())
	if !(os.IsNotExist(err) ||
		strings.Contains(lower, "unable to open database file") ||
		strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "out of memory")) {
		t.Fatalf("unexpected error opening %q: %v", bad, err)
	}
}

func TestOpenSQLite_SetsPragmas_Pool_AndMigratesBothStores(t *testing.T) {
	tmp := t.TempDir()

	primary, err := OpenSQLite(filepath.Join(tmp, "primary.db"))
	if err != nil {
		t.Fatalf("OpenSQLite primary: %v", err)
	}
	t.Cleanup(func() { _ = Close(primary) })
	chat, err := OpenSQLite(filepath.Join(tmp, "chat.db"))
	if err != nil {
		t.Fatalf("OpenSQLite chat: %v", err)
	}
	t.Cleanup(func() { _ = Close(chat) })

	var (
		journalMode string
		syncVal     int
		busyMS      int
	)
	if err := primary.Raw("PRAGMA journal_mode;").Row().Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journalMode)
	}
	if err := primary.Raw("PRAGMA synchronous;").Row().Scan(&syncVal); err != nil {
		t.Fatalf("PRAGMA synchronous: %v", err)
	}
	// NORMAL == 1
	if syncVal != 1 {
		t.Fatalf("expected synchronous=1 (NORMAL), got %d", syncVal)
	}
	if err := primary.Raw("PRAGMA busy_timeout;").Row().Scan(&busyMS); err != nil {
		t.Fatalf("PRAGMA busy_timeout: %v", err)
	}
	if busyMS != 5000 {
		t.Fatalf("expected busy_timeout=5000, got %d", busyMS)
	}

	sqlDB, err := primary.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	if stats := sqlDB.Stats(); stats.MaxOpenConnections != 10 {
		t.Fatalf("expected MaxOpenConnections=10, got %d", stats.MaxOpenConnections)
	}

	if err := AutoMigratePrimary(primary); err != nil {
		t.Fatalf("AutoMigratePrimary: %v", err)
	}
	if err := AutoMigrateChat(chat); err != nil {
		t.Fatalf("AutoMigrateChat: %v", err)
	}
	for _, tbl := range []any{&domain.User{}, &domain.Job{}, &domain.Idempotency{}} {
		if !primary.Migrator().HasTable(tbl) {
			t.Fatalf("expected table for %T in primary store", tbl)
		}
		if chat.Migrator().HasTable(tbl) {
			t.Fatalf("%T must not live in the chat store", tbl)
		}
	}
	for _, tbl := range []any{&domain.Group{}, &domain.GroupMember{}, &domain.Message{}} {
		if !chat.Migrator().HasTable(tbl) {
			t.Fatalf("expected table for %T in chat store", tbl)
		}
	}

	now := time.Now().UTC()
	if err := primary.Create(&domain.User{ID: "u1", FirstName: "A", LastName: "B", Email: "a@b.c", CreatedAt: now}).Error; err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if err := chat.Create(&domain.Group{ID: "g1", Name: "n", OwnerID: "u1", CreatedAt: now}).Error; err != nil {
		t.Fatalf("insert group: %v", err)
	}
}

func TestClose_NilIsNoop(t *testing.T) {
	if err := Close(nil); err != nil {
		t.Fatalf("Close(nil): %v", err)
	}
}

// Compile-time guard to ensure signature stability.
var _ func(string) (*gorm.DB, error) = OpenSQLite
