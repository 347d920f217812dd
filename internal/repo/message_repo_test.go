package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-jobtrack-backend/internal/domain"
)

func newChatDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := newTestDB(t, &domain.Group{}, &domain.GroupMember{}, &domain.Message{})
	mustExec(t, db.Create(&domain.Group{ID: "g1", Name: "one", OwnerID: "u1", CreatedAt: t0}).Error)
	mustExec(t, db.Create(&domain.Group{ID: "g2", Name: "two", OwnerID: "u1", CreatedAt: t0}).Error)
	return db
}

// seedGroup writes n messages m1..mn to g1, one second apart.
func seedGroup(t *testing.T, db *gorm.DB, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		mustExec(t, db.Create(&domain.Message{
			ID:        fmt.Sprintf("m%02d", i),
			GroupID:   "g1",
			SenderID:  "u1",
			Content:   fmt.Sprintf("message %d", i),
			Kind:      domain.KindText,
			Reactions: datatypes.NewJSONSlice([]domain.Reaction{}),
			CreatedAt: t0.Add(time.Duration(i) * time.Second),
		}).Error)
	}
}

func TestCreateMessage_DefaultsAndAttachment(t *testing.T) {
	db := newChatDB(t)
	ctx := context.Background()

	m, err := CreateMessage(ctx, db, NewMessage{GroupID: "g1", SenderID: "u1", Content: "hi"})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if m.ID == "" || m.Kind != domain.KindText || m.CreatedAt.IsZero() {
		t.Fatalf("unexpected message: %+v", m)
	}

	att := &domain.Attachment{URL: "https://blob/x.pdf", Name: "cv.pdf", MimeType: "application/pdf", Size: 42}
	f, err := CreateMessage(ctx, db, NewMessage{GroupID: "g1", SenderID: "u2", Content: "cv", Kind: domain.KindFile, Attachment: att})
	if err != nil {
		t.Fatalf("CreateMessage file: %v", err)
	}
	got, err := GetMessage(ctx, db, f.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if a := got.Attachment.Data(); a == nil || *a != *att {
		t.Fatalf("attachment round-trip: %+v", a)
	}

	if _, err := CreateMessage(ctx, db, NewMessage{GroupID: "nope", SenderID: "u1", Content: "x"}); err == nil {
		t.Fatalf("message for a missing group should violate the foreign key")
	}
}

func TestFindRecentMessages_NewestFirstWithCursor(t *testing.T) {
	db := newChatDB(t)
	ctx := context.Background()
	seedGroup(t, db, 10)
	mustExec(t, db.Create(&domain.Message{ID: "other", GroupID: "g2", SenderID: "u1", Content: "x", CreatedAt: t0.Add(time.Hour)}).Error)
	mustExec(t, SoftDeleteMessage(ctx, db, "m09", t0.Add(time.Minute)))

	store := Messages{DB: db}
	got, err := store.FindRecentMessages(ctx, "g1", 3, nil)
	if err != nil {
		t.Fatalf("FindRecentMessages: %v", err)
	}
	if len(got) != 3 || got[0].ID != "m10" || got[1].ID != "m08" || got[2].ID != "m07" {
		t.Fatalf("unexpected page: %v", idsOf(got))
	}

	before := got[2].CreatedAt
	older, err := store.FindRecentMessages(ctx, "g1", 3, &before)
	if err != nil {
		t.Fatalf("FindRecentMessages before: %v", err)
	}
	if len(older) != 3 || older[0].ID != "m06" || older[2].ID != "m04" {
		t.Fatalf("unexpected older page: %v", idsOf(older))
	}

	all, err := FindRecentMessages(ctx, db, "g1", 0, nil)
	if err != nil || len(all) != 9 {
		t.Fatalf("limit 0 should return every live message: %d %v", len(all), err)
	}
}

func TestFindRecentMessages_TiesBreakByIDDesc(t *testing.T) {
	db := newChatDB(t)
	for _, id := range []string{"a", "c", "b"} {
		mustExec(t, db.Create(&domain.Message{ID: id, GroupID: "g1", SenderID: "u1", Content: id, CreatedAt: t0}).Error)
	}
	got, err := FindRecentMessages(context.Background(), db, "g1", 10, nil)
	if err != nil {
		t.Fatalf("FindRecentMessages: %v", err)
	}
	if ids := idsOf(got); ids[0] != "c" || ids[1] != "b" || ids[2] != "a" {
		t.Fatalf("ties should order by id desc: %v", ids)
	}
}

func TestCountMessages_SkipsDeletedAndErrorsWithoutTable(t *testing.T) {
	db := newChatDB(t)
	ctx := context.Background()
	seedGroup(t, db, 4)
	mustExec(t, SoftDeleteMessage(ctx, db, "m01", t0))

	n, err := Messages{DB: db}.CountMessages(ctx, "g1")
	if err != nil || n != 3 {
		t.Fatalf("CountMessages = %d, %v; want 3", n, err)
	}

	bare := newTestDB(t)
	if _, err := CountMessages(ctx, bare, "g1"); err == nil {
		t.Fatalf("expected error when messages table is missing")
	}
}

func TestEditAndSoftDeleteMessage(t *testing.T) {
	db := newChatDB(t)
	ctx := context.Background()
	seedGroup(t, db, 1)
	at := t0.Add(time.Hour)

	if err := EditMessage(ctx, db, "m01", "edited", at); err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	m, err := GetMessage(ctx, db, "m01")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if m.Content != "edited" || !m.IsEdited || m.EditedAt == nil || !m.EditedAt.Equal(at) {
		t.Fatalf("edit not applied: %+v", m)
	}

	if err := SoftDeleteMessage(ctx, db, "m01", at); err != nil {
		t.Fatalf("SoftDeleteMessage: %v", err)
	}
	if _, err := GetMessage(ctx, db, "m01"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted message should be hidden, got %v", err)
	}
	var raw domain.Message
	mustExec(t, db.First(&raw, "id = ?", "m01").Error)
	if !raw.IsDeleted || raw.DeletedAt == nil {
		t.Fatalf("row should be kept and flagged: %+v", raw)
	}

	if err := EditMessage(ctx, db, "m01", "again", at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("editing a deleted message should be not found, got %v", err)
	}
	if err := SoftDeleteMessage(ctx, db, "m01", at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleting twice should be not found, got %v", err)
	}
}

func TestToggleReaction(t *testing.T) {
	db := newChatDB(t)
	ctx := context.Background()
	seedGroup(t, db, 1)

	r, err := ToggleReaction(ctx, db, "m01", "u1", "👍")
	if err != nil {
		t.Fatalf("ToggleReaction: %v", err)
	}
	if len(r) != 1 || len(r[0].UserIDs) != 1 {
		t.Fatalf("first reaction: %+v", r)
	}
	r, _ = ToggleReaction(ctx, db, "m01", "u2", "👍")
	r, _ = ToggleReaction(ctx, db, "m01", "u2", "🎉")
	if len(r) != 2 || len(r[0].UserIDs) != 2 {
		t.Fatalf("after three toggles: %+v", r)
	}
	r, _ = ToggleReaction(ctx, db, "m01", "u1", "👍")
	r, err = ToggleReaction(ctx, db, "m01", "u2", "👍")
	if err != nil {
		t.Fatalf("ToggleReaction: %v", err)
	}
	if len(r) != 1 || r[0].Emoji != "🎉" {
		t.Fatalf("emptied reaction should be dropped: %+v", r)
	}

	m, _ := GetMessage(ctx, db, "m01")
	if len(m.Reactions) != 1 || m.Reactions[0].Emoji != "🎉" {
		t.Fatalf("reactions not persisted: %+v", m.Reactions)
	}

	if _, err := ToggleReaction(ctx, db, "missing", "u1", "👍"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeletingGroupCascadesMessages(t *testing.T) {
	db := newChatDB(t)
	seedGroup(t, db, 3)
	mustExec(t, db.Delete(&domain.Group{ID: "g1"}).Error)
	n, err := CountMessages(context.Background(), db, "g1")
	if err != nil || n != 0 {
		t.Fatalf("messages should cascade: %d %v", n, err)
	}
}

func idsOf(ms []domain.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}
