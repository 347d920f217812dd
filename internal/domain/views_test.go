package domain

import (
	"testing"
	"time"

	"gorm.io/datatypes"
)

func TestSnapshot_EmbedsSenderAndDefaults(t *testing.T) {
	now := time.Now().UTC()
	m := Message{ID: "m1", GroupID: "g1", SenderID: "u1", Content: "hi", Kind: KindText, CreatedAt: now}

	s := Snapshot(m, Identity{})
	if s.Sender.ID != "u1" || s.Sender.Email != "" {
		t.Fatalf("unresolved sender should keep id only: %+v", s.Sender)
	}
	if s.Reactions == nil || len(s.Reactions) != 0 {
		t.Fatalf("reactions should be an empty slice, got %#v", s.Reactions)
	}
	if s.Attachment != nil {
		t.Fatalf("expected nil attachment")
	}

	m.Attachment = datatypes.NewJSONType(&Attachment{Name: "a.txt"})
	s = Snapshot(m, Identity{ID: "u1", FirstName: "Ada", Email: "ada@example.com"})
	if s.Sender.FirstName != "Ada" || s.Attachment == nil || s.Attachment.Name != "a.txt" {
		t.Fatalf("snapshot mismatch: %+v", s)
	}
}

func TestMessagePatch_Apply(t *testing.T) {
	m := CachedMessage{ID: "m1", Content: "old", Reactions: []Reaction{}}
	content := "new"
	edited := true
	at := time.Now().UTC()
	reactions := []Reaction{{Emoji: "🎉", UserIDs: []string{"u2"}}}

	MessagePatch{Content: &content, IsEdited: &edited, EditedAt: &at, Reactions: &reactions}.Apply(&m)
	if m.Content != "new" || !m.IsEdited || m.EditedAt == nil || !m.EditedAt.Equal(at) {
		t.Fatalf("patch not applied: %+v", m)
	}
	if len(m.Reactions) != 1 {
		t.Fatalf("reactions not applied: %+v", m.Reactions)
	}
	reactions[0].Emoji = "x"
	if m.Reactions[0].Emoji != "🎉" {
		t.Fatalf("patch should copy reactions, not alias them")
	}

	// empty patch is a no-op
	before := m
	MessagePatch{}.Apply(&m)
	if m.Content != before.Content || m.IsDeleted != before.IsDeleted {
		t.Fatalf("empty patch changed the message")
	}
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(20, 10, 35)
	if p.Page != 3 || p.Limit != 10 || p.Total != 35 || p.Pages != 4 {
		t.Fatalf("unexpected pagination: %+v", p)
	}
	if p := NewPagination(0, 10, 0); p.Page != 1 || p.Pages != 0 {
		t.Fatalf("empty result pagination: %+v", p)
	}
	if p := NewPagination(0, 0, 5); p.Page != 1 || p.Pages != 0 {
		t.Fatalf("zero limit pagination: %+v", p)
	}
}
