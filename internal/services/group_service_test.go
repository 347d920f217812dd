package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"":                      "",
		"   leading   ":         "leading",
		"multi   spaces":        "multi spaces",
		"tabs\tand\nnewlines  ": "tabs and newlines",
		"\t  \n":                "",
		"Café crew":       "Café crew",
	}
	for in, want := range cases {
		if got := normalizeName(in); got != want {
			t.Errorf("normalizeName(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestGroupService_CreateAndList(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.groups.Create(ctx, "u1", "   "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("blank name should be rejected, got %v", err)
	}

	e.groups.NameMaxLen = 5
	g, err := e.groups.Create(ctx, "u1", "  Ωmega   squad ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if g.Name != "Ωmega" || utf8.RuneCountInString(g.Name) != 5 {
		t.Fatalf("name should be normalized and clipped by runes, got %q", g.Name)
	}

	groups, err := e.groups.List(ctx, "u1")
	if err != nil || len(groups) != 1 || groups[0].ID != g.ID {
		t.Fatalf("List: %+v %v", groups, err)
	}
	if groups, _ := e.groups.List(ctx, "u2"); len(groups) != 0 {
		t.Fatalf("u2 belongs to no group")
	}
}

func TestGroupService_AddMemberAndRequireMember(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	g, err := e.groups.Create(ctx, "u1", "Hunt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := e.groups.AddMember(ctx, "u2", g.ID, "u3"); !errors.Is(err, ErrNotGroupMember) {
		t.Fatalf("non-member cannot add members, got %v", err)
	}
	if err := e.groups.AddMember(ctx, "u1", "missing", "u2"); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("missing group, got %v", err)
	}
	if err := e.groups.AddMember(ctx, "u1", g.ID, " "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("blank user id, got %v", err)
	}
	if err := e.groups.AddMember(ctx, "u1", g.ID, "u2"); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := e.groups.AddMember(ctx, "u2", g.ID, "u3"); err != nil {
		t.Fatalf("members may invite: %v", err)
	}

	got, err := e.groups.RequireMember(ctx, g.ID, "u3")
	if err != nil || got.OwnerID != "u1" {
		t.Fatalf("RequireMember: %+v %v", got, err)
	}
	if _, err := e.groups.RequireMember(ctx, g.ID, "stranger"); !errors.Is(err, ErrNotGroupMember) {
		t.Fatalf("stranger, got %v", err)
	}
	if !strings.Contains(ErrNotGroupMember.Error(), "member") {
		t.Fatalf("unexpected error text")
	}
}
