package handlers

import (
	"net/http"
	"strings"
	"testing"
)

func contains(s, sub string) bool { return strings.Contains(s, sub) }

func TestGroups_CreateListAddMember(t *testing.T) {
	e := newTestEnv(t, nil)

	w := e.do(t, http.MethodPost, "/api/groups", "u1", CreateGroupRequest{Name: "Berlin hunt"})
	expectStatus(t, w, http.StatusCreated)
	g := decode[GroupResponse](t, w).Group
	if g == nil || g.OwnerID != "u1" {
		t.Fatalf("group=%+v", g)
	}

	w = e.do(t, http.MethodGet, "/api/groups", "u2", nil)
	expectStatus(t, w, http.StatusOK)
	if !contains(w.Body.String(), `"groups":[]`) {
		t.Fatalf("u2 should see no groups: %s", w.Body.String())
	}

	// only members may add members
	w = e.do(t, http.MethodPost, "/api/groups/"+g.ID+"/members", "u3", AddMemberRequest{UserID: "u3"})
	expectStatus(t, w, http.StatusForbidden)
	w = e.do(t, http.MethodPost, "/api/groups/nope/members", "u1", AddMemberRequest{UserID: "u2"})
	expectStatus(t, w, http.StatusNotFound)
	w = e.do(t, http.MethodPost, "/api/groups/"+g.ID+"/members", "u1", map[string]string{})
	expectStatus(t, w, http.StatusBadRequest)

	w = e.do(t, http.MethodPost, "/api/groups/"+g.ID+"/members", "u1", AddMemberRequest{UserID: "u2"})
	expectStatus(t, w, http.StatusNoContent)

	w = e.do(t, http.MethodGet, "/api/groups", "u2", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[ListGroupsResponse](t, w).Groups; len(got) != 1 || got[0].ID != g.ID {
		t.Fatalf("groups=%+v", got)
	}
}

func TestGroups_CreateRequiresName(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(t, http.MethodPost, "/api/groups", "u1", map[string]string{})
	expectStatus(t, w, http.StatusBadRequest)
}
