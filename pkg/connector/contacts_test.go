// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"testing"

	"maunium.net/go/mautrix/bridgev2"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
	"github.com/aiku/mautrix-fbmessenger/pkg/messenger/messengertest"
)

func seedSearch(srv *messengertest.Server) {
	srv.SearchResults["user"] = []map[string]any{
		{"__typename": "User", "id": "200", "name": "Bob Builder", "username": "bob.builder", "is_viewer_friend": true},
		{"__typename": "User", "id": "210", "name": "Bobby Tables", "username": "bobby"},
	}
}

func TestResolveIdentifier_NumericID(t *testing.T) {
	t.Parallel()
	m, srv := newTestClient(t)
	srv.Profiles["200"] = map[string]any{"id": "200", "name": "Bob Builder", "firstName": "Bob", "type": "friend"}

	resp, err := m.ResolveIdentifier(context.Background(), "facebook:200", false)
	if err != nil {
		t.Fatalf("ResolveIdentifier: %v", err)
	}
	if resp == nil || resp.UserID != MakeUserID("200") {
		t.Fatalf("response: %+v", resp)
	}
	if resp.Chat == nil || resp.Chat.PortalKey.ID != MakePortalID("200") || resp.Chat.PortalKey.Receiver != testLoginID {
		t.Errorf("chat: %+v", resp.Chat)
	}
	if resp.Chat.PortalInfo != nil {
		t.Error("PortalInfo should only be set when creating a chat")
	}
	if m.cachedThread("200") != nil {
		t.Error("resolving without createChat should not cache a thread")
	}
}

func TestResolveIdentifier_CreateChat(t *testing.T) {
	t.Parallel()
	m, srv := newTestClient(t)
	srv.Profiles["200"] = map[string]any{"id": "200", "name": "Bob Builder", "type": "friend"}

	resp, err := m.ResolveIdentifier(context.Background(), "200", true)
	if err != nil {
		t.Fatalf("ResolveIdentifier: %v", err)
	}
	if resp.Chat.PortalInfo == nil {
		t.Fatal("PortalInfo should be set when creating a chat")
	}
	if thread := m.cachedThread("200"); thread == nil || thread.Name != "Bob Builder" {
		t.Errorf("cached thread: %+v", thread)
	}
}

func TestResolveIdentifier_Username(t *testing.T) {
	t.Parallel()
	m, srv := newTestClient(t)
	seedSearch(srv)

	resp, err := m.ResolveIdentifier(context.Background(), "facebook-username:Bobby", false)
	if err != nil {
		t.Fatalf("ResolveIdentifier: %v", err)
	}
	if resp == nil || resp.UserID != MakeUserID("210") {
		t.Errorf("response: %+v", resp)
	}
}

func TestResolveIdentifier_NotFound(t *testing.T) {
	t.Parallel()
	m, srv := newTestClient(t)
	seedSearch(srv)

	if resp, err := m.ResolveIdentifier(context.Background(), "999", false); err != nil || resp != nil {
		t.Errorf("unknown ID: %+v, %v", resp, err)
	}
	if resp, err := m.ResolveIdentifier(context.Background(), "nobody", false); err != nil || resp != nil {
		t.Errorf("unknown username: %+v, %v", resp, err)
	}
	if _, err := m.ResolveIdentifier(context.Background(), " facebook: ", false); err == nil {
		t.Error("expected error for empty identifier")
	}
}

func TestResolveIdentifier_NotLoggedIn(t *testing.T) {
	t.Parallel()
	_, err := newNotLoggedInClient().ResolveIdentifier(context.Background(), "200", false)
	if !errors.Is(err, bridgev2.ErrNotLoggedIn) {
		t.Errorf("got %v, want ErrNotLoggedIn", err)
	}
}

func TestGetContactList(t *testing.T) {
	t.Parallel()
	m, srv := newTestClient(t)
	seedInbox(srv)

	contacts, err := m.GetContactList(context.Background())
	if err != nil {
		t.Fatalf("GetContactList: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("expected 2 contacts without self and placeholder, got %d", len(contacts))
	}
	if contacts[0].UserID != MakeUserID("200") || contacts[1].UserID != MakeUserID("201") {
		t.Errorf("contacts: %q, %q", contacts[0].UserID, contacts[1].UserID)
	}

	srv.Fail["/chat/user_info_all"] = 1357031
	if _, err = m.GetContactList(context.Background()); err == nil {
		t.Error("expected error when contacts can't be fetched")
	}
}

func TestSearchUsers(t *testing.T) {
	t.Parallel()
	m, srv := newTestClient(t)
	seedSearch(srv)

	results, err := m.SearchUsers(context.Background(), "bob")
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(results) != 2 || results[0].UserID != MakeUserID("200") {
		t.Errorf("results: %+v", results)
	}
	if _, err = newNotLoggedInClient().SearchUsers(context.Background(), "bob"); !errors.Is(err, bridgev2.ErrNotLoggedIn) {
		t.Errorf("got %v, want ErrNotLoggedIn", err)
	}
}

func TestThreadUser(t *testing.T) {
	t.Parallel()
	if threadUser(&messenger.Thread{ID: "300", Type: messenger.ChatTypeGroup, Participants: []messenger.Participant{{ID: "1"}}}) != nil {
		t.Error("group threads have no single user")
	}
	if threadUser(&messenger.Thread{ID: "200"}) != nil {
		t.Error("thread without participants has no user")
	}
	user := threadUser(&messenger.Thread{ID: "200", Participants: []messenger.Participant{
		{ID: testUserID, Name: "Alice"},
		{ID: "200", Name: "Bob", ShortName: "B", Username: "bob"},
	}})
	if user == nil || user.ID != "200" || user.FirstName != "B" || user.Username != "bob" {
		t.Errorf("user: %+v", user)
	}
}

func TestIsNumericID(t *testing.T) {
	t.Parallel()
	for input, want := range map[string]bool{
		"100001234": true,
		"":          false,
		"12a":       false,
		"-1":        false,
		"bob":       false,
	} {
		if got := isNumericID(input); got != want {
			t.Errorf("isNumericID(%q) = %v, want %v", input, got, want)
		}
	}
}
