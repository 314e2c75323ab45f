// Copyright 2024-2026 Aiku AI

package connector

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

func TestHandleListThreads_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	mc := &MessengerConnector{}
	rec := httptest.NewRecorder()
	mc.HandleListThreads(rec, httptest.NewRequest(http.MethodPost, "/api/threads", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleListThreads_NoLogins(t *testing.T) {
	t.Parallel()
	mc := &MessengerConnector{}
	rec := httptest.NewRecorder()
	mc.HandleListThreads(rec, httptest.NewRequest(http.MethodGet, "/api/threads", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleListThreads_Sorted(t *testing.T) {
	t.Parallel()
	m, _ := newTestClient(t)
	m.connector.registerClient(m)
	now := time.UnixMilli(1700000000000)
	m.cacheThreads(
		&messenger.Thread{ID: "200", Type: messenger.ChatTypeUser, LastActivity: now.Add(-time.Hour),
			Participants: []messenger.Participant{{ID: "200", Name: "Bob Builder"}}},
		&messenger.Thread{ID: "300", Name: "Book club", Type: messenger.ChatTypeGroup, LastActivity: now,
			Folder: messenger.LocationInbox, PictureURL: "https://example.com/300.jpg"},
		&messenger.Thread{ID: "100", Name: "Notes", Type: messenger.ChatTypeUser},
	)

	rec := httptest.NewRecorder()
	m.connector.HandleListThreads(rec, httptest.NewRequest(http.MethodGet, "/api/threads", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}
	var entries []ThreadEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ID != "300" || entries[1].ID != "200" || entries[2].ID != "100" {
		t.Errorf("order: %s, %s, %s", entries[0].ID, entries[1].ID, entries[2].ID)
	}
	if entries[0].ChatType != messenger.ChatTypeGroup || entries[0].ProfilePictureURL == "" || entries[0].Folder != "INBOX" {
		t.Errorf("group entry: %+v", entries[0])
	}
	if entries[1].Name != "Bob Builder" {
		t.Errorf("unnamed DM should use the other member's name, got %q", entries[1].Name)
	}
	if entries[2].LastActivity != nil {
		t.Error("zero last activity should be omitted")
	}
}

func TestHandleResync(t *testing.T) {
	t.Parallel()
	m, srv := newTestClient(t)
	seedInbox(srv)
	m.connector.registerClient(m)

	rec := httptest.NewRecorder()
	m.connector.HandleResync(rec, httptest.NewRequest(http.MethodGet, "/api/resync", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status: got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	m.connector.HandleResync(rec, httptest.NewRequest(http.MethodPost, "/api/resync", nil))
	var result map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if result["synced"] != 1 || result["failed"] != 0 {
		t.Errorf("result: %v", result)
	}
	if len(resyncsByThread(t, testMock(m).Events())) != 3 {
		t.Error("resync should queue chat resyncs")
	}

	srv.Fail["/api/graphqlbatch/"] = 1357031
	rec = httptest.NewRecorder()
	m.connector.HandleResync(rec, httptest.NewRequest(http.MethodPost, "/api/resync", nil))
	result = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if result["synced"] != 0 || result["failed"] != 1 {
		t.Errorf("failing result: %v", result)
	}
}

func TestAdminMux(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer((&MessengerConnector{}).adminMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/threads")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status: got %d", resp.StatusCode)
	}
}
