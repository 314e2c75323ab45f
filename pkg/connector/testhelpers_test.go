// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
	"github.com/aiku/mautrix-fbmessenger/pkg/messenger/messengertest"
)

const (
	testUserID  = "100"
	testLoginID = networkid.UserLoginID(testUserID)
	testOwner   = id.UserID("@alice:example.com")
)

// mockEventSender captures queued remote events for test assertions.
type mockEventSender struct {
	mu     sync.Mutex
	events []bridgev2.RemoteEvent
}

func (m *mockEventSender) QueueRemoteEvent(_ *bridgev2.UserLogin, evt bridgev2.RemoteEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockEventSender) Events() []bridgev2.RemoteEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]bridgev2.RemoteEvent, len(m.events))
	copy(cp, m.events)
	return cp
}

func (m *mockEventSender) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

// waitEvents polls until at least n events were queued.
func (m *mockEventSender) waitEvents(t *testing.T, n int) []bridgev2.RemoteEvent {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if evts := m.Events(); len(evts) >= n {
			return evts
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d", n, len(m.Events()))
	return nil
}

// waitCalled polls until a request hit a path containing path.
func waitCalled(t *testing.T, srv *messengertest.Server, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if srv.Called(path) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for a request to %s", path)
}

// newFakeServer starts a fake Messenger backend that knows the logged-in
// user's own profile.
func newFakeServer(t *testing.T) *messengertest.Server {
	t.Helper()
	srv := messengertest.NewServer(testUserID)
	t.Cleanup(srv.Close)
	srv.Profiles[testUserID] = map[string]any{
		"id":        testUserID,
		"name":      "Alice Example",
		"firstName": "Alice",
		"vanity":    "alice",
		"type":      "user",
	}
	return srv
}

func testClientOptions(srv *messengertest.Server) messenger.Options {
	return messenger.Options{
		BaseURL:   srv.URL,
		MobileURL: srv.URL,
		UploadURL: srv.URL,
		EdgeURL:   srv.EdgeURL(),
		Log:       zerolog.Nop(),
	}
}

// newTestConnector creates a connector with an empty bridge pointed at srv.
func newTestConnector(srv *messengertest.Server) *MessengerConnector {
	mc := &MessengerConnector{
		Bridge: &bridgev2.Bridge{},
		Config: Config{},
	}
	mc.Bridge.Log = zerolog.Nop()
	if srv != nil {
		mc.ClientOptions = testClientOptions(srv)
	}
	return mc
}

// newTestUserLogin builds a user login carrying the fake server's session.
func newTestUserLogin(srv *messengertest.Server) *bridgev2.UserLogin {
	meta := &UserLoginMetadata{}
	if srv != nil {
		meta.Session = &messenger.Session{Cookies: srv.Cookies()}
	}
	return &bridgev2.UserLogin{
		UserLogin: &database.UserLogin{
			ID:       testLoginID,
			UserMXID: testOwner,
			Metadata: meta,
		},
		Log: zerolog.Nop(),
	}
}

// newTestClient creates a logged-in MessengerClient talking to a fresh fake
// backend, with a mock event sender and canned Matrix media.
func newTestClient(t *testing.T) (*MessengerClient, *messengertest.Server) {
	t.Helper()
	srv := newFakeServer(t)
	mc := newTestConnector(srv)
	m := NewMessengerClient(newTestUserLogin(srv), mc)
	if m.client == nil {
		t.Fatal("expected client to be created from the stored session")
	}
	m.eventSender = &mockEventSender{}
	m.downloadMedia = func(_ context.Context, uri id.ContentURIString, _ *event.EncryptedFileInfo) ([]byte, error) {
		return []byte("media:" + string(uri)), nil
	}
	t.Cleanup(m.Disconnect)
	return m, srv
}

// testMock returns the mockEventSender from a test client.
func testMock(m *MessengerClient) *mockEventSender {
	return m.eventSender.(*mockEventSender)
}

// newNotLoggedInClient creates a MessengerClient without a session.
func newNotLoggedInClient() *MessengerClient {
	m := NewMessengerClient(newTestUserLogin(nil), newTestConnector(nil))
	m.eventSender = &mockEventSender{}
	return m
}

// makeTestPortal creates a minimal portal for a thread. An empty receiver
// makes it a group portal.
func makeTestPortal(threadID string, receiver networkid.UserLoginID) *bridgev2.Portal {
	return &bridgev2.Portal{
		Portal: &database.Portal{
			PortalKey: networkid.PortalKey{
				ID:       MakePortalID(threadID),
				Receiver: receiver,
			},
			Metadata: &PortalMetadata{},
		},
	}
}

// fakeUploader records reuploaded media and returns predictable URIs.
type fakeUploader struct {
	mu    sync.Mutex
	files []string
	err   error
}

func (f *fakeUploader) upload(_ context.Context, data []byte, fileName, _ string) (id.ContentURIString, *event.EncryptedFileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", nil, f.err
	}
	f.files = append(f.files, fileName)
	return id.ContentURIString("mxc://example.com/" + fileName), nil, nil
}
