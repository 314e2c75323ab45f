// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/bridgev2/simplevent"
	"maunium.net/go/mautrix/bridgev2/status"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

const (
	defaultReconnectDelay = 5 * time.Second
	maxReconnectDelay     = 5 * time.Minute
)

// remoteEventSender is an interface for queuing remote events. This allows
// tests to inject a mock instead of requiring a full bridgev2.Bridge.
type remoteEventSender interface {
	QueueRemoteEvent(login *bridgev2.UserLogin, evt bridgev2.RemoteEvent)
}

// bridgeEventSender is the production implementation that delegates to the bridge.
type bridgeEventSender struct {
	bridge *bridgev2.Bridge
}

func (b *bridgeEventSender) QueueRemoteEvent(login *bridgev2.UserLogin, evt bridgev2.RemoteEvent) {
	b.bridge.QueueRemoteEvent(login, evt)
}

// MessengerClient represents a single logged-in Messenger account.
type MessengerClient struct {
	connector   *MessengerConnector
	userLogin   *bridgev2.UserLogin
	eventSender remoteEventSender

	client *messenger.Client
	userID string

	threadsLock sync.RWMutex
	threads     map[string]*messenger.Thread

	typingLock   sync.Mutex
	typingTimers map[string]*typingTimer

	// downloadMedia replaces the bridge bot's media download in tests.
	downloadMedia func(ctx context.Context, uri id.ContentURIString, file *event.EncryptedFileInfo) ([]byte, error)

	reconnectDelay time.Duration

	stopOnce sync.Once
	stopChan chan struct{}
	log      zerolog.Logger
}

var (
	_ bridgev2.NetworkAPI                    = (*MessengerClient)(nil)
	_ bridgev2.ReactionHandlingNetworkAPI    = (*MessengerClient)(nil)
	_ bridgev2.RedactionHandlingNetworkAPI   = (*MessengerClient)(nil)
	_ bridgev2.ReadReceiptHandlingNetworkAPI = (*MessengerClient)(nil)
	_ bridgev2.TypingHandlingNetworkAPI      = (*MessengerClient)(nil)
)

// NewMessengerClient creates a new client from an existing user login.
func NewMessengerClient(login *bridgev2.UserLogin, connector *MessengerConnector) *MessengerClient {
	log := login.Log.With().Str("component", "fb_client").Logger()
	m := &MessengerClient{
		connector:      connector,
		userLogin:      login,
		eventSender:    &bridgeEventSender{bridge: connector.Bridge},
		userID:         ParseUserLoginID(login.ID),
		threads:        make(map[string]*messenger.Thread),
		typingTimers:   make(map[string]*typingTimer),
		reconnectDelay: defaultReconnectDelay,
		stopChan:       make(chan struct{}),
		log:            log,
	}
	meta, _ := login.Metadata.(*UserLoginMetadata)
	if meta == nil || !meta.Session.Valid() {
		return m
	}
	client, err := connector.newAPIClient(meta.Session)
	if err != nil {
		log.Warn().Err(err).Msg("Stored session is unusable")
		return m
	}
	m.client = client
	m.userID = client.UserID()
	return m
}

// sendState reports a bridge state if the login has a state queue.
func (m *MessengerClient) sendState(state status.BridgeState) {
	if m.userLogin != nil && m.userLogin.BridgeState != nil {
		m.userLogin.BridgeState.Send(state)
	}
}

// Connect implements bridgev2.NetworkAPI. It does not return an error;
// connection errors are reported via BridgeState.
func (m *MessengerClient) Connect(ctx context.Context) {
	if m.client == nil {
		m.log.Warn().Msg("No session stored, login first")
		m.sendState(status.BridgeState{
			StateEvent: status.StateBadCredentials,
			Error:      "fb-not-logged-in",
			Message:    "Session not found, please authorize your account with efms-auth",
		})
		return
	}

	me, err := m.client.FetchOwnProfile(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to verify Messenger session")
		if errors.Is(err, messenger.ErrNotLoggedIn) {
			m.sendState(status.BridgeState{
				StateEvent: status.StateBadCredentials,
				Error:      "fb-session-invalid",
				Message:    "Messenger session expired, please authorize your account with efms-auth",
			})
		} else {
			m.sendState(status.BridgeState{
				StateEvent: status.StateTransientDisconnect,
				Error:      "fb-connect-failed",
				Message:    "Failed to reach Messenger",
			})
		}
		return
	}
	m.userID = me.ID
	m.log.Info().Str("fb_user_id", me.ID).Str("name", me.Name).Msg("Authenticated")
	m.cacheThreads(selfThread(me))

	m.connector.registerClient(m)
	m.sendState(status.BridgeState{StateEvent: status.StateConnected})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		select {
		case <-m.stopChan:
		case <-runCtx.Done():
		}
		cancel()
	}()
	go m.listenLoop(runCtx)
	go func() {
		if err := m.syncThreads(runCtx); err != nil {
			m.log.Error().Err(err).Msg("Initial thread sync failed")
		}
	}()
	if interval := m.connector.Config.ResyncInterval; interval > 0 {
		go m.resyncLoop(runCtx, time.Duration(interval)*time.Second)
	}
}

// listenLoop keeps the delta stream connected until the client stops or
// Messenger rejects the session.
func (m *MessengerClient) listenLoop(ctx context.Context) {
	delay := m.reconnectDelay
	for {
		started := time.Now()
		err := m.client.Listen(ctx, m.handleMessengerEvent)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, messenger.ErrNotLoggedIn) {
			m.log.Error().Err(err).Msg("Delta stream rejected the session")
			m.sendState(status.BridgeState{
				StateEvent: status.StateBadCredentials,
				Error:      "fb-session-invalid",
				Message:    "Messenger session expired, please authorize your account with efms-auth",
			})
			return
		}
		if time.Since(started) > maxReconnectDelay {
			delay = m.reconnectDelay
		}
		m.log.Warn().Err(err).Dur("retry_in", delay).Msg("Delta stream disconnected, reconnecting")
		m.sendState(status.BridgeState{
			StateEvent: status.StateTransientDisconnect,
			Error:      "fb-listen-disconnected",
			Message:    "Delta stream disconnected, reconnecting",
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		delay = min(delay*2, maxReconnectDelay)
		m.sendState(status.BridgeState{StateEvent: status.StateConnected})
	}
}

func (m *MessengerClient) resyncLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.syncThreads(ctx); err != nil {
				m.log.Warn().Err(err).Msg("Periodic thread sync failed")
			}
		}
	}
}

// syncThreads fetches the thread list for the configured folders together
// with the contact list and queues ChatResync events for them. Contacts
// without a thread are announced without creating a portal.
func (m *MessengerClient) syncThreads(ctx context.Context) error {
	var threads []*messenger.Thread
	var contacts []*messenger.User
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		threads, err = m.client.ThreadList(gctx, m.connector.Config.threadListLimit(), time.Time{}, m.connector.Config.Locations()...)
		return err
	})
	g.Go(func() error {
		var err error
		contacts, err = m.client.FetchAllUsers(gctx)
		if err != nil {
			m.log.Warn().Err(err).Msg("Failed to fetch contacts for sync")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to fetch thread list: %w", err)
	}

	m.cacheThreads(threads...)
	known := make(map[string]struct{}, len(threads))
	for _, thread := range threads {
		known[thread.ID] = struct{}{}
		m.queueChatResync(thread, true)
	}
	contactCount := 0
	for _, contact := range contacts {
		if _, ok := known[contact.ID]; ok || contact.ID == m.userID {
			continue
		}
		thread := contactThread(contact)
		m.cacheThreadIfMissing(thread)
		m.queueChatResync(thread, false)
		contactCount++
	}
	m.log.Info().Int("threads", len(threads)).Int("contacts", contactCount).Msg("Thread sync complete")
	return nil
}

func (m *MessengerClient) queueChatResync(thread *messenger.Thread, createPortal bool) {
	var checkBackfill func(ctx context.Context, latestMessage *database.Message) (bool, error)
	if m.connector.Config.BackfillEnabled && !thread.LastActivity.IsZero() {
		lastActivity := thread.LastActivity
		checkBackfill = func(_ context.Context, latestMessage *database.Message) (bool, error) {
			if latestMessage == nil {
				return true, nil
			}
			return latestMessage.Timestamp.Before(lastActivity), nil
		}
	}
	m.eventSender.QueueRemoteEvent(m.userLogin, &simplevent.ChatResync{
		EventMeta: simplevent.EventMeta{
			Type:      bridgev2.RemoteEventChatResync,
			PortalKey: m.portalKey(thread.Ref()),
			LogContext: func(c zerolog.Context) zerolog.Context {
				return c.Str("thread_id", thread.ID).Str("chat_type", string(thread.Type))
			},
			CreatePortal: createPortal,
		},
		ChatInfo:               m.threadToChatInfo(thread),
		LatestMessageTS:        thread.LastActivity,
		CheckNeedsBackfillFunc: checkBackfill,
	})
}

func (m *MessengerClient) portalKey(ref messenger.ThreadRef) networkid.PortalKey {
	return makePortalKey(ref, m.userLogin.ID)
}

func (m *MessengerClient) cacheThreads(threads ...*messenger.Thread) {
	m.threadsLock.Lock()
	defer m.threadsLock.Unlock()
	for _, thread := range threads {
		m.threads[thread.ID] = thread
	}
}

func (m *MessengerClient) cacheThreadIfMissing(thread *messenger.Thread) {
	m.threadsLock.Lock()
	defer m.threadsLock.Unlock()
	if _, ok := m.threads[thread.ID]; !ok {
		m.threads[thread.ID] = thread
	}
}

func (m *MessengerClient) cachedThread(threadID string) *messenger.Thread {
	m.threadsLock.RLock()
	defer m.threadsLock.RUnlock()
	return m.threads[threadID]
}

// getThread returns a thread from the cache, asking Messenger on a miss.
func (m *MessengerClient) getThread(ctx context.Context, threadID string) (*messenger.Thread, error) {
	if thread := m.cachedThread(threadID); thread != nil {
		return thread, nil
	}
	thread, err := m.client.ThreadInfo(ctx, threadID)
	if err != nil {
		return nil, err
	}
	m.cacheThreads(thread)
	return thread, nil
}

// Threads returns every cached thread.
func (m *MessengerClient) Threads() []*messenger.Thread {
	m.threadsLock.RLock()
	defer m.threadsLock.RUnlock()
	out := make([]*messenger.Thread, 0, len(m.threads))
	for _, thread := range m.threads {
		out = append(out, thread)
	}
	return out
}

// threadRef returns the addressing information for a portal.
func (m *MessengerClient) threadRef(ctx context.Context, portal *bridgev2.Portal) messenger.ThreadRef {
	threadID := ParsePortalID(portal.ID)
	if portal.Receiver == "" {
		return messenger.ThreadRef{ID: threadID, Group: true}
	}
	if thread := m.cachedThread(threadID); thread != nil {
		return thread.Ref()
	}
	if meta, ok := portal.Metadata.(*PortalMetadata); ok && meta.ChatType == messenger.ChatTypeGroup {
		return messenger.ThreadRef{ID: threadID, Group: true}
	}
	return messenger.ThreadRef{ID: threadID}
}

// Disconnect stops the delta stream listener and the resync loop.
func (m *MessengerClient) Disconnect() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.connector.unregisterClient(m)
		m.typingLock.Lock()
		for threadID, pending := range m.typingTimers {
			pending.timer.Stop()
			delete(m.typingTimers, threadID)
		}
		m.typingLock.Unlock()
	})
}

// IsLoggedIn reports whether the client holds a usable session.
func (m *MessengerClient) IsLoggedIn() bool {
	return m.client != nil
}

func (m *MessengerClient) LogoutRemote(ctx context.Context) {
	if m.client != nil {
		if err := m.client.Logout(ctx); err != nil {
			m.log.Warn().Err(err).Msg("Failed to log out of Messenger")
		}
	}
	m.Disconnect()
}

// IsThisUser reports whether the given network user ID is the logged-in account.
func (m *MessengerClient) IsThisUser(_ context.Context, userID networkid.UserID) bool {
	return ParseUserID(userID) == m.userID
}

func (m *MessengerClient) GetChatInfo(ctx context.Context, portal *bridgev2.Portal) (*bridgev2.ChatInfo, error) {
	if !m.IsLoggedIn() {
		return nil, bridgev2.ErrNotLoggedIn
	}
	thread, err := m.getThread(ctx, ParsePortalID(portal.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to get thread info: %w", err)
	}
	info := m.threadToChatInfo(thread)
	if info.Avatar == nil {
		if pictureURL, err := m.chatPictureURL(ctx, portal); err == nil {
			info.Avatar = m.pictureAvatar(pictureURL)
		} else {
			m.log.Debug().Err(err).Str("thread_id", thread.ID).Msg("No chat picture")
		}
	}
	return info, nil
}

func (m *MessengerClient) GetUserInfo(ctx context.Context, ghost *bridgev2.Ghost) (*bridgev2.UserInfo, error) {
	if !m.IsLoggedIn() {
		return nil, bridgev2.ErrNotLoggedIn
	}
	userID := ParseUserID(ghost.ID)
	users, err := m.client.FetchUserInfo(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	user, ok := users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s not found", userID)
	}
	return m.userToUserInfo(user), nil
}

func (m *MessengerClient) GetCapabilities(_ context.Context, _ *bridgev2.Portal) *event.RoomFeatures {
	return &event.RoomFeatures{
		Formatting: event.FormattingFeatureMap{
			event.FmtBold:          event.CapLevelFullySupported,
			event.FmtItalic:        event.CapLevelFullySupported,
			event.FmtStrikethrough: event.CapLevelFullySupported,
			event.FmtInlineCode:    event.CapLevelFullySupported,
			event.FmtCodeBlock:     event.CapLevelFullySupported,
			event.FmtUserLink:      event.CapLevelFullySupported,
			event.FmtInlineLink:    event.CapLevelPartialSupport,
		},
		File: event.FileFeatureMap{
			event.MsgImage: {
				MimeTypes: map[string]event.CapabilitySupportLevel{
					"image/*": event.CapLevelFullySupported,
				},
				MaxSize: 25 * 1024 * 1024,
				Caption: event.CapLevelFullySupported,
			},
			event.CapMsgGIF: {
				MimeTypes: map[string]event.CapabilitySupportLevel{
					"image/gif": event.CapLevelFullySupported,
				},
				MaxSize: 25 * 1024 * 1024,
			},
			event.CapMsgSticker: {
				MimeTypes: map[string]event.CapabilitySupportLevel{
					"image/*": event.CapLevelFullySupported,
				},
				MaxSize: 25 * 1024 * 1024,
			},
			event.MsgVideo: {
				MimeTypes: map[string]event.CapabilitySupportLevel{
					"video/*": event.CapLevelFullySupported,
				},
				MaxSize: 25 * 1024 * 1024,
				Caption: event.CapLevelFullySupported,
			},
			event.MsgAudio: {
				MimeTypes: map[string]event.CapabilitySupportLevel{
					"audio/*": event.CapLevelFullySupported,
				},
				MaxSize: 25 * 1024 * 1024,
			},
			event.MsgFile: {
				MimeTypes: map[string]event.CapabilitySupportLevel{
					"*/*": event.CapLevelFullySupported,
				},
				MaxSize: 25 * 1024 * 1024,
			},
		},
		LocationMessage:     event.CapLevelFullySupported,
		MaxTextLength:       20000,
		Reply:               event.CapLevelFullySupported,
		Edit:                event.CapLevelRejected,
		Delete:              event.CapLevelRejected,
		Reaction:            event.CapLevelFullySupported,
		ReactionCount:       1,
		ReadReceipts:        true,
		TypingNotifications: true,
	}
}
