// Copyright 2024-2026 Aiku AI

package connector

import (
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-fbmessenger/pkg/connector/matrixfmt"
	"github.com/aiku/mautrix-fbmessenger/pkg/connector/messengerfmt"
	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

// messengerfmtParse converts Messenger text and mentions to Matrix HTML
// message content.
func (m *MessengerClient) messengerfmtParse(text string, mentions []messenger.Mention) *messengerfmt.ParsedMessage {
	return messengerfmt.Parse(text, mentions, m.ghostMXID)
}

// matrixfmtParse converts Matrix message content to Messenger text.
func (m *MessengerClient) matrixfmtParse(content *event.MessageEventContent) (string, []messenger.Mention) {
	return matrixfmt.Parse(content, m.messengerUserID)
}

// ghostMXID returns the Matrix user of a Messenger user.
func (m *MessengerClient) ghostMXID(userID string) (id.UserID, bool) {
	if userID == m.userID && m.userLogin != nil && m.userLogin.UserMXID != "" {
		return m.userLogin.UserMXID, true
	}
	bridge := m.connector.Bridge
	if bridge == nil || bridge.Matrix == nil {
		return "", false
	}
	return bridge.Matrix.GhostIntent(MakeUserID(userID)).GetMXID(), true
}

// messengerUserID maps a mentioned Matrix user back to Messenger.
func (m *MessengerClient) messengerUserID(userID id.UserID) (string, bool) {
	if m.userLogin != nil && userID == m.userLogin.UserMXID {
		return m.userID, true
	}
	bridge := m.connector.Bridge
	if bridge == nil || bridge.Matrix == nil {
		return "", false
	}
	ghostID, ok := bridge.Matrix.ParseGhostMXID(userID)
	if !ok {
		return "", false
	}
	return ParseUserID(ghostID), true
}
