// Copyright 2024-2026 Aiku AI

package connector

import (
	"strconv"
	"strings"

	"maunium.net/go/mautrix/bridgev2/networkid"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

// MakePortalID creates a networkid.PortalID from a Messenger thread ID.
func MakePortalID(threadID string) networkid.PortalID {
	return networkid.PortalID(threadID)
}

// ParsePortalID extracts the Messenger thread ID from a PortalID.
func ParsePortalID(portalID networkid.PortalID) string {
	return string(portalID)
}

// MakeUserID creates a networkid.UserID from a Messenger user or page ID.
func MakeUserID(userID string) networkid.UserID {
	return networkid.UserID(userID)
}

// ParseUserID extracts the Messenger user ID from a networkid.UserID.
func ParseUserID(userID networkid.UserID) string {
	return string(userID)
}

// MakeUserLoginID creates a networkid.UserLoginID from a Messenger user ID.
func MakeUserLoginID(userID string) networkid.UserLoginID {
	return networkid.UserLoginID(userID)
}

// MakeMessageID creates a networkid.MessageID from a Messenger message ID.
func MakeMessageID(messageID string) networkid.MessageID {
	return networkid.MessageID(messageID)
}

// ParseMessageID extracts the Messenger message ID from a MessageID.
func ParseMessageID(messageID networkid.MessageID) string {
	return string(messageID)
}

// MakeMessagePartID creates a networkid.PartID for message parts (e.g., attachments).
func MakeMessagePartID(index int) networkid.PartID {
	if index == 0 {
		return ""
	}
	return networkid.PartID(strconv.Itoa(index))
}

// ReactionTarget returns the message ID a reaction should be sent to. Only
// real Messenger messages (mid.$ IDs) can be reacted to; per-attachment
// suffixes such as "mid.$abc.2" are cut back to the first two components.
func ReactionTarget(messageID string) (string, bool) {
	if !strings.HasPrefix(messageID, "mid.$") {
		return "", false
	}
	parts := strings.SplitN(messageID, ".", 3)
	if len(parts) < 2 || parts[1] == "$" {
		return "", false
	}
	return parts[0] + "." + parts[1], true
}

// makePortalKey creates a networkid.PortalKey for a thread. One-to-one
// threads are scoped to the login so two bridge users chatting with the same
// person get separate rooms.
func makePortalKey(thread messenger.ThreadRef, loginID networkid.UserLoginID) networkid.PortalKey {
	key := networkid.PortalKey{ID: MakePortalID(thread.ID)}
	if !thread.Group {
		key.Receiver = loginID
	}
	return key
}
