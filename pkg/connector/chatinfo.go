// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"

	"go.mau.fi/util/ptr"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/event"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

// threadToChatInfo converts a Messenger thread to a bridgev2.ChatInfo.
func (m *MessengerClient) threadToChatInfo(thread *messenger.Thread) *bridgev2.ChatInfo {
	memberList := m.threadMembers(thread)
	chatInfo := &bridgev2.ChatInfo{
		Members:      memberList,
		Avatar:       m.pictureAvatar(thread.PictureURL),
		ExtraUpdates: updatePortalMetadata(thread),
	}
	if thread.IsGroup() {
		chatInfo.Type = ptr.Ptr(database.RoomTypeGroupDM)
		if thread.Name != "" {
			chatInfo.Name = ptr.Ptr(thread.Name)
		}
	} else {
		chatInfo.Type = ptr.Ptr(database.RoomTypeDM)
		memberList.OtherUserID = MakeUserID(thread.ID)
	}
	return chatInfo
}

// threadMembers builds the member list of a thread. One-to-one threads
// always contain the logged-in user and the other party.
func (m *MessengerClient) threadMembers(thread *messenger.Thread) *bridgev2.ChatMemberList {
	memberMap := make(map[networkid.UserID]bridgev2.ChatMember, len(thread.Participants)+1)
	for _, p := range thread.Participants {
		member := bridgev2.ChatMember{
			EventSender: bridgev2.EventSender{
				IsFromMe: p.ID == m.userID,
				Sender:   MakeUserID(p.ID),
			},
			Membership: event.MembershipJoin,
			UserInfo:   m.participantToUserInfo(p),
		}
		if nick := thread.Nicknames[p.ID]; nick != "" {
			member.Nickname = ptr.Ptr(nick)
		}
		memberMap[member.Sender] = member
	}
	if !thread.IsGroup() {
		for _, userID := range []string{m.userID, thread.ID} {
			if _, ok := memberMap[MakeUserID(userID)]; ok || userID == "" {
				continue
			}
			memberMap[MakeUserID(userID)] = bridgev2.ChatMember{
				EventSender: bridgev2.EventSender{
					IsFromMe: userID == m.userID,
					Sender:   MakeUserID(userID),
				},
				Membership: event.MembershipJoin,
			}
		}
	}
	return &bridgev2.ChatMemberList{
		IsFull:           true,
		TotalMemberCount: len(memberMap),
		MemberMap:        memberMap,
	}
}

// updatePortalMetadata stores the thread's vendor attributes on the portal.
func updatePortalMetadata(thread *messenger.Thread) func(context.Context, *bridgev2.Portal) bool {
	chatType := thread.Type
	pictureURL := thread.PictureURL
	return func(_ context.Context, portal *bridgev2.Portal) bool {
		meta, ok := portal.Metadata.(*PortalMetadata)
		if !ok {
			return false
		}
		changed := false
		if chatType != "" && meta.ChatType != chatType {
			meta.ChatType = chatType
			changed = true
		}
		if pictureURL != "" && meta.ProfilePictureURL != pictureURL {
			meta.ProfilePictureURL = pictureURL
			changed = true
		}
		return changed
	}
}

// chatPictureURL finds the picture of a thread: the URL stored on the
// portal, then the thread's own picture, then the other party's picture.
func (m *MessengerClient) chatPictureURL(ctx context.Context, portal *bridgev2.Portal) (string, error) {
	if meta, ok := portal.Metadata.(*PortalMetadata); ok && meta.ProfilePictureURL != "" {
		return meta.ProfilePictureURL, nil
	}
	thread, err := m.getThread(ctx, ParsePortalID(portal.ID))
	if err != nil {
		return "", err
	}
	if thread.PictureURL != "" {
		return thread.PictureURL, nil
	}
	for _, p := range thread.Participants {
		if p.ID == thread.ID && p.PictureURL != "" {
			return p.PictureURL, nil
		}
	}
	return "", fmt.Errorf("thread %s has no picture", thread.ID)
}

// pictureAvatar returns an avatar downloading the given picture, or nil
// when there is none.
func (m *MessengerClient) pictureAvatar(pictureURL string) *bridgev2.Avatar {
	if pictureURL == "" {
		return nil
	}
	return &bridgev2.Avatar{
		ID: networkid.AvatarID(pictureURL),
		Get: func(ctx context.Context) ([]byte, error) {
			data, _, err := m.client.Download(ctx, pictureURL)
			return data, err
		},
	}
}

func (m *MessengerClient) participantToUserInfo(p messenger.Participant) *bridgev2.UserInfo {
	return m.userToUserInfo(&messenger.User{
		ID:         p.ID,
		Type:       p.Type,
		Name:       p.Name,
		FirstName:  p.ShortName,
		Username:   p.Username,
		PictureURL: p.PictureURL,
	})
}

// userToUserInfo converts a Messenger user to a bridgev2.UserInfo.
func (m *MessengerClient) userToUserInfo(user *messenger.User) *bridgev2.UserInfo {
	name := m.connector.Config.FormatDisplayname(DisplaynameParams{
		Name:      user.Name,
		FirstName: user.FirstName,
		Username:  user.Username,
		ChatType:  user.Type,
	})
	info := &bridgev2.UserInfo{
		Identifiers: []string{fmt.Sprintf("facebook:%s", user.ID)},
		Name:        &name,
		Avatar:      m.pictureAvatar(user.PictureURL),
	}
	if user.Username != "" {
		info.Identifiers = append(info.Identifiers, fmt.Sprintf("facebook-username:%s", user.Username))
	}
	return info
}

// selfThread is the chat with the logged-in user themselves.
func selfThread(me *messenger.User) *messenger.Thread {
	return contactThread(me)
}

// contactThread builds the one-to-one thread for a contact.
func contactThread(user *messenger.User) *messenger.Thread {
	chatType := user.Type
	if chatType == "" {
		chatType = messenger.ChatTypeUser
	}
	return &messenger.Thread{
		ID:         user.ID,
		Type:       chatType,
		Name:       user.Name,
		PictureURL: user.PictureURL,
		Participants: []messenger.Participant{{
			ID:         user.ID,
			Type:       chatType,
			Name:       user.Name,
			ShortName:  user.FirstName,
			Username:   user.Username,
			PictureURL: user.PictureURL,
		}},
	}
}
