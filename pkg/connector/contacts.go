// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"strings"

	"maunium.net/go/mautrix/bridgev2"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

var (
	_ bridgev2.IdentifierResolvingNetworkAPI = (*MessengerClient)(nil)
	_ bridgev2.ContactListingNetworkAPI      = (*MessengerClient)(nil)
	_ bridgev2.UserSearchingNetworkAPI       = (*MessengerClient)(nil)
)

// ResolveIdentifier looks up a Messenger user by ID ("100001234" or
// "facebook:100001234") or by username.
func (m *MessengerClient) ResolveIdentifier(ctx context.Context, identifier string, createChat bool) (*bridgev2.ResolveIdentifierResponse, error) {
	if !m.IsLoggedIn() {
		return nil, bridgev2.ErrNotLoggedIn
	}
	identifier = strings.TrimSpace(identifier)
	identifier = strings.TrimPrefix(identifier, "facebook:")
	if identifier == "" {
		return nil, fmt.Errorf("empty identifier")
	}

	var user *messenger.User
	if isNumericID(identifier) {
		users, err := m.client.FetchUserInfo(ctx, identifier)
		if err != nil {
			return nil, fmt.Errorf("failed to get user info: %w", err)
		}
		user = users[identifier]
	} else {
		username := strings.TrimPrefix(identifier, "facebook-username:")
		results, err := m.client.Search(ctx, messenger.SearchUsers, username, searchResultLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to search users: %w", err)
		}
		user = findUsername(results, username)
	}
	if user == nil {
		return nil, nil
	}
	return m.userResponse(user, createChat), nil
}

// GetContactList returns the user's friends and pages.
func (m *MessengerClient) GetContactList(ctx context.Context) ([]*bridgev2.ResolveIdentifierResponse, error) {
	if !m.IsLoggedIn() {
		return nil, bridgev2.ErrNotLoggedIn
	}
	users, err := m.client.FetchAllUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contacts: %w", err)
	}
	resp := make([]*bridgev2.ResolveIdentifierResponse, 0, len(users))
	for _, user := range users {
		if user.ID == m.userID {
			continue
		}
		resp = append(resp, m.userResponse(user, false))
	}
	return resp, nil
}

// SearchUsers searches Messenger for people by name.
func (m *MessengerClient) SearchUsers(ctx context.Context, query string) ([]*bridgev2.ResolveIdentifierResponse, error) {
	if !m.IsLoggedIn() {
		return nil, bridgev2.ErrNotLoggedIn
	}
	results, err := m.client.Search(ctx, messenger.SearchUsers, query, searchResultLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	resp := make([]*bridgev2.ResolveIdentifierResponse, 0, len(results))
	for _, thread := range results {
		if user := threadUser(thread); user != nil {
			resp = append(resp, m.userResponse(user, false))
		}
	}
	return resp, nil
}

func (m *MessengerClient) userResponse(user *messenger.User, createChat bool) *bridgev2.ResolveIdentifierResponse {
	resp := &bridgev2.ResolveIdentifierResponse{
		UserID:   MakeUserID(user.ID),
		UserInfo: m.userToUserInfo(user),
	}
	thread := contactThread(user)
	resp.Chat = &bridgev2.CreateChatResponse{
		PortalKey: m.portalKey(thread.Ref()),
	}
	if createChat {
		m.cacheThreadIfMissing(thread)
		resp.Chat.PortalInfo = m.threadToChatInfo(thread)
	}
	return resp
}

// threadUser returns the person a one-to-one search result points at.
func threadUser(thread *messenger.Thread) *messenger.User {
	if thread.IsGroup() || len(thread.Participants) == 0 {
		return nil
	}
	p := thread.Participants[0]
	for _, candidate := range thread.Participants {
		if candidate.ID == thread.ID {
			p = candidate
		}
	}
	return &messenger.User{
		ID:         p.ID,
		Type:       p.Type,
		Name:       p.Name,
		FirstName:  p.ShortName,
		Username:   p.Username,
		PictureURL: p.PictureURL,
	}
}

func findUsername(results []*messenger.Thread, username string) *messenger.User {
	for _, thread := range results {
		user := threadUser(thread)
		if user != nil && strings.EqualFold(user.Username, username) {
			return user
		}
	}
	return nil
}

func isNumericID(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
