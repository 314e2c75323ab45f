// Copyright 2024-2026 Aiku AI

package messenger

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/tidwall/gjson"
)

func parseProfile(id string, node gjson.Result) *User {
	if id == "" {
		id = node.Get("id").String()
	}
	typ, ok := ParseChatType(node.Get("type").String())
	if !ok || typ == ChatTypeGroup {
		typ = ChatTypeUser
	}
	return &User{
		ID:         id,
		Type:       typ,
		Name:       node.Get("name").String(),
		FirstName:  node.Get("firstName").String(),
		Username:   node.Get("vanity").String(),
		PictureURL: node.Get("thumbSrc").String(),
		URL:        node.Get("uri").String(),
		IsFriend:   node.Get("is_friend").Bool(),
	}
}

// FetchAllUsers lists the friends and pages the user has chatted with,
// sorted by ID.
func (c *Client) FetchAllUsers(ctx context.Context) ([]*User, error) {
	form := url.Values{}
	form.Set("viewer", c.userID)
	res, err := c.postForm(ctx, c.endpoint(c.baseURL, "/chat/user_info_all"), form)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contacts: %w", err)
	}
	var users []*User
	res.Get("payload").ForEach(func(key, value gjson.Result) bool {
		// The placeholder entry "0" does not refer to a real user.
		if key.String() == "0" || value.Get("id").String() == "0" {
			return true
		}
		users = append(users, parseProfile(key.String(), value))
		return true
	})
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// FetchUserInfo fetches profiles by ID. Unknown IDs are left out.
func (c *Client) FetchUserInfo(ctx context.Context, ids ...string) (map[string]*User, error) {
	form := url.Values{}
	for i, id := range ids {
		form.Set("ids["+strconv.Itoa(i)+"]", id)
	}
	res, err := c.postForm(ctx, c.endpoint(c.baseURL, "/chat/user_info/"), form)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	users := make(map[string]*User, len(ids))
	res.Get("payload.profiles").ForEach(func(key, value gjson.Result) bool {
		users[key.String()] = parseProfile(key.String(), value)
		return true
	})
	return users, nil
}

// FetchOwnProfile fetches the logged-in user's profile. It doubles as a
// session check.
func (c *Client) FetchOwnProfile(ctx context.Context) (*User, error) {
	users, err := c.FetchUserInfo(ctx, c.userID)
	if err != nil {
		return nil, err
	}
	user, ok := users[c.userID]
	if !ok {
		return nil, ErrNotLoggedIn
	}
	return user, nil
}
