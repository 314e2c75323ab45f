// Copyright 2024-2026 Aiku AI

package messengertest

import (
	"strconv"
)

// Actor builds a messaging_actor node.
func Actor(id, typename, name string) map[string]any {
	return map[string]any{
		"messaging_actor": map[string]any{
			"__typename":    typename,
			"id":            id,
			"name":          name,
			"short_name":    name,
			"big_image_src": map[string]any{"uri": "https://cdn.example/" + id + ".jpg"},
		},
	}
}

// OneToOneThread builds a thread node with the viewer and one other actor.
// typename is "User" or "Page".
func OneToOneThread(viewerID, otherID, typename, name string) map[string]any {
	return map[string]any{
		"thread_key":           map[string]any{"other_user_id": otherID},
		"thread_type":          "ONE_TO_ONE",
		"name":                 nil,
		"updated_time_precise": "1700000000000",
		"all_participants": map[string]any{"nodes": []any{
			Actor(viewerID, "User", "Me"),
			Actor(otherID, typename, name),
		}},
	}
}

// GroupThread builds a group thread node.
func GroupThread(threadID, name string, members ...map[string]any) map[string]any {
	nodes := make([]any, len(members))
	for i, m := range members {
		nodes[i] = m
	}
	return map[string]any{
		"thread_key":           map[string]any{"thread_fbid": threadID},
		"thread_type":          "GROUP",
		"name":                 name,
		"image":                map[string]any{"uri": "https://cdn.example/group-" + threadID + ".jpg"},
		"updated_time_precise": "1700000000000",
		"all_participants":     map[string]any{"nodes": nodes},
	}
}

// TextMessage builds a GraphQL message node.
func TextMessage(id, senderID, text string, timestampMillis int64) map[string]any {
	return map[string]any{
		"message_id":        id,
		"message_sender":    map[string]any{"id": senderID},
		"timestamp_precise": strconv.FormatInt(timestampMillis, 10),
		"message":           map[string]any{"text": text, "ranges": []any{}},
		"tags_list":         []any{},
	}
}

// ThreadKey builds a delta stream thread key.
func ThreadKey(threadID string, group bool) map[string]any {
	if group {
		return map[string]any{"threadFbId": threadID}
	}
	return map[string]any{"otherUserFbId": threadID}
}

// NewMessageDelta builds a delta stream frame carrying one NewMessage delta.
// extra is merged into the delta object.
func NewMessageDelta(messageID, authorID, threadID string, group bool, text string, extra map[string]any) map[string]any {
	delta := map[string]any{
		"class": "NewMessage",
		"messageMetadata": map[string]any{
			"messageId": messageID,
			"actorFbId": authorID,
			"threadKey": ThreadKey(threadID, group),
			"timestamp": "1700000000000",
			"tags":      []any{},
		},
		"body":        text,
		"attachments": []any{},
	}
	for k, v := range extra {
		delta[k] = v
	}
	return Frame(map[string]any{"type": "delta", "delta": delta})
}

// Frame wraps items into a delta stream frame.
func Frame(items ...map[string]any) map[string]any {
	ms := make([]any, len(items))
	for i, item := range items {
		ms[i] = item
	}
	return map[string]any{"ms": ms}
}
