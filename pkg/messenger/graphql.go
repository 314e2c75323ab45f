// Copyright 2024-2026 Aiku AI

package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	docThreadList = "1349387578499440"
	docThread     = "1508526735892416"
)

type graphqlQuery struct {
	DocID       string `json:"doc_id,omitempty"`
	Query       string `json:"q,omitempty"`
	QueryParams any    `json:"query_params"`
}

// graphql runs a single query through the batch endpoint and returns its
// data object.
func (c *Client) graphql(ctx context.Context, query graphqlQuery) (gjson.Result, error) {
	queries, err := json.Marshal(map[string]graphqlQuery{"q0": query})
	if err != nil {
		return gjson.Result{}, err
	}
	form := url.Values{}
	form.Set("queries", string(queries))
	body, err := c.postFormRaw(ctx, c.endpoint(c.baseURL, "/api/graphqlbatch/"), form)
	if err != nil {
		return gjson.Result{}, err
	}
	return parseBatchResponse(body, "q0")
}

// parseBatchResponse picks one query result out of a line-delimited batch
// response.
func parseBatchResponse(body []byte, key string) (gjson.Result, error) {
	body = bytes.TrimPrefix(bytes.TrimSpace(body), []byte(jsonPrefix))
	// Batch results are either newline separated or simply concatenated.
	body = bytes.ReplaceAll(body, []byte("}\r\n{"), []byte("}\n{"))
	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		res, err := parseResponse(line)
		if err != nil {
			return gjson.Result{}, err
		}
		if res.Get("successful_results").Exists() || res.Get("error_results").Exists() {
			continue
		}
		item := res.Get(key)
		if !item.Exists() {
			continue
		}
		if msg := item.Get("errors.0.message"); msg.Exists() {
			return gjson.Result{}, &APIError{Code: item.Get("errors.0.code").Int(), Summary: "GraphQL error", Description: msg.String()}
		}
		if code := item.Get("error").Int(); code != 0 {
			return gjson.Result{}, &APIError{Code: code, Summary: item.Get("errorSummary").String(), Description: item.Get("errorDescription").String()}
		}
		if data := item.Get("data"); data.Exists() {
			return data, nil
		}
		return item.Get("response"), nil
	}
	return gjson.Result{}, fmt.Errorf("no result for %s in batch response", key)
}

func beforeParam(before time.Time) any {
	if before.IsZero() {
		return nil
	}
	return before.UnixMilli()
}

// ThreadList lists the most recently active threads of every given folder,
// newest first. A zero before starts at the newest thread.
func (c *Client) ThreadList(ctx context.Context, limit int, before time.Time, locations ...ThreadLocation) ([]*Thread, error) {
	if len(locations) == 0 {
		locations = []ThreadLocation{LocationInbox}
	}
	var threads []*Thread
	for _, loc := range locations {
		data, err := c.graphql(ctx, graphqlQuery{
			DocID: docThreadList,
			QueryParams: map[string]any{
				"limit":                   limit,
				"tags":                    []string{string(loc)},
				"before":                  beforeParam(before),
				"includeDeliveryReceipts": true,
				"includeSeqID":            false,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list %s threads: %w", loc, err)
		}
		for _, node := range data.Get("viewer.message_threads.nodes").Array() {
			thread := parseThread(node)
			if thread.Folder == "" {
				thread.Folder = loc
			}
			threads = append(threads, thread)
		}
	}
	return threads, nil
}

// ThreadInfo fetches a single thread.
func (c *Client) ThreadInfo(ctx context.Context, threadID string) (*Thread, error) {
	data, err := c.graphql(ctx, graphqlQuery{
		DocID: docThread,
		QueryParams: map[string]any{
			"id":                 threadID,
			"message_limit":      0,
			"load_messages":      false,
			"load_read_receipts": false,
			"before":             nil,
		},
	})
	if err != nil {
		return nil, err
	}
	node := data.Get("message_thread")
	if !node.Exists() || node.Type == gjson.Null {
		return nil, fmt.Errorf("thread %s not found", threadID)
	}
	return parseThread(node), nil
}

// ThreadMessages fetches up to limit messages older than before, oldest
// first.
func (c *Client) ThreadMessages(ctx context.Context, threadID string, limit int, before time.Time) ([]*Message, error) {
	data, err := c.graphql(ctx, graphqlQuery{
		DocID: docThread,
		QueryParams: map[string]any{
			"id":                 threadID,
			"message_limit":      limit,
			"load_messages":      true,
			"load_read_receipts": false,
			"before":             beforeParam(before),
		},
	})
	if err != nil {
		return nil, err
	}
	node := data.Get("message_thread")
	ref := parseThreadKey(node)
	if ref.ID == "" {
		ref = ThreadRef{ID: threadID}
	}
	var messages []*Message
	for _, msgNode := range node.Get("messages.nodes").Array() {
		messages = append(messages, parseGraphQLMessage(msgNode, ref))
	}
	return messages, nil
}

// SearchKind selects what [Client.Search] looks for.
type SearchKind string

const (
	SearchUsers   SearchKind = "user"
	SearchPages   SearchKind = "page"
	SearchGroups  SearchKind = "group"
	SearchThreads SearchKind = "thread"
)

const searchEntitiesQuery = `Query SearchEntities(<search> = '', <limit> = 10) {
  entities_named(<search>) {
    search_results.of_type(%s).first(<limit>) as results {
      nodes { __typename, id, name, url, username, is_viewer_friend, profile_picture { uri } }
    }
  }
}`

const searchThreadsQuery = `Query SearchThreads(<search> = '', <limit> = 10) {
  viewer() {
    message_threads.with_thread_name(<search>).last(<limit>) as results {
      nodes {
        thread_key { thread_fbid, other_user_id }, name, thread_type,
        image { uri }, updated_time_precise,
        all_participants { nodes { messaging_actor { __typename, id, name, short_name, username, big_image_src { uri } } } }
      }
    }
  }
}`

// Search looks up users, pages, groups or threads by name. People and pages
// come back as one-to-one threads with the match as the only participant.
func (c *Client) Search(ctx context.Context, kind SearchKind, query string, limit int) ([]*Thread, error) {
	params := map[string]any{"search": query, "limit": limit}
	switch kind {
	case SearchUsers, SearchPages:
		data, err := c.graphql(ctx, graphqlQuery{Query: fmt.Sprintf(searchEntitiesQuery, kind), QueryParams: params})
		if err != nil {
			return nil, err
		}
		var out []*Thread
		for _, node := range data.Get("entities_named.results.nodes").Array() {
			user := parseSearchUser(node)
			out = append(out, &Thread{
				ID:           user.ID,
				Type:         user.Type,
				Name:         user.Name,
				PictureURL:   user.PictureURL,
				Participants: []Participant{{ID: user.ID, Type: user.Type, Name: user.Name, Username: user.Username, PictureURL: user.PictureURL}},
			})
		}
		return out, nil
	case SearchGroups, SearchThreads:
		data, err := c.graphql(ctx, graphqlQuery{Query: searchThreadsQuery, QueryParams: params})
		if err != nil {
			return nil, err
		}
		var out []*Thread
		for _, node := range data.Get("viewer.results.nodes").Array() {
			thread := parseThread(node)
			if kind == SearchGroups && !thread.IsGroup() {
				continue
			}
			out = append(out, thread)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown search kind %q", kind)
	}
}

func parseSearchUser(node gjson.Result) *User {
	typ := ChatTypeUser
	if node.Get("__typename").String() == "Page" {
		typ = ChatTypePage
	}
	return &User{
		ID:         node.Get("id").String(),
		Type:       typ,
		Name:       node.Get("name").String(),
		Username:   node.Get("username").String(),
		PictureURL: node.Get("profile_picture.uri").String(),
		URL:        node.Get("url").String(),
		IsFriend:   node.Get("is_viewer_friend").Bool(),
	}
}

func parseThreadKey(node gjson.Result) ThreadRef {
	if id := node.Get("thread_key.thread_fbid").String(); id != "" {
		return ThreadRef{ID: id, Group: true}
	}
	return ThreadRef{ID: node.Get("thread_key.other_user_id").String()}
}

func parseThread(node gjson.Result) *Thread {
	ref := parseThreadKey(node)
	thread := &Thread{
		ID:           ref.ID,
		Name:         node.Get("name").String(),
		PictureURL:   node.Get("image.uri").String(),
		Folder:       ThreadLocation(strings.ToUpper(node.Get("folder").String())),
		LastActivity: parseMillis(node.Get("updated_time_precise").String()),
		Emoji:        node.Get("customization_info.emoji").String(),
	}
	if ref.Group || strings.EqualFold(node.Get("thread_type").String(), "GROUP") {
		thread.Type = ChatTypeGroup
	}
	for _, actor := range node.Get("all_participants.nodes.#.messaging_actor").Array() {
		p := Participant{
			ID:         actor.Get("id").String(),
			Type:       ChatTypeUser,
			Name:       actor.Get("name").String(),
			ShortName:  actor.Get("short_name").String(),
			Username:   actor.Get("username").String(),
			PictureURL: actor.Get("big_image_src.uri").String(),
		}
		if actor.Get("__typename").String() == "Page" {
			p.Type = ChatTypePage
		}
		thread.Participants = append(thread.Participants, p)
	}
	for _, custom := range node.Get("customization_info.participant_customizations").Array() {
		nick := custom.Get("nickname").String()
		if nick == "" {
			continue
		}
		if thread.Nicknames == nil {
			thread.Nicknames = make(map[string]string)
		}
		thread.Nicknames[custom.Get("participant_id").String()] = nick
	}
	if thread.Type != ChatTypeGroup {
		thread.Type = ChatTypeUser
		for _, p := range thread.Participants {
			if p.ID != thread.ID {
				continue
			}
			thread.Type = p.Type
			if thread.Name == "" {
				thread.Name = p.Name
			}
			if thread.PictureURL == "" {
				thread.PictureURL = p.PictureURL
			}
		}
	}
	return thread
}

func parseEmojiSizeTag(tags []gjson.Result) EmojiSize {
	for _, tag := range tags {
		if size, ok := strings.CutPrefix(tag.String(), "hot_emoji_size:"); ok {
			return EmojiSize(size)
		}
	}
	return EmojiSizeNone
}

func parseGraphQLMessage(node gjson.Result, thread ThreadRef) *Message {
	msg := &Message{
		ID:        node.Get("message_id").String(),
		AuthorID:  node.Get("message_sender.id").String(),
		Thread:    thread,
		Timestamp: parseMillis(node.Get("timestamp_precise").String()),
		Text:      node.Get("message.text").String(),
		EmojiSize: parseEmojiSizeTag(node.Get("tags_list").Array()),
		ReplyToID: node.Get("replied_to_message.message.message_id").String(),
	}
	for _, r := range node.Get("message.ranges").Array() {
		msg.Mentions = append(msg.Mentions, Mention{
			UserID: r.Get("entity.id").String(),
			Offset: int(r.Get("offset").Int()),
			Length: int(r.Get("length").Int()),
		})
	}
	if sticker := node.Get("sticker"); sticker.Exists() && sticker.Type != gjson.Null {
		msg.Attachments = append(msg.Attachments, parseSticker(sticker))
	}
	for _, blob := range node.Get("blob_attachments").Array() {
		msg.Attachments = append(msg.Attachments, parseBlob(blob))
	}
	if ext := node.Get("extensible_attachment"); ext.Exists() && ext.Type != gjson.Null {
		msg.Attachments = append(msg.Attachments, parseExtensible(ext))
	}
	return msg
}
