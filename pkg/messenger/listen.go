// Copyright 2024-2026 Aiku AI

package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// Event is something that happened on Messenger, decoded from the delta
// stream.
type Event interface {
	isEvent()
}

// MessageEvent is a new message.
type MessageEvent struct {
	*Message
}

// ReactionEvent is a reaction being added or, with an empty Reaction,
// removed.
type ReactionEvent struct {
	Thread    ThreadRef
	MessageID string
	ActorID   string
	Reaction  string
}

// TypingEvent reports a user starting or stopping to type.
type TypingEvent struct {
	Thread ThreadRef
	UserID string
	Typing bool
}

// ReadReceiptEvent reports that a user read a thread up to a point in time.
type ReadReceiptEvent struct {
	Thread    ThreadRef
	ReaderID  string
	Timestamp time.Time
}

// UnsendEvent reports that a message was removed for everyone.
type UnsendEvent struct {
	Thread    ThreadRef
	MessageID string
	ActorID   string
	Timestamp time.Time
}

func (*MessageEvent) isEvent()     {}
func (*ReactionEvent) isEvent()    {}
func (*TypingEvent) isEvent()      {}
func (*ReadReceiptEvent) isEvent() {}
func (*UnsendEvent) isEvent()      {}

const (
	pingInterval = 30 * time.Second
	readTimeout  = 90 * time.Second
)

// Listen connects to the delta stream and calls handler for every event
// until ctx is done or the connection fails. The handler is called from a
// single goroutine. A cancelled ctx returns nil.
func (c *Client) Listen(ctx context.Context, handler func(Event)) error {
	header := http.Header{}
	header.Set("User-Agent", c.userAgent)
	header.Set("Origin", c.baseURL.String())
	var cookies []string
	for _, cookie := range c.jar.Cookies(c.baseURL) {
		cookies = append(cookies, cookie.Name+"="+cookie.Value)
	}
	header.Set("Cookie", strings.Join(cookies, "; "))

	query := url.Values{}
	query.Set("cid", uuid.NewString())
	query.Set("uid", c.userID)
	target := c.edgeURL + "?" + query.Encode()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 30 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: delta stream rejected session", ErrNotLoggedIn)
		}
		return fmt.Errorf("failed to connect to delta stream: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	c.log.Debug().Str("url", c.edgeURL).Msg("Connected to delta stream")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.ClosePolicyViolation {
				return fmt.Errorf("%w: %s", ErrNotLoggedIn, closeErr.Text)
			}
			return fmt.Errorf("delta stream read failed: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		for _, evt := range ParseFrame(data) {
			handler(evt)
		}
	}
}

// ParseFrame decodes the events in one delta stream frame. Unknown items
// are skipped.
func ParseFrame(data []byte) []Event {
	if !gjson.ValidBytes(data) {
		return nil
	}
	var events []Event
	for _, item := range gjson.GetBytes(data, "ms").Array() {
		switch item.Get("type").String() {
		case "delta":
			events = append(events, parseDelta(item.Get("delta"))...)
		case "typ":
			from := item.Get("from").String()
			events = append(events, &TypingEvent{
				Thread: ThreadRef{ID: from},
				UserID: from,
				Typing: item.Get("st").Int() == 1,
			})
		case "ttyp":
			events = append(events, &TypingEvent{
				Thread: ThreadRef{ID: item.Get("thread_fbid").String(), Group: true},
				UserID: item.Get("from").String(),
				Typing: item.Get("st").Int() == 1,
			})
		}
	}
	return events
}

func parseDeltaThreadKey(key gjson.Result) ThreadRef {
	if id := key.Get("threadFbId").String(); id != "" {
		return ThreadRef{ID: id, Group: true}
	}
	return ThreadRef{ID: key.Get("otherUserFbId").String()}
}

func parseDelta(delta gjson.Result) []Event {
	switch delta.Get("class").String() {
	case "NewMessage":
		return []Event{&MessageEvent{Message: parseDeltaMessage(delta)}}
	case "ReadReceipt":
		return []Event{&ReadReceiptEvent{
			Thread:    parseDeltaThreadKey(delta.Get("threadKey")),
			ReaderID:  delta.Get("actorFbId").String(),
			Timestamp: parseMillis(delta.Get("actionTimestampMs").String()),
		}}
	case "MessageReaction":
		return []Event{parseReaction(delta)}
	case "MessageUnsend":
		return []Event{parseUnsend(delta)}
	case "ClientPayload":
		return parseClientPayload(delta.Get("payload"))
	}
	return nil
}

// parseClientPayload decodes the JSON document that is sent as an array of
// byte values inside ClientPayload deltas.
func parseClientPayload(payload gjson.Result) []Event {
	raw := payload.Array()
	buf := make([]byte, len(raw))
	for i, b := range raw {
		buf[i] = byte(b.Int())
	}
	var wrapper struct {
		Deltas []json.RawMessage `json:"deltas"`
	}
	if err := json.Unmarshal(buf, &wrapper); err != nil {
		return nil
	}
	var events []Event
	for _, rawDelta := range wrapper.Deltas {
		d := gjson.ParseBytes(rawDelta)
		switch {
		case d.Get("deltaMessageReaction").Exists():
			events = append(events, parseReaction(d.Get("deltaMessageReaction")))
		case d.Get("deltaRecallMessageData").Exists():
			events = append(events, parseUnsend(d.Get("deltaRecallMessageData")))
		case d.Get("deltaMessageReply").Exists():
			reply := d.Get("deltaMessageReply")
			msg := parseDeltaMessage(reply.Get("message"))
			msg.ReplyToID = reply.Get("repliedToMessage.messageMetadata.messageId").String()
			events = append(events, &MessageEvent{Message: msg})
		}
	}
	return events
}

func parseReaction(d gjson.Result) *ReactionEvent {
	evt := &ReactionEvent{
		Thread:    parseDeltaThreadKey(d.Get("threadKey")),
		MessageID: d.Get("messageId").String(),
		ActorID:   d.Get("userId").String(),
	}
	// action 0 adds the reaction, 1 removes it.
	if d.Get("action").Int() == 0 {
		evt.Reaction = d.Get("reaction").String()
	}
	return evt
}

func parseUnsend(d gjson.Result) *UnsendEvent {
	return &UnsendEvent{
		Thread:    parseDeltaThreadKey(d.Get("threadKey")),
		MessageID: firstString(d, "messageID", "messageId"),
		ActorID:   firstString(d, "senderID", "deleterID"),
		Timestamp: parseMillis(firstString(d, "deletionTimestamp", "timestamp")),
	}
}

type prngMention struct {
	ID     string `json:"i"`
	Offset int    `json:"o"`
	Length int    `json:"l"`
}

func parseDeltaMessage(delta gjson.Result) *Message {
	meta := delta.Get("messageMetadata")
	msg := &Message{
		ID:        meta.Get("messageId").String(),
		AuthorID:  meta.Get("actorFbId").String(),
		Thread:    parseDeltaThreadKey(meta.Get("threadKey")),
		Timestamp: parseMillis(meta.Get("timestamp").String()),
		Text:      delta.Get("body").String(),
		EmojiSize: parseEmojiSizeTag(meta.Get("tags").Array()),
	}
	if prng := delta.Get("data.prng").String(); prng != "" {
		var mentions []prngMention
		if err := json.Unmarshal([]byte(prng), &mentions); err == nil {
			for _, m := range mentions {
				msg.Mentions = append(msg.Mentions, Mention{UserID: m.ID, Offset: m.Offset, Length: m.Length})
			}
		}
	}
	for _, att := range delta.Get("attachments").Array() {
		msg.Attachments = append(msg.Attachments, parseAttachment(att))
	}
	return msg
}
