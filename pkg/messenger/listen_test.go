// Copyright 2024-2026 Aiku AI

package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger/messengertest"
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestParseFrame_NewMessage(t *testing.T) {
	t.Parallel()
	frame := messengertest.NewMessageDelta("mid.$1", "200", "800", true, "hi @Me", map[string]any{
		"data": map[string]any{"prng": `[{"o":3,"l":3,"i":"100001"}]`},
		"attachments": []any{map[string]any{
			"mimeType": "image/jpeg",
			"filename": "image-555",
			"mercury": map[string]any{"blob_attachment": map[string]any{
				"__typename":           "MessageImage",
				"legacy_attachment_id": "555",
				"preview":              map[string]any{"uri": "https://cdn.example/p.jpg"},
				"attribution_app":      map[string]any{"name": "Giphy"},
			}},
		}},
	})
	events := ParseFrame(mustJSON(t, frame))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	evt, ok := events[0].(*MessageEvent)
	if !ok {
		t.Fatalf("got %T, want *MessageEvent", events[0])
	}
	if evt.ID != "mid.$1" || evt.AuthorID != "200" || evt.Thread.ID != "800" || !evt.Thread.Group {
		t.Errorf("metadata: got %+v", evt.Message)
	}
	if len(evt.Mentions) != 1 || evt.Mentions[0] != (Mention{UserID: "100001", Offset: 3, Length: 3}) {
		t.Errorf("mentions: got %+v", evt.Mentions)
	}
	if len(evt.Attachments) != 1 {
		t.Fatalf("attachments: got %d", len(evt.Attachments))
	}
	att := evt.Attachments[0]
	if att.Kind != AttachmentImage || att.MimeType != "image/jpeg" || att.AttributionApp != "Giphy" || att.ID != "555" {
		t.Errorf("attachment: got %+v", att)
	}
}

func TestParseFrame_Various(t *testing.T) {
	t.Parallel()
	frame := messengertest.Frame(
		map[string]any{"type": "typ", "from": "200", "st": 1},
		map[string]any{"type": "ttyp", "from": "201", "st": 0, "thread_fbid": "800"},
		map[string]any{"type": "delta", "delta": map[string]any{
			"class":             "ReadReceipt",
			"actorFbId":         "200",
			"actionTimestampMs": "1700000005000",
			"threadKey":         messengertest.ThreadKey("200", false),
		}},
		map[string]any{"type": "delta", "delta": map[string]any{
			"class":     "MessageReaction",
			"threadKey": messengertest.ThreadKey("800", true),
			"messageId": "mid.$1",
			"userId":    "201",
			"reaction":  "😢",
			"action":    0,
		}},
		map[string]any{"type": "delta", "delta": map[string]any{"class": "Unknown"}},
		map[string]any{"type": "inbox"},
	)
	events := ParseFrame(mustJSON(t, frame))
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	typing := events[0].(*TypingEvent)
	if !typing.Typing || typing.Thread.ID != "200" || typing.Thread.Group {
		t.Errorf("typ: got %+v", typing)
	}
	groupTyping := events[1].(*TypingEvent)
	if groupTyping.Typing || groupTyping.Thread.ID != "800" || !groupTyping.Thread.Group || groupTyping.UserID != "201" {
		t.Errorf("ttyp: got %+v", groupTyping)
	}
	receipt := events[2].(*ReadReceiptEvent)
	if receipt.ReaderID != "200" || !receipt.Timestamp.Equal(time.UnixMilli(1700000005000)) {
		t.Errorf("receipt: got %+v", receipt)
	}
	reaction := events[3].(*ReactionEvent)
	if reaction.Reaction != "😢" || reaction.ActorID != "201" || reaction.MessageID != "mid.$1" {
		t.Errorf("reaction: got %+v", reaction)
	}
}

func clientPayload(t *testing.T, deltas ...map[string]any) []any {
	t.Helper()
	raw := mustJSON(t, map[string]any{"deltas": deltas})
	out := make([]any, len(raw))
	for i, b := range raw {
		out[i] = int(b)
	}
	return out
}

func TestParseFrame_ClientPayload(t *testing.T) {
	t.Parallel()
	payload := clientPayload(t,
		map[string]any{"deltaMessageReaction": map[string]any{
			"threadKey": messengertest.ThreadKey("200", false),
			"messageId": "mid.$1",
			"userId":    "200",
			"reaction":  "😍",
			"action":    1,
		}},
		map[string]any{"deltaRecallMessageData": map[string]any{
			"threadKey":         messengertest.ThreadKey("200", false),
			"messageID":         "mid.$2",
			"senderID":          "200",
			"deletionTimestamp": 1700000009000,
		}},
		map[string]any{"deltaMessageReply": map[string]any{
			"message": map[string]any{
				"messageMetadata": map[string]any{
					"messageId": "mid.$3",
					"actorFbId": "200",
					"threadKey": messengertest.ThreadKey("200", false),
					"timestamp": "1700000010000",
				},
				"body": "reply",
			},
			"repliedToMessage": map[string]any{"messageMetadata": map[string]any{"messageId": "mid.$1"}},
		}},
	)
	frame := messengertest.Frame(map[string]any{"type": "delta", "delta": map[string]any{"class": "ClientPayload", "payload": payload}})
	events := ParseFrame(mustJSON(t, frame))
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if r := events[0].(*ReactionEvent); r.Reaction != "" {
		t.Errorf("removal should have empty reaction, got %q", r.Reaction)
	}
	if u := events[1].(*UnsendEvent); u.MessageID != "mid.$2" || u.ActorID != "200" {
		t.Errorf("unsend: got %+v", u)
	}
	if m := events[2].(*MessageEvent); m.ReplyToID != "mid.$1" || m.Text != "reply" {
		t.Errorf("reply: got %+v", m.Message)
	}
}

func TestParseFrame_Garbage(t *testing.T) {
	t.Parallel()
	if events := ParseFrame([]byte("not json")); events != nil {
		t.Errorf("got %d events from garbage", len(events))
	}
}

func TestListen(t *testing.T) {
	t.Parallel()
	c, srv := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Event, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.Listen(ctx, func(evt Event) { received <- evt })
	}()
	if !srv.WaitConnected(5 * time.Second) {
		t.Fatal("listener did not connect")
	}
	if err := srv.Push(messengertest.NewMessageDelta("mid.$9", "200", "200", false, "live", nil)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	select {
	case evt := <-received:
		msg, ok := evt.(*MessageEvent)
		if !ok || msg.Text != "live" {
			t.Errorf("got %+v", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Listen after cancel: got %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestListen_Dropped(t *testing.T) {
	t.Parallel()
	c, srv := newTestClient(t)
	done := make(chan error, 1)
	go func() {
		done <- c.Listen(context.Background(), func(Event) {})
	}()
	if !srv.WaitConnected(5 * time.Second) {
		t.Fatal("listener did not connect")
	}
	srv.Drop()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error after connection drop")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after drop")
	}
}

func TestListen_Rejected(t *testing.T) {
	t.Parallel()
	srv := messengertest.NewServer(testUserID)
	t.Cleanup(srv.Close)
	c, err := NewClient(&Session{Cookies: map[string]string{"c_user": testUserID, "xs": "wrong"}}, testOptions(srv))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	err = c.Listen(context.Background(), func(Event) {})
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("got %v, want ErrNotLoggedIn", err)
	}
}
