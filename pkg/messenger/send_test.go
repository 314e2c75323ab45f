// Copyright 2024-2026 Aiku AI

package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger/messengertest"
)

func TestOfflineThreadingID(t *testing.T) {
	t.Parallel()
	now := time.UnixMilli(1700000000000)
	id, err := strconv.ParseUint(offlineThreadingID(now), 10, 64)
	if err != nil {
		t.Fatalf("not numeric: %v", err)
	}
	if got := int64(id >> 22); got != now.UnixMilli() {
		t.Errorf("timestamp bits: got %d, want %d", got, now.UnixMilli())
	}
}

func TestSend_DirectText(t *testing.T) {
	t.Parallel()
	c, srv := newTestClient(t)
	id, err := c.Send(context.Background(), ThreadRef{ID: "200"}, &OutgoingMessage{
		Text:      "hello @Alice",
		Mentions:  []Mention{{UserID: "200", Offset: 6, Length: 6}},
		ReplyToID: "mid.$orig",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "mid.$sent1" {
		t.Errorf("message ID: got %q", id)
	}
	if !c.PopSent(id) {
		t.Error("sent ID should be recorded for echo prevention")
	}
	form := srv.LastForm("/messaging/send/")
	checks := map[string]string{
		"body":                   "hello @Alice",
		"other_user_fbid":        "200",
		"specific_to_list[0]":    "fbid:200",
		"profile_xmd[0][id]":     "200",
		"profile_xmd[0][offset]": "6",
		"profile_xmd[0][length]": "6",
		"profile_xmd[0][type]":   "p",
		"replied_to_message_id":  "mid.$orig",
		"has_attachment":         "false",
		"thread_fbid":            "",
	}
	for key, want := range checks {
		if got := form.Get(key); got != want {
			t.Errorf("%s: got %q, want %q", key, got, want)
		}
	}
}

func TestSend_GroupStickerAndAttachments(t *testing.T) {
	t.Parallel()
	c, srv := newTestClient(t)
	_, err := c.Send(context.Background(), ThreadRef{ID: "800", Group: true}, &OutgoingMessage{
		StickerID: ThumbsUpSticker(EmojiSizeMedium),
		EmojiSize: EmojiSizeMedium,
		Attachments: []UploadedFile{
			{ID: "1", Kind: UploadKindImage},
			{ID: "2", Kind: UploadKindImage},
			{ID: "3", Kind: UploadKindAudio},
		},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	form := srv.LastForm("/messaging/send/")
	if form.Get("thread_fbid") != "800" || form.Get("other_user_fbid") != "" {
		t.Errorf("group addressing wrong: %v", form)
	}
	if form.Get("sticker_id") != "369239343222814" {
		t.Errorf("sticker_id: got %q", form.Get("sticker_id"))
	}
	if form.Get("tags[0]") != "" {
		t.Error("stickers must not carry an emoji size tag")
	}
	if form.Get("image_ids[0]") != "1" || form.Get("image_ids[1]") != "2" || form.Get("audio_ids[0]") != "3" {
		t.Errorf("attachment IDs wrong: %v", form)
	}
	if form.Get("has_attachment") != "true" {
		t.Error("has_attachment should be true")
	}
}

func TestSend_EmojiSizeAndLocation(t *testing.T) {
	t.Parallel()
	c, srv := newTestClient(t)
	_, err := c.Send(context.Background(), ThreadRef{ID: "200"}, &OutgoingMessage{
		Text:      "😀",
		EmojiSize: EmojiSizeSmall,
		Location:  &Location{Latitude: 52.52, Longitude: -13.4},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	form := srv.LastForm("/messaging/send/")
	if form.Get("tags[0]") != "hot_emoji_size:small" {
		t.Errorf("tags[0]: got %q", form.Get("tags[0]"))
	}
	if form.Get("location_attachment[coordinates][latitude]") != "52.52" ||
		form.Get("location_attachment[coordinates][longitude]") != "-13.4" {
		t.Errorf("location wrong: %v", form)
	}
}

func TestSend_NotLoggedIn(t *testing.T) {
	t.Parallel()
	c, srv := newTestClient(t)
	srv.Fail["/messaging/send/"] = 1357001
	_, err := c.Send(context.Background(), ThreadRef{ID: "200"}, &OutgoingMessage{Text: "x"})
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("got %v, want ErrNotLoggedIn", err)
	}
}

func TestUpload(t *testing.T) {
	t.Parallel()
	c, srv := newTestClient(t)
	files, err := c.Upload(context.Background(), []UploadFile{
		{Name: "cat.gif", MimeType: "image/gif", Data: []byte("GIF89a")},
		{Name: "voice.ogg", MimeType: "audio/ogg", Data: []byte("OggS")},
	}, true)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	kinds := map[UploadKind]bool{}
	for _, f := range files {
		kinds[f.Kind] = true
	}
	if !kinds[UploadKindGIF] || !kinds[UploadKindAudio] {
		t.Errorf("kinds: got %v", kinds)
	}
	call := srv.CallsTo("/ajax/mercury/upload.php")[0]
	if call.Form.Get("voice_clip") != "true" {
		t.Errorf("voice_clip: got %q", call.Form.Get("voice_clip"))
	}
	if call.Files["upload_0"] != "cat.gif" {
		t.Errorf("upload_0 filename: got %q", call.Files["upload_0"])
	}
}

func TestUpload_DocumentKind(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t)
	files, err := c.Upload(context.Background(), []UploadFile{
		{Name: "notes.pdf", MimeType: "application/pdf", Data: []byte("%PDF-1.4")},
	}, false)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(files) != 1 || files[0].Kind != UploadKindFile || files[0].ID != "upload-1" {
		t.Errorf("got %+v, want one file upload", files)
	}
}

func TestReact(t *testing.T) {
	t.Parallel()
	c, srv := newTestClient(t)
	tests := []struct {
		reaction   string
		wantAction string
	}{
		{"😍", "ADD_REACTION"},
		{"", "REMOVE_REACTION"},
	}
	for _, tt := range tests {
		if err := c.React(context.Background(), "mid.$abc", tt.reaction); err != nil {
			t.Fatalf("React(%q): %v", tt.reaction, err)
		}
		form := srv.LastForm("/webgraphql/mutation")
		if form.Get("doc_id") != docReaction {
			t.Errorf("doc_id: got %q", form.Get("doc_id"))
		}
		var vars struct {
			Data struct {
				Action    string `json:"action"`
				MessageID string `json:"message_id"`
				Reaction  string `json:"reaction"`
			} `json:"data"`
		}
		if err := json.Unmarshal([]byte(form.Get("variables")), &vars); err != nil {
			t.Fatalf("decode variables: %v", err)
		}
		if vars.Data.Action != tt.wantAction || vars.Data.Reaction != tt.reaction || vars.Data.MessageID != "mid.$abc" {
			t.Errorf("variables: got %+v", vars.Data)
		}
	}
}

func TestTypingAndReceipts(t *testing.T) {
	t.Parallel()
	c, srv := newTestClient(t)
	ctx := context.Background()
	if err := c.SetTyping(ctx, ThreadRef{ID: "800", Group: true}, true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	form := srv.LastForm("/ajax/messaging/typ.php")
	if form.Get("typ") != "1" || form.Get("thread") != "800" || form.Get("to") != "" {
		t.Errorf("typing form: %v", form)
	}
	if err := c.SetTyping(ctx, ThreadRef{ID: "200"}, false); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	form = srv.LastForm("/ajax/messaging/typ.php")
	if form.Get("typ") != "0" || form.Get("to") != "200" {
		t.Errorf("typing off form: %v", form)
	}

	if err := c.MarkRead(ctx, "200"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if srv.LastForm("/ajax/mercury/change_read_status.php").Get("ids[200]") != "true" {
		t.Error("MarkRead should flag the thread ID")
	}
	if err := c.MarkDelivered(ctx, "200", "mid.$x"); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	form = srv.LastForm("/ajax/mercury/delivery_receipts.php")
	if form.Get("message_ids[0]") != "mid.$x" || form.Get("thread_ids[200][0]") != "mid.$x" {
		t.Errorf("delivery form: %v", form)
	}
}

func TestFetchImageURLAndDownload(t *testing.T) {
	t.Parallel()
	c, srv := newTestClient(t)
	srv.ImageURLs["555"] = srv.URL + "/files/full.png"
	srv.Files["full.png"] = messengertest.File{Data: []byte("\x89PNG"), MimeType: "image/png"}

	u, err := c.FetchImageURL(context.Background(), "555")
	if err != nil {
		t.Fatalf("FetchImageURL: %v", err)
	}
	data, mimeType, err := c.Download(context.Background(), u)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "\x89PNG" || mimeType != "image/png" {
		t.Errorf("download: got %q %q", data, mimeType)
	}

	if _, err = c.FetchImageURL(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown photo")
	}
	if _, _, err = c.Download(context.Background(), srv.URL+"/files/missing"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLogout(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t)
	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if c.Session().Valid() {
		t.Error("session should be invalid after logout")
	}
}
