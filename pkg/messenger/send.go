// Copyright 2024-2026 Aiku AI

package messenger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const docReaction = "1491398900900362"

// offlineThreadingID builds the client-side message ID Messenger expects:
// the current time in milliseconds shifted left by 22 bits with random low
// bits.
func offlineThreadingID(now time.Time) string {
	id := uuid.New()
	random := uint64(binary.BigEndian.Uint32(id[:4]) & (1<<22 - 1))
	return strconv.FormatUint(uint64(now.UnixMilli())<<22|random, 10)
}

// Send sends a message to a thread and returns the ID Messenger assigned.
func (c *Client) Send(ctx context.Context, thread ThreadRef, msg *OutgoingMessage) (string, error) {
	now := time.Now()
	otid := offlineThreadingID(now)
	form := url.Values{}
	form.Set("client", "mercury")
	form.Set("action_type", "ma-type:user-generated-message")
	form.Set("author", "fbid:"+c.userID)
	form.Set("timestamp", timestampMillis(now))
	form.Set("source", "source:chat:web")
	form.Set("offline_threading_id", otid)
	form.Set("message_id", otid)
	form.Set("ephemeral_ttl_mode", "0")
	if thread.Group {
		form.Set("thread_fbid", thread.ID)
	} else {
		form.Set("other_user_fbid", thread.ID)
		form.Set("specific_to_list[0]", "fbid:"+thread.ID)
		form.Set("specific_to_list[1]", "fbid:"+c.userID)
	}

	if msg.Text != "" {
		form.Set("body", msg.Text)
	}
	for i, mention := range msg.Mentions {
		prefix := "profile_xmd[" + strconv.Itoa(i) + "]"
		form.Set(prefix+"[id]", mention.UserID)
		form.Set(prefix+"[offset]", strconv.Itoa(mention.Offset))
		form.Set(prefix+"[length]", strconv.Itoa(mention.Length))
		form.Set(prefix+"[type]", "p")
	}
	if msg.EmojiSize != EmojiSizeNone && msg.StickerID == "" {
		form.Set("tags[0]", "hot_emoji_size:"+string(msg.EmojiSize))
	}
	if msg.StickerID != "" {
		form.Set("sticker_id", msg.StickerID)
	}
	if msg.ReplyToID != "" {
		form.Set("replied_to_message_id", msg.ReplyToID)
	}
	if msg.Location != nil {
		form.Set("location_attachment[coordinates][latitude]", strconv.FormatFloat(msg.Location.Latitude, 'f', -1, 64))
		form.Set("location_attachment[coordinates][longitude]", strconv.FormatFloat(msg.Location.Longitude, 'f', -1, 64))
		form.Set("location_attachment[is_current_location]", "false")
	}
	counts := make(map[UploadKind]int)
	for _, att := range msg.Attachments {
		key := fmt.Sprintf("%s_ids[%d]", att.Kind, counts[att.Kind])
		counts[att.Kind]++
		form.Set(key, att.ID)
	}
	form.Set("has_attachment", strconv.FormatBool(len(msg.Attachments) > 0))

	res, err := c.postForm(ctx, c.endpoint(c.baseURL, "/messaging/send/"), form)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	for _, action := range res.Get("payload.actions").Array() {
		if id := action.Get("message_id").String(); id != "" {
			c.markSent(id)
			return id, nil
		}
	}
	return "", fmt.Errorf("send response did not contain a message ID")
}

var uploadIDKeys = map[string]UploadKind{
	"image_id": UploadKindImage,
	"gif_id":   UploadKindGIF,
	"audio_id": UploadKindAudio,
	"file_id":  UploadKindFile,
	"video_id": UploadKindVideo,
}

// Upload uploads files to be attached to a later [Client.Send]. With
// voiceClip set, audio is sent as a voice clip.
func (c *Client) Upload(ctx context.Context, files []UploadFile, voiceClip bool) ([]UploadedFile, error) {
	params, err := c.baseForm(ctx)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err = mw.WriteField("voice_clip", strconv.FormatBool(voiceClip)); err != nil {
		return nil, err
	}
	for i, file := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="upload_%d"; filename="%s"`, i, escapeQuotes(file.Name)))
		mimeType := file.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		header.Set("Content-Type", mimeType)
		part, err := mw.CreatePart(header)
		if err != nil {
			return nil, err
		}
		if _, err = part.Write(file.Data); err != nil {
			return nil, err
		}
	}
	if err = mw.Close(); err != nil {
		return nil, err
	}

	target := c.endpoint(c.uploadURL, "/ajax/mercury/upload.php") + "?" + params.Encode()
	req, err := c.newRequest(ctx, http.MethodPost, target, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to upload files: %w", err)
	}
	res, err := parseResponse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to upload files: %w", err)
	}

	var uploaded []UploadedFile
	res.Get("payload.metadata").ForEach(func(_, meta gjson.Result) bool {
		for key, kind := range uploadIDKeys {
			if id := meta.Get(key).String(); id != "" {
				uploaded = append(uploaded, UploadedFile{ID: id, Kind: kind})
				break
			}
		}
		return true
	})
	if len(uploaded) != len(files) {
		return uploaded, fmt.Errorf("uploaded %d files but got %d IDs back", len(files), len(uploaded))
	}
	return uploaded, nil
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// React sets the user's reaction on a message. An empty reaction removes it.
func (c *Client) React(ctx context.Context, messageID, reaction string) error {
	action := "ADD_REACTION"
	if reaction == "" {
		action = "REMOVE_REACTION"
	}
	data := map[string]any{
		"action":             action,
		"client_mutation_id": "1",
		"actor_id":           c.userID,
		"message_id":         messageID,
	}
	if reaction != "" {
		data["reaction"] = reaction
	}
	variables, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("doc_id", docReaction)
	form.Set("variables", string(variables))
	res, err := c.postForm(ctx, c.endpoint(c.baseURL, "/webgraphql/mutation"), form)
	if err != nil {
		return fmt.Errorf("failed to react: %w", err)
	}
	if msg := res.Get("errors.0.message"); msg.Exists() {
		return &APIError{Code: res.Get("errors.0.code").Int(), Summary: "reaction failed", Description: msg.String()}
	}
	return nil
}

// SetTyping turns the typing indicator in a thread on or off.
func (c *Client) SetTyping(ctx context.Context, thread ThreadRef, typing bool) error {
	form := url.Values{}
	if typing {
		form.Set("typ", "1")
	} else {
		form.Set("typ", "0")
	}
	form.Set("thread", thread.ID)
	if !thread.Group {
		form.Set("to", thread.ID)
	}
	form.Set("source", "mercury-chat")
	_, err := c.postForm(ctx, c.endpoint(c.baseURL, "/ajax/messaging/typ.php"), form)
	return err
}

// MarkSeen marks the inbox as seen.
func (c *Client) MarkSeen(ctx context.Context) error {
	form := url.Values{}
	form.Set("seen_timestamp", timestampMillis(time.Now()))
	_, err := c.postForm(ctx, c.endpoint(c.baseURL, "/ajax/mercury/mark_seen.php"), form)
	return err
}

// MarkRead marks every message in a thread as read.
func (c *Client) MarkRead(ctx context.Context, threadID string) error {
	form := url.Values{}
	form.Set("ids["+threadID+"]", "true")
	form.Set("watermarkTimestamp", timestampMillis(time.Now()))
	form.Set("shouldSendReadReceipt", "true")
	_, err := c.postForm(ctx, c.endpoint(c.baseURL, "/ajax/mercury/change_read_status.php"), form)
	return err
}

// MarkDelivered sends a delivery receipt for a message.
func (c *Client) MarkDelivered(ctx context.Context, threadID, messageID string) error {
	form := url.Values{}
	form.Set("message_ids[0]", messageID)
	form.Set("thread_ids["+threadID+"][0]", messageID)
	_, err := c.postForm(ctx, c.endpoint(c.baseURL, "/ajax/mercury/delivery_receipts.php"), form)
	return err
}

// FetchImageURL resolves the full resolution URL of an image attachment.
func (c *Client) FetchImageURL(ctx context.Context, imageID string) (string, error) {
	query := url.Values{}
	query.Set("photo_id", imageID)
	res, err := c.get(ctx, c.endpoint(c.baseURL, "/mercury/attachments/photo/"), query)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image URL: %w", err)
	}
	u := res.Get("jsmods.require.0.3.0").String()
	if u == "" {
		return "", fmt.Errorf("no URL for image %s", imageID)
	}
	return u, nil
}

// Download fetches an attachment and returns its content and MIME type.
func (c *Client) Download(ctx context.Context, target string) ([]byte, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("unexpected status %d downloading attachment", resp.StatusCode)
	}
	var buf bytes.Buffer
	if _, err = buf.ReadFrom(io.LimitReader(resp.Body, maxResponseSize)); err != nil {
		return nil, "", fmt.Errorf("failed to read attachment: %w", err)
	}
	mimeType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mimeType == "" {
		mimeType = http.DetectContentType(buf.Bytes())
	}
	return buf.Bytes(), mimeType, nil
}

// Logout ends the web session. The client is unusable afterwards.
func (c *Client) Logout(ctx context.Context) error {
	form := url.Values{}
	form.Set("ref", "mb")
	_, err := c.postFormRaw(ctx, c.endpoint(c.baseURL, "/logout.php"), form)
	if err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	c.tokenLock.Lock()
	c.dtsg = ""
	c.tokenLock.Unlock()
	return nil
}
