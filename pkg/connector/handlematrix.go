// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mau.fi/util/emojirunes"
	"go.mau.fi/util/variationselector"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/event"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

// ErrMessageRemovalUnsupported is returned for Matrix redactions of
// bridged messages.
var ErrMessageRemovalUnsupported = errors.New("Messages cannot be removed in Facebook Messenger.")

const (
	thumbsUp              = "\U0001f44d"
	reactionCommandPrefix = "r`"
	// Reaction commands have no Messenger message of their own.
	reactionCommandIDPrefix = "__reaction__"
)

// HandleMatrixMessage handles a message sent from Matrix to Messenger.
func (m *MessengerClient) HandleMatrixMessage(ctx context.Context, msg *bridgev2.MatrixMessage) (*bridgev2.MatrixMessageResponse, error) {
	if !m.IsLoggedIn() {
		return nil, bridgev2.ErrNotLoggedIn
	}

	thread := m.threadRef(ctx, msg.Portal)
	defer m.markThreadRead(ctx, thread.ID)

	content := msg.Content
	out := &messenger.OutgoingMessage{}
	if msg.ReplyTo != nil {
		out.ReplyToID = ParseMessageID(msg.ReplyTo.ID)
	}

	isSticker := msg.Event != nil && msg.Event.Type == event.EventSticker
	switch {
	case isSticker || content.MsgType == event.CapMsgSticker:
		uploaded, err := m.uploadMatrixMedia(ctx, msg, false)
		if err != nil {
			return nil, fmt.Errorf("failed to upload sticker: %w", err)
		}
		out.Attachments = uploaded

	case content.MsgType == event.MsgText, content.MsgType == event.MsgNotice, content.MsgType == event.MsgEmote:
		if msg.ReplyTo != nil && strings.HasPrefix(content.Body, reactionCommandPrefix) {
			return m.handleReactionCommand(ctx, msg)
		}
		if text, stickerID, size, ok := emojiShortcut(content.Body); ok {
			out.Text = text
			out.StickerID = stickerID
			out.EmojiSize = size
		} else {
			out.Text, out.Mentions = m.matrixfmtParse(content)
			if m.connector.Config.SendLinkWithDescription {
				out.Text = appendLinkDescription(out.Text, content.BeeperLinkPreviews)
			}
		}

	case content.MsgType == event.MsgImage, content.MsgType == event.MsgVideo,
		content.MsgType == event.MsgAudio, content.MsgType == event.MsgFile:
		uploaded, err := m.uploadMatrixMedia(ctx, msg, content.MsgType == event.MsgAudio)
		if err != nil {
			return nil, fmt.Errorf("failed to upload media: %w", err)
		}
		out.Attachments = uploaded
		if content.FileName != "" && content.Body != "" && content.Body != content.FileName {
			out.Text, out.Mentions = m.matrixfmtParse(content)
		}

	case content.MsgType == event.MsgLocation:
		loc, err := parseGeoURI(content.GeoURI)
		if err != nil {
			return nil, err
		}
		out.Location = loc

	default:
		return nil, bridgev2.ErrUnsupportedMessageType
	}

	messageID, err := m.client.Send(ctx, thread, out)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	m.log.Debug().Str("thread_id", thread.ID).Str("message_id", messageID).Msg("Sent message")

	return &bridgev2.MatrixMessageResponse{
		DB: &database.Message{
			ID:       MakeMessageID(messageID),
			SenderID: MakeUserID(m.userID),
		},
	}, nil
}

// markThreadRead marks the inbox seen and the thread read after sending.
func (m *MessengerClient) markThreadRead(ctx context.Context, threadID string) {
	if err := m.client.MarkSeen(ctx); err != nil {
		m.log.Debug().Err(err).Msg("Failed to mark inbox as seen")
	}
	if err := m.client.MarkRead(ctx, threadID); err != nil {
		m.log.Debug().Err(err).Str("thread_id", threadID).Msg("Failed to mark thread as read")
	}
}

// handleReactionCommand reacts to the replied-to message with a keyword
// (r`LOVE) or an emoji (r`🎉) instead of sending text.
func (m *MessengerClient) handleReactionCommand(ctx context.Context, msg *bridgev2.MatrixMessage) (*bridgev2.MatrixMessageResponse, error) {
	target, ok := ReactionTarget(ParseMessageID(msg.ReplyTo.ID))
	if !ok {
		return nil, fmt.Errorf("message %s can't be reacted to", msg.ReplyTo.ID)
	}
	key := strings.TrimSpace(strings.TrimPrefix(msg.Content.Body, reactionCommandPrefix))
	if key == "" {
		return nil, fmt.Errorf("reaction is empty")
	}
	reaction := key
	if named, ok := messenger.ReactionNames[strings.ToUpper(key)]; ok {
		reaction = string(named)
	}
	if err := m.client.React(ctx, target, reaction); err != nil {
		return nil, err
	}
	return &bridgev2.MatrixMessageResponse{
		DB: &database.Message{
			ID:       MakeMessageID(reactionCommandIDPrefix + string(msg.Event.ID)),
			SenderID: MakeUserID(m.userID),
		},
	}, nil
}

// emojiShortcut recognises the sized emoji conventions: a lone thumbs-up,
// a thumbs-up followed by S, M or L, and any emoji followed by a size
// letter.
func emojiShortcut(body string) (text, stickerID string, size messenger.EmojiSize, ok bool) {
	body = strings.TrimSpace(body)
	if variationselector.Remove(body) == thumbsUp {
		return "", messenger.ThumbsUpSticker(messenger.EmojiSizeSmall), messenger.EmojiSizeSmall, true
	}
	if len(body) < 2 {
		return "", "", messenger.EmojiSizeNone, false
	}
	size, isSize := messenger.EmojiSizeFromLetter(body[len(body)-1:])
	emoji := body[:len(body)-1]
	if !isSize || emoji == "" {
		return "", "", messenger.EmojiSizeNone, false
	}
	if variationselector.Remove(emoji) == thumbsUp {
		return "", messenger.ThumbsUpSticker(size), size, true
	}
	if emojirunes.IsOnlyEmojis(emoji) {
		return emoji, "", size, true
	}
	return "", "", messenger.EmojiSizeNone, false
}

// appendLinkDescription adds the title, description and URL of a single
// link preview below the text.
func appendLinkDescription(text string, previews []*event.BeeperLinkPreview) string {
	if len(previews) != 1 || previews[0] == nil {
		return text
	}
	preview := previews[0]
	link := preview.MatchedURL
	if link == "" {
		link = preview.CanonicalURL
	}
	if link == "" {
		return text
	}
	lines := make([]string, 0, 4)
	if text != "" {
		lines = append(lines, text)
	}
	if preview.Title != "" {
		lines = append(lines, preview.Title)
	}
	if preview.Description != "" {
		lines = append(lines, preview.Description)
	}
	lines = append(lines, link)
	return strings.Join(lines, "\n")
}

// parseGeoURI parses a geo: URI such as "geo:52.52,13.40;u=35".
func parseGeoURI(uri string) (*messenger.Location, error) {
	coords, ok := strings.CutPrefix(uri, "geo:")
	if !ok {
		return nil, fmt.Errorf("invalid geo URI %q", uri)
	}
	coords, _, _ = strings.Cut(coords, ";")
	latStr, longStr, ok := strings.Cut(coords, ",")
	if !ok {
		return nil, fmt.Errorf("invalid geo URI %q", uri)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude in %q: %w", uri, err)
	}
	long, err := strconv.ParseFloat(strings.TrimSpace(longStr), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude in %q: %w", uri, err)
	}
	return &messenger.Location{Latitude: lat, Longitude: long}, nil
}

// HandleMatrixMessageRemove rejects deletions, Messenger has no API for them.
func (m *MessengerClient) HandleMatrixMessageRemove(_ context.Context, _ *bridgev2.MatrixMessageRemove) error {
	return ErrMessageRemovalUnsupported
}

// PreHandleMatrixReaction validates a reaction before sending. Messenger
// keeps one reaction per user per message.
func (m *MessengerClient) PreHandleMatrixReaction(_ context.Context, msg *bridgev2.MatrixReaction) (bridgev2.MatrixReactionPreResponse, error) {
	return bridgev2.MatrixReactionPreResponse{
		SenderID:     MakeUserID(m.userID),
		Emoji:        variationselector.Remove(msg.Content.RelatesTo.Key),
		MaxReactions: 1,
	}, nil
}

// HandleMatrixReaction sends a reaction to Messenger.
func (m *MessengerClient) HandleMatrixReaction(ctx context.Context, msg *bridgev2.MatrixReaction) (*database.Reaction, error) {
	if !m.IsLoggedIn() {
		return nil, bridgev2.ErrNotLoggedIn
	}

	target, ok := ReactionTarget(ParseMessageID(msg.TargetMessage.ID))
	if !ok {
		return nil, fmt.Errorf("message %s can't be reacted to", msg.TargetMessage.ID)
	}
	if err := m.client.React(ctx, target, msg.PreHandleResp.Emoji); err != nil {
		return nil, fmt.Errorf("failed to send reaction: %w", err)
	}
	return &database.Reaction{
		Emoji: msg.PreHandleResp.Emoji,
	}, nil
}

// HandleMatrixReactionRemove removes the user's reaction in Messenger.
func (m *MessengerClient) HandleMatrixReactionRemove(ctx context.Context, msg *bridgev2.MatrixReactionRemove) error {
	if !m.IsLoggedIn() {
		return bridgev2.ErrNotLoggedIn
	}

	target, ok := ReactionTarget(ParseMessageID(msg.TargetReaction.MessageID))
	if !ok {
		return fmt.Errorf("message %s can't be reacted to", msg.TargetReaction.MessageID)
	}
	if err := m.client.React(ctx, target, ""); err != nil {
		return fmt.Errorf("failed to remove reaction: %w", err)
	}
	return nil
}

// HandleMatrixReadReceipt marks the thread as read in Messenger.
func (m *MessengerClient) HandleMatrixReadReceipt(ctx context.Context, msg *bridgev2.MatrixReadReceipt) error {
	if !m.IsLoggedIn() {
		return bridgev2.ErrNotLoggedIn
	}

	threadID := ParsePortalID(msg.Portal.ID)
	if err := m.client.MarkRead(ctx, threadID); err != nil {
		return fmt.Errorf("failed to mark thread as read: %w", err)
	}
	return nil
}

// HandleMatrixTyping sends a typing indicator to Messenger. The indicator
// is turned off after the typing timeout unless Matrix stops it earlier.
func (m *MessengerClient) HandleMatrixTyping(ctx context.Context, msg *bridgev2.MatrixTyping) error {
	if !m.IsLoggedIn() {
		return bridgev2.ErrNotLoggedIn
	}

	thread := m.threadRef(ctx, msg.Portal)
	m.typingLock.Lock()
	if pending, ok := m.typingTimers[thread.ID]; ok {
		pending.timer.Stop()
		delete(m.typingTimers, thread.ID)
	}
	if msg.IsTyping {
		pending := &typingTimer{}
		pending.timer = time.AfterFunc(m.connector.Config.typingTimeout(), func() {
			m.typingExpired(thread, pending)
		})
		m.typingTimers[thread.ID] = pending
	}
	m.typingLock.Unlock()

	if err := m.client.SetTyping(ctx, thread, msg.IsTyping); err != nil {
		m.log.Debug().Err(err).Str("thread_id", thread.ID).Msg("Failed to send typing indicator")
	}
	return nil
}

// typingTimer is only read or written with typingLock held.
type typingTimer struct {
	timer *time.Timer
}

func (m *MessengerClient) typingExpired(thread messenger.ThreadRef, pending *typingTimer) {
	m.typingLock.Lock()
	if m.typingTimers[thread.ID] != pending {
		m.typingLock.Unlock()
		return
	}
	delete(m.typingTimers, thread.ID)
	m.typingLock.Unlock()

	if err := m.client.SetTyping(context.Background(), thread, false); err != nil {
		m.log.Debug().Err(err).Str("thread_id", thread.ID).Msg("Failed to stop typing indicator")
	}
}

// uploadMatrixMedia downloads media from Matrix and uploads it to Messenger.
func (m *MessengerClient) uploadMatrixMedia(ctx context.Context, msg *bridgev2.MatrixMessage, voiceClip bool) ([]messenger.UploadedFile, error) {
	content := msg.Content

	var data []byte
	var err error
	if m.downloadMedia != nil {
		data, err = m.downloadMedia(ctx, content.URL, content.File)
	} else {
		data, err = msg.Portal.Bridge.Bot.DownloadMedia(ctx, content.URL, content.File)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download Matrix media: %w", err)
	}

	filename := content.GetFileName()
	if filename == "" {
		filename = "upload"
	}
	var mimeType string
	if content.Info != nil {
		mimeType = content.Info.MimeType
	}

	uploaded, err := m.client.Upload(ctx, []messenger.UploadFile{{
		Name:     filename,
		MimeType: mimeType,
		Data:     data,
	}}, voiceClip)
	if err != nil {
		return nil, err
	}
	return uploaded, nil
}
