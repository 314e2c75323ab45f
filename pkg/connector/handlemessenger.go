// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/variationselector"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/bridgev2/simplevent"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

const (
	unsupportedMessageNotice = "Message type unsupported."
	deliveryReceiptTimeout   = 30 * time.Second
)

// mediaUploader stores attachment data on the Matrix side.
type mediaUploader func(ctx context.Context, data []byte, fileName, mimeType string) (id.ContentURIString, *event.EncryptedFileInfo, error)

// attachmentDefaults are used when Messenger doesn't name or type a file.
var attachmentDefaults = map[messenger.AttachmentKind]struct {
	msgType  event.MessageType
	fileName string
	mimeType string
}{
	messenger.AttachmentAudio:         {event.MsgAudio, "audio.mp4", "audio/mpeg"},
	messenger.AttachmentImage:         {event.MsgImage, "image.png", "image/png"},
	messenger.AttachmentAnimatedImage: {event.MsgImage, "image.gif", "image/gif"},
	messenger.AttachmentFile:          {event.MsgFile, "file", "application/octet-stream"},
	messenger.AttachmentVideo:         {event.MsgVideo, "video.mp4", "video/mpeg"},
	messenger.AttachmentSticker:       {event.MsgImage, "sticker.png", "image/png"},
}

// handleMessengerEvent dispatches a delta stream event to the appropriate handler.
func (m *MessengerClient) handleMessengerEvent(evt messenger.Event) {
	switch e := evt.(type) {
	case *messenger.MessageEvent:
		m.handleMessage(e.Message)
	case *messenger.ReactionEvent:
		m.handleReaction(e)
	case *messenger.UnsendEvent:
		m.handleUnsend(e)
	case *messenger.TypingEvent:
		m.handleTyping(e)
	case *messenger.ReadReceiptEvent:
		m.handleReadReceipt(e)
	default:
		m.log.Trace().Type("event_type", evt).Msg("Unhandled event type")
	}
}

func (m *MessengerClient) sender(userID string) bridgev2.EventSender {
	return bridgev2.EventSender{
		IsFromMe: userID == m.userID,
		Sender:   MakeUserID(userID),
	}
}

func (m *MessengerClient) handleMessage(msg *messenger.Message) {
	if msg == nil || msg.ID == "" {
		return
	}
	// Echo prevention: skip messages this bridge sent.
	if m.client.PopSent(msg.ID) {
		m.log.Debug().Str("message_id", msg.ID).Msg("Skipping echo of sent message")
		return
	}

	m.log.Debug().
		Str("message_id", msg.ID).
		Str("thread_id", msg.Thread.ID).
		Str("author_id", msg.AuthorID).
		Msg("Received new message")

	m.eventSender.QueueRemoteEvent(m.userLogin, &simplevent.Message[*messenger.Message]{
		EventMeta: simplevent.EventMeta{
			Type: bridgev2.RemoteEventMessage,
			LogContext: func(c zerolog.Context) zerolog.Context {
				return c.Str("message_id", msg.ID).Str("thread_id", msg.Thread.ID)
			},
			PortalKey:    m.portalKey(msg.Thread),
			Sender:       m.sender(msg.AuthorID),
			Timestamp:    msg.Timestamp,
			CreatePortal: true,
		},
		ID:   MakeMessageID(msg.ID),
		Data: msg,
		ConvertMessageFunc: func(ctx context.Context, portal *bridgev2.Portal, intent bridgev2.MatrixAPI, data *messenger.Message) (*bridgev2.ConvertedMessage, error) {
			return m.convertMessage(ctx, data, func(ctx context.Context, content []byte, fileName, mimeType string) (id.ContentURIString, *event.EncryptedFileInfo, error) {
				return intent.UploadMedia(ctx, portal.MXID, content, fileName, mimeType)
			}), nil
		},
	})

	if msg.AuthorID != m.userID {
		go m.sendDeliveryReceipt(msg.Thread.ID, msg.ID)
	}
}

// sendDeliveryReceipt runs off the delta stream goroutine. It gives up after
// deliveryReceiptTimeout or when the client disconnects.
func (m *MessengerClient) sendDeliveryReceipt(threadID, messageID string) {
	select {
	case <-m.stopChan:
		return
	default:
	}
	ctx, cancel := context.WithTimeout(m.log.WithContext(context.Background()), deliveryReceiptTimeout)
	defer cancel()
	go func() {
		select {
		case <-m.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := m.client.MarkDelivered(ctx, threadID, messageID); err != nil {
		m.log.Debug().Err(err).Str("message_id", messageID).Msg("Failed to send delivery receipt")
	}
}

func (m *MessengerClient) handleReaction(evt *messenger.ReactionEvent) {
	evtType := bridgev2.RemoteEventReaction
	if evt.Reaction == "" {
		evtType = bridgev2.RemoteEventReactionRemove
	}
	m.eventSender.QueueRemoteEvent(m.userLogin, &simplevent.Reaction{
		EventMeta: simplevent.EventMeta{
			Type: evtType,
			LogContext: func(c zerolog.Context) zerolog.Context {
				return c.Str("message_id", evt.MessageID).Str("reaction", evt.Reaction)
			},
			PortalKey: m.portalKey(evt.Thread),
			Sender:    m.sender(evt.ActorID),
		},
		TargetMessage: MakeMessageID(evt.MessageID),
		Emoji:         variationselector.Add(evt.Reaction),
	})
}

func (m *MessengerClient) handleUnsend(evt *messenger.UnsendEvent) {
	m.eventSender.QueueRemoteEvent(m.userLogin, &simplevent.MessageRemove{
		EventMeta: simplevent.EventMeta{
			Type: bridgev2.RemoteEventMessageRemove,
			LogContext: func(c zerolog.Context) zerolog.Context {
				return c.Str("message_id", evt.MessageID).Str("thread_id", evt.Thread.ID)
			},
			PortalKey: m.portalKey(evt.Thread),
			Sender:    m.sender(evt.ActorID),
			Timestamp: evt.Timestamp,
		},
		TargetMessage: MakeMessageID(evt.MessageID),
	})
}

func (m *MessengerClient) handleTyping(evt *messenger.TypingEvent) {
	if evt.UserID == m.userID {
		return
	}
	typing := &simplevent.Typing{
		EventMeta: simplevent.EventMeta{
			Type:      bridgev2.RemoteEventTyping,
			PortalKey: m.portalKey(evt.Thread),
			Sender:    m.sender(evt.UserID),
		},
		Type: bridgev2.TypingTypeText,
	}
	if evt.Typing {
		typing.Timeout = m.connector.Config.typingTimeout()
	}
	m.eventSender.QueueRemoteEvent(m.userLogin, typing)
}

func (m *MessengerClient) handleReadReceipt(evt *messenger.ReadReceiptEvent) {
	m.eventSender.QueueRemoteEvent(m.userLogin, &simplevent.Receipt{
		EventMeta: simplevent.EventMeta{
			Type:      bridgev2.RemoteEventReadReceipt,
			PortalKey: m.portalKey(evt.Thread),
			Sender:    m.sender(evt.ReaderID),
			Timestamp: evt.Timestamp,
		},
		ReadUpTo: evt.Timestamp,
	})
}

// convertMessage converts a Messenger message to a bridgev2.ConvertedMessage
// with the text first and one part per attachment.
func (m *MessengerClient) convertMessage(ctx context.Context, msg *messenger.Message, upload mediaUploader) *bridgev2.ConvertedMessage {
	text := msg.Text
	if letter := msg.EmojiSize.Letter(); letter != "" && text != "" {
		text += " (" + letter + ")"
	}

	var previews []*event.BeeperLinkPreview
	var attachmentParts []*bridgev2.ConvertedMessagePart
	var unsupported bool
	for _, att := range msg.Attachments {
		switch att.Kind {
		case messenger.AttachmentSticker:
			if size, ok := thumbsUpSticker(att); ok {
				text = joinLines(text, thumbsUp+" ("+size.Letter()+")")
				continue
			}
			attachmentParts = append(attachmentParts, m.convertMediaAttachment(ctx, att, upload))
		case messenger.AttachmentImage:
			if att.AttributionApp != "" {
				if text != "" {
					text += " (via " + att.AttributionApp + ")"
				} else {
					text = "via " + att.AttributionApp
				}
			}
			attachmentParts = append(attachmentParts, m.convertMediaAttachment(ctx, att, upload))
		case messenger.AttachmentAudio, messenger.AttachmentAnimatedImage,
			messenger.AttachmentFile, messenger.AttachmentVideo:
			attachmentParts = append(attachmentParts, m.convertMediaAttachment(ctx, att, upload))
		case messenger.AttachmentLocation:
			attachmentParts = append(attachmentParts, convertLocation(att))
		case messenger.AttachmentLink:
			var preview *event.BeeperLinkPreview
			text, preview = m.convertLink(text, att)
			previews = append(previews, preview)
		default:
			unsupported = true
		}
	}

	var parts []*bridgev2.ConvertedMessagePart
	if unsupported {
		parts = append(parts, unsupportedNoticePart())
	}
	if text != "" {
		// Mention offsets point into the original text, which is always a
		// prefix of the converted text.
		parsed := m.messengerfmtParse(text, msg.Mentions)
		content := &event.MessageEventContent{
			MsgType:            event.MsgText,
			Body:               parsed.Body,
			Format:             parsed.Format,
			FormattedBody:      parsed.FormattedBody,
			BeeperLinkPreviews: previews,
		}
		if len(parsed.Mentions) > 0 {
			content.Mentions = &event.Mentions{UserIDs: parsed.Mentions}
		}
		parts = append(parts, &bridgev2.ConvertedMessagePart{
			Type:    event.EventMessage,
			Content: content,
		})
	}
	parts = append(parts, attachmentParts...)
	if len(parts) == 0 {
		parts = append(parts, unsupportedNoticePart())
	}
	for i, part := range parts {
		part.ID = MakeMessagePartID(i)
	}

	converted := &bridgev2.ConvertedMessage{
		Parts: parts,
	}
	if msg.ReplyToID != "" {
		converted.ReplyTo = &networkid.MessageOptionalPartID{MessageID: MakeMessageID(msg.ReplyToID)}
	}
	return converted
}

func unsupportedNoticePart() *bridgev2.ConvertedMessagePart {
	return &bridgev2.ConvertedMessagePart{
		Type: event.EventMessage,
		Content: &event.MessageEventContent{
			MsgType: event.MsgNotice,
			Body:    unsupportedMessageNotice,
		},
	}
}

// thumbsUpSticker reports the size of a thumbs-up sticker from the built-in
// pack. Lookalike stickers from other packs are bridged as stickers.
func thumbsUpSticker(att *messenger.Attachment) (messenger.EmojiSize, bool) {
	if att.StickerPackID != messenger.ThumbsUpPackID {
		return messenger.EmojiSizeNone, false
	}
	return messenger.ThumbsUpSize(att.StickerID)
}

// convertMediaAttachment downloads a file attachment from Messenger and
// uploads it to Matrix. Failures become a notice so the rest of the message
// still arrives.
func (m *MessengerClient) convertMediaAttachment(ctx context.Context, att *messenger.Attachment, upload mediaUploader) *bridgev2.ConvertedMessagePart {
	defaults := attachmentDefaults[att.Kind]
	fileName := att.Filename
	if fileName == "" {
		fileName = defaults.fileName
	}
	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = defaults.mimeType
	}

	part, err := m.reuploadAttachment(ctx, att, upload, fileName, mimeType)
	if err != nil {
		m.log.Warn().Err(err).Str("attachment_id", att.ID).Msg("Failed to bridge attachment")
		return &bridgev2.ConvertedMessagePart{
			Type: event.EventMessage,
			Content: &event.MessageEventContent{
				MsgType: event.MsgNotice,
				Body:    fmt.Sprintf("Failed to bridge %s", fileName),
			},
		}
	}
	content := part.Content
	content.Info.MimeType = mimeType
	switch att.Kind {
	case messenger.AttachmentSticker:
		part.Type = event.EventSticker
		content.MsgType = ""
		if att.StickerLabel != "" {
			content.Body = att.StickerLabel
		}
	case messenger.AttachmentAnimatedImage:
		content.MsgType = defaults.msgType
		content.Info.MauGIF = true
	default:
		content.MsgType = defaults.msgType
	}
	return part
}

func (m *MessengerClient) reuploadAttachment(ctx context.Context, att *messenger.Attachment, upload mediaUploader, fileName, mimeType string) (*bridgev2.ConvertedMessagePart, error) {
	if upload == nil {
		return nil, fmt.Errorf("no media uploader")
	}
	target := att.URL
	if att.Kind == messenger.AttachmentImage && att.ID != "" {
		if full, err := m.client.FetchImageURL(ctx, att.ID); err == nil {
			target = full
		} else {
			m.log.Debug().Err(err).Str("attachment_id", att.ID).Msg("Falling back to preview image")
		}
	}
	if target == "" {
		return nil, fmt.Errorf("attachment has no URL")
	}
	data, _, err := m.client.Download(ctx, target)
	if err != nil {
		return nil, err
	}
	content := &event.MessageEventContent{
		Body: fileName,
		Info: &event.FileInfo{
			Size: len(data),
		},
	}
	content.URL, content.File, err = upload(ctx, data, fileName, mimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to upload to Matrix: %w", err)
	}
	return &bridgev2.ConvertedMessagePart{
		Type:    event.EventMessage,
		Content: content,
		Extra: map[string]any{
			"fi.mau.facebook.attachment_id": att.ID,
		},
	}, nil
}

// convertLink appends a shared link to the message text and returns the
// matching link preview.
func (m *MessengerClient) convertLink(text string, att *messenger.Attachment) (string, *event.BeeperLinkPreview) {
	link := att.URL
	if !m.connector.Config.ProxyLinksByFacebook {
		link = messenger.UnwrapURL(link)
	}
	description := att.Description
	if att.Source != "" {
		description = strings.TrimSpace(description + " (via " + att.Source + ")")
	}
	text = joinLines(text, att.Title, description, link)
	return text, &event.BeeperLinkPreview{
		MatchedURL: link,
		LinkPreview: event.LinkPreview{
			CanonicalURL: link,
			Title:        att.Title,
			Description:  att.Description,
		},
	}
}

// convertLocation converts a shared location to an m.location part.
func convertLocation(att *messenger.Attachment) *bridgev2.ConvertedMessagePart {
	body := joinLines(att.Title, att.Description)
	if body == "" {
		body = "Location"
	}
	return &bridgev2.ConvertedMessagePart{
		Type: event.EventMessage,
		Content: &event.MessageEventContent{
			MsgType: event.MsgLocation,
			Body:    body,
			GeoURI: "geo:" + strconv.FormatFloat(att.Latitude, 'f', -1, 64) +
				"," + strconv.FormatFloat(att.Longitude, 'f', -1, 64),
		},
	}
}

// joinLines joins the non-empty strings with newlines.
func joinLines(lines ...string) string {
	nonEmpty := make([]string, 0, len(lines))
	for _, line := range lines {
		if line != "" {
			nonEmpty = append(nonEmpty, line)
		}
	}
	return strings.Join(nonEmpty, "\n")
}
