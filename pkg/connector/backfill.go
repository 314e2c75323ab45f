// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

// Compile-time assertion that MessengerClient implements BackfillingNetworkAPI.
var _ bridgev2.BackfillingNetworkAPI = (*MessengerClient)(nil)

// FetchMessages implements bridgev2.BackfillingNetworkAPI.
func (m *MessengerClient) FetchMessages(ctx context.Context, params bridgev2.FetchMessagesParams) (*bridgev2.FetchMessagesResponse, error) {
	if !m.IsLoggedIn() {
		return nil, bridgev2.ErrNotLoggedIn
	}
	if !m.connector.Config.BackfillEnabled {
		return &bridgev2.FetchMessagesResponse{Forward: params.Forward}, nil
	}
	threadID := ParsePortalID(params.Portal.ID)

	maxCount := m.connector.Config.backfillMaxCount()
	if params.Count > 0 && params.Count < maxCount {
		maxCount = params.Count
	}

	var before time.Time
	switch {
	case params.Cursor != "":
		ms, err := strconv.ParseInt(string(params.Cursor), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid backfill cursor %q: %w", params.Cursor, err)
		}
		before = time.UnixMilli(ms)
	case !params.Forward && params.AnchorMessage != nil:
		before = params.AnchorMessage.Timestamp
	}

	messages, err := m.client.ThreadMessages(ctx, threadID, maxCount, before)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages for backfill: %w", err)
	}
	hasMore := len(messages) >= maxCount

	// Sort chronologically (oldest first).
	slices.SortStableFunc(messages, func(a, b *messenger.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	if params.Forward && params.AnchorMessage != nil {
		anchor := params.AnchorMessage.Timestamp
		messages = slices.DeleteFunc(messages, func(msg *messenger.Message) bool {
			return !msg.Timestamp.After(anchor)
		})
		hasMore = false
	}

	upload := backfillUploader(params.Portal)
	backfill := make([]*bridgev2.BackfillMessage, 0, len(messages))
	for _, msg := range messages {
		backfill = append(backfill, &bridgev2.BackfillMessage{
			ConvertedMessage: m.convertMessage(ctx, msg, upload),
			Sender:           m.sender(msg.AuthorID),
			ID:               MakeMessageID(msg.ID),
			Timestamp:        msg.Timestamp,
		})
	}

	resp := &bridgev2.FetchMessagesResponse{
		Messages: backfill,
		HasMore:  hasMore,
		Forward:  params.Forward,
	}
	if !params.Forward && len(messages) > 0 {
		resp.Cursor = networkid.PaginationCursor(strconv.FormatInt(messages[0].Timestamp.UnixMilli(), 10))
	}
	return resp, nil
}

// backfillUploader uploads backfilled media with the bridge bot.
func backfillUploader(portal *bridgev2.Portal) mediaUploader {
	if portal == nil || portal.Bridge == nil || portal.Bridge.Bot == nil {
		return nil
	}
	return func(ctx context.Context, data []byte, fileName, mimeType string) (id.ContentURIString, *event.EncryptedFileInfo, error) {
		return portal.Bridge.Bot.UploadMedia(ctx, portal.MXID, data, fileName, mimeType)
	}
}
