// Copyright 2024-2026 Aiku AI

package messenger

import (
	"github.com/tidwall/gjson"
)

// parseAttachment decodes one attachment. It accepts both the delta stream
// form (wrapped in a "mercury" object) and the GraphQL form.
func parseAttachment(raw gjson.Result) *Attachment {
	if mercury := raw.Get("mercury"); mercury.Exists() {
		att := parseAttachmentNode(mercury)
		if att.Kind != AttachmentUnsupported {
			if att.Filename == "" {
				att.Filename = raw.Get("filename").String()
			}
			if mime := raw.Get("mimeType").String(); mime != "" {
				att.MimeType = mime
			}
			if att.ID == "" {
				att.ID = raw.Get("fbid").String()
			}
		}
		return att
	}
	return parseAttachmentNode(raw)
}

func parseAttachmentNode(node gjson.Result) *Attachment {
	switch {
	case node.Get("blob_attachment").Exists():
		return parseBlob(node.Get("blob_attachment"))
	case node.Get("sticker_attachment").Exists():
		return parseSticker(node.Get("sticker_attachment"))
	case node.Get("extensible_attachment").Exists():
		return parseExtensible(node.Get("extensible_attachment"))
	case node.Get("__typename").Exists():
		return parseBlob(node)
	default:
		return &Attachment{Kind: AttachmentUnsupported}
	}
}

func parseBlob(blob gjson.Result) *Attachment {
	att := &Attachment{
		ID:             blob.Get("legacy_attachment_id").String(),
		Filename:       blob.Get("filename").String(),
		AttributionApp: blob.Get("attribution_app.name").String(),
	}
	switch AttachmentKind(blob.Get("__typename").String()) {
	case AttachmentImage:
		att.Kind = AttachmentImage
		att.URL = firstString(blob, "large_preview.uri", "preview.uri", "thumbnail.uri")
		att.PreviewURL = firstString(blob, "thumbnail.uri", "preview.uri")
	case AttachmentAnimatedImage:
		att.Kind = AttachmentAnimatedImage
		att.URL = firstString(blob, "animated_image.uri", "preview_image.uri")
		att.PreviewURL = blob.Get("preview_image.uri").String()
	case AttachmentVideo:
		att.Kind = AttachmentVideo
		att.URL = blob.Get("playable_url").String()
		att.PreviewURL = firstString(blob, "chat_image.uri", "large_image.uri")
	case AttachmentAudio:
		att.Kind = AttachmentAudio
		att.URL = blob.Get("playable_url").String()
	case AttachmentFile:
		att.Kind = AttachmentFile
		att.URL = UnwrapURL(blob.Get("url").String())
	default:
		att.Kind = AttachmentUnsupported
	}
	if att.ID == "" {
		att.ID = blob.Get("id").String()
	}
	return att
}

func parseSticker(sticker gjson.Result) *Attachment {
	if !sticker.Get("id").Exists() {
		return &Attachment{Kind: AttachmentUnsupported}
	}
	return &Attachment{
		Kind:          AttachmentSticker,
		ID:            sticker.Get("id").String(),
		StickerID:     sticker.Get("id").String(),
		StickerPackID: sticker.Get("pack.id").String(),
		StickerLabel:  sticker.Get("label").String(),
		URL:           firstString(sticker, "url", "sprite_image.uri"),
		Filename:      "sticker.png",
		MimeType:      "image/png",
	}
}

func parseExtensible(ext gjson.Result) *Attachment {
	story := ext.Get("story_attachment")
	if !story.Exists() {
		return &Attachment{Kind: AttachmentUnsupported}
	}
	att := &Attachment{
		Kind:        AttachmentLink,
		ID:          ext.Get("legacy_attachment_id").String(),
		Title:       story.Get("title_with_entities.text").String(),
		Description: story.Get("description.text").String(),
		Source:      story.Get("source.text").String(),
		URL:         story.Get("url").String(),
		PreviewURL:  story.Get("media.image.uri").String(),
	}
	if att.Title == "" {
		att.Title = story.Get("title").String()
	}
	switch story.Get("target.__typename").String() {
	case string(AttachmentLocation), "MessageLiveLocation":
		att.Kind = AttachmentLocation
		lat, long, ok := ParseLocationMarkers(att.PreviewURL)
		if !ok {
			lat, long, ok = ParseLocationMarkers(att.URL)
		}
		if !ok {
			coord := story.Get("target.coordinate")
			lat, long, ok = coord.Get("latitude").Float(), coord.Get("longitude").Float(), coord.Exists()
		}
		if !ok {
			att.Kind = AttachmentLink
		}
		att.Latitude, att.Longitude = lat, long
	case "":
		if att.URL == "" && att.Title == "" {
			return &Attachment{Kind: AttachmentUnsupported}
		}
	}
	return att
}

func firstString(res gjson.Result, paths ...string) string {
	for _, path := range paths {
		if s := res.Get(path).String(); s != "" {
			return s
		}
	}
	return ""
}
