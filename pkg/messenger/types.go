// Copyright 2024-2026 Aiku AI

package messenger

import (
	"strings"
	"time"
)

// ChatType is the kind of conversation partner behind a thread.
type ChatType string

const (
	ChatTypeUser  ChatType = "User"
	ChatTypePage  ChatType = "Page"
	ChatTypeGroup ChatType = "Group"
)

// ParseChatType accepts the vendor names as well as the GraphQL typenames.
func ParseChatType(s string) (ChatType, bool) {
	switch strings.ToLower(s) {
	case "user", "friend", "one_to_one":
		return ChatTypeUser, true
	case "page":
		return ChatTypePage, true
	case "group":
		return ChatTypeGroup, true
	default:
		return "", false
	}
}

// ThreadLocation is the inbox folder a thread lives in.
type ThreadLocation string

const (
	LocationInbox    ThreadLocation = "INBOX"
	LocationPending  ThreadLocation = "PENDING"
	LocationOther    ThreadLocation = "OTHER"
	LocationArchived ThreadLocation = "ARCHIVED"
)

// Locations returns the folders a thread listing should cover. The inbox is
// always included.
func Locations(showPending, showArchived bool) []ThreadLocation {
	locs := []ThreadLocation{LocationInbox}
	if showPending {
		locs = append(locs, LocationPending, LocationOther)
	}
	if showArchived {
		locs = append(locs, LocationArchived)
	}
	return locs
}

// EmojiSize is the display size of a single-emoji message.
type EmojiSize string

const (
	EmojiSizeNone   EmojiSize = ""
	EmojiSizeSmall  EmojiSize = "small"
	EmojiSizeMedium EmojiSize = "medium"
	EmojiSizeLarge  EmojiSize = "large"
)

// Letter returns the one-letter suffix used in text conventions (S, M or L).
func (s EmojiSize) Letter() string {
	switch s {
	case EmojiSizeSmall:
		return "S"
	case EmojiSizeMedium:
		return "M"
	case EmojiSizeLarge:
		return "L"
	default:
		return ""
	}
}

// EmojiSizeFromLetter is the inverse of [EmojiSize.Letter].
func EmojiSizeFromLetter(letter string) (EmojiSize, bool) {
	switch letter {
	case "S":
		return EmojiSizeSmall, true
	case "M":
		return EmojiSizeMedium, true
	case "L":
		return EmojiSizeLarge, true
	default:
		return EmojiSizeNone, false
	}
}

// ThumbsUpPackID is the sticker pack holding the three thumbs-up stickers.
const ThumbsUpPackID = "227877430692340"

var thumbsUpStickers = map[EmojiSize]string{
	EmojiSizeSmall:  "369239263222822",
	EmojiSizeMedium: "369239343222814",
	EmojiSizeLarge:  "369239383222810",
}

// ThumbsUpSticker returns the sticker ID of the thumbs-up of the given size.
func ThumbsUpSticker(size EmojiSize) string {
	if size == EmojiSizeNone {
		size = EmojiSizeSmall
	}
	return thumbsUpStickers[size]
}

// ThumbsUpSize reports which thumbs-up size a sticker ID is, if any.
func ThumbsUpSize(stickerID string) (EmojiSize, bool) {
	for size, id := range thumbsUpStickers {
		if id == stickerID {
			return size, true
		}
	}
	return EmojiSizeNone, false
}

// Reaction is one of the fixed Messenger message reactions.
type Reaction string

const (
	ReactionLove  Reaction = "😍"
	ReactionSmile Reaction = "😆"
	ReactionWow   Reaction = "😮"
	ReactionSad   Reaction = "😢"
	ReactionAngry Reaction = "😠"
	ReactionYes   Reaction = "👍"
	ReactionNo    Reaction = "👎"
)

// ReactionNames maps the reaction keywords to their emoji.
var ReactionNames = map[string]Reaction{
	"LOVE":  ReactionLove,
	"SMILE": ReactionSmile,
	"WOW":   ReactionWow,
	"SAD":   ReactionSad,
	"ANGRY": ReactionAngry,
	"YES":   ReactionYes,
	"NO":    ReactionNo,
}

// Participant is a member of a thread.
type Participant struct {
	ID         string
	Type       ChatType
	Name       string
	ShortName  string
	Username   string
	PictureURL string
}

// Thread is a conversation as returned by the thread list and thread info
// queries.
type Thread struct {
	ID           string
	Type         ChatType
	Name         string
	PictureURL   string
	Folder       ThreadLocation
	LastActivity time.Time
	Participants []Participant
	Nicknames    map[string]string
	Emoji        string
}

// IsGroup reports whether messages to this thread address a group.
func (t *Thread) IsGroup() bool {
	return t.Type == ChatTypeGroup
}

// Ref returns the addressing information for sending to this thread.
func (t *Thread) Ref() ThreadRef {
	return ThreadRef{ID: t.ID, Group: t.IsGroup()}
}

// ThreadRef addresses a thread for outbound requests.
type ThreadRef struct {
	ID    string
	Group bool
}

// User is a contact or search result.
type User struct {
	ID         string
	Type       ChatType
	Name       string
	FirstName  string
	Username   string
	PictureURL string
	URL        string
	IsFriend   bool
}

// Mention marks a span of message text referring to a user. Offset and
// Length are in UTF-16 code units.
type Mention struct {
	UserID string
	Offset int
	Length int
}

// AttachmentKind classifies an inbound attachment.
type AttachmentKind string

const (
	AttachmentAudio         AttachmentKind = "MessageAudio"
	AttachmentImage         AttachmentKind = "MessageImage"
	AttachmentAnimatedImage AttachmentKind = "MessageAnimatedImage"
	AttachmentFile          AttachmentKind = "MessageFile"
	AttachmentVideo         AttachmentKind = "MessageVideo"
	AttachmentSticker       AttachmentKind = "__Sticker"
	AttachmentLink          AttachmentKind = "__Link"
	AttachmentLocation      AttachmentKind = "MessageLocation"
	AttachmentUnsupported   AttachmentKind = ""
)

// Attachment is a decoded inbound attachment.
type Attachment struct {
	Kind     AttachmentKind
	ID       string
	Filename string
	MimeType string
	// URL is the download URL for media, or the target for links.
	URL            string
	PreviewURL     string
	AttributionApp string

	StickerID     string
	StickerPackID string
	StickerLabel  string

	Title       string
	Description string
	Source      string

	Latitude  float64
	Longitude float64
}

// Message is an inbound message, either live or from history.
type Message struct {
	ID          string
	AuthorID    string
	Thread      ThreadRef
	Timestamp   time.Time
	Text        string
	Mentions    []Mention
	EmojiSize   EmojiSize
	Attachments []*Attachment
	ReplyToID   string
}

// Location is a pinned map location.
type Location struct {
	Latitude  float64
	Longitude float64
}

// UploadKind is the attachment slot an uploaded file is sent in.
type UploadKind string

const (
	UploadKindImage UploadKind = "image"
	UploadKindGIF   UploadKind = "gif"
	UploadKindAudio UploadKind = "audio"
	UploadKindFile  UploadKind = "file"
	UploadKindVideo UploadKind = "video"
)

// UploadFile is a file to be uploaded.
type UploadFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// UploadedFile is a file already on Messenger's upload server.
type UploadedFile struct {
	ID   string
	Kind UploadKind
}

// OutgoingMessage is a message to be sent to a thread.
type OutgoingMessage struct {
	Text        string
	Mentions    []Mention
	ReplyToID   string
	StickerID   string
	EmojiSize   EmojiSize
	Attachments []UploadedFile
	Location    *Location
}
