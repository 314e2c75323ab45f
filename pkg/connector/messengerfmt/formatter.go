// Copyright 2024-2026 Aiku AI

// Package messengerfmt converts Messenger text with mentions to Matrix HTML.
package messengerfmt

import (
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

// ParsedMessage holds the result of converting a Messenger message to Matrix format.
type ParsedMessage struct {
	Body          string
	Format        event.Format
	FormattedBody string
	Mentions      []id.UserID
}

// UserResolver maps a mentioned Messenger user ID to the Matrix user that
// represents them. ok is false for users that cannot be resolved; their
// mention is left as plain text.
type UserResolver func(userID string) (mxid id.UserID, ok bool)

var (
	codeBlockRe = regexp.MustCompile("(?s)```\\n?(.*?)\\n?```")
	codeRe      = regexp.MustCompile("`([^`\\n]+)`")
	boldRe      = regexp.MustCompile(`(^|[^\w*])\*([^*\s](?:[^*\n]*[^*\s])?)\*($|[^\w*])`)
	italicRe    = regexp.MustCompile(`(^|[^\w_])_([^_\s](?:[^_\n]*[^_\s])?)_($|[^\w_])`)
	strikeRe    = regexp.MustCompile(`(^|[^\w~])~([^~\s](?:[^~\n]*[^~\s])?)~($|[^\w~])`)
)

type mentionSpan struct {
	text string
	mxid id.UserID
}

// Parse converts a Messenger message to Matrix event content. Mention
// offsets and lengths are counted in UTF-16 code units.
func Parse(text string, mentions []messenger.Mention, resolve UserResolver) *ParsedMessage {
	if text == "" {
		return &ParsedMessage{}
	}

	// Step 1: Swap mention spans for placeholders.
	processed, spans := extractMentions(text, mentions, resolve)

	hasFormatting := len(spans) > 0 ||
		codeBlockRe.MatchString(processed) ||
		codeRe.MatchString(processed) ||
		boldRe.MatchString(processed) ||
		italicRe.MatchString(processed) ||
		strikeRe.MatchString(processed)
	if !hasFormatting {
		return &ParsedMessage{Body: text}
	}

	// Step 2: Pull out code so markup inside it is kept verbatim.
	var code []string
	stash := func(formatted string) string {
		code = append(code, formatted)
		return "\x00CODE" + strconv.Itoa(len(code)-1) + "\x00"
	}
	processed = codeBlockRe.ReplaceAllStringFunc(processed, func(match string) string {
		inner := codeBlockRe.FindStringSubmatch(match)[1]
		return stash("<pre><code>" + html.EscapeString(inner) + "</code></pre>")
	})
	processed = codeRe.ReplaceAllStringFunc(processed, func(match string) string {
		inner := codeRe.FindStringSubmatch(match)[1]
		return stash("<code>" + html.EscapeString(inner) + "</code>")
	})

	// Step 3: Inline markup.
	formatted := html.EscapeString(processed)
	formatted = replaceRepeated(boldRe, formatted, "${1}<strong>${2}</strong>${3}")
	formatted = replaceRepeated(italicRe, formatted, "${1}<em>${2}</em>${3}")
	formatted = replaceRepeated(strikeRe, formatted, "${1}<del>${2}</del>${3}")

	// Step 4: Restore code and mentions.
	for i, c := range code {
		formatted = strings.Replace(formatted, "\x00CODE"+strconv.Itoa(i)+"\x00", c, 1)
	}
	var mxids []id.UserID
	for i, span := range spans {
		pill := `<a href="` + span.mxid.URI().MatrixToURL() + `">` + html.EscapeString(span.text) + `</a>`
		formatted = strings.Replace(formatted, "\x00MENTION"+strconv.Itoa(i)+"\x00", pill, 1)
		mxids = append(mxids, span.mxid)
	}

	formatted = strings.ReplaceAll(formatted, "\n", "<br/>")

	return &ParsedMessage{
		Body:          text,
		Format:        event.FormatHTML,
		FormattedBody: formatted,
		Mentions:      mxids,
	}
}

// replaceRepeated applies a delimiter regex until it stops matching, since
// adjacent spans share a boundary character.
func replaceRepeated(re *regexp.Regexp, s, repl string) string {
	for range 4 {
		next := re.ReplaceAllString(s, repl)
		if next == s {
			break
		}
		s = next
	}
	return s
}

// extractMentions replaces resolvable mention spans with placeholders.
// Overlapping and out of range mentions are ignored.
func extractMentions(text string, mentions []messenger.Mention, resolve UserResolver) (string, []mentionSpan) {
	if len(mentions) == 0 || resolve == nil {
		return text, nil
	}
	sorted := make([]messenger.Mention, len(mentions))
	copy(sorted, mentions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	units := utf16.Encode([]rune(text))
	var out strings.Builder
	var spans []mentionSpan
	pos := 0
	for _, mention := range sorted {
		if mention.Length <= 0 || mention.Offset < pos || mention.Length > len(units)-mention.Offset {
			continue
		}
		end := mention.Offset + mention.Length
		mxid, ok := resolve(mention.UserID)
		if !ok {
			continue
		}
		out.WriteString(string(utf16.Decode(units[pos:mention.Offset])))
		out.WriteString("\x00MENTION" + strconv.Itoa(len(spans)) + "\x00")
		spans = append(spans, mentionSpan{
			text: string(utf16.Decode(units[mention.Offset:end])),
			mxid: mxid,
		})
		pos = end
	}
	out.WriteString(string(utf16.Decode(units[pos:])))
	return out.String(), spans
}
