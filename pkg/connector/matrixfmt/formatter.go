// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package matrixfmt converts Matrix HTML to Messenger text with mentions.
package matrixfmt

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

var (
	strongRe     = regexp.MustCompile(`(?s)<(?:strong|b)>(.*?)</(?:strong|b)>`)
	emRe         = regexp.MustCompile(`(?s)<(?:em|i)>(.*?)</(?:em|i)>`)
	delRe        = regexp.MustCompile(`(?s)<(?:del|s|strike)>(.*?)</(?:del|s|strike)>`)
	codeRe       = regexp.MustCompile(`(?s)<code[^>]*>(.*?)</code>`)
	preRe        = regexp.MustCompile(`(?s)<pre[^>]*>\s*<code[^>]*>(.*?)</code>\s*</pre>`)
	mentionRe    = regexp.MustCompile(`<a href="https://matrix\.to/#/((?:@|%40)[^"]+)"[^>]*>(.*?)</a>`)
	linkRe       = regexp.MustCompile(`(?s)<a href="([^"]+)"[^>]*>(.*?)</a>`)
	brRe         = regexp.MustCompile(`<br\s*/?>`)
	blockquoteRe = regexp.MustCompile(`(?s)<blockquote>(.*?)</blockquote>`)
	headingRe    = regexp.MustCompile(`(?s)<h[1-6]>(.*?)</h[1-6]>`)
	ulRe         = regexp.MustCompile(`(?s)<ul>(.*?)</ul>`)
	olRe         = regexp.MustCompile(`(?s)<ol(?: start="(\d+)")?>(.*?)</ol>`)
	liRe         = regexp.MustCompile(`(?s)<li>(.*?)</li>`)
	pRe          = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	replyRe      = regexp.MustCompile(`(?s)<mx-reply>.*?</mx-reply>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	placeholder  = regexp.MustCompile("\x00MENTION(\\d+)\x00")
)

// MentionResolver maps a Matrix user to the Messenger user ID it stands for.
type MentionResolver func(userID id.UserID) (string, bool)

type pendingMention struct {
	userID string
	text   string
}

// Parse converts Matrix message content to Messenger text. Links to Matrix
// users that resolve to Messenger users become mentions with UTF-16 offsets
// into the returned text.
func Parse(content *event.MessageEventContent, resolve MentionResolver) (string, []messenger.Mention) {
	if content == nil {
		return "", nil
	}

	// If no HTML format, return plain text body.
	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		return content.Body, nil
	}

	text := replyRe.ReplaceAllString(content.FormattedBody, "")

	// Mentions first so link conversion doesn't touch them.
	var pending []pendingMention
	text = mentionRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := mentionRe.FindStringSubmatch(match)
		name := html.UnescapeString(tagRe.ReplaceAllString(parts[2], ""))
		raw, err := url.PathUnescape(parts[1])
		if err != nil || resolve == nil {
			return name
		}
		fbID, ok := resolve(id.UserID(raw))
		if !ok {
			return name
		}
		pending = append(pending, pendingMention{userID: fbID, text: name})
		return fmt.Sprintf("\x00MENTION%d\x00", len(pending)-1)
	})

	// Code blocks first (preserve content inside).
	text = preRe.ReplaceAllString(text, "```\n$1\n```")
	text = codeRe.ReplaceAllString(text, "`$1`")

	// Inline formatting.
	text = strongRe.ReplaceAllString(text, "*$1*")
	text = emRe.ReplaceAllString(text, "_${1}_")
	text = delRe.ReplaceAllString(text, "~$1~")

	// Links.
	text = linkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		target := html.UnescapeString(parts[1])
		label := tagRe.ReplaceAllString(parts[2], "")
		if label == "" || html.UnescapeString(label) == target {
			return target
		}
		return label + " (" + target + ")"
	})

	// Headings have no equivalent, bold is the closest.
	text = headingRe.ReplaceAllString(text, "*$1*\n")

	// Blockquotes.
	text = blockquoteRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := blockquoteRe.FindStringSubmatch(match)
		inner := brRe.ReplaceAllString(strings.TrimSpace(parts[1]), "\n")
		inner = pRe.ReplaceAllString(inner, "$1\n")
		lines := strings.Split(strings.TrimSpace(inner), "\n")
		for i, line := range lines {
			lines[i] = "> " + strings.TrimSpace(line)
		}
		return strings.Join(lines, "\n") + "\n"
	})

	// Lists.
	text = ulRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		result := make([]string, 0, len(items))
		for _, item := range items {
			result = append(result, "- "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "\n") + "\n"
	})

	text = olRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := olRe.FindStringSubmatch(match)
		start := 1
		if parts[1] != "" {
			if n, err := strconv.Atoi(parts[1]); err == nil {
				start = n
			}
		}
		items := liRe.FindAllStringSubmatch(parts[2], -1)
		result := make([]string, 0, len(items))
		for i, item := range items {
			result = append(result, strconv.Itoa(start+i)+". "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "\n") + "\n"
	})

	// Paragraphs.
	text = pRe.ReplaceAllString(text, "$1\n\n")

	// Line breaks.
	text = brRe.ReplaceAllString(text, "\n")

	// Strip remaining HTML tags.
	text = tagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = strings.TrimSpace(text)

	return resolveMentions(text, pending)
}

// resolveMentions swaps mention placeholders for the display text and
// records where each one landed.
func resolveMentions(text string, pending []pendingMention) (string, []messenger.Mention) {
	if len(pending) == 0 {
		return text, nil
	}
	var sb strings.Builder
	var mentions []messenger.Mention
	offset := 0
	last := 0
	for _, loc := range placeholder.FindAllStringSubmatchIndex(text, -1) {
		before := text[last:loc[0]]
		sb.WriteString(before)
		offset += utf16Len(before)
		idx, _ := strconv.Atoi(text[loc[2]:loc[3]])
		if idx < len(pending) {
			m := pending[idx]
			sb.WriteString(m.text)
			length := utf16Len(m.text)
			mentions = append(mentions, messenger.Mention{UserID: m.userID, Offset: offset, Length: length})
			offset += length
		}
		last = loc[1]
	}
	sb.WriteString(text[last:])
	return sb.String(), mentions
}

func utf16Len(s string) int {
	return len(utf16.Encode([]rune(s)))
}
