// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package matrixfmt

import (
	"strings"
	"testing"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

func testResolver(userID id.UserID) (string, bool) {
	localpart, _, err := userID.Parse()
	if err != nil || !strings.HasPrefix(localpart, "facebook_") {
		return "", false
	}
	return strings.TrimPrefix(localpart, "facebook_"), true
}

func htmlContent(formatted string) *event.MessageEventContent {
	return &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          "fallback",
		Format:        event.FormatHTML,
		FormattedBody: formatted,
	}
}

func TestParseNilContent(t *testing.T) {
	t.Parallel()
	text, mentions := Parse(nil, testResolver)
	if text != "" || mentions != nil {
		t.Errorf("nil content: got %q, %v", text, mentions)
	}
}

func TestParsePlainText(t *testing.T) {
	t.Parallel()
	content := &event.MessageEventContent{
		Body: "hello world",
	}
	text, _ := Parse(content, testResolver)
	if text != "hello world" {
		t.Errorf("plain text: got %q, want %q", text, "hello world")
	}
}

func TestParseNoFormat(t *testing.T) {
	t.Parallel()
	content := &event.MessageEventContent{
		Body:          "plain",
		FormattedBody: "<b>ignored</b>",
	}
	text, _ := Parse(content, testResolver)
	if text != "plain" {
		t.Errorf("no format: got %q, want %q", text, "plain")
	}
}

func TestParseEmptyFormattedBody(t *testing.T) {
	t.Parallel()
	content := &event.MessageEventContent{
		Body:   "fallback",
		Format: event.FormatHTML,
	}
	text, _ := Parse(content, testResolver)
	if text != "fallback" {
		t.Errorf("empty formatted body: got %q, want %q", text, "fallback")
	}
}

func TestParseMarkup(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "<strong>bold text</strong>", "*bold text*"},
		{"b tag", "<b>bold</b>", "*bold*"},
		{"italic", "<em>italic</em>", "_italic_"},
		{"strike", "<del>gone</del>", "~gone~"},
		{"inline code", "use <code>go vet</code>", "use `go vet`"},
		{"code block", `<pre><code class="language-go">x := 1</code></pre>`, "```\nx := 1\n```"},
		{"link", `<a href="https://example.com">site</a>`, "site (https://example.com)"},
		{"bare link", `<a href="https://example.com">https://example.com</a>`, "https://example.com"},
		{"heading", "<h1>Title</h1>text", "*Title*\ntext"},
		{"blockquote", "<blockquote>quoted<br>text</blockquote>", "> quoted\n> text"},
		{"unordered list", "<ul><li>one</li><li>two</li></ul>", "- one\n- two"},
		{"ordered list", "<ol><li>one</li><li>two</li></ol>", "1. one\n2. two"},
		{"ordered list start", `<ol start="9"><li>nine</li><li>ten</li><li>eleven</li></ol>`, "9. nine\n10. ten\n11. eleven"},
		{"paragraphs", "<p>hello</p><p>world</p>", "hello\n\nworld"},
		{"line break", "a<br/>b", "a\nb"},
		{"entities", "a &amp; b &lt;3", "a & b <3"},
		{"unknown tags", `<span data-mx-color="red">red</span>`, "red"},
		{"reply fallback", "<mx-reply><blockquote>old</blockquote></mx-reply>new", "new"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, mentions := Parse(htmlContent(tt.in), testResolver)
			if text != tt.want {
				t.Errorf("got %q, want %q", text, tt.want)
			}
			if mentions != nil {
				t.Errorf("unexpected mentions: %v", mentions)
			}
		})
	}
}

func TestParseMentions(t *testing.T) {
	t.Parallel()
	text, mentions := Parse(htmlContent(
		`Hi <a href="https://matrix.to/#/@facebook_100:example.com">Alice</a> and <a href="https://matrix.to/#/%40facebook_200%3Aexample.com">Bob</a>!`,
	), testResolver)
	if text != "Hi Alice and Bob!" {
		t.Errorf("text: got %q", text)
	}
	want := []messenger.Mention{
		{UserID: "100", Offset: 3, Length: 5},
		{UserID: "200", Offset: 13, Length: 3},
	}
	if len(mentions) != len(want) {
		t.Fatalf("mentions: got %v, want %v", mentions, want)
	}
	for i := range want {
		if mentions[i] != want[i] {
			t.Errorf("mention %d: got %+v, want %+v", i, mentions[i], want[i])
		}
	}
}

func TestParseMentionUTF16Offsets(t *testing.T) {
	t.Parallel()
	text, mentions := Parse(htmlContent(
		`<strong>😀</strong> <a href="https://matrix.to/#/@facebook_300:example.com">Zoë</a>`,
	), testResolver)
	if text != "*😀* Zoë" {
		t.Errorf("text: got %q", text)
	}
	if len(mentions) != 1 {
		t.Fatalf("expected 1 mention, got %v", mentions)
	}
	if mentions[0].Offset != 5 || mentions[0].Length != 3 {
		t.Errorf("mention: got %+v, want offset 5 length 3", mentions[0])
	}
}

func TestParseUnresolvedMention(t *testing.T) {
	t.Parallel()
	text, mentions := Parse(htmlContent(
		`ping <a href="https://matrix.to/#/@bob:example.com">Bob</a>`,
	), testResolver)
	if text != "ping Bob" {
		t.Errorf("text: got %q", text)
	}
	if mentions != nil {
		t.Errorf("unresolved mention should be dropped, got %v", mentions)
	}
}

func TestParseNilResolver(t *testing.T) {
	t.Parallel()
	text, mentions := Parse(htmlContent(
		`<a href="https://matrix.to/#/@facebook_1:example.com">A &amp; B</a>`,
	), nil)
	if text != "A & B" || mentions != nil {
		t.Errorf("got %q, %v", text, mentions)
	}
}

func TestParseMentionEscapedName(t *testing.T) {
	t.Parallel()
	text, mentions := Parse(htmlContent(
		`<a href="https://matrix.to/#/@facebook_7:example.com">A &amp; B</a> hi`,
	), testResolver)
	if text != "A & B hi" {
		t.Errorf("text: got %q", text)
	}
	if len(mentions) != 1 || mentions[0].Length != 5 {
		t.Errorf("mentions: got %v", mentions)
	}
}

func FuzzParse(f *testing.F) {
	f.Add("<strong>a</strong>")
	f.Add(`<a href="https://matrix.to/#/@facebook_1:x">n</a>`)
	f.Add("<ol><li>x</li></ol>")
	f.Fuzz(func(t *testing.T, formatted string) {
		text, mentions := Parse(htmlContent(formatted), testResolver)
		units := utf16Len(text)
		for _, m := range mentions {
			if m.Offset < 0 || m.Offset+m.Length > units {
				t.Errorf("mention %+v out of range for %q", m, text)
			}
		}
	})
}
