// Copyright 2024-2026 Aiku AI

package messengerfmt

import (
	"strings"
	"testing"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

func testResolver(userID string) (id.UserID, bool) {
	if userID == "unknown" {
		return "", false
	}
	return id.UserID("@facebook_" + userID + ":example.com"), true
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()
	result := Parse("", nil, testResolver)
	if result.Body != "" || result.FormattedBody != "" {
		t.Errorf("empty input: got %+v", result)
	}
}

func TestParsePlainText(t *testing.T) {
	t.Parallel()
	result := Parse("hello world", nil, testResolver)
	if result.Body != "hello world" {
		t.Errorf("Body: got %q, want %q", result.Body, "hello world")
	}
	if result.Format != "" {
		t.Errorf("plain text should have no format, got %q", result.Format)
	}
}

func TestParseMarkup(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "*bold text*", "<strong>bold text</strong>"},
		{"italic", "so _very_ nice", "so <em>very</em> nice"},
		{"strike", "~gone~", "<del>gone</del>"},
		{"inline code", "use `fmt.Println`", "use <code>fmt.Println</code>"},
		{"code keeps markup", "`*not bold*`", "<code>*not bold*</code>"},
		{"code block", "```\nx := *y*\n```", "<pre><code>x := *y*</code></pre>"},
		{"adjacent", "*a* *b*", "<strong>a</strong> <strong>b</strong>"},
		{"escaped", "*<b>*", "<strong>&lt;b&gt;</strong>"},
		{"newline", "*a*\nb", "<strong>a</strong><br/>b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse(tt.in, nil, testResolver)
			if result.Format != event.FormatHTML {
				t.Fatalf("Format: got %q, want %q", result.Format, event.FormatHTML)
			}
			if result.FormattedBody != tt.want {
				t.Errorf("FormattedBody: got %q, want %q", result.FormattedBody, tt.want)
			}
			if result.Body != tt.in {
				t.Errorf("Body should preserve original: got %q", result.Body)
			}
		})
	}
}

func TestParseNotMarkup(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"snake_case_name", "2 * 3 * 4", "a~b~c", "* not bold *"} {
		if result := Parse(in, nil, testResolver); result.Format != "" {
			t.Errorf("%q should stay plain, got %q", in, result.FormattedBody)
		}
	}
}

func TestParseMentions(t *testing.T) {
	t.Parallel()
	text := "hi Alice and Bob!"
	result := Parse(text, []messenger.Mention{
		{UserID: "200", Offset: 13, Length: 3},
		{UserID: "100", Offset: 3, Length: 5},
	}, testResolver)
	want := `hi <a href="https://matrix.to/#/@facebook_100:example.com">Alice</a> and <a href="https://matrix.to/#/@facebook_200:example.com">Bob</a>!`
	if result.FormattedBody != want {
		t.Errorf("FormattedBody:\n got %q\nwant %q", result.FormattedBody, want)
	}
	if result.Body != text {
		t.Errorf("Body: got %q", result.Body)
	}
	if len(result.Mentions) != 2 || result.Mentions[0] != "@facebook_100:example.com" {
		t.Errorf("Mentions: got %v", result.Mentions)
	}
}

func TestParseMentionsUTF16(t *testing.T) {
	t.Parallel()
	// The emoji takes two UTF-16 code units.
	text := "😀 Zoë"
	result := Parse(text, []messenger.Mention{{UserID: "300", Offset: 3, Length: 3}}, testResolver)
	if !strings.Contains(result.FormattedBody, `>Zoë</a>`) {
		t.Errorf("FormattedBody: got %q", result.FormattedBody)
	}
	if !strings.HasPrefix(result.FormattedBody, "😀 <a") {
		t.Errorf("prefix lost: got %q", result.FormattedBody)
	}
}

func TestParseMentionsSkipped(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		mentions []messenger.Mention
	}{
		{"unresolvable", []messenger.Mention{{UserID: "unknown", Offset: 0, Length: 2}}},
		{"out of range", []messenger.Mention{{UserID: "1", Offset: 3, Length: 10}}},
		{"zero length", []messenger.Mention{{UserID: "1", Offset: 0, Length: 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse("hey you", tt.mentions, testResolver)
			if result.Format != "" || result.Body != "hey you" {
				t.Errorf("got %+v", result)
			}
		})
	}
}

func TestParseMentionInsideBold(t *testing.T) {
	t.Parallel()
	result := Parse("*hi Bob*", []messenger.Mention{{UserID: "2", Offset: 4, Length: 3}}, testResolver)
	want := `<strong>hi <a href="https://matrix.to/#/@facebook_2:example.com">Bob</a></strong>`
	if result.FormattedBody != want {
		t.Errorf("FormattedBody:\n got %q\nwant %q", result.FormattedBody, want)
	}
}

func FuzzParse(f *testing.F) {
	f.Add("*bold* _it_ ~s~ `c`", 0, 4)
	f.Add("```\ncode\n```", 2, 3)
	f.Add("😀😀😀", 1, 2)
	f.Fuzz(func(t *testing.T, text string, offset, length int) {
		result := Parse(text, []messenger.Mention{{UserID: "1", Offset: offset, Length: length}}, testResolver)
		if result.Body != text {
			t.Errorf("Body changed: got %q, want %q", result.Body, text)
		}
	})
}
