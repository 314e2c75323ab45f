// Copyright 2024-2026 Aiku AI

package messenger

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"sort"

	"golang.org/x/net/publicsuffix"
)

// DefaultUserAgent is sent when a session does not carry its own.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Session is the exportable state of a logged-in web session.
type Session struct {
	UserID    string            `json:"user_id"`
	Cookies   map[string]string `json:"cookies"`
	UserAgent string            `json:"user_agent,omitempty"`
}

// Valid reports whether the session has the cookies needed to authenticate.
func (s *Session) Valid() bool {
	return s != nil && s.Cookies["c_user"] != "" && s.Cookies["xs"] != ""
}

// ParseSession decodes a session from its JSON form and validates it.
func ParseSession(data []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	if !sess.Valid() {
		return nil, ErrInvalidSession
	}
	if sess.UserID == "" {
		sess.UserID = sess.Cookies["c_user"]
	}
	return &sess, nil
}

// LoadSession reads a session file written by [Session.Save].
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSession(data)
}

// Save writes the session as JSON, readable only by the owner.
func (s *Session) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func newJar() *cookiejar.Jar {
	// cookiejar.New never returns a non-nil error.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return jar
}

func (s *Session) fillJar(jar http.CookieJar, targets ...*url.URL) {
	names := make([]string, 0, len(s.Cookies))
	for name := range s.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	cookies := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		cookies = append(cookies, &http.Cookie{Name: name, Value: s.Cookies[name], Path: "/"})
	}
	for _, target := range targets {
		if target != nil {
			jar.SetCookies(target, cookies)
		}
	}
}

func sessionFromJar(jar http.CookieJar, from *url.URL, userAgent string) *Session {
	sess := &Session{Cookies: make(map[string]string), UserAgent: userAgent}
	for _, cookie := range jar.Cookies(from) {
		sess.Cookies[cookie.Name] = cookie.Value
	}
	sess.UserID = sess.Cookies["c_user"]
	return sess
}
