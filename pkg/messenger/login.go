// Copyright 2024-2026 Aiku AI

package messenger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// LoginChallenge is a pending two-factor checkpoint.
type LoginChallenge struct {
	client *Client
	action string
	fields url.Values
}

// Login signs in with email and password through the mobile site. When the
// account has two-factor authentication enabled, it returns a challenge and
// ErrTwoFactorRequired.
func Login(ctx context.Context, opts Options, email, password string) (*Session, *LoginChallenge, error) {
	c, err := newClient(opts)
	if err != nil {
		return nil, nil, err
	}
	body, _, err := c.fetchPage(ctx, http.MethodGet, c.endpoint(c.mobileURL, "/login.php"), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load login page: %w", err)
	}
	form := hiddenInputs(body)
	form.Set("email", email)
	form.Set("pass", password)
	form.Set("login", "Log In")

	body, final, err := c.fetchPage(ctx, http.MethodPost, c.endpoint(c.mobileURL, "/login.php?login_attempt=1"), form)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to submit login form: %w", err)
	}
	return c.loginResult(body, final)
}

func (c *Client) loginResult(body []byte, final *url.URL) (*Session, *LoginChallenge, error) {
	if sess := c.loggedInSession(); sess != nil {
		return sess, nil, nil
	}
	if strings.Contains(final.String(), "checkpoint") {
		return nil, &LoginChallenge{
			client: c,
			action: final.String(),
			fields: hiddenInputs(body),
		}, ErrTwoFactorRequired
	}
	return nil, nil, ErrInvalidCredentials
}

func (c *Client) loggedInSession() *Session {
	sess := sessionFromJar(c.jar, c.mobileURL, c.userAgent)
	if !sess.Valid() {
		return nil
	}
	c.userID = sess.UserID
	return sess
}

// Submit sends the two-factor code. If the checkpoint asks for another
// confirmation (such as whether to remember the browser), it answers with the
// defaults. A wrong code returns ErrInvalidCredentials.
func (lc *LoginChallenge) Submit(ctx context.Context, code string) (*Session, error) {
	form := cloneValues(lc.fields)
	form.Set("approvals_code", strings.TrimSpace(code))
	form.Set("codes_submitted", "0")
	form.Set("submit[Submit Code]", "Submit Code")
	body, final, err := lc.client.fetchPage(ctx, http.MethodPost, lc.action, form)
	if err != nil {
		return nil, fmt.Errorf("failed to submit code: %w", err)
	}
	for range 3 {
		if sess := lc.client.loggedInSession(); sess != nil {
			return sess, nil
		}
		if !strings.Contains(final.String(), "checkpoint") {
			break
		}
		next := hiddenInputs(body)
		if next.Has("approvals_code") || bytes.Contains(body, []byte(`name="approvals_code"`)) {
			return nil, ErrInvalidCredentials
		}
		next.Set("name_action_selected", "dont_save")
		next.Set("submit[Continue]", "Continue")
		body, final, err = lc.client.fetchPage(ctx, http.MethodPost, final.String(), next)
		if err != nil {
			return nil, fmt.Errorf("failed to confirm checkpoint: %w", err)
		}
	}
	if sess := lc.client.loggedInSession(); sess != nil {
		return sess, nil
	}
	return nil, ErrInvalidCredentials
}

// fetchPage loads an HTML page, following redirects, and returns the body
// along with the URL it ended up at.
func (c *Client) fetchPage(ctx context.Context, method, target string, form url.Values) ([]byte, *url.URL, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := c.newRequest(ctx, method, target, body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Referer", c.mobileURL.String()+"/")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= 500 {
		return nil, nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, resp.Request.URL.Path)
	}
	return data, resp.Request.URL, nil
}

// hiddenInputs collects the hidden form fields of a page.
func hiddenInputs(page []byte) url.Values {
	values := url.Values{}
	z := html.NewTokenizer(bytes.NewReader(page))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return values
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "input" {
				continue
			}
			var typ, name, value string
			for _, attr := range tok.Attr {
				switch attr.Key {
				case "type":
					typ = attr.Val
				case "name":
					name = attr.Val
				case "value":
					value = attr.Val
				}
			}
			if strings.EqualFold(typ, "hidden") && name != "" {
				values.Set(name, value)
			}
		}
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for key, values := range v {
		out[key] = append([]string(nil), values...)
	}
	return out
}
