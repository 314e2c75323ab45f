// Copyright 2024-2026 Aiku AI

// Package messenger is a client for the Facebook Messenger web backend. It
// simulates a browser session: requests carry the session cookies and the
// page token scraped from the web app, thread data comes from the GraphQL
// batch endpoint and live events arrive over a websocket delta stream.
package messenger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"go.mau.fi/util/exsync"
)

// Options configures the endpoints and transport of a [Client]. Zero values
// select the production endpoints.
type Options struct {
	BaseURL   string
	MobileURL string
	UploadURL string
	EdgeURL   string

	HTTPClient *http.Client
	Log        zerolog.Logger
}

const (
	defaultBaseURL   = "https://www.facebook.com"
	defaultMobileURL = "https://m.facebook.com"
	defaultUploadURL = "https://upload.facebook.com"
	defaultEdgeURL   = "wss://edge-chat.facebook.com/chat"

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 32 << 20
)

// jsonPrefix is the anti-hijacking prefix some endpoints put before JSON.
const jsonPrefix = "for (;;);"

// Client is an authenticated Messenger web session.
type Client struct {
	log       zerolog.Logger
	http      *http.Client
	jar       http.CookieJar
	baseURL   *url.URL
	mobileURL *url.URL
	uploadURL *url.URL
	edgeURL   string

	userID    string
	userAgent string

	tokenLock sync.Mutex
	dtsg      string
	reqCount  atomic.Int64

	// sent holds IDs of messages sent through this client that have not
	// come back through the delta stream yet.
	sent *exsync.Set[string]
}

func newClient(opts Options) (*Client, error) {
	parse := func(raw, def string) (*url.URL, error) {
		if raw == "" {
			raw = def
		}
		return url.Parse(raw)
	}
	base, err := parse(opts.BaseURL, defaultBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	mobile, err := parse(opts.MobileURL, defaultMobileURL)
	if err != nil {
		return nil, fmt.Errorf("invalid mobile URL: %w", err)
	}
	upload, err := parse(opts.UploadURL, defaultUploadURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upload URL: %w", err)
	}
	edge := opts.EdgeURL
	if edge == "" {
		edge = defaultEdgeURL
	}

	httpClient := &http.Client{Timeout: 2 * time.Minute}
	if opts.HTTPClient != nil {
		cp := *opts.HTTPClient
		httpClient = &cp
	}
	jar := newJar()
	httpClient.Jar = jar

	return &Client{
		log:       opts.Log,
		http:      httpClient,
		jar:       jar,
		baseURL:   base,
		mobileURL: mobile,
		uploadURL: upload,
		edgeURL:   edge,
		userAgent: DefaultUserAgent,
		sent:      exsync.NewSet[string](),
	}, nil
}

// NewClient creates a client from an existing session. No request is made;
// call [Client.LoadToken] or any API method to find out whether the session
// still works.
func NewClient(sess *Session, opts Options) (*Client, error) {
	if !sess.Valid() {
		return nil, ErrInvalidSession
	}
	c, err := newClient(opts)
	if err != nil {
		return nil, err
	}
	c.userID = sess.Cookies["c_user"]
	if sess.UserAgent != "" {
		c.userAgent = sess.UserAgent
	}
	sess.fillJar(c.jar, c.baseURL, c.mobileURL, c.uploadURL)
	return c, nil
}

// UserID returns the ID of the logged-in user.
func (c *Client) UserID() string {
	return c.userID
}

// Session exports the current cookies.
func (c *Client) Session() *Session {
	return sessionFromJar(c.jar, c.baseURL, c.userAgent)
}

// PopSent reports whether the message ID was sent by this client, forgetting
// it in the process.
func (c *Client) PopSent(messageID string) bool {
	return c.sent.Pop(messageID)
}

func (c *Client) markSent(messageID string) {
	if strings.HasPrefix(messageID, "mid.$") {
		c.sent.Add(messageID)
	}
}

var dtsgPatterns = []*regexp.Regexp{
	regexp.MustCompile(`name="fb_dtsg" value="([^"]+)"`),
	regexp.MustCompile(`"DTSGInitialData",\[\],\{"token":"([^"]+)"`),
}

// LoadToken fetches the web app and extracts the page token that has to
// accompany every form post.
func (c *Client) LoadToken(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint(c.baseURL, "/"), nil)
	if err != nil {
		return err
	}
	body, err := c.do(req)
	if err != nil {
		return fmt.Errorf("failed to load web app: %w", err)
	}
	for _, re := range dtsgPatterns {
		if m := re.FindSubmatch(body); m != nil {
			c.tokenLock.Lock()
			c.dtsg = string(m[1])
			c.tokenLock.Unlock()
			return nil
		}
	}
	if bytes.Contains(body, []byte(`id="login_form"`)) {
		return ErrNotLoggedIn
	}
	return ErrNoToken
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenLock.Lock()
	dtsg := c.dtsg
	c.tokenLock.Unlock()
	if dtsg != "" {
		return dtsg, nil
	}
	if err := c.LoadToken(ctx); err != nil {
		return "", err
	}
	c.tokenLock.Lock()
	defer c.tokenLock.Unlock()
	return c.dtsg, nil
}

func (c *Client) endpoint(base *url.URL, path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return base.String() + path
	}
	return base.ResolveReference(ref).String()
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.baseURL.String()+"/")
	req.Header.Set("Origin", c.baseURL.String())
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return body, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL.Path)
	}
	return body, nil
}

// baseForm returns the parameters every web app request carries.
func (c *Client) baseForm(ctx context.Context) (url.Values, error) {
	dtsg, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("__user", c.userID)
	form.Set("__a", "1")
	form.Set("__req", strconv.FormatInt(c.reqCount.Add(1), 36))
	form.Set("fb_dtsg", dtsg)
	return form, nil
}

// postForm posts a form to the web app and decodes the JSON response.
func (c *Client) postForm(ctx context.Context, target string, form url.Values) (gjson.Result, error) {
	body, err := c.postFormRaw(ctx, target, form)
	if err != nil {
		return gjson.Result{}, err
	}
	return parseResponse(body)
}

func (c *Client) postFormRaw(ctx context.Context, target string, form url.Values) ([]byte, error) {
	full, err := c.baseForm(ctx)
	if err != nil {
		return nil, err
	}
	for key, values := range form {
		full[key] = values
	}
	req, err := c.newRequest(ctx, http.MethodPost, target, strings.NewReader(full.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.log.Trace().Str("url", target).Msg("Posting form")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, target string, query url.Values) (gjson.Result, error) {
	full, err := c.baseForm(ctx)
	if err != nil {
		return gjson.Result{}, err
	}
	for key, values := range query {
		full[key] = values
	}
	req, err := c.newRequest(ctx, http.MethodGet, target+"?"+full.Encode(), nil)
	if err != nil {
		return gjson.Result{}, err
	}
	body, err := c.do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	return parseResponse(body)
}

// parseResponse strips the JSON prefix and converts error payloads.
func parseResponse(body []byte) (gjson.Result, error) {
	body = bytes.TrimSpace(body)
	body = bytes.TrimPrefix(body, []byte(jsonPrefix))
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("response is not valid JSON")
	}
	res := gjson.ParseBytes(body)
	if code := res.Get("error").Int(); code != 0 {
		return res, &APIError{
			Code:        code,
			Summary:     res.Get("errorSummary").String(),
			Description: res.Get("errorDescription").String(),
		}
	}
	return res, nil
}

func timestampMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
