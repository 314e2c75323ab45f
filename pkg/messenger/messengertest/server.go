// Copyright 2024-2026 Aiku AI

// Package messengertest provides an in-process fake of the Messenger web
// backend for tests. It serves the endpoints used by the messenger client,
// records every call and pushes delta frames over a websocket.
package messengertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Token is the fb_dtsg value served to logged-in clients.
const Token = "test-dtsg-token"

// Call is one recorded request.
type Call struct {
	Method string
	Path   string
	Form   url.Values
	Files  map[string]string
}

// File is a downloadable attachment.
type File struct {
	Data     []byte
	MimeType string
}

// Server fakes the Messenger web backend. Fields may be filled in before the
// first request; use Lock/Unlock for changes made while clients are active.
type Server struct {
	*httptest.Server
	sync.Mutex

	UserID string
	XS     string

	// Email, Password and TwoFactorCode control the login flow. An empty
	// TwoFactorCode disables the checkpoint.
	Email         string
	Password      string
	TwoFactorCode string

	// Profiles maps user ID to a /chat/user_info profile object.
	Profiles map[string]map[string]any
	// Contacts is the payload of /chat/user_info_all keyed by user ID.
	Contacts map[string]map[string]any
	// Threads are GraphQL thread nodes. The "folder" key selects the
	// folder a node is listed under (INBOX when missing).
	Threads []map[string]any
	// Messages maps thread ID to GraphQL message nodes, oldest first.
	Messages map[string][]map[string]any
	// SearchResults maps a search kind (user, page) to entity nodes.
	SearchResults map[string][]map[string]any
	// ImageURLs maps photo IDs to their full resolution URL.
	ImageURLs map[string]string
	// Files maps paths under /files/ to downloadable content.
	Files map[string]File
	// Fail makes paths containing any of these strings return an error
	// payload with the given code.
	Fail map[string]int64

	calls     []Call
	sentCount int
	conns     []*websocket.Conn
	connected chan struct{}
}

// NewServer starts a fake backend for the given user.
func NewServer(userID string) *Server {
	s := &Server{
		UserID:        userID,
		XS:            "xs-secret",
		Profiles:      make(map[string]map[string]any),
		Contacts:      make(map[string]map[string]any),
		Messages:      make(map[string][]map[string]any),
		SearchResults: make(map[string][]map[string]any),
		ImageURLs:     make(map[string]string),
		Files:         make(map[string]File),
		Fail:          make(map[string]int64),
		connected:     make(chan struct{}, 16),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Cookies returns the session cookies of the logged-in user.
func (s *Server) Cookies() map[string]string {
	return map[string]string{"c_user": s.UserID, "xs": s.XS, "datr": "datr-value"}
}

// EdgeURL is the websocket URL of the delta stream.
func (s *Server) EdgeURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/chat"
}

// Calls returns a copy of the recorded requests.
func (s *Server) Calls() []Call {
	s.Lock()
	defer s.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo returns the recorded requests whose path contains path.
func (s *Server) CallsTo(path string) []Call {
	var out []Call
	for _, call := range s.Calls() {
		if strings.Contains(call.Path, path) {
			out = append(out, call)
		}
	}
	return out
}

// Called reports whether any request hit a path containing path.
func (s *Server) Called(path string) bool {
	return len(s.CallsTo(path)) > 0
}

// LastForm returns the form of the last request to a path containing path.
func (s *Server) LastForm(path string) url.Values {
	calls := s.CallsTo(path)
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1].Form
}

// WaitConnected blocks until a delta stream client connects.
func (s *Server) WaitConnected(timeout time.Duration) bool {
	select {
	case <-s.connected:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Push sends a frame to every connected delta stream client.
func (s *Server) Push(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()
	for _, conn := range s.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

// Drop closes every delta stream connection.
func (s *Server) Drop() {
	s.Lock()
	defer s.Unlock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
}

func (s *Server) authed(r *http.Request) bool {
	user, err := r.Cookie("c_user")
	if err != nil || user.Value != s.UserID {
		return false
	}
	xs, err := r.Cookie("xs")
	return err == nil && xs.Value == s.XS
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/x-javascript")
	_, _ = w.Write([]byte("for (;;);"))
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int64, summary string) {
	writeJSON(w, map[string]any{"error": code, "errorSummary": summary, "errorDescription": "fake error"})
}

func (s *Server) record(r *http.Request) Call {
	call := Call{Method: r.Method, Path: r.URL.Path}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(32 << 20); err == nil {
			call.Form = r.URL.Query()
			for key, values := range r.MultipartForm.Value {
				call.Form[key] = values
			}
			call.Files = make(map[string]string)
			for name, headers := range r.MultipartForm.File {
				if len(headers) > 0 {
					call.Files[name] = headers[0].Filename
				}
			}
		}
	} else {
		_ = r.ParseForm()
		call.Form = r.Form
	}
	s.Lock()
	s.calls = append(s.calls, call)
	s.Unlock()
	return call
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/chat" {
		s.handleDeltaStream(w, r)
		return
	}
	call := s.record(r)

	s.Lock()
	for fragment, code := range s.Fail {
		if strings.Contains(path, fragment) {
			s.Unlock()
			writeError(w, code, "Forced failure")
			return
		}
	}
	s.Unlock()

	switch {
	case path == "/login.php" || strings.HasPrefix(path, "/checkpoint") || path == "/home.php":
		s.handleLogin(w, r, call)
		return
	case strings.HasPrefix(path, "/files/"):
		s.Lock()
		file, ok := s.Files[strings.TrimPrefix(path, "/files/")]
		s.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", file.MimeType)
		_, _ = w.Write(file.Data)
		return
	}

	if !s.authed(r) {
		if path == "/" {
			_, _ = fmt.Fprint(w, `<html><form id="login_form"></form></html>`)
			return
		}
		writeError(w, 1357001, "Not logged in")
		return
	}
	if path != "/" && r.Method == http.MethodPost && call.Form.Get("fb_dtsg") != Token {
		writeError(w, 1357004, "Invalid token")
		return
	}

	switch path {
	case "/":
		_, _ = fmt.Fprintf(w, `<html><input type="hidden" name="fb_dtsg" value="%s" autocomplete="off" /></html>`, Token)
	case "/api/graphqlbatch/":
		s.handleGraphQL(w, call.Form)
	case "/messaging/send/":
		s.Lock()
		s.sentCount++
		id := "mid.$sent" + strconv.Itoa(s.sentCount)
		s.Unlock()
		writeJSON(w, map[string]any{"payload": map[string]any{"actions": []any{
			map[string]any{"message_id": id, "timestamp": time.Now().UnixMilli()},
		}}})
	case "/ajax/mercury/upload.php":
		metadata := make(map[string]any)
		names := make([]string, 0, len(call.Files))
		for name := range call.Files {
			names = append(names, name)
		}
		sort.Strings(names)
		for i, name := range names {
			key := "file_id"
			headers := r.MultipartForm.File[name]
			mime := headers[0].Header.Get("Content-Type")
			switch {
			case mime == "image/gif":
				key = "gif_id"
			case strings.HasPrefix(mime, "image/"):
				key = "image_id"
			case strings.HasPrefix(mime, "audio/"):
				key = "audio_id"
			case strings.HasPrefix(mime, "video/"):
				key = "video_id"
			}
			metadata[strconv.Itoa(i)] = map[string]any{key: "upload-" + strconv.Itoa(i+1), "filename": call.Files[name]}
		}
		writeJSON(w, map[string]any{"payload": map[string]any{"metadata": metadata}})
	case "/webgraphql/mutation":
		writeJSON(w, map[string]any{"data": map[string]any{"message_react": map[string]any{"message_id": "ok"}}})
	case "/ajax/messaging/typ.php", "/ajax/mercury/mark_seen.php",
		"/ajax/mercury/change_read_status.php", "/ajax/mercury/delivery_receipts.php":
		writeJSON(w, map[string]any{"payload": nil})
	case "/mercury/attachments/photo/":
		s.Lock()
		target, ok := s.ImageURLs[call.Form.Get("photo_id")]
		s.Unlock()
		if !ok {
			writeError(w, 1545012, "Photo not found")
			return
		}
		writeJSON(w, map[string]any{"jsmods": map[string]any{"require": []any{
			[]any{"ServerRedirect", "redirectPageTo", []any{}, []any{target, false, false}},
		}}})
	case "/chat/user_info_all":
		s.Lock()
		payload := s.Contacts
		s.Unlock()
		writeJSON(w, map[string]any{"payload": payload})
	case "/chat/user_info/":
		profiles := make(map[string]any)
		s.Lock()
		for key, values := range call.Form {
			if !strings.HasPrefix(key, "ids[") {
				continue
			}
			for _, id := range values {
				if profile, ok := s.Profiles[id]; ok {
					profiles[id] = profile
				}
			}
		}
		s.Unlock()
		writeJSON(w, map[string]any{"payload": map[string]any{"profiles": profiles}})
	case "/logout.php":
		http.SetCookie(w, &http.Cookie{Name: "xs", Value: "", Path: "/", MaxAge: -1})
		http.SetCookie(w, &http.Cookie{Name: "c_user", Value: "", Path: "/", MaxAge: -1})
		_, _ = fmt.Fprint(w, "<html>logged out</html>")
	default:
		http.NotFound(w, r)
	}
}

type graphqlQuery struct {
	DocID       string         `json:"doc_id"`
	Query       string         `json:"q"`
	QueryParams map[string]any `json:"query_params"`
}

func (s *Server) handleGraphQL(w http.ResponseWriter, form url.Values) {
	var queries map[string]graphqlQuery
	if err := json.Unmarshal([]byte(form.Get("queries")), &queries); err != nil {
		writeError(w, 1357031, "Malformed queries")
		return
	}
	q, ok := queries["q0"]
	if !ok {
		writeError(w, 1357031, "Missing q0")
		return
	}
	s.Lock()
	data := s.resolveGraphQL(q)
	s.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"q0": map[string]any{"data": data}})
	_, _ = fmt.Fprint(w, `{"successful_results":1,"error_results":0,"skipped_results":0}`)
}

func intParam(params map[string]any, key string) int {
	if f, ok := params[key].(float64); ok {
		return int(f)
	}
	return 0
}

func (s *Server) resolveGraphQL(q graphqlQuery) map[string]any {
	params := q.QueryParams
	switch {
	case q.DocID == "1349387578499440":
		folder := "INBOX"
		if tags, ok := params["tags"].([]any); ok && len(tags) > 0 {
			folder, _ = tags[0].(string)
		}
		limit := intParam(params, "limit")
		var nodes []any
		for _, thread := range s.Threads {
			f, _ := thread["folder"].(string)
			if f == "" {
				f = "INBOX"
			}
			if f != folder {
				continue
			}
			if limit > 0 && len(nodes) >= limit {
				break
			}
			nodes = append(nodes, thread)
		}
		return map[string]any{"viewer": map[string]any{"message_threads": map[string]any{"nodes": nodes}}}
	case q.DocID == "1508526735892416":
		id, _ := params["id"].(string)
		thread := s.findThread(id)
		if thread == nil {
			return map[string]any{"message_thread": nil}
		}
		node := make(map[string]any, len(thread)+1)
		for k, v := range thread {
			node[k] = v
		}
		if load, _ := params["load_messages"].(bool); load {
			node["messages"] = map[string]any{"nodes": s.messagesBefore(id, params)}
		}
		return map[string]any{"message_thread": node}
	case strings.Contains(q.Query, "entities_named"):
		var nodes []any
		for kind, results := range s.SearchResults {
			if !strings.Contains(q.Query, "of_type("+kind+")") {
				continue
			}
			for _, result := range results {
				nodes = append(nodes, result)
			}
		}
		return map[string]any{"entities_named": map[string]any{"results": map[string]any{"nodes": nodes}}}
	case strings.Contains(q.Query, "with_thread_name"):
		search, _ := params["search"].(string)
		var nodes []any
		for _, thread := range s.Threads {
			name, _ := thread["name"].(string)
			if search != "" && strings.Contains(strings.ToLower(name), strings.ToLower(search)) {
				nodes = append(nodes, thread)
			}
		}
		return map[string]any{"viewer": map[string]any{"results": map[string]any{"nodes": nodes}}}
	}
	return map[string]any{}
}

func (s *Server) findThread(id string) map[string]any {
	for _, thread := range s.Threads {
		key, _ := thread["thread_key"].(map[string]any)
		if key == nil {
			continue
		}
		if key["thread_fbid"] == id || key["other_user_id"] == id {
			return thread
		}
	}
	return nil
}

func (s *Server) messagesBefore(threadID string, params map[string]any) []any {
	limit := intParam(params, "message_limit")
	before, hasBefore := params["before"].(float64)
	var nodes []any
	for _, msg := range s.Messages[threadID] {
		ts, _ := strconv.ParseInt(fmt.Sprint(msg["timestamp_precise"]), 10, 64)
		if hasBefore && ts >= int64(before) {
			continue
		}
		nodes = append(nodes, msg)
	}
	if limit > 0 && len(nodes) > limit {
		nodes = nodes[len(nodes)-limit:]
	}
	return nodes
}

const loginPage = `<html><form id="login_form" method="post" action="/login.php?login_attempt=1">
<input type="hidden" name="lsd" value="lsd-value" autocomplete="off">
<input type="hidden" name="jazoest" value="2931">
<input type="email" name="email"><input type="password" name="pass">
</form></html>`

const checkpointPage = `<html><form method="post" action="/checkpoint/">
<input type="hidden" name="fb_dtsg" value="checkpoint-dtsg">
<input type="hidden" name="nh" value="nh-value">
<input type="text" name="approvals_code">
</form></html>`

func (s *Server) setSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: "c_user", Value: s.UserID, Path: "/"})
	http.SetCookie(w, &http.Cookie{Name: "xs", Value: s.XS, Path: "/", HttpOnly: true})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, call Call) {
	switch {
	case r.URL.Path == "/home.php":
		_, _ = fmt.Fprint(w, "<html>home</html>")
	case r.URL.Path == "/login.php" && r.Method == http.MethodGet:
		http.SetCookie(w, &http.Cookie{Name: "datr", Value: "datr-value", Path: "/"})
		_, _ = fmt.Fprint(w, loginPage)
	case r.URL.Path == "/login.php":
		if call.Form.Get("lsd") != "lsd-value" || call.Form.Get("email") != s.Email || call.Form.Get("pass") != s.Password {
			_, _ = fmt.Fprint(w, loginPage)
			return
		}
		if s.TwoFactorCode != "" {
			http.Redirect(w, r, "/checkpoint/?next", http.StatusFound)
			return
		}
		s.setSessionCookies(w)
		http.Redirect(w, r, "/home.php", http.StatusFound)
	case r.Method == http.MethodGet:
		_, _ = fmt.Fprint(w, checkpointPage)
	default:
		if call.Form.Get("nh") != "nh-value" || call.Form.Get("approvals_code") != s.TwoFactorCode {
			_, _ = fmt.Fprint(w, checkpointPage)
			return
		}
		s.setSessionCookies(w)
		http.Redirect(w, r, "/home.php", http.StatusFound)
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func (s *Server) handleDeltaStream(w http.ResponseWriter, r *http.Request) {
	if !s.authed(r) {
		http.Error(w, "not logged in", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.Lock()
	s.conns = append(s.conns, conn)
	s.Unlock()
	select {
	case s.connected <- struct{}{}:
	default:
	}
	// Drain client frames so control messages are processed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
