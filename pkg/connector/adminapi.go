// Copyright 2024-2026 Aiku AI

package connector

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

// ThreadEntry is one thread in the admin API thread list.
type ThreadEntry struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	ChatType          messenger.ChatType `json:"chat_type"`
	ProfilePictureURL string             `json:"profile_picture_url,omitempty"`
	Folder            string             `json:"folder,omitempty"`
	LastActivity      *time.Time         `json:"last_activity,omitempty"`
}

func (mc *MessengerConnector) logger() zerolog.Logger {
	if mc.Bridge == nil {
		return zerolog.Nop()
	}
	return mc.Bridge.Log.With().Str("component", "admin_api").Logger()
}

func (mc *MessengerConnector) adminMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/threads", mc.HandleListThreads)
	mux.HandleFunc("/api/resync", mc.HandleResync)
	return mux
}

// HandleListThreads is an HTTP handler for GET /api/threads. It lists the
// cached threads of the first connected login.
func (mc *MessengerConnector) HandleListThreads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	clients := mc.connectedClients()
	if len(clients) == 0 {
		http.Error(w, "no connected logins", http.StatusServiceUnavailable)
		return
	}
	client := clients[0]
	threads := client.Threads()
	slices.SortFunc(threads, func(a, b *messenger.Thread) int {
		if c := b.LastActivity.Compare(a.LastActivity); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	entries := make([]ThreadEntry, 0, len(threads))
	for _, thread := range threads {
		entry := ThreadEntry{
			ID:                thread.ID,
			Name:              threadDisplayName(thread, client.userID),
			ChatType:          thread.Type,
			ProfilePictureURL: thread.PictureURL,
			Folder:            string(thread.Folder),
		}
		if !thread.LastActivity.IsZero() {
			entry.LastActivity = &thread.LastActivity
		}
		entries = append(entries, entry)
	}
	mc.writeJSON(w, entries)
}

// HandleResync is an HTTP handler for POST /api/resync. It re-runs the
// thread sync of every connected login.
func (mc *MessengerConnector) HandleResync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	log := mc.logger()
	log.Info().Str("remote_addr", r.RemoteAddr).Msg("Thread resync requested")

	var synced, failed int
	for _, client := range mc.connectedClients() {
		if err := client.syncThreads(r.Context()); err != nil {
			log.Warn().Err(err).Str("login_id", string(client.userLogin.ID)).Msg("Thread resync failed")
			failed++
			continue
		}
		synced++
	}
	mc.writeJSON(w, map[string]int{
		"synced": synced,
		"failed": failed,
	})
}

func (mc *MessengerConnector) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log := mc.logger()
		log.Warn().Err(err).Msg("Failed to write admin API response")
	}
}
