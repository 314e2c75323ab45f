// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"
	"strings"
	"time"

	"maunium.net/go/mautrix/bridgev2/commands"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

const searchResultLimit = 10

// HelpSectionMessenger groups the Messenger-specific bot commands.
var HelpSectionMessenger = commands.HelpSection{Name: "Facebook Messenger", Order: 50}

func (mc *MessengerConnector) commandHandlers() []commands.CommandHandler {
	return []commands.CommandHandler{
		&commands.FullHandler{
			Func: mc.cmdThreadsList,
			Name: "threads-list",
			Help: commands.HelpMeta{
				Section:     HelpSectionMessenger,
				Description: "List the Messenger threads visible with the current folder settings",
			},
			RequiresLogin: true,
		},
		mc.searchCommand("search-users", messenger.SearchUsers, "Search for Messenger users by name"),
		mc.searchCommand("search-groups", messenger.SearchGroups, "Search for Messenger groups by name"),
		mc.searchCommand("search-pages", messenger.SearchPages, "Search for Facebook pages by name"),
		mc.searchCommand("search-threads", messenger.SearchThreads, "Search your Messenger threads by name"),
	}
}

func (mc *MessengerConnector) searchCommand(name string, kind messenger.SearchKind, description string) *commands.FullHandler {
	return &commands.FullHandler{
		Func: func(ce *commands.Event) {
			mc.cmdSearch(ce, name, kind)
		},
		Name: name,
		Help: commands.HelpMeta{
			Section:     HelpSectionMessenger,
			Description: description,
			Args:        "<_keyword_>",
		},
		RequiresLogin: true,
	}
}

// commandClient returns the Messenger client of the command sender's
// default login, replying with an error if there is none.
func commandClient(ce *commands.Event) *MessengerClient {
	login := ce.User.GetDefaultLogin()
	if login == nil {
		ce.Reply("You're not logged in to Messenger")
		return nil
	}
	client, ok := login.Client.(*MessengerClient)
	if !ok || !client.IsLoggedIn() {
		ce.Reply("Your Messenger session is not connected")
		return nil
	}
	return client
}

func (mc *MessengerConnector) cmdThreadsList(ce *commands.Event) {
	client := commandClient(ce)
	if client == nil {
		return
	}
	threads, err := client.client.ThreadList(ce.Ctx, mc.Config.threadListLimit(), time.Time{}, mc.Config.Locations()...)
	if err != nil {
		ce.Reply("Failed to list threads: %v", err)
		return
	}
	client.cacheThreads(threads...)
	ce.Reply("%s", formatThreadList(threads, client.userID))
}

func (mc *MessengerConnector) cmdSearch(ce *commands.Event, name string, kind messenger.SearchKind) {
	keyword := strings.TrimSpace(strings.Join(ce.Args, " "))
	if keyword == "" {
		ce.Reply("%s", searchUsage(name))
		return
	}
	client := commandClient(ce)
	if client == nil {
		return
	}
	results, err := client.client.Search(ce.Ctx, kind, keyword, searchResultLimit)
	if err != nil {
		ce.Reply("Search failed: %v", err)
		return
	}
	ce.Reply("%s", formatSearchResults(keyword, results, client.userID))
}

func searchUsage(name string) string {
	return fmt.Sprintf("**Usage:** `%s <keyword>`", name)
}

// threadDisplayName names a thread, falling back to its other members.
func threadDisplayName(thread *messenger.Thread, selfID string) string {
	if thread.Name != "" {
		return thread.Name
	}
	var names []string
	for _, p := range thread.Participants {
		if p.ID != selfID && p.Name != "" {
			names = append(names, p.Name)
		}
	}
	if len(names) == 0 {
		return thread.ID
	}
	return strings.Join(names, ", ")
}

func formatThreadLine(thread *messenger.Thread, selfID string) string {
	return fmt.Sprintf("* %s (%s) `%s`", threadDisplayName(thread, selfID), thread.Type, thread.ID)
}

func formatThreadList(threads []*messenger.Thread, selfID string) string {
	if len(threads) == 0 {
		return "No threads found"
	}
	lines := make([]string, 0, len(threads)+1)
	lines = append(lines, fmt.Sprintf("%d threads:", len(threads)))
	for _, thread := range threads {
		lines = append(lines, formatThreadLine(thread, selfID))
	}
	return strings.Join(lines, "\n")
}

func formatSearchResults(keyword string, results []*messenger.Thread, selfID string) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results for %q", keyword)
	}
	if len(results) > searchResultLimit {
		results = results[:searchResultLimit]
	}
	lines := make([]string, 0, len(results)+1)
	lines = append(lines, fmt.Sprintf("Results for %q:", keyword))
	for _, thread := range results {
		lines = append(lines, formatThreadLine(thread, selfID))
	}
	return strings.Join(lines, "\n")
}
