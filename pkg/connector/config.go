// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"strings"
	"text/template"
	"time"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config holds the Messenger connector configuration.
type Config struct {
	// ProxyLinksByFacebook keeps Messenger's l.facebook.com and
	// safe_image.php wrappers on inbound links. When false they are
	// unwrapped to the target URL.
	ProxyLinksByFacebook    bool `yaml:"proxy_links_by_facebook"`
	SendLinkWithDescription bool `yaml:"send_link_with_description"`
	ShowPendingThreads      bool `yaml:"show_pending_threads"`
	ShowArchivedThreads     bool `yaml:"show_archived_threads"`

	DisplaynameTemplate string `yaml:"displayname_template"`
	ThreadListLimit     int    `yaml:"thread_list_limit"`
	// ResyncInterval re-runs the thread sync every this many seconds.
	// Zero only syncs on connect.
	ResyncInterval int `yaml:"resync_interval"`

	BackfillEnabled  bool `yaml:"backfill_enabled"`
	BackfillMaxCount int  `yaml:"backfill_max_count"`
	TypingTimeout    int  `yaml:"typing_timeout"`

	// AdminAPIAddr is the listen address for the admin HTTP API. Empty
	// disables it.
	AdminAPIAddr string `yaml:"admin_api_addr"`
	// SessionPath points to a session file written by efms-auth. Together
	// with AutoLoginOwner it logs in automatically on startup.
	SessionPath    string `yaml:"session_path"`
	AutoLoginOwner string `yaml:"auto_login_owner"`

	displaynameTemplate *template.Template `yaml:"-"`
}

// DisplaynameParams holds the parameters for rendering the displayname template.
type DisplaynameParams struct {
	Name      string
	FirstName string
	Username  string
	ChatType  messenger.ChatType
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

func (c *Config) PostProcess() error {
	var err error
	c.displaynameTemplate, err = template.New("displayname").Parse(c.DisplaynameTemplate)
	return err
}

// Flag looks up one of the boolean channel flags by its config key.
// Unknown flags read as false.
func (c *Config) Flag(name string) bool {
	switch strings.ToLower(name) {
	case "proxy_links_by_facebook":
		return c.ProxyLinksByFacebook
	case "send_link_with_description":
		return c.SendLinkWithDescription
	case "show_pending_threads":
		return c.ShowPendingThreads
	case "show_archived_threads":
		return c.ShowArchivedThreads
	default:
		return false
	}
}

// Locations returns the inbox folders thread listings should cover.
func (c *Config) Locations() []messenger.ThreadLocation {
	return messenger.Locations(c.ShowPendingThreads, c.ShowArchivedThreads)
}

func (c *Config) threadListLimit() int {
	if c.ThreadListLimit <= 0 {
		return 50
	}
	return c.ThreadListLimit
}

func (c *Config) backfillMaxCount() int {
	if c.BackfillMaxCount <= 0 {
		return 100
	}
	return c.BackfillMaxCount
}

func (c *Config) typingTimeout() time.Duration {
	if c.TypingTimeout <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TypingTimeout) * time.Second
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Bool, "proxy_links_by_facebook")
	helper.Copy(up.Bool, "send_link_with_description")
	helper.Copy(up.Bool, "show_pending_threads")
	helper.Copy(up.Bool, "show_archived_threads")
	helper.Copy(up.Str, "displayname_template")
	helper.Copy(up.Int, "thread_list_limit")
	helper.Copy(up.Int, "resync_interval")
	helper.Copy(up.Bool, "backfill_enabled")
	helper.Copy(up.Int, "backfill_max_count")
	helper.Copy(up.Int, "typing_timeout")
	helper.Copy(up.Str, "admin_api_addr")
	helper.Copy(up.Str, "session_path")
	helper.Copy(up.Str, "auto_login_owner")
}

func (mc *MessengerConnector) GetConfig() (example string, data any, upgrader up.Upgrader) {
	return ExampleConfig, &mc.Config, &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks:         nil,
		Base:           ExampleConfig,
	}
}

// FormatDisplayname generates a display name from the template and params.
func (c *Config) FormatDisplayname(params DisplaynameParams) string {
	if c.displaynameTemplate == nil {
		return params.Name
	}
	var buf strings.Builder
	if err := c.displaynameTemplate.Execute(&buf, params); err != nil {
		return params.Name
	}
	if buf.Len() == 0 {
		return params.Name
	}
	return buf.String()
}
