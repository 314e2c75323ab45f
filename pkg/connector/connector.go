// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/commands"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

// autoLoginDelay is how long autoLogin waits for the bridge to load
// existing logins before deciding whether to import the session file.
var autoLoginDelay = 5 * time.Second

// MessengerConnector implements bridgev2.NetworkConnector for Facebook Messenger.
type MessengerConnector struct {
	Bridge *bridgev2.Bridge
	Config Config
	// ClientOptions overrides the Messenger endpoints and HTTP client used
	// for every login. The zero value talks to production.
	ClientOptions messenger.Options

	clientsLock sync.RWMutex
	clients     map[networkid.UserLoginID]*MessengerClient

	adminServer *http.Server
}

var _ bridgev2.NetworkConnector = (*MessengerConnector)(nil)

func (mc *MessengerConnector) Init(bridge *bridgev2.Bridge) {
	mc.Bridge = bridge
}

func (mc *MessengerConnector) Start(ctx context.Context) error {
	if err := mc.Config.PostProcess(); err != nil {
		return fmt.Errorf("failed to post-process config: %w", err)
	}
	if proc, ok := mc.Bridge.Commands.(*commands.Processor); ok {
		proc.AddHandlers(mc.commandHandlers()...)
	}
	if mc.Config.AdminAPIAddr != "" {
		mc.adminServer = &http.Server{
			Addr:         mc.Config.AdminAPIAddr,
			Handler:      mc.adminMux(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			mc.Bridge.Log.Info().Str("addr", mc.Config.AdminAPIAddr).Msg("Starting bridge admin API")
			if err := mc.adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				mc.Bridge.Log.Error().Err(err).Msg("Bridge admin API error")
			}
		}()
	}
	go mc.autoLogin(ctx)
	return nil
}

// newAPIClient builds a Messenger API client for a stored session.
func (mc *MessengerConnector) newAPIClient(sess *messenger.Session) (*messenger.Client, error) {
	opts := mc.ClientOptions
	if mc.Bridge != nil {
		opts.Log = mc.Bridge.Log.With().Str("component", "messenger").Logger()
	}
	return messenger.NewClient(sess, opts)
}

// validateSession checks that a session is accepted by Messenger and
// returns the client together with the logged-in user's profile.
func (mc *MessengerConnector) validateSession(ctx context.Context, sess *messenger.Session) (*messenger.Client, *messenger.User, error) {
	client, err := mc.newAPIClient(sess)
	if err != nil {
		return nil, nil, err
	}
	me, err := client.FetchOwnProfile(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("session rejected: %w", err)
	}
	return client, me, nil
}

// finishLogin stores a validated session as a user login and connects it.
func (mc *MessengerConnector) finishLogin(ctx context.Context, user *bridgev2.User, client *messenger.Client, me *messenger.User) (*bridgev2.UserLogin, error) {
	ul, err := user.NewLogin(ctx, &database.UserLogin{
		ID:         MakeUserLoginID(me.ID),
		RemoteName: me.Name,
		Metadata:   &UserLoginMetadata{Session: client.Session()},
	}, &bridgev2.NewLoginParams{
		LoadUserLogin: mc.LoadUserLogin,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create login: %w", err)
	}
	fbClient := ul.Client.(*MessengerClient)
	fbClient.client = client
	fbClient.Connect(ul.Log.WithContext(context.WithoutCancel(ctx)))
	return ul, nil
}

// autoLogin imports the session file written by efms-auth for the
// configured owner when the bridge has no logins yet.
func (mc *MessengerConnector) autoLogin(ctx context.Context) {
	if mc.Config.SessionPath == "" || mc.Config.AutoLoginOwner == "" {
		return
	}
	log := mc.Bridge.Log.With().Str("action", "auto_login").Logger()

	select {
	case <-time.After(autoLoginDelay):
	case <-ctx.Done():
		return
	}

	existingUsers, err := mc.Bridge.DB.UserLogin.GetAllUserIDsWithLogins(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to check existing logins")
		return
	}
	if len(existingUsers) > 0 {
		log.Debug().Int("count", len(existingUsers)).Msg("Existing logins found, skipping auto-login")
		return
	}

	sess, err := messenger.LoadSession(mc.Config.SessionPath)
	if err != nil {
		log.Error().Err(err).Str("path", mc.Config.SessionPath).Msg("Failed to read session file")
		return
	}
	client, me, err := mc.validateSession(ctx, sess)
	if err != nil {
		log.Error().Err(err).Msg("Session file was not accepted, run efms-auth again")
		return
	}
	user, err := mc.Bridge.GetUserByMXID(ctx, id.UserID(mc.Config.AutoLoginOwner))
	if err != nil {
		log.Error().Err(err).Msg("Failed to get bridge user")
		return
	}
	if _, err = mc.finishLogin(ctx, user, client, me); err != nil {
		log.Error().Err(err).Msg("Failed to create login")
		return
	}
	log.Info().Str("fb_user_id", me.ID).Str("owner", mc.Config.AutoLoginOwner).Msg("Auto-login complete")
}

func (mc *MessengerConnector) LoadUserLogin(_ context.Context, login *bridgev2.UserLogin) error {
	login.Client = NewMessengerClient(login, mc)
	return nil
}

func (mc *MessengerConnector) registerClient(client *MessengerClient) {
	mc.clientsLock.Lock()
	defer mc.clientsLock.Unlock()
	if mc.clients == nil {
		mc.clients = make(map[networkid.UserLoginID]*MessengerClient)
	}
	mc.clients[client.userLogin.ID] = client
}

func (mc *MessengerConnector) unregisterClient(client *MessengerClient) {
	mc.clientsLock.Lock()
	defer mc.clientsLock.Unlock()
	if mc.clients[client.userLogin.ID] == client {
		delete(mc.clients, client.userLogin.ID)
	}
}

// connectedClients returns the connected clients ordered by login ID.
func (mc *MessengerConnector) connectedClients() []*MessengerClient {
	mc.clientsLock.RLock()
	defer mc.clientsLock.RUnlock()
	ids := make([]networkid.UserLoginID, 0, len(mc.clients))
	for loginID := range mc.clients {
		ids = append(ids, loginID)
	}
	slices.Sort(ids)
	out := make([]*MessengerClient, len(ids))
	for i, loginID := range ids {
		out[i] = mc.clients[loginID]
	}
	return out
}

func (mc *MessengerConnector) GetName() bridgev2.BridgeName {
	return bridgev2.BridgeName{
		DisplayName:      "Facebook Messenger",
		NetworkURL:       "https://www.messenger.com",
		NetworkIcon:      "mxc://maunium.net/ygtkteZsXnGJLJHRchUwYWak",
		NetworkID:        "facebook",
		BeeperBridgeType: "fbmessenger",
		DefaultPort:      29319,
	}
}

func (mc *MessengerConnector) GetDBMetaTypes() database.MetaTypes {
	return database.MetaTypes{
		Portal: func() any {
			return &PortalMetadata{}
		},
		UserLogin: func() any {
			return &UserLoginMetadata{}
		},
	}
}

func (mc *MessengerConnector) GetCapabilities() *bridgev2.NetworkGeneralCapabilities {
	return &bridgev2.NetworkGeneralCapabilities{
		DisappearingMessages: false,
		AggressiveUpdateInfo: false,
	}
}

func (mc *MessengerConnector) GetBridgeInfoVersion() (info, capabilities int) {
	return 1, 1
}

// UserLoginMetadata stores the Messenger session of a login.
type UserLoginMetadata struct {
	Session *messenger.Session `json:"session"`
}

// PortalMetadata stores the vendor attributes of a thread.
type PortalMetadata struct {
	ChatType          messenger.ChatType `json:"chat_type,omitempty"`
	ProfilePictureURL string             `json:"profile_picture_url,omitempty"`
}

// ParseUserLoginID extracts the Messenger user ID from a UserLoginID.
func ParseUserLoginID(loginID networkid.UserLoginID) string {
	return string(loginID)
}
