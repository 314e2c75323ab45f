// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"maunium.net/go/mautrix/bridgev2"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

const (
	loginFlowPassword = "password"
	loginFlowSession  = "session"
)

// GetLoginFlows returns the available login methods for the bridge.
func (mc *MessengerConnector) GetLoginFlows() []bridgev2.LoginFlow {
	return []bridgev2.LoginFlow{
		{
			Name:        "Password",
			Description: "Log in with your Facebook email and password",
			ID:          loginFlowPassword,
		},
		{
			Name:        "Session",
			Description: "Import a session file created with efms-auth",
			ID:          loginFlowSession,
		},
	}
}

// CreateLogin starts a new login process for the given flow.
func (mc *MessengerConnector) CreateLogin(_ context.Context, user *bridgev2.User, flowID string) (bridgev2.LoginProcess, error) {
	switch flowID {
	case loginFlowPassword:
		return &PasswordLoginProcess{connector: mc, user: user}, nil
	case loginFlowSession:
		return &SessionLoginProcess{connector: mc, user: user}, nil
	default:
		return nil, fmt.Errorf("unknown login flow: %s", flowID)
	}
}

// PasswordLoginProcess implements email and password login with an
// optional two-factor step.
type PasswordLoginProcess struct {
	connector *MessengerConnector
	user      *bridgev2.User
	challenge *messenger.LoginChallenge
}

var _ bridgev2.LoginProcessUserInput = (*PasswordLoginProcess)(nil)

func (p *PasswordLoginProcess) Start(_ context.Context) (*bridgev2.LoginStep, error) {
	return &bridgev2.LoginStep{
		Type:         bridgev2.LoginStepTypeUserInput,
		StepID:       "fi.mau.fbmessenger.login.credentials",
		Instructions: "Enter your Facebook credentials",
		UserInputParams: &bridgev2.LoginUserInputParams{
			Fields: []bridgev2.LoginInputDataField{
				{
					Type: bridgev2.LoginInputFieldTypeEmail,
					ID:   "email",
					Name: "Email or phone",
				},
				{
					Type: bridgev2.LoginInputFieldTypePassword,
					ID:   "password",
					Name: "Password",
				},
			},
		},
	}, nil
}

func (p *PasswordLoginProcess) SubmitUserInput(ctx context.Context, input map[string]string) (*bridgev2.LoginStep, error) {
	var sess *messenger.Session
	var err error
	if p.challenge != nil {
		sess, err = p.challenge.Submit(ctx, input["code"])
		if err != nil {
			return nil, fmt.Errorf("two-factor verification failed: %w", err)
		}
	} else {
		email := strings.TrimSpace(input["email"])
		if email == "" || input["password"] == "" {
			return nil, fmt.Errorf("email and password are required")
		}
		var challenge *messenger.LoginChallenge
		sess, challenge, err = messenger.Login(ctx, p.connector.loginOptions(), email, input["password"])
		if errors.Is(err, messenger.ErrTwoFactorRequired) && challenge != nil {
			p.challenge = challenge
			return &bridgev2.LoginStep{
				Type:         bridgev2.LoginStepTypeUserInput,
				StepID:       "fi.mau.fbmessenger.login.2fa",
				Instructions: "Enter the code from your authentication app or text message",
				UserInputParams: &bridgev2.LoginUserInputParams{
					Fields: []bridgev2.LoginInputDataField{
						{
							Type: bridgev2.LoginInputFieldType2FACode,
							ID:   "code",
							Name: "Code",
						},
					},
				},
			}, nil
		} else if err != nil {
			return nil, fmt.Errorf("login failed: %w", err)
		}
	}
	return p.connector.completeLogin(ctx, p.user, sess)
}

func (p *PasswordLoginProcess) Cancel() {}

// SessionLoginProcess imports a session exported by efms-auth.
type SessionLoginProcess struct {
	connector *MessengerConnector
	user      *bridgev2.User
}

var _ bridgev2.LoginProcessUserInput = (*SessionLoginProcess)(nil)

func (s *SessionLoginProcess) Start(_ context.Context) (*bridgev2.LoginStep, error) {
	return &bridgev2.LoginStep{
		Type:         bridgev2.LoginStepTypeUserInput,
		StepID:       "fi.mau.fbmessenger.login.session",
		Instructions: "Run efms-auth and paste the contents of the session file it writes",
		UserInputParams: &bridgev2.LoginUserInputParams{
			Fields: []bridgev2.LoginInputDataField{
				{
					Type: bridgev2.LoginInputFieldTypeToken,
					ID:   "session",
					Name: "Session JSON",
				},
			},
		},
	}, nil
}

func (s *SessionLoginProcess) SubmitUserInput(ctx context.Context, input map[string]string) (*bridgev2.LoginStep, error) {
	sess, err := messenger.ParseSession([]byte(input["session"]))
	if err != nil {
		return nil, err
	}
	return s.connector.completeLogin(ctx, s.user, sess)
}

func (s *SessionLoginProcess) Cancel() {}

func (mc *MessengerConnector) loginOptions() messenger.Options {
	opts := mc.ClientOptions
	if mc.Bridge != nil {
		opts.Log = mc.Bridge.Log.With().Str("component", "messenger_login").Logger()
	}
	return opts
}

// completeLogin validates a fresh session, stores the login and returns
// the final login step.
func (mc *MessengerConnector) completeLogin(ctx context.Context, user *bridgev2.User, sess *messenger.Session) (*bridgev2.LoginStep, error) {
	client, me, err := mc.validateSession(ctx, sess)
	if err != nil {
		return nil, err
	}
	ul, err := mc.finishLogin(ctx, user, client, me)
	if err != nil {
		return nil, err
	}
	return &bridgev2.LoginStep{
		Type:         bridgev2.LoginStepTypeComplete,
		StepID:       "fi.mau.fbmessenger.login.complete",
		Instructions: fmt.Sprintf("Logged in as %s (%s)", me.Name, me.ID),
		CompleteParams: &bridgev2.LoginCompleteParams{
			UserLoginID: ul.ID,
			UserLogin:   ul,
		},
	}, nil
}
