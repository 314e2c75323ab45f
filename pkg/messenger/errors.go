// Copyright 2024-2026 Aiku AI

package messenger

import (
	"errors"
	"fmt"
)

var (
	ErrNotLoggedIn        = errors.New("not logged in to Messenger")
	ErrInvalidSession     = errors.New("session is missing the c_user or xs cookie")
	ErrInvalidCredentials = errors.New("wrong email or password")
	ErrTwoFactorRequired  = errors.New("two-factor authentication code required")
	ErrNoToken            = errors.New("could not find fb_dtsg token")
)

// codeNotLoggedIn is the error code Messenger returns for expired sessions.
const codeNotLoggedIn = 1357001

// APIError is an error payload returned by a Messenger endpoint.
type APIError struct {
	Code        int64
	Summary     string
	Description string
}

func (e *APIError) Error() string {
	if e.Summary == "" && e.Description == "" {
		return fmt.Sprintf("messenger error %d", e.Code)
	}
	return fmt.Sprintf("messenger error %d: %s: %s", e.Code, e.Summary, e.Description)
}

func (e *APIError) Unwrap() error {
	if e.Code == codeNotLoggedIn {
		return ErrNotLoggedIn
	}
	return nil
}
