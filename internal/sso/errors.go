package sso

import (
	"errors"
	"fmt"
)

// Sentinel errors. Neither is retried: both usually mean wrong credentials
// or a provider-side page change.
var (
	// ErrProtocol means a page or response lacked an element the flow needs.
	ErrProtocol = errors.New("sso: login protocol error")

	// ErrLogin means the identity provider rejected the account.
	ErrLogin = errors.New("sso: login failed")
)

// LoginError describes which step of the login failed.
type LoginError struct {
	Step   Step
	Reason string
	Kind   error // ErrProtocol or ErrLogin
	Err    error // underlying cause, may be nil
}

func (e *LoginError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sso: %s: %s: %v", e.Step, e.Reason, e.Err)
	}

	return fmt.Sprintf("sso: %s: %s", e.Step, e.Reason)
}

func (e *LoginError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	return errs
}

func protocolError(step Step, reason string, err error) error {
	return &LoginError{Step: step, Reason: reason, Kind: ErrProtocol, Err: err}
}

func loginError(step Step, reason string) error {
	return &LoginError{Step: step, Reason: reason, Kind: ErrLogin}
}
