package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes of the sign-in pipeline.
// Callers branch with errors.Is; the *Error wrapper carries the
// user-readable detail.
var (
	// ErrStateMismatch: callback state differs from the session nonce (possible CSRF)
	ErrStateMismatch = errors.New("state mismatch")
	// ErrCallbackTimeout: browser flow abandoned, no callback arrived in time
	ErrCallbackTimeout = errors.New("callback timeout")
	// ErrDeviceCodeExpired: user did not complete device sign-in before the code expired
	ErrDeviceCodeExpired = errors.New("device code expired")
	// ErrTokenExchangeFailed: identity provider rejected the credentials
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	// ErrXboxProfile: account ineligible at the XSTS hop; not recoverable by retry
	ErrXboxProfile = errors.New("xbox profile error")
	// ErrNoMinecraftLicense: the Microsoft account owns no Minecraft license
	ErrNoMinecraftLicense = errors.New("no minecraft license")
	// ErrNetwork: transient transport failure, already retried once
	ErrNetwork = errors.New("network error")
	// ErrRefreshTokenRevoked: silent refresh impossible, interactive re-login required
	ErrRefreshTokenRevoked = errors.New("refresh token revoked")
)

// Error is a structured authentication error. Message is safe to show
// to the user verbatim; Err is one of the sentinels above.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage extracts a displayable message from any pipeline error
func UserMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return err.Error()
}

func stateMismatch() *Error {
	return &Error{
		Code:    "STATE_MISMATCH",
		Message: "the sign-in response did not match this sign-in attempt",
		Err:     ErrStateMismatch,
	}
}

func callbackTimeout() *Error {
	return &Error{
		Code:    "CALLBACK_TIMEOUT",
		Message: "the browser sign-in was not completed in time",
		Err:     ErrCallbackTimeout,
	}
}

func deviceCodeExpired() *Error {
	return &Error{
		Code:    "DEVICE_CODE_EXPIRED",
		Message: "the sign-in code expired before it was used",
		Err:     ErrDeviceCodeExpired,
	}
}

func tokenExchangeFailed(detail string, cause error) *Error {
	return &Error{
		Code:    "TOKEN_EXCHANGE_FAILED",
		Message: detail,
		Err:     fmt.Errorf("%w: %w", ErrTokenExchangeFailed, cause),
	}
}

func noMinecraftLicense() *Error {
	return &Error{
		Code:    "NO_MINECRAFT_LICENSE",
		Message: "this Microsoft account does not own Minecraft",
		Err:     ErrNoMinecraftLicense,
	}
}

func networkError(cause error) *Error {
	return &Error{
		Code:    "NETWORK_ERROR",
		Message: "could not reach the authentication servers",
		Err:     fmt.Errorf("%w: %w", ErrNetwork, cause),
	}
}

func refreshTokenRevoked(cause error) *Error {
	return &Error{
		Code:    "REFRESH_TOKEN_REVOKED",
		Message: "the saved sign-in is no longer valid, please sign in again",
		Err:     fmt.Errorf("%w: %w", ErrRefreshTokenRevoked, cause),
	}
}

// XSTS XErr codes that indicate an ineligible Xbox account. These are
// surfaced verbatim because no retry can fix them.
const (
	xerrNoXboxProfile      = 2148916233
	xerrRegionUnavailable  = 2148916235
	xerrAdultVerification  = 2148916236
	xerrAdultVerification2 = 2148916237
	xerrChildAccount       = 2148916238
)

func xboxProfileError(xerr int64) *Error {
	var msg string
	switch xerr {
	case xerrNoXboxProfile:
		msg = "this Microsoft account has no Xbox profile; create one at xbox.com and try again"
	case xerrRegionUnavailable:
		msg = "Xbox Live is not available in this account's region"
	case xerrAdultVerification, xerrAdultVerification2:
		msg = "this account needs adult verification on the Xbox page"
	case xerrChildAccount:
		msg = "this account is a child account and must be added to a family by an adult"
	default:
		msg = fmt.Sprintf("Xbox sign-in refused (code %d)", xerr)
	}
	return &Error{
		Code:    "XBOX_PROFILE_ERROR",
		Message: msg,
		Err:     ErrXboxProfile,
	}
}
