package domain

import "errors"

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrSecretNotFound       = errors.New("secret not found")
	ErrSessionTokenNotFound = errors.New("session token not found")
	ErrEmailInUse           = errors.New("email already registered")
)

var (
	ErrThrottleUnavailable = errors.New("throttle unavailable")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrHandshakeFailure    = errors.New("handshake failure")
	ErrNetworkFailure      = errors.New("network failure")
)
