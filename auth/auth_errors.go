package auth

import "errors"

var (
	InvalidCredentialsErr = errors.New("invalid credentials")
	IDTokenRejectedErr    = errors.New("id token rejected")
	UnexpectedResponseErr = errors.New("unexpected authentication response")
)
