package envelope

import (
	"fmt"
	"net/http"
)

// APIError is the one error shape callers render. StatusCode is 0 when the
// request never got a response.
type APIError struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
	Err        error  `json:"-"`
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsAuthorization reports whether the error is a 401 or 403.
func (e *APIError) IsAuthorization() bool {
	return IsAuthorizationStatus(e.StatusCode)
}

func IsAuthorizationStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// Messages are the user facing texts used when the server sent none.
type Messages struct {
	Unauthorized          string
	Forbidden             string
	TooManyRequests       string
	ServerError           string
	ConnectionInterrupted string
	SessionExpired        string
	Generic               string
}

func DefaultMessages() Messages {
	return Messages{
		Unauthorized:          "Your session is not authorised, please sign in again.",
		Forbidden:             "You do not have permission to perform this action.",
		TooManyRequests:       "Too many requests, please try again in a moment.",
		ServerError:           "The server encountered an error, please try again later.",
		ConnectionInterrupted: "The connection was interrupted, please check your network.",
		SessionExpired:        "Your session has expired, please sign in again.",
		Generic:               "Something went wrong, please try again.",
	}
}

// StatusMessage returns the default text for an HTTP status.
func StatusMessage(status int, msgs Messages) string {
	switch {
	case status == http.StatusUnauthorized:
		return msgs.Unauthorized
	case status == http.StatusForbidden:
		return msgs.Forbidden
	case status == http.StatusTooManyRequests:
		return msgs.TooManyRequests
	case status >= 500 && status <= 599:
		return msgs.ServerError
	}
	return msgs.Generic
}
