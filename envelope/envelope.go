// Package envelope converts the API's uniform response wrapper
// {status, statusCode, message, data} into plain data or an *APIError.
package envelope

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
)

var ErrInvalidEnvelope = apperrors.ErrInvalidEnvelope

// Envelope is the wire shape of every JSON response.
type Envelope struct {
	Status     bool            `json:"status"`
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Decode parses an envelope. A body that is not a JSON object is an error.
func Decode(body []byte) (*Envelope, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, ErrInvalidEnvelope
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperrors.Wrapf(ErrInvalidEnvelope, "decode: %v", err)
	}
	return &env, nil
}

// Unwrap returns the data of a successful (2xx) response. An envelope with
// status false becomes an *APIError carrying the server message verbatim.
func Unwrap[T any](httpStatus int, body []byte, msgs Messages) (T, error) {
	var out T

	env, err := Decode(body)
	if err != nil {
		return out, &APIError{Message: msgs.Generic, StatusCode: httpStatus, Err: err}
	}

	if !env.Status {
		statusCode := env.StatusCode
		if statusCode == 0 {
			statusCode = httpStatus
		}
		message := env.Message
		if message == "" {
			message = StatusMessage(statusCode, msgs)
		}
		return out, &APIError{Message: message, StatusCode: statusCode}
	}

	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return out, nil
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, &APIError{
			Message:    msgs.Generic,
			StatusCode: httpStatus,
			Err:        apperrors.Wrapf(ErrInvalidEnvelope, "decode data: %v", err),
		}
	}
	return out, nil
}

// Normalize builds the error for a non-2xx response. The message is the
// server's when it sent one, otherwise the default for the status code.
func Normalize(httpStatus int, body []byte, msgs Messages) *APIError {
	apiErr := &APIError{StatusCode: httpStatus}
	if env, err := Decode(body); err == nil {
		apiErr.Message = strings.TrimSpace(env.Message)
		if env.StatusCode != 0 {
			apiErr.StatusCode = env.StatusCode
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = StatusMessage(httpStatus, msgs)
	}
	return apiErr
}

// TransportError describes a request that never got a response.
func TransportError(err error, msgs Messages) *APIError {
	return &APIError{Message: msgs.ConnectionInterrupted, Err: err}
}

var binaryContentTypes = map[string]struct{}{
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
	"application/vnd.ms-excel":                                          {},
	"application/octet-stream":                                          {},
	"application/pdf":                                                   {},
	"application/zip":                                                   {},
	"text/csv":                                                          {},
}

// IsBinary reports whether a response carries a file rather than an envelope.
func IsBinary(header http.Header) bool {
	if disposition := header.Get("Content-Disposition"); disposition != "" {
		if kind, _, err := mime.ParseMediaType(disposition); err == nil && kind == "attachment" {
			return true
		}
	}
	mediaType, _, err := mime.ParseMediaType(header.Get("Content-Type"))
	if err != nil {
		return false
	}
	_, ok := binaryContentTypes[mediaType]
	return ok
}
