// Package apierror defines the seven-kind error taxonomy (§4.1, §4.9)
// and the rendering quartet that presents an error as JSON, an OAuth2
// JSON error body, or a redirect — grounded on dex's
// writeAPIError/writeTokenError/writeAuthError/redirectAuthError split
// (one function per *presentation*, not per endpoint).
package apierror

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
)

// Kind is one of the seven taxonomy kinds every endpoint error maps
// onto.
type Kind string

const (
	KindBadRequest          Kind = "BAD_REQUEST"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindForbidden           Kind = "FORBIDDEN"
	KindNotFound            Kind = "NOT_FOUND"
	KindUnprocessableEntity Kind = "UNPROCESSABLE_ENTITY"
	KindTooManyRequests     Kind = "TOO_MANY_REQUESTS"
	KindInternalServerError Kind = "INTERNAL_SERVER_ERROR"
)

// statusByKind is the HTTP status each kind renders as in JSON
// responses.
var statusByKind = map[Kind]int{
	KindBadRequest:          http.StatusBadRequest,
	KindUnauthorized:        http.StatusUnauthorized,
	KindForbidden:           http.StatusForbidden,
	KindNotFound:            http.StatusNotFound,
	KindUnprocessableEntity: http.StatusUnprocessableEntity,
	KindTooManyRequests:     http.StatusTooManyRequests,
	KindInternalServerError: http.StatusInternalServerError,
}

// Error is the typed error every dispatch endpoint returns. Code is a
// stable, machine-readable identifier (e.g. "INVALID_CREDENTIALS"); it
// is distinct from Kind, which only selects the HTTP-level presentation.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// New constructs an Error with the given kind/code/message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func BadRequest(code, message string) *Error { return New(KindBadRequest, code, message) }
func Unauthorized(code, message string) *Error { return New(KindUnauthorized, code, message) }
func Forbidden(code, message string) *Error { return New(KindForbidden, code, message) }
func NotFound(code, message string) *Error { return New(KindNotFound, code, message) }
func UnprocessableEntity(code, message string) *Error {
	return New(KindUnprocessableEntity, code, message)
}
func TooManyRequests(code, message string) *Error { return New(KindTooManyRequests, code, message) }
func Internal(code, message string) *Error { return New(KindInternalServerError, code, message) }

// As extracts an *Error from err, falling back to a generic internal
// error so every render path has a well-formed Error to work with.
func As(err error) *Error {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr
	}
	return Internal("INTERNAL_SERVER_ERROR", "internal server error")
}

type jsonBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON renders err as the dispatcher's standard JSON error body,
// the taxonomy-driven analogue of dex's writeAPIError.
func WriteJSON(w http.ResponseWriter, err error) {
	aerr := As(err)
	status, ok := statusByKind[aerr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonBody{Code: aerr.Code, Message: aerr.Message})
}

// oauthBody is the RFC 6749 §5.2 error body shape, grounded on dex's
// oauth2.Error field set.
type oauthBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	State            string `json:"state,omitempty"`
}

// oauthErrorCode maps a taxonomy Kind onto the OAuth2 error identifier a
// token/authorize endpoint must emit, mirroring dex's oauth2.Error type
// constants.
func oauthErrorCode(kind Kind) string {
	switch kind {
	case KindUnauthorized:
		return "invalid_client"
	case KindForbidden:
		return "access_denied"
	case KindNotFound, KindBadRequest, KindUnprocessableEntity:
		return "invalid_request"
	case KindTooManyRequests:
		return "slow_down"
	default:
		return "server_error"
	}
}

// WriteTokenError renders err as a JSON /token error response,
// mirroring dex's writeTokenError (including the WWW-Authenticate
// header on invalid_client).
func WriteTokenError(w http.ResponseWriter, err error, state string) {
	aerr := As(err)
	code := oauthErrorCode(aerr.Kind)
	status := http.StatusBadRequest
	if code == "invalid_client" {
		status = http.StatusUnauthorized
		w.Header().Set("WWW-Authenticate", "Basic")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(oauthBody{Error: code, ErrorDescription: aerr.Message, State: state})
}

// WriteAuthError renders err as a JSON /authorize error
// response for failures that occur before a redirect_uri can be
// trusted, mirroring dex's writeAuthError.
func WriteAuthError(w http.ResponseWriter, err error, state string) {
	aerr := As(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(oauthBody{Error: oauthErrorCode(aerr.Kind), ErrorDescription: aerr.Message, State: state})
}

// RedirectAuthError renders err as a redirect back to redirectURL with
// error/error_description/state query parameters, mirroring dex's
// redirectAuthError — used once redirect_uri has been validated against
// the client's registered set.
func RedirectAuthError(w http.ResponseWriter, r *http.Request, err error, state string, redirectURL url.URL) {
	aerr := As(err)
	q := redirectURL.Query()
	q.Set("error", oauthErrorCode(aerr.Kind))
	if aerr.Message != "" {
		q.Set("error_description", aerr.Message)
	}
	if state != "" {
		q.Set("state", state)
	}
	redirectURL.RawQuery = q.Encode()
	http.Redirect(w, r, redirectURL.String(), http.StatusSeeOther)
}
