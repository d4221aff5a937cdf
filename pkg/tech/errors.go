package tech

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrZoneNotFound is returned when a zone id was never seen for a module.
	ErrZoneNotFound = errors.New("zone not found")
	// ErrTileNotFound is returned when a tile id was never seen for a module.
	ErrTileNotFound = errors.New("tile not found")
	// ErrUnknownCommand is returned by Run for a command name it does not know.
	ErrUnknownCommand = errors.New("unknown command")
)

// APIError is returned for any non-success response from the eModul API and
// for requests rejected locally (401 when not authenticated, 400 when an
// argument is out of range). Status carries the raw response body.
type APIError struct {
	StatusCode int
	Status     string

	// token is the bearer token the request carried, empty if none
	token string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tech api error %d: %s", e.StatusCode, e.Status)
}

// LoginError is returned when the login exchange fails for any reason.
type LoginError struct {
	StatusCode int
	Status     string
	err        error
}

func (e *LoginError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("tech login error %d: %s: %v", e.StatusCode, e.Status, e.err)
	}
	return fmt.Sprintf("tech login error %d: %s", e.StatusCode, e.Status)
}

// Unwrap returns the transport error that caused the login failure.
func (e *LoginError) Unwrap() error {
	return e.err
}

func errUnauthorized() error {
	return &APIError{StatusCode: http.StatusUnauthorized, Status: "Unauthorized"}
}

func errInvalid(field, description string) error {
	return &APIError{StatusCode: http.StatusBadRequest, Status: field + " " + description}
}

// StatusCode returns the status code carried by an APIError or LoginError in
// the chain of err, or 0 if there is none.
func StatusCode(err error) int {
	var le *LoginError
	if errors.As(err, &le) {
		return le.StatusCode
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

// RejectedToken returns the bearer token that a 401 in the chain of err was
// answered for. ok is false if err is not such a rejection. The token is
// empty when the request was refused because the client had no session.
func RejectedToken(err error) (token string, ok bool) {
	var ae *APIError
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusUnauthorized {
		return "", false
	}
	return ae.token, true
}

// IsUnauthorized returns true if err is a login failure or an API error
// with status 401.
func IsUnauthorized(err error) bool {
	var le *LoginError
	if errors.As(err, &le) {
		return true
	}
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusUnauthorized
}
