package tech

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/techbridge/techbridge/pkg/log"
	"github.com/techbridge/techbridge/pkg/types"
)

const loginPath = "authentication"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// userID accepts the user id as either a JSON number or a string.
type userID string

func (u *userID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*u = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = userID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*u = userID(n.String())
	return nil
}

type loginResult struct {
	Authenticated bool   `json:"authenticated"`
	UserID        userID `json:"user_id"`
	Token         string `json:"token"`
}

// Authenticate performs the login exchange and replaces any previous session.
// Every transport failure is reported as a *LoginError with status 401. A
// response that is not authenticated leaves the client unauthenticated and
// returns false without an error.
func (c *Client) Authenticate(ctx context.Context, username, password string) (bool, error) {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	var res loginResult
	if err := c.post(ctx, loginPath, loginRequest{Username: username, Password: password}, &res); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "tech login failed", slog.Any("error", err))
		return false, &LoginError{StatusCode: http.StatusUnauthorized, Status: "Unauthorized", err: err}
	}

	s := types.Session{UserID: string(res.UserID), Token: res.Token}
	ok := res.Authenticated && s.Valid()
	if ok {
		c.setSession(s, true)
		log.Ctx(ctx).DebugContext(ctx, "tech login success", slog.String("userID", s.UserID))
	} else {
		c.setSession(types.Session{}, false)
		log.Ctx(ctx).WarnContext(ctx, "tech login rejected", slog.String("username", username))
	}
	return ok, nil
}

// Restore re-establishes a stored session without a network call.
func (c *Client) Restore(s types.Session) bool {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	c.setSession(s, s.Valid())
	return s.Valid()
}

// Authenticated returns true if the client holds an accepted session.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// Session returns the current session. It is empty when unauthenticated.
func (c *Client) Session() types.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.authenticated {
		return types.Session{}
	}
	return c.session
}

func (c *Client) setSession(s types.Session, authenticated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
	c.authenticated = authenticated
}

// userID returns the authenticated user id or a 401 *APIError without
// touching the network.
func (c *Client) userID() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.authenticated {
		return "", errUnauthorized()
	}
	return c.session.UserID, nil
}
