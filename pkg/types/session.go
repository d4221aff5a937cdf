package types

// Session identifies an authenticated eModul account. It is created by a
// successful login and can be persisted so the next start skips the login
// round-trip.
type Session struct {
	UserID string `json:"userID"`
	Token  string `json:"token"`
}

// Valid returns true if both the user identifier and the token are set.
func (s Session) Valid() bool {
	return s.UserID != "" && s.Token != ""
}
