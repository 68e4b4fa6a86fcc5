package models

// Caller is the authenticated identity behind a request.
type Caller struct {
	UserID  string `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
}

// Authenticated reports whether the caller carries a user id.
func (c Caller) Authenticated() bool { return c.UserID != "" }
