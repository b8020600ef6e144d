package services

// Session is the explicit per-dashboard-session context passed to the
// command channel and stream session. It replaces ambient "current user"
// state: one is created at sign-in and dropped at sign-out.
type Session struct {
	ID     string // unique per browser tab / connection
	UserID string // empty when no user is signed in
}

// Authenticated reports whether the session carries a signed-in user.
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != ""
}
