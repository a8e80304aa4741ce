package domain

import "time"

// SessionCookieName is the cookie the passport register endpoint sets on a
// successful handshake.
const SessionCookieName = "umplus_uc_token"

type SessionTokenRecord struct {
	Identity  string
	Token     string
	ExpiresAt *time.Time
}

// Usable reports whether the record can be served without a refresh. A record
// without an expiry is never usable.
func (r SessionTokenRecord) Usable(now time.Time) bool {
	if r.Token == "" || r.ExpiresAt == nil {
		return false
	}

	return r.ExpiresAt.After(now)
}

func (r SessionTokenRecord) CookieHeader() string {
	return SessionCookieName + "=" + r.Token
}
