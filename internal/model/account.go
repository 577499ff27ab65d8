package model

import "time"

// UserIDPrefix prefixes a username to form an account id.
const UserIDPrefix = "org.couchdb.user:"

// Account is a login identity linked to exactly one contact.
type Account struct {
	Username   string      `json:"name"`
	ContactID  string      `json:"contact_id"`
	FacilityID string      `json:"facility_id,omitempty"`
	Roles      []string    `json:"roles"`
	Phone      string      `json:"phone,omitempty"`
	FullName   string      `json:"fullname,omitempty"`
	TokenLogin *TokenLogin `json:"token_login,omitempty"`

	// PasswordHash is never serialized.
	PasswordHash string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ID returns the account id, e.g. "org.couchdb.user:alice".
func (a Account) ID() string {
	return UserIDPrefix + a.Username
}

// TokenLogin is the token-login state of an account.
type TokenLogin struct {
	Active    bool      `json:"active"`
	TokenID   string    `json:"token_id,omitempty"`
	ExpiresAt time.Time `json:"expiration_date,omitempty"`
}

// TokenPayload is what enabling token login yields: a signed token and the
// URL a person follows to log in with it.
type TokenPayload struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
