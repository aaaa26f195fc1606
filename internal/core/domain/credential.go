package domain

import "time"

const (
	RoleHost        = 0
	RoleParticipant = 1

	CredentialVersion = 1
)

// Credential is the claim set of a signed session token.
type Credential struct {
	AppKey    string `json:"app_key"`
	Topic     string `json:"tpc"`
	RoleType  int    `json:"role_type"`
	Version   int    `json:"version"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

func (c Credential) Lifetime() time.Duration {
	return time.Duration(c.ExpiresAt-c.IssuedAt) * time.Second
}

// ValidAt reports whether t lies inside [iat, exp].
func (c Credential) ValidAt(t time.Time) bool {
	unix := t.Unix()
	return unix >= c.IssuedAt && unix <= c.ExpiresAt
}
