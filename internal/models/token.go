package models

import "time"

// DefaultTokenValidity is used when the token response carries no expires_in.
const DefaultTokenValidity = 60 * 24 * time.Hour

// OAuthToken is the bearer credential for the short-form platform. It is
// never refreshed automatically; expiry is informational only.
type OAuthToken struct {
	AccessToken    string        `json:"access_token"`
	IssuedAt       time.Time     `json:"issued_at"`
	ValidityWindow time.Duration `json:"validity_window"`
}

// ExpiresAt is IssuedAt plus the validity window.
func (t *OAuthToken) ExpiresAt() time.Time {
	return t.IssuedAt.Add(t.ValidityWindow)
}

// Expired reports whether the validity window has passed at now.
func (t *OAuthToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt())
}

// TokenStatus is what may be shown to an operator about the current token.
type TokenStatus struct {
	Connected bool       `json:"connected"`
	IssuedAt  *time.Time `json:"issued_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Expired   bool       `json:"expired"`
	Subject   string     `json:"subject,omitempty"`
}

// Secret is one stored version of a credential. Old versions are kept.
type Secret struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"size:100;not null;uniqueIndex:idx_secret_version" json:"name"`
	Version    int       `gorm:"not null;uniqueIndex:idx_secret_version" json:"version"`
	Ciphertext []byte    `gorm:"not null" json:"-"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
