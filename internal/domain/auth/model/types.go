package model

import "time"

// DeviceCredential records one device's issued access token.
type DeviceCredential struct {
	DeviceID  string         `json:"device_id"`
	Token     string         `json:"token"`
	IP        string         `json:"ip,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// Expired reports whether the credential passed its expiry.
func (c DeviceCredential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}
