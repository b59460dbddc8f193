package models

import "time"

// OtpChallenge is the live one-time-passcode challenge for an identity.
// Created by the credential verifier on success, consumed by the OTP
// verifier. At most one live challenge per identity; a new credential
// submission supersedes any prior challenge.
type OtpChallenge struct {
	IdentityKey string
	// Code is populated only outside production. In production the code
	// is held server-side and delivered to the voter's mobile.
	Code     string
	IssuedAt time.Time
	TTL      time.Duration
	Verified bool
}

// Expired reports whether the challenge is past its time-to-live.
func (c *OtpChallenge) Expired(now time.Time) bool {
	return now.After(c.IssuedAt.Add(c.TTL))
}
