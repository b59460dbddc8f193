package models

import "github.com/golang-jwt/jwt/v5"

// VerificationMethod is recorded on every session token minted after a
// full three-factor run.
const VerificationMethod = "credential+otp+face"

// SessionTokenClaims are the claims carried by a VerificationSessionToken.
// The token is advisory: the on-chain verification record remains the
// authority at vote time.
type SessionTokenClaims struct {
	VoterID string `json:"voter_id"`
	Method  string `json:"method"`
	jwt.RegisteredClaims
}

// VerificationSessionToken is the client-held proof that all three
// factors succeeded. Never mutated, only superseded by a token from a
// fresh successful run.
type VerificationSessionToken struct {
	Token  string
	Claims *SessionTokenClaims
}
