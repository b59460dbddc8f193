package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/civichain/votegate/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionTokenManager mints and validates verification session tokens.
// A token proves all three factors succeeded; it is advisory relative
// to the on-chain verification record.
type SessionTokenManager struct {
	secret   string
	validity time.Duration
}

// NewSessionTokenManager creates a manager. validity defaults the
// token lifetime (24h in production configs).
func NewSessionTokenManager(secret string, validity time.Duration) *SessionTokenManager {
	return &SessionTokenManager{secret: secret, validity: validity}
}

// Mint creates a token for a voter who completed all three factors.
func (m *SessionTokenManager) Mint(voterID string) (*models.VerificationSessionToken, error) {
	now := time.Now()
	claims := &models.SessionTokenClaims{
		VoterID: voterID,
		Method:  models.VerificationMethod,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.validity)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.secret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return &models.VerificationSessionToken{Token: signed, Claims: claims}, nil
}

// Validate verifies a token string. Expired tokens fail with
// models.ErrSessionExpired.
func (m *SessionTokenManager) Validate(tokenString string) (*models.SessionTokenClaims, error) {
	claims := &models.SessionTokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrSessionExpired
		}
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	if claims.Method != models.VerificationMethod {
		return nil, fmt.Errorf("unexpected verification method %q", claims.Method)
	}

	return claims, nil
}
