package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type tokenClaims struct {
	TableID   string `json:"tid"`
	PlayerID  string `json:"pid"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

func (m *Manager) signToken(key Key, sessionID string) (string, error) {
	now := m.clock.Now()
	claims := tokenClaims{
		TableID:   key.TableID,
		PlayerID:  key.PlayerID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   key.PlayerID,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign reconnect token: %w", err)
	}
	return signed, nil
}

func (m *Manager) parseToken(raw string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return m.clock.Now() }),
		jwt.WithLeeway(time.Second),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: reconnect token expired", ErrSessionExpired)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	case claims.TableID == "" || claims.PlayerID == "" || claims.SessionID == "":
		return nil, fmt.Errorf("%w: incomplete claims", ErrInvalidToken)
	}
	return claims, nil
}

// Identify validates token and returns the table and player it was issued
// for, without touching any session.
func (m *Manager) Identify(token string) (Key, error) {
	claims, err := m.parseToken(token)
	if err != nil {
		return Key{}, err
	}
	return Key{TableID: claims.TableID, PlayerID: claims.PlayerID}, nil
}
