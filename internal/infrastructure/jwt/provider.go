package jwtinfra

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/docket-desk/internal/config"
	"github.com/docket-desk/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSigningKey is returned by Sign on a verify-only provider.
var ErrNoSigningKey = errors.New("no private key configured")

// Claims holds the operator identity carried by the token.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Actor converts the claims into the identity the workflow records.
func (c *Claims) Actor() domain.Actor {
	return domain.Actor{UserID: c.UserID, Name: c.Name, Role: c.Role}
}

// Provider signs and verifies RS256 JWTs. Tokens are issued by the identity
// service, so the private key is optional and only needed for Sign.
type Provider struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	expiry     time.Duration
}

func NewProvider(cfg *config.Config) (*Provider, error) {
	pubBytes, err := os.ReadFile(cfg.JWTPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	p := &Provider{publicKey: pubKey, expiry: cfg.JWTExpiry}

	if cfg.JWTPrivateKeyPath != "" {
		privBytes, err := os.ReadFile(cfg.JWTPrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		if p.privateKey, err = jwt.ParseRSAPrivateKeyFromPEM(privBytes); err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
	}
	return p, nil
}

// CanSign reports whether a private key was loaded.
func (p *Provider) CanSign() bool { return p.privateKey != nil }

func (p *Provider) Sign(userID, name, role string) (string, error) {
	if p.privateKey == nil {
		return "", ErrNoSigningKey
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Name:   name,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(p.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(p.privateKey)
}

func (p *Provider) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.publicKey, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user_id")
	}
	return claims, nil
}
