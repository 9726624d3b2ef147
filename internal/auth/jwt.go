package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"studio-schedule/internal/models"
	"studio-schedule/pkg/response"
)

// Identity is the resolved caller every engine operation receives.
type Identity struct {
	UserID string
	Role   models.Role
}

func (i Identity) Actor() models.Actor {
	return models.Actor{UserID: i.UserID, Role: i.Role}
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Gateway verifies and mints HS256 access tokens.
type Gateway struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewGateway(secret, issuer string) *Gateway {
	return &Gateway{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// Authenticate validates the token and returns the identity it carries. Every failure
// wraps response.ErrUnauthorized.
func (g *Gateway) Authenticate(token string) (Identity, error) {
	const op = "auth.Gateway.Authenticate"

	if token == "" {
		return Identity{}, fmt.Errorf("%s: empty token: %w", op, response.ErrUnauthorized)
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	},
		jwt.WithIssuer(g.issuer),
		jwt.WithTimeFunc(g.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w: %w", op, response.ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, fmt.Errorf("%s: invalid claims: %w", op, response.ErrUnauthorized)
	}

	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%s: missing subject: %w", op, response.ErrUnauthorized)
	}

	role, err := models.ParseRole(claims.Role)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w: %w", op, response.ErrUnauthorized, err)
	}

	return Identity{UserID: claims.Subject, Role: role}, nil
}

// IssueToken signs a token for id that expires after ttl.
func (g *Gateway) IssueToken(id Identity, ttl time.Duration) (string, error) {
	const op = "auth.Gateway.IssueToken"

	if id.UserID == "" {
		return "", fmt.Errorf("%s: %w", op, errors.New("user id is required"))
	}

	now := g.now()
	claims := Claims{
		Role: string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    g.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}
