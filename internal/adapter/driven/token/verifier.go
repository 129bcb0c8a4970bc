package token

import (
	"time"

	"github.com/avask/ringline/internal/core/domain"
	"github.com/golang-jwt/jwt/v5"
)

const tokenLifetime = 24 * time.Hour

type claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens and extracts the identity they
// carry. It can also issue tokens, which the tests and login-less
// deployments use; production tokens come from the auth service sharing
// the same secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Verify(token string) (domain.Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return domain.Identity{}, domain.ErrAuthentication
	}

	c, ok := parsed.Claims.(*claims)
	if !ok {
		return domain.Identity{}, domain.ErrAuthentication
	}
	id, err := domain.ParseUserID(c.UserID)
	if err != nil {
		return domain.Identity{}, domain.ErrAuthentication
	}
	return domain.Identity{ID: id, Username: c.Username}, nil
}

func (v *Verifier) Issue(identity domain.Identity) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:   identity.ID.String(),
		Username: identity.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		},
	})
	return t.SignedString(v.secret)
}
