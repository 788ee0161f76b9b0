// Package auth issues and verifies the admin JWTs the hub hands out at
// login using HS256 signing over a fixed server secret.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/lookouthub/lookout-server/internal/models"
)

// Claims is the JWT payload carried by every admin session. AllowedTenants
// is copied from the AdminUser record at issue time and re-checked on every
// request — it never needs a database round trip to authorize a tenant.
type Claims struct {
	Username       string   `json:"username"`
	AllowedTenants []string `json:"allowedTenants"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies admin tokens against a fixed, compiled-in
// set of admin users. There is no persistent identity store or password
// issuance flow; admin accounts are provisioned at process start.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	users  map[string]models.AdminUser
}

// DefaultAdminUsers is the seed list of administrators the hub trusts. A
// production deployment overrides this via New's users parameter; this slice
// exists so the hub runs out of the box.
var DefaultAdminUsers = []models.AdminUser{
	{Username: "admin", Password: "admin", AllowedTenants: []string{models.TenantWildcard}},
}

func New(secret string, ttl time.Duration, users []models.AdminUser) *Authenticator {
	byName := make(map[string]models.AdminUser, len(users))
	for _, u := range users {
		byName[u.Username] = u
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, users: byName}
}

// ErrInvalidCredentials is returned when the username/password pair does not
// match any seeded admin user.
var ErrInvalidCredentials = fmt.Errorf("invalid credentials")

// Login checks a username/password pair and, on success, issues a signed
// token good for the authenticator's configured TTL.
func (a *Authenticator) Login(username, password string) (string, models.AdminUser, error) {
	user, ok := a.users[username]
	if !ok || user.Password != password {
		return "", models.AdminUser{}, ErrInvalidCredentials
	}

	now := time.Now()
	claims := Claims{
		Username:       user.Username,
		AllowedTenants: user.AllowedTenants,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", models.AdminUser{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, user, nil
}

// Verify parses and validates a bearer token, returning its claims. It
// rejects tokens signed with anything other than HMAC, guarding against an
// attacker swapping in "none" or an asymmetric algorithm.
func (a *Authenticator) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
