package httpapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"alertdesk/internal/clock"
	"alertdesk/internal/config"
)

// ErrUnauthorized indicates failed login or an invalid token.
var ErrUnauthorized = errors.New("unauthorized")

// User is one authenticated API principal.
// Params: username and role from verified claims.
// Returns: request-scoped identity.
type User struct {
	Name string
	Role string
}

// authClaims is the JWT payload for access tokens.
type authClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies static users and issues HMAC tokens.
// Params: JWT secret, token TTL, configured users, and clock.
// Returns: login and token verification for the API server.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	users  map[string]config.UserConfig
	clock  clock.Clock
}

// NewAuthenticator creates the authenticator from HTTP config.
// Params: validated HTTP config and clock.
// Returns: initialized authenticator.
func NewAuthenticator(cfg config.HTTPConfig, ttl time.Duration, clk clock.Clock) *Authenticator {
	users := make(map[string]config.UserConfig, len(cfg.Users))
	for _, user := range cfg.Users {
		users[user.Name] = user
	}
	return &Authenticator{
		secret: []byte(cfg.JWTSecret),
		ttl:    ttl,
		users:  users,
		clock:  clk,
	}
}

// Login checks credentials and issues one access token.
// Params: username and clear-text password.
// Returns: signed token, lifetime in seconds, role, or ErrUnauthorized.
func (a *Authenticator) Login(name, password string) (string, int64, string, error) {
	user, ok := a.users[name]
	if !ok {
		return "", 0, "", ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", 0, "", ErrUnauthorized
	}

	now := a.clock.Now()
	claims := authClaims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", 0, "", fmt.Errorf("sign token: %w", err)
	}
	return signed, int64(a.ttl.Seconds()), user.Role, nil
}

// Parse verifies one access token.
// Params: raw bearer token.
// Returns: authenticated user or ErrUnauthorized.
func (a *Authenticator) Parse(tokenStr string) (User, error) {
	claims := &authClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthorized
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.clock.Now))
	if err != nil || !token.Valid {
		return User{}, ErrUnauthorized
	}
	if _, ok := a.users[claims.Subject]; !ok {
		return User{}, ErrUnauthorized
	}
	return User{Name: claims.Subject, Role: claims.Role}, nil
}

// roleRank orders roles for the access hierarchy.
var roleRank = map[string]int{
	config.RoleViewer:   1,
	config.RoleOperator: 2,
	config.RoleAdmin:    3,
}

// HasRole reports whether the user meets a minimum role.
// Params: minimum required role.
// Returns: true when the user's role ranks at or above it.
func (u User) HasRole(min string) bool {
	return roleRank[u.Role] >= roleRank[min]
}
