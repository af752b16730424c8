// identity.go — uploader identity verification.
//
// Upload endpoints are called by vendors, not buyers, so the capability
// tokens the gateway consumes do not apply here. Identity is an external
// collaborator: the platform's session JWT is verified locally and mapped
// to a (user id, username) pair. Tests inject a fake.
package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated means the bearer credential is missing or invalid.
var ErrUnauthenticated = errors.New("intake: unauthenticated")

// User is a verified uploader identity.
type User struct {
	ID       string
	Username string
}

// Identity verifies a bearer credential and returns the uploader.
type Identity interface {
	VerifyUser(ctx context.Context, bearer string) (User, error)
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// JWTIdentity verifies platform session tokens signed with a shared HS256
// secret.
type JWTIdentity struct {
	secret []byte
	issuer string
}

// NewJWTIdentity builds a verifier for the given signing secret and
// expected issuer.
func NewJWTIdentity(secret, issuer string) *JWTIdentity {
	return &JWTIdentity{secret: []byte(secret), issuer: issuer}
}

func (j *JWTIdentity) VerifyUser(ctx context.Context, bearer string) (User, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(bearer, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithIssuer(j.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" || claims.Username == "" {
		return User{}, fmt.Errorf("%w: incomplete claims", ErrUnauthenticated)
	}
	return User{ID: claims.Subject, Username: claims.Username}, nil
}

// FakeIdentity maps bearer strings to users. Test helper.
type FakeIdentity struct {
	Users map[string]User
}

func (f *FakeIdentity) VerifyUser(ctx context.Context, bearer string) (User, error) {
	u, ok := f.Users[bearer]
	if !ok {
		return User{}, ErrUnauthenticated
	}
	return u, nil
}
