// Package token issues and verifies the short-lived access tokens that gate
// every protected-media fetch.
//
// A token is a signed HS256 JWT (header.payload.signature) binding one
// content key to one buyer, one vendor, and one order. Validity is purely
// time-and-signature based: there is no revocation list and no session
// state, because these are capability tokens, not sessions. The default TTL
// is two minutes, just long enough for the client to turn an entitlement
// check into a media fetch.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Errors returned by Issue and Verify. Callers map these to HTTP statuses.
var (
	ErrInvalidInput   = errors.New("token: identity field missing")
	ErrMalformedToken = errors.New("token: malformed token")
	ErrExpired        = errors.New("token: expired")
)

// Claims binds a content key to the buyer/vendor/order tuple it was issued
// for. Usernames are carried so the watermark engine can stamp profile URLs
// without a directory lookup at serve time.
type Claims struct {
	jwt.RegisteredClaims
	ContentKey     string `json:"key"`
	BuyerID        string `json:"buyerId"`
	BuyerUsername  string `json:"buyerUsername"`
	VendorID       string `json:"vendorId"`
	VendorUsername string `json:"vendorUsername"`
	OrderID        string `json:"orderId"`
}

// Service signs and verifies access tokens. Construct one per process and
// inject it; there is no package-level client.
type Service struct {
	secret     []byte
	issuer     string
	defaultTTL time.Duration
}

// NewService creates a token service. ttl is the default token lifetime used
// when Issue is called with ttl <= 0.
func NewService(secret, issuer string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Service{secret: []byte(secret), issuer: issuer, defaultTTL: ttl}
}

// Issue creates a signed access token for the given claim tuple.
// Returns ErrInvalidInput if any identity field is empty.
func (s *Service) Issue(key, buyerID, buyerUsername, vendorID, vendorUsername, orderID string, ttl time.Duration) (string, error) {
	for _, v := range []string{key, buyerID, buyerUsername, vendorID, vendorUsername, orderID} {
		if strings.TrimSpace(v) == "" {
			return "", ErrInvalidInput
		}
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    s.issuer,
		},
		ContentKey:     key,
		BuyerID:        buyerID,
		BuyerUsername:  buyerUsername,
		VendorID:       vendorID,
		VendorUsername: vendorUsername,
		OrderID:        orderID,
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

// Verify parses and validates an access token.
//
// Returns ErrMalformedToken when the token does not have exactly three
// segments or any segment fails to decode, ErrExpired when the embedded
// expiry has passed, and the claim set otherwise.
func (s *Service) Verify(tokenStr string) (*Claims, error) {
	// jwt.Parse reports the wrong segment count as a malformed-token error,
	// but check up front so a garbage string never reaches the parser's
	// base64 layer.
	if strings.Count(tokenStr, ".") != 2 {
		return nil, ErrMalformedToken
	}

	tok, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrMalformedToken
		}
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformedToken
		default:
			return nil, ErrMalformedToken
		}
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrMalformedToken
	}
	return claims, nil
}
