// Package assertion issues the signed proof of a completed second factor.
//
// The host flow engine runs in another process, so "success" has to travel as
// a verifiable artifact instead of an in-process callback. The assertion is a
// short-lived HS256 JWT over a secret shared with the host.
package assertion

import (
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

const issuerName = "keycloak-provider"

// Issuer signs success assertions.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer creates an Issuer. The secret is required.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("assertion: secret is required")
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}, nil
}

// Issue signs an assertion that the given user completed the second factor.
func (i *Issuer) Issue(username string) (string, error) {
	now := time.Now().UTC()
	claims := jwtv5.MapClaims{
		"iss": issuerName,
		"sub": username,
		"amr": []string{"mfa"},
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(i.ttl).Unix(),
	}
	token := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify parses and validates an assertion, returning the subject. Used by
// the host side and by tests.
func (i *Issuer) Verify(raw string) (string, error) {
	token, err := jwtv5.Parse(raw, func(t *jwtv5.Token) (any, error) {
		if _, ok := t.Method.(*jwtv5.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("assertion: unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwtv5.WithIssuer(issuerName), jwtv5.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("assertion: missing subject")
	}
	return sub, nil
}
