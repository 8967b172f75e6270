// Package auth issues and verifies session tokens.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core"
)

var (
	ErrMissingToken = core.NewUnauthorizedError("missing or malformed token")
	ErrInvalidToken = core.NewUnauthorizedError("invalid token")
	ErrExpiredToken = core.NewUnauthorizedError("token has expired")

	signingMethod = jwt.SigningMethodHS256
)

// Claims represents the authorization claims transmitted via a session token.
type Claims struct {
	jwt.StandardClaims
	Role string `json:"role"`
}

// Codec signs and verifies session tokens with a shared secret.
type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewCodec(secret, issuer string, ttl time.Duration) *Codec {
	return &Codec{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// NewCodecFromConfig builds a Codec from the session settings.
func NewCodecFromConfig(conf *core.Config) *Codec {
	return NewCodec(conf.SecretKey, conf.Session.Issuer, conf.Session.TTL)
}

// IssueSession returns a signed token carrying the subject id and role. It expires after the codec's TTL.
func (c *Codec) IssueSession(subjectID, role string) (string, error) {
	now := core.Now()
	claims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    c.issuer,
			Subject:   subjectID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(c.ttl).Unix(),
		},
		Role: role,
	}
	ss, err := jwt.NewWithClaims(signingMethod, claims).SignedString(c.secret)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// VerifySession checks the token signature and expiry and returns its claims.
func (c *Codec) VerifySession(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	// claims are checked below against core.Now so the clock stays mockable
	parser := &jwt.Parser{ValidMethods: []string{signingMethod.Alg()}, SkipClaimsValidation: true}
	claims := new(Claims)
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	now := core.Now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return nil, ErrExpiredToken
	}
	if !claims.VerifyIssuedAt(now, false) || !claims.VerifyNotBefore(now, false) {
		return nil, ErrInvalidToken
	}
	if c.issuer != "" && !claims.VerifyIssuer(c.issuer, true) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractBearer returns the token of an `Authorization: Bearer <token>` header value.
func ExtractBearer(header string) (string, error) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMissingToken
	}
	return parts[1], nil
}

// NewOpaqueToken returns 32 random bytes, URL-safe encoded.
func NewOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "reading random bytes")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
