// Package media issues short-lived credentials for the media transport
// channel of a call. A token is scoped to exactly one channel and one
// participant identity, carries an expiry, and grants publish rights only —
// no administrative capability. The issuer is stateless and safe to call
// concurrently for the two participants of the same call.
package media

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrUnavailable is returned when the issuer is not configured (missing app
// credentials). Misconfiguration is a reportable dependency failure, never a
// crash.
var ErrUnavailable = errors.New("media token issuer unavailable")

// RolePublisher is the only role issued by this subsystem.
const RolePublisher = "publisher"

// Claims is the token payload consumed by the media edge: the channel the
// bearer may publish to and the identity it must join with.
type Claims struct {
	jwt.RegisteredClaims
	Channel  string `json:"channel"`
	Identity string `json:"identity"`
	Role     string `json:"role"`
}

// Issuer mints HMAC-signed channel tokens from application credentials.
type Issuer struct {
	appID  string
	secret []byte
}

// NewIssuer builds an Issuer from the media application credentials. Either
// value may be empty, in which case Issue reports ErrUnavailable; deferring
// the failure to issuance time lets the service boot with signaling disabled
// rather than refusing to start.
func NewIssuer(appID, appSecret string) *Issuer {
	return &Issuer{appID: appID, secret: []byte(appSecret)}
}

// Issue returns a signed token authorizing identity to publish on
// channelName until now+ttl. A non-positive ttl falls back to one hour.
func (i *Issuer) Issue(channelName, identity string, ttl time.Duration) (string, error) {
	if i.appID == "" || len(i.secret) == 0 {
		return "", ErrUnavailable
	}
	if channelName == "" || identity == "" {
		return "", errors.New("channel and identity are required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.appID,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Channel:  channelName,
		Identity: identity,
		Role:     RolePublisher,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(i.secret)
}

// Verify parses and validates a previously issued token. It exists for the
// media edge and for tests; the signaling service itself never verifies.
func (i *Issuer) Verify(tokenString string) (Claims, error) {
	if i.appID == "" || len(i.secret) == 0 {
		return Claims{}, ErrUnavailable
	}

	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(i.appID),
		jwt.WithLeeway(30*time.Second),
	)
	if _, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}); err != nil {
		return Claims{}, err
	}

	if claims.Channel == "" || claims.Identity == "" {
		return Claims{}, errors.New("channel or identity missing")
	}
	if claims.Role != RolePublisher {
		return Claims{}, errors.New("unexpected role")
	}
	return claims, nil
}
