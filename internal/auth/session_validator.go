package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	bearerPrefix     = "Bearer "
	idTokenQueryKey  = "id_token"
	defaultClockSkew = 5 * time.Second
)

var (
	ErrMissingAPIKey          = errors.New("session validator: api key required")
	ErrMissingAPISecret       = errors.New("session validator: api secret required")
	ErrMissingSessionToken    = errors.New("session validator: token required")
	ErrInvalidSessionToken    = errors.New("session validator: invalid token")
	ErrExpiredSessionToken    = errors.New("session validator: token expired")
	ErrMismatchedDestination  = errors.New("session validator: issuer and destination disagree")
	ErrMissingShopDestination = errors.New("session validator: destination shop required")
)

// SessionClaims mirrors the session token Shopify issues to embedded apps.
type SessionClaims struct {
	Destination string `json:"dest"`
	SessionID   string `json:"sid"`
	jwt.RegisteredClaims
}

// ShopDomain returns the shop host named by the dest claim.
func (c SessionClaims) ShopDomain() string {
	return hostOf(c.Destination)
}

// SessionValidatorConfig describes how to validate Shopify session tokens.
type SessionValidatorConfig struct {
	APIKey    string
	APISecret []byte
	Clock     func() time.Time
	ClockSkew time.Duration
}

// SessionValidator validates HS256 session tokens signed with the app's API secret.
type SessionValidator struct {
	apiKey    string
	apiSecret []byte
	clock     func() time.Time
	clockSkew time.Duration
}

// NewSessionValidator constructs a validator with the provided configuration.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if len(cfg.APISecret) == 0 {
		return nil, ErrMissingAPISecret
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = defaultClockSkew
	}
	return &SessionValidator{
		apiKey:    apiKey,
		apiSecret: append([]byte(nil), cfg.APISecret...),
		clock:     clock,
		clockSkew: skew,
	}, nil
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (v *SessionValidator) ValidateToken(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidSessionToken, t.Method.Alg())
			}
			return v.apiSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithAudience(v.apiKey),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredSessionToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidSessionToken
	}

	shopDomain := claims.ShopDomain()
	if shopDomain == "" {
		return SessionClaims{}, ErrMissingShopDestination
	}
	if hostOf(claims.Issuer) != shopDomain {
		return SessionClaims{}, ErrMismatchedDestination
	}
	return *claims, nil
}

// ValidateRequest reads the bearer token, falling back to the id_token query parameter
// Shopify appends when it loads the embedded app.
func (v *SessionValidator) ValidateRequest(r *http.Request) (SessionClaims, error) {
	if r == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, bearerPrefix) {
		return v.ValidateToken(strings.TrimPrefix(header, bearerPrefix))
	}
	if token := r.URL.Query().Get(idTokenQueryKey); token != "" {
		return v.ValidateToken(token)
	}
	return SessionClaims{}, ErrMissingSessionToken
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
