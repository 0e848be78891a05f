package transport

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/triage/internal/config"
	"github.com/pitabwire/triage/model"
)

var (
	errUnknownKey      = errors.New("unknown signing key")
	errDisallowedAlg   = errors.New("signing algorithm not allowed")
	errMissingKeyID    = errors.New("token header has no kid")
	errMalformedHeader = errors.New("authorization header is not a bearer token")
)

// JWKSClient fetches and caches the identity provider's signing keys.
type JWKSClient struct {
	url        string
	ttl        time.Duration
	minRefresh time.Duration
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.RWMutex
	keys      map[string]crypto.PublicKey
	fetchedAt time.Time
}

// JWKSOption configures a JWKSClient.
type JWKSOption func(*JWKSClient)

// WithJWKSLogger sets the logger used for refresh failures.
func WithJWKSLogger(logger *zap.Logger) JWKSOption {
	return func(c *JWKSClient) { c.logger = logger }
}

// WithJWKSHTTPClient overrides the HTTP client used to fetch keys.
func WithJWKSHTTPClient(hc *http.Client) JWKSOption {
	return func(c *JWKSClient) { c.httpClient = hc }
}

// NewJWKSClient caches the key set at url for ttl. An unknown kid forces a
// refetch, at most once every five minutes.
func NewJWKSClient(url string, ttl time.Duration, opts ...JWKSOption) *JWKSClient {
	c := &JWKSClient{
		url:        url,
		ttl:        ttl,
		minRefresh: 5 * time.Minute,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     zap.NewNop(),
		keys:       map[string]crypto.PublicKey{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the public key for kid. When the fetch fails a previously
// cached key is still served.
func (c *JWKSClient) Key(ctx context.Context, kid string) (crypto.PublicKey, error) {
	key, fresh := c.cached(kid)
	if key != nil && fresh {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		if key != nil {
			c.logger.Warn("jwks refresh failed, serving cached key", zap.String("kid", kid), zap.Error(err))
			return key, nil
		}
		return nil, fmt.Errorf("jwks: %w", err)
	}

	if key, _ = c.cached(kid); key == nil {
		return nil, fmt.Errorf("jwks: %w %q", errUnknownKey, kid)
	}
	return key, nil
}

func (c *JWKSClient) cached(kid string) (crypto.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keys[kid], time.Since(c.fetchedAt) <= c.ttl
}

func (c *JWKSClient) refresh(ctx context.Context) error {
	c.mu.RLock()
	throttled := len(c.keys) > 0 && time.Since(c.fetchedAt) < c.minRefresh
	c.mu.RUnlock()
	if throttled {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("key set answered %d", resp.StatusCode)
	}

	var set struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&set); err != nil {
		return fmt.Errorf("decode key set: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kid == "" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			c.logger.Warn("jwks key skipped", zap.String("kid", k.Kid), zap.Error(err))
			continue
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// jwk is one entry of a JSON Web Key Set. Only RSA and EC signing keys are
// understood.
type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (k jwk) publicKey() (crypto.PublicKey, error) {
	switch k.Kty {
	case "RSA":
		n, err := b64Int(k.N, "n")
		if err != nil {
			return nil, err
		}
		e, err := b64Int(k.E, "e")
		if err != nil {
			return nil, err
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
	case "EC":
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported curve %q", k.Crv)
		}
		x, err := b64Int(k.X, "x")
		if err != nil {
			return nil, err
		}
		y, err := b64Int(k.Y, "y")
		if err != nil {
			return nil, err
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
	}
	return nil, fmt.Errorf("unsupported key type %q", k.Kty)
}

func b64Int(s, name string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing %s", name)
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return new(big.Int).SetBytes(b), nil
}

// JWTAuthenticator verifies the bearer token against the configured issuer,
// audience and algorithms, then stores its claims and the raw token in the
// request context. Expiry is required, with 30s of clock skew allowed.
func JWTAuthenticator(cfg config.IdentityConfig, jwks *JWKSClient) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err != nil {
				WriteError(w, model.APIError(model.ErrUnauthorized, authFailure(err)))
				return
			}

			claims := jwt.MapClaims{}
			_, err = parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				if !slices.Contains(cfg.Algorithms, t.Method.Alg()) {
					return nil, fmt.Errorf("%w: %s", errDisallowedAlg, t.Method.Alg())
				}
				kid, _ := t.Header["kid"].(string)
				if kid == "" {
					return nil, errMissingKeyID
				}
				return jwks.Key(r.Context(), kid)
			})
			if err != nil {
				WriteError(w, model.APIError(model.ErrUnauthorized, authFailure(err)))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims, raw)))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", nil
	}
	tok, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tok == "" {
		return "", errMalformedHeader
	}
	return tok, nil
}

// authFailure turns a verification error into the client-facing message.
func authFailure(err error) string {
	switch {
	case err == nil:
		return "Missing authorization header"
	case errors.Is(err, errMalformedHeader):
		return "Invalid authorization header format"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "Invalid token audience"
	case errors.Is(err, errDisallowedAlg):
		return "Disallowed signing algorithm"
	case errors.Is(err, errUnknownKey), errors.Is(err, errMissingKeyID):
		return "Unknown signing key"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "Token is missing required claims"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "Invalid token signature"
	}
	return "Invalid token"
}
