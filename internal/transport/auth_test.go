package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/triage/internal/config"
	"github.com/pitabwire/triage/model"
)

// --- test helpers ---

func generateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func generateECKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func rsaKeyToJWK(kid string, pub *rsa.PublicKey) map[string]any {
	return map[string]any{
		"kid": kid,
		"kty": "RSA",
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func ecKeyToJWK(kid string, pub *ecdsa.PublicKey) map[string]any {
	return map[string]any{
		"kid": kid,
		"kty": "EC",
		"crv": "P-256",
		"use": "sig",
		"x":   base64.RawURLEncoding.EncodeToString(pub.X.Bytes()),
		"y":   base64.RawURLEncoding.EncodeToString(pub.Y.Bytes()),
	}
}

func startJWKSServer(t *testing.T, keys ...map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signJWT(t *testing.T, key any, method jwt.SigningMethod, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func testIdentityCfg() config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:     "https://auth.example.com",
		Audience:   "triage-gateway",
		Algorithms: []string{"RS256", "ES256"},
		ClaimPaths: map[string]string{
			"subject_id": "sub",
			"email":      "email",
			"roles":      "roles",
		},
	}
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user-1",
		"email": "user@example.com",
		"roles": []string{"subscriber"},
		"tier":  "beta",
		"iss":   "https://auth.example.com",
		"aud":   "triage-gateway",
		"exp":   jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
		"iat":   jwt.NewNumericDate(time.Now()),
	}
}

func bearer(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/actions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// --- JWKSClient ---

func TestJWKSClient_Key_RSA(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwks := startJWKSServer(t, rsaKeyToJWK("rsa-key-1", &rsaKey.PublicKey))

	client := NewJWKSClient(jwks.URL, time.Hour)
	key, err := client.Key(context.Background(), "rsa-key-1")
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("key type = %T, want *rsa.PublicKey", key)
	}
	if pub.N.Cmp(rsaKey.PublicKey.N) != 0 {
		t.Error("RSA modulus mismatch")
	}
}

func TestJWKSClient_Key_EC(t *testing.T) {
	ecKey := generateECKey(t)
	jwks := startJWKSServer(t, ecKeyToJWK("ec-key-1", &ecKey.PublicKey))

	client := NewJWKSClient(jwks.URL, time.Hour)
	key, err := client.Key(context.Background(), "ec-key-1")
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		t.Fatalf("key type = %T, want *ecdsa.PublicKey", key)
	}
	if pub.X.Cmp(ecKey.PublicKey.X) != 0 {
		t.Error("EC X coordinate mismatch")
	}
}

func TestJWKSClient_Key_unknown(t *testing.T) {
	client := NewJWKSClient(startJWKSServer(t).URL, time.Hour)
	if _, err := client.Key(context.Background(), "nonexistent"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestJWKSClient_caching(t *testing.T) {
	calls := 0
	rsaKey := generateRSAKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]any{rsaKeyToJWK("cached-key", &rsaKey.PublicKey)}})
	}))
	defer srv.Close()

	client := NewJWKSClient(srv.URL, time.Hour, WithJWKSHTTPClient(srv.Client()))
	client.minRefresh = 0

	client.Key(context.Background(), "cached-key")
	client.Key(context.Background(), "cached-key")

	if calls != 1 {
		t.Errorf("JWKS fetched %d times, want 1", calls)
	}
}

func TestJWKSClient_multipleKeys(t *testing.T) {
	k1, k2 := generateRSAKey(t), generateRSAKey(t)
	jwks := startJWKSServer(t,
		rsaKeyToJWK("key-1", &k1.PublicKey),
		rsaKeyToJWK("key-2", &k2.PublicKey),
	)
	client := NewJWKSClient(jwks.URL, time.Hour)

	a, err := client.Key(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("Key(key-1): %v", err)
	}
	b, err := client.Key(context.Background(), "key-2")
	if err != nil {
		t.Fatalf("Key(key-2): %v", err)
	}
	if a.(*rsa.PublicKey).N.Cmp(b.(*rsa.PublicKey).N) == 0 {
		t.Error("keys should differ")
	}
}

// --- JWTAuthenticator ---

func TestJWTAuthenticator_validToken(t *testing.T) {
	for _, alg := range []string{"RS256", "ES256"} {
		t.Run(alg, func(t *testing.T) {
			var (
				jwk    map[string]any
				key    any
				method jwt.SigningMethod
			)
			if alg == "RS256" {
				k := generateRSAKey(t)
				jwk, key, method = rsaKeyToJWK("test-key", &k.PublicKey), k, jwt.SigningMethodRS256
			} else {
				k := generateECKey(t)
				jwk, key, method = ecKeyToJWK("test-key", &k.PublicKey), k, jwt.SigningMethodES256
			}
			jwks := NewJWKSClient(startJWKSServer(t, jwk).URL, time.Hour)
			tokenStr := signJWT(t, key, method, "test-key", validClaims())

			called := false
			handler := JWTAuthenticator(testIdentityCfg(), jwks)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				if sub, _ := ClaimsFrom(r.Context())["sub"].(string); sub != "user-1" {
					t.Errorf("sub = %q, want user-1", sub)
				}
				if tokenFrom(r.Context()) != tokenStr {
					t.Error("raw token should be kept for forwarding")
				}
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, bearer(tokenStr))
			if w.Code != http.StatusOK || !called {
				t.Errorf("status = %d, called = %v", w.Code, called)
			}
		})
	}
}

func TestJWTAuthenticator_rejects(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwksURL := startJWKSServer(t, rsaKeyToJWK("test-key", &rsaKey.PublicKey)).URL

	tests := []struct {
		name    string
		header  string
		kid     string
		mutate  func(jwt.MapClaims)
		algs    []string
		message string
	}{
		{name: "no header", header: "-"},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz"},
		{name: "expired", mutate: func(c jwt.MapClaims) {
			c["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		}, message: "Token expired"},
		{name: "wrong issuer", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }, message: "Invalid token issuer"},
		{name: "wrong audience", mutate: func(c jwt.MapClaims) { c["aud"] = "billing-api" }, message: "Invalid token audience"},
		{name: "disallowed algorithm", algs: []string{"ES256"}, message: "Disallowed signing algorithm"},
		{name: "unknown kid", kid: "rotated-key"},
		{name: "no expiry", mutate: func(c jwt.MapClaims) { delete(c, "exp") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testIdentityCfg()
			if tt.algs != nil {
				cfg.Algorithms = tt.algs
			}
			jwks := NewJWKSClient(jwksURL, time.Hour)
			jwks.minRefresh = 0

			handler := JWTAuthenticator(cfg, jwks)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/actions", nil)
			switch {
			case tt.header == "-":
			case tt.header != "":
				req.Header.Set("Authorization", tt.header)
			default:
				claims := validClaims()
				if tt.mutate != nil {
					tt.mutate(claims)
				}
				kid := tt.kid
				if kid == "" {
					kid = "test-key"
				}
				req = bearer(signJWT(t, rsaKey, jwt.SigningMethodRS256, kid, claims))
			}

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			env := decodeError(t, w)
			if env.Code != model.ErrUnauthorized {
				t.Errorf("code = %q", env.Code)
			}
			if tt.message != "" && env.Message != tt.message {
				t.Errorf("message = %q, want %q", env.Message, tt.message)
			}
		})
	}
}

func TestJWTAuthenticator_clockSkewTolerance(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwks := NewJWKSClient(startJWKSServer(t, rsaKeyToJWK("test-key", &rsaKey.PublicKey)).URL, time.Hour)
	handler := JWTAuthenticator(testIdentityCfg(), jwks)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	claims := validClaims()
	claims["exp"] = jwt.NewNumericDate(time.Now().Add(-15 * time.Second))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, bearer(signJWT(t, rsaKey, jwt.SigningMethodRS256, "test-key", claims)))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 inside the leeway", w.Code)
	}
}

func TestJWTAuthenticator_buildsRequestContext(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwks := NewJWKSClient(startJWKSServer(t, rsaKeyToJWK("test-key", &rsaKey.PublicKey)).URL, time.Hour)
	cfg := testIdentityCfg()

	var got *model.RequestContext
	chain := JWTAuthenticator(cfg, jwks)(BuildRequestContext(cfg.ClaimPaths)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = model.RequestContextFrom(r.Context())
		}),
	))

	tokenStr := signJWT(t, rsaKey, jwt.SigningMethodRS256, "test-key", validClaims())
	req := bearer(tokenStr)
	req.Header.Set(HeaderInboxMode, "mail")
	chain.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil {
		t.Fatal("request context not built")
	}
	if got.SubjectID != "user-1" || got.Email != "user@example.com" || got.Mode != model.ModeMail {
		t.Errorf("request context = %+v", got)
	}
	if len(got.Roles) != 1 || got.Roles[0] != "subscriber" {
		t.Errorf("roles = %v", got.Roles)
	}
	if got.Claims["tier"] != "beta" || got.Token != tokenStr {
		t.Errorf("claims = %v", got.Claims)
	}
}
