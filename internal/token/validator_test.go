package token

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"titancompute/pkg/logger"
)

func init() {
	logger.Init("error")
}

func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return key, pemBytes
}

func signTestToken(t *testing.T, key *rsa.PrivateKey, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestValidateFallbackBeforeConfigure(t *testing.T) {
	v := NewValidator("agent-1")

	if _, ok := v.Validate("short"); ok {
		t.Error("expected short token to fail fallback validation")
	}
	if _, ok := v.Validate("a-token-longer-than-ten-chars"); !ok {
		t.Error("expected long token to pass fallback validation")
	}
}

func TestValidateRS256Success(t *testing.T) {
	key, pubPEM := generateTestKeyPair(t)
	v := NewValidator("agent-1")
	if err := v.Configure(pubPEM); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	now := time.Now()
	claims := Claims{
		AgentID:  "agent-1",
		ClientID: "client-9",
		Model:    "llama3",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ID:        "jti-1",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token := signTestToken(t, key, claims)

	got, ok := v.Validate(token)
	if !ok {
		t.Fatal("expected valid token to be accepted")
	}
	if got.ClientID != "client-9" {
		t.Errorf("ClientID = %q, want client-9", got.ClientID)
	}
}

func TestValidateRS256AgentIDMismatch(t *testing.T) {
	key, pubPEM := generateTestKeyPair(t)
	v := NewValidator("agent-1")
	_ = v.Configure(pubPEM)

	now := time.Now()
	claims := Claims{
		AgentID:  "agent-2",
		ClientID: "client-9",
		Model:    "llama3",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ID:        "jti-1",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token := signTestToken(t, key, claims)

	if _, ok := v.Validate(token); ok {
		t.Error("expected mismatched agent_id to be rejected")
	}
}

func TestValidateRS256ExpiredToken(t *testing.T) {
	key, pubPEM := generateTestKeyPair(t)
	v := NewValidator("agent-1")
	_ = v.Configure(pubPEM)

	past := time.Now().Add(-time.Hour)
	claims := Claims{
		AgentID:  "agent-1",
		ClientID: "client-9",
		Model:    "llama3",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ID:        "jti-1",
			IssuedAt:  jwt.NewNumericDate(past),
			NotBefore: jwt.NewNumericDate(past),
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Minute)),
		},
	}
	token := signTestToken(t, key, claims)

	if _, ok := v.Validate(token); ok {
		t.Error("expected expired token to be rejected")
	}
}

func TestValidateRS256MissingExpRejected(t *testing.T) {
	key, pubPEM := generateTestKeyPair(t)
	v := NewValidator("agent-1")
	_ = v.Configure(pubPEM)

	now := time.Now()
	claims := Claims{
		AgentID:  "agent-1",
		ClientID: "client-9",
		Model:    "llama3",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ID:        "jti-1",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			// ExpiresAt intentionally omitted.
		},
	}
	token := signTestToken(t, key, claims)

	if _, ok := v.Validate(token); ok {
		t.Error("expected token without exp to be rejected")
	}
}

func TestValidateRS256MissingIatRejected(t *testing.T) {
	key, pubPEM := generateTestKeyPair(t)
	v := NewValidator("agent-1")
	_ = v.Configure(pubPEM)

	now := time.Now()
	claims := Claims{
		AgentID:  "agent-1",
		ClientID: "client-9",
		Model:    "llama3",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ID:        "jti-1",
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			// IssuedAt intentionally omitted.
		},
	}
	token := signTestToken(t, key, claims)

	if _, ok := v.Validate(token); ok {
		t.Error("expected token without iat to be rejected")
	}
}

func TestValidateRS256MissingNbfRejected(t *testing.T) {
	key, pubPEM := generateTestKeyPair(t)
	v := NewValidator("agent-1")
	_ = v.Configure(pubPEM)

	now := time.Now()
	claims := Claims{
		AgentID:  "agent-1",
		ClientID: "client-9",
		Model:    "llama3",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ID:        "jti-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			// NotBefore intentionally omitted.
		},
	}
	token := signTestToken(t, key, claims)

	if _, ok := v.Validate(token); ok {
		t.Error("expected token without nbf to be rejected")
	}
}

func TestIsExpired(t *testing.T) {
	key, _ := generateTestKeyPair(t)
	past := time.Now().Add(-time.Hour)
	token := signTestToken(t, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(past),
		},
	})

	if !IsExpired(token) {
		t.Error("expected token with past exp to report expired")
	}
}

func TestExtractClaimsUnsafeDoesNotVerifySignature(t *testing.T) {
	key, _ := generateTestKeyPair(t)
	token := signTestToken(t, key, Claims{
		ClientID: "client-unsafe",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, ok := ExtractClaimsUnsafe(token)
	if !ok {
		t.Fatal("expected claims to be extracted without verification")
	}
	if claims["client_id"] != "client-unsafe" {
		t.Errorf("claims[client_id] = %v, want client-unsafe", claims["client_id"])
	}
}
