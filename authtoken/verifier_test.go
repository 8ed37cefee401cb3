package authtoken

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() error: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("x509.MarshalPKIXPublicKey() error: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return priv, pemBytes
}

func signTestToken(t *testing.T, priv *rsa.PrivateKey, claims jwt.Claims) string {
	t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: priv}, nil)
	if err != nil {
		t.Fatalf("jose.NewSigner() error: %v", err)
	}
	token, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	if err != nil {
		t.Fatalf("CompactSerialize() error: %v", err)
	}
	return token
}

func TestRSAVerifier_Verify(t *testing.T) {
	priv, pubPEM := generateTestKeyPair(t)
	verifier, err := NewRSAVerifier(pubPEM)
	if err != nil {
		t.Fatalf("NewRSAVerifier() error: %v", err)
	}

	now := time.Now()
	claims := jwt.Claims{
		Subject:  "qos-gateway",
		Issuer:   "locate.example.net",
		Audience: jwt.Audience{"mlab1.fake0"},
		Expiry:   jwt.NewNumericDate(now.Add(time.Hour)),
		IssuedAt: jwt.NewNumericDate(now),
	}
	token := signTestToken(t, priv, claims)

	got, err := verifier.Verify(token, jwt.Expected{
		Subject:  "qos-gateway",
		Audience: jwt.Audience{"mlab1.fake0"},
		Time:     now,
	})
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if got.Issuer != claims.Issuer {
		t.Errorf("Verify() Issuer = %q, want %q", got.Issuer, claims.Issuer)
	}
}

func TestRSAVerifier_VerifyRejectsWrongKey(t *testing.T) {
	_, pubPEM := generateTestKeyPair(t)
	otherPriv, _ := generateTestKeyPair(t)
	verifier, err := NewRSAVerifier(pubPEM)
	if err != nil {
		t.Fatalf("NewRSAVerifier() error: %v", err)
	}

	now := time.Now()
	token := signTestToken(t, otherPriv, jwt.Claims{
		Subject: "qos-gateway",
		Expiry:  jwt.NewNumericDate(now.Add(time.Hour)),
	})

	if _, err := verifier.Verify(token, jwt.Expected{Subject: "qos-gateway", Time: now}); err == nil {
		t.Error("Verify() with mismatched signing key = nil error, want error")
	}
}

func TestNewRSAVerifier_InvalidPEM(t *testing.T) {
	if _, err := NewRSAVerifier([]byte("not pem")); err == nil {
		t.Error("NewRSAVerifier() with invalid PEM = nil error, want error")
	}
}
