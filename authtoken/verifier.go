package authtoken

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"gopkg.in/square/go-jose.v2/jwt"
)

// RSAVerifier verifies access tokens signed with an RSA key (RS256 or any
// other RSA signature algorithm go-jose supports) against a single public
// key, the way a locate-service-issued access token is verified in
// production.
type RSAVerifier struct {
	key *rsa.PublicKey
}

// NewRSAVerifier parses a PEM-encoded RSA public key and returns a
// Verifier that checks tokens against it.
func NewRSAVerifier(pemBytes []byte) (*RSAVerifier, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("authtoken: no PEM block found in public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("authtoken: failed to parse public key: %w", err)
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("authtoken: public key is not RSA")
	}
	return &RSAVerifier{key: rsaKey}, nil
}

// Verify implements Verifier.
func (v *RSAVerifier) Verify(token string, exp jwt.Expected) (*jwt.Claims, error) {
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("authtoken: failed to parse token: %w", err)
	}
	claims := &jwt.Claims{}
	if err := parsed.Claims(v.key, claims); err != nil {
		return nil, fmt.Errorf("authtoken: failed signature verification: %w", err)
	}
	if err := claims.Validate(exp); err != nil {
		return nil, fmt.Errorf("authtoken: failed claim validation: %w", err)
	}
	return claims, nil
}
