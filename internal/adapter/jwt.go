package adapter

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials holds a Coinbase Advanced Trade API key pair. KeySecret is the
// PEM-encoded EC private key belonging to KeyName.
type Credentials struct {
	KeyName   string
	KeySecret string
}

// Empty reports whether no credentials were configured. Market data channels
// work unauthenticated; the JWT is attached only when credentials exist.
func (c Credentials) Empty() bool {
	return c.KeyName == "" && c.KeySecret == ""
}

// signWSJWT builds the ES256 JWT Coinbase expects on subscribe frames.
// The token is short-lived (2 minutes) and carries a random nonce header.
func signWSJWT(creds Credentials, now time.Time) (string, error) {
	key, err := parseECPrivateKey(creds.KeySecret)
	if err != nil {
		return "", fmt.Errorf("parse api key secret: %w", err)
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"sub": creds.KeyName,
		"iss": "cdp",
		"nbf": now.Unix(),
		"exp": now.Add(2 * time.Minute).Unix(),
	})
	token.Header["kid"] = creds.KeyName
	token.Header["nonce"] = hex.EncodeToString(nonce)

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

func parseECPrivateKey(pemKey string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, fmt.Errorf("no PEM block in key secret")
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is not an EC private key")
	}
	return key, nil
}
