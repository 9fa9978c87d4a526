package qstash

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const jwtLeeway = 5 * time.Second

var ErrInvalidSignature = errors.New("invalid qstash signature")

type signatureClaims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

// Verify checks the Upstash-Signature header of a delivery against the
// current signing key, then the next one during key rotation.
func (c *Client) Verify(signature string, body []byte, callbackURL string) error {
	if c.currentSigningKey == "" && c.nextSigningKey == "" {
		return fmt.Errorf("%w: no signing keys configured", ErrInvalidSignature)
	}
	var lastErr error
	for _, key := range []string{c.currentSigningKey, c.nextSigningKey} {
		if key == "" {
			continue
		}
		if lastErr = verifyWithKey(key, signature, body, callbackURL); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func verifyWithKey(key, signature string, body []byte, callbackURL string) error {
	claims := &signatureClaims{}
	_, err := jwt.ParseWithClaims(signature, claims,
		func(t *jwt.Token) (any, error) { return []byte(key), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("Upstash"),
		jwt.WithLeeway(jwtLeeway),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if callbackURL != "" && claims.Subject != callbackURL {
		return fmt.Errorf("%w: subject %q does not match %q", ErrInvalidSignature, claims.Subject, callbackURL)
	}

	sum := sha256.Sum256(body)
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if strings.TrimRight(claims.Body, "=") != want {
		return fmt.Errorf("%w: body hash mismatch", ErrInvalidSignature)
	}
	return nil
}
