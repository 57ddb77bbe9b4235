package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	ErrNoSecret         = errors.New("signing secret not configured")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Secrets holds the shared secrets the two verification channels sign with.
// They are injected at construction so nothing reads the environment mid-request.
type Secrets struct {
	GatewayKeySecret string
	WebhookSecret    string
}

type Verifier struct {
	secrets Secrets
}

func NewVerifier(secrets Secrets) *Verifier {
	return &Verifier{secrets: secrets}
}

// VerifyClient checks the signature the client receives from the gateway after
// checkout. It covers the string "<gatewayOrderID>|<gatewayPaymentID>".
func (v *Verifier) VerifyClient(gatewayOrderID, gatewayPaymentID, signature string) error {
	if v.secrets.GatewayKeySecret == "" {
		return ErrNoSecret
	}
	return verify([]byte(v.secrets.GatewayKeySecret), []byte(gatewayOrderID+"|"+gatewayPaymentID), signature)
}

// VerifyWebhook checks the transport signature of a webhook delivery. It covers
// the exact raw body bytes, so callers must verify before parsing.
func (v *Verifier) VerifyWebhook(body []byte, signature string) error {
	if v.secrets.WebhookSecret == "" {
		return ErrNoSecret
	}
	return verify([]byte(v.secrets.WebhookSecret), body, signature)
}

func verify(secret, message []byte, signature string) error {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of message. Exposed for tests and tooling
// that need to produce valid signatures.
func Sign(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}
