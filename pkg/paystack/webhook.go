package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// SignatureHeader carries the HMAC-SHA512 digest of the webhook body.
const SignatureHeader = "x-paystack-signature"

// WebhookEvent is the decoded delivery envelope.
type WebhookEvent struct {
	Event string          `json:"event"`
	Data  WebhookData     `json:"data"`
	Raw   json.RawMessage `json:"-"`
}

// WebhookData holds the charge fields the escrow flow cares about.
type WebhookData struct {
	ID         int64     `json:"id"`
	Status     string    `json:"status"`
	Reference  string    `json:"reference"`
	AmountKobo int64     `json:"amount"`
	Currency   string    `json:"currency"`
	PaidAt     time.Time `json:"paid_at"`
	Channel    string    `json:"channel"`
}

// VerifySignature checks the body digest against the signature header using
// the API secret key, per Paystack's webhook contract.
func VerifySignature(secretKey string, body []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if secretKey == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// Sign computes the hex HMAC-SHA512 digest for a body. Used by tests and
// outbound replay tooling.
func Sign(secretKey string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook decodes a verified webhook body.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, err
	}
	event.Raw = json.RawMessage(body)
	return &event, nil
}
