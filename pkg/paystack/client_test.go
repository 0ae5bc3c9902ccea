package paystack

import (
	"net/http"
	"testing"

	pkgerrors "github.com/swapdesk/swapdesk-backend/pkg/errors"
)

func TestDomainCodeForStatus(t *testing.T) {
	tests := []struct {
		status int
		code   pkgerrors.Code
	}{
		{http.StatusBadRequest, pkgerrors.CodeValidation},
		{http.StatusUnauthorized, pkgerrors.CodeUnauthorized},
		{http.StatusForbidden, pkgerrors.CodeForbidden},
		{http.StatusNotFound, pkgerrors.CodeNotFound},
		{http.StatusConflict, pkgerrors.CodeConflict},
		{http.StatusTooManyRequests, pkgerrors.CodeRateLimit},
		{http.StatusBadGateway, pkgerrors.CodeDependency},
	}
	for _, tc := range tests {
		if got := domainCodeForStatus(tc.status); got != tc.code {
			t.Fatalf("status %d: expected %s got %s", tc.status, tc.code, got)
		}
	}
}

func TestRedact(t *testing.T) {
	c := &Client{}
	if out := c.redact("access_code", "abc123"); out != "[REDACTED]" {
		t.Fatalf("expected redacted value, got %v", out)
	}
	if v := c.redact("reference", "ref-1"); v != "ref-1" {
		t.Fatalf("unexpected redaction for safe key")
	}
}

func TestVerifySignature(t *testing.T) {
	secret := "sk_test_secret"
	body := []byte(`{"event":"charge.success","data":{"reference":"ref-1"}}`)

	sig := Sign(secret, body)
	if !VerifySignature(secret, body, sig) {
		t.Fatal("expected valid signature to verify")
	}
	if VerifySignature(secret, body, sig[:len(sig)-2]+"00") {
		t.Fatal("expected tampered signature to fail")
	}
	if VerifySignature(secret, append(body, ' '), sig) {
		t.Fatal("expected tampered body to fail")
	}
	if VerifySignature("", body, sig) {
		t.Fatal("expected missing secret to fail")
	}
}

func TestParseWebhook(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"id":42,"status":"success","reference":"ref-1","amount":775000,"currency":"NGN"}}`)
	event, err := ParseWebhook(body)
	if err != nil {
		t.Fatalf("ParseWebhook returned error: %v", err)
	}
	if event.Event != "charge.success" {
		t.Fatalf("unexpected event %q", event.Event)
	}
	if event.Data.Reference != "ref-1" || event.Data.AmountKobo != 775000 {
		t.Fatalf("unexpected data %+v", event.Data)
	}
}

func TestUSDCentsToKobo(t *testing.T) {
	conv, err := NewConverter("1550")
	if err != nil {
		t.Fatalf("NewConverter returned error: %v", err)
	}

	// $50.00 at 1550 NGN/USD = 77,500 NGN = 7,750,000 kobo.
	kobo, err := conv.USDCentsToKobo(5000)
	if err != nil {
		t.Fatalf("USDCentsToKobo returned error: %v", err)
	}
	if kobo != 7750000 {
		t.Fatalf("expected 7750000 kobo got %d", kobo)
	}

	if _, err := conv.USDCentsToKobo(0); err == nil {
		t.Fatal("expected error for non-positive amount")
	}
}

func TestNewConverterRejectsBadRate(t *testing.T) {
	if _, err := NewConverter("abc"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := NewConverter("0"); err == nil {
		t.Fatal("expected positivity error")
	}
}
