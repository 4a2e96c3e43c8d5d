package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"
	"time"
)

func signPayload(id, timestamp string, payload, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id + "." + timestamp + "." + string(payload)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func freshTimestamp() string {
	return fmt.Sprintf("%d", time.Now().Unix())
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"type":"subscription.active"}`)
	secret := "plain-secret"
	ts := freshTimestamp()

	sig := signPayload("msg_1", ts, payload, []byte(secret))
	hdr := WebhookHeaders{ID: "msg_1", Signature: "v1," + sig, Timestamp: ts}

	if !VerifyWebhookSignature(payload, hdr, secret) {
		t.Fatalf("expected valid signature to verify")
	}

	hdr.Signature = "v1,AAAA" + sig[4:]
	if VerifyWebhookSignature(payload, hdr, secret) {
		t.Fatalf("expected tampered signature to fail")
	}
}

func TestVerifyWebhookSignature_WhsecSecret(t *testing.T) {
	payload := []byte(`{"type":"payment.succeeded"}`)
	key := []byte("0123456789abcdef0123456789abcdef")
	secret := "whsec_" + base64.StdEncoding.EncodeToString(key)
	ts := freshTimestamp()

	sig := signPayload("msg_2", ts, payload, key)
	hdr := WebhookHeaders{ID: "msg_2", Signature: "v1," + sig, Timestamp: ts}

	if !VerifyWebhookSignature(payload, hdr, secret) {
		t.Fatalf("expected whsec_ secret to verify")
	}
}

func TestVerifyWebhookSignature_MultipleSignatures(t *testing.T) {
	payload := []byte(`{"type":"subscription.renewed"}`)
	secret := "rotating-secret"
	ts := freshTimestamp()

	valid := signPayload("msg_3", ts, payload, []byte(secret))
	stale := signPayload("msg_3", ts, payload, []byte("old-secret"))
	hdr := WebhookHeaders{ID: "msg_3", Signature: "v1," + stale + " v1," + valid, Timestamp: ts}

	if !VerifyWebhookSignature(payload, hdr, secret) {
		t.Fatalf("expected any matching signature entry to verify")
	}
}

func TestVerifyWebhookSignature_StaleTimestamp(t *testing.T) {
	payload := []byte(`{"type":"subscription.active"}`)
	secret := "plain-secret"
	ts := fmt.Sprintf("%d", time.Now().Add(-signatureTolerance-time.Minute).Unix())

	sig := signPayload("msg_4", ts, payload, []byte(secret))
	hdr := WebhookHeaders{ID: "msg_4", Signature: "v1," + sig, Timestamp: ts}

	if VerifyWebhookSignature(payload, hdr, secret) {
		t.Fatalf("expected stale timestamp to fail verification")
	}
}

func TestVerifyWebhookSignature_MissingHeaders(t *testing.T) {
	payload := []byte(`{}`)
	if VerifyWebhookSignature(payload, WebhookHeaders{}, "secret") {
		t.Fatalf("expected missing headers to fail verification")
	}
	if VerifyWebhookSignature(payload, WebhookHeaders{ID: "msg_5", Signature: "v1,abc", Timestamp: freshTimestamp()}, "") {
		t.Fatalf("expected empty secret to fail verification")
	}
}
