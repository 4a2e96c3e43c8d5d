package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/snippetstream/snippetstream/internal/pkg/timeutil"
)

// signatureTolerance bounds the accepted webhook-timestamp skew. Old
// timestamps are replays; far-future ones are clock problems on the
// sender side.
const signatureTolerance = 5 * time.Minute

// WebhookHeaders carries the Standard Webhooks headers the provider
// sends with every delivery.
type WebhookHeaders struct {
	ID        string
	Signature string
	Timestamp string
}

// VerifyWebhookSignature checks a Standard Webhooks HMAC-SHA256
// signature: base64(HMAC(secret, "id.timestamp.body")), delivered as
// one or more space-separated "v1,<sig>" entries. The secret may carry
// the conventional "whsec_" prefix around its base64 key material.
func VerifyWebhookSignature(payload []byte, hdr WebhookHeaders, secret string) bool {
	sigHeader := strings.TrimSpace(hdr.Signature)
	if sigHeader == "" || strings.TrimSpace(secret) == "" || hdr.ID == "" || hdr.Timestamp == "" {
		return false
	}

	key, err := decodeWebhookSecret(secret)
	if err != nil {
		return false
	}

	if !timestampWithinTolerance(hdr.Timestamp, timeutil.Now()) {
		return false
	}

	signedContent := hdr.ID + "." + hdr.Timestamp + "." + string(payload)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(signedContent))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	// The header may list several signatures (e.g. during secret
	// rotation); any match verifies the delivery.
	for _, entry := range strings.Fields(sigHeader) {
		candidate := entry
		if idx := strings.Index(entry, ","); idx >= 0 {
			if entry[:idx] != "v1" {
				continue
			}
			candidate = entry[idx+1:]
		}
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return true
		}
	}
	return false
}

func decodeWebhookSecret(secret string) ([]byte, error) {
	trimmed := strings.TrimSpace(secret)
	if rest, ok := strings.CutPrefix(trimmed, "whsec_"); ok {
		return base64.StdEncoding.DecodeString(rest)
	}
	// Plain secrets are used verbatim, matching sandbox configurations
	// that skip the whsec_ convention.
	return []byte(trimmed), nil
}

func timestampWithinTolerance(raw string, now time.Time) bool {
	unix, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return false
	}
	ts := time.Unix(unix, 0)
	diff := now.Sub(ts)
	if diff < 0 {
		diff = -diff
	}
	return diff <= signatureTolerance
}
