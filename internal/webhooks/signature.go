package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Delivery headers. Receivers recompute the signature over
// "<timestamp>.<body>" and reject stale or replayed deliveries using the
// timestamp header.
const (
	HeaderSignature = "X-Renderowl-Signature"
	HeaderTimestamp = "X-Renderowl-Timestamp"
	HeaderEventID   = "X-Renderowl-Event-Id"

	// MaxSkew is the accepted clock skew for a delivery timestamp.
	MaxSkew = 5 * time.Minute
)

var (
	ErrBadSignature   = errors.New("signature mismatch")
	ErrStaleTimestamp = errors.New("timestamp outside accepted skew")
)

// Sign computes the hex HMAC-SHA256 of "<unix timestamp>.<body>".
func Sign(secret string, ts time.Time, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature and timestamp header against the
// shared secret. It is used by tests and by receiver-side tooling; the
// delivery worker only signs.
func Verify(secret, signature, tsHeader string, body []byte, now time.Time) error {
	unix, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	ts := time.Unix(unix, 0)
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxSkew {
		return ErrStaleTimestamp
	}
	expected := Sign(secret, ts, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
