package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	sdkerrors "github.com/tiation/sdk-go/pkg/errors"
)

// Signature scheme headers.
const (
	HeaderSignature = "X-Tiation-Signature"
	HeaderTimestamp = "X-Tiation-Timestamp"
	HeaderEventType = "X-Tiation-Event"
	HeaderDelivery  = "X-Tiation-Delivery"
)

// DefaultTolerance is how far a delivery timestamp may drift from local
// time before it is rejected as a possible replay.
const DefaultTolerance = 5 * time.Minute

const signaturePrefix = "sha256="

// Sign computes the signature for a payload at the given unix timestamp.
// The signed message is "<timestamp>.<payload>" and the result is
// "sha256=" followed by the hex HMAC-SHA256 digest.
func Sign(secret []byte, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifyOptions tune signature verification.
type VerifyOptions struct {
	// Tolerance bounds timestamp drift. Zero means DefaultTolerance;
	// negative disables the check entirely.
	Tolerance time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Verify checks a payload against the signature and timestamp header
// values. Comparison is constant time.
func Verify(secret []byte, payload []byte, signature, timestamp string, opts VerifyOptions) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return sdkerrors.New(sdkerrors.ErrCodeSignatureInvalid, "malformed timestamp header")
	}

	tolerance := opts.Tolerance
	if tolerance == 0 {
		tolerance = DefaultTolerance
	}
	if tolerance > 0 {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		drift := now().Sub(time.Unix(ts, 0))
		if drift < 0 {
			drift = -drift
		}
		if drift > tolerance {
			return sdkerrors.New(sdkerrors.ErrCodeTimestampStale, "delivery timestamp outside tolerance")
		}
	}

	expected := Sign(secret, ts, payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return sdkerrors.New(sdkerrors.ErrCodeSignatureInvalid, "signature mismatch")
	}
	return nil
}

// VerifyRequest verifies an incoming delivery request using its headers.
// The caller supplies the already-read body.
func VerifyRequest(secret []byte, r *http.Request, body []byte, opts VerifyOptions) error {
	return Verify(secret, body, r.Header.Get(HeaderSignature), r.Header.Get(HeaderTimestamp), opts)
}
