package stripeapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidSignature = errors.New("invalid stripe signature")

const signatureTolerance = 5 * time.Minute

// VerifySignature checks the Stripe-Signature header against the raw request
// body. The body must be the bytes exactly as received; re-serialized JSON
// will not verify.
func VerifySignature(payload []byte, signatureHeader, secret string, now time.Time) error {
	if strings.TrimSpace(secret) == "" {
		return errors.New("stripe webhook secret not configured")
	}

	timestamp, signature, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return err
	}

	signedPayload := []byte(timestamp + "." + string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(signedPayload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}

	tsInt, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if delta := now.Sub(time.Unix(tsInt, 0)); delta > signatureTolerance || delta < -signatureTolerance {
		return ErrInvalidSignature
	}
	return nil
}

func parseSignatureHeader(header string) (string, string, error) {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			sig = kv[1]
		}
	}
	if ts == "" || sig == "" {
		return "", "", ErrInvalidSignature
	}
	return ts, sig, nil
}

// SignatureHeader builds a header the way Stripe does. Used by tests and the
// local webhook replay tool.
func SignatureHeader(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(at.Unix(), 10) + "." + string(payload)))
	return "t=" + strconv.FormatInt(at.Unix(), 10) + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
