package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSignatureTolerance bounds how old a webhook timestamp may be.
const DefaultSignatureTolerance = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrBadSignature     = errors.New("signature verification failed")
	ErrStaleSignature   = errors.New("signature timestamp outside tolerance")
)

// VerifySignature checks a provider webhook signature of the form
// "t=<unix>,v1=<hex>" where the hex value is HMAC-SHA256 over
// "<unix>.<payload>" with the shared webhook secret. Events failing this
// check are rejected before any processing.
func VerifySignature(payload []byte, header, secret string, now time.Time, tolerance time.Duration) error {
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}

	ts, sigs, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	issued := time.Unix(ts, 0)
	if now.Sub(issued) > tolerance || issued.Sub(now) > tolerance {
		return ErrStaleSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, sig := range sigs {
		got, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare(expected, got) == 1 {
			return nil
		}
	}
	return ErrBadSignature
}

func parseSignatureHeader(header string) (int64, []string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil, ErrMissingSignature
	}

	var ts int64 = -1
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", ErrBadSignature)
			}
			ts = parsed
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts < 0 || len(sigs) == 0 {
		return 0, nil, fmt.Errorf("%w: header missing t or v1", ErrBadSignature)
	}
	return ts, sigs, nil
}

// SignPayload produces a header in the verified format. Test helper and
// reference for provider simulators.
func SignPayload(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", at.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}
