// Package signing implements the caller side of the request signature
// scheme: building the canonical request string, computing the HMAC-SHA256
// signature, and emitting the X-SCK-* header set a gateway verifies.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

// Header names of the signed-request wire format.
const (
	HeaderSignature    = "X-SCK-Signature"
	HeaderTimestamp    = "X-SCK-Timestamp"
	HeaderCallerID     = "X-SCK-ANS-ID"
	HeaderOrganization = "X-SCK-Organization"
)

// SignaturePrefix identifies the signature algorithm in the header value.
const SignaturePrefix = "hmac-sha256="

// CanonicalString builds the exact byte sequence both sides sign:
// method (upper-cased), path, timestamp, hex SHA-256 of the body, and the
// caller id, newline-separated.
func CanonicalString(method, path, timestamp string, body []byte, callerID string) string {
	bodyHash := sha256.Sum256(body)
	return strings.Join([]string{
		strings.ToUpper(method),
		path,
		timestamp,
		hex.EncodeToString(bodyHash[:]),
		callerID,
	}, "\n")
}

// Signer computes request signatures with a caller's shared secret.
type Signer struct {
	Secret []byte
}

// Sign returns the hex HMAC-SHA256 signature of the canonical request
// string.
func (s Signer) Sign(method, path, timestamp string, body []byte, callerID string) string {
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write([]byte(CanonicalString(method, path, timestamp, body, callerID)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Headers signs the request and returns the complete X-SCK-* header set,
// timestamped now in RFC 3339 UTC.
func (s Signer) Headers(method, path string, body []byte, callerID, organizationID string) http.Header {
	ts := time.Now().UTC().Format(time.RFC3339)
	h := http.Header{}
	h.Set(HeaderSignature, SignaturePrefix+s.Sign(method, path, ts, body, callerID))
	h.Set(HeaderTimestamp, ts)
	h.Set(HeaderCallerID, callerID)
	h.Set(HeaderOrganization, organizationID)
	return h
}

// Apply signs req and sets the X-SCK-* headers on it in place.
func (s Signer) Apply(req *http.Request, body []byte, callerID, organizationID string) {
	for name, values := range s.Headers(req.Method, req.URL.Path, body, callerID, organizationID) {
		req.Header[name] = values
	}
}
