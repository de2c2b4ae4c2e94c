package enforcement

import (
	"time"

	"github.com/google/uuid"
)

// Decision is the outcome of a single verification attempt.
type Decision string

const (
	DecisionAllow Decision = "ALLOW"
	DecisionDeny  Decision = "DENY"
	DecisionError Decision = "ERROR"
)

// Deny reasons recorded on the call row and returned to the caller.
const (
	ReasonInvalidIdentity   = "invalid caller identity"
	ReasonStaleTimestamp    = "timestamp outside acceptance window"
	ReasonBadTimestamp      = "malformed timestamp"
	ReasonSignatureMismatch = "signature mismatch"
)

// Call is the telemetry record of one verification attempt. Every attempt
// produces exactly one row, whatever the outcome.
type Call struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID string    `json:"organization_id"`
	CallerID       string    `json:"caller_id"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	Decision       Decision  `json:"decision"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// VerifyInput carries the signed request tuple presented for verification.
type VerifyInput struct {
	Method         string
	Path           string
	Timestamp      string
	Body           []byte
	CallerID       string
	OrganizationID string
	Signature      string
}

// Result is the verification outcome returned to the gateway.
type Result struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason,omitempty"`
}

// Allowed reports whether the request may proceed.
func (r Result) Allowed() bool { return r.Decision == DecisionAllow }
