// Package interfaces defines the core types and ports for the purchase
// approval service. It provides the contract between the workflow, storage and
// transport layers without implementation details.
package interfaces

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestID uniquely identifies a purchase request. Generated at creation,
// immutable afterwards.
type RequestID string

// NewRequestID generates a fresh random request identifier.
func NewRequestID() RequestID {
	return RequestID(uuid.Must(uuid.NewRandom()).String())
}

// ParseRequestID validates an identifier received over the wire.
func ParseRequestID(s string) (RequestID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("invalid request id: %w", err)
	}
	return RequestID(s), nil
}

// String returns the identifier as a string.
func (id RequestID) String() string {
	return string(id)
}

// ApproverToken is the opaque per-approver secret embedded in the approval
// link. It is the sole credential for all approver actions, so it must be
// unique across all approver records.
type ApproverToken string

// NewApproverToken generates a fresh random approver token.
func NewApproverToken() ApproverToken {
	return ApproverToken(uuid.Must(uuid.NewRandom()).String())
}

// ParseApproverToken validates a token received over the wire.
func ParseApproverToken(s string) (ApproverToken, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", errors.New("invalid approver token")
	}
	return ApproverToken(s), nil
}

// String returns the token as a string. Tokens are secrets; callers must not
// log them at Info level.
func (t ApproverToken) String() string {
	return string(t)
}

// RequestStatus is the aggregate state of a purchase request, derived from the
// three approvers' individual outcomes.
type RequestStatus string

const (
	// StatusPendingInitialApproval is the creation state, before any decision.
	StatusPendingInitialApproval RequestStatus = "PendingInitialApproval"

	// StatusPartiallyApproved means one or two approvers signed, none rejected.
	StatusPartiallyApproved RequestStatus = "PartiallyApproved"

	// StatusFullyApproved means all three approvers signed. Hand-off marker
	// for the external PDF evidence generator.
	StatusFullyApproved RequestStatus = "FullyApproved"

	// StatusRejected means at least one approver rejected.
	StatusRejected RequestStatus = "Rejected"

	// StatusCompletedPdfGenerated is set by the PDF collaborator once the
	// evidence document exists.
	StatusCompletedPdfGenerated RequestStatus = "CompletedPdfGenerated"
)

// requestTransitions is the closed transition table for RequestStatus. Any
// transition not listed here is rejected by the store layer.
var requestTransitions = map[RequestStatus][]RequestStatus{
	StatusPendingInitialApproval: {StatusPartiallyApproved, StatusFullyApproved, StatusRejected},
	StatusPartiallyApproved:      {StatusPartiallyApproved, StatusFullyApproved, StatusRejected},
	StatusFullyApproved:          {StatusCompletedPdfGenerated, StatusRejected},
	StatusRejected:               {StatusRejected},
	StatusCompletedPdfGenerated:  {},
}

// Valid reports whether the status is a member of the closed set.
func (s RequestStatus) Valid() bool {
	_, ok := requestTransitions[s]
	return ok
}

// CanTransitionTo reports whether the transition s -> next is in the table.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, allowed := range requestTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ApprovalStatus is the per-approver state machine:
// PendingOtp -> PendingDecision -> {Signed, Rejected}. OTP re-issue is the
// self-loop on PendingOtp.
type ApprovalStatus string

const (
	// ApprovalPendingOtp means the approver has not validated an OTP yet.
	ApprovalPendingOtp ApprovalStatus = "PendingOtp"

	// ApprovalPendingDecision means the OTP was validated and a decision is
	// awaited.
	ApprovalPendingDecision ApprovalStatus = "PendingDecision"

	// ApprovalSigned is the terminal approval state.
	ApprovalSigned ApprovalStatus = "Signed"

	// ApprovalRejected is the terminal rejection state.
	ApprovalRejected ApprovalStatus = "Rejected"
)

var approvalTransitions = map[ApprovalStatus][]ApprovalStatus{
	ApprovalPendingOtp:      {ApprovalPendingOtp, ApprovalPendingDecision},
	ApprovalPendingDecision: {ApprovalSigned, ApprovalRejected},
	ApprovalSigned:          {},
	ApprovalRejected:        {},
}

// Valid reports whether the status is a member of the closed set.
func (s ApprovalStatus) Valid() bool {
	_, ok := approvalTransitions[s]
	return ok
}

// CanTransitionTo reports whether the transition s -> next is in the table.
func (s ApprovalStatus) CanTransitionTo(next ApprovalStatus) bool {
	for _, allowed := range approvalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the approver has already decided.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalSigned || s == ApprovalRejected
}

// Decision is an approver's verdict as submitted over the wire.
type Decision string

const (
	// DecisionApprove records a signed approval. Requires a signature name.
	DecisionApprove Decision = "approve"

	// DecisionReject records a rejection.
	DecisionReject Decision = "reject"
)

// ParseDecision validates a decision value received over the wire.
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionApprove, DecisionReject:
		return Decision(s), nil
	default:
		return "", fmt.Errorf("invalid decision %q: must be 'approve' or 'reject'", s)
	}
}

// RequiredApprovers is the fixed number of approvers per purchase request.
const RequiredApprovers = 3

// PurchaseRequest is the root record of the workflow. The business payload is
// immutable after creation; only Status, PdfEvidenceKey, UpdatedAt and Version
// are mutated, and only by the decision aggregator or the PDF hand-off.
type PurchaseRequest struct {
	RequestID      RequestID     `json:"requestId"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	Amount         float64       `json:"amount"`
	RequesterEmail string        `json:"requesterEmail"`
	ApproverEmails []string      `json:"approverEmails"`
	Status         RequestStatus `json:"status"`
	PdfEvidenceKey string        `json:"pdfEvidenceKey,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`

	// Version is the optimistic-concurrency stamp: every conditional update
	// checks it and bumps it.
	Version uint64 `json:"version"`
}

// ApproverRecord tracks one approver's progress for one request. Exactly
// RequiredApprovers records exist per request, covering the parent's
// ApproverEmails.
type ApproverRecord struct {
	RequestID      RequestID      `json:"requestId"`
	ApproverEmail  string         `json:"approverEmail"`
	ApproverToken  ApproverToken  `json:"approverToken"`
	ApprovalOrder  int            `json:"approvalOrder"`
	ApprovalStatus ApprovalStatus `json:"approvalStatus"`

	// Otp is the live one-time code, empty unless one is outstanding. Cleared
	// when consumed; superseded on re-issue.
	Otp           string     `json:"otp,omitempty"`
	OtpExpiration *time.Time `json:"otpExpiration,omitempty"`

	DecisionDate  *time.Time `json:"decisionDate,omitempty"`
	SignatureName string     `json:"signatureName,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   uint64    `json:"version"`
}

// ApproverContact is the projection used by the mock-mail listing: enough to
// reconstruct an approval link, nothing more.
type ApproverContact struct {
	RequestID     RequestID     `json:"requestId"`
	ApproverEmail string        `json:"approverEmail"`
	ApproverToken ApproverToken `json:"approverToken"`
}

// ValidEmail performs the basic shape check applied to requester and approver
// addresses. Full RFC validation is out of scope; delivery is mocked anyway.
func ValidEmail(addr string) bool {
	at := strings.Index(addr, "@")
	return at > 0 && at < len(addr)-1 && !strings.ContainsAny(addr, " \t\n")
}
