// Package api defines the wire types of the purchase approval HTTP API and a
// typed client for it. Handlers and the client both build on these types so
// the two sides cannot drift.
package api

import (
	"time"

	"github.com/procurehub/purchase-approval-backend/interfaces"
)

// Header names used to identify callers. The requester header scopes the
// requester-facing endpoints; the approver token authenticates the
// approver-facing ones.
const (
	RequesterEmailHeader = "X-Requester-Email"
	ApproverTokenHeader  = "X-Approver-Token"
)

// CreateRequestBody is the payload for POST /api/purchase-requests.
type CreateRequestBody struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Amount         float64  `json:"amount"`
	ApproverEmails []string `json:"approverEmails"`
}

// ValidateOtpBody is the payload for the validate-otp endpoint.
type ValidateOtpBody struct {
	Otp string `json:"otp"`
}

// DecisionBody is the payload for the decision endpoint. SignatureName is
// required for approvals and ignored for rejections.
type DecisionBody struct {
	Decision      string `json:"decision"`
	SignatureName string `json:"signatureName,omitempty"`
}

// PdfGeneratedBody is the payload for the pdf-generated hand-off endpoint.
type PdfGeneratedBody struct {
	PdfEvidenceKey string `json:"pdfEvidenceKey"`
}

// ApproverInfo is the externally visible projection of an approver record.
// The OTP code and its expiry never appear here.
type ApproverInfo struct {
	ApproverEmail  string     `json:"approverEmail"`
	ApprovalOrder  int        `json:"approvalOrder"`
	ApprovalStatus string     `json:"approvalStatus"`
	DecisionDate   *time.Time `json:"decisionDate,omitempty"`
	SignatureName  string     `json:"signatureName,omitempty"`
}

// RequestDetailResponse is the owner's view of a request: the request itself
// plus the state of each approver.
type RequestDetailResponse struct {
	Request   interfaces.PurchaseRequest `json:"request"`
	Approvers []ApproverInfo             `json:"approvers"`
}

// ApprovalInfoResponse is the approver's view when following their tokenized
// link: the request under review and their own approval record.
type ApprovalInfoResponse struct {
	Request  interfaces.PurchaseRequest `json:"request"`
	Approver ApproverInfo               `json:"approver"`
}

// ValidateOtpResponse reports the approver's state after a successful code
// validation.
type ValidateOtpResponse struct {
	ApprovalStatus string `json:"approvalStatus"`
}

// DecisionResponse reports both the approver's final state and the request's
// recomputed overall status.
type DecisionResponse struct {
	ApprovalStatus string `json:"approvalStatus"`
	RequestStatus  string `json:"requestStatus"`
}

// ApprovalLinkEntry is one approver contact with its ready-made approval link,
// served by the mock-mail endpoint.
type ApprovalLinkEntry struct {
	RequestID     string `json:"requestId"`
	ApproverEmail string `json:"approverEmail"`
	ApproverToken string `json:"approverToken"`
	Link          string `json:"link"`
}

// MockMailResponse is the mock-mail listing: every recorded outbound mail plus
// the approval links for all known approver contacts.
type MockMailResponse struct {
	Mails         []interfaces.OutboundMail `json:"mails"`
	ApprovalLinks []ApprovalLinkEntry       `json:"approvalLinks"`
}

// DebugOtpResponse exposes an approver's pending code. Served only when the
// debug API is enabled.
type DebugOtpResponse struct {
	Otp       string `json:"otp"`
	ExpiresIn string `json:"expiresIn"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewApproverInfo projects a record into its external form.
func NewApproverInfo(rec *interfaces.ApproverRecord) ApproverInfo {
	return ApproverInfo{
		ApproverEmail:  rec.ApproverEmail,
		ApprovalOrder:  rec.ApprovalOrder,
		ApprovalStatus: string(rec.ApprovalStatus),
		DecisionDate:   rec.DecisionDate,
		SignatureName:  rec.SignatureName,
	}
}
