// Package workflow implements the purchase-approval core: the per-approver
// state machine, the OTP issuance and verification engine, and the decision
// aggregator that derives a request's overall status from its three approver
// records.
//
// Every operation is a stateless request-response unit of work over the
// injected RequestStore; cross-request coordination relies exclusively on the
// store's conditional-update semantics.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/procurehub/purchase-approval-backend/interfaces"
	"github.com/procurehub/purchase-approval-backend/metrics"
)

// Config carries the dependencies and tunables for a workflow Service.
type Config struct {
	Store  interfaces.RequestStore
	Mailer interfaces.Mailer
	Log    *slog.Logger

	// OTPValidity is the validity window for issued codes. Defaults to
	// DefaultOTPValidity.
	OTPValidity time.Duration

	// Now and GenerateOTP are injectable for tests. Default to time.Now and
	// the package GenerateOTP.
	Now         func() time.Time
	GenerateOTP func() (string, error)
}

// Service exposes the workflow operations. Safe for concurrent use.
type Service struct {
	store    interfaces.RequestStore
	mailer   interfaces.Mailer
	log      *slog.Logger
	validity time.Duration
	now      func() time.Time
	newOTP   func() (string, error)
}

// NewService creates a workflow service from the given configuration.
func NewService(cfg *Config) *Service {
	s := &Service{
		store:    cfg.Store,
		mailer:   cfg.Mailer,
		log:      cfg.Log,
		validity: cfg.OTPValidity,
		now:      cfg.Now,
		newOTP:   cfg.GenerateOTP,
	}
	if s.validity <= 0 {
		s.validity = DefaultOTPValidity
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newOTP == nil {
		s.newOTP = GenerateOTP
	}
	return s
}

// CreateRequestInput is the validated business payload for request creation.
type CreateRequestInput struct {
	Title          string
	Description    string
	Amount         float64
	ApproverEmails []string
}

// CreateRequest persists one purchase request in PendingInitialApproval plus
// three approver records in PendingOtp, each with a freshly generated unique
// token, as a single atomic batch. Approval-link notifications go out through
// the mailer afterwards; a delivery failure is logged but does not undo the
// creation.
func (s *Service) CreateRequest(ctx context.Context, requesterEmail string, input CreateRequestInput) (req *interfaces.PurchaseRequest, approvers []*interfaces.ApproverRecord, err error) {
	defer track("create_request", &err)

	if !interfaces.ValidEmail(requesterEmail) {
		return nil, nil, interfaces.NewValidationError("requesterEmail", "missing or malformed")
	}
	if input.Title == "" {
		return nil, nil, interfaces.NewValidationError("title", "must not be empty")
	}
	if input.Description == "" {
		return nil, nil, interfaces.NewValidationError("description", "must not be empty")
	}
	if input.Amount <= 0 {
		return nil, nil, interfaces.NewValidationError("amount", "must be a positive number")
	}
	if len(input.ApproverEmails) != interfaces.RequiredApprovers {
		return nil, nil, interfaces.NewValidationError("approverEmails", "exactly 3 approver emails required")
	}
	seen := make(map[string]bool, interfaces.RequiredApprovers)
	for _, email := range input.ApproverEmails {
		if !interfaces.ValidEmail(email) {
			return nil, nil, interfaces.NewValidationError("approverEmails", "each entry must be email-shaped")
		}
		if seen[email] {
			// Duplicate emails would collapse onto one (requestId, email)
			// record; see DESIGN.md.
			return nil, nil, interfaces.NewValidationError("approverEmails", "approver emails must be distinct")
		}
		seen[email] = true
	}

	now := s.now().UTC()
	req = &interfaces.PurchaseRequest{
		RequestID:      interfaces.NewRequestID(),
		Title:          input.Title,
		Description:    input.Description,
		Amount:         input.Amount,
		RequesterEmail: requesterEmail,
		ApproverEmails: append([]string(nil), input.ApproverEmails...),
		Status:         interfaces.StatusPendingInitialApproval,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	approvers = make([]*interfaces.ApproverRecord, 0, interfaces.RequiredApprovers)
	for i, email := range input.ApproverEmails {
		approvers = append(approvers, &interfaces.ApproverRecord{
			RequestID:      req.RequestID,
			ApproverEmail:  email,
			ApproverToken:  interfaces.NewApproverToken(),
			ApprovalOrder:  i + 1,
			ApprovalStatus: interfaces.ApprovalPendingOtp,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	if err = s.store.CreateRequest(ctx, req, approvers); err != nil {
		s.log.Error("Failed to persist purchase request", "err", err, "requestID", req.RequestID)
		return nil, nil, err
	}

	for _, rec := range approvers {
		if mailErr := s.mailer.SendApprovalLink(ctx, rec.ApproverEmail, req, rec.ApproverToken); mailErr != nil {
			s.log.Warn("Failed to send approval link", "err", mailErr,
				slog.String("requestID", req.RequestID.String()),
				slog.String("approverEmail", rec.ApproverEmail))
		}
	}

	s.log.Info("Purchase request created",
		slog.String("requestID", req.RequestID.String()),
		slog.String("requesterEmail", requesterEmail),
		slog.Float64("amount", input.Amount))
	return req, approvers, nil
}

// IssueOtp generates a fresh 6-digit code for the approver identified by
// token, stores it with a new expiry while the approval status stays
// PendingOtp (self-loop; re-issue supersedes any outstanding code), and
// delivers it out-of-band. Returns the parent request's display fields; the
// code itself is never part of the response.
func (s *Service) IssueOtp(ctx context.Context, id interfaces.RequestID, token interfaces.ApproverToken) (req *interfaces.PurchaseRequest, err error) {
	defer track("issue_otp", &err)

	rec, err := s.resolveApprover(ctx, id, token)
	if err != nil {
		return nil, err
	}
	if rec.ApprovalStatus.Terminal() {
		return nil, interfaces.ErrAlreadyProcessed
	}
	if rec.ApprovalStatus != interfaces.ApprovalPendingOtp {
		return nil, interfaces.ErrInvalidTransition
	}

	code, err := s.newOTP()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.validity)
	expected := rec.Version
	rec.Otp = code
	rec.OtpExpiration = &expiresAt
	rec.UpdatedAt = now

	if err = s.store.UpdateApprover(ctx, rec, expected); err != nil {
		return nil, err
	}

	req, err = s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	if mailErr := s.mailer.SendOTP(ctx, rec.ApproverEmail, req, token, code, expiresAt); mailErr != nil {
		s.log.Warn("Failed to deliver OTP", "err", mailErr,
			slog.String("requestID", id.String()),
			slog.String("approverEmail", rec.ApproverEmail))
	}

	s.log.Info("OTP issued",
		slog.String("requestID", id.String()),
		slog.String("approverEmail", rec.ApproverEmail),
		slog.Time("expiresAt", expiresAt))
	return req, nil
}

// ApprovalInfo resolves an approval link to the request under review and the
// caller's own record. When the approver is still in PendingOtp a fresh code
// is issued and delivered as a side effect, so following the link is all it
// takes to start verification.
func (s *Service) ApprovalInfo(ctx context.Context, id interfaces.RequestID, token interfaces.ApproverToken) (req *interfaces.PurchaseRequest, rec *interfaces.ApproverRecord, err error) {
	defer track("approval_info", &err)

	rec, err = s.resolveApprover(ctx, id, token)
	if err != nil {
		return nil, nil, err
	}

	if rec.ApprovalStatus == interfaces.ApprovalPendingOtp {
		if req, err = s.IssueOtp(ctx, id, token); err != nil {
			return nil, nil, err
		}
		// Issuance bumped the record; re-read so the caller sees the current
		// version.
		if rec, err = s.resolveApprover(ctx, id, token); err != nil {
			return nil, nil, err
		}
		return req, rec, nil
	}

	if req, err = s.store.GetRequest(ctx, id); err != nil {
		return nil, nil, err
	}
	return req, rec, nil
}

// ValidateOtp checks the submitted code and, on success, transitions the
// approver from PendingOtp to PendingDecision, consuming the code.
//
// Each precondition failure is a distinct error: unknown token, token/request
// mismatch, wrong state, expired code, mismatched code.
func (s *Service) ValidateOtp(ctx context.Context, id interfaces.RequestID, token interfaces.ApproverToken, otp string) (err error) {
	defer track("validate_otp", &err)

	rec, err := s.resolveApprover(ctx, id, token)
	if err != nil {
		return err
	}
	if rec.ApprovalStatus.Terminal() {
		return interfaces.ErrAlreadyProcessed
	}
	if rec.ApprovalStatus != interfaces.ApprovalPendingOtp {
		return interfaces.ErrInvalidTransition
	}
	if rec.Otp == "" || rec.OtpExpiration == nil || s.now().After(*rec.OtpExpiration) {
		return interfaces.ErrOTPExpired
	}
	if rec.Otp != otp {
		return interfaces.ErrOTPMismatch
	}

	expected := rec.Version
	rec.ApprovalStatus = interfaces.ApprovalPendingDecision
	rec.Otp = ""
	rec.OtpExpiration = nil
	rec.UpdatedAt = s.now().UTC()

	if err = s.store.UpdateApprover(ctx, rec, expected); err != nil {
		return err
	}

	s.log.Info("OTP validated",
		slog.String("requestID", id.String()),
		slog.String("approverEmail", rec.ApproverEmail))
	return nil
}

// SubmitDecision records a signed approval or a rejection for an approver in
// PendingDecision, then runs the aggregator to recompute the request's overall
// status. Approvals require a non-empty signature name.
func (s *Service) SubmitDecision(ctx context.Context, id interfaces.RequestID, token interfaces.ApproverToken, decision interfaces.Decision, signatureName string) (rec *interfaces.ApproverRecord, overall interfaces.RequestStatus, err error) {
	defer track("submit_decision", &err)

	if decision == interfaces.DecisionApprove && signatureName == "" {
		return nil, "", interfaces.NewValidationError("signatureName", "required when approving")
	}

	rec, err = s.resolveApprover(ctx, id, token)
	if err != nil {
		return nil, "", err
	}
	if rec.ApprovalStatus.Terminal() {
		return nil, "", interfaces.ErrAlreadyProcessed
	}
	if rec.ApprovalStatus != interfaces.ApprovalPendingDecision {
		return nil, "", interfaces.ErrInvalidTransition
	}

	now := s.now().UTC()
	expected := rec.Version
	if decision == interfaces.DecisionApprove {
		rec.ApprovalStatus = interfaces.ApprovalSigned
		rec.SignatureName = signatureName
	} else {
		rec.ApprovalStatus = interfaces.ApprovalRejected
		rec.SignatureName = ""
	}
	rec.DecisionDate = &now
	rec.UpdatedAt = now

	if err = s.store.UpdateApprover(ctx, rec, expected); err != nil {
		return nil, "", err
	}

	overall, err = s.recomputeOverall(ctx, id, rec.ApprovalStatus == interfaces.ApprovalRejected)
	if err != nil {
		return nil, "", err
	}

	s.log.Info("Decision recorded",
		slog.String("requestID", id.String()),
		slog.String("approverEmail", rec.ApproverEmail),
		slog.String("approvalStatus", string(rec.ApprovalStatus)),
		slog.String("overallStatus", string(overall)))
	return rec, overall, nil
}

// MarkPdfGenerated records the external PDF collaborator's hand-off: the
// request moves from FullyApproved to CompletedPdfGenerated with the evidence
// reference.
func (s *Service) MarkPdfGenerated(ctx context.Context, id interfaces.RequestID, evidenceKey string) (req *interfaces.PurchaseRequest, err error) {
	defer track("mark_pdf_generated", &err)

	if evidenceKey == "" {
		return nil, interfaces.NewValidationError("pdfEvidenceKey", "must not be empty")
	}

	req, err = s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.Status.CanTransitionTo(interfaces.StatusCompletedPdfGenerated) {
		return nil, interfaces.ErrInvalidTransition
	}

	if err = s.store.UpdateRequestStatus(ctx, id, req.Status, interfaces.StatusCompletedPdfGenerated, evidenceKey, req.Version); err != nil {
		return nil, err
	}

	return s.store.GetRequest(ctx, id)
}

// ListByRequester returns all purchase requests owned by the given email,
// oldest first. The result may be empty.
func (s *Service) ListByRequester(ctx context.Context, requesterEmail string) (reqs []*interfaces.PurchaseRequest, err error) {
	defer track("list_requests", &err)

	if !interfaces.ValidEmail(requesterEmail) {
		return nil, interfaces.NewValidationError("requesterEmail", "missing or malformed")
	}
	return s.store.ListRequestsByRequester(ctx, requesterEmail)
}

// GetByID returns the full request detail, including the three approver
// records sorted by approval order. Fails with ErrForbidden when
// requesterEmail is not the request's owner.
func (s *Service) GetByID(ctx context.Context, id interfaces.RequestID, requesterEmail string) (req *interfaces.PurchaseRequest, approvers []*interfaces.ApproverRecord, err error) {
	defer track("get_request", &err)

	if !interfaces.ValidEmail(requesterEmail) {
		return nil, nil, interfaces.NewValidationError("requesterEmail", "missing or malformed")
	}

	req, err = s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if req.RequesterEmail != requesterEmail {
		return nil, nil, interfaces.ErrForbidden
	}

	approvers, err = s.store.ListApprovers(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return req, approvers, nil
}

// PeekOtp returns the live code and its remaining validity for an approver in
// PendingOtp. Evaluation aid only; the server exposes it solely behind the
// debug API flag.
func (s *Service) PeekOtp(ctx context.Context, token interfaces.ApproverToken) (otp string, remaining time.Duration, err error) {
	defer track("peek_otp", &err)

	rec, err := s.store.GetApproverByToken(ctx, token)
	if err != nil {
		return "", 0, err
	}
	if rec.ApprovalStatus != interfaces.ApprovalPendingOtp {
		return "", 0, interfaces.ErrInvalidTransition
	}
	now := s.now()
	if rec.Otp == "" || rec.OtpExpiration == nil || rec.OtpExpiration.Before(now) {
		return "", 0, interfaces.ErrOTPExpired
	}
	return rec.Otp, rec.OtpExpiration.Sub(now), nil
}

// resolveApprover looks up the token and enforces that it belongs to the given
// request. Token resolution failures and request mismatches are reported
// separately so the transport can map them to 404 and 403.
func (s *Service) resolveApprover(ctx context.Context, id interfaces.RequestID, token interfaces.ApproverToken) (*interfaces.ApproverRecord, error) {
	rec, err := s.store.GetApproverByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec.RequestID != id {
		return nil, interfaces.ErrForbidden
	}
	return rec, nil
}

// track feeds the operation counters. Validation failures count as errors too;
// the caller's error is left untouched.
func track(op string, err *error) {
	metrics.IncOperation(op)
	if err != nil && *err != nil && !errors.Is(*err, context.Canceled) {
		metrics.IncOperationError(op)
	}
}
