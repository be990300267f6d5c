package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/procurehub/purchase-approval-backend/api"
	"github.com/procurehub/purchase-approval-backend/interfaces"
	"github.com/procurehub/purchase-approval-backend/workflow"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// Handler processes HTTP requests for the purchase approval service. It
// translates transport concerns (headers, path and query parameters, JSON
// bodies) into workflow calls and maps workflow errors onto status codes.
type Handler struct {
	service     *workflow.Service
	store       interfaces.RequestStore
	mailbox     interfaces.Mailbox
	frontendURL string
	log         *slog.Logger
}

// NewHandler creates an HTTP request handler.
//
// Parameters:
//   - service: the workflow service executing the business operations
//   - store: the request store, used for the mock-mail contact listing
//   - mailbox: the recorded-mail listing backing the mock-mail endpoint
//   - frontendURL: base URL for approval links in the mock-mail listing
//   - log: structured logger
func NewHandler(service *workflow.Service, store interfaces.RequestStore, mailbox interfaces.Mailbox, frontendURL string, log *slog.Logger) *Handler {
	return &Handler{
		service:     service,
		store:       store,
		mailbox:     mailbox,
		frontendURL: frontendURL,
		log:         log,
	}
}

// HandleCreateRequest processes POST /api/purchase-requests.
// The X-Requester-Email header identifies the owner; the body carries title,
// description, amount and exactly three approver emails.
func (h *Handler) HandleCreateRequest(w http.ResponseWriter, r *http.Request) {
	requester := r.Header.Get(api.RequesterEmailHeader)
	if requester == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("missing %s header", api.RequesterEmailHeader))
		return
	}

	var body api.CreateRequestBody
	if err := h.decodeBody(w, r, &body); err != nil {
		return
	}

	req, _, err := h.service.CreateRequest(r.Context(), requester, workflow.CreateRequestInput{
		Title:          body.Title,
		Description:    body.Description,
		Amount:         body.Amount,
		ApproverEmails: body.ApproverEmails,
	})
	if err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, req)
}

// HandleListRequests processes GET /api/purchase-requests, returning the
// caller's requests oldest first.
func (h *Handler) HandleListRequests(w http.ResponseWriter, r *http.Request) {
	requester := r.Header.Get(api.RequesterEmailHeader)
	if requester == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("missing %s header", api.RequesterEmailHeader))
		return
	}

	reqs, err := h.service.ListByRequester(r.Context(), requester)
	if err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []*interfaces.PurchaseRequest{}
	}

	h.writeJSON(w, http.StatusOK, reqs)
}

// HandleGetRequest processes GET /api/purchase-requests/{purchase_request_id}.
// Only the request's owner may read the detail view.
func (h *Handler) HandleGetRequest(w http.ResponseWriter, r *http.Request) {
	requester := r.Header.Get(api.RequesterEmailHeader)
	if requester == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("missing %s header", api.RequesterEmailHeader))
		return
	}

	id, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}

	req, approvers, err := h.service.GetByID(r.Context(), id, requester)
	if err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}

	resp := api.RequestDetailResponse{Request: *req}
	for _, rec := range approvers {
		resp.Approvers = append(resp.Approvers, api.NewApproverInfo(rec))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleApprovalInfo processes GET /api/approvals/info. The approval link
// carries purchase_request_id and approver_token as query parameters; when the
// approver still awaits verification a fresh OTP goes out as a side effect.
func (h *Handler) HandleApprovalInfo(w http.ResponseWriter, r *http.Request) {
	id, err := interfaces.ParseRequestID(r.URL.Query().Get("purchase_request_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid purchase_request_id: %w", err))
		return
	}
	token, err := interfaces.ParseApproverToken(r.URL.Query().Get("approver_token"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid approver_token: %w", err))
		return
	}

	req, rec, err := h.service.ApprovalInfo(r.Context(), id, token)
	if err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, api.ApprovalInfoResponse{
		Request:  *req,
		Approver: api.NewApproverInfo(rec),
	})
}

// HandleValidateOtp processes the validate-otp endpoint. The X-Approver-Token
// header authenticates the caller; the body carries the submitted code.
func (h *Handler) HandleValidateOtp(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	token, ok := h.approverTokenHeader(w, r)
	if !ok {
		return
	}

	var body api.ValidateOtpBody
	if err := h.decodeBody(w, r, &body); err != nil {
		return
	}
	if body.Otp == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("missing otp"))
		return
	}

	if err := h.service.ValidateOtp(r.Context(), id, token, body.Otp); err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, api.ValidateOtpResponse{
		ApprovalStatus: string(interfaces.ApprovalPendingDecision),
	})
}

// HandleDecision processes the decision endpoint: an approve (with signature
// name) or reject from a verified approver, followed by the overall-status
// recompute.
func (h *Handler) HandleDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	token, ok := h.approverTokenHeader(w, r)
	if !ok {
		return
	}

	var body api.DecisionBody
	if err := h.decodeBody(w, r, &body); err != nil {
		return
	}
	decision, err := interfaces.ParseDecision(body.Decision)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, overall, err := h.service.SubmitDecision(r.Context(), id, token, decision, body.SignatureName)
	if err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, api.DecisionResponse{
		ApprovalStatus: string(rec.ApprovalStatus),
		RequestStatus:  string(overall),
	})
}

// HandlePdfGenerated processes the pdf-generated hand-off for a fully
// approved request.
func (h *Handler) HandlePdfGenerated(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}

	var body api.PdfGeneratedBody
	if err := h.decodeBody(w, r, &body); err != nil {
		return
	}

	req, err := h.service.MarkPdfGenerated(r.Context(), id, body.PdfEvidenceKey)
	if err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, req)
}

// HandleMockMail processes GET /api/mock-mail: the recorded outbound mails
// plus ready-made approval links for every approver contact. This stands in
// for a real mail provider during development and evaluation.
func (h *Handler) HandleMockMail(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.store.ListApproverContacts(r.Context())
	if err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}

	resp := api.MockMailResponse{
		Mails:         h.mailbox.ListMails(),
		ApprovalLinks: []api.ApprovalLinkEntry{},
	}
	for _, contact := range contacts {
		resp.ApprovalLinks = append(resp.ApprovalLinks, api.ApprovalLinkEntry{
			RequestID:     contact.RequestID.String(),
			ApproverEmail: contact.ApproverEmail,
			ApproverToken: contact.ApproverToken.String(),
			Link: fmt.Sprintf("%s/approve?purchase_request_id=%s&approver_token=%s",
				h.frontendURL, contact.RequestID, contact.ApproverToken),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleDebugOtp processes GET /api/debug/otp?approver_token=... and returns
// the caller's pending code. Only mounted when the debug API is enabled.
func (h *Handler) HandleDebugOtp(w http.ResponseWriter, r *http.Request) {
	token, err := interfaces.ParseApproverToken(r.URL.Query().Get("approver_token"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid approver_token: %w", err))
		return
	}

	otp, remaining, err := h.service.PeekOtp(r.Context(), token)
	if err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, api.DebugOtpResponse{
		Otp:       otp,
		ExpiresIn: remaining.Round(time.Second).String(),
	})
}

func (h *Handler) requestIDParam(w http.ResponseWriter, r *http.Request) (interfaces.RequestID, bool) {
	id, err := interfaces.ParseRequestID(chi.URLParam(r, "purchase_request_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid purchase_request_id: %w", err))
		return "", false
	}
	return id, true
}

func (h *Handler) approverTokenHeader(w http.ResponseWriter, r *http.Request) (interfaces.ApproverToken, bool) {
	raw := r.Header.Get(api.ApproverTokenHeader)
	if raw == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("missing %s header", api.ApproverTokenHeader))
		return "", false
	}
	token, err := interfaces.ParseApproverToken(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid approver token: %w", err))
		return "", false
	}
	return token, true
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("failed to read request body: %w", err))
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return err
	}
	return nil
}

// writeWorkflowError maps workflow errors onto HTTP status codes:
//
//   - validation failures and state-machine violations: 400
//   - unknown tokens and requests: 404
//   - ownership and token/request mismatches: 403
//   - concurrent-update conflicts that did not converge: 409
//   - store faults and everything else: 500
func (h *Handler) writeWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case interfaces.IsValidation(err),
		errors.Is(err, interfaces.ErrInvalidTransition),
		errors.Is(err, interfaces.ErrAlreadyProcessed),
		errors.Is(err, interfaces.ErrOTPExpired),
		errors.Is(err, interfaces.ErrOTPMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, interfaces.ErrRequestNotFound),
		errors.Is(err, interfaces.ErrTokenNotFound):
		status = http.StatusNotFound
	case errors.Is(err, interfaces.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, interfaces.ErrConflict):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err,
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path))
	}
	h.writeError(w, status, err)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, api.ErrorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
