// Package mailer implements the outbound notification channel. The only
// shipped implementation is an in-memory recorder exposed through the
// mock-mail endpoint; swapping in SES or SMTP means implementing
// interfaces.Mailer.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/procurehub/purchase-approval-backend/interfaces"
)

// MockMailer records outbound mails in memory instead of delivering them.
// Implements both interfaces.Mailer and interfaces.Mailbox.
type MockMailer struct {
	mu          sync.Mutex
	frontendURL string
	log         *slog.Logger
	sent        []interfaces.OutboundMail
}

// NewMockMailer creates a recording mailer. frontendURL is the base for the
// approval links embedded in notification bodies.
func NewMockMailer(frontendURL string, log *slog.Logger) *MockMailer {
	return &MockMailer{
		frontendURL: frontendURL,
		log:         log,
	}
}

// SendApprovalLink records the review notification with the tokenized link.
func (m *MockMailer) SendApprovalLink(ctx context.Context, to string, req *interfaces.PurchaseRequest, token interfaces.ApproverToken) error {
	link := fmt.Sprintf("%s/approve?purchase_request_id=%s&approver_token=%s",
		m.frontendURL, req.RequestID, token)
	body := fmt.Sprintf(
		"A purchase request %q (%.2f) from %s awaits your approval.\n\nReview it here: %s\n",
		req.Title, req.Amount, req.RequesterEmail, link)

	m.record(interfaces.OutboundMail{
		To:            to,
		Subject:       fmt.Sprintf("Approval needed: %s", req.Title),
		Body:          body,
		RequestID:     req.RequestID,
		ApproverToken: token,
		SentAt:        time.Now().UTC(),
	})
	return nil
}

// SendOTP records the one-time code delivery. The code appears in the mail
// body only; API responses never carry it.
func (m *MockMailer) SendOTP(ctx context.Context, to string, req *interfaces.PurchaseRequest, token interfaces.ApproverToken, otp string, expiresAt time.Time) error {
	body := fmt.Sprintf(
		"Your one-time code for purchase request %q is %s.\nIt expires at %s.\n",
		req.Title, otp, expiresAt.UTC().Format(time.RFC3339))

	m.record(interfaces.OutboundMail{
		To:            to,
		Subject:       fmt.Sprintf("Your one-time code for %s", req.Title),
		Body:          body,
		RequestID:     req.RequestID,
		ApproverToken: token,
		SentAt:        time.Now().UTC(),
	})
	return nil
}

func (m *MockMailer) record(mail interfaces.OutboundMail) {
	m.mu.Lock()
	m.sent = append(m.sent, mail)
	m.mu.Unlock()

	m.log.Debug("Recorded outbound mail",
		slog.String("to", mail.To),
		slog.String("subject", mail.Subject),
		slog.String("requestID", mail.RequestID.String()))
}

// ListMails returns all recorded mails in send order.
func (m *MockMailer) ListMails() []interfaces.OutboundMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]interfaces.OutboundMail(nil), m.sent...)
}
