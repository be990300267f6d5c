package interfaces

import (
	"context"
	"time"
)

// OutboundMail is one recorded out-of-band message: either an approval link at
// creation time or an OTP code at issuance.
type OutboundMail struct {
	To            string        `json:"to"`
	Subject       string        `json:"subject"`
	Body          string        `json:"body"`
	RequestID     RequestID     `json:"requestId"`
	ApproverToken ApproverToken `json:"approverToken"`
	SentAt        time.Time     `json:"sentAt"`
}

// Mailer delivers workflow notifications to approvers. Real email delivery is
// out of scope; the shipped implementation records mails in memory.
type Mailer interface {
	// SendApprovalLink notifies an approver that a request awaits their
	// review, including the tokenized approval link.
	SendApprovalLink(ctx context.Context, to string, req *PurchaseRequest, token ApproverToken) error

	// SendOTP delivers a freshly issued one-time code. The code travels only
	// through this channel, never through API responses.
	SendOTP(ctx context.Context, to string, req *PurchaseRequest, token ApproverToken, otp string, expiresAt time.Time) error
}

// Mailbox is the read side of the mock mailer.
type Mailbox interface {
	// ListMails returns all recorded mails in send order.
	ListMails() []OutboundMail
}
