package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurehub/purchase-approval-backend/interfaces"
	"github.com/procurehub/purchase-approval-backend/mailer"
	"github.com/procurehub/purchase-approval-backend/storage"
)

type testEnv struct {
	svc     *Service
	store   *storage.MemoryStore
	mailbox *mailer.MockMailer
	now     time.Time
	otpSeq  int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{
		store:   storage.NewMemoryStore(log),
		mailbox: mailer.NewMockMailer("http://frontend.local", log),
		now:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	env.svc = NewService(&Config{
		Store:  env.store,
		Mailer: env.mailbox,
		Log:    log,
		Now:    func() time.Time { return env.now },
		GenerateOTP: func() (string, error) {
			env.otpSeq++
			return fmt.Sprintf("%06d", 100000+env.otpSeq), nil
		},
	})
	return env
}

func (env *testEnv) lastOtp() string {
	return fmt.Sprintf("%06d", 100000+env.otpSeq)
}

func (env *testEnv) advance(d time.Duration) {
	env.now = env.now.Add(d)
}

func validInput() CreateRequestInput {
	return CreateRequestInput{
		Title:          "New laptops",
		Description:    "Three developer laptops for the platform team",
		Amount:         4200.50,
		ApproverEmails: []string{"a@corp.test", "b@corp.test", "c@corp.test"},
	}
}

func (env *testEnv) create(t *testing.T) (*interfaces.PurchaseRequest, []*interfaces.ApproverRecord) {
	t.Helper()
	req, approvers, err := env.svc.CreateRequest(context.Background(), "requester@corp.test", validInput())
	require.NoError(t, err)
	return req, approvers
}

// toPendingDecision walks one approver through OTP issuance and validation.
func (env *testEnv) toPendingDecision(t *testing.T, id interfaces.RequestID, token interfaces.ApproverToken) {
	t.Helper()
	_, err := env.svc.IssueOtp(context.Background(), id, token)
	require.NoError(t, err)
	require.NoError(t, env.svc.ValidateOtp(context.Background(), id, token, env.lastOtp()))
}

func TestCreateRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name      string
		requester string
		mutate    func(*CreateRequestInput)
	}{
		{"missing requester", "", func(in *CreateRequestInput) {}},
		{"malformed requester", "not-an-email", func(in *CreateRequestInput) {}},
		{"empty title", "r@corp.test", func(in *CreateRequestInput) { in.Title = "" }},
		{"empty description", "r@corp.test", func(in *CreateRequestInput) { in.Description = "" }},
		{"zero amount", "r@corp.test", func(in *CreateRequestInput) { in.Amount = 0 }},
		{"negative amount", "r@corp.test", func(in *CreateRequestInput) { in.Amount = -5 }},
		{"two approvers", "r@corp.test", func(in *CreateRequestInput) { in.ApproverEmails = in.ApproverEmails[:2] }},
		{"four approvers", "r@corp.test", func(in *CreateRequestInput) {
			in.ApproverEmails = append(in.ApproverEmails, "d@corp.test")
		}},
		{"malformed approver", "r@corp.test", func(in *CreateRequestInput) { in.ApproverEmails[1] = "nope" }},
		{"duplicate approvers", "r@corp.test", func(in *CreateRequestInput) {
			in.ApproverEmails[2] = in.ApproverEmails[0]
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validInput()
			tc.mutate(&input)
			_, _, err := env.svc.CreateRequest(ctx, tc.requester, input)
			assert.True(t, interfaces.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func TestCreateRequest(t *testing.T) {
	env := newTestEnv(t)
	req, approvers := env.create(t)

	assert.Equal(t, interfaces.StatusPendingInitialApproval, req.Status)
	assert.Equal(t, "requester@corp.test", req.RequesterEmail)
	require.Len(t, approvers, 3)

	tokens := make(map[interfaces.ApproverToken]bool)
	for i, rec := range approvers {
		assert.Equal(t, req.RequestID, rec.RequestID)
		assert.Equal(t, interfaces.ApprovalPendingOtp, rec.ApprovalStatus)
		assert.Equal(t, i+1, rec.ApprovalOrder)
		assert.Empty(t, rec.Otp)
		tokens[rec.ApproverToken] = true
	}
	assert.Len(t, tokens, 3, "approver tokens must be unique")

	mails := env.mailbox.ListMails()
	require.Len(t, mails, 3, "one approval link per approver")
	for i, mail := range mails {
		assert.Equal(t, approvers[i].ApproverEmail, mail.To)
		assert.Contains(t, mail.Body, string(approvers[i].ApproverToken))
		assert.Contains(t, mail.Body, "http://frontend.local/approve")
	}
}

func TestIssueOtpDeliversCodeOutOfBand(t *testing.T) {
	env := newTestEnv(t)
	req, approvers := env.create(t)
	token := approvers[0].ApproverToken

	_, err := env.svc.IssueOtp(context.Background(), req.RequestID, token)
	require.NoError(t, err)

	rec, err := env.store.GetApproverByToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ApprovalPendingOtp, rec.ApprovalStatus)
	assert.Equal(t, env.lastOtp(), rec.Otp)
	require.NotNil(t, rec.OtpExpiration)
	assert.Equal(t, env.now.Add(DefaultOTPValidity), *rec.OtpExpiration)

	mails := env.mailbox.ListMails()
	otpMail := mails[len(mails)-1]
	assert.Equal(t, rec.ApproverEmail, otpMail.To)
	assert.Contains(t, otpMail.Body, env.lastOtp())
}

func TestValidateOtp(t *testing.T) {
	env := newTestEnv(t)
	req, approvers := env.create(t)
	token := approvers[0].ApproverToken
	ctx := context.Background()

	// No code issued yet.
	err := env.svc.ValidateOtp(ctx, req.RequestID, token, "123456")
	assert.ErrorIs(t, err, interfaces.ErrOTPExpired)

	_, err = env.svc.IssueOtp(ctx, req.RequestID, token)
	require.NoError(t, err)

	err = env.svc.ValidateOtp(ctx, req.RequestID, token, "000000")
	assert.ErrorIs(t, err, interfaces.ErrOTPMismatch)

	require.NoError(t, env.svc.ValidateOtp(ctx, req.RequestID, token, env.lastOtp()))

	rec, err := env.store.GetApproverByToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ApprovalPendingDecision, rec.ApprovalStatus)
	assert.Empty(t, rec.Otp, "code is consumed on success")
	assert.Nil(t, rec.OtpExpiration)

	// Replay of the consumed code.
	err = env.svc.ValidateOtp(ctx, req.RequestID, token, env.lastOtp())
	assert.ErrorIs(t, err, interfaces.ErrInvalidTransition)
}

func TestValidateOtpExpiry(t *testing.T) {
	env := newTestEnv(t)
	req, approvers := env.create(t)
	token := approvers[0].ApproverToken
	ctx := context.Background()

	_, err := env.svc.IssueOtp(ctx, req.RequestID, token)
	require.NoError(t, err)
	code := env.lastOtp()

	env.advance(DefaultOTPValidity + time.Second)
	err = env.svc.ValidateOtp(ctx, req.RequestID, token, code)
	assert.ErrorIs(t, err, interfaces.ErrOTPExpired)

	// Re-issue after expiry recovers the approver.
	_, err = env.svc.IssueOtp(ctx, req.RequestID, token)
	require.NoError(t, err)
	require.NoError(t, env.svc.ValidateOtp(ctx, req.RequestID, token, env.lastOtp()))
}

func TestIssueOtpSupersedesOutstandingCode(t *testing.T) {
	env := newTestEnv(t)
	req, approvers := env.create(t)
	token := approvers[0].ApproverToken
	ctx := context.Background()

	_, err := env.svc.IssueOtp(ctx, req.RequestID, token)
	require.NoError(t, err)
	oldCode := env.lastOtp()

	_, err = env.svc.IssueOtp(ctx, req.RequestID, token)
	require.NoError(t, err)
	newCode := env.lastOtp()
	require.NotEqual(t, oldCode, newCode)

	err = env.svc.ValidateOtp(ctx, req.RequestID, token, oldCode)
	assert.ErrorIs(t, err, interfaces.ErrOTPMismatch)
	require.NoError(t, env.svc.ValidateOtp(ctx, req.RequestID, token, newCode))
}

func TestApprovalInfoIssuesOtpWhileUnverified(t *testing.T) {
	env := newTestEnv(t)
	req, approvers := env.create(t)
	token := approvers[0].ApproverToken
	ctx := context.Background()

	mailsBefore := len(env.mailbox.ListMails())
	gotReq, rec, err := env.svc.ApprovalInfo(ctx, req.RequestID, token)
	require.NoError(t, err)
	assert.Equal(t, req.RequestID, gotReq.RequestID)
	assert.Equal(t, interfaces.ApprovalPendingOtp, rec.ApprovalStatus)
	assert.Len(t, env.mailbox.ListMails(), mailsBefore+1, "OTP mail goes out on link resolution")

	require.NoError(t, env.svc.ValidateOtp(ctx, req.RequestID, token, env.lastOtp()))

	mailsBefore = len(env.mailbox.ListMails())
	_, rec, err = env.svc.ApprovalInfo(ctx, req.RequestID, token)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ApprovalPendingDecision, rec.ApprovalStatus)
	assert.Len(t, env.mailbox.ListMails(), mailsBefore, "no OTP once verified")
}

func TestSubmitDecisionRequiresVerification(t *testing.T) {
	env := newTestEnv(t)
	req, approvers := env.create(t)
	ctx := context.Background()

	_, _, err := env.svc.SubmitDecision(ctx, req.RequestID, approvers[0].ApproverToken, interfaces.DecisionApprove, "Alice A.")
	assert.ErrorIs(t, err, interfaces.ErrInvalidTransition)
}

func TestSubmitDecisionApproveRequiresSignature(t *testing.T) {
	env := newTestEnv(t)
	req, approvers := env.create(t)
	env.toPendingDecision(t, req.RequestID, approvers[0].ApproverToken)

	_, _, err := env.svc.SubmitDecision(context.Background(), req.RequestID, approvers[0].ApproverToken, interfaces.DecisionApprove, "")
	assert.True(t, interfaces.IsValidation(err))
}

func TestFullApprovalLifecycle(t *testing.T) {
	env := newTestEnv(t)
	req, approvers := env.create(t)
	ctx := context.Background()

	for i, rec := range approvers {
		env.toPendingDecision(t, req.RequestID, rec.ApproverToken)

		signed, overall, err := env.svc.SubmitDecision(ctx, req.RequestID, rec.ApproverToken, interfaces.DecisionApprove, fmt.Sprintf("Approver %d", i+1))
		require.NoError(t, err)
		assert.Equal(t, interfaces.ApprovalSigned, signed.ApprovalStatus)
		require.NotNil(t, signed.DecisionDate)

		if i < 2 {
			assert.Equal(t, interfaces.StatusPartiallyApproved, overall)
		} else {
			assert.Equal(t, interfaces.StatusFullyApproved, overall)
		}
	}

	stored, err := env.store.GetRequest(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusFullyApproved, stored.Status)
}

func TestRejectionOverridesApprovals(t *testing.T) {
	env := newTestEnv(t)
	req, approvers := env.create(t)
	ctx := context.Background()

	// a and b approve, c rejects.
	for _, i := range []int{0, 1} {
		env.toPendingDecision(t, req.RequestID, approvers[i].ApproverToken)
		_, overall, err := env.svc.SubmitDecision(ctx, req.RequestID, approvers[i].ApproverToken, interfaces.DecisionApprove, "Sig")
		require.NoError(t, err)
		assert.Equal(t, interfaces.StatusPartiallyApproved, overall)
	}

	env.toPendingDecision(t, req.RequestID, approvers[2].ApproverToken)
	rec, overall, err := env.svc.SubmitDecision(ctx, req.RequestID, approvers[2].ApproverToken, interfaces.DecisionReject, "")
	require.NoError(t, err)
	assert.Equal(t, interfaces.ApprovalRejected, rec.ApprovalStatus)
	assert.Empty(t, rec.SignatureName)
	assert.Equal(t, interfaces.StatusRejected, overall)
}

func TestDecisionAfterRejectionLeavesRequestRejected(t *testing.T) {
	env := newTestEnv(t)
	req, approvers := env.create(t)
	ctx := context.Background()

	env.toPendingDecision(t, req.RequestID, approvers[0].ApproverToken)
	env.toPendingDecision(t, req.RequestID, approvers[1].ApproverToken)

	_, overall, err := env.svc.SubmitDecision(ctx, req.RequestID, approvers[0].ApproverToken, interfaces.DecisionReject, "")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusRejected, overall)

	// A late approval still lands on the approver record but the overall
	// status stays Rejected.
	rec, overall, err := env.svc.SubmitDecision(ctx, req.RequestID, approvers[1].ApproverToken, interfaces.DecisionApprove, "Late B.")
	require.NoError(t, err)
	assert.Equal(t, interfaces.ApprovalSigned, rec.ApprovalStatus)
	assert.Equal(t, interfaces.StatusRejected, overall)
}

func TestSubmitDecisionIsFinalPerApprover(t *testing.T) {
	env := newTestEnv(t)
	req, approvers := env.create(t)
	ctx := context.Background()
	token := approvers[0].ApproverToken

	env.toPendingDecision(t, req.RequestID, token)
	_, _, err := env.svc.SubmitDecision(ctx, req.RequestID, token, interfaces.DecisionApprove, "Alice A.")
	require.NoError(t, err)

	_, _, err = env.svc.SubmitDecision(ctx, req.RequestID, token, interfaces.DecisionReject, "")
	assert.ErrorIs(t, err, interfaces.ErrAlreadyProcessed)

	_, err = env.svc.IssueOtp(ctx, req.RequestID, token)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyProcessed)
	err = env.svc.ValidateOtp(ctx, req.RequestID, token, "123456")
	assert.ErrorIs(t, err, interfaces.ErrAlreadyProcessed)
}

func TestMarkPdfGenerated(t *testing.T) {
	env := newTestEnv(t)
	req, approvers := env.create(t)
	ctx := context.Background()

	_, err := env.svc.MarkPdfGenerated(ctx, req.RequestID, "evidence/2026/req.pdf")
	assert.ErrorIs(t, err, interfaces.ErrInvalidTransition, "hand-off before full approval")

	for i, rec := range approvers {
		env.toPendingDecision(t, req.RequestID, rec.ApproverToken)
		_, _, err := env.svc.SubmitDecision(ctx, req.RequestID, rec.ApproverToken, interfaces.DecisionApprove, fmt.Sprintf("Sig %d", i))
		require.NoError(t, err)
	}

	updated, err := env.svc.MarkPdfGenerated(ctx, req.RequestID, "evidence/2026/req.pdf")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusCompletedPdfGenerated, updated.Status)
	assert.Equal(t, "evidence/2026/req.pdf", updated.PdfEvidenceKey)

	_, err = env.svc.MarkPdfGenerated(ctx, req.RequestID, "evidence/other.pdf")
	assert.ErrorIs(t, err, interfaces.ErrInvalidTransition)

	_, err = env.svc.MarkPdfGenerated(ctx, req.RequestID, "")
	assert.True(t, interfaces.IsValidation(err))
}

func TestGetByIDEnforcesOwnership(t *testing.T) {
	env := newTestEnv(t)
	req, _ := env.create(t)
	ctx := context.Background()

	got, approvers, err := env.svc.GetByID(ctx, req.RequestID, "requester@corp.test")
	require.NoError(t, err)
	assert.Equal(t, req.RequestID, got.RequestID)
	assert.Len(t, approvers, 3)

	_, _, err = env.svc.GetByID(ctx, req.RequestID, "intruder@corp.test")
	assert.ErrorIs(t, err, interfaces.ErrForbidden)

	_, _, err = env.svc.GetByID(ctx, interfaces.NewRequestID(), "requester@corp.test")
	assert.ErrorIs(t, err, interfaces.ErrRequestNotFound)
}

func TestListByRequester(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, _ := env.create(t)
	env.advance(time.Minute)
	second, _ := env.create(t)

	reqs, err := env.svc.ListByRequester(ctx, "requester@corp.test")
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, first.RequestID, reqs[0].RequestID, "oldest first")
	assert.Equal(t, second.RequestID, reqs[1].RequestID)

	reqs, err = env.svc.ListByRequester(ctx, "other@corp.test")
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestApproverTokenScoping(t *testing.T) {
	env := newTestEnv(t)
	reqA, approversA := env.create(t)
	reqB, _ := env.create(t)
	ctx := context.Background()

	_, err := env.svc.IssueOtp(ctx, reqB.RequestID, approversA[0].ApproverToken)
	assert.ErrorIs(t, err, interfaces.ErrForbidden, "token from another request")

	_, err = env.svc.IssueOtp(ctx, reqA.RequestID, interfaces.NewApproverToken())
	assert.ErrorIs(t, err, interfaces.ErrTokenNotFound)
}

func TestStaleWriteCannotResurrectConsumedOtp(t *testing.T) {
	env := newTestEnv(t)
	req, approvers := env.create(t)
	token := approvers[0].ApproverToken
	ctx := context.Background()

	_, err := env.svc.IssueOtp(ctx, req.RequestID, token)
	require.NoError(t, err)

	// A writer holding the pre-validation snapshot loses the race once the
	// code is consumed.
	stale, err := env.store.GetApproverByToken(ctx, token)
	require.NoError(t, err)

	require.NoError(t, env.svc.ValidateOtp(ctx, req.RequestID, token, env.lastOtp()))

	expiry := env.now.Add(DefaultOTPValidity)
	stale.Otp = "654321"
	stale.OtpExpiration = &expiry
	err = env.store.UpdateApprover(ctx, stale, stale.Version)
	assert.ErrorIs(t, err, interfaces.ErrConflict)

	current, err := env.store.GetApproverByToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ApprovalPendingDecision, current.ApprovalStatus)
	assert.Empty(t, current.Otp)
}

func TestPeekOtp(t *testing.T) {
	env := newTestEnv(t)
	req, approvers := env.create(t)
	token := approvers[0].ApproverToken
	ctx := context.Background()

	_, _, err := env.svc.PeekOtp(ctx, token)
	assert.ErrorIs(t, err, interfaces.ErrOTPExpired, "nothing issued yet")

	_, err = env.svc.IssueOtp(ctx, req.RequestID, token)
	require.NoError(t, err)

	code, remaining, err := env.svc.PeekOtp(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, env.lastOtp(), code)
	assert.Equal(t, DefaultOTPValidity, remaining)

	require.NoError(t, env.svc.ValidateOtp(ctx, req.RequestID, token, code))
	_, _, err = env.svc.PeekOtp(ctx, token)
	assert.ErrorIs(t, err, interfaces.ErrInvalidTransition)
}
