package interfaces

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestStatusTransitions(t *testing.T) {
	allowed := []struct {
		from, to RequestStatus
	}{
		{StatusPendingInitialApproval, StatusPartiallyApproved},
		{StatusPendingInitialApproval, StatusFullyApproved},
		{StatusPendingInitialApproval, StatusRejected},
		{StatusPartiallyApproved, StatusPartiallyApproved},
		{StatusPartiallyApproved, StatusFullyApproved},
		{StatusPartiallyApproved, StatusRejected},
		{StatusFullyApproved, StatusCompletedPdfGenerated},
		{StatusFullyApproved, StatusRejected},
		{StatusRejected, StatusRejected},
	}
	for _, tc := range allowed {
		assert.True(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	denied := []struct {
		from, to RequestStatus
	}{
		{StatusPendingInitialApproval, StatusCompletedPdfGenerated},
		{StatusPartiallyApproved, StatusPendingInitialApproval},
		{StatusRejected, StatusPartiallyApproved},
		{StatusRejected, StatusFullyApproved},
		{StatusCompletedPdfGenerated, StatusRejected},
		{StatusCompletedPdfGenerated, StatusFullyApproved},
	}
	for _, tc := range denied {
		assert.False(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be denied", tc.from, tc.to)
	}
}

func TestRequestStatusValid(t *testing.T) {
	for _, s := range []RequestStatus{
		StatusPendingInitialApproval,
		StatusPartiallyApproved,
		StatusFullyApproved,
		StatusRejected,
		StatusCompletedPdfGenerated,
	} {
		assert.True(t, s.Valid())
	}
	assert.False(t, RequestStatus("Draft").Valid())
	assert.False(t, RequestStatus("").Valid())
}

func TestApprovalStatusTransitions(t *testing.T) {
	assert.True(t, ApprovalPendingOtp.CanTransitionTo(ApprovalPendingOtp), "OTP re-issue self-loop")
	assert.True(t, ApprovalPendingOtp.CanTransitionTo(ApprovalPendingDecision))
	assert.True(t, ApprovalPendingDecision.CanTransitionTo(ApprovalSigned))
	assert.True(t, ApprovalPendingDecision.CanTransitionTo(ApprovalRejected))

	assert.False(t, ApprovalPendingOtp.CanTransitionTo(ApprovalSigned))
	assert.False(t, ApprovalPendingOtp.CanTransitionTo(ApprovalRejected))
	assert.False(t, ApprovalSigned.CanTransitionTo(ApprovalRejected))
	assert.False(t, ApprovalRejected.CanTransitionTo(ApprovalSigned))
	assert.False(t, ApprovalSigned.CanTransitionTo(ApprovalPendingDecision))
}

func TestApprovalStatusTerminal(t *testing.T) {
	assert.False(t, ApprovalPendingOtp.Terminal())
	assert.False(t, ApprovalPendingDecision.Terminal())
	assert.True(t, ApprovalSigned.Terminal())
	assert.True(t, ApprovalRejected.Terminal())
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision("approve")
	require.NoError(t, err)
	assert.Equal(t, DecisionApprove, d)

	d, err = ParseDecision("reject")
	require.NoError(t, err)
	assert.Equal(t, DecisionReject, d)

	_, err = ParseDecision("maybe")
	assert.Error(t, err)
	_, err = ParseDecision("")
	assert.Error(t, err)
	_, err = ParseDecision("Approve")
	assert.Error(t, err)
}

func TestParseRequestID(t *testing.T) {
	id := NewRequestID()
	parsed, err := ParseRequestID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseRequestID("not-a-uuid")
	assert.Error(t, err)
	_, err = ParseRequestID("")
	assert.Error(t, err)
}

func TestParseApproverToken(t *testing.T) {
	token := NewApproverToken()
	parsed, err := ParseApproverToken(token.String())
	require.NoError(t, err)
	assert.Equal(t, token, parsed)

	_, err = ParseApproverToken("guessable")
	assert.Error(t, err)
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("alice@example.com"))
	assert.True(t, ValidEmail("a@b"))

	assert.False(t, ValidEmail(""))
	assert.False(t, ValidEmail("alice"))
	assert.False(t, ValidEmail("@example.com"))
	assert.False(t, ValidEmail("alice@"))
	assert.False(t, ValidEmail("alice smith@example.com"))
}

func TestNewStoreLocation(t *testing.T) {
	loc, err := NewStoreLocation("dynamodb://approvals/?region=eu-west-1&endpoint=http://localhost:8000")
	require.NoError(t, err)
	assert.Equal(t, "dynamodb", loc.Scheme)
	assert.Equal(t, "approvals", loc.Host)
	assert.Equal(t, "eu-west-1", loc.GetParam("region"))
	assert.Equal(t, "http://localhost:8000", loc.GetParam("endpoint"))

	loc, err = NewStoreLocation("memory://")
	require.NoError(t, err)
	assert.Equal(t, "memory", loc.Scheme)

	_, err = NewStoreLocation("redis://localhost")
	assert.ErrorIs(t, err, ErrInvalidLocationURI)
}
