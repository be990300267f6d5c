package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurehub/purchase-approval-backend/interfaces"
)

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)

	req, approvers := sampleBatch(t)
	require.NoError(t, store.CreateRequest(ctx, req, approvers))

	rec, err := store.GetApproverByToken(ctx, approvers[0].ApproverToken)
	require.NoError(t, err)
	rec.ApprovalStatus = interfaces.ApprovalPendingDecision
	require.NoError(t, store.UpdateApprover(ctx, rec, 0))
	require.NoError(t, store.UpdateRequestStatus(ctx, req.RequestID, interfaces.StatusPendingInitialApproval, interfaces.StatusPartiallyApproved, "", 0))

	// A second open against the same directory sees the mutated state.
	reopened, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)

	got, err := reopened.GetRequest(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusPartiallyApproved, got.Status)
	assert.EqualValues(t, 1, got.Version)

	gotRec, err := reopened.GetApproverByToken(ctx, approvers[0].ApproverToken)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ApprovalPendingDecision, gotRec.ApprovalStatus)
	assert.EqualValues(t, 1, gotRec.Version)

	recs, err := reopened.ListApprovers(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestFileStoreCAS(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	req, approvers := sampleBatch(t)
	require.NoError(t, store.CreateRequest(ctx, req, approvers))

	rec, err := store.GetApproverByToken(ctx, approvers[0].ApproverToken)
	require.NoError(t, err)
	require.NoError(t, store.UpdateApprover(ctx, rec, 0))

	stale := *rec
	err = store.UpdateApprover(ctx, &stale, 0)
	assert.ErrorIs(t, err, interfaces.ErrConflict)

	err = store.UpdateRequestStatus(ctx, req.RequestID, interfaces.StatusPendingInitialApproval, interfaces.StatusRejected, "", 7)
	assert.ErrorIs(t, err, interfaces.ErrConflict)
}

func TestFileStoreAvailable(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)

	assert.True(t, store.Available(context.Background()))
	assert.Contains(t, store.Name(), "file-")
}
