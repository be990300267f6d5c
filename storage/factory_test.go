package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurehub/purchase-approval-backend/interfaces"
)

func mustLocation(t *testing.T, uri string) interfaces.StoreLocation {
	t.Helper()
	loc, err := interfaces.NewStoreLocation(uri)
	require.NoError(t, err)
	return loc
}

func TestFactoryMemoryStore(t *testing.T) {
	factory := NewFactory(testLogger())

	store, err := factory.StoreFor(mustLocation(t, "memory://"))
	require.NoError(t, err)
	assert.Equal(t, "memory", store.Name())
	assert.IsType(t, &MemoryStore{}, store)
}

func TestFactoryFileStore(t *testing.T) {
	factory := NewFactory(testLogger())

	store, err := factory.StoreFor(mustLocation(t, "file://"+t.TempDir()))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)
}

func TestFactoryDynamoDBStore(t *testing.T) {
	factory := NewFactory(testLogger())

	store, err := factory.StoreFor(mustLocation(t, "dynamodb://approvals/?region=eu-west-1&endpoint=http://localhost:8000"))
	require.NoError(t, err)
	assert.Equal(t, "dynamodb-approvals-purchase-requests", store.Name())

	// Missing table prefix.
	_, err = factory.StoreFor(mustLocation(t, "dynamodb://"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}
