package interfaces

import (
	"context"
	"fmt"
	"net/url"
)

// StoreLocation represents a parsed store location URI.
type StoreLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname / table prefix
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewStoreLocation creates a store location from a URI string with validation.
func NewStoreLocation(uri string) (StoreLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StoreLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "memory", "file", "dynamodb":
		// Valid scheme
	default:
		return StoreLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StoreLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc StoreLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc StoreLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// RequestStore is the persistence port for purchase requests and approver
// records. Implementations must provide conditional (compare-and-swap)
// semantics on every status-mutating update so that transitions on a single
// record are linearizable, and must make creation's four writes atomic as a
// group: partial state is never observable by readers.
type RequestStore interface {
	// CreateRequest atomically persists one purchase request and its three
	// approver records.
	CreateRequest(ctx context.Context, req *PurchaseRequest, approvers []*ApproverRecord) error

	// GetRequest retrieves a purchase request by id. Returns
	// ErrRequestNotFound if absent.
	GetRequest(ctx context.Context, id RequestID) (*PurchaseRequest, error)

	// ListRequestsByRequester returns all requests owned by the given email,
	// ordered by creation time ascending.
	ListRequestsByRequester(ctx context.Context, requesterEmail string) ([]*PurchaseRequest, error)

	// GetApproverByToken resolves the unique secondary index token -> record.
	// Returns ErrTokenNotFound if absent.
	GetApproverByToken(ctx context.Context, token ApproverToken) (*ApproverRecord, error)

	// ListApprovers returns the request's approver records ordered by
	// approvalOrder ascending.
	ListApprovers(ctx context.Context, id RequestID) ([]*ApproverRecord, error)

	// UpdateApprover replaces an approver record if its stored version equals
	// expectedVersion, bumping the version. Returns ErrConflict otherwise.
	UpdateApprover(ctx context.Context, record *ApproverRecord, expectedVersion uint64) error

	// UpdateRequestStatus transitions the overall status from -> to if the
	// stored status and version still match, bumping version and updatedAt.
	// evidenceKey is persisted when non-empty (PDF hand-off). Returns
	// ErrConflict when the precondition fails, ErrInvalidTransition when the
	// transition is not in the status table.
	UpdateRequestStatus(ctx context.Context, id RequestID, from, to RequestStatus, evidenceKey string, expectedVersion uint64) error

	// ListApproverContacts returns the contact projection of every approver
	// record. Feeds the mock-mail listing only.
	ListApproverContacts(ctx context.Context) ([]ApproverContact, error)

	// Available checks whether the store is accessible.
	Available(ctx context.Context) bool

	// Name returns an identifier for logging.
	Name() string
}

// StoreFactory creates request stores from location URIs.
// Supported schemes: memory://, file://, dynamodb://.
type StoreFactory interface {
	StoreFor(location StoreLocation) (RequestStore, error)
}
