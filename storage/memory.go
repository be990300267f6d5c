// Package storage provides the request-store backends: an in-memory store for
// tests and development, a file-backed store for single-node deployments, and
// a DynamoDB store for production. A factory dispatches on location URIs.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/procurehub/purchase-approval-backend/interfaces"
)

func nowUTC() time.Time { return time.Now().UTC() }

// MemoryStore is a mutex-guarded in-memory RequestStore with full conditional
// update semantics. It doubles as the substitutable fake for workflow and
// handler tests.
type MemoryStore struct {
	mu        sync.RWMutex
	requests  map[interfaces.RequestID]*interfaces.PurchaseRequest
	approvers map[approverKey]*interfaces.ApproverRecord
	byToken   map[interfaces.ApproverToken]approverKey
	log       *slog.Logger
}

type approverKey struct {
	requestID interfaces.RequestID
	email     string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(log *slog.Logger) *MemoryStore {
	return &MemoryStore{
		requests:  make(map[interfaces.RequestID]*interfaces.PurchaseRequest),
		approvers: make(map[approverKey]*interfaces.ApproverRecord),
		byToken:   make(map[interfaces.ApproverToken]approverKey),
		log:       log,
	}
}

// CreateRequest atomically stores the request and its approver records. All
// preconditions are checked before any map write, so readers never observe a
// partial batch.
func (m *MemoryStore) CreateRequest(ctx context.Context, req *interfaces.PurchaseRequest, approvers []*interfaces.ApproverRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.requests[req.RequestID]; exists {
		return fmt.Errorf("%w: request %s already exists", interfaces.ErrConflict, req.RequestID)
	}
	for _, rec := range approvers {
		key := approverKey{rec.RequestID, rec.ApproverEmail}
		if _, exists := m.approvers[key]; exists {
			return fmt.Errorf("%w: approver record %s/%s already exists", interfaces.ErrConflict, rec.RequestID, rec.ApproverEmail)
		}
		if _, exists := m.byToken[rec.ApproverToken]; exists {
			return fmt.Errorf("%w: approver token already in use", interfaces.ErrConflict)
		}
	}

	m.requests[req.RequestID] = cloneRequest(req)
	for _, rec := range approvers {
		key := approverKey{rec.RequestID, rec.ApproverEmail}
		m.approvers[key] = cloneApprover(rec)
		m.byToken[rec.ApproverToken] = key
	}
	return nil
}

// GetRequest retrieves a purchase request by id.
func (m *MemoryStore) GetRequest(ctx context.Context, id interfaces.RequestID) (*interfaces.PurchaseRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, interfaces.ErrRequestNotFound
	}
	return cloneRequest(req), nil
}

// ListRequestsByRequester returns the requester's requests ordered by creation
// time ascending, with the id as tie-breaker for a stable order.
func (m *MemoryStore) ListRequestsByRequester(ctx context.Context, requesterEmail string) ([]*interfaces.PurchaseRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*interfaces.PurchaseRequest{}
	for _, req := range m.requests {
		if req.RequesterEmail == requesterEmail {
			out = append(out, cloneRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RequestID < out[j].RequestID
	})
	return out, nil
}

// GetApproverByToken resolves the unique token index.
func (m *MemoryStore) GetApproverByToken(ctx context.Context, token interfaces.ApproverToken) (*interfaces.ApproverRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.byToken[token]
	if !ok {
		return nil, interfaces.ErrTokenNotFound
	}
	return cloneApprover(m.approvers[key]), nil
}

// ListApprovers returns the request's approver records ordered by approval
// order.
func (m *MemoryStore) ListApprovers(ctx context.Context, id interfaces.RequestID) ([]*interfaces.ApproverRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.requests[id]; !ok {
		return nil, interfaces.ErrRequestNotFound
	}

	out := []*interfaces.ApproverRecord{}
	for key, rec := range m.approvers {
		if key.requestID == id {
			out = append(out, cloneApprover(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApprovalOrder < out[j].ApprovalOrder })
	return out, nil
}

// UpdateApprover replaces the record if the stored version matches
// expectedVersion, bumping the version on the stored copy and on record.
func (m *MemoryStore) UpdateApprover(ctx context.Context, record *interfaces.ApproverRecord, expectedVersion uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := approverKey{record.RequestID, record.ApproverEmail}
	current, ok := m.approvers[key]
	if !ok {
		return interfaces.ErrTokenNotFound
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: approver %s/%s at version %d, expected %d",
			interfaces.ErrConflict, record.RequestID, record.ApproverEmail, current.Version, expectedVersion)
	}

	record.Version = expectedVersion + 1
	m.approvers[key] = cloneApprover(record)
	return nil
}

// UpdateRequestStatus performs the conditional overall-status transition.
func (m *MemoryStore) UpdateRequestStatus(ctx context.Context, id interfaces.RequestID, from, to interfaces.RequestStatus, evidenceKey string, expectedVersion uint64) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", interfaces.ErrInvalidTransition, from, to)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.requests[id]
	if !ok {
		return interfaces.ErrRequestNotFound
	}
	if current.Status != from || current.Version != expectedVersion {
		return fmt.Errorf("%w: request %s at status %s version %d",
			interfaces.ErrConflict, id, current.Status, current.Version)
	}

	current.Status = to
	if evidenceKey != "" {
		current.PdfEvidenceKey = evidenceKey
	}
	current.UpdatedAt = nowUTC()
	current.Version = expectedVersion + 1
	return nil
}

// ListApproverContacts returns the contact projection of every approver
// record, in a stable order.
func (m *MemoryStore) ListApproverContacts(ctx context.Context) ([]interfaces.ApproverContact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]interfaces.ApproverContact, 0, len(m.approvers))
	for _, rec := range m.approvers {
		out = append(out, interfaces.ApproverContact{
			RequestID:     rec.RequestID,
			ApproverEmail: rec.ApproverEmail,
			ApproverToken: rec.ApproverToken,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestID != out[j].RequestID {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].ApproverEmail < out[j].ApproverEmail
	})
	return out, nil
}

// Available always reports true for the in-memory store.
func (m *MemoryStore) Available(ctx context.Context) bool { return true }

// Name returns an identifier for logging.
func (m *MemoryStore) Name() string { return "memory" }

func cloneRequest(req *interfaces.PurchaseRequest) *interfaces.PurchaseRequest {
	out := *req
	out.ApproverEmails = append([]string(nil), req.ApproverEmails...)
	return &out
}

func cloneApprover(rec *interfaces.ApproverRecord) *interfaces.ApproverRecord {
	out := *rec
	if rec.OtpExpiration != nil {
		t := *rec.OtpExpiration
		out.OtpExpiration = &t
	}
	if rec.DecisionDate != nil {
		t := *rec.DecisionDate
		out.DecisionDate = &t
	}
	return &out
}
