package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/procurehub/purchase-approval-backend/interfaces"
)

// FileStore is a single-node RequestStore persisting JSON records under a base
// directory (requests/ and approvers/ subdirectories). All state is loaded at
// open and served from memory behind one lock; each mutation rewrites the
// affected record file before the in-memory maps change, so a crash leaves at
// worst a record the next open re-reads.
//
// Intended for development and single-instance deployments; DynamoDB is the
// multi-instance backend.
type FileStore struct {
	mu      sync.RWMutex
	baseDir string
	log     *slog.Logger

	requests  map[interfaces.RequestID]*interfaces.PurchaseRequest
	approvers map[approverKey]*interfaces.ApproverRecord
	byToken   map[interfaces.ApproverToken]approverKey
}

// NewFileStore opens (or initializes) a file-backed store rooted at baseDir.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	for _, dir := range []string{baseDir, filepath.Join(baseDir, "requests"), filepath.Join(baseDir, "approvers")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	fs := &FileStore{
		baseDir:   baseDir,
		log:       log,
		requests:  make(map[interfaces.RequestID]*interfaces.PurchaseRequest),
		approvers: make(map[approverKey]*interfaces.ApproverRecord),
		byToken:   make(map[interfaces.ApproverToken]approverKey),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	requestFiles, err := os.ReadDir(filepath.Join(f.baseDir, "requests"))
	if err != nil {
		return fmt.Errorf("failed to read requests directory: %w", err)
	}
	for _, entry := range requestFiles {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.baseDir, "requests", entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read request record: %w", err)
		}
		var req interfaces.PurchaseRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("corrupt request record %s: %w", entry.Name(), err)
		}
		f.requests[req.RequestID] = &req
	}

	approverFiles, err := os.ReadDir(filepath.Join(f.baseDir, "approvers"))
	if err != nil {
		return fmt.Errorf("failed to read approvers directory: %w", err)
	}
	for _, entry := range approverFiles {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.baseDir, "approvers", entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read approver record: %w", err)
		}
		var rec interfaces.ApproverRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("corrupt approver record %s: %w", entry.Name(), err)
		}
		key := approverKey{rec.RequestID, rec.ApproverEmail}
		f.approvers[key] = &rec
		f.byToken[rec.ApproverToken] = key
	}

	f.log.Debug("Loaded file store",
		slog.String("baseDir", f.baseDir),
		slog.Int("requests", len(f.requests)),
		slog.Int("approvers", len(f.approvers)))
	return nil
}

func (f *FileStore) writeRequest(req *interfaces.PurchaseRequest) error {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(f.baseDir, "requests", req.RequestID.String()+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

func (f *FileStore) writeApprover(rec *interfaces.ApproverRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%s_%s.json", rec.RequestID, rec.ApproverEmail)
	path := filepath.Join(f.baseDir, "approvers", name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// CreateRequest persists the batch. Files are written before the maps are
// touched; on a partial file write the maps stay unchanged and the error is
// surfaced as fatal to creation.
func (f *FileStore) CreateRequest(ctx context.Context, req *interfaces.PurchaseRequest, approvers []*interfaces.ApproverRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.requests[req.RequestID]; exists {
		return fmt.Errorf("%w: request %s already exists", interfaces.ErrConflict, req.RequestID)
	}
	for _, rec := range approvers {
		if _, exists := f.byToken[rec.ApproverToken]; exists {
			return fmt.Errorf("%w: approver token already in use", interfaces.ErrConflict)
		}
	}

	if err := f.writeRequest(req); err != nil {
		return err
	}
	for _, rec := range approvers {
		if err := f.writeApprover(rec); err != nil {
			return err
		}
	}

	f.requests[req.RequestID] = cloneRequest(req)
	for _, rec := range approvers {
		key := approverKey{rec.RequestID, rec.ApproverEmail}
		f.approvers[key] = cloneApprover(rec)
		f.byToken[rec.ApproverToken] = key
	}
	return nil
}

// GetRequest retrieves a purchase request by id.
func (f *FileStore) GetRequest(ctx context.Context, id interfaces.RequestID) (*interfaces.PurchaseRequest, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	req, ok := f.requests[id]
	if !ok {
		return nil, interfaces.ErrRequestNotFound
	}
	return cloneRequest(req), nil
}

// ListRequestsByRequester returns the requester's requests, oldest first.
func (f *FileStore) ListRequestsByRequester(ctx context.Context, requesterEmail string) ([]*interfaces.PurchaseRequest, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := []*interfaces.PurchaseRequest{}
	for _, req := range f.requests {
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

// GetApproverByToken resolves the token index.
func (f *FileStore) GetApproverByToken(ctx context.Context, token interfaces.ApproverToken) (*interfaces.ApproverRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	key, ok := f.byToken[token]
	if !ok {
		return nil, interfaces.ErrTokenNotFound
	}
	return cloneApprover(f.approvers[key]), nil
}

// ListApprovers returns the request's approver records by approval order.
func (f *FileStore) ListApprovers(ctx context.Context, id interfaces.RequestID) ([]*interfaces.ApproverRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if _, ok := f.requests[id]; !ok {
		return nil, interfaces.ErrRequestNotFound
	}

	out := []*interfaces.ApproverRecord{}
	for key, rec := range f.approvers {
		if key.requestID == id {
			out = append(out, cloneApprover(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApprovalOrder < out[j].ApprovalOrder })
	return out, nil
}

// UpdateApprover performs the version-conditional replace.
func (f *FileStore) UpdateApprover(ctx context.Context, record *interfaces.ApproverRecord, expectedVersion uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := approverKey{record.RequestID, record.ApproverEmail}
	current, ok := f.approvers[key]
	if !ok {
		return interfaces.ErrTokenNotFound
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: approver %s/%s at version %d, expected %d",
			interfaces.ErrConflict, record.RequestID, record.ApproverEmail, current.Version, expectedVersion)
	}

	record.Version = expectedVersion + 1
	if err := f.writeApprover(record); err != nil {
		record.Version = expectedVersion
		return err
	}
	f.approvers[key] = cloneApprover(record)
	return nil
}

// UpdateRequestStatus performs the conditional overall-status transition.
func (f *FileStore) UpdateRequestStatus(ctx context.Context, id interfaces.RequestID, from, to interfaces.RequestStatus, evidenceKey string, expectedVersion uint64) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", interfaces.ErrInvalidTransition, from, to)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	current, ok := f.requests[id]
	if !ok {
		return interfaces.ErrRequestNotFound
	}
	if current.Status != from || current.Version != expectedVersion {
		return fmt.Errorf("%w: request %s at status %s version %d",
			interfaces.ErrConflict, id, current.Status, current.Version)
	}

	updated := cloneRequest(current)
	updated.Status = to
	if evidenceKey != "" {
		updated.PdfEvidenceKey = evidenceKey
	}
	updated.UpdatedAt = nowUTC()
	updated.Version = expectedVersion + 1

	if err := f.writeRequest(updated); err != nil {
		return err
	}
	f.requests[id] = updated
	return nil
}

// ListApproverContacts returns the contact projection of every record.
func (f *FileStore) ListApproverContacts(ctx context.Context) ([]interfaces.ApproverContact, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]interfaces.ApproverContact, 0, len(f.approvers))
	for _, rec := range f.approvers {
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

// Available checks that the base directory still exists.
func (f *FileStore) Available(ctx context.Context) bool {
	_, err := os.Stat(f.baseDir)
	if err != nil {
		f.log.Debug("File store unavailable", "err", err)
		return false
	}
	return true
}

// Name returns an identifier for logging.
func (f *FileStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(f.baseDir))
}
