package workflow

import (
	"context"
	"errors"

	"github.com/procurehub/purchase-approval-backend/interfaces"
	"github.com/procurehub/purchase-approval-backend/metrics"
)

// maxAggregateAttempts bounds the recompute retry loop. The recompute rule is
// idempotent, so a bounded number of conditional-write retries converges
// unless decisions keep landing faster than we can read.
const maxAggregateAttempts = 4

// recomputeOverall derives the request's overall status from the full set of
// approver records and writes it with a conditional update keyed on the
// previously observed status and version. Recomputing from the authoritative
// per-approver states (instead of keeping a counter) tolerates out-of-order
// and concurrent decision submissions.
//
// Precedence:
//  1. the just-submitted decision was a rejection -> Rejected, unconditionally;
//  2. all three records Signed -> FullyApproved;
//  3. any record Rejected (concurrent rejection race) -> Rejected;
//  4. otherwise -> PartiallyApproved.
func (s *Service) recomputeOverall(ctx context.Context, id interfaces.RequestID, justRejected bool) (interfaces.RequestStatus, error) {
	for attempt := 0; attempt < maxAggregateAttempts; attempt++ {
		req, err := s.store.GetRequest(ctx, id)
		if err != nil {
			return "", err
		}

		next := interfaces.StatusRejected
		if !justRejected {
			approvers, err := s.store.ListApprovers(ctx, id)
			if err != nil {
				return "", err
			}

			signed := 0
			anyRejected := false
			for _, rec := range approvers {
				switch rec.ApprovalStatus {
				case interfaces.ApprovalSigned:
					signed++
				case interfaces.ApprovalRejected:
					anyRejected = true
				}
			}

			switch {
			case signed == interfaces.RequiredApprovers:
				next = interfaces.StatusFullyApproved
			case anyRejected:
				next = interfaces.StatusRejected
			default:
				next = interfaces.StatusPartiallyApproved
			}
		}

		if req.Status == next {
			// Applying the same aggregation twice on the same snapshot is a
			// no-op.
			return next, nil
		}
		if !req.Status.CanTransitionTo(next) {
			// A hand-off already moved the request past aggregation (e.g.
			// CompletedPdfGenerated); the per-approver record change stands,
			// the overall status does not move backwards.
			s.log.Warn("Aggregation skipped: transition not allowed",
				"requestID", id.String(),
				"from", string(req.Status),
				"to", string(next))
			return req.Status, nil
		}

		err = s.store.UpdateRequestStatus(ctx, id, req.Status, next, "", req.Version)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, interfaces.ErrConflict) {
			metrics.IncAggregatorConflict()
			s.log.Debug("Aggregation write conflicted, retrying",
				"requestID", id.String(),
				"attempt", attempt)
			continue
		}
		return "", err
	}
	return "", interfaces.ErrConflict
}
