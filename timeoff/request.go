/*
request.go - Leave request state machine

PURPOSE:
  Owns every leave request mutation and the balance movement tied to it.

    pending --approve--> approved   (ledger commit)
    pending --reject---> rejected   (ledger release)
    pending --cancel---> cancelled  (ledger release)

  Apply creates the request in pending and reserves its days. Terminal
  states are never left.

TRANSACTIONS:
  Each operation is one WithTx call: the request row and the balance row
  change together or not at all. A transaction that loses a version check
  (generic.ErrConcurrentModification) is retried once from scratch; a
  second conflict is returned.

CHECK ORDER:
  Apply:   range -> leave type -> authorization -> working days -> cap -> reserve
  Approve: request exists -> authorization -> status -> commit
  Reject:  request exists -> authorization -> status -> release
  Cancel:  request exists -> owner -> status -> release

  Authorization precedes the status check so that a stranger learns nothing
  about a request's state.

SEE ALSO:
  - ledger.go: Reserve / Commit / Release
  - authz.go: Who may do what
  - workdays.go: How TotalDays is computed
*/
package timeoff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// REQUEST SERVICE
// =============================================================================

type RequestService struct {
	store      TxStore
	dir        Directory
	ledger     *BalanceLedger
	calculator WorkingDayCalculator
	authz      Authorizer
	logger     *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewRequestService(backend Backend, logger *zap.Logger) *RequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestService{
		store:  backend,
		dir:    backend,
		ledger: NewBalanceLedger(logger),
		logger: logger.Named("timeoff.requests"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// ApplyInput is what an applicant submits.
type ApplyInput struct {
	UserID      string
	LeaveTypeID string
	StartDate   generic.Date
	EndDate     generic.Date
	Reason      string

	// AppliedByID is the acting user. Empty means the user applies for
	// themselves.
	AppliedByID string
}

// =============================================================================
// APPLY
// =============================================================================

// Apply creates a pending request and reserves its working days.
func (s *RequestService) Apply(ctx context.Context, in ApplyInput) (*LeaveRequest, error) {
	if in.AppliedByID == "" {
		in.AppliedByID = in.UserID
	}
	log := s.logger.With(
		zap.String("user_id", in.UserID),
		zap.String("applied_by_id", in.AppliedByID),
		zap.String("leave_type_id", in.LeaveTypeID),
		zap.Stringer("start_date", in.StartDate),
		zap.Stringer("end_date", in.EndDate),
	)
	log.Debug("apply")

	// The range is checked before anything touches the store.
	span, err := generic.NewDateRange(in.StartDate, in.EndDate)
	if err != nil {
		return nil, s.outcome(log, "apply", err)
	}

	var created *LeaveRequest
	err = s.inTx(ctx, log, func(tx Store) error {
		lt, err := tx.GetLeaveType(ctx, in.LeaveTypeID)
		if err != nil {
			return fmt.Errorf("failed to load leave type: %w", err)
		}
		if lt == nil {
			return &generic.NotFoundError{Entity: "leave_type", ID: in.LeaveTypeID}
		}

		if err := s.authz.Authorize(ctx, tx, ActionApply, in.AppliedByID, in.UserID); err != nil {
			return err
		}

		days, err := s.calculator.CountWorkingDays(ctx, tx, in.UserID, span.Start, span.End)
		if err != nil {
			return err
		}
		if days == 0 {
			return &generic.ValidationError{Field: "date_range", Message: "no working days in range"}
		}
		if lt.MaxDaysPerRequest != nil && days > *lt.MaxDaysPerRequest {
			return &generic.ValidationError{
				Field:   "date_range",
				Message: fmt.Sprintf("%s allows at most %d days per request, got %d", lt.Name, *lt.MaxDaysPerRequest, days),
			}
		}

		now := s.now().UTC()
		req := &LeaveRequest{
			ID:          s.newID(),
			UserID:      in.UserID,
			LeaveTypeID: in.LeaveTypeID,
			StartDate:   span.Start,
			EndDate:     span.End,
			TotalDays:   decimal.NewFromInt(int64(days)),
			Reason:      strings.TrimSpace(in.Reason),
			Status:      StatusPending,
			AppliedByID: in.AppliedByID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if _, err := s.ledger.Reserve(ctx, tx, req.BalanceKey(), req.TotalDays); err != nil {
			return err
		}
		if err := tx.InsertRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to insert leave request: %w", err)
		}
		created = req
		return nil
	})
	if err != nil {
		return nil, s.outcome(log, "apply", err)
	}

	log.Info("leave request created",
		zap.String("request_id", created.ID),
		zap.String("total_days", created.TotalDays.String()),
	)
	return created, nil
}

// =============================================================================
// APPROVE / REJECT / CANCEL
// =============================================================================

// Approve moves a pending request to approved and commits its days.
func (s *RequestService) Approve(ctx context.Context, requestID, approverID string) (*LeaveRequest, error) {
	log := s.logger.With(zap.String("request_id", requestID), zap.String("approver_id", approverID))
	log.Debug("approve")

	var out *LeaveRequest
	err := s.inTx(ctx, log, func(tx Store) error {
		req, err := s.lockForDecision(ctx, tx, ActionApprove, requestID, approverID)
		if err != nil {
			return err
		}

		if _, err := s.ledger.Commit(ctx, tx, req.BalanceKey(), req.TotalDays); err != nil {
			return err
		}

		now := s.now().UTC()
		req.Status = StatusApproved
		req.ApprovedByID = &approverID
		req.ApprovedAt = &now
		req.UpdatedAt = now
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to update leave request: %w", err)
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, s.outcome(log, "approve", err)
	}

	log.Info("leave request approved", zap.String("total_days", out.TotalDays.String()))
	return out, nil
}

// Reject moves a pending request to rejected and releases its days.
func (s *RequestService) Reject(ctx context.Context, requestID, approverID, reason string) (*LeaveRequest, error) {
	log := s.logger.With(zap.String("request_id", requestID), zap.String("approver_id", approverID))
	log.Debug("reject")

	var out *LeaveRequest
	err := s.inTx(ctx, log, func(tx Store) error {
		req, err := s.lockForDecision(ctx, tx, ActionReject, requestID, approverID)
		if err != nil {
			return err
		}

		if _, err := s.ledger.Release(ctx, tx, req.BalanceKey(), req.TotalDays); err != nil {
			return err
		}

		now := s.now().UTC()
		req.Status = StatusRejected
		req.ApprovedByID = &approverID
		req.ApprovedAt = &now
		req.UpdatedAt = now
		if r := strings.TrimSpace(reason); r != "" {
			req.RejectionReason = &r
		}
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to update leave request: %w", err)
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, s.outcome(log, "reject", err)
	}

	log.Info("leave request rejected")
	return out, nil
}

// Cancel lets the owner withdraw a pending request.
func (s *RequestService) Cancel(ctx context.Context, requestID, userID string) (*LeaveRequest, error) {
	log := s.logger.With(zap.String("request_id", requestID), zap.String("user_id", userID))
	log.Debug("cancel")

	var out *LeaveRequest
	err := s.inTx(ctx, log, func(tx Store) error {
		req, err := s.lockRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if err := s.authz.Authorize(ctx, tx, ActionCancel, userID, req.UserID); err != nil {
			return err
		}
		if req.Status != StatusPending {
			return invalidState(req, ActionCancel)
		}

		if _, err := s.ledger.Release(ctx, tx, req.BalanceKey(), req.TotalDays); err != nil {
			return err
		}

		req.Status = StatusCancelled
		req.UpdatedAt = s.now().UTC()
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to update leave request: %w", err)
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, s.outcome(log, "cancel", err)
	}

	log.Info("leave request cancelled")
	return out, nil
}

func (s *RequestService) lockForDecision(ctx context.Context, tx Store, action Action, requestID, approverID string) (*LeaveRequest, error) {
	req, err := s.lockRequest(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, tx, action, approverID, req.UserID); err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, invalidState(req, action)
	}
	return req, nil
}

func (s *RequestService) lockRequest(ctx context.Context, tx Store, requestID string) (*LeaveRequest, error) {
	req, err := tx.LockRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock leave request: %w", err)
	}
	if req == nil {
		return nil, &generic.NotFoundError{Entity: "leave_request", ID: requestID}
	}
	return req, nil
}

func invalidState(req *LeaveRequest, action Action) error {
	return &generic.InvalidStateError{RequestID: req.ID, Status: string(req.Status), Action: string(action)}
}

// inTx runs fn in a transaction and retries it once when it lost a
// concurrent update.
func (s *RequestService) inTx(ctx context.Context, log *zap.Logger, fn func(Store) error) error {
	err := s.store.WithTx(ctx, fn)
	if generic.IsRetryable(err) {
		log.Info("retrying after concurrent modification", zap.Error(err))
		err = s.store.WithTx(ctx, fn)
	}
	return err
}

// outcome logs a failed operation at a level matching who caused it.
func (s *RequestService) outcome(log *zap.Logger, op string, err error) error {
	switch {
	case generic.IsClientError(err), generic.IsNotFound(err):
		log.Warn(op+" refused", zap.Error(err))
	case errors.Is(err, context.Canceled):
		log.Debug(op+" cancelled by caller", zap.Error(err))
	default:
		log.Error(op+" failed", zap.Error(err))
	}
	return err
}

// =============================================================================
// QUERIES
// =============================================================================

// WorkingDays previews how many days a range would cost the user.
func (s *RequestService) WorkingDays(ctx context.Context, userID string, start, end generic.Date) (int, error) {
	return s.calculator.CountWorkingDays(ctx, s.store, userID, start, end)
}

// WorkingDaysBreakdown is WorkingDays plus the weekends and holidays that
// were excluded, both resolved from the user's own location.
func (s *RequestService) WorkingDaysBreakdown(ctx context.Context, userID string, start, end generic.Date) (*Breakdown, error) {
	return s.calculator.Breakdown(ctx, s.store, userID, start, end)
}

// NonWorkingDates lists weekends and holidays for a location.
func (s *RequestService) NonWorkingDates(ctx context.Context, locationID string, start, end generic.Date) ([]generic.Date, error) {
	off, err := s.calculator.Calendar.NonWorkingDates(ctx, s.store, locationID, start, end)
	if err != nil {
		return nil, err
	}
	return off.Sorted(), nil
}

// GetRequest returns one request if the viewer is its owner, the owner's
// manager or an admin.
func (s *RequestService) GetRequest(ctx context.Context, viewerID, requestID string) (*LeaveRequest, error) {
	req, err := s.dir.GetRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load leave request: %w", err)
	}
	if req == nil {
		return nil, &generic.NotFoundError{Entity: "leave_request", ID: requestID}
	}
	if err := s.authz.Authorize(ctx, s.store, ActionView, viewerID, req.UserID); err != nil {
		return nil, err
	}
	return req, nil
}

// ListRequests returns the user's own requests.
func (s *RequestService) ListRequests(ctx context.Context, userID string, status RequestStatus, year int) ([]LeaveRequest, error) {
	if status != "" && !status.Valid() {
		return nil, &generic.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}
	return s.dir.ListRequests(ctx, RequestFilter{UserIDs: []string{userID}, Status: status, Year: year})
}

// Balances returns the user's balances for a year, visible to the same
// people who may view the user's requests.
func (s *RequestService) Balances(ctx context.Context, viewerID, userID string, year int) ([]LeaveBalance, error) {
	if err := s.authz.Authorize(ctx, s.store, ActionView, viewerID, userID); err != nil {
		return nil, err
	}
	return s.dir.ListBalances(ctx, userID, year)
}

// Team lists the manager's direct reports.
func (s *RequestService) Team(ctx context.Context, managerID string) ([]User, error) {
	return s.dir.ListTeam(ctx, managerID)
}

// TeamRequests lists requests of the manager's direct reports. An empty
// status means every status.
func (s *RequestService) TeamRequests(ctx context.Context, managerID string, status RequestStatus, year int) ([]LeaveRequest, error) {
	if status != "" && !status.Valid() {
		return nil, &generic.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}
	team, err := s.dir.ListTeam(ctx, managerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load team: %w", err)
	}
	if len(team) == 0 {
		return []LeaveRequest{}, nil
	}
	ids := make([]string, 0, len(team))
	for _, u := range team {
		ids = append(ids, u.ID)
	}
	return s.dir.ListRequests(ctx, RequestFilter{UserIDs: ids, Status: status, Year: year})
}

// HolidaysFor returns the holidays of the user's location in a year.
func (s *RequestService) HolidaysFor(ctx context.Context, userID string, year int) ([]Holiday, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, &generic.NotFoundError{Entity: "user", ID: userID}
	}
	return s.store.HolidaysForLocation(ctx, user.LocationID, generic.StartOfYear(year), generic.EndOfYear(year))
}
