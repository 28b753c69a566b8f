/*
attendance.go - Daily check-in and check-out

PURPOSE:
  Records when users start and stop working, one record per user and day,
  and reports attendance next to the leave they took.

RULES:
  - "Today" is the calendar date in the timezone of the user's location
  - A user on approved leave cannot check in that day
  - Check-out needs a check-in and happens once
  - Hours worked decide the status: >= 8 present, >= 4 half_day, else absent

ON LEAVE:
  Working days covered by an approved request and without a stored record
  are reported as on_leave. These records are built when listing and never
  written, so cancelling or rejecting leave needs no cleanup here.

SEE ALSO:
  - request.go: Approved requests feed the on_leave records
  - calendar.go: Which days are working days
*/
package timeoff

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"go.uber.org/zap"
)

var (
	fullDayHours = decimal.NewFromInt(8)
	halfDayHours = decimal.NewFromInt(4)
)

// StatusForHours classifies a day by the hours worked.
func StatusForHours(hours decimal.Decimal) AttendanceStatus {
	switch {
	case hours.GreaterThanOrEqual(fullDayHours):
		return AttendancePresent
	case hours.GreaterThanOrEqual(halfDayHours):
		return AttendanceHalfDay
	default:
		return AttendanceAbsent
	}
}

// AttendanceSummary totals a list of records.
type AttendanceSummary struct {
	TotalDays  int
	Present    int
	Absent     int
	HalfDay    int
	OnLeave    int
	TotalHours decimal.Decimal
}

func Summarize(records []AttendanceRecord) AttendanceSummary {
	sum := AttendanceSummary{TotalDays: len(records), TotalHours: decimal.Zero}
	for _, r := range records {
		switch r.Status {
		case AttendancePresent:
			sum.Present++
		case AttendanceAbsent:
			sum.Absent++
		case AttendanceHalfDay:
			sum.HalfDay++
		case AttendanceOnLeave:
			sum.OnLeave++
		}
		sum.TotalHours = sum.TotalHours.Add(r.WorkHours)
	}
	return sum
}

// =============================================================================
// ATTENDANCE SERVICE
// =============================================================================

type AttendanceService struct {
	store    Backend
	calendar CalendarResolver
	authz    Authorizer
	logger   *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewAttendanceService(backend Backend, logger *zap.Logger) *AttendanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{
		store:  backend,
		logger: logger.Named("timeoff.attendance"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// CheckIn opens today's record for the user.
func (s *AttendanceService) CheckIn(ctx context.Context, userID, notes string) (*AttendanceRecord, error) {
	user, today, err := s.userToday(ctx, userID)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("user_id", userID), zap.Stringer("date", today))

	onLeave, err := s.onApprovedLeave(ctx, user.ID, today)
	if err != nil {
		return nil, err
	}
	if onLeave {
		log.Warn("check-in refused, user is on leave")
		return nil, &generic.ValidationError{Field: "date", Message: "cannot check in on a day of approved leave"}
	}

	existing, err := s.store.GetAttendance(ctx, user.ID, today)
	if err != nil {
		return nil, fmt.Errorf("failed to load attendance: %w", err)
	}
	if existing != nil && existing.CheckIn != nil {
		return nil, &generic.ValidationError{Field: "check_in", Message: "already checked in today"}
	}

	now := s.now().UTC()
	rec := AttendanceRecord{
		ID:        s.newID(),
		UserID:    user.ID,
		Date:      today,
		Status:    AttendancePresent,
		WorkHours: decimal.Zero,
		CreatedAt: now,
	}
	if existing != nil {
		rec = *existing
	}
	rec.CheckIn = &now
	rec.UpdatedAt = now
	if n := strings.TrimSpace(notes); n != "" {
		rec.Notes = n
	}
	if err := s.store.SaveAttendance(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save attendance: %w", err)
	}

	log.Info("checked in", zap.Time("check_in", now))
	return &rec, nil
}

// CheckOut closes today's record and sets its hours and status.
func (s *AttendanceService) CheckOut(ctx context.Context, userID, notes string) (*AttendanceRecord, error) {
	user, today, err := s.userToday(ctx, userID)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("user_id", userID), zap.Stringer("date", today))

	rec, err := s.store.GetAttendance(ctx, user.ID, today)
	if err != nil {
		return nil, fmt.Errorf("failed to load attendance: %w", err)
	}
	if rec == nil || rec.CheckIn == nil {
		return nil, &generic.ValidationError{Field: "check_out", Message: "must check in first"}
	}
	if rec.CheckOut != nil {
		return nil, &generic.ValidationError{Field: "check_out", Message: "already checked out today"}
	}

	now := s.now().UTC()
	worked := now.Sub(*rec.CheckIn)
	if worked < 0 {
		worked = 0
	}
	rec.CheckOut = &now
	rec.WorkHours = decimal.NewFromFloat(worked.Hours()).Round(2)
	rec.Status = StatusForHours(rec.WorkHours)
	rec.UpdatedAt = now
	if n := strings.TrimSpace(notes); n != "" {
		rec.Notes = n
	}
	if err := s.store.SaveAttendance(ctx, *rec); err != nil {
		return nil, fmt.Errorf("failed to save attendance: %w", err)
	}

	log.Info("checked out", zap.String("work_hours", rec.WorkHours.String()), zap.String("status", string(rec.Status)))
	return rec, nil
}

// History returns the user's records in [from, to], on_leave days included.
// The viewer needs the same rights as for viewing the user's leave.
func (s *AttendanceService) History(ctx context.Context, viewerID, userID string, from, to generic.Date) ([]AttendanceRecord, error) {
	span, err := generic.NewDateRange(from, to)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, s.store, ActionView, viewerID, userID); err != nil {
		return nil, err
	}
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.collect(ctx, []User{*user}, span)
}

// TeamAttendance returns the records of the manager's direct reports in
// [from, to]. A non-empty userID narrows it to one report.
func (s *AttendanceService) TeamAttendance(ctx context.Context, managerID, userID string, from, to generic.Date) ([]AttendanceRecord, error) {
	span, err := generic.NewDateRange(from, to)
	if err != nil {
		return nil, err
	}
	team, err := s.store.ListTeam(ctx, managerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load team: %w", err)
	}
	if userID != "" {
		var only []User
		for _, u := range team {
			if u.ID == userID {
				only = append(only, u)
			}
		}
		if only == nil {
			return nil, deny(ActionView, managerID, userID)
		}
		team = only
	}
	if len(team) == 0 {
		return []AttendanceRecord{}, nil
	}
	return s.collect(ctx, team, span)
}

// collect merges stored records with the on_leave days of the users.
func (s *AttendanceService) collect(ctx context.Context, users []User, span generic.DateRange) ([]AttendanceRecord, error) {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}

	stored, err := s.store.ListAttendance(ctx, AttendanceFilter{UserIDs: ids, From: span.Start, To: span.End})
	if err != nil {
		return nil, fmt.Errorf("failed to load attendance: %w", err)
	}
	type dayKey struct {
		user string
		day  generic.Date
	}
	seen := make(map[dayKey]bool, len(stored))
	for _, r := range stored {
		seen[dayKey{r.UserID, r.Date}] = true
	}

	approved, err := s.store.ListRequests(ctx, RequestFilter{UserIDs: ids, Status: StatusApproved})
	if err != nil {
		return nil, fmt.Errorf("failed to load leave requests: %w", err)
	}

	out := stored
	offByLocation := map[string]generic.DateSet{}
	byID := make(map[string]User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	for _, req := range approved {
		if req.EndDate.Before(span.Start) || req.StartDate.After(span.End) {
			continue
		}
		locID := byID[req.UserID].LocationID
		off, ok := offByLocation[locID]
		if !ok {
			off, err = s.calendar.NonWorkingDates(ctx, s.store, locID, span.Start, span.End)
			if err != nil {
				return nil, err
			}
			offByLocation[locID] = off
		}
		for _, day := range span.Days() {
			if day.Before(req.StartDate) || day.After(req.EndDate) || off.Contains(day) {
				continue
			}
			k := dayKey{req.UserID, day}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, AttendanceRecord{
				UserID:    req.UserID,
				Date:      day,
				Status:    AttendanceOnLeave,
				WorkHours: decimal.Zero,
				Notes:     "Leave request " + req.ID,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// userToday loads an active user and the current date at their location.
func (s *AttendanceService) userToday(ctx context.Context, userID string) (*User, generic.Date, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, generic.Date{}, err
	}
	if !user.IsActive {
		return nil, generic.Date{}, &generic.AuthorizationError{ActorID: userID, TargetID: userID, Action: "attendance"}
	}

	tz := time.UTC
	loc, err := s.store.GetLocation(ctx, user.LocationID)
	if err != nil {
		return nil, generic.Date{}, fmt.Errorf("failed to load location: %w", err)
	}
	if loc != nil {
		if z, err := time.LoadLocation(loc.Timezone); err == nil {
			tz = z
		} else {
			s.logger.Warn("unknown location timezone, using UTC", zap.String("location_id", loc.ID), zap.String("timezone", loc.Timezone))
		}
	}
	return user, generic.DateOf(s.now().In(tz)), nil
}

func (s *AttendanceService) loadUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, &generic.NotFoundError{Entity: "user", ID: userID}
	}
	return user, nil
}

func (s *AttendanceService) onApprovedLeave(ctx context.Context, userID string, day generic.Date) (bool, error) {
	approved, err := s.store.ListRequests(ctx, RequestFilter{UserIDs: []string{userID}, Status: StatusApproved})
	if err != nil {
		return false, fmt.Errorf("failed to load leave requests: %w", err)
	}
	for _, req := range approved {
		if !day.Before(req.StartDate) && !day.After(req.EndDate) {
			return true, nil
		}
	}
	return false, nil
}
