// Package timeoff implements the leave ledger and approval workflow.
// It computes working days, keeps per (user, leave type, year) balances and
// drives leave requests from pending to approved, rejected or cancelled.
package timeoff

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// ROLES & USERS
// =============================================================================

type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleEmployee, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// User is read-only for the core; it resolves locations and reporting lines.
type User struct {
	ID         string
	Email      string
	FirstName  string
	LastName   string
	Role       Role
	ManagerID  *string
	LocationID string
	IsActive   bool
	CreatedAt  time.Time
}

func (u User) FullName() string { return u.FirstName + " " + u.LastName }

// ReportsTo returns true if managerID is the user's direct manager.
func (u User) ReportsTo(managerID string) bool {
	return u.ManagerID != nil && *u.ManagerID == managerID
}

// Location groups users and decides which holidays apply.
type Location struct {
	ID        string
	Name      string
	Country   string
	State     string
	City      string
	Timezone  string
	CreatedAt time.Time
}

// Holiday is a non-working date for every location it is assigned to.
type Holiday struct {
	ID          string
	Name        string
	Date        generic.Date
	IsMandatory bool
	Description string
	LocationIDs []string
	CreatedAt   time.Time
}

// =============================================================================
// LEAVE TYPE
// =============================================================================

// LeaveType is an immutable reference entity (annual, sick, ...).
type LeaveType struct {
	ID                string
	Name              string
	Code              string
	RequiresApproval  bool
	MaxDaysPerRequest *int
	Description       string
}

// =============================================================================
// LEAVE BALANCE - Ledger row
// =============================================================================

// BalanceKey identifies one ledger row.
type BalanceKey struct {
	UserID      string
	LeaveTypeID string
	Year        int
}

// LeaveBalance tracks allocated/used/pending days for a key.
//
// INVARIANT: Available() never goes negative as the result of a reservation.
// Only the BalanceLedger changes Used and Pending; administrators change
// Allocated. Version is bumped on every write and checked on update.
type LeaveBalance struct {
	ID          string
	UserID      string
	LeaveTypeID string
	Year        int
	Allocated   decimal.Decimal
	Used        decimal.Decimal
	Pending     decimal.Decimal
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (b LeaveBalance) Key() BalanceKey {
	return BalanceKey{UserID: b.UserID, LeaveTypeID: b.LeaveTypeID, Year: b.Year}
}

func (b LeaveBalance) Available() decimal.Decimal {
	return generic.Available(b.Allocated, b.Used, b.Pending)
}

// =============================================================================
// LEAVE REQUEST
// =============================================================================

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusCancelled RequestStatus = "cancelled"
)

// Terminal returns true for states no transition leaves.
func (s RequestStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

func (s RequestStatus) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// LeaveRequest is one application for leave. Once it leaves pending, its
// dates and TotalDays never change.
type LeaveRequest struct {
	ID              string
	UserID          string
	LeaveTypeID     string
	StartDate       generic.Date
	EndDate         generic.Date
	TotalDays       decimal.Decimal
	Reason          string
	Status          RequestStatus
	AppliedByID     string
	ApprovedByID    *string
	RejectionReason *string
	ApprovedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BalanceKey is the ledger row the request reserves against: the year of
// the start date.
func (r LeaveRequest) BalanceKey() BalanceKey {
	return BalanceKey{UserID: r.UserID, LeaveTypeID: r.LeaveTypeID, Year: r.StartDate.Year()}
}

// RequestFilter narrows request listings. Zero fields do not filter.
type RequestFilter struct {
	UserIDs []string
	Status  RequestStatus
	Year    int
}

// UserFilter narrows user listings. Zero fields do not filter.
type UserFilter struct {
	// Search matches email, first or last name, case-insensitively.
	Search     string
	Role       Role
	LocationID string
}

// =============================================================================
// ATTENDANCE
// =============================================================================

type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceAbsent  AttendanceStatus = "absent"
	AttendanceHalfDay AttendanceStatus = "half_day"
	AttendanceOnLeave AttendanceStatus = "on_leave"
)

// AttendanceRecord is one user's working day. A user has at most one record
// per date. Records with status on_leave are derived from approved leave
// and are never stored; their ID is empty.
type AttendanceRecord struct {
	ID        string
	UserID    string
	Date      generic.Date
	CheckIn   *time.Time
	CheckOut  *time.Time
	Status    AttendanceStatus
	WorkHours decimal.Decimal
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AttendanceFilter selects records of some users within [From, To].
type AttendanceFilter struct {
	UserIDs []string
	From    generic.Date
	To      generic.Date
}
