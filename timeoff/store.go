/*
store.go - Persistence contracts for the leave engine

PURPOSE:
  Defines the interface between the leave engine and the database. The core
  only needs keyed lookups, inserts, version-checked updates and one
  transaction spanning the ledger row and the request row.

KEY INTERFACES:
  Reader:    Read-only lookups used by the calendar and day calculators
  Store:     Transaction-scoped view (locks + writes) used by the ledger
  TxStore:   Store plus WithTx for atomic multi-row operations
  Directory: Administration and listing queries outside the hot path
  Attendance: Daily check-in/check-out records

LOCKING CONTRACT:
  LockBalance and LockRequest return the row and hold it for the rest of the
  transaction. PostgreSQL does this with SELECT ... FOR UPDATE; SQLite and the
  memory store serialize whole transactions. UpdateBalance must compare the
  caller's Version with the stored one and return
  generic.ErrConcurrentModification on mismatch.

NOT FOUND:
  Lookups return (nil, nil) for a missing row. Callers turn that into a
  *generic.NotFoundError with the entity name they were looking for.

IMPLEMENTATIONS:
  - store/memory:   In-memory, for tests and demos
  - store/sqlite:   database/sql + go-sqlite3
  - store/postgres: gorm + PostgreSQL row locks

SEE ALSO:
  - ledger.go: Only writer of Used/Pending
  - request.go: Owns every request mutation
*/
package timeoff

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// Reader is what the calendar resolver and working-day calculator need.
type Reader interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetLocation(ctx context.Context, id string) (*Location, error)
	GetLeaveType(ctx context.Context, id string) (*LeaveType, error)

	// HolidaysForLocation returns holidays assigned to the location whose
	// date lies in [from, to].
	HolidaysForLocation(ctx context.Context, locationID string, from, to generic.Date) ([]Holiday, error)
}

// Store is the transaction-scoped view handed to WithTx callbacks.
type Store interface {
	Reader

	LockBalance(ctx context.Context, key BalanceKey) (*LeaveBalance, error)

	// UpdateBalance persists Used/Pending/Allocated when the stored version
	// equals b.Version, then increments b.Version.
	UpdateBalance(ctx context.Context, b *LeaveBalance) error

	LockRequest(ctx context.Context, id string) (*LeaveRequest, error)
	InsertRequest(ctx context.Context, r *LeaveRequest) error
	UpdateRequest(ctx context.Context, r *LeaveRequest) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Directory holds the administration writes and listing queries.
type Directory interface {
	// SaveUser inserts or replaces a user. Another user with the same email
	// returns generic.ErrDuplicate.
	SaveUser(ctx context.Context, u User) error
	ListTeam(ctx context.Context, managerID string) ([]User, error)

	// ListUsers returns active and inactive users, newest first.
	ListUsers(ctx context.Context, filter UserFilter) ([]User, error)

	SaveLocation(ctx context.Context, l Location) error
	ListLocations(ctx context.Context) ([]Location, error)

	SaveLeaveType(ctx context.Context, t LeaveType) error
	ListLeaveTypes(ctx context.Context) ([]LeaveType, error)

	SaveHoliday(ctx context.Context, h Holiday) error
	DeleteHoliday(ctx context.Context, id string) error
	ListHolidays(ctx context.Context, year int) ([]Holiday, error)

	// AssignHolidays replaces the location's holiday set.
	AssignHolidays(ctx context.Context, locationID string, holidayIDs []string) error

	// AllocateBalance creates the row or sets Allocated on the existing one.
	// Used and Pending are never touched. Allocating less than Used+Pending
	// returns a *generic.ValidationError.
	AllocateBalance(ctx context.Context, key BalanceKey, allocated decimal.Decimal) (*LeaveBalance, error)
	ListBalances(ctx context.Context, userID string, year int) ([]LeaveBalance, error)

	GetRequest(ctx context.Context, id string) (*LeaveRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]LeaveRequest, error)
}

// Attendance keeps one record per user and date.
type Attendance interface {
	GetAttendance(ctx context.Context, userID string, day generic.Date) (*AttendanceRecord, error)

	// SaveAttendance inserts or replaces a record by ID. A second record for
	// the same user and date returns generic.ErrDuplicate.
	SaveAttendance(ctx context.Context, r AttendanceRecord) error

	// ListAttendance returns matching records ordered by date descending,
	// then user id.
	ListAttendance(ctx context.Context, filter AttendanceFilter) ([]AttendanceRecord, error)
}

// Backend is everything a store implementation provides.
type Backend interface {
	TxStore
	Directory
	Attendance
}
