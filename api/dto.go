/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the timeoff domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry validator tags for shape checks (required fields,
  date format, enum values). Business rules stay in the services.

SEE ALSO:
  - handlers.go: Uses these types
  - timeoff/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ApplyLeaveRequest is an employee applying for their own leave.
type ApplyLeaveRequest struct {
	LeaveTypeID string `json:"leave_type_id" validate:"required"`
	StartDate   string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate     string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Reason      string `json:"reason" validate:"max=1000"`
}

// ApplyOnBehalfRequest is a manager applying for a report.
type ApplyOnBehalfRequest struct {
	UserID string `json:"user_id" validate:"required"`
	ApplyLeaveRequest
}

// RejectLeaveRequest carries the optional rejection reason.
type RejectLeaveRequest struct {
	Reason string `json:"rejection_reason" validate:"max=1000"`
}

type CreateUserRequest struct {
	Email      string  `json:"email" validate:"required,email"`
	FirstName  string  `json:"first_name" validate:"required"`
	LastName   string  `json:"last_name" validate:"required"`
	Role       string  `json:"role" validate:"omitempty,oneof=employee manager admin"`
	ManagerID  *string `json:"manager_id"`
	LocationID string  `json:"location_id" validate:"required"`
}

// UpdateUserRequest changes only the fields present.
type UpdateUserRequest struct {
	Email      *string `json:"email" validate:"omitempty,email"`
	FirstName  *string `json:"first_name" validate:"omitempty,min=1"`
	LastName   *string `json:"last_name" validate:"omitempty,min=1"`
	Role       *string `json:"role" validate:"omitempty,oneof=employee manager admin"`
	ManagerID  *string `json:"manager_id"`
	LocationID *string `json:"location_id" validate:"omitempty,min=1"`
	IsActive   *bool   `json:"is_active"`
}

type CreateLocationRequest struct {
	Name     string `json:"name" validate:"required"`
	Country  string `json:"country"`
	State    string `json:"state"`
	City     string `json:"city"`
	Timezone string `json:"timezone"`
}

type CreateLeaveTypeRequest struct {
	Name              string `json:"name" validate:"required"`
	Code              string `json:"code" validate:"required,max=10"`
	RequiresApproval  bool   `json:"requires_approval"`
	MaxDaysPerRequest *int   `json:"max_days_per_request" validate:"omitempty,gt=0"`
	Description       string `json:"description"`
}

type CreateHolidayRequest struct {
	Name        string   `json:"name" validate:"required"`
	Date        string   `json:"date" validate:"required,datetime=2006-01-02"`
	IsMandatory bool     `json:"is_mandatory"`
	Description string   `json:"description"`
	LocationIDs []string `json:"location_ids" validate:"dive,required"`
}

// UpdateHolidayRequest changes only the fields present.
type UpdateHolidayRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1"`
	Date        *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	IsMandatory *bool   `json:"is_mandatory"`
	Description *string `json:"description"`
}

// AttendanceNotesRequest is the optional body of check-in and check-out.
type AttendanceNotesRequest struct {
	Notes string `json:"notes" validate:"max=500"`
}

// AssignHolidaysRequest replaces a location's holiday set.
type AssignHolidaysRequest struct {
	HolidayIDs []string `json:"holiday_ids" validate:"dive,required"`
}

// AllocateBalanceRequest sets the allocated days for one ledger row.
// Allocated accepts a JSON number or string ("12.5").
type AllocateBalanceRequest struct {
	UserID      string          `json:"user_id" validate:"required"`
	LeaveTypeID string          `json:"leave_type_id" validate:"required"`
	Year        int             `json:"year" validate:"required"`
	Allocated   decimal.Decimal `json:"allocated"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type UserDTO struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	FirstName  string  `json:"first_name"`
	LastName   string  `json:"last_name"`
	FullName   string  `json:"full_name"`
	Role       string  `json:"role"`
	ManagerID  *string `json:"manager_id,omitempty"`
	LocationID string  `json:"location_id"`
	IsActive   bool    `json:"is_active"`
}

type LocationDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Country  string `json:"country,omitempty"`
	State    string `json:"state,omitempty"`
	City     string `json:"city,omitempty"`
	Timezone string `json:"timezone"`
}

type LeaveTypeDTO struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Code              string `json:"code"`
	RequiresApproval  bool   `json:"requires_approval"`
	MaxDaysPerRequest *int   `json:"max_days_per_request,omitempty"`
	Description       string `json:"description,omitempty"`
}

type HolidayDTO struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Date        generic.Date `json:"date"`
	IsMandatory bool         `json:"is_mandatory"`
	Description string       `json:"description,omitempty"`
	LocationIDs []string     `json:"location_ids"`
}

// BalanceDTO is one ledger row with its derived available days.
type BalanceDTO struct {
	LeaveTypeID string          `json:"leave_type_id"`
	Year        int             `json:"year"`
	Allocated   decimal.Decimal `json:"allocated"`
	Used        decimal.Decimal `json:"used"`
	Pending     decimal.Decimal `json:"pending"`
	Available   decimal.Decimal `json:"available"`
}

type LeaveRequestDTO struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	LeaveTypeID     string          `json:"leave_type_id"`
	StartDate       generic.Date    `json:"start_date"`
	EndDate         generic.Date    `json:"end_date"`
	TotalDays       decimal.Decimal `json:"total_days"`
	Reason          string          `json:"reason,omitempty"`
	Status          string          `json:"status"`
	AppliedByID     string          `json:"applied_by_id"`
	ApprovedByID    *string         `json:"approved_by_id,omitempty"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// WorkingDaysDTO answers "how many days would this range cost me".
type WorkingDaysDTO struct {
	StartDate       generic.Date   `json:"start_date"`
	EndDate         generic.Date   `json:"end_date"`
	LocationID      string         `json:"location_id"`
	WorkingDays     int            `json:"working_days"`
	NonWorkingDates []generic.Date `json:"non_working_dates"`
}

// AttendanceRecordDTO is one day of one user. Days on leave carry no id.
type AttendanceRecordDTO struct {
	ID        string          `json:"id,omitempty"`
	UserID    string          `json:"user_id"`
	Date      generic.Date    `json:"date"`
	CheckIn   *time.Time      `json:"check_in,omitempty"`
	CheckOut  *time.Time      `json:"check_out,omitempty"`
	Status    string          `json:"status"`
	WorkHours decimal.Decimal `json:"work_hours"`
	Notes     string          `json:"notes,omitempty"`
}

type AttendanceSummaryDTO struct {
	TotalDays  int             `json:"total_days"`
	Present    int             `json:"present"`
	Absent     int             `json:"absent"`
	HalfDay    int             `json:"half_day"`
	OnLeave    int             `json:"on_leave"`
	TotalHours decimal.Decimal `json:"total_hours"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toAttendanceDTO(r timeoff.AttendanceRecord) AttendanceRecordDTO {
	return AttendanceRecordDTO{
		ID:        r.ID,
		UserID:    r.UserID,
		Date:      r.Date,
		CheckIn:   r.CheckIn,
		CheckOut:  r.CheckOut,
		Status:    string(r.Status),
		WorkHours: r.WorkHours,
		Notes:     r.Notes,
	}
}

func toAttendanceSummaryDTO(s timeoff.AttendanceSummary) AttendanceSummaryDTO {
	return AttendanceSummaryDTO{
		TotalDays:  s.TotalDays,
		Present:    s.Present,
		Absent:     s.Absent,
		HalfDay:    s.HalfDay,
		OnLeave:    s.OnLeave,
		TotalHours: s.TotalHours,
	}
}

func toUserDTO(u timeoff.User) UserDTO {
	return UserDTO{
		ID:         u.ID,
		Email:      u.Email,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		FullName:   u.FullName(),
		Role:       string(u.Role),
		ManagerID:  u.ManagerID,
		LocationID: u.LocationID,
		IsActive:   u.IsActive,
	}
}

func toLocationDTO(l timeoff.Location) LocationDTO {
	return LocationDTO{ID: l.ID, Name: l.Name, Country: l.Country, State: l.State, City: l.City, Timezone: l.Timezone}
}

func toLeaveTypeDTO(t timeoff.LeaveType) LeaveTypeDTO {
	return LeaveTypeDTO{
		ID:                t.ID,
		Name:              t.Name,
		Code:              t.Code,
		RequiresApproval:  t.RequiresApproval,
		MaxDaysPerRequest: t.MaxDaysPerRequest,
		Description:       t.Description,
	}
}

func toHolidayDTOs(hs []timeoff.Holiday) []HolidayDTO {
	dtos := make([]HolidayDTO, len(hs))
	for i, h := range hs {
		ids := h.LocationIDs
		if ids == nil {
			ids = []string{}
		}
		dtos[i] = HolidayDTO{
			ID:          h.ID,
			Name:        h.Name,
			Date:        h.Date,
			IsMandatory: h.IsMandatory,
			Description: h.Description,
			LocationIDs: ids,
		}
	}
	return dtos
}

func toBalanceDTOs(bs []timeoff.LeaveBalance) []BalanceDTO {
	dtos := make([]BalanceDTO, len(bs))
	for i, b := range bs {
		dtos[i] = BalanceDTO{
			LeaveTypeID: b.LeaveTypeID,
			Year:        b.Year,
			Allocated:   b.Allocated,
			Used:        b.Used,
			Pending:     b.Pending,
			Available:   b.Available(),
		}
	}
	return dtos
}

func toRequestDTO(r timeoff.LeaveRequest) LeaveRequestDTO {
	return LeaveRequestDTO{
		ID:              r.ID,
		UserID:          r.UserID,
		LeaveTypeID:     r.LeaveTypeID,
		StartDate:       r.StartDate,
		EndDate:         r.EndDate,
		TotalDays:       r.TotalDays,
		Reason:          r.Reason,
		Status:          string(r.Status),
		AppliedByID:     r.AppliedByID,
		ApprovedByID:    r.ApprovedByID,
		RejectionReason: r.RejectionReason,
		ApprovedAt:      r.ApprovedAt,
		CreatedAt:       r.CreatedAt,
	}
}

func toRequestDTOs(rs []timeoff.LeaveRequest) []LeaveRequestDTO {
	dtos := make([]LeaveRequestDTO, len(rs))
	for i, r := range rs {
		dtos[i] = toRequestDTO(r)
	}
	return dtos
}
