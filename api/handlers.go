/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes the request workflow and the administration service via REST.
  Handles HTTP request/response, JSON serialization and input shape
  validation, then delegates to timeoff.RequestService, AdminService or
  AttendanceService.

ENDPOINTS:
  Employee (any role):
    GET    /api/employee/balance            Own balances for a year
    POST   /api/employee/leave              Apply for leave
    GET    /api/employee/leave              Own requests (status, year)
    GET    /api/employee/leave/{id}         One request
    DELETE /api/employee/leave/{id}         Cancel own request
    GET    /api/employee/holidays           Holidays at own location
    GET    /api/employee/working-days       Working days in a range
    GET    /api/employee/leave-types        Leave types
    POST   /api/employee/attendance/check-in   Start today's record
    POST   /api/employee/attendance/check-out  Close today's record
    GET    /api/employee/attendance         Own records and summary

  Manager (manager, admin):
    GET    /api/manager/team                Direct reports
    GET    /api/manager/leave/pending       Team requests awaiting decision
    GET    /api/manager/leave/history       Team requests (status, year)
    PUT    /api/manager/leave/{id}/approve  Approve
    PUT    /api/manager/leave/{id}/reject   Reject with optional reason
    POST   /api/manager/leave/apply         Apply on behalf of a report
    GET    /api/manager/team/{id}/balance   A report's balances
    GET    /api/manager/team/attendance     Reports' records (user_id filter)

  Admin (admin):
    GET    /api/admin/users                       List users (search, role, location_id)
    POST   /api/admin/users                       Create user
    PUT    /api/admin/users/{id}                  Update user
    DELETE /api/admin/users/{id}                  Deactivate user
    GET    /api/admin/locations                   List locations
    POST   /api/admin/locations                   Create location
    POST   /api/admin/locations/{id}/holidays     Replace holiday set
    GET    /api/admin/leave-types                 List leave types
    POST   /api/admin/leave-types                 Create leave type
    GET    /api/admin/holidays                    Holidays of a year
    POST   /api/admin/holidays                    Create holiday
    PUT    /api/admin/holidays/{id}               Update holiday
    DELETE /api/admin/holidays/{id}               Delete holiday
    POST   /api/admin/leave-balances/allocate     Set allocated days

REQUEST FLOW:
  1. Session and role come from middleware
  2. Decode and shape-validate the body
  3. Call the service with the caller's user id as actor
  4. Serialize response, or map the error (errors.go)

AUTHORIZATION:
  The route group's role gate is coarse. Whether a manager may act on a
  given request is decided by the service, so a manager of another team
  gets 403 from the service, not from the router.

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Session, rate limit, idempotency
  - server.go: Router setup
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Requests   *timeoff.RequestService
	Admin      *timeoff.AdminService
	Attendance *timeoff.AttendanceService
	Store      Pinger // optional

	logger   *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewHandler creates a handler over the services.
func NewHandler(requests *timeoff.RequestService, admin *timeoff.AdminService, attendance *timeoff.AttendanceService, store Pinger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		Requests:   requests,
		Admin:      admin,
		Attendance: attendance,
		Store:      store,
		logger:     logger.Named("api"),
		validate:   v,
		now:        time.Now,
	}
}

// Health reports liveness and store reachability.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			h.logger.Error("health check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, CodeInternal, "Store unavailable", "")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// GetBalance returns the caller's balances for a year (default: current).
// GET /api/employee/balance?year=
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	s := session(r)
	year, err := h.yearParam(r, h.now().Year())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	balances, err := h.Requests.Balances(r.Context(), s.UserID, s.UserID, year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"year": year, "balances": toBalanceDTOs(balances)})
}

// ApplyLeave creates a pending request for the caller.
// POST /api/employee/leave
func (h *Handler) ApplyLeave(w http.ResponseWriter, r *http.Request) {
	var req ApplyLeaveRequest
	if !h.bind(w, r, &req) {
		return
	}
	s := session(r)
	h.apply(w, r, s.UserID, s.UserID, req)
}

// ListMyLeave returns the caller's requests, newest first.
// GET /api/employee/leave?status=&year=
func (h *Handler) ListMyLeave(w http.ResponseWriter, r *http.Request) {
	year, err := h.yearParam(r, 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := timeoff.RequestStatus(r.URL.Query().Get("status"))

	requests, err := h.Requests.ListRequests(r.Context(), session(r).UserID, status, year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": toRequestDTOs(requests)})
}

// GetLeave returns one request visible to the caller.
// GET /api/employee/leave/{id}
func (h *Handler) GetLeave(w http.ResponseWriter, r *http.Request) {
	req, err := h.Requests.GetRequest(r.Context(), session(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// CancelLeave cancels one of the caller's own requests.
// DELETE /api/employee/leave/{id}
func (h *Handler) CancelLeave(w http.ResponseWriter, r *http.Request) {
	req, err := h.Requests.Cancel(r.Context(), chi.URLParam(r, "id"), session(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// GetHolidays lists holidays at the caller's location.
// GET /api/employee/holidays?year=
func (h *Handler) GetHolidays(w http.ResponseWriter, r *http.Request) {
	year, err := h.yearParam(r, h.now().Year())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	holidays, err := h.Requests.HolidaysFor(r.Context(), session(r).UserID, year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"year": year, "holidays": toHolidayDTOs(holidays)})
}

// GetWorkingDays previews what a date range would cost the caller.
// GET /api/employee/working-days?start=&end=
func (h *Handler) GetWorkingDays(w http.ResponseWriter, r *http.Request) {
	s := session(r)
	start, err := dateParam(r, "start")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	end, err := dateParam(r, "end")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	b, err := h.Requests.WorkingDaysBreakdown(r.Context(), s.UserID, start, end)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WorkingDaysDTO{
		StartDate:       start,
		EndDate:         end,
		LocationID:      b.LocationID,
		WorkingDays:     b.WorkingDays,
		NonWorkingDates: b.NonWorking.Sorted(),
	})
}

// ListLeaveTypes returns every leave type.
// GET /api/employee/leave-types, GET /api/admin/leave-types
func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Admin.ListLeaveTypes(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]LeaveTypeDTO, len(types))
	for i, t := range types {
		dtos[i] = toLeaveTypeDTO(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"leave_types": dtos})
}

// =============================================================================
// ATTENDANCE HANDLERS
// =============================================================================

// CheckIn starts the caller's record for today. The body is optional.
// POST /api/employee/attendance/check-in
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req AttendanceNotesRequest
	if r.ContentLength != 0 && !h.bind(w, r, &req) {
		return
	}
	rec, err := h.Attendance.CheckIn(r.Context(), session(r).UserID, req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAttendanceDTO(*rec))
}

// CheckOut closes the caller's record for today.
// POST /api/employee/attendance/check-out
func (h *Handler) CheckOut(w http.ResponseWriter, r *http.Request) {
	var req AttendanceNotesRequest
	if r.ContentLength != 0 && !h.bind(w, r, &req) {
		return
	}
	rec, err := h.Attendance.CheckOut(r.Context(), session(r).UserID, req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttendanceDTO(*rec))
}

// GetAttendance lists the caller's records with a summary.
// GET /api/employee/attendance?start=&end= or ?month=&year=
func (h *Handler) GetAttendance(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.periodParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	uid := session(r).UserID
	records, err := h.Attendance.History(r.Context(), uid, uid, start, end)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeAttendance(w, start, end, records)
}

// GetTeamAttendance lists the records of the caller's direct reports.
// GET /api/manager/team/attendance?start=&end=&user_id=
func (h *Handler) GetTeamAttendance(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.periodParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	records, err := h.Attendance.TeamAttendance(r.Context(), session(r).UserID, r.URL.Query().Get("user_id"), start, end)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeAttendance(w, start, end, records)
}

func writeAttendance(w http.ResponseWriter, start, end generic.Date, records []timeoff.AttendanceRecord) {
	dtos := make([]AttendanceRecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toAttendanceDTO(rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"start_date": start,
		"end_date":   end,
		"records":    dtos,
		"summary":    toAttendanceSummaryDTO(timeoff.Summarize(records)),
	})
}

// =============================================================================
// MANAGER HANDLERS
// =============================================================================

// GetTeam lists the caller's active direct reports.
// GET /api/manager/team
func (h *Handler) GetTeam(w http.ResponseWriter, r *http.Request) {
	team, err := h.Requests.Team(r.Context(), session(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]UserDTO, len(team))
	for i, u := range team {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, map[string]any{"team_members": dtos})
}

// ListPendingLeave lists team requests awaiting a decision.
// GET /api/manager/leave/pending
func (h *Handler) ListPendingLeave(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Requests.TeamRequests(r.Context(), session(r).UserID, timeoff.StatusPending, 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": toRequestDTOs(requests)})
}

// ListTeamLeave lists team requests with optional filters.
// GET /api/manager/leave/history?status=&year=
func (h *Handler) ListTeamLeave(w http.ResponseWriter, r *http.Request) {
	year, err := h.yearParam(r, 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := timeoff.RequestStatus(r.URL.Query().Get("status"))

	requests, err := h.Requests.TeamRequests(r.Context(), session(r).UserID, status, year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": toRequestDTOs(requests)})
}

// ApproveLeave approves a pending request.
// PUT /api/manager/leave/{id}/approve
func (h *Handler) ApproveLeave(w http.ResponseWriter, r *http.Request) {
	req, err := h.Requests.Approve(r.Context(), chi.URLParam(r, "id"), session(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// RejectLeave rejects a pending request. The body is optional.
// PUT /api/manager/leave/{id}/reject
func (h *Handler) RejectLeave(w http.ResponseWriter, r *http.Request) {
	var body RejectLeaveRequest
	if r.ContentLength != 0 && !h.bind(w, r, &body) {
		return
	}
	req, err := h.Requests.Reject(r.Context(), chi.URLParam(r, "id"), session(r).UserID, body.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// ApplyOnBehalf applies for leave for a direct report.
// POST /api/manager/leave/apply
func (h *Handler) ApplyOnBehalf(w http.ResponseWriter, r *http.Request) {
	var req ApplyOnBehalfRequest
	if !h.bind(w, r, &req) {
		return
	}
	h.apply(w, r, req.UserID, session(r).UserID, req.ApplyLeaveRequest)
}

// GetMemberBalance returns a report's balances.
// GET /api/manager/team/{id}/balance?year=
func (h *Handler) GetMemberBalance(w http.ResponseWriter, r *http.Request) {
	year, err := h.yearParam(r, h.now().Year())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	userID := chi.URLParam(r, "id")
	balances, err := h.Requests.Balances(r.Context(), session(r).UserID, userID, year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "year": year, "balances": toBalanceDTOs(balances)})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateUser registers a user.
// POST /api/admin/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !h.bind(w, r, &req) {
		return
	}
	u, err := h.Admin.CreateUser(r.Context(), timeoff.User{
		Email:      req.Email,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Role:       timeoff.Role(req.Role),
		ManagerID:  req.ManagerID,
		LocationID: req.LocationID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(*u))
}

// ListUsers returns users, inactive ones included.
// GET /api/admin/users?search=&role=&location_id=
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, err := h.Admin.ListUsers(r.Context(), timeoff.UserFilter{
		Search:     q.Get("search"),
		Role:       timeoff.Role(q.Get("role")),
		LocationID: q.Get("location_id"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": dtos})
}

// UpdateUser changes the fields present in the body. "manager_id": ""
// removes the manager.
// PUT /api/admin/users/{id}
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if !h.bind(w, r, &req) {
		return
	}
	upd := timeoff.UserUpdate{
		Email:      req.Email,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		ManagerID:  req.ManagerID,
		LocationID: req.LocationID,
		IsActive:   req.IsActive,
	}
	if req.Role != nil {
		role := timeoff.Role(*req.Role)
		upd.Role = &role
	}
	u, err := h.Admin.UpdateUser(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*u))
}

// DeactivateUser stops a user from acting. Their rows are kept.
// DELETE /api/admin/users/{id}
func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == session(r).UserID {
		h.fail(w, r, &generic.ValidationError{Field: "id", Message: "cannot deactivate yourself"})
		return
	}
	u, err := h.Admin.DeactivateUser(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*u))
}

// ListLocations returns every location.
// GET /api/admin/locations
func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.Admin.ListLocations(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]LocationDTO, len(locations))
	for i, l := range locations {
		dtos[i] = toLocationDTO(l)
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": dtos})
}

// CreateLocation adds a location.
// POST /api/admin/locations
func (h *Handler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var req CreateLocationRequest
	if !h.bind(w, r, &req) {
		return
	}
	l, err := h.Admin.CreateLocation(r.Context(), timeoff.Location{
		Name:     req.Name,
		Country:  req.Country,
		State:    req.State,
		City:     req.City,
		Timezone: req.Timezone,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLocationDTO(*l))
}

// AssignHolidays replaces the holiday set of a location.
// POST /api/admin/locations/{id}/holidays
func (h *Handler) AssignHolidays(w http.ResponseWriter, r *http.Request) {
	var req AssignHolidaysRequest
	if !h.bind(w, r, &req) {
		return
	}
	locationID := chi.URLParam(r, "id")
	if err := h.Admin.AssignHolidays(r.Context(), locationID, req.HolidayIDs); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"location_id": locationID, "holiday_ids": req.HolidayIDs})
}

// CreateLeaveType adds a leave type.
// POST /api/admin/leave-types
func (h *Handler) CreateLeaveType(w http.ResponseWriter, r *http.Request) {
	var req CreateLeaveTypeRequest
	if !h.bind(w, r, &req) {
		return
	}
	t, err := h.Admin.CreateLeaveType(r.Context(), timeoff.LeaveType{
		Name:              req.Name,
		Code:              req.Code,
		RequiresApproval:  req.RequiresApproval,
		MaxDaysPerRequest: req.MaxDaysPerRequest,
		Description:       req.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaveTypeDTO(*t))
}

// ListHolidays returns every holiday of a year across locations.
// GET /api/admin/holidays?year=
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	year, err := h.yearParam(r, h.now().Year())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	holidays, err := h.Admin.ListHolidays(r.Context(), year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"year": year, "holidays": toHolidayDTOs(holidays)})
}

// CreateHoliday adds a holiday and assigns it to locations.
// POST /api/admin/holidays
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req CreateHolidayRequest
	if !h.bind(w, r, &req) {
		return
	}
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		h.fail(w, r, &generic.ValidationError{Field: "date", Message: err.Error()})
		return
	}
	holiday, err := h.Admin.CreateHoliday(r.Context(), timeoff.Holiday{
		Name:        req.Name,
		Date:        date,
		IsMandatory: req.IsMandatory,
		Description: req.Description,
		LocationIDs: req.LocationIDs,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toHolidayDTOs([]timeoff.Holiday{*holiday})[0])
}

// UpdateHoliday changes the fields present in the body.
// PUT /api/admin/holidays/{id}
func (h *Handler) UpdateHoliday(w http.ResponseWriter, r *http.Request) {
	var req UpdateHolidayRequest
	if !h.bind(w, r, &req) {
		return
	}
	upd := timeoff.HolidayUpdate{
		Name:        req.Name,
		IsMandatory: req.IsMandatory,
		Description: req.Description,
	}
	if req.Date != nil {
		date, err := generic.ParseDate(*req.Date)
		if err != nil {
			h.fail(w, r, &generic.ValidationError{Field: "date", Message: err.Error()})
			return
		}
		upd.Date = &date
	}
	holiday, err := h.Admin.UpdateHoliday(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHolidayDTOs([]timeoff.Holiday{*holiday})[0])
}

// DeleteHoliday removes a holiday from every location.
// DELETE /api/admin/holidays/{id}
func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	if err := h.Admin.DeleteHoliday(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AllocateBalance sets the allocated days of one ledger row.
// POST /api/admin/leave-balances/allocate
func (h *Handler) AllocateBalance(w http.ResponseWriter, r *http.Request) {
	var req AllocateBalanceRequest
	if !h.bind(w, r, &req) {
		return
	}
	key := timeoff.BalanceKey{UserID: req.UserID, LeaveTypeID: req.LeaveTypeID, Year: req.Year}
	b, err := h.Admin.AllocateBalance(r.Context(), key, req.Allocated)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTOs([]timeoff.LeaveBalance{*b})[0])
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) apply(w http.ResponseWriter, r *http.Request, userID, actorID string, req ApplyLeaveRequest) {
	start, err := generic.ParseDate(req.StartDate)
	if err != nil {
		h.fail(w, r, &generic.ValidationError{Field: "start_date", Message: err.Error()})
		return
	}
	end, err := generic.ParseDate(req.EndDate)
	if err != nil {
		h.fail(w, r, &generic.ValidationError{Field: "end_date", Message: err.Error()})
		return
	}

	created, err := h.Requests.Apply(r.Context(), timeoff.ApplyInput{
		UserID:      userID,
		LeaveTypeID: req.LeaveTypeID,
		StartDate:   start,
		EndDate:     end,
		Reason:      req.Reason,
		AppliedByID: actorID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(*created))
}

// bind decodes and validates the JSON body, writing a 400 on failure.
func (h *Handler) bind(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, "Invalid request body", err.Error())
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		h.fail(w, r, validationError(err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeServiceError(w, r, h.logger, err)
}

// session returns the caller. Routes using it are mounted behind
// Authenticate, so the session is always present.
func session(r *http.Request) Session {
	s, _ := SessionFrom(r.Context())
	return s
}

func (h *Handler) yearParam(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("year")
	if raw == "" {
		return def, nil
	}
	year, err := strconv.Atoi(raw)
	if err != nil || year < 1900 || year > 9999 {
		return 0, &generic.ValidationError{Field: "year", Message: "must be a four-digit year"}
	}
	return year, nil
}

// periodParams reads start and end, or a month of a year. Without either the
// current month is used.
func (h *Handler) periodParams(r *http.Request) (generic.Date, generic.Date, error) {
	q := r.URL.Query()
	if q.Get("start") != "" || q.Get("end") != "" {
		start, err := dateParam(r, "start")
		if err != nil {
			return generic.Date{}, generic.Date{}, err
		}
		end, err := dateParam(r, "end")
		if err != nil {
			return generic.Date{}, generic.Date{}, err
		}
		return start, end, nil
	}

	now := h.now().UTC()
	year, err := h.yearParam(r, now.Year())
	if err != nil {
		return generic.Date{}, generic.Date{}, err
	}
	month := now.Month()
	if raw := q.Get("month"); raw != "" {
		m, err := strconv.Atoi(raw)
		if err != nil || m < 1 || m > 12 {
			return generic.Date{}, generic.Date{}, &generic.ValidationError{Field: "month", Message: "must be between 1 and 12"}
		}
		month = time.Month(m)
	}
	first := generic.NewDate(year, month, 1)
	return first, generic.NewDate(year, month+1, 1).AddDays(-1), nil
}

func dateParam(r *http.Request, name string) (generic.Date, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return generic.Date{}, &generic.ValidationError{Field: name, Message: "is required"}
	}
	d, err := generic.ParseDate(raw)
	if err != nil {
		return generic.Date{}, &generic.ValidationError{Field: name, Message: err.Error()}
	}
	return d, nil
}
