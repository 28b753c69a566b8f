// Package memory provides an in-memory timeoff.Backend for tests and demos.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory keeps every table in maps guarded by one RWMutex. WithTx holds the
// write lock for the whole callback, so transactions are fully serialized.
type Memory struct {
	mu sync.RWMutex
	st *state
}

var _ timeoff.Backend = (*Memory)(nil)

type state struct {
	users      map[string]timeoff.User
	locations  map[string]timeoff.Location
	leaveTypes map[string]timeoff.LeaveType
	holidays   map[string]timeoff.Holiday
	assigned   map[string]map[string]struct{} // location id -> holiday ids
	balances   map[timeoff.BalanceKey]timeoff.LeaveBalance
	requests   map[string]timeoff.LeaveRequest
	attendance map[string]timeoff.AttendanceRecord
}

func New() *Memory {
	return &Memory{st: newState()}
}

func newState() *state {
	return &state{
		users:      make(map[string]timeoff.User),
		locations:  make(map[string]timeoff.Location),
		leaveTypes: make(map[string]timeoff.LeaveType),
		holidays:   make(map[string]timeoff.Holiday),
		assigned:   make(map[string]map[string]struct{}),
		balances:   make(map[timeoff.BalanceKey]timeoff.LeaveBalance),
		requests:   make(map[string]timeoff.LeaveRequest),
		attendance: make(map[string]timeoff.AttendanceRecord),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(timeoff.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&view{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.locations {
		c.locations[k] = v
	}
	for k, v := range s.leaveTypes {
		c.leaveTypes[k] = v
	}
	for k, v := range s.holidays {
		c.holidays[k] = v
	}
	for loc, ids := range s.assigned {
		set := make(map[string]struct{}, len(ids))
		for id := range ids {
			set[id] = struct{}{}
		}
		c.assigned[loc] = set
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.attendance {
		c.attendance[k] = v
	}
	return c
}

// =============================================================================
// STORE - Non-transactional entry points delegate to a view under the lock
// =============================================================================

func (m *Memory) read() *view {
	return &view{st: m.st}
}

func (m *Memory) GetUser(ctx context.Context, id string) (*timeoff.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetUser(ctx, id)
}

func (m *Memory) GetLocation(ctx context.Context, id string) (*timeoff.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetLocation(ctx, id)
}

func (m *Memory) GetLeaveType(ctx context.Context, id string) (*timeoff.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetLeaveType(ctx, id)
}

func (m *Memory) HolidaysForLocation(ctx context.Context, locationID string, from, to generic.Date) ([]timeoff.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().HolidaysForLocation(ctx, locationID, from, to)
}

func (m *Memory) LockBalance(ctx context.Context, key timeoff.BalanceKey) (*timeoff.LeaveBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().LockBalance(ctx, key)
}

func (m *Memory) UpdateBalance(ctx context.Context, b *timeoff.LeaveBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpdateBalance(ctx, b)
}

func (m *Memory) LockRequest(ctx context.Context, id string) (*timeoff.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().LockRequest(ctx, id)
}

func (m *Memory) InsertRequest(ctx context.Context, r *timeoff.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertRequest(ctx, r)
}

func (m *Memory) UpdateRequest(ctx context.Context, r *timeoff.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpdateRequest(ctx, r)
}

// =============================================================================
// VIEW - Lock-free access to the state, used inside WithTx
// =============================================================================

type view struct {
	st *state
}

func (v *view) GetUser(_ context.Context, id string) (*timeoff.User, error) {
	u, ok := v.st.users[id]
	if !ok {
		return nil, nil
	}
	u.ManagerID = copyString(u.ManagerID)
	return &u, nil
}

func (v *view) GetLocation(_ context.Context, id string) (*timeoff.Location, error) {
	l, ok := v.st.locations[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (v *view) GetLeaveType(_ context.Context, id string) (*timeoff.LeaveType, error) {
	t, ok := v.st.leaveTypes[id]
	if !ok {
		return nil, nil
	}
	t.MaxDaysPerRequest = copyInt(t.MaxDaysPerRequest)
	return &t, nil
}

func (v *view) HolidaysForLocation(_ context.Context, locationID string, from, to generic.Date) ([]timeoff.Holiday, error) {
	var out []timeoff.Holiday
	for id := range v.st.assigned[locationID] {
		h := v.st.holidays[id]
		if h.Date.Before(from) || h.Date.After(to) {
			continue
		}
		out = append(out, v.st.withLocations(h))
	}
	sortHolidays(out)
	return out, nil
}

func (v *view) LockBalance(_ context.Context, key timeoff.BalanceKey) (*timeoff.LeaveBalance, error) {
	b, ok := v.st.balances[key]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (v *view) UpdateBalance(_ context.Context, b *timeoff.LeaveBalance) error {
	stored, ok := v.st.balances[b.Key()]
	if !ok {
		return &generic.NotFoundError{Entity: "leave_balance", ID: b.ID}
	}
	if stored.Version != b.Version {
		return generic.ErrConcurrentModification
	}
	b.Version++
	v.st.balances[b.Key()] = *b
	return nil
}

func (v *view) LockRequest(_ context.Context, id string) (*timeoff.LeaveRequest, error) {
	r, ok := v.st.requests[id]
	if !ok {
		return nil, nil
	}
	r = cloneRequest(r)
	return &r, nil
}

func (v *view) InsertRequest(_ context.Context, r *timeoff.LeaveRequest) error {
	if _, ok := v.st.requests[r.ID]; ok {
		return fmt.Errorf("%w: leave request %s", generic.ErrDuplicate, r.ID)
	}
	v.st.requests[r.ID] = cloneRequest(*r)
	return nil
}

func (v *view) UpdateRequest(_ context.Context, r *timeoff.LeaveRequest) error {
	if _, ok := v.st.requests[r.ID]; !ok {
		return &generic.NotFoundError{Entity: "leave_request", ID: r.ID}
	}
	v.st.requests[r.ID] = cloneRequest(*r)
	return nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) SaveUser(_ context.Context, u timeoff.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, other := range m.st.users {
		if other.ID != u.ID && strings.EqualFold(other.Email, u.Email) {
			return fmt.Errorf("%w: email %s", generic.ErrDuplicate, u.Email)
		}
	}
	u.ManagerID = copyString(u.ManagerID)
	m.st.users[u.ID] = u
	return nil
}

// ListTeam returns the active direct reports of managerID.
func (m *Memory) ListTeam(_ context.Context, managerID string) ([]timeoff.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []timeoff.User{}
	for _, u := range m.st.users {
		if u.IsActive && u.ReportsTo(managerID) {
			u.ManagerID = copyString(u.ManagerID)
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		return out[i].FirstName < out[j].FirstName
	})
	return out, nil
}

// ListUsers returns matching users, newest first.
func (m *Memory) ListUsers(_ context.Context, f timeoff.UserFilter) ([]timeoff.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	search := strings.ToLower(f.Search)
	out := []timeoff.User{}
	for _, u := range m.st.users {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if f.LocationID != "" && u.LocationID != f.LocationID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(u.Email), search) &&
			!strings.Contains(strings.ToLower(u.FirstName), search) &&
			!strings.Contains(strings.ToLower(u.LastName), search) {
			continue
		}
		u.ManagerID = copyString(u.ManagerID)
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) SaveLocation(_ context.Context, l timeoff.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.locations[l.ID] = l
	return nil
}

func (m *Memory) ListLocations(_ context.Context) ([]timeoff.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]timeoff.Location, 0, len(m.st.locations))
	for _, l := range m.st.locations {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) SaveLeaveType(_ context.Context, t timeoff.LeaveType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, other := range m.st.leaveTypes {
		if other.ID != t.ID && other.Code == t.Code {
			return fmt.Errorf("%w: leave type code %s", generic.ErrDuplicate, t.Code)
		}
	}
	t.MaxDaysPerRequest = copyInt(t.MaxDaysPerRequest)
	m.st.leaveTypes[t.ID] = t
	return nil
}

func (m *Memory) ListLeaveTypes(_ context.Context) ([]timeoff.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]timeoff.LeaveType, 0, len(m.st.leaveTypes))
	for _, t := range m.st.leaveTypes {
		t.MaxDaysPerRequest = copyInt(t.MaxDaysPerRequest)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SaveHoliday stores the holiday and adds it to each location in
// h.LocationIDs.
func (m *Memory) SaveHoliday(_ context.Context, h timeoff.Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, locID := range h.LocationIDs {
		set, ok := m.st.assigned[locID]
		if !ok {
			set = make(map[string]struct{})
			m.st.assigned[locID] = set
		}
		set[h.ID] = struct{}{}
	}
	h.LocationIDs = nil
	m.st.holidays[h.ID] = h
	return nil
}

func (m *Memory) DeleteHoliday(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.st.holidays[id]; !ok {
		return &generic.NotFoundError{Entity: "holiday", ID: id}
	}
	delete(m.st.holidays, id)
	for _, set := range m.st.assigned {
		delete(set, id)
	}
	return nil
}

func (m *Memory) ListHolidays(_ context.Context, year int) ([]timeoff.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []timeoff.Holiday{}
	for _, h := range m.st.holidays {
		if year == 0 || h.Date.Year() == year {
			out = append(out, m.st.withLocations(h))
		}
	}
	sortHolidays(out)
	return out, nil
}

func (m *Memory) AssignHolidays(_ context.Context, locationID string, holidayIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := make(map[string]struct{}, len(holidayIDs))
	for _, id := range holidayIDs {
		if _, ok := m.st.holidays[id]; !ok {
			return &generic.NotFoundError{Entity: "holiday", ID: id}
		}
		set[id] = struct{}{}
	}
	m.st.assigned[locationID] = set
	return nil
}

func (m *Memory) AllocateBalance(_ context.Context, key timeoff.BalanceKey, allocated decimal.Decimal) (*timeoff.LeaveBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	b, ok := m.st.balances[key]
	if !ok {
		b = timeoff.LeaveBalance{
			ID:          uuid.NewString(),
			UserID:      key.UserID,
			LeaveTypeID: key.LeaveTypeID,
			Year:        key.Year,
			Used:        decimal.Zero,
			Pending:     decimal.Zero,
			CreatedAt:   now,
		}
	} else if allocated.LessThan(b.Used.Add(b.Pending)) {
		return nil, &generic.ValidationError{
			Field:   "allocated",
			Message: fmt.Sprintf("cannot be less than used plus pending (%s)", b.Used.Add(b.Pending)),
		}
	}
	b.Allocated = allocated
	b.Version++
	b.UpdatedAt = now
	m.st.balances[key] = b
	return &b, nil
}

// ListBalances returns the user's balances; year 0 means every year.
func (m *Memory) ListBalances(_ context.Context, userID string, year int) ([]timeoff.LeaveBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []timeoff.LeaveBalance{}
	for k, b := range m.st.balances {
		if k.UserID == userID && (year == 0 || k.Year == year) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].LeaveTypeID < out[j].LeaveTypeID
	})
	return out, nil
}

func (m *Memory) GetRequest(ctx context.Context, id string) (*timeoff.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().LockRequest(ctx, id)
}

// ListRequests returns matching requests, newest first.
func (m *Memory) ListRequests(_ context.Context, f timeoff.RequestFilter) ([]timeoff.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make(map[string]bool, len(f.UserIDs))
	for _, id := range f.UserIDs {
		users[id] = true
	}

	out := []timeoff.LeaveRequest{}
	for _, r := range m.st.requests {
		if len(users) > 0 && !users[r.UserID] {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.Year != 0 && r.StartDate.Year() != f.Year {
			continue
		}
		out = append(out, cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func (m *Memory) GetAttendance(_ context.Context, userID string, day generic.Date) (*timeoff.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.st.attendance {
		if r.UserID == userID && r.Date.Equal(day) {
			r = cloneAttendance(r)
			return &r, nil
		}
	}
	return nil, nil
}

func (m *Memory) SaveAttendance(_ context.Context, r timeoff.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, other := range m.st.attendance {
		if other.ID != r.ID && other.UserID == r.UserID && other.Date.Equal(r.Date) {
			return fmt.Errorf("%w: attendance of %s on %s", generic.ErrDuplicate, r.UserID, r.Date)
		}
	}
	m.st.attendance[r.ID] = cloneAttendance(r)
	return nil
}

func (m *Memory) ListAttendance(_ context.Context, f timeoff.AttendanceFilter) ([]timeoff.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make(map[string]bool, len(f.UserIDs))
	for _, id := range f.UserIDs {
		users[id] = true
	}

	out := []timeoff.AttendanceRecord{}
	for _, r := range m.st.attendance {
		if len(users) > 0 && !users[r.UserID] {
			continue
		}
		if (!f.From.IsZero() && r.Date.Before(f.From)) || (!f.To.IsZero() && r.Date.After(f.To)) {
			continue
		}
		out = append(out, cloneAttendance(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func cloneAttendance(r timeoff.AttendanceRecord) timeoff.AttendanceRecord {
	r.CheckIn = copyTime(r.CheckIn)
	r.CheckOut = copyTime(r.CheckOut)
	return r
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (s *state) withLocations(h timeoff.Holiday) timeoff.Holiday {
	h.LocationIDs = []string{}
	for loc, set := range s.assigned {
		if _, ok := set[h.ID]; ok {
			h.LocationIDs = append(h.LocationIDs, loc)
		}
	}
	sort.Strings(h.LocationIDs)
	return h
}

func sortHolidays(hs []timeoff.Holiday) {
	sort.Slice(hs, func(i, j int) bool {
		if !hs[i].Date.Equal(hs[j].Date) {
			return hs[i].Date.Before(hs[j].Date)
		}
		return hs[i].Name < hs[j].Name
	})
}

func cloneRequest(r timeoff.LeaveRequest) timeoff.LeaveRequest {
	r.ApprovedByID = copyString(r.ApprovedByID)
	r.RejectionReason = copyString(r.RejectionReason)
	if r.ApprovedAt != nil {
		t := *r.ApprovedAt
		r.ApprovedAt = &t
	}
	return r
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
