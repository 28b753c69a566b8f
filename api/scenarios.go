/*
scenarios.go - Demo scenario loaders for development and demonstrations

PURPOSE:

	Populates an empty store with a realistic organisation so the API can
	be explored without hand-crafting users, locations and balances. Every
	scenario goes through AdminService and RequestService, so the seeded
	data obeys the same rules as data created over HTTP.

AVAILABLE SCENARIOS:

	small-team:   One office, a manager with two reports, a pending and an
	              approved request
	two-offices:  Two locations with different holiday calendars under one
	              manager, showing location-specific working days

HOW SCENARIOS WORK:
 1. Refuse if the scenario's first location already exists
 2. Create locations and holidays for the requested year
 3. Create leave types and users (admin, manager, employees)
 4. Allocate balances
 5. Apply for (and decide on) a few requests

USAGE VIA API (development only, see Options.EnableScenarios):

	GET  /api/admin/scenarios
	POST /api/admin/scenarios/load
	{"scenario_id": "small-team", "year": 2025}

USAGE AT STARTUP:

	./server -scenario=small-team

NOTE:

	Scenarios never reset the store. Loading one twice returns ErrDuplicate.

SEE ALSO:
  - timeoff/admin.go: Administration operations used by the loaders
  - cmd/server/main.go: -scenario flag
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SeededUser is one user created by a scenario.
type SeededUser struct {
	ID         string       `json:"id"`
	Email      string       `json:"email"`
	Role       timeoff.Role `json:"role"`
	LocationID string       `json:"location_id"`
}

// ScenarioResult summarizes what a scenario created.
type ScenarioResult struct {
	ScenarioID string       `json:"scenario_id"`
	Year       int          `json:"year"`
	Users      []SeededUser `json:"users"`
	Requests   int          `json:"requests"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "small-team",
		Name:        "Small Team",
		Description: "One office, a manager with two reports, one pending and one approved request",
	},
	{
		ID:          "two-offices",
		Name:        "Two Offices",
		Description: "Reports in New York and Lisbon with different holiday calendars",
	},
}

// ListScenarios returns available scenarios.
// GET /api/admin/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": scenarios})
}

// LoadScenario loads a predefined scenario. Year defaults to the current one.
// POST /api/admin/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id" validate:"required"`
		Year       int    `json:"year" validate:"omitempty,min=1900,max=9999"`
	}
	if !h.bind(w, r, &req) {
		return
	}
	if req.Year == 0 {
		req.Year = h.now().Year()
	}

	result, err := LoadScenario(r.Context(), h.Admin, h.Requests, req.ScenarioID, req.Year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// LoadScenario seeds the store with the named scenario for a year.
func LoadScenario(ctx context.Context, admin *timeoff.AdminService, requests *timeoff.RequestService, id string, year int) (*ScenarioResult, error) {
	s := &seeder{ctx: ctx, admin: admin, requests: requests, year: year, result: &ScenarioResult{ScenarioID: id, Year: year}}

	var err error
	switch id {
	case "small-team":
		err = s.smallTeam()
	case "two-offices":
		err = s.twoOffices()
	default:
		return nil, &generic.ValidationError{Field: "scenario_id", Message: fmt.Sprintf("unknown scenario %q", id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load scenario %s: %w", id, err)
	}
	return s.result, nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (s *seeder) smallTeam() error {
	hq, err := s.location("Headquarters", "US", "America/New_York")
	if err != nil {
		return err
	}
	for _, h := range []struct {
		name string
		date generic.Date
	}{
		{"New Year's Day", generic.NewDate(s.year, time.January, 1)},
		{"Independence Day", generic.NewDate(s.year, time.July, 4)},
		{"Christmas Day", generic.NewDate(s.year, time.December, 25)},
	} {
		if err := s.holiday(h.name, h.date, hq.ID); err != nil {
			return err
		}
	}
	annual, sick, err := s.leaveTypes()
	if err != nil {
		return err
	}

	hr, err := s.user("hannah.hr@example.com", "Hannah", "Reyes", timeoff.RoleAdmin, nil, hq.ID)
	if err != nil {
		return err
	}
	mark, err := s.user("mark.manager@example.com", "Mark", "Ortiz", timeoff.RoleManager, nil, hq.ID)
	if err != nil {
		return err
	}
	alice, err := s.user("alice@example.com", "Alice", "Johnson", timeoff.RoleEmployee, &mark.ID, hq.ID)
	if err != nil {
		return err
	}
	bob, err := s.user("bob@example.com", "Bob", "Smith", timeoff.RoleEmployee, &mark.ID, hq.ID)
	if err != nil {
		return err
	}

	for _, u := range []*timeoff.User{hr, mark, alice, bob} {
		if err := s.allocate(u.ID, annual.ID, 20); err != nil {
			return err
		}
		if err := s.allocate(u.ID, sick.ID, 10); err != nil {
			return err
		}
	}

	// Alice waits on a week in June; Bob's single day in May is approved.
	june := firstMonday(s.year, time.June)
	if _, err := s.apply(alice.ID, alice.ID, annual.ID, june, june.AddDays(4), "Family trip"); err != nil {
		return err
	}
	may := firstMonday(s.year, time.May)
	req, err := s.apply(bob.ID, bob.ID, annual.ID, may, may, "Moving day")
	if err != nil {
		return err
	}
	if _, err := s.requests.Approve(s.ctx, req.ID, mark.ID); err != nil {
		return err
	}
	return nil
}

func (s *seeder) twoOffices() error {
	nyc, err := s.location("New York", "US", "America/New_York")
	if err != nil {
		return err
	}
	lisbon, err := s.location("Lisbon", "PT", "Europe/Lisbon")
	if err != nil {
		return err
	}
	if err := s.holiday("Independence Day", generic.NewDate(s.year, time.July, 4), nyc.ID); err != nil {
		return err
	}
	if err := s.holiday("Liberty Day", generic.NewDate(s.year, time.April, 25), lisbon.ID); err != nil {
		return err
	}
	if err := s.holiday("Portugal Day", generic.NewDate(s.year, time.June, 10), lisbon.ID); err != nil {
		return err
	}
	annual, _, err := s.leaveTypes()
	if err != nil {
		return err
	}

	if _, err := s.user("ops.admin@example.com", "Olga", "Pereira", timeoff.RoleAdmin, nil, nyc.ID); err != nil {
		return err
	}
	lead, err := s.user("lead@example.com", "Lena", "Park", timeoff.RoleManager, nil, nyc.ID)
	if err != nil {
		return err
	}
	sam, err := s.user("sam@example.com", "Sam", "Carter", timeoff.RoleEmployee, &lead.ID, nyc.ID)
	if err != nil {
		return err
	}
	rita, err := s.user("rita@example.com", "Rita", "Silva", timeoff.RoleEmployee, &lead.ID, lisbon.ID)
	if err != nil {
		return err
	}
	for _, u := range []*timeoff.User{lead, sam, rita} {
		if err := s.allocate(u.ID, annual.ID, 22); err != nil {
			return err
		}
	}

	// The manager books the week of Portugal Day for both reports.
	week := mondayOnOrBefore(generic.NewDate(s.year, time.June, 10))
	if _, err := s.apply(sam.ID, lead.ID, annual.ID, week, week.AddDays(4), "Team offsite"); err != nil {
		return err
	}
	if _, err := s.apply(rita.ID, lead.ID, annual.ID, week, week.AddDays(4), "Team offsite"); err != nil {
		return err
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type seeder struct {
	ctx      context.Context
	admin    *timeoff.AdminService
	requests *timeoff.RequestService
	year     int
	result   *ScenarioResult
}

// location creates a location, refusing when one with that name exists.
func (s *seeder) location(name, country, tz string) (*timeoff.Location, error) {
	existing, err := s.admin.ListLocations(s.ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range existing {
		if l.Name == name {
			return nil, fmt.Errorf("location %q already exists: %w", name, generic.ErrDuplicate)
		}
	}
	return s.admin.CreateLocation(s.ctx, timeoff.Location{Name: name, Country: country, Timezone: tz})
}

func (s *seeder) holiday(name string, date generic.Date, locationIDs ...string) error {
	_, err := s.admin.CreateHoliday(s.ctx, timeoff.Holiday{Name: name, Date: date, IsMandatory: true, LocationIDs: locationIDs})
	return err
}

// leaveTypes returns the annual and sick leave types, creating them on the
// first scenario loaded into the store.
func (s *seeder) leaveTypes() (*timeoff.LeaveType, *timeoff.LeaveType, error) {
	existing, err := s.admin.ListLeaveTypes(s.ctx)
	if err != nil {
		return nil, nil, err
	}
	byCode := make(map[string]timeoff.LeaveType, len(existing))
	for _, t := range existing {
		byCode[t.Code] = t
	}

	five := 5
	wanted := []timeoff.LeaveType{
		{Name: "Annual Leave", Code: "AL", RequiresApproval: true, Description: "Paid vacation"},
		{Name: "Sick Leave", Code: "SL", MaxDaysPerRequest: &five, Description: "Short illness"},
	}
	out := make([]*timeoff.LeaveType, len(wanted))
	for i, t := range wanted {
		if found, ok := byCode[t.Code]; ok {
			out[i] = &found
			continue
		}
		created, err := s.admin.CreateLeaveType(s.ctx, t)
		if err != nil {
			return nil, nil, err
		}
		out[i] = created
	}
	return out[0], out[1], nil
}

func (s *seeder) user(email, first, last string, role timeoff.Role, managerID *string, locationID string) (*timeoff.User, error) {
	u, err := s.admin.CreateUser(s.ctx, timeoff.User{
		Email: email, FirstName: first, LastName: last, Role: role, ManagerID: managerID, LocationID: locationID,
	})
	if err != nil {
		return nil, err
	}
	s.result.Users = append(s.result.Users, SeededUser{ID: u.ID, Email: u.Email, Role: u.Role, LocationID: u.LocationID})
	return u, nil
}

func (s *seeder) allocate(userID, leaveTypeID string, days int64) error {
	key := timeoff.BalanceKey{UserID: userID, LeaveTypeID: leaveTypeID, Year: s.year}
	_, err := s.admin.AllocateBalance(s.ctx, key, decimal.NewFromInt(days))
	return err
}

func (s *seeder) apply(userID, actorID, leaveTypeID string, start, end generic.Date, reason string) (*timeoff.LeaveRequest, error) {
	req, err := s.requests.Apply(s.ctx, timeoff.ApplyInput{
		UserID: userID, LeaveTypeID: leaveTypeID, StartDate: start, EndDate: end, Reason: reason, AppliedByID: actorID,
	})
	if err != nil {
		return nil, err
	}
	s.result.Requests++
	return req, nil
}

func firstMonday(year int, month time.Month) generic.Date {
	d := generic.NewDate(year, month, 1)
	for d.Weekday() != time.Monday {
		d = d.AddDays(1)
	}
	return d
}

func mondayOnOrBefore(d generic.Date) generic.Date {
	for d.Weekday() != time.Monday {
		d = d.AddDays(-1)
	}
	return d
}
