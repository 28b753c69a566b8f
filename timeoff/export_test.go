package timeoff

import "time"

// SetClock replaces the service clock in tests.
func (s *AttendanceService) SetClock(now func() time.Time) { s.now = now }
