package attendance

import (
	"math"
	"time"

	"github.com/schoolhub/portal/internal/school"
)

// DateLayout is the calendar date format used in forms and requests.
const DateLayout = "2006-01-02"

// Percentage is the share of days attended, counting late as attended.
// A student with no history is at 100. Any percentage the backend sends
// alongside the history is ignored.
func Percentage(history []school.AttendanceEntry) int {
	if len(history) == 0 {
		return 100
	}
	attended := 0
	for _, e := range history {
		if e.Status == school.Present || e.Status == school.Late {
			attended++
		}
	}
	return int(math.Round(100 * float64(attended) / float64(len(history))))
}

// Summary counts marks by status.
type Summary struct {
	Present int
	Absent  int
	Late    int
	Excused int
	Total   int
}

// Count returns the tally for one status.
func (s Summary) Count(status school.AttendanceStatus) int {
	switch status {
	case school.Present:
		return s.Present
	case school.Absent:
		return s.Absent
	case school.Late:
		return s.Late
	case school.Excused:
		return s.Excused
	}
	return 0
}

// Summarize tallies statuses. Unknown values count toward Total only.
func Summarize(statuses []school.AttendanceStatus) Summary {
	var s Summary
	for _, st := range statuses {
		switch st {
		case school.Present:
			s.Present++
		case school.Absent:
			s.Absent++
		case school.Late:
			s.Late++
		case school.Excused:
			s.Excused++
		}
		s.Total++
	}
	return s
}

// SummarizeHistory tallies a dated history.
func SummarizeHistory(history []school.AttendanceEntry) Summary {
	statuses := make([]school.AttendanceStatus, len(history))
	for i, e := range history {
		statuses[i] = e.Status
	}
	return Summarize(statuses)
}

// StatusOn finds the mark recorded for a calendar day. When a day was marked
// more than once the last entry wins.
func StatusOn(history []school.AttendanceEntry, day time.Time) (school.AttendanceStatus, bool) {
	y, m, d := day.Date()
	var (
		found  school.AttendanceStatus
		marked bool
	)
	for _, e := range history {
		ey, em, ed := e.Date.UTC().Date()
		if ey == y && em == m && ed == d {
			found, marked = e.Status, true
		}
	}
	return found, marked
}

// Record is one row of a bulk submission.
type Record struct {
	StudentID string                  `json:"studentId"`
	Status    school.AttendanceStatus `json:"status"`
}

type bulkRequest struct {
	AttendanceRecords []Record `json:"attendanceRecords"`
	Date              string   `json:"date"`
}

// Mark is a single attendance mark for one student.
type Mark struct {
	Date    string                  `json:"date"`
	Status  school.AttendanceStatus `json:"status"`
	Remarks string                  `json:"remarks,omitempty"`
}

// Roster is the teacher's student list with the classes they teach.
type Roster struct {
	Students        []school.Student         `json:"students"`
	AssignedClasses []school.ClassAssignment `json:"assignedClasses"`
}

// History is a student's own attendance for a period.
type History struct {
	Attendance []school.AttendanceEntry `json:"attendance"`
}
