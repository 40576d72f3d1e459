// Package dashboard renders the landing summary for each role.
package dashboard

import (
	"math"
	"sort"
	"time"

	"github.com/schoolhub/portal/internal/attendance"
	"github.com/schoolhub/portal/internal/school"
)

// AdminStats are the school-wide counters.
type AdminStats struct {
	TotalStudents  int     `json:"totalStudents"`
	TotalTeachers  int     `json:"totalTeachers"`
	FeesCollected  float64 `json:"totalFeesCollected"`
	FeesPending    float64 `json:"pendingFees"`
	PresentToday   int     `json:"presentToday"`
	AttendanceRate float64 `json:"attendanceRate"`
}

// CollectionRate is the collected share of all billed fees as a whole percentage.
func (s AdminStats) CollectionRate() int {
	billed := s.FeesCollected + s.FeesPending
	if billed <= 0 {
		return 0
	}
	return int(math.Round(100 * s.FeesCollected / billed))
}

// Admin is the admin summary.
type Admin struct {
	Stats          AdminStats       `json:"stats"`
	RecentStudents []school.Student `json:"recentStudents"`
	RecentPayments []school.Fee     `json:"recentPayments"`
}

// ClassCount is the number of students in one class.
type ClassCount struct {
	Class school.Text `json:"_id"`
	Count int         `json:"count"`
}

// Teacher is the teacher summary.
type Teacher struct {
	Teacher         school.Teacher           `json:"teacher"`
	AssignedClasses []school.ClassAssignment `json:"assignedClasses"`
	StudentCounts   []ClassCount             `json:"studentCounts"`
	TotalStudents   int                      `json:"totalStudents"`
}

// CountFor returns the number of students in class.
func (t Teacher) CountFor(class school.Text) int {
	for _, c := range t.StudentCounts {
		if c.Class == class {
			return c.Count
		}
	}
	return 0
}

// Period is one timetable slot.
type Period struct {
	Day       string      `json:"day"`
	StartTime string      `json:"startTime"`
	EndTime   string      `json:"endTime"`
	Class     school.Text `json:"class"`
	Section   string      `json:"section,omitempty"`
	Subject   string      `json:"subject"`
	Room      string      `json:"room,omitempty"`
}

// Schedule is the teacher's weekly timetable.
type Schedule struct {
	Periods []Period `json:"schedule"`
}

// Weekdays lists the school days in timetable order.
var Weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// Day is the periods of one weekday in start order.
type Day struct {
	Name    string
	Periods []Period
}

// Week groups the timetable by weekday. Days without periods are kept so the
// grid stays stable.
func (s Schedule) Week() []Day {
	byDay := make(map[string][]Period, len(Weekdays))
	for _, p := range s.Periods {
		byDay[p.Day] = append(byDay[p.Day], p)
	}
	out := make([]Day, 0, len(Weekdays))
	for _, name := range Weekdays {
		periods := byDay[name]
		sort.SliceStable(periods, func(i, j int) bool { return periods[i].StartTime < periods[j].StartTime })
		out = append(out, Day{Name: name, Periods: periods})
	}
	return out
}

// On returns the periods scheduled on the weekday of t.
func (s Schedule) On(t time.Time) []Period {
	name := t.Weekday().String()
	for _, d := range s.Week() {
		if d.Name == name {
			return d.Periods
		}
	}
	return nil
}

// Student is the student summary.
type Student struct {
	Student      school.Student      `json:"student"`
	FeeSummary   school.FeeSummary   `json:"feeSummary"`
	RecentGrades []school.GradeEntry `json:"recentGrades"`
}

// RecentLimit caps the grades listed on the student dashboard.
const RecentLimit = 5

// Recent returns the newest grades, preferring the backend's own list.
func (s Student) Recent() []school.GradeEntry {
	if len(s.RecentGrades) > 0 {
		return s.RecentGrades
	}
	grades := append([]school.GradeEntry(nil), s.Student.Grades...)
	sort.SliceStable(grades, func(i, j int) bool { return grades[i].Date.After(grades[j].Date) })
	if len(grades) > RecentLimit {
		grades = grades[:RecentLimit]
	}
	return grades
}

// AttendancePercent is computed from the history; any server figure is ignored.
func (s Student) AttendancePercent() int {
	return attendance.Percentage(s.Student.Attendance)
}
