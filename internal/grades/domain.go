// Package grades serves the teacher grade book and the student report card.
package grades

import (
	"strings"

	"github.com/schoolhub/portal/internal/school"
)

// Band is one row of the grading scale.
type Band struct {
	Letter  string
	Min     int
	Range   string
	Variant string
}

// Scale lists the bands from best to worst.
var Scale = []Band{
	{Letter: "A+", Min: 90, Range: "90-100%", Variant: "success"},
	{Letter: "A", Min: 80, Range: "80-89%", Variant: "success"},
	{Letter: "B+", Min: 70, Range: "70-79%", Variant: "info"},
	{Letter: "B", Min: 60, Range: "60-69%", Variant: "info"},
	{Letter: "C", Min: 50, Range: "50-59%", Variant: "warning"},
	{Letter: "D", Min: 40, Range: "40-49%", Variant: "danger"},
	{Letter: "F", Min: 0, Range: "Below 40%", Variant: "danger"},
}

// Letter maps a percentage onto the scale.
func Letter(percent float64) string {
	for _, b := range Scale {
		if percent >= float64(b.Min) {
			return b.Letter
		}
	}
	return "F"
}

// Variant is the badge style for a letter grade; unknown letters get "default".
func Variant(letter string) string {
	for _, b := range Scale {
		if strings.EqualFold(b.Letter, letter) {
			return b.Variant
		}
	}
	return "default"
}

// Tone buckets an average for the subject card accent.
func Tone(average float64) string {
	switch {
	case average >= 80:
		return "success"
	case average >= 60:
		return "info"
	case average >= 40:
		return "warning"
	}
	return "danger"
}

// Semester is a selectable grading period.
type Semester struct {
	Value string
	Label string
}

// Semesters lists the grading periods in display order.
var Semesters = []Semester{
	{Value: "1", Label: "Semester 1"},
	{Value: "2", Label: "Semester 2"},
	{Value: "annual", Label: "Annual"},
}

// ValidSemester reports whether v names a grading period; empty means all.
func ValidSemester(v string) bool {
	for _, s := range Semesters {
		if s.Value == v {
			return true
		}
	}
	return false
}

// Subjects offered in the add-grade form.
var Subjects = []string{
	"Mathematics", "Physics", "Chemistry", "Biology", "English",
	"Hindi", "History", "Geography", "Computer Science", "Economics",
}

// SubjectGrades groups a student's results for one subject.
type SubjectGrades struct {
	Subject string              `json:"subject"`
	Average school.Decimal      `json:"average"`
	Grades  []school.GradeEntry `json:"grades"`
}

// Report is the student's grade report.
type Report struct {
	GradesBySubject []SubjectGrades `json:"gradesBySubject"`
	OverallAverage  school.Decimal  `json:"overallAverage"`
}

// Best returns the subject with the highest average. Ties keep the first.
func Best(subjects []SubjectGrades) (SubjectGrades, bool) {
	if len(subjects) == 0 {
		return SubjectGrades{}, false
	}
	best := subjects[0]
	for _, s := range subjects[1:] {
		if s.Average > best.Average {
			best = s
		}
	}
	return best, true
}

// NewGrade is the body of an add-grade request.
type NewGrade struct {
	Subject  string  `json:"subject"`
	Marks    float64 `json:"marks"`
	MaxMarks float64 `json:"maxMarks"`
	Semester string  `json:"semester,omitempty"`
}
