// Package school holds the record shapes the backend returns. They are
// snapshots for rendering: the portal never edits them in place.
package school

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Text decodes a JSON string or number into a string. Class names and roll
// numbers arrive as either depending on how the record was created.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		*t = ""
		return nil
	}
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}
	*t = Text(n.String())
	return nil
}

func (t Text) String() string { return string(t) }

// Decimal decodes a JSON number or numeric string into a float64. Averages
// arrive pre-formatted as strings from some endpoints.
type Decimal float64

// UnmarshalJSON implements json.Unmarshaler.
func (d *Decimal) UnmarshalJSON(raw []byte) error {
	var t Text
	if err := t.UnmarshalJSON(raw); err != nil {
		return err
	}
	if t == "" {
		*d = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(t), 64)
	if err != nil {
		return fmt.Errorf("school: decimal %q: %w", string(t), err)
	}
	*d = Decimal(f)
	return nil
}

// Float returns the value as a float64.
func (d Decimal) Float() float64 { return float64(d) }

// Rounded returns the value rounded to a whole number.
func (d Decimal) Rounded() int { return int(math.Round(float64(d))) }

// Person is the user block embedded in student and teacher records.
type Person struct {
	ID    string `json:"_id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Initial returns the avatar letter.
func (p Person) Initial() string {
	for _, r := range p.Name {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		return string(r)
	}
	return "?"
}

// AttendanceStatus is one day's mark.
type AttendanceStatus string

const (
	Present AttendanceStatus = "present"
	Absent  AttendanceStatus = "absent"
	Late    AttendanceStatus = "late"
	Excused AttendanceStatus = "excused"
)

// AttendanceStatuses lists the marks in display order.
var AttendanceStatuses = []AttendanceStatus{Present, Absent, Late, Excused}

// Valid reports whether s is a known mark.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case Present, Absent, Late, Excused:
		return true
	}
	return false
}

// AttendanceEntry is one dated mark in a student's history.
type AttendanceEntry struct {
	Date    time.Time        `json:"date"`
	Status  AttendanceStatus `json:"status"`
	Remarks string           `json:"remarks,omitempty"`
}

// GradeEntry is one assessed result.
type GradeEntry struct {
	Subject  string    `json:"subject"`
	Marks    float64   `json:"marks"`
	MaxMarks float64   `json:"maxMarks"`
	Grade    string    `json:"grade"`
	Semester Text      `json:"semester,omitempty"`
	Date     time.Time `json:"date"`
}

// Percent is marks over max marks, rounded to a whole number.
func (g GradeEntry) Percent() int {
	if g.MaxMarks <= 0 {
		return 0
	}
	return int(g.Marks/g.MaxMarks*100 + 0.5)
}

// Student is a student record as listed by admin and teacher screens.
type Student struct {
	ID          string            `json:"_id"`
	StudentID   string            `json:"studentId"`
	User        Person            `json:"user"`
	Class       Text              `json:"class"`
	Section     string            `json:"section"`
	RollNumber  Text              `json:"rollNumber,omitempty"`
	DateOfBirth time.Time         `json:"dateOfBirth,omitempty"`
	Gender      string            `json:"gender,omitempty"`
	ParentName  string            `json:"parentName,omitempty"`
	ParentPhone string            `json:"parentPhone,omitempty"`
	Address     string            `json:"address,omitempty"`
	TotalFee    float64           `json:"totalFee,omitempty"`
	PaidFee     float64           `json:"paidFee,omitempty"`
	FeeStatus   string            `json:"feeStatus,omitempty"`
	Attendance  []AttendanceEntry `json:"attendance,omitempty"`
	Grades      []GradeEntry      `json:"grades,omitempty"`
}

// LatestGrade returns the most recent grade, if any.
func (s Student) LatestGrade() (GradeEntry, bool) {
	if len(s.Grades) == 0 {
		return GradeEntry{}, false
	}
	grades := append([]GradeEntry(nil), s.Grades...)
	sort.SliceStable(grades, func(i, j int) bool { return grades[i].Date.After(grades[j].Date) })
	return grades[0], true
}

// ClassAssignment links a teacher to a class section and subject.
type ClassAssignment struct {
	Class   Text   `json:"class"`
	Section string `json:"section,omitempty"`
	Subject string `json:"subject"`
}

// Teacher is a teacher record.
type Teacher struct {
	ID              string            `json:"_id"`
	TeacherID       string            `json:"teacherId"`
	User            Person            `json:"user"`
	Name            string            `json:"name,omitempty"`
	Subjects        []string          `json:"subjects"`
	Qualification   string            `json:"qualification,omitempty"`
	Experience      float64           `json:"experience,omitempty"`
	Salary          float64           `json:"salary,omitempty"`
	Address         string            `json:"address,omitempty"`
	AssignedClasses []ClassAssignment `json:"assignedClasses,omitempty"`
}

// DisplayName prefers the embedded user name.
func (t Teacher) DisplayName() string {
	if t.User.Name != "" {
		return t.User.Name
	}
	return t.Name
}

// Fee statuses reported by the backend.
const (
	FeePaid    = "paid"
	FeePending = "pending"
	FeePartial = "partial"
	FeeOverdue = "overdue"
)

// FeeStudent is the student block embedded in admin fee rows.
type FeeStudent struct {
	ID        string `json:"_id"`
	StudentID string `json:"studentId"`
	User      Person `json:"user"`
	Class     Text   `json:"class,omitempty"`
	Section   string `json:"section,omitempty"`
}

// Fee is one billable or paid amount tied to a student.
type Fee struct {
	ID            string      `json:"_id"`
	Student       *FeeStudent `json:"student,omitempty"`
	Amount        float64     `json:"amount"`
	FeeType       string      `json:"feeType"`
	Status        string      `json:"status"`
	Description   string      `json:"description,omitempty"`
	DueDate       time.Time   `json:"dueDate,omitempty"`
	PaidAt        time.Time   `json:"paidAt,omitempty"`
	PaymentMethod string      `json:"paymentMethod,omitempty"`
	TransactionID string      `json:"transactionId,omitempty"`
	ReceiptNumber string      `json:"receiptNumber,omitempty"`
}

// FeeSummary is the per-student fee position.
type FeeSummary struct {
	TotalFee      float64 `json:"totalFee"`
	PaidAmount    float64 `json:"paidAmount"`
	PendingAmount float64 `json:"pendingAmount"`
	FeeStatus     string  `json:"feeStatus"`
}

// BadgeVariant maps a fee status onto a badge style.
func BadgeVariant(status string) string {
	switch status {
	case FeePaid:
		return "success"
	case FeePartial:
		return "info"
	case FeeOverdue:
		return "danger"
	}
	return "warning"
}
