package attendance

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/schoolhub/portal/internal/backend"
)

// Service calls the attendance endpoints.
type Service struct {
	api *backend.Client
}

// NewService constructs a Service.
func NewService(api *backend.Client) *Service {
	return &Service{api: api}
}

// Roster lists the teacher's students, optionally narrowed to one class.
func (s *Service) Roster(ctx context.Context, class string) (Roster, error) {
	q := url.Values{}
	if class != "" {
		q.Set("class", class)
	}
	var out Roster
	if err := s.api.Get(ctx, "/teacher/students", q, &out); err != nil {
		return Roster{}, err
	}
	return out, nil
}

// MarkBulk records one status per student for date.
func (s *Service) MarkBulk(ctx context.Context, date time.Time, records []Record) error {
	if len(records) == 0 {
		return fmt.Errorf("attendance: no records to submit")
	}
	return s.api.Post(ctx, "/teacher/attendance/bulk", bulkRequest{
		AttendanceRecords: records,
		Date:              date.Format(DateLayout),
	}, nil)
}

// Mark records a single student's status.
func (s *Service) Mark(ctx context.Context, studentID string, mark Mark) error {
	return s.api.Post(ctx, "/teacher/students/"+url.PathEscape(studentID)+"/attendance", mark, nil)
}

// History returns the signed-in student's attendance. month is YYYY-MM or empty for all.
func (s *Service) History(ctx context.Context, month string) (History, error) {
	q := url.Values{}
	if month != "" {
		if t, err := time.Parse("2006-01", month); err == nil {
			q.Set("month", fmt.Sprintf("%d", int(t.Month())))
			q.Set("year", fmt.Sprintf("%d", t.Year()))
		}
	}
	var out History
	if err := s.api.Get(ctx, "/student/attendance", q, &out); err != nil {
		return History{}, err
	}
	return out, nil
}
