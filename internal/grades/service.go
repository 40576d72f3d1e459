package grades

import (
	"context"
	"net/url"

	"github.com/schoolhub/portal/internal/backend"
)

// Service calls the grade endpoints.
type Service struct {
	api *backend.Client
}

// NewService constructs a Service.
func NewService(api *backend.Client) *Service {
	return &Service{api: api}
}

// Report fetches the signed-in student's grades, optionally for one semester.
func (s *Service) Report(ctx context.Context, semester string) (Report, error) {
	q := url.Values{}
	if semester != "" {
		q.Set("semester", semester)
	}
	var out Report
	if err := s.api.Get(ctx, "/student/grades", q, &out); err != nil {
		return Report{}, err
	}
	return out, nil
}

// Add records a grade for a student in one of the teacher's classes.
func (s *Service) Add(ctx context.Context, studentID string, grade NewGrade) error {
	return s.api.Post(ctx, "/teacher/students/"+url.PathEscape(studentID)+"/grades", grade, nil)
}
