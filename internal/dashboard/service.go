package dashboard

import (
	"context"

	"github.com/schoolhub/portal/internal/backend"
)

// Service fetches role summaries.
type Service struct {
	api *backend.Client
}

// NewService constructs a Service.
func NewService(api *backend.Client) *Service {
	return &Service{api: api}
}

// Admin fetches the admin summary.
func (s *Service) Admin(ctx context.Context) (Admin, error) {
	var out Admin
	err := s.api.Get(ctx, "/admin/dashboard", nil, &out)
	return out, err
}

// Teacher fetches the teacher summary.
func (s *Service) Teacher(ctx context.Context) (Teacher, error) {
	var out Teacher
	err := s.api.Get(ctx, "/teacher/dashboard", nil, &out)
	return out, err
}

// Schedule fetches the teacher timetable.
func (s *Service) Schedule(ctx context.Context) (Schedule, error) {
	var out Schedule
	err := s.api.Get(ctx, "/teacher/schedule", nil, &out)
	return out, err
}

// Student fetches the student summary.
func (s *Service) Student(ctx context.Context) (Student, error) {
	var out Student
	err := s.api.Get(ctx, "/student/dashboard", nil, &out)
	return out, err
}
