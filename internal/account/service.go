// Package account serves the pages every signed-in role shares: the
// password change form and the profile screen.
package account

import (
	"context"

	"github.com/schoolhub/portal/internal/backend"
	"github.com/schoolhub/portal/internal/school"
)

// ProfileInput is the editable part of a teacher profile.
type ProfileInput struct {
	Name          string `json:"name"`
	Phone         string `json:"phone,omitempty"`
	Qualification string `json:"qualification,omitempty"`
	Address       string `json:"address,omitempty"`
}

// Service reads and updates role profiles.
type Service struct {
	api *backend.Client
}

// NewService constructs a Service.
func NewService(api *backend.Client) *Service {
	return &Service{api: api}
}

// TeacherProfile fetches the signed-in teacher's record.
func (s *Service) TeacherProfile(ctx context.Context) (school.Teacher, error) {
	var out struct {
		Teacher school.Teacher `json:"teacher"`
	}
	err := s.api.Get(ctx, "/teacher/profile", nil, &out)
	return out.Teacher, err
}

// UpdateTeacherProfile saves in and returns the stored record.
func (s *Service) UpdateTeacherProfile(ctx context.Context, in ProfileInput) (school.Teacher, error) {
	var out struct {
		Teacher school.Teacher `json:"teacher"`
	}
	err := s.api.Put(ctx, "/teacher/profile", in, &out)
	return out.Teacher, err
}

// StudentProfile fetches the signed-in student's record.
func (s *Service) StudentProfile(ctx context.Context) (school.Student, error) {
	var out struct {
		Student school.Student `json:"student"`
	}
	err := s.api.Get(ctx, "/student/profile", nil, &out)
	return out.Student, err
}
