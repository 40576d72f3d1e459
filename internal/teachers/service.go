// Package teachers serves the admin staff register and class assignment.
package teachers

import (
	"context"
	"net/url"
	"strconv"

	"github.com/schoolhub/portal/internal/backend"
	"github.com/schoolhub/portal/internal/school"
	"github.com/schoolhub/portal/internal/screen"
)

// PageSize is the number of teachers requested per page.
const PageSize = 10

// List is one page of teachers.
type List struct {
	Teachers   []school.Teacher  `json:"teachers"`
	Pagination screen.Pagination `json:"pagination"`
}

// Input is the body of a create or update request.
type Input struct {
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	Password      string   `json:"password,omitempty"`
	Phone         string   `json:"phone,omitempty"`
	Subjects      []string `json:"subjects"`
	Qualification string   `json:"qualification,omitempty"`
	Experience    float64  `json:"experience,omitempty"`
	Salary        float64  `json:"salary,omitempty"`
	Address       string   `json:"address,omitempty"`
}

type assignRequest struct {
	AssignedClasses []school.ClassAssignment `json:"assignedClasses"`
}

// Service calls the admin teacher endpoints.
type Service struct {
	api *backend.Client
}

// NewService constructs a Service.
func NewService(api *backend.Client) *Service {
	return &Service{api: api}
}

// List fetches one page of teachers.
func (s *Service) List(ctx context.Context, page int) (List, error) {
	if page < 1 {
		page = 1
	}
	q := url.Values{"page": {strconv.Itoa(page)}, "limit": {strconv.Itoa(PageSize)}}
	var out List
	if err := s.api.Get(ctx, "/admin/teachers", q, &out); err != nil {
		return List{}, err
	}
	return out, nil
}

// Create registers a teacher.
func (s *Service) Create(ctx context.Context, in Input) error {
	return s.api.Post(ctx, "/admin/teachers", in, nil)
}

// Update replaces a teacher's details.
func (s *Service) Update(ctx context.Context, id string, in Input) error {
	return s.api.Put(ctx, "/admin/teachers/"+url.PathEscape(id), in, nil)
}

// Delete removes a teacher.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.api.Delete(ctx, "/admin/teachers/"+url.PathEscape(id), nil)
}

// AssignClasses replaces the teacher's class assignments.
func (s *Service) AssignClasses(ctx context.Context, id string, classes []school.ClassAssignment) error {
	if classes == nil {
		classes = []school.ClassAssignment{}
	}
	return s.api.Put(ctx, "/admin/teachers/"+url.PathEscape(id)+"/assign-classes", assignRequest{AssignedClasses: classes}, nil)
}
