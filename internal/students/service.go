package students

import (
	"context"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/schoolhub/portal/internal/backend"
	"github.com/schoolhub/portal/internal/school"
)

// exportPageSize bounds the page size used when collecting the whole register.
const exportPageSize = 100

// Service calls the admin student endpoints.
type Service struct {
	api *backend.Client
}

// NewService constructs a Service.
func NewService(api *backend.Client) *Service {
	return &Service{api: api}
}

// List fetches one page.
func (s *Service) List(ctx context.Context, q Query) (List, error) {
	var out List
	if err := s.api.Get(ctx, "/admin/students", q.Values(), &out); err != nil {
		return List{}, err
	}
	return out, nil
}

// All walks every page matching q. Pages after the first are fetched concurrently.
func (s *Service) All(ctx context.Context, q Query) ([]school.Student, error) {
	q.Page, q.Limit = 1, exportPageSize
	first, err := s.List(ctx, q)
	if err != nil {
		return nil, err
	}
	pages := first.Pagination.Pages
	if pages <= 1 {
		return first.Students, nil
	}

	rest := make([][]school.Student, pages-1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for page := 2; page <= pages; page++ {
		g.Go(func() error {
			pq := q
			pq.Page = page
			list, err := s.List(gctx, pq)
			if err != nil {
				return err
			}
			rest[page-2] = list.Students
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := first.Students
	for _, chunk := range rest {
		out = append(out, chunk...)
	}
	return out, nil
}

// Create registers a student.
func (s *Service) Create(ctx context.Context, in Input) error {
	return s.api.Post(ctx, "/admin/students", in, nil)
}

// Update replaces a student's details.
func (s *Service) Update(ctx context.Context, id string, in Input) error {
	return s.api.Put(ctx, "/admin/students/"+url.PathEscape(id), in, nil)
}

// Delete removes a student.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.api.Delete(ctx, "/admin/students/"+url.PathEscape(id), nil)
}
