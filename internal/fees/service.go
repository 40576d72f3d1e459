package fees

import (
	"context"
	"net/url"
	"strconv"

	"github.com/schoolhub/portal/internal/backend"
)

// Service calls the fee endpoints.
type Service struct {
	api *backend.Client
}

// NewService constructs a Service.
func NewService(api *backend.Client) *Service {
	return &Service{api: api}
}

// Register fetches one page of fees, optionally filtered by status.
func (s *Service) Register(ctx context.Context, status string, page int) (Register, error) {
	if page < 1 {
		page = 1
	}
	q := url.Values{"page": {strconv.Itoa(page)}, "limit": {strconv.Itoa(PageSize)}}
	if status != "" {
		q.Set("status", status)
	}
	var out Register
	if err := s.api.Get(ctx, "/admin/fees", q, &out); err != nil {
		return Register{}, err
	}
	return out, nil
}

// RecordManual records a fee paid outside the card flow.
func (s *Service) RecordManual(ctx context.Context, fee ManualFee) error {
	return s.api.Post(ctx, "/admin/fees/manual", fee, nil)
}

// Account fetches the caller's fee position.
func (s *Service) Account(ctx context.Context) (Account, error) {
	var out Account
	if err := s.api.Get(ctx, "/student/fees", nil, &out); err != nil {
		return Account{}, err
	}
	return out, nil
}

// Receipt fetches the receipt for one of the caller's fees.
func (s *Service) Receipt(ctx context.Context, feeID string) (Receipt, error) {
	var out struct {
		Receipt Receipt `json:"receipt"`
	}
	if err := s.api.Get(ctx, "/student/fee/"+url.PathEscape(feeID)+"/receipt", nil, &out); err != nil {
		return Receipt{}, err
	}
	return out.Receipt, nil
}
