package fees_test

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/portal/internal/auth"
	"github.com/schoolhub/portal/internal/fees"
	"github.com/schoolhub/portal/internal/payment"
	"github.com/schoolhub/portal/internal/students"
	"github.com/schoolhub/portal/internal/testing/portaltest"
	"github.com/schoolhub/portal/report"
	_ "github.com/schoolhub/portal/testing"
)

type fakePDF struct {
	mu   sync.Mutex
	html []byte
	err  error
}

func (f *fakePDF) RenderHTML(_ context.Context, html []byte, _ report.Page) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.html = append([]byte(nil), html...)
	return []byte("%PDF-1.7 receipt"), nil
}

var account = map[string]any{
	"summary": map[string]any{"totalFee": 100000, "paidAmount": 25000, "pendingAmount": 75000, "feeStatus": "partial"},
	"pendingFees": []any{
		map[string]any{"_id": "fee-2", "amount": 75000, "feeType": "tuition", "status": "pending", "dueDate": "2024-04-30T00:00:00Z"},
	},
	"paidFees": []any{
		map[string]any{"_id": "fee-1", "amount": 25000, "feeType": "tuition", "status": "paid", "receiptNumber": "RCP-001", "paidAt": "2024-01-15T10:00:00Z"},
	},
}

type fixture struct {
	*portaltest.Harness
	verifications *payment.Verifications
	pdf           *fakePDF
	failAccount   atomic.Bool
	expireAccount atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := portaltest.New(t)
	f := &fixture{Harness: h, pdf: &fakePDF{}}
	h.Backend.Handle("GET /student/fees", func(w http.ResponseWriter, _ *http.Request) {
		switch {
		case f.expireAccount.Load():
			portaltest.Reply(w, http.StatusUnauthorized, map[string]any{"message": "Token expired"})
		case f.failAccount.Load():
			portaltest.Reply(w, http.StatusInternalServerError, map[string]any{"message": "Server error"})
		default:
			portaltest.Reply(w, http.StatusOK, account)
		}
	})
	h.Backend.Handle("GET /payment/history", func(w http.ResponseWriter, _ *http.Request) {
		if f.expireAccount.Load() {
			time.Sleep(50 * time.Millisecond)
		}
		portaltest.Reply(w, http.StatusOK, map[string]any{"payments": []any{}})
	})
	h.Backend.JSON("GET /admin/students", http.StatusOK, map[string]any{
		"students": []any{
			map[string]any{"_id": "s1", "studentId": "STU001", "class": 10, "section": "A", "user": map[string]any{"name": "Ann Lee", "email": "ann@school.com"}},
		},
		"pagination": map[string]any{"page": 1, "pages": 1, "total": 1},
	})

	f.verifications = payment.NewVerifications(h.Redis, "test:verification:", time.Hour)
	flow := payment.NewFlow(payment.Config{API: h.API, Verifications: f.verifications})
	handler := fees.NewHandler(h.Kit, fees.NewService(h.API), flow, students.NewService(h.API), f.pdf)
	h.Router.Route("/admin", handler.MountAdmin)
	h.Router.Route("/student", handler.MountStudent)
	return f
}

func TestStudentFeesShowsSummaryAndProgress(t *testing.T) {
	f := newFixture(t)
	sid := f.SignIn(t, portaltest.Student)

	res := f.Get(t, "/student/fees", sid)
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, "25%")
	assert.Contains(t, body, `width: 25%`)
	assert.Contains(t, body, `badge-info">Partial`)
	assert.Contains(t, body, `href="/student/fees/pay?amount=75000"`)
	assert.Contains(t, body, "Due: 30 Apr 2024")
	assert.Contains(t, body, "RCP-001")
	assert.Contains(t, body, `href="/student/fee/fee-1/receipt"`)
	assert.NotContains(t, body, "Pending verification")
	assert.Len(t, f.Backend.Calls(http.MethodGet, "/payment/history"), 1)
}

func TestStudentFeesKeepsLastAccountWhenBackendFails(t *testing.T) {
	f := newFixture(t)
	sid := f.SignIn(t, portaltest.Student)

	require.Equal(t, http.StatusOK, f.Get(t, "/student/fees", sid).Code)
	f.failAccount.Store(true)

	res := f.Get(t, "/student/fees", sid)
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, "RCP-001")
	assert.Contains(t, body, "Server error")
	assert.Contains(t, body, "may be out of date")
}

func TestStudentFeesRetriesPendingVerification(t *testing.T) {
	f := newFixture(t)
	f.Backend.JSON("POST /payment/confirm", http.StatusOK, map[string]any{"message": "ok"})
	sid := f.SignIn(t, portaltest.Student)
	ctx := context.Background()
	v := payment.Verification{AttemptID: "a1", FeeID: "fee-2", PaymentIntentID: "pi_2", Amount: 75000, Owner: portaltest.Student.ID, Tries: 1}
	require.NoError(t, f.verifications.Save(ctx, v))

	res := f.Get(t, "/student/fees", sid)
	require.Equal(t, http.StatusOK, res.Code)
	assert.NotContains(t, res.Body.String(), "Pending verification")

	calls := f.Backend.Calls(http.MethodPost, "/payment/confirm")
	require.Len(t, calls, 1)
	assert.Equal(t, "Bearer tok-student-1", calls[0].Authorization)
	assert.JSONEq(t, `{"paymentIntentId":"pi_2","feeId":"fee-2"}`, string(calls[0].Body))

	_, ok, err := f.verifications.Get(ctx, v.Key())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStudentFeesShowsBadgeWhileStillUnconfirmed(t *testing.T) {
	f := newFixture(t)
	f.Backend.JSON("POST /payment/confirm", http.StatusBadGateway, map[string]any{"message": "Processor timeout"})
	sid := f.SignIn(t, portaltest.Student)
	ctx := context.Background()
	v := payment.Verification{AttemptID: "a1", FeeID: "fee-2", PaymentIntentID: "pi_2", Amount: 75000, Owner: portaltest.Student.ID, Tries: 1}
	require.NoError(t, f.verifications.Save(ctx, v))

	res := f.Get(t, "/student/fees", sid)
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, "Pending verification")
	assert.Contains(t, body, "You do not need to pay again")

	stored, ok, err := f.verifications.Get(ctx, v.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, stored.Tries)
	assert.Equal(t, sid, stored.Session)
	assert.Equal(t, "Processor timeout", stored.LastError)
}

func TestStudentFeesDropsChargeTheBackendRefused(t *testing.T) {
	f := newFixture(t)
	f.Backend.JSON("POST /payment/confirm", http.StatusConflict, map[string]any{"message": "Intent does not match fee"})
	sid := f.SignIn(t, portaltest.Student)
	ctx := context.Background()
	v := payment.Verification{AttemptID: "a1", FeeID: "fee-2", PaymentIntentID: "pi_2", Amount: 75000, Owner: portaltest.Student.ID, Session: sid, Tries: 1}
	require.NoError(t, f.verifications.Save(ctx, v))

	res := f.Get(t, "/student/fees", sid)
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.NotContains(t, body, "Pending verification")
	assert.Contains(t, body, "Payment could not be completed")

	_, ok, err := f.verifications.Get(ctx, v.Key())
	require.NoError(t, err)
	assert.False(t, ok)

	f.Get(t, "/student/fees", sid)
	assert.Len(t, f.Backend.Calls(http.MethodPost, "/payment/confirm"), 1)
}

func TestStudentFeesExpiredCredentialFlashesOnlyTheExpiry(t *testing.T) {
	f := newFixture(t)
	f.expireAccount.Store(true)
	sid := f.SignIn(t, portaltest.Student)

	res := f.Get(t, "/student/fees", sid)
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/auth/login", res.Header().Get("Location"))

	var messages []string
	for _, fl := range f.Flashes(t, sid) {
		messages = append(messages, fl.Message)
	}
	assert.Contains(t, messages, auth.ExpiredNotice)
	assert.NotContains(t, messages, "Failed to load payment history")
	assert.NotContains(t, messages, "Failed to load fee details")
}

func TestAdminRegisterForwardsStatusFilter(t *testing.T) {
	f := newFixture(t)
	f.Backend.JSON("GET /admin/fees", http.StatusOK, map[string]any{
		"fees": []any{
			map[string]any{"_id": "fee-1", "amount": 25000, "feeType": "tuition", "status": "paid", "receiptNumber": "RCP-001",
				"student": map[string]any{"_id": "s1", "studentId": "STU001", "class": 10, "user": map[string]any{"name": "Ann Lee"}}},
		},
		"pagination": map[string]any{"page": 2, "pages": 3, "total": 45},
	})
	sid := f.SignIn(t, portaltest.Admin)

	res := f.Get(t, "/admin/fees?status=paid&page=2", sid)
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, "Ann Lee")
	assert.Contains(t, body, `badge-success">Paid`)
	assert.Contains(t, body, `href="/admin/fees?status=paid&amp;page=3"`)

	f.Get(t, "/admin/fees?status=bogus", sid)
	calls := f.Backend.Calls(http.MethodGet, "/admin/fees")
	require.Len(t, calls, 2)
	assert.Equal(t, "paid", calls[0].Query.Get("status"))
	assert.Equal(t, "2", calls[0].Query.Get("page"))
	assert.Equal(t, "20", calls[0].Query.Get("limit"))
	assert.False(t, calls[1].Query.Has("status"))
}

func TestManualFeeValidation(t *testing.T) {
	f := newFixture(t)
	sid := f.SignIn(t, portaltest.Admin)

	res := f.PostForm(t, "/admin/fees/manual", sid, url.Values{
		"studentId":     {"s1"},
		"amount":        {"0"},
		"feeType":       {"tuition"},
		"paymentMethod": {"cash"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, "Amount must be greater than 0")
	assert.Contains(t, body, `<option value="s1" selected>Ann Lee`)
	assert.Empty(t, f.Backend.Calls(http.MethodPost, "/admin/fees/manual"))
}

func TestManualFeeRecords(t *testing.T) {
	f := newFixture(t)
	f.Backend.JSON("POST /admin/fees/manual", http.StatusCreated, map[string]any{"message": "ok"})
	sid := f.SignIn(t, portaltest.Admin)

	res := f.PostForm(t, "/admin/fees/manual", sid, url.Values{
		"studentId":     {"s1"},
		"amount":        {"1500.50"},
		"feeType":       {"library"},
		"paymentMethod": {"cheque"},
		"description":   {"Late return"},
	})
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/admin/fees", res.Header().Get("Location"))

	calls := f.Backend.Calls(http.MethodPost, "/admin/fees/manual")
	require.Len(t, calls, 1)
	var fee fees.ManualFee
	calls[0].Decode(t, &fee)
	assert.Equal(t, fees.ManualFee{StudentID: "s1", Amount: 1500.5, FeeType: "library", PaymentMethod: "cheque", Description: "Late return"}, fee)
}

func receiptBackend(f *fixture) {
	f.Backend.JSON("GET /student/fee/fee-1/receipt", http.StatusOK, map[string]any{
		"receipt": map[string]any{
			"receiptNumber": "RCP-001",
			"studentName":   "Sam Student",
			"studentId":     "STU001",
			"class":         10,
			"section":       "A",
			"feeType":       "tuition",
			"amount":        25000,
			"paidAt":        "2024-01-15T10:00:00Z",
		},
	})
}

func TestReceiptRendersHTML(t *testing.T) {
	f := newFixture(t)
	receiptBackend(f)
	sid := f.SignIn(t, portaltest.Student)

	res := f.Get(t, "/student/fee/fee-1/receipt", sid)
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, "RCP-001")
	assert.Contains(t, body, "Sam Student (STU001)")
	assert.Contains(t, body, "10-A")
	assert.Contains(t, body, "15 Jan 2024")
}

func TestReceiptRendersPDF(t *testing.T) {
	f := newFixture(t)
	receiptBackend(f)
	sid := f.SignIn(t, portaltest.Student)

	res := f.Get(t, "/student/fee/fee-1/receipt?format=pdf", sid)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "application/pdf", res.Header().Get("Content-Type"))
	assert.Contains(t, res.Header().Get("Content-Disposition"), "receipt-RCP-001.pdf")
	assert.Equal(t, "%PDF-1.7 receipt", res.Body.String())
	assert.Contains(t, string(f.pdf.html), "<title>Receipt RCP-001</title>")
}

func TestReceiptPDFQuotesFilename(t *testing.T) {
	f := newFixture(t)
	f.Backend.JSON("GET /student/fee/fee-9/receipt", http.StatusOK, map[string]any{
		"receipt": map[string]any{"receiptNumber": `RCP "9"; x=1`, "studentName": "Sam Student", "amount": 100},
	})
	sid := f.SignIn(t, portaltest.Student)

	res := f.Get(t, "/student/fee/fee-9/receipt?format=pdf", sid)
	require.Equal(t, http.StatusOK, res.Code)
	disposition, params, err := mime.ParseMediaType(res.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "attachment", disposition)
	assert.Equal(t, `receipt-RCP "9"; x=1.pdf`, params["filename"])
	assert.NotContains(t, params, "x")
}

func TestReceiptPDFFallsBackWhenRendererFails(t *testing.T) {
	f := newFixture(t)
	receiptBackend(f)
	f.pdf.err = errors.New("gotenberg down")
	sid := f.SignIn(t, portaltest.Student)

	res := f.Get(t, "/student/fee/fee-1/receipt?format=pdf", sid)
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/student/fee/fee-1/receipt", res.Header().Get("Location"))
	flashes := f.Flashes(t, sid)
	require.NotEmpty(t, flashes)
	assert.Equal(t, "PDF receipts are not available right now", flashes[len(flashes)-1].Message)
}

func TestReceiptNotFound(t *testing.T) {
	f := newFixture(t)
	f.Backend.JSON("GET /student/fee/missing/receipt", http.StatusNotFound, map[string]any{"message": "Receipt not found"})
	sid := f.SignIn(t, portaltest.Student)

	res := f.Get(t, "/student/fee/missing/receipt", sid)
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/student/fees", res.Header().Get("Location"))
}
