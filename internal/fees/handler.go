package fees

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/schoolhub/portal/internal/backend"
	"github.com/schoolhub/portal/internal/payment"
	"github.com/schoolhub/portal/internal/school"
	"github.com/schoolhub/portal/internal/screen"
	"github.com/schoolhub/portal/internal/students"
	"github.com/schoolhub/portal/report"
)

// PDFRenderer converts an HTML document into a PDF.
type PDFRenderer interface {
	RenderHTML(ctx context.Context, html []byte, page report.Page) ([]byte, error)
}

// Handler serves the fee screens for admins and students.
type Handler struct {
	kit      *screen.Kit
	fees     *Service
	payments *payment.Flow
	roster   *students.Service
	pdf      PDFRenderer
}

// NewHandler constructs a Handler. pdf may be nil, which disables PDF receipts.
func NewHandler(kit *screen.Kit, fees *Service, payments *payment.Flow, roster *students.Service, pdf PDFRenderer) *Handler {
	return &Handler{kit: kit, fees: fees, payments: payments, roster: roster, pdf: pdf}
}

// MountAdmin registers routes under /admin.
func (h *Handler) MountAdmin(r chi.Router) {
	r.Get("/fees", h.register)
	r.Get("/fees/manual", h.showManual)
	r.Post("/fees/manual", h.recordManual)
}

// MountStudent registers routes under /student.
func (h *Handler) MountStudent(r chi.Router) {
	r.Get("/fees", h.account)
	r.Get("/fee/{feeID}/receipt", h.receipt)
}

type registerPage struct {
	Status   string
	Statuses []string
	Register Register
	PageBase string
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	if !validStatus(status) {
		status = ""
	}
	page := screen.IntParam(q, "page", 1)
	filter := url.Values{}
	if status != "" {
		filter.Set("status", status)
	}
	key := screen.Key{Screen: "admin.fees", Filter: url.Values{"status": {status}, "page": {strconv.Itoa(page)}}}
	reg, stale, err := screen.Fetch(r.Context(), h.kit, key, "Failed to load fees", func(ctx context.Context) (Register, error) {
		return h.fees.Register(ctx, status, page)
	})
	if err != nil {
		h.kit.Fail(w, r, err, "Failed to load fees", "/admin")
		return
	}
	data := registerPage{
		Status:   status,
		Statuses: Statuses,
		Register: reg,
		PageBase: screen.PageBase("/admin/fees", filter),
	}
	h.kit.Render(w, r, screen.Page{Name: "pages/admin/fees.html", Title: "Fee Management", Stale: stale, Data: data})
}

func validStatus(s string) bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

type manualForm struct {
	StudentID     string `form:"studentId" validate:"required"`
	Amount        string `form:"amount" validate:"required,numeric"`
	FeeType       string `form:"feeType" validate:"required,oneof=tuition transport library laboratory sports examination other"`
	PaymentMethod string `form:"paymentMethod" validate:"required,oneof=cash cheque bank_transfer online"`
	Description   string `form:"description" validate:"max=200"`
}

type manualPage struct {
	Form     manualForm
	Errors   map[string]string
	Students []school.Student
	Types    []string
	Methods  []string
}

func (h *Handler) renderManual(w http.ResponseWriter, r *http.Request, status int, page manualPage, cause error) {
	list, err := h.roster.All(r.Context(), students.Query{})
	if err != nil && cause == nil {
		h.kit.Fail(w, r, err, "Failed to load students", "/admin/fees")
		return
	}
	page.Students = list
	page.Types = Types
	page.Methods = Methods
	p := screen.Page{Name: "pages/admin/fee_form.html", Title: "Record Payment", Status: status, Data: page}
	if cause != nil {
		h.kit.Invalid(w, r, cause, "Failed to record payment", p)
		return
	}
	h.kit.Render(w, r, p)
}

func (h *Handler) showManual(w http.ResponseWriter, r *http.Request) {
	form := manualForm{StudentID: r.URL.Query().Get("student"), FeeType: "tuition", PaymentMethod: "cash"}
	h.renderManual(w, r, http.StatusOK, manualPage{Form: form}, nil)
}

func (h *Handler) recordManual(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := manualForm{
		StudentID:     strings.TrimSpace(r.PostFormValue("studentId")),
		Amount:        strings.TrimSpace(r.PostFormValue("amount")),
		FeeType:       r.PostFormValue("feeType"),
		PaymentMethod: r.PostFormValue("paymentMethod"),
		Description:   strings.TrimSpace(r.PostFormValue("description")),
	}
	errs := h.kit.Forms().Check(form)
	amount := screen.FloatValue(form.Amount)
	if _, bad := errs["amount"]; !bad && amount <= 0 {
		if errs == nil {
			errs = map[string]string{}
		}
		errs["amount"] = "Amount must be greater than 0"
	}
	if len(errs) > 0 {
		h.renderManual(w, r, http.StatusUnprocessableEntity, manualPage{Form: form, Errors: errs}, nil)
		return
	}
	fee := ManualFee{
		StudentID:     form.StudentID,
		Amount:        amount,
		FeeType:       form.FeeType,
		PaymentMethod: form.PaymentMethod,
		Description:   form.Description,
	}
	if err := h.fees.RecordManual(r.Context(), fee); err != nil {
		h.renderManual(w, r, 0, manualPage{Form: form}, err)
		return
	}
	h.kit.Done(w, r, "/admin/fees", "Payment recorded successfully")
}

type accountPage struct {
	Account  Account
	Progress int
	Payments []school.Fee
	Pending  []payment.Verification
}

// AwaitingVerification sums the charges the backend has not confirmed yet.
func (p accountPage) AwaitingVerification() float64 {
	var total float64
	for _, v := range p.Pending {
		total += v.Amount
	}
	return total
}

func (h *Handler) account(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	// Confirmations the backend missed are retried before the balance is read.
	pending, err := h.payments.RetryPending(ctx)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			h.kit.Fail(w, r, err, "", "/student")
			return
		}
		h.kit.Logger().Warn("retry pending payments", slog.Any("error", err))
	}

	var (
		acct         Account
		history      []school.Fee
		stale, stale2 bool
	)
	// Both fetches finish so a rejected credential cannot cancel its sibling
	// into a spurious failure notice.
	var g errgroup.Group
	g.Go(func() error {
		var err error
		acct, stale, err = screen.Fetch(ctx, h.kit, screen.Key{Screen: "student.fees"}, "Failed to load fee details", h.fees.Account)
		return err
	})
	g.Go(func() error {
		var err error
		history, stale2, err = screen.Fetch(ctx, h.kit, screen.Key{Screen: "student.payments"}, "Failed to load payment history", h.payments.History)
		return err
	})
	if err := g.Wait(); err != nil {
		h.kit.Fail(w, r, err, "Failed to load fee details", "/student")
		return
	}

	data := accountPage{
		Account:  acct,
		Progress: Progress(acct.Summary),
		Payments: history,
		Pending:  pending,
	}
	h.kit.Render(w, r, screen.Page{Name: "pages/student/fees.html", Title: "Fee Payment", Stale: stale || stale2, Data: data})
}

func (h *Handler) receipt(w http.ResponseWriter, r *http.Request) {
	feeID := chi.URLParam(r, "feeID")
	rec, err := h.fees.Receipt(r.Context(), feeID)
	if err != nil {
		h.kit.Fail(w, r, err, "Failed to load receipt", "/student/fees")
		return
	}
	if r.URL.Query().Get("format") != "pdf" {
		h.kit.Render(w, r, screen.Page{Name: "pages/student/receipt.html", Title: "Receipt " + rec.ReceiptNumber, Data: rec})
		return
	}

	htmlPath := "/student/fee/" + url.PathEscape(feeID) + "/receipt"
	if h.pdf == nil {
		h.kit.Reject(w, r, htmlPath, "PDF receipts are not available right now")
		return
	}
	var doc bytes.Buffer
	if err := h.kit.Templates().Execute(&doc, "pages/student/receipt_print.html", rec); err != nil {
		h.kit.Logger().Error("render receipt document", slog.Any("error", err))
		h.kit.Reject(w, r, htmlPath, "PDF receipts are not available right now")
		return
	}
	pdf, err := h.pdf.RenderHTML(r.Context(), doc.Bytes(), report.A5)
	if err != nil {
		h.kit.Logger().Warn("render receipt pdf", slog.String("fee", feeID), slog.Any("error", err))
		h.kit.Reject(w, r, htmlPath, "PDF receipts are not available right now")
		return
	}
	name := rec.ReceiptNumber
	if name == "" {
		name = feeID
	}
	w.Header().Set("Content-Type", "application/pdf")
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": "receipt-" + name + ".pdf"})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", disposition)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
