package payment

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/schoolhub/portal/internal/auth"
	"github.com/schoolhub/portal/internal/backend"
	"github.com/schoolhub/portal/internal/platform/httpx"
	"github.com/schoolhub/portal/internal/screen"
	"github.com/schoolhub/portal/internal/shared"
)

// FeesPath is where a finished payment returns to.
const FeesPath = "/student/fees"

// Handler serves the checkout page and the JSON endpoints payment.js talks to.
type Handler struct {
	kit            *screen.Kit
	flow           *Flow
	publishableKey string
}

// NewHandler constructs a Handler.
func NewHandler(kit *screen.Kit, flow *Flow, publishableKey string) *Handler {
	return &Handler{kit: kit, flow: flow, publishableKey: publishableKey}
}

// MountRoutes registers routes under /student.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/fees/pay", h.checkout)
	r.Post("/payment/intent", h.intent)
	r.Post("/payment/complete", h.complete)
}

type checkoutPage struct {
	Amount         float64
	PublishableKey string
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	amount := screen.FloatValue(r.URL.Query().Get("amount"))
	if amount <= 0 {
		h.kit.Reject(w, r, FeesPath, "Choose an amount to pay")
		return
	}
	h.kit.Render(w, r, screen.Page{
		Name:  "pages/student/pay.html",
		Title: "Make Payment",
		Data:  checkoutPage{Amount: amount, PublishableKey: h.publishableKey},
	})
}

type intentBody struct {
	Amount float64 `json:"amount"`
}

type intentReply struct {
	AttemptID    string  `json:"attemptId"`
	ClientSecret string  `json:"clientSecret"`
	Amount       float64 `json:"amount"`
}

type completeReply struct {
	Result    Result `json:"result"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Redirect  string `json:"redirect,omitempty"`
}

func (h *Handler) intent(w http.ResponseWriter, r *http.Request) {
	var body intentBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payment request")
		return
	}
	attempt, err := h.flow.Begin(r.Context(), body.Amount)
	if err != nil {
		var perr *PaymentError
		if errors.As(err, &perr) {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Payment Failed", perr.Message)
			return
		}
		h.respondError(w, err, "Failed to start payment")
		return
	}
	if err := SaveAttempt(shared.SessionFromContext(r.Context()), attempt); err != nil {
		h.kit.Logger().Error("store payment attempt", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, intentReply{AttemptID: attempt.ID, ClientSecret: attempt.ClientSecret, Amount: attempt.Amount})
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	var outcome Outcome
	if err := httpx.DecodeJSON(r, &outcome); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payment outcome")
		return
	}
	sess := shared.SessionFromContext(r.Context())
	attempt, err := LoadAttempt(sess, outcome.AttemptID)
	if err != nil {
		httpx.Problem(w, http.StatusConflict, "Payment Not Found", "This payment is no longer in progress. Please start again.")
		return
	}

	result, err := h.flow.Complete(r.Context(), attempt, outcome)
	switch result {
	case ResultPaid:
		ClearAttempt(sess)
		shared.Notify(r.Context(), shared.FlashSuccess, PaidNotice)
		httpx.JSON(w, http.StatusOK, completeReply{Result: result, Message: PaidNotice, Redirect: FeesPath})
	case ResultPendingVerification:
		ClearAttempt(sess)
		if errors.Is(err, backend.ErrUnauthorized) {
			httpx.JSON(w, http.StatusUnauthorized, completeReply{Result: result, Message: auth.ExpiredNotice, Redirect: auth.LoginPath})
			return
		}
		shared.Notify(r.Context(), shared.FlashWarning, PendingNotice)
		httpx.JSON(w, http.StatusAccepted, completeReply{Result: result, Message: PendingNotice, Redirect: FeesPath})
	case ResultFailed:
		ClearAttempt(sess)
		shared.Notify(r.Context(), shared.FlashError, FailedNotice)
		httpx.JSON(w, http.StatusUnprocessableEntity, completeReply{Result: result, Message: FailedNotice, Redirect: FeesPath})
	default:
		msg := DeclinedNotice
		var perr *PaymentError
		if errors.As(err, &perr) && perr.Message != "" {
			msg = perr.Message
		}
		httpx.JSON(w, http.StatusPaymentRequired, completeReply{Result: ResultDeclined, Message: msg, Retryable: true})
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, backend.ErrUnauthorized) {
		httpx.JSON(w, http.StatusUnauthorized, completeReply{Message: auth.ExpiredNotice, Redirect: auth.LoginPath})
		return
	}
	h.kit.Logger().Warn("payment request failed", slog.Any("error", err))
	httpx.Problem(w, httpx.StatusFor(err), "Payment Failed", backend.Message(err, fallback))
}

// SaveAttempt keeps attempt in the session, replacing any earlier one.
func SaveAttempt(sess *shared.Session, attempt Attempt) error {
	if sess == nil {
		return errors.New("payment: no session")
	}
	raw, err := json.Marshal(attempt)
	if err != nil {
		return err
	}
	sess.Set(SessionKey, string(raw))
	return nil
}

// LoadAttempt returns the attempt in progress when it matches id.
func LoadAttempt(sess *shared.Session, id string) (Attempt, error) {
	if sess == nil {
		return Attempt{}, ErrNoAttempt
	}
	raw := sess.Get(SessionKey)
	if raw == "" {
		return Attempt{}, ErrNoAttempt
	}
	var attempt Attempt
	if err := json.Unmarshal([]byte(raw), &attempt); err != nil {
		return Attempt{}, ErrNoAttempt
	}
	if attempt.ID != id {
		return Attempt{}, ErrAttemptMismatch
	}
	return attempt, nil
}

// ClearAttempt forgets the attempt in progress.
func ClearAttempt(sess *shared.Session) {
	if sess != nil {
		sess.Delete(SessionKey)
	}
}
