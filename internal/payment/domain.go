// Package payment drives the two-phase card payment: the portal asks the
// backend for an intent, the browser confirms the card with the processor,
// and the portal tells the backend the fee is paid.
package payment

import (
	"errors"
	"time"

	"github.com/schoolhub/portal/internal/backend"
)

// SessionKey is where the attempt in progress lives in the cookie session.
const SessionKey = "payment_attempt"

// Attempt is one payment in progress.
type Attempt struct {
	ID           string    `json:"id"`
	FeeID        string    `json:"feeId"`
	ClientSecret string    `json:"clientSecret"`
	Amount       float64   `json:"amount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Outcome is what the browser reports after the processor step.
type Outcome struct {
	AttemptID       string `json:"attemptId"`
	PaymentIntentID string `json:"paymentIntentId"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
}

// Succeeded reports whether the processor charged the card.
func (o Outcome) Succeeded() bool {
	return o.Error == "" && o.Status == "succeeded" && o.PaymentIntentID != ""
}

// Result is the final state of an attempt as far as the portal knows.
type Result string

const (
	ResultPaid                Result = "paid"
	ResultDeclined            Result = "declined"
	ResultPendingVerification Result = "pending_verification"
	ResultFailed              Result = "failed"
)

// Messages shown for each result.
const (
	DeclinedNotice = "Payment failed. Please try again."
	PaidNotice     = "Payment successful!"
	PendingNotice  = "Your payment was received but is still being verified. You do not need to pay again."
	FailedNotice   = "Payment could not be completed. Please contact the school office."
)

// PaymentError reports a payment that did not complete. Retryable errors are
// processor declines: nothing was charged and the fee stays pending. A
// non-retryable error means the card was charged and the backend either has
// not recorded it yet or refused it outright.
type PaymentError struct {
	Retryable bool
	Message   string
	Err       error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return "payment: " + e.Message + ": " + e.Err.Error()
	}
	return "payment: " + e.Message
}

func (e *PaymentError) Unwrap() error { return e.Err }

var (
	// ErrAwaitingSignIn means a verification has no live session to confirm with.
	ErrAwaitingSignIn = errors.New("payment: verification waits for the student to sign in")
	// ErrNoAttempt means completion arrived without a begun attempt.
	ErrNoAttempt = errors.New("payment: no payment in progress")
	// ErrAttemptMismatch means the outcome names a different attempt.
	ErrAttemptMismatch = errors.New("payment: outcome does not match the payment in progress")
)

type intentRequest struct {
	Amount float64 `json:"amount"`
}

type intentResponse struct {
	ClientSecret string `json:"clientSecret"`
	FeeID        string `json:"feeId"`
}

type confirmRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
	FeeID           string `json:"feeId"`
}

// Rejected reports whether the backend refused a confirm for good. Another
// try with the same intent and fee cannot succeed.
func Rejected(err error) bool {
	return errors.Is(err, backend.ErrValidation) ||
		errors.Is(err, backend.ErrForbidden) ||
		errors.Is(err, backend.ErrNotFound)
}
