// Package fees serves the admin fee register and the student fee account.
package fees

import (
	"math"
	"time"

	"github.com/schoolhub/portal/internal/school"
	"github.com/schoolhub/portal/internal/screen"
)

// PageSize is the number of fee rows requested per admin page.
const PageSize = 20

// Statuses offered by the admin status filter.
var Statuses = []string{school.FeePaid, school.FeePending, school.FeePartial, school.FeeOverdue}

// Types offered by the manual fee form.
var Types = []string{"tuition", "transport", "library", "laboratory", "sports", "examination", "other"}

// Methods offered by the manual fee form.
var Methods = []string{"cash", "cheque", "bank_transfer", "online"}

// Progress is the paid share of the total fee as a whole percentage in [0, 100].
func Progress(s school.FeeSummary) int {
	if s.TotalFee <= 0 {
		return 0
	}
	p := int(math.Round(100 * s.PaidAmount / s.TotalFee))
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Account is the student's fee position as the backend reports it.
type Account struct {
	Summary     school.FeeSummary `json:"summary"`
	PendingFees []school.Fee      `json:"pendingFees"`
	PaidFees    []school.Fee      `json:"paidFees"`
}

// Register is one page of the admin fee list.
type Register struct {
	Fees       []school.Fee      `json:"fees"`
	Pagination screen.Pagination `json:"pagination"`
}

// Collected sums the paid rows on the page.
func (r Register) Collected() float64 {
	var total float64
	for _, f := range r.Fees {
		if f.Status == school.FeePaid {
			total += f.Amount
		}
	}
	return total
}

// ManualFee is the body of a manual fee record.
type ManualFee struct {
	StudentID     string  `json:"studentId"`
	Amount        float64 `json:"amount"`
	FeeType       string  `json:"feeType"`
	PaymentMethod string  `json:"paymentMethod"`
	Description   string  `json:"description,omitempty"`
}

// Receipt is the printable proof of one paid fee.
type Receipt struct {
	ReceiptNumber string      `json:"receiptNumber"`
	StudentName   string      `json:"studentName"`
	StudentID     string      `json:"studentId"`
	Class         school.Text `json:"class,omitempty"`
	Section       string      `json:"section,omitempty"`
	FeeType       string      `json:"feeType"`
	Amount        float64     `json:"amount"`
	PaidAt        time.Time   `json:"paidAt"`
	PaymentMethod string      `json:"paymentMethod,omitempty"`
	TransactionID string      `json:"transactionId,omitempty"`
}
