package procurement

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PayStatus tracks how much of an invoice has been settled.
type PayStatus string

const (
	PayPending PayStatus = "pending"
	PayPartial PayStatus = "partial"
	PayPaid    PayStatus = "paid"
)

// DerivePayStatus maps the paid total against the invoice total.
func DerivePayStatus(paid, total decimal.Decimal) PayStatus {
	switch {
	case paid.GreaterThanOrEqual(total) && total.IsPositive():
		return PayPaid
	case paid.IsPositive():
		return PayPartial
	default:
		return PayPending
	}
}

// Supplier is a purchasing counterparty.
type Supplier struct {
	ID        int64
	Name      string
	TaxID     string
	Email     string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// SupplierInvoice is a received purchase document. Paying it is tracked via
// payments; the due date feeds the alert engine.
type SupplierInvoice struct {
	ID         int64
	Number     string
	SupplierID int64
	IssuedOn   time.Time
	DueOn      *time.Time
	Total      decimal.Decimal
	PayStatus  PayStatus
	Note       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// InvoiceLine links an invoice position to the lot it produced.
type InvoiceLine struct {
	ID        int64
	InvoiceID int64
	ProductID int64
	Qty       decimal.Decimal
	UnitCost  decimal.Decimal
	ExpiresOn time.Time
	MadeOn    *time.Time
	LotID     *int64
}

// Payment is one settlement against an invoice.
type Payment struct {
	ID        int64
	InvoiceID int64
	Amount    decimal.Decimal
	Method    string
	PaidAt    time.Time
	CreatedAt time.Time
}

// SupplierInput creates or updates a supplier.
type SupplierInput struct {
	Name  string `validate:"required,max=120"`
	TaxID string `validate:"max=20"`
	Email string `validate:"omitempty,email,max=120"`
	Phone string `validate:"max=30"`
}

// ReceiveLine is one position of a goods receipt.
type ReceiveLine struct {
	ProductID int64           `validate:"required,gt=0"`
	Qty       decimal.Decimal `validate:"required"`
	UnitCost  decimal.Decimal `validate:"required"`
	LotNumber string          `validate:"max=50"`
	ExpiresOn time.Time       `validate:"required"`
	MadeOn    *time.Time
}

// ReceiveInvoiceInput records an invoice and the stock it delivered in one
// step. Every line becomes a purchase lot.
type ReceiveInvoiceInput struct {
	SupplierID int64     `validate:"required,gt=0"`
	Number     string    `validate:"required,max=50"`
	IssuedOn   time.Time `validate:"required"`
	DueOn      *time.Time
	Note       string        `validate:"max=300"`
	Lines      []ReceiveLine `validate:"required,min=1,dive"`
}

// PaymentInput settles part or all of an invoice.
type PaymentInput struct {
	InvoiceID int64           `validate:"required,gt=0"`
	Amount    decimal.Decimal `validate:"required"`
	Method    string          `validate:"max=40"`
	PaidAt    *time.Time
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	SupplierID int64
	PayStatus  PayStatus
	Limit      int
}

var (
	// ErrSupplierNotFound indicates the supplier does not exist.
	ErrSupplierNotFound = errors.New("procurement: supplier not found")
	// ErrInvoiceNotFound indicates the invoice does not exist.
	ErrInvoiceNotFound = errors.New("procurement: invoice not found")
	// ErrDuplicateInvoice indicates the supplier already has an invoice with
	// this number.
	ErrDuplicateInvoice = errors.New("procurement: invoice number already registered for supplier")
	// ErrDueBeforeIssue indicates a due date earlier than the issue date.
	ErrDueBeforeIssue = errors.New("procurement: due date cannot precede issue date")
	// ErrInvalidAmount indicates a non-positive payment amount.
	ErrInvalidAmount = errors.New("procurement: payment amount must be positive")
	// ErrAlreadyPaid indicates a payment against a settled invoice.
	ErrAlreadyPaid = errors.New("procurement: invoice is already paid")
)
