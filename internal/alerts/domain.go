package alerts

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Kind enumerates alert categories. Kind is part of the upsert key: one
// active alert per (subject, kind).
type Kind string

const (
	KindExpiry     Kind = "expiry"
	KindLowStock   Kind = "low_stock"
	KindInvoiceDue Kind = "invoice_due"
)

// Severity is the traffic-light band of an alert.
type Severity string

const (
	SeverityRed    Severity = "red"
	SeverityYellow Severity = "yellow"
	SeverityGreen  Severity = "green"
)

// Status is the alert lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
	StatusIgnored  Status = "ignored"
)

// Alert points at either a product or a supplier invoice, never both.
type Alert struct {
	ID          int64      `json:"id"`
	Kind        Kind       `json:"kind"`
	Severity    Severity   `json:"severity"`
	Status      Status     `json:"status"`
	Message     string     `json:"message"`
	ProductID   *int64     `json:"product_id,omitempty"`
	InvoiceID   *int64     `json:"invoice_id,omitempty"`
	GeneratedAt time.Time  `json:"generated_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// RefreshStats reports what a refresh pass changed.
type RefreshStats struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Resolved int `json:"resolved"`
}

// Changed reports whether the pass touched anything.
func (s RefreshStats) Changed() bool {
	return s.Created+s.Updated+s.Resolved > 0
}

// ProductInfo is the product slice the refresh pass reads.
type ProductInfo struct {
	ID        int64
	Name      string
	Brand     string
	Qty       decimal.Decimal
	MinStock  *decimal.Decimal
	ExpiresOn *time.Time
}

// InvoiceInfo is the unpaid-invoice slice the refresh pass reads.
type InvoiceInfo struct {
	ID           int64
	Number       string
	SupplierName string
	Total        decimal.Decimal
	DueOn        *time.Time
}

// ListFilter narrows alert listings.
type ListFilter struct {
	Kind     Kind
	Status   Status
	Severity Severity
	Limit    int
}

// Summary is the cached dashboard aggregate.
type Summary struct {
	Active int            `json:"active"`
	ByKind map[string]int `json:"by_kind"`
	Red    int            `json:"red"`
	Yellow int            `json:"yellow"`
	Green  int            `json:"green"`
	AsOf   time.Time      `json:"as_of"`
}

// ExpiryRedDays is the band edge: this many days out (or fewer) is red.
const ExpiryRedDays = 13

// ExpiryYellowDays is the band edge: under this many days is yellow.
const ExpiryYellowDays = 30

// InvoiceRedDays and InvoiceYellowDays are the due-date band edges.
const (
	InvoiceRedDays    = 7
	InvoiceYellowDays = 30
)

// ClassifyExpiry maps days-to-expiry to a severity band. Negative means
// already expired.
func ClassifyExpiry(days int) Severity {
	switch {
	case days <= ExpiryRedDays:
		return SeverityRed
	case days < ExpiryYellowDays:
		return SeverityYellow
	default:
		return SeverityGreen
	}
}

// ClassifyInvoiceDue maps days-to-due-date to a severity band.
func ClassifyInvoiceDue(days int) Severity {
	switch {
	case days <= InvoiceRedDays:
		return SeverityRed
	case days <= InvoiceYellowDays:
		return SeverityYellow
	default:
		return SeverityGreen
	}
}

// ErrNotFound indicates the alert does not exist.
var ErrNotFound = errors.New("alerts: alert not found")

// ErrNotActive indicates a resolve/ignore attempt on a closed alert.
var ErrNotActive = errors.New("alerts: alert is not active")

// DaysBetween counts whole days from one date to another, negative when the
// target is in the past.
func DaysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}
