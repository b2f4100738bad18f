package domain

import (
	"regexp"
	"time"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderRequested OrderStatus = "REQUESTED"
	OrderPaid      OrderStatus = "PAID"
	OrderFailed    OrderStatus = "FAILED"
)

type OrderType string

const (
	OrderPurchase       OrderType = "PURCHASE"
	OrderUpgradeRequest OrderType = "UPGRADE_REQUEST"
)

const (
	PurchasePrefix = "PRO"
	RequestPrefix  = "REQ"

	// Placeholders for orders rebuilt from the transaction log after a restart.
	UnknownEmail = "UNKNOWN (Server Restart)"
	UnknownPlan  = "unknown"
)

var orderCodePattern = regexp.MustCompile(`^(PRO|REQ)\d{6}$`)

// IsOrderCode reports whether code has the shape of an issued order code.
func IsOrderCode(code string) bool {
	return orderCodePattern.MatchString(code)
}

// Order is a promise to upgrade Emails to PlanID once Amount (minor units) is received.
type Order struct {
	Code        string      `json:"code"`
	Emails      []string    `json:"emails"`
	PlanID      string      `json:"planId"`
	Amount      int64       `json:"amount"`
	Status      OrderStatus `json:"status"`
	Type        OrderType   `json:"type"`
	ContactInfo string      `json:"contactInfo,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	PaidAt      *time.Time  `json:"paidAt,omitempty"`
}

// Clone returns a deep copy so callers never share the ledger's backing slices.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Emails = append([]string(nil), o.Emails...)
	if o.PaidAt != nil {
		t := *o.PaidAt
		cp.PaidAt = &t
	}
	return &cp
}

// Covers reports whether paid satisfies the order. Overpayment is accepted.
func (o *Order) Covers(paid int64) bool {
	return paid >= o.Amount
}
