package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one inbound bank transfer as recorded in the transaction log.
type Transaction struct {
	ID              int64               `json:"id"`
	Gateway         string              `json:"gateway"`
	TransactionDate time.Time           `json:"transactionDate"`
	AccountNumber   string              `json:"accountNumber,omitempty"`
	SubAccount      string              `json:"subAccount,omitempty"`
	AmountIn        decimal.Decimal     `json:"amountIn"`
	AmountOut       decimal.Decimal     `json:"amountOut"`
	Accumulated     decimal.NullDecimal `json:"accumulated"`
	Code            string              `json:"code,omitempty"`
	Content         string              `json:"content"`
	ReferenceNumber string              `json:"referenceNumber,omitempty"`
	BodyMsg         string              `json:"-"`
	CreatedAt       time.Time           `json:"createdAt"`
}

// PaidAmount is the inbound amount in integer minor units; fractions are dropped.
func (t *Transaction) PaidAmount() int64 {
	return t.AmountIn.IntPart()
}
