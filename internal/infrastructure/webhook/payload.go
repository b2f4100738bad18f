package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"proupgrade-backend/internal/domain"
)

const sepayDateLayout = "2006-01-02 15:04:05"

// Payload is a SePay-style transfer notice. Every field is optional; amounts
// may arrive as JSON numbers or strings.
type Payload struct {
	Gateway         string              `json:"gateway"`
	TransactionDate string              `json:"transactionDate"`
	AccountNumber   string              `json:"accountNumber"`
	SubAccount      *string             `json:"subAccount"`
	TransferType    string              `json:"transferType"`
	TransferAmount  decimal.NullDecimal `json:"transferAmount"`
	Amount          decimal.NullDecimal `json:"amount"`
	Accumulated     decimal.NullDecimal `json:"accumulated"`
	Code            *string             `json:"code"`
	Content         string              `json:"content"`
	ReferenceCode   string              `json:"referenceCode"`
	Description     string              `json:"description"`
}

// Decode parses body leniently; unknown fields are ignored.
func Decode(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	return &p, nil
}

// PaidAmount prefers transferAmount and falls back to amount when the former
// is missing or zero.
func (p *Payload) PaidAmount() decimal.Decimal {
	if p.TransferAmount.Valid && !p.TransferAmount.Decimal.IsZero() {
		return p.TransferAmount.Decimal
	}
	if p.Amount.Valid {
		return p.Amount.Decimal
	}
	return decimal.Zero
}

// Text prefers content and falls back to description.
func (p *Payload) Text() string {
	if strings.TrimSpace(p.Content) != "" {
		return p.Content
	}
	return p.Description
}

// Transaction maps the payload to a log row. raw is kept verbatim as BodyMsg.
func (p *Payload) Transaction(raw []byte, loc *time.Location) *domain.Transaction {
	if loc == nil {
		loc = time.UTC
	}
	gateway := p.Gateway
	if gateway == "" {
		gateway = "SePay"
	}
	date := time.Now().UTC()
	if p.TransactionDate != "" {
		if t, err := time.ParseInLocation(sepayDateLayout, p.TransactionDate, loc); err == nil {
			date = t.UTC()
		} else if t, err := time.Parse(time.RFC3339, p.TransactionDate); err == nil {
			date = t.UTC()
		}
	}
	return &domain.Transaction{
		Gateway:         gateway,
		TransactionDate: date,
		AccountNumber:   p.AccountNumber,
		SubAccount:      deref(p.SubAccount),
		AmountIn:        p.PaidAmount(),
		AmountOut:       decimal.Zero,
		Accumulated:     p.Accumulated,
		Code:            deref(p.Code),
		Content:         p.Text(),
		ReferenceNumber: p.ReferenceCode,
		BodyMsg:         string(raw),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
