package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Payment struct {
	ID            string
	LeaseID       string
	SequenceIndex int

	DueDate         time.Time
	ScheduledAmount decimal.Decimal
	// CreditedAmount is the part of ScheduledAmount forgiven by earlier overpayments.
	CreditedAmount decimal.Decimal

	Paid             bool
	ActualAmountPaid *decimal.Decimal
	PaymentDate      *time.Time
	ProofRef         *string
	Notes            *string

	// UnallocatedExcess is the overpayment that found no unpaid installment to
	// land on. It is owed back to the customer and cleared when the payment is reverted.
	UnallocatedExcess decimal.Decimal

	CreatedAt *time.Time
	UpdatedAt *time.Time
}

// EffectiveAmount is what is still owed for this installment, never negative.
func (p Payment) EffectiveAmount() decimal.Decimal {
	eff := p.ScheduledAmount.Sub(p.CreditedAmount)
	if eff.IsNegative() {
		return decimal.Zero
	}
	return eff
}

// CollectedAmount is what a paid installment contributes to collected totals.
func (p Payment) CollectedAmount() decimal.Decimal {
	if !p.Paid {
		return decimal.Zero
	}
	if p.ActualAmountPaid != nil {
		return *p.ActualAmountPaid
	}
	return p.ScheduledAmount
}

func (p Payment) Status(now time.Time) PaymentStatus {
	return DeriveStatus(p, now)
}

// Clone returns a copy that shares no pointers with p.
func (p Payment) Clone() Payment {
	c := p
	if p.ActualAmountPaid != nil {
		v := *p.ActualAmountPaid
		c.ActualAmountPaid = &v
	}
	if p.PaymentDate != nil {
		v := *p.PaymentDate
		c.PaymentDate = &v
	}
	if p.ProofRef != nil {
		v := *p.ProofRef
		c.ProofRef = &v
	}
	if p.Notes != nil {
		v := *p.Notes
		c.Notes = &v
	}
	if p.CreatedAt != nil {
		v := *p.CreatedAt
		c.CreatedAt = &v
	}
	if p.UpdatedAt != nil {
		v := *p.UpdatedAt
		c.UpdatedAt = &v
	}
	return c
}

// CreditGrant records that SourcePaymentID's overpayment reduced TargetPaymentID.
// Grants are revoked, never deleted.
type CreditGrant struct {
	ID              string
	LeaseID         string
	SourcePaymentID string
	TargetPaymentID string
	Amount          decimal.Decimal
	GrantedAt       time.Time
	RevokedAt       *time.Time
}

func (g CreditGrant) Active() bool {
	return g.RevokedAt == nil
}
