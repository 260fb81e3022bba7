package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Lease struct {
	ID         string
	CustomerID string

	LeasingAmount      decimal.Decimal
	MonthlyInstallment decimal.Decimal
	LeaseDuration      int
	LeaseStartDate     time.Time

	// Version is bumped on every committed write and checked on save.
	Version int64

	CreatedAt *time.Time
}

func (l Lease) Validate() error {
	if l.LeaseDuration < 1 {
		return &InvalidLeaseError{Field: "leaseDuration", Reason: "must be at least 1"}
	}
	if l.MonthlyInstallment.IsNegative() {
		return &InvalidLeaseError{Field: "monthlyInstallment", Reason: "must not be negative"}
	}
	if l.LeasingAmount.IsNegative() {
		return &InvalidLeaseError{Field: "leasingAmount", Reason: "must not be negative"}
	}
	if l.LeaseStartDate.IsZero() {
		return &InvalidLeaseError{Field: "leaseStartDate", Reason: "is required"}
	}
	return nil
}

// ContractTotal is monthlyInstallment * leaseDuration.
func (l Lease) ContractTotal() decimal.Decimal {
	return l.MonthlyInstallment.Mul(decimal.NewFromInt(int64(l.LeaseDuration)))
}

// ExpectedProfit is the fixed margin of the contract, independent of collection.
func (l Lease) ExpectedProfit() decimal.Decimal {
	return l.ContractTotal().Sub(l.LeasingAmount)
}

// LeaseBook is one lease with its whole schedule and credit history, read at
// a single logical instant. All ledger writes operate on a book.
type LeaseBook struct {
	Lease    Lease
	Customer *Customer
	Payments []Payment
	Credits  []CreditGrant
}

func (b *LeaseBook) SortPayments() {
	sort.Slice(b.Payments, func(i, j int) bool {
		return b.Payments[i].SequenceIndex < b.Payments[j].SequenceIndex
	})
}

func (b *LeaseBook) PaymentIndex(paymentID string) int {
	for i := range b.Payments {
		if b.Payments[i].ID == paymentID {
			return i
		}
	}
	return -1
}

// ActiveCreditTotal sums credits currently reducing installments of this lease.
func (b *LeaseBook) ActiveCreditTotal() decimal.Decimal {
	total := decimal.Zero
	for _, g := range b.Credits {
		if g.Active() {
			total = total.Add(g.Amount)
		}
	}
	return total
}

// Conserved reports whether effective amounts plus active credits add up to the contract total.
func (b *LeaseBook) Conserved() bool {
	sum := b.ActiveCreditTotal()
	for _, p := range b.Payments {
		sum = sum.Add(p.EffectiveAmount())
	}
	return sum.Equal(b.Lease.ContractTotal())
}

func (b *LeaseBook) Clone() *LeaseBook {
	c := &LeaseBook{Lease: b.Lease}
	if b.Customer != nil {
		cust := *b.Customer
		c.Customer = &cust
	}
	c.Payments = make([]Payment, len(b.Payments))
	for i, p := range b.Payments {
		c.Payments[i] = p.Clone()
	}
	c.Credits = make([]CreditGrant, len(b.Credits))
	for i, g := range b.Credits {
		c.Credits[i] = g
		if g.RevokedAt != nil {
			v := *g.RevokedAt
			c.Credits[i].RevokedAt = &v
		}
	}
	return c
}
