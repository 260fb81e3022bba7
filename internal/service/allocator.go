package service

import (
	"fmt"
	"time"

	"lease-ledger/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Allocation is one credit landed on a target installment.
type Allocation struct {
	TargetPaymentID    string          `json:"targetPaymentId"`
	SequenceIndex      int             `json:"sequenceIndex"`
	Amount             decimal.Decimal `json:"amount"`
	RemainingEffective decimal.Decimal `json:"remainingEffective"`
}

type AllocationResult struct {
	Allocations       []Allocation
	Grants            []domain.CreditGrant
	TotalAllocated    decimal.Decimal
	UnallocatedExcess decimal.Decimal
}

// Allocator spreads an overpayment over the other unpaid installments of a
// lease and undoes that spread on revert. It only mutates the book it is given.
type Allocator struct {
	newID func() string
}

func NewAllocator() *Allocator {
	return &Allocator{newID: uuid.NewString}
}

// Allocate credits overpayment from sourceID to unpaid installments with a
// positive effective amount, lowest sequence first, cascading the remainder.
// Whatever cannot be placed is returned as UnallocatedExcess.
func (a *Allocator) Allocate(book *domain.LeaseBook, sourceID string, overpayment decimal.Decimal, at time.Time) (AllocationResult, error) {
	res := AllocationResult{TotalAllocated: decimal.Zero, UnallocatedExcess: decimal.Zero}

	if book.PaymentIndex(sourceID) < 0 {
		return res, &domain.PaymentNotFoundError{PaymentID: sourceID}
	}
	if overpayment.IsNegative() {
		return res, &domain.InvalidAmountError{Field: "overpayment", Reason: "must not be negative"}
	}
	if overpayment.IsZero() {
		return res, nil
	}

	book.SortPayments()
	remaining := overpayment
	for i := range book.Payments {
		if !remaining.IsPositive() {
			break
		}
		target := &book.Payments[i]
		if target.ID == sourceID || target.Paid {
			continue
		}
		eff := target.EffectiveAmount()
		if !eff.IsPositive() {
			continue
		}

		credit := decimal.Min(remaining, eff)
		target.CreditedAmount = target.CreditedAmount.Add(credit)
		remaining = remaining.Sub(credit)

		grant := domain.CreditGrant{
			ID:              a.newID(),
			LeaseID:         book.Lease.ID,
			SourcePaymentID: sourceID,
			TargetPaymentID: target.ID,
			Amount:          credit,
			GrantedAt:       at,
		}
		book.Credits = append(book.Credits, grant)
		res.Grants = append(res.Grants, grant)
		res.Allocations = append(res.Allocations, Allocation{
			TargetPaymentID:    target.ID,
			SequenceIndex:      target.SequenceIndex,
			Amount:             credit,
			RemainingEffective: target.EffectiveAmount(),
		})
		res.TotalAllocated = res.TotalAllocated.Add(credit)
	}

	res.UnallocatedExcess = remaining
	return res, nil
}

// Rollback revokes every active grant sourced from sourceID and gives each
// target its credited amount back. Revoked grants stay in the book.
func (a *Allocator) Rollback(book *domain.LeaseBook, sourceID string, at time.Time) ([]domain.CreditGrant, error) {
	var revoked []domain.CreditGrant

	for i := range book.Credits {
		g := &book.Credits[i]
		if g.SourcePaymentID != sourceID || !g.Active() {
			continue
		}

		idx := book.PaymentIndex(g.TargetPaymentID)
		if idx < 0 {
			return nil, fmt.Errorf("credit %s targets unknown payment %s", g.ID, g.TargetPaymentID)
		}
		target := &book.Payments[idx]
		restored := target.CreditedAmount.Sub(g.Amount)
		if restored.IsNegative() {
			return nil, fmt.Errorf("credit %s exceeds credited amount of payment %s", g.ID, target.ID)
		}
		target.CreditedAmount = restored

		revokedAt := at
		g.RevokedAt = &revokedAt
		revoked = append(revoked, *g)
	}

	return revoked, nil
}
