package rest

import (
	"time"

	"lease-ledger/internal/domain"
	"lease-ledger/internal/service"

	"github.com/shopspring/decimal"
)

type dateOnly time.Time

func (d dateOnly) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(d).Format("2006-01-02") + `"`), nil
}

func datePtr(t *time.Time) *dateOnly {
	if t == nil {
		return nil
	}
	d := dateOnly(*t)
	return &d
}

type customerView struct {
	ID              string          `json:"id"`
	FullName        string          `json:"fullName"`
	PhoneNumber     *string         `json:"phoneNumber"`
	CarBrand        *string         `json:"carBrand"`
	CarModel        *string         `json:"carModel"`
	CarYear         *int            `json:"carYear"`
	CarPurchaseCost decimal.Decimal `json:"carPurchaseCost"`
	CreatedAt       *time.Time      `json:"createdAt,omitempty"`
}

func newCustomerView(c domain.Customer) customerView {
	return customerView{
		ID:              c.ID,
		FullName:        c.FullName,
		PhoneNumber:     c.PhoneNumber,
		CarBrand:        c.CarBrand,
		CarModel:        c.CarModel,
		CarYear:         c.CarYear,
		CarPurchaseCost: c.CarPurchaseCost,
		CreatedAt:       c.CreatedAt,
	}
}

type paymentView struct {
	ID                 string               `json:"id"`
	LeaseID            string               `json:"leaseId"`
	SequenceIndex      int                  `json:"sequenceIndex"`
	DueDate            dateOnly             `json:"dueDate"`
	Amount             decimal.Decimal      `json:"amount"`
	CreditedAmount     decimal.Decimal      `json:"creditedAmount"`
	EffectiveAmount    decimal.Decimal      `json:"effectiveAmount"`
	Status             domain.PaymentStatus `json:"status"`
	Paid               bool                 `json:"paid"`
	PaymentDate        *dateOnly            `json:"paymentDate"`
	ActualAmountPaid   *decimal.Decimal     `json:"actualAmountPaid"`
	ProofOfPaymentPath *string              `json:"proofOfPaymentPath"`
	Notes              *string              `json:"notes"`
	UnallocatedExcess  decimal.Decimal      `json:"unallocatedExcess"`
	Customer           *customerView        `json:"customer,omitempty"`
}

func newPaymentView(p domain.Payment, st domain.PaymentStatus) paymentView {
	return paymentView{
		ID:                 p.ID,
		LeaseID:            p.LeaseID,
		SequenceIndex:      p.SequenceIndex,
		DueDate:            dateOnly(p.DueDate),
		Amount:             p.ScheduledAmount,
		CreditedAmount:     p.CreditedAmount,
		EffectiveAmount:    p.EffectiveAmount(),
		Status:             st,
		Paid:               p.Paid,
		PaymentDate:        datePtr(p.PaymentDate),
		ActualAmountPaid:   p.ActualAmountPaid,
		ProofOfPaymentPath: p.ProofRef,
		Notes:              p.Notes,
		UnallocatedExcess:  p.UnallocatedExcess,
	}
}

func newPaymentRowView(v service.PaymentView) paymentView {
	pv := newPaymentView(v.Payment, v.Status)
	c := newCustomerView(v.Customer)
	pv.Customer = &c
	return pv
}

type leaseView struct {
	ID                 string          `json:"id"`
	CustomerID         string          `json:"customerId"`
	LeasingAmount      decimal.Decimal `json:"leasingAmount"`
	MonthlyInstallment decimal.Decimal `json:"monthlyInstallment"`
	LeaseDuration      int             `json:"leaseDuration"`
	LeaseStartDate     dateOnly        `json:"leaseStartDate"`
	ExpectedProfit     decimal.Decimal `json:"expectedProfit"`
	Version            int64           `json:"version"`
	Payments           []paymentView   `json:"payments"`
}

func newLeaseView(b domain.LeaseBook, now time.Time) leaseView {
	b.SortPayments()
	payments := make([]paymentView, 0, len(b.Payments))
	for _, p := range b.Payments {
		payments = append(payments, newPaymentView(p, domain.DeriveStatus(p, now)))
	}
	return leaseView{
		ID:                 b.Lease.ID,
		CustomerID:         b.Lease.CustomerID,
		LeasingAmount:      b.Lease.LeasingAmount,
		MonthlyInstallment: b.Lease.MonthlyInstallment,
		LeaseDuration:      b.Lease.LeaseDuration,
		LeaseStartDate:     dateOnly(b.Lease.LeaseStartDate),
		ExpectedProfit:     b.Lease.ExpectedProfit(),
		Version:            b.Lease.Version,
		Payments:           payments,
	}
}

type customerDetailView struct {
	customerView
	Leases []leaseView `json:"leases"`
}

type auditEntryView struct {
	ID              string               `json:"id"`
	LeaseID         string               `json:"leaseId"`
	PaymentID       string               `json:"paymentId"`
	Kind            domain.AuditKind     `json:"kind"`
	FromStatus      domain.PaymentStatus `json:"fromStatus,omitempty"`
	ToStatus        domain.PaymentStatus `json:"toStatus,omitempty"`
	Actor           string               `json:"actor"`
	Timestamp       time.Time            `json:"timestamp"`
	Notes           *string              `json:"notes"`
	SourcePaymentID *string              `json:"sourcePaymentId,omitempty"`
	Amount          *decimal.Decimal     `json:"amount,omitempty"`
}

func newAuditViews(entries []domain.AuditEntry) []auditEntryView {
	out := make([]auditEntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryView{
			ID:              e.ID,
			LeaseID:         e.LeaseID,
			PaymentID:       e.PaymentID,
			Kind:            e.Kind,
			FromStatus:      e.FromStatus,
			ToStatus:        e.ToStatus,
			Actor:           e.Actor,
			Timestamp:       e.Timestamp,
			Notes:           e.Notes,
			SourcePaymentID: e.SourcePaymentID,
			Amount:          e.Amount,
		})
	}
	return out
}

type payResponse struct {
	Payment           paymentView          `json:"payment"`
	Overpayment       decimal.Decimal      `json:"overpayment"`
	UnallocatedExcess decimal.Decimal      `json:"unallocatedExcess"`
	Allocations       []service.Allocation `json:"allocations"`
}

type revertResponse struct {
	Payment        paymentView   `json:"payment"`
	RevokedCredits int           `json:"revokedCredits"`
	Reopened       []paymentView `json:"reopened"`
}
