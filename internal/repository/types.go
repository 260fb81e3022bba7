package repository

import (
	"time"

	"lease-ledger/internal/domain"
)

// PaymentsFilter narrows the payment listing. Derived-status filters are
// expressed by the caller as Paid/DueBefore/DueFrom computed from its clock.
type PaymentsFilter struct {
	Search *string // customer full name substring, case-insensitive

	Paid      *bool
	DueFrom   *time.Time // inclusive
	DueTo     *time.Time // inclusive
	DueBefore *time.Time // exclusive

	LeaseID    *string
	CustomerID *string
}

// PaymentRow is a payment with its lease and customer denormalized.
type PaymentRow struct {
	Payment  domain.Payment
	Lease    domain.Lease
	Customer domain.Customer
}

// BookChange is everything one ledger operation writes. Stores apply it
// atomically and only if the lease is still at ExpectedVersion.
type BookChange struct {
	LeaseID         string
	ExpectedVersion int64

	Payments       []domain.Payment
	NewCredits     []domain.CreditGrant
	RevokedCredits []domain.CreditGrant
	Audit          []domain.AuditEntry
}

// SnapshotFilter scopes a report snapshot by lease start date.
type SnapshotFilter struct {
	StartFrom *time.Time
	StartTo   *time.Time
}

func (f SnapshotFilter) includes(l domain.Lease) bool {
	if f.StartFrom != nil && l.LeaseStartDate.Before(*f.StartFrom) {
		return false
	}
	if f.StartTo != nil && l.LeaseStartDate.After(*f.StartTo) {
		return false
	}
	return true
}
