package service

import (
	"context"

	"lease-ledger/internal/domain"
)

type AuditStore interface {
	EntriesForPayment(ctx context.Context, paymentID string) ([]domain.AuditEntry, error)
	EntriesForLease(ctx context.Context, leaseID string) ([]domain.AuditEntry, error)
	LeaseIDForPayment(ctx context.Context, paymentID string) (string, error)
	LoadBook(ctx context.Context, leaseID string) (*domain.LeaseBook, error)
}

// AuditLog is the read side of the reconciliation trail. Entries are only
// ever written by Ledger as part of a committed change.
type AuditLog struct {
	store AuditStore
}

func NewAuditLog(store AuditStore) *AuditLog {
	return &AuditLog{store: store}
}

// EntriesForPayment lists transitions of paymentID and credits it received,
// oldest first.
func (a *AuditLog) EntriesForPayment(ctx context.Context, paymentID string) ([]domain.AuditEntry, error) {
	if _, err := a.store.LeaseIDForPayment(ctx, paymentID); err != nil {
		return nil, err
	}
	return a.store.EntriesForPayment(ctx, paymentID)
}

func (a *AuditLog) EntriesForLease(ctx context.Context, leaseID string) ([]domain.AuditEntry, error) {
	if _, err := a.store.LoadBook(ctx, leaseID); err != nil {
		return nil, err
	}
	return a.store.EntriesForLease(ctx, leaseID)
}
