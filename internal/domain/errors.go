package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrAuthenticationRequired is raised by the transport layer, never by the ledger.
var ErrAuthenticationRequired = errors.New("authentication required")

type InvalidLeaseError struct {
	Field  string
	Reason string
}

func (e *InvalidLeaseError) Error() string {
	return fmt.Sprintf("invalid lease: %s %s", e.Field, e.Reason)
}

type InvalidAmountError struct {
	Field  string
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type PaymentNotFoundError struct {
	PaymentID string
}

func (e *PaymentNotFoundError) Error() string {
	return fmt.Sprintf("payment %s not found", e.PaymentID)
}

type LeaseNotFoundError struct {
	LeaseID string
}

func (e *LeaseNotFoundError) Error() string {
	return fmt.Sprintf("lease %s not found", e.LeaseID)
}

type CustomerNotFoundError struct {
	CustomerID string
}

func (e *CustomerNotFoundError) Error() string {
	return fmt.Sprintf("customer %s not found", e.CustomerID)
}

type AlreadyPaidError struct {
	PaymentID string
}

func (e *AlreadyPaidError) Error() string {
	return fmt.Sprintf("payment %s is already paid", e.PaymentID)
}

// ConcurrentModificationError means the lease changed underneath the operation.
// The whole operation may be retried by the caller.
type ConcurrentModificationError struct {
	LeaseID         string
	ExpectedVersion int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("lease %s was modified concurrently (expected version %d)", e.LeaseID, e.ExpectedVersion)
}

// AllocationOverflowError describes overpayment left over after every eligible
// installment was credited. It is reported alongside a successful MarkPaid,
// not returned as a failure.
type AllocationOverflowError struct {
	PaymentID string
	Excess    decimal.Decimal
}

func (e *AllocationOverflowError) Error() string {
	return fmt.Sprintf("overpayment on %s exceeds remaining installments by %s", e.PaymentID, e.Excess.StringFixed(2))
}

func IsNotFound(err error) bool {
	var p *PaymentNotFoundError
	var l *LeaseNotFoundError
	var c *CustomerNotFoundError
	return errors.As(err, &p) || errors.As(err, &l) || errors.As(err, &c)
}
