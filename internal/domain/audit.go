package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuditKind string

const (
	AuditTransition    AuditKind = "transition"
	AuditCreditGranted AuditKind = "credit_granted"
	AuditCreditRevoked AuditKind = "credit_revoked"
)

// AuditEntry is immutable once appended.
//
// Transition entries record paid <-> unpaid changes of PaymentID. Credit
// entries are filed under the credited (target) payment and point back to the
// payment whose overpayment produced them via SourcePaymentID.
type AuditEntry struct {
	ID        string
	Seq       int64
	LeaseID   string
	PaymentID string
	Kind      AuditKind

	FromStatus PaymentStatus
	ToStatus   PaymentStatus

	Actor     string
	Timestamp time.Time
	Notes     *string

	SourcePaymentID *string
	Amount          *decimal.Decimal
}
