package domain

import (
	"fmt"
	"time"
)

type PaymentStatus string

const (
	StatusPending PaymentStatus = "pending"
	StatusOverdue PaymentStatus = "overdue"
	StatusPaid    PaymentStatus = "paid"
)

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch PaymentStatus(s) {
	case StatusPending, StatusOverdue, StatusPaid:
		return PaymentStatus(s), nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

// DeriveStatus is the only source of a payment's status. Paid is sticky;
// otherwise a payment is overdue once its due date is strictly before the
// calendar date of now (due today is still pending).
func DeriveStatus(p Payment, now time.Time) PaymentStatus {
	if p.Paid {
		return StatusPaid
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	dy, dm, dd := p.DueDate.Date()
	due := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	if due.Before(today) {
		return StatusOverdue
	}
	return StatusPending
}
