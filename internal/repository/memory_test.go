package repository

import (
	"context"
	"testing"
	"time"

	"lease-ledger/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func strp(s string) *string { return &s }

// seedLease stores a lease of n installments of 100 starting on start.
func seedLease(t *testing.T, s *MemoryStore, leaseID, customerID, name string, start time.Time, n int) []domain.Payment {
	t.Helper()
	customer := domain.Customer{ID: customerID, FullName: name}
	lease := domain.Lease{
		ID:                 leaseID,
		CustomerID:         customerID,
		LeasingAmount:      decimal.NewFromInt(int64(n) * 80),
		MonthlyInstallment: decimal.NewFromInt(100),
		LeaseDuration:      n,
		LeaseStartDate:     start,
	}
	payments := make([]domain.Payment, n)
	for i := range payments {
		payments[i] = domain.Payment{
			ID:              leaseID + "-p" + string(rune('0'+i)),
			LeaseID:         leaseID,
			SequenceIndex:   i,
			DueDate:         start.AddDate(0, i, 0),
			ScheduledAmount: decimal.NewFromInt(100),
		}
	}
	require.NoError(t, s.CreateLease(context.Background(), customer, lease, payments))
	return payments
}

func TestMemoryStore_LoadBookReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	seedLease(t, s, "l1", "c1", "Ana Lima", date(2024, 1, 1), 3)

	book, err := s.LoadBook(context.Background(), "l1")
	require.NoError(t, err)
	require.Len(t, book.Payments, 3)
	require.NotNil(t, book.Customer)
	assert.Equal(t, "Ana Lima", book.Customer.FullName)

	book.Payments[0].Paid = true
	book.Payments[0].Notes = strp("changed")

	again, err := s.LoadBook(context.Background(), "l1")
	require.NoError(t, err)
	assert.False(t, again.Payments[0].Paid)
	assert.Nil(t, again.Payments[0].Notes)
}

func TestMemoryStore_NotFound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.LoadBook(ctx, "missing")
	var leaseErr *domain.LeaseNotFoundError
	assert.ErrorAs(t, err, &leaseErr)

	_, err = s.LeaseIDForPayment(ctx, "missing")
	var paymentErr *domain.PaymentNotFoundError
	assert.ErrorAs(t, err, &paymentErr)

	_, _, err = s.GetCustomer(ctx, "missing")
	var customerErr *domain.CustomerNotFoundError
	assert.ErrorAs(t, err, &customerErr)
}

func TestMemoryStore_CreateLeaseTwice(t *testing.T) {
	s := NewMemoryStore()
	payments := seedLease(t, s, "l1", "c1", "Ana Lima", date(2024, 1, 1), 1)

	err := s.CreateLease(context.Background(), domain.Customer{ID: "c1"}, domain.Lease{ID: "l1"}, payments)
	assert.Error(t, err)
}

func TestMemoryStore_SaveBookBumpsVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedLease(t, s, "l1", "c1", "Ana Lima", date(2024, 1, 1), 2)

	book, err := s.LoadBook(ctx, "l1")
	require.NoError(t, err)

	paid := book.Payments[0]
	paid.Paid = true
	amount := decimal.NewFromInt(150)
	paid.ActualAmountPaid = &amount

	target := book.Payments[1]
	target.CreditedAmount = decimal.NewFromInt(50)

	grant := domain.CreditGrant{
		ID: "g1", LeaseID: "l1", SourcePaymentID: paid.ID, TargetPaymentID: target.ID,
		Amount: decimal.NewFromInt(50), GrantedAt: date(2024, 1, 5),
	}
	err = s.SaveBook(ctx, BookChange{
		LeaseID:         "l1",
		ExpectedVersion: book.Lease.Version,
		Payments:        []domain.Payment{paid, target},
		NewCredits:      []domain.CreditGrant{grant},
		Audit: []domain.AuditEntry{{
			ID: "a1", LeaseID: "l1", PaymentID: paid.ID, Kind: domain.AuditTransition,
			FromStatus: domain.StatusPending, ToStatus: domain.StatusPaid, Actor: "7", Timestamp: date(2024, 1, 5),
		}},
	})
	require.NoError(t, err)

	after, err := s.LoadBook(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, book.Lease.Version+1, after.Lease.Version)
	assert.True(t, after.Payments[0].Paid)
	assert.Equal(t, "50", after.Payments[1].EffectiveAmount().String())
	require.Len(t, after.Credits, 1)
	assert.True(t, after.Conserved())

	// the same expected version is now stale
	err = s.SaveBook(ctx, BookChange{LeaseID: "l1", ExpectedVersion: book.Lease.Version})
	var conflict *domain.ConcurrentModificationError
	assert.ErrorAs(t, err, &conflict)
}

func TestMemoryStore_SaveBookRejectsUnknownPaymentWithoutSideEffects(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedLease(t, s, "l1", "c1", "Ana Lima", date(2024, 1, 1), 2)

	book, err := s.LoadBook(ctx, "l1")
	require.NoError(t, err)

	known := book.Payments[0]
	known.Paid = true
	err = s.SaveBook(ctx, BookChange{
		LeaseID:         "l1",
		ExpectedVersion: book.Lease.Version,
		Payments:        []domain.Payment{known, {ID: "ghost"}},
		Audit:           []domain.AuditEntry{{ID: "a1", LeaseID: "l1", PaymentID: known.ID}},
	})
	var notFound *domain.PaymentNotFoundError
	require.ErrorAs(t, err, &notFound)

	after, err := s.LoadBook(ctx, "l1")
	require.NoError(t, err)
	assert.False(t, after.Payments[0].Paid)
	assert.Equal(t, book.Lease.Version, after.Lease.Version)

	entries, err := s.EntriesForLease(ctx, "l1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryStore_RevokeCredit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	payments := seedLease(t, s, "l1", "c1", "Ana Lima", date(2024, 1, 1), 2)

	grant := domain.CreditGrant{ID: "g1", LeaseID: "l1", SourcePaymentID: payments[0].ID, TargetPaymentID: payments[1].ID, Amount: decimal.NewFromInt(10)}
	require.NoError(t, s.SaveBook(ctx, BookChange{LeaseID: "l1", ExpectedVersion: 0, NewCredits: []domain.CreditGrant{grant}}))

	revokedAt := date(2024, 2, 1)
	grant.RevokedAt = &revokedAt
	require.NoError(t, s.SaveBook(ctx, BookChange{LeaseID: "l1", ExpectedVersion: 1, RevokedCredits: []domain.CreditGrant{grant}}))

	book, err := s.LoadBook(ctx, "l1")
	require.NoError(t, err)
	require.Len(t, book.Credits, 1)
	assert.False(t, book.Credits[0].Active())
	assert.True(t, book.ActiveCreditTotal().IsZero())

	err = s.SaveBook(ctx, BookChange{LeaseID: "l1", ExpectedVersion: 2, RevokedCredits: []domain.CreditGrant{{ID: "nope"}}})
	assert.Error(t, err)
}

func TestMemoryStore_AuditOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	payments := seedLease(t, s, "l1", "c1", "Ana Lima", date(2024, 1, 1), 2)

	ts := date(2024, 1, 10)
	require.NoError(t, s.SaveBook(ctx, BookChange{LeaseID: "l1", ExpectedVersion: 0, Audit: []domain.AuditEntry{
		{ID: "late", LeaseID: "l1", PaymentID: payments[0].ID, Timestamp: ts.Add(time.Hour)},
		{ID: "first", LeaseID: "l1", PaymentID: payments[0].ID, Timestamp: ts},
		{ID: "second", LeaseID: "l1", PaymentID: payments[0].ID, Timestamp: ts},
		{ID: "other", LeaseID: "l1", PaymentID: payments[1].ID, Timestamp: ts},
	}}))

	entries, err := s.EntriesForPayment(ctx, payments[0].ID)
	require.NoError(t, err)
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"first", "second", "late"}, ids)

	all, err := s.EntriesForLease(ctx, "l1")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestMemoryStore_ListPaymentsFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedLease(t, s, "l1", "c1", "Ana Lima", date(2024, 1, 1), 3)
	seedLease(t, s, "l2", "c2", "Bruno Costa", date(2024, 2, 15), 2)

	rows, err := s.ListPayments(ctx, PaymentsFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for i := 1; i < len(rows); i++ {
		assert.False(t, rows[i].Payment.DueDate.Before(rows[i-1].Payment.DueDate), "rows are ordered by due date")
	}

	rows, err = s.ListPayments(ctx, PaymentsFilter{Search: strp("  bruno ")})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	from, to := date(2024, 2, 1), date(2024, 2, 29)
	rows, err = s.ListPayments(ctx, PaymentsFilter{DueFrom: &from, DueTo: &to})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	before := date(2024, 2, 1)
	rows, err = s.ListPayments(ctx, PaymentsFilter{DueBefore: &before})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	paid := true
	n, err := s.CountPayments(ctx, PaymentsFilter{Paid: &paid})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.CountPayments(ctx, PaymentsFilter{CustomerID: strp("c1")})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestMemoryStore_SnapshotWindow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedLease(t, s, "l2", "c2", "Bruno Costa", date(2024, 2, 15), 1)
	seedLease(t, s, "l1", "c1", "Ana Lima", date(2024, 1, 1), 1)
	seedLease(t, s, "l3", "c3", "Carla Dias", date(2024, 3, 1), 1)

	books, err := s.Snapshot(ctx, SnapshotFilter{})
	require.NoError(t, err)
	require.Len(t, books, 3)
	assert.Equal(t, "l1", books[0].Lease.ID)
	assert.Equal(t, "l3", books[2].Lease.ID)

	from, to := date(2024, 2, 1), date(2024, 2, 29)
	books, err = s.Snapshot(ctx, SnapshotFilter{StartFrom: &from, StartTo: &to})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "l2", books[0].Lease.ID)
}

func TestMemoryStore_Customers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedLease(t, s, "l1", "c1", "bruno Costa", date(2024, 1, 1), 1)
	seedLease(t, s, "l2", "c2", "Ana Lima", date(2024, 1, 1), 1)
	seedLease(t, s, "l3", "c2", "Ana Lima", date(2024, 6, 1), 1)

	customers, err := s.ListCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, customers, 2)
	assert.Equal(t, "Ana Lima", customers[0].FullName)

	cust, books, err := s.GetCustomer(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, "c2", cust.ID)
	require.Len(t, books, 2)
	assert.Equal(t, "l2", books[0].Lease.ID)
}

func TestMemoryStore_UpdateCustomer(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedLease(t, s, "l1", "c1", "Ana Lima", date(2024, 1, 1), 2)

	year := 2021
	updated, err := s.UpdateCustomer(ctx, domain.Customer{ID: "c1", FullName: "Ana L. Souza", CarYear: &year, PhoneNumber: strp("+994 50 000")})
	require.NoError(t, err)
	assert.Equal(t, "Ana L. Souza", updated.FullName)

	book, err := s.LoadBook(ctx, "l1")
	require.NoError(t, err)
	require.NotNil(t, book.Customer)
	assert.Equal(t, "Ana L. Souza", book.Customer.FullName)
	assert.Equal(t, 2021, *book.Customer.CarYear)
	assert.Len(t, book.Payments, 2)

	_, err = s.UpdateCustomer(ctx, domain.Customer{ID: "missing", FullName: "X"})
	var notFound *domain.CustomerNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestMemoryStore_Tokens(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.AddToken("1|secret", 7, nil)
	expired := time.Now().Add(-time.Minute)
	s.AddToken("2|stale", 8, &expired)

	for _, plain := range []string{"1|secret", "secret", " 1|secret "} {
		pat, err := s.FindTokenByPlainToken(ctx, plain)
		require.NoError(t, err, plain)
		assert.Equal(t, int64(7), pat.UserID)
	}

	_, err := s.FindTokenByPlainToken(ctx, "1|wrong")
	assert.Error(t, err)
	_, err = s.FindTokenByPlainToken(ctx, "2|stale")
	assert.Error(t, err)
}
