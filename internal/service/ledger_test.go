package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lease-ledger/internal/clock"
	"lease-ledger/internal/domain"
	"lease-ledger/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

type fixture struct {
	store  *repository.MemoryStore
	clock  *clock.FakeClock
	ledger *Ledger
	book   *domain.LeaseBook
}

func newFixture(t *testing.T, now time.Time, start time.Time, installment string, duration int) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	clk := clock.NewFakeClock(now)
	ledger := NewLedger(store, clk, nil)

	book, err := ledger.CreateLease(context.Background(),
		domain.Customer{FullName: "Ana Lima"},
		domain.Lease{
			LeasingAmount:      dec("250"),
			MonthlyInstallment: dec(installment),
			LeaseDuration:      duration,
			LeaseStartDate:     start,
		},
	)
	require.NoError(t, err)
	return &fixture{store: store, clock: clk, ledger: ledger, book: book}
}

func (f *fixture) payment(t *testing.T, i int) domain.Payment {
	t.Helper()
	p, _, err := f.ledger.Payment(context.Background(), f.book.Payments[i].ID)
	require.NoError(t, err)
	return p
}

func (f *fixture) status(t *testing.T, i int) domain.PaymentStatus {
	t.Helper()
	_, st, err := f.ledger.Payment(context.Background(), f.book.Payments[i].ID)
	require.NoError(t, err)
	return st
}

func (f *fixture) assertConserved(t *testing.T) {
	t.Helper()
	book, err := f.store.LoadBook(context.Background(), f.book.Lease.ID)
	require.NoError(t, err)
	assert.True(t, book.Conserved(), "effective + active credits must equal the contract total")
}

func TestSchedulePayments(t *testing.T) {
	ledger := NewLedger(repository.NewMemoryStore(), clock.NewFakeClock(day(2024, 1, 1)), nil)

	payments, err := ledger.SchedulePayments(domain.Lease{
		ID:                 "lease-1",
		MonthlyInstallment: dec("100"),
		LeaseDuration:      3,
		LeaseStartDate:     day(2024, 1, 31),
	})
	require.NoError(t, err)
	require.Len(t, payments, 3)

	wantDue := []time.Time{day(2024, 1, 31), day(2024, 2, 29), day(2024, 3, 31)}
	for i, p := range payments {
		assert.Equal(t, i, p.SequenceIndex)
		assert.Equal(t, wantDue[i], p.DueDate)
		assert.True(t, p.ScheduledAmount.Equal(dec("100")))
		assert.True(t, p.CreditedAmount.IsZero())
		assert.False(t, p.Paid)
		assert.Equal(t, "lease-1", p.LeaseID)
	}

	_, err = ledger.SchedulePayments(domain.Lease{MonthlyInstallment: dec("100"), LeaseDuration: 0, LeaseStartDate: day(2024, 1, 1)})
	var invalid *domain.InvalidLeaseError
	assert.ErrorAs(t, err, &invalid)

	_, err = ledger.SchedulePayments(domain.Lease{MonthlyInstallment: dec("-1"), LeaseDuration: 3, LeaseStartDate: day(2024, 1, 1)})
	assert.ErrorAs(t, err, &invalid)
}

// Overpaying the first installment reduces the next one.
func TestMarkPaid_OverpaymentCreditsNextInstallment(t *testing.T) {
	f := newFixture(t, day(2024, 1, 5), day(2024, 1, 1), "100", 3)
	ctx := context.Background()

	res, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{
		PaymentID:    f.book.Payments[0].ID,
		PaymentDate:  day(2024, 1, 5),
		ActualAmount: decPtr("150"),
		Actor:        "7",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPaid, res.Status)
	assert.True(t, res.Overpayment.Equal(dec("50")))
	assert.True(t, res.UnallocatedExcess.IsZero())
	assert.Nil(t, res.Overflow())
	require.Len(t, res.Allocations, 1)
	assert.Equal(t, f.book.Payments[1].ID, res.Allocations[0].TargetPaymentID)
	assert.True(t, res.Allocations[0].Amount.Equal(dec("50")))

	assert.Equal(t, domain.StatusPaid, f.status(t, 0))
	p1 := f.payment(t, 1)
	assert.True(t, p1.EffectiveAmount().Equal(dec("50")))
	assert.Equal(t, domain.StatusPending, f.status(t, 1))
	assert.True(t, f.payment(t, 2).EffectiveAmount().Equal(dec("100")))

	f.assertConserved(t)
}

func TestDerivedStatus_TwoInstallmentsPastDue(t *testing.T) {
	f := newFixture(t, day(2024, 3, 15), day(2024, 2, 1), "100", 3)

	assert.Equal(t, domain.StatusOverdue, f.status(t, 0))
	assert.Equal(t, domain.StatusOverdue, f.status(t, 1))
	assert.Equal(t, domain.StatusPending, f.status(t, 2))
}

func TestRevert_RollsBackCredits(t *testing.T) {
	f := newFixture(t, day(2024, 1, 5), day(2024, 1, 1), "100", 3)
	ctx := context.Background()
	before := f.status(t, 0)

	_, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{
		PaymentID:    f.book.Payments[0].ID,
		PaymentDate:  day(2024, 1, 5),
		ActualAmount: decPtr("150"),
		Actor:        "7",
	})
	require.NoError(t, err)

	res, err := f.ledger.Revert(ctx, RevertRequest{PaymentID: f.book.Payments[0].ID, Actor: "7"})
	require.NoError(t, err)

	assert.Equal(t, before, res.Status)
	assert.Equal(t, before, f.status(t, 0))
	require.Len(t, res.RevokedCredits, 1)

	p0 := f.payment(t, 0)
	assert.Nil(t, p0.ActualAmountPaid)
	assert.Nil(t, p0.PaymentDate)
	require.NotNil(t, p0.Notes)
	assert.Equal(t, "Status changed from paid to overdue", *p0.Notes)

	p1 := f.payment(t, 1)
	assert.True(t, p1.CreditedAmount.IsZero())
	assert.True(t, p1.EffectiveAmount().Equal(dec("100")))

	book, err := f.store.LoadBook(ctx, f.book.Lease.ID)
	require.NoError(t, err)
	require.Len(t, book.Credits, 1, "grants are revoked, not deleted")
	assert.False(t, book.Credits[0].Active())

	f.assertConserved(t)
}

func TestMarkPaid_OverflowReturnedAsExcess(t *testing.T) {
	f := newFixture(t, day(2024, 3, 10), day(2024, 1, 1), "100", 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{PaymentID: f.book.Payments[i].ID, PaymentDate: day(2024, 3, 1), Actor: "7"})
		require.NoError(t, err)
	}

	// pay the last installment and 150 more; nothing is left to absorb it
	res, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{
		PaymentID:    f.book.Payments[2].ID,
		PaymentDate:  day(2024, 3, 10),
		ActualAmount: decPtr("250"),
		Actor:        "7",
	})
	require.NoError(t, err)
	assert.True(t, res.Overpayment.Equal(dec("150")))
	assert.True(t, res.UnallocatedExcess.Equal(dec("150")))
	require.NotNil(t, res.Overflow())
	assert.True(t, res.Overflow().Excess.Equal(dec("150")))
	assert.True(t, f.payment(t, 2).UnallocatedExcess.Equal(dec("150")))
}

func TestMarkPaid_OverpaymentFullyCreditsRemainingInstallment(t *testing.T) {
	f := newFixture(t, day(2024, 1, 5), day(2024, 1, 1), "100", 2)
	ctx := context.Background()

	res, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{
		PaymentID:    f.book.Payments[0].ID,
		PaymentDate:  day(2024, 1, 5),
		ActualAmount: decPtr("350"),
		Actor:        "7",
	})
	require.NoError(t, err)

	assert.True(t, res.Overpayment.Equal(dec("250")))
	assert.True(t, f.payment(t, 1).EffectiveAmount().IsZero())
	assert.True(t, res.UnallocatedExcess.Equal(dec("150")))
	f.assertConserved(t)
}

func TestMarkPaid_CascadesAcrossInstallments(t *testing.T) {
	f := newFixture(t, day(2024, 1, 5), day(2024, 1, 1), "100", 4)
	ctx := context.Background()

	res, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{
		PaymentID:    f.book.Payments[0].ID,
		PaymentDate:  day(2024, 1, 5),
		ActualAmount: decPtr("330"),
		Actor:        "7",
	})
	require.NoError(t, err)
	require.Len(t, res.Allocations, 3)

	assert.True(t, f.payment(t, 1).EffectiveAmount().IsZero())
	assert.True(t, f.payment(t, 2).EffectiveAmount().IsZero())
	assert.True(t, f.payment(t, 3).EffectiveAmount().Equal(dec("70")))
	assert.True(t, res.UnallocatedExcess.IsZero())
	f.assertConserved(t)

	_, err = f.ledger.Revert(ctx, RevertRequest{PaymentID: f.book.Payments[0].ID, Actor: "7"})
	require.NoError(t, err)
	for i := 1; i < 4; i++ {
		assert.True(t, f.payment(t, i).EffectiveAmount().Equal(dec("100")))
	}
	f.assertConserved(t)
}

func TestMarkPaid_CreditsEarlierArrearsFirst(t *testing.T) {
	f := newFixture(t, day(2024, 3, 15), day(2024, 1, 1), "100", 4)
	ctx := context.Background()

	// installment 0 is left overdue; overpaying installment 1 lands on it first
	res, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{
		PaymentID:    f.book.Payments[1].ID,
		PaymentDate:  day(2024, 3, 15),
		ActualAmount: decPtr("160"),
		Actor:        "7",
	})
	require.NoError(t, err)
	require.Len(t, res.Allocations, 1)
	assert.Equal(t, f.book.Payments[0].ID, res.Allocations[0].TargetPaymentID)
	assert.True(t, f.payment(t, 0).EffectiveAmount().Equal(dec("40")))
	assert.Equal(t, domain.StatusOverdue, f.status(t, 0))
}

func TestMarkPaid_AlreadyPaidChangesNothing(t *testing.T) {
	f := newFixture(t, day(2024, 1, 5), day(2024, 1, 1), "100", 3)
	ctx := context.Background()
	id := f.book.Payments[0].ID

	_, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{PaymentID: id, PaymentDate: day(2024, 1, 5), ActualAmount: decPtr("150"), Actor: "7"})
	require.NoError(t, err)

	before, err := f.store.LoadBook(ctx, f.book.Lease.ID)
	require.NoError(t, err)
	entriesBefore, err := f.store.EntriesForLease(ctx, f.book.Lease.ID)
	require.NoError(t, err)

	_, err = f.ledger.MarkPaid(ctx, MarkPaidRequest{PaymentID: id, PaymentDate: day(2024, 1, 5), ActualAmount: decPtr("150"), Actor: "7"})
	var already *domain.AlreadyPaidError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, id, already.PaymentID)

	after, err := f.store.LoadBook(ctx, f.book.Lease.ID)
	require.NoError(t, err)
	entriesAfter, err := f.store.EntriesForLease(ctx, f.book.Lease.ID)
	require.NoError(t, err)

	assert.Equal(t, before, after)
	assert.Equal(t, entriesBefore, entriesAfter)
}

func TestMarkPaid_Validation(t *testing.T) {
	f := newFixture(t, day(2024, 1, 5), day(2024, 1, 1), "100", 3)
	ctx := context.Background()
	id := f.book.Payments[0].ID

	cases := []struct {
		name  string
		req   MarkPaidRequest
		field string
	}{
		{"negative amount", MarkPaidRequest{PaymentID: id, PaymentDate: day(2024, 1, 5), ActualAmount: decPtr("-1")}, "actualAmount"},
		{"three decimals", MarkPaidRequest{PaymentID: id, PaymentDate: day(2024, 1, 5), ActualAmount: decPtr("10.005")}, "actualAmount"},
		{"future date", MarkPaidRequest{PaymentID: id, PaymentDate: day(2024, 1, 6)}, "paymentDate"},
		{"missing date", MarkPaidRequest{PaymentID: id}, "paymentDate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ledger.MarkPaid(ctx, tc.req)
			var invalid *domain.InvalidAmountError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tc.field, invalid.Field)
		})
	}

	entries, err := f.store.EntriesForLease(ctx, f.book.Lease.ID)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed operations leave no audit trail")
	assert.False(t, f.payment(t, 0).Paid)

	_, err = f.ledger.MarkPaid(ctx, MarkPaidRequest{PaymentID: "missing", PaymentDate: day(2024, 1, 5)})
	var notFound *domain.PaymentNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestMarkPaid_DefaultsToEffectiveAmount(t *testing.T) {
	f := newFixture(t, day(2024, 1, 5), day(2024, 1, 1), "100", 3)
	ctx := context.Background()

	res, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{
		PaymentID:   f.book.Payments[0].ID,
		PaymentDate: time.Date(2024, 1, 5, 18, 30, 0, 0, time.UTC),
		ProofRef:    strPtr("proofs/abc.jpg"),
		Actor:       "7",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Payment.ActualAmountPaid)
	assert.True(t, res.Payment.ActualAmountPaid.Equal(dec("100")))
	assert.True(t, res.Overpayment.IsZero())
	assert.Empty(t, res.Allocations)
	assert.Equal(t, day(2024, 1, 5), *res.Payment.PaymentDate)
	assert.Equal(t, "proofs/abc.jpg", *res.Payment.ProofRef)
}

func TestRoundTrip_LeavesTwoTransitionEntries(t *testing.T) {
	f := newFixture(t, day(2024, 2, 10), day(2024, 1, 1), "100", 3)
	ctx := context.Background()
	id := f.book.Payments[0].ID

	_, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{PaymentID: id, PaymentDate: day(2024, 2, 10), Actor: "7"})
	require.NoError(t, err)
	_, err = f.ledger.Revert(ctx, RevertRequest{PaymentID: id, Notes: strPtr("wrong customer"), Actor: "9"})
	require.NoError(t, err)

	entries, err := NewAuditLog(f.store).EntriesForPayment(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, domain.AuditTransition, entries[0].Kind)
	assert.Equal(t, domain.StatusOverdue, entries[0].FromStatus)
	assert.Equal(t, domain.StatusPaid, entries[0].ToStatus)
	assert.Equal(t, "7", entries[0].Actor)

	assert.Equal(t, domain.StatusPaid, entries[1].FromStatus)
	assert.Equal(t, domain.StatusOverdue, entries[1].ToStatus)
	assert.Equal(t, "9", entries[1].Actor)
	assert.Equal(t, "wrong customer", *entries[1].Notes)

	assert.Equal(t, domain.StatusOverdue, f.status(t, 0))
}

func TestRevert_DefaultNoteNamesDerivedStatuses(t *testing.T) {
	f := newFixture(t, day(2024, 1, 15), day(2024, 1, 1), "100", 3)
	ctx := context.Background()
	overdue := f.book.Payments[0].ID
	pending := f.book.Payments[1].ID

	for _, id := range []string{overdue, overdue, pending} {
		_, err := f.ledger.Revert(ctx, RevertRequest{PaymentID: id, Actor: "7"})
		require.NoError(t, err)
	}

	entries, err := NewAuditLog(f.store).EntriesForPayment(ctx, overdue)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Status changed from overdue to paid", *entries[0].Notes)
	assert.Equal(t, "Status changed from paid to overdue", *entries[1].Notes)

	entries, err = NewAuditLog(f.store).EntriesForPayment(ctx, pending)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Status changed from pending to paid", *entries[0].Notes)
}

// An installment settled only by credit owes its full amount again once the
// credit is taken back.
func TestRevert_ReopensInstallmentSettledByCredit(t *testing.T) {
	f := newFixture(t, day(2024, 1, 5), day(2024, 1, 1), "100", 2)
	ctx := context.Background()
	p0, p1 := f.book.Payments[0].ID, f.book.Payments[1].ID

	_, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{PaymentID: p0, PaymentDate: day(2024, 1, 5), ActualAmount: decPtr("200"), Actor: "7"})
	require.NoError(t, err)
	require.True(t, f.payment(t, 1).EffectiveAmount().IsZero())

	res, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{PaymentID: p1, PaymentDate: day(2024, 1, 5), Actor: "7"})
	require.NoError(t, err)
	require.True(t, res.Payment.ActualAmountPaid.IsZero())

	rev, err := f.ledger.Revert(ctx, RevertRequest{PaymentID: p0, Actor: "9"})
	require.NoError(t, err)
	require.Len(t, rev.Reopened, 1)
	assert.Equal(t, p1, rev.Reopened[0].ID)

	reopened := f.payment(t, 1)
	assert.False(t, reopened.Paid)
	assert.Nil(t, reopened.ActualAmountPaid)
	assert.Nil(t, reopened.PaymentDate)
	assert.True(t, reopened.EffectiveAmount().Equal(dec("100")))
	assert.Equal(t, domain.StatusPending, f.status(t, 1))

	summary, err := NewAggregator(f.store, f.clock, nil).Summarize(ctx, Window{})
	require.NoError(t, err)
	assert.True(t, summary.TotalCollected.IsZero())
	assert.True(t, summary.TotalUnpaid.Equal(dec("200")), "unpaid=%s", summary.TotalUnpaid)
	f.assertConserved(t)

	entries, err := NewAuditLog(f.store).EntriesForPayment(ctx, p1)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, domain.AuditTransition, last.Kind)
	assert.Equal(t, domain.StatusPaid, last.FromStatus)
	assert.Equal(t, domain.StatusPending, last.ToStatus)
	assert.Equal(t, "9", last.Actor)
	require.NotNil(t, last.Notes)
	assert.Contains(t, *last.Notes, "Reopened")
}

func TestRevert_ReopenTakesBackCreditsOfReopenedInstallment(t *testing.T) {
	f := newFixture(t, day(2024, 1, 5), day(2024, 1, 1), "100", 3)
	ctx := context.Background()
	p0, p1 := f.book.Payments[0].ID, f.book.Payments[1].ID

	_, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{PaymentID: p0, PaymentDate: day(2024, 1, 5), ActualAmount: decPtr("200"), Actor: "7"})
	require.NoError(t, err)
	// p1 owes nothing, so paying 50 on it credits p2
	_, err = f.ledger.MarkPaid(ctx, MarkPaidRequest{PaymentID: p1, PaymentDate: day(2024, 1, 5), ActualAmount: decPtr("50"), Actor: "7"})
	require.NoError(t, err)
	require.True(t, f.payment(t, 2).EffectiveAmount().Equal(dec("50")))

	rev, err := f.ledger.Revert(ctx, RevertRequest{PaymentID: p0, Actor: "7"})
	require.NoError(t, err)
	assert.Len(t, rev.RevokedCredits, 2)
	require.Len(t, rev.Reopened, 1)

	for i := 0; i < 3; i++ {
		p := f.payment(t, i)
		assert.False(t, p.Paid, "payment %d", i)
		assert.True(t, p.CreditedAmount.IsZero(), "payment %d", i)
		assert.True(t, p.EffectiveAmount().Equal(dec("100")), "payment %d", i)
	}

	book, err := f.store.LoadBook(ctx, f.book.Lease.ID)
	require.NoError(t, err)
	assert.True(t, book.ActiveCreditTotal().IsZero())
	f.assertConserved(t)
}

func TestRevert_PaidTargetStillCoveredStaysPaid(t *testing.T) {
	f := newFixture(t, day(2024, 1, 5), day(2024, 1, 1), "100", 2)
	ctx := context.Background()
	p0, p1 := f.book.Payments[0].ID, f.book.Payments[1].ID

	_, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{PaymentID: p0, PaymentDate: day(2024, 1, 5), ActualAmount: decPtr("150"), Actor: "7"})
	require.NoError(t, err)
	_, err = f.ledger.MarkPaid(ctx, MarkPaidRequest{PaymentID: p1, PaymentDate: day(2024, 1, 5), ActualAmount: decPtr("100"), Actor: "7"})
	require.NoError(t, err)

	rev, err := f.ledger.Revert(ctx, RevertRequest{PaymentID: p0, Actor: "7"})
	require.NoError(t, err)
	assert.Empty(t, rev.Reopened)
	assert.True(t, f.payment(t, 1).Paid)
	f.assertConserved(t)
}

func TestMarkPaid_PaymentDateUsesLedgerTimezone(t *testing.T) {
	baku := time.FixedZone("+04", 4*60*60)
	f := newFixture(t, time.Date(2024, 1, 5, 10, 0, 0, 0, baku), day(2024, 1, 1), "100", 3)
	ctx := context.Background()

	// 21:30 UTC on the 4th is already the 5th in Baku
	res, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{
		PaymentID:   f.book.Payments[0].ID,
		PaymentDate: time.Date(2024, 1, 4, 21, 30, 0, 0, time.UTC),
		Actor:       "7",
	})
	require.NoError(t, err)
	assert.Equal(t, day(2024, 1, 5), *res.Payment.PaymentDate)

	// and 21:30 UTC on the 5th is tomorrow there
	_, err = f.ledger.MarkPaid(ctx, MarkPaidRequest{
		PaymentID:   f.book.Payments[1].ID,
		PaymentDate: time.Date(2024, 1, 5, 21, 30, 0, 0, time.UTC),
		Actor:       "7",
	})
	var invalid *domain.InvalidAmountError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "paymentDate", invalid.Field)
}

func TestRevert_UnpaidToPaid(t *testing.T) {
	f := newFixture(t, day(2024, 2, 10), day(2024, 1, 1), "100", 3)
	ctx := context.Background()

	res, err := f.ledger.Revert(ctx, RevertRequest{PaymentID: f.book.Payments[0].ID, Actor: "7"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, res.Status)
	assert.Equal(t, day(2024, 2, 10), *res.Payment.PaymentDate)
	assert.True(t, res.Payment.ActualAmountPaid.Equal(dec("100")))
	assert.Equal(t, "Status changed from overdue to paid", *res.Payment.Notes)
	f.assertConserved(t)
}

func TestAuditLog_CreditEntriesLinkSource(t *testing.T) {
	f := newFixture(t, day(2024, 1, 5), day(2024, 1, 1), "100", 3)
	ctx := context.Background()
	src := f.book.Payments[0].ID
	target := f.book.Payments[1].ID

	_, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{PaymentID: src, PaymentDate: day(2024, 1, 5), ActualAmount: decPtr("130"), Actor: "7"})
	require.NoError(t, err)
	_, err = f.ledger.Revert(ctx, RevertRequest{PaymentID: src, Actor: "7"})
	require.NoError(t, err)

	log := NewAuditLog(f.store)
	entries, err := log.EntriesForPayment(ctx, target)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.AuditCreditGranted, entries[0].Kind)
	assert.Equal(t, domain.AuditCreditRevoked, entries[1].Kind)
	for _, e := range entries {
		require.NotNil(t, e.SourcePaymentID)
		assert.Equal(t, src, *e.SourcePaymentID)
		assert.True(t, e.Amount.Equal(dec("30")))
	}

	all, err := log.EntriesForLease(ctx, f.book.Lease.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Seq, all[i].Seq)
	}

	_, err = log.EntriesForPayment(ctx, "missing")
	assert.True(t, domain.IsNotFound(err))
	_, err = log.EntriesForLease(ctx, "missing")
	assert.True(t, domain.IsNotFound(err))
}

func TestConservation_AfterMixedOperations(t *testing.T) {
	f := newFixture(t, day(2024, 6, 20), day(2024, 1, 1), "100", 6)
	ctx := context.Background()
	ids := make([]string, len(f.book.Payments))
	for i, p := range f.book.Payments {
		ids[i] = p.ID
	}

	steps := []func() error{
		func() error {
			_, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{PaymentID: ids[0], PaymentDate: day(2024, 1, 3), ActualAmount: decPtr("180")})
			return err
		},
		func() error {
			_, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{PaymentID: ids[2], PaymentDate: day(2024, 3, 3), ActualAmount: decPtr("250.50")})
			return err
		},
		func() error { _, err := f.ledger.Revert(ctx, RevertRequest{PaymentID: ids[0]}); return err },
		func() error {
			_, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{PaymentID: ids[1], PaymentDate: day(2024, 2, 3)})
			return err
		},
		func() error { _, err := f.ledger.Revert(ctx, RevertRequest{PaymentID: ids[2]}); return err },
		func() error { _, err := f.ledger.Revert(ctx, RevertRequest{PaymentID: ids[5]}); return err },
	}
	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)
		f.assertConserved(t)
	}
}

// Concurrent writers on one lease must never double-credit.
func TestMarkPaid_ConcurrentOnSameLease(t *testing.T) {
	f := newFixture(t, day(2024, 1, 5), day(2024, 1, 1), "100", 12)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		already   int
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 4; i++ {
				_, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{
					PaymentID:    f.book.Payments[i].ID,
					PaymentDate:  day(2024, 1, 5),
					ActualAmount: decPtr("120"),
				})
				mu.Lock()
				var ap *domain.AlreadyPaidError
				switch {
				case err == nil:
					successes++
				case errors.As(err, &ap):
					already++
				default:
					t.Errorf("unexpected error: %v", err)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, successes)
	assert.Equal(t, 28, already)
	f.assertConserved(t)

	book, err := f.store.LoadBook(ctx, f.book.Lease.ID)
	require.NoError(t, err)
	// each 20 overpayment raises the next installment's overpayment by the same
	assert.True(t, book.ActiveCreditTotal().Equal(dec("200")))
	assert.True(t, book.Payments[4].EffectiveAmount().Equal(dec("20")))
}

// staleStore simulates another process writing between load and save.
type staleStore struct {
	*repository.MemoryStore
	once sync.Once
}

func (s *staleStore) LoadBook(ctx context.Context, leaseID string) (*domain.LeaseBook, error) {
	book, err := s.MemoryStore.LoadBook(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	s.once.Do(func() {
		_ = s.MemoryStore.SaveBook(ctx, repository.BookChange{LeaseID: leaseID, ExpectedVersion: book.Lease.Version})
	})
	return book, nil
}

func TestMarkPaid_VersionConflict(t *testing.T) {
	mem := repository.NewMemoryStore()
	store := &staleStore{MemoryStore: mem}
	clk := clock.NewFakeClock(day(2024, 1, 5))
	ledger := NewLedger(store, clk, nil)
	ctx := context.Background()

	book, err := ledger.CreateLease(ctx, domain.Customer{FullName: "Ana"}, domain.Lease{
		LeasingAmount: dec("100"), MonthlyInstallment: dec("100"), LeaseDuration: 2, LeaseStartDate: day(2024, 1, 1),
	})
	require.NoError(t, err)

	_, err = ledger.MarkPaid(ctx, MarkPaidRequest{PaymentID: book.Payments[0].ID, PaymentDate: day(2024, 1, 5), ActualAmount: decPtr("150")})
	var conflict *domain.ConcurrentModificationError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, book.Lease.ID, conflict.LeaseID)

	p, _, err := ledger.Payment(ctx, book.Payments[0].ID)
	require.NoError(t, err)
	assert.False(t, p.Paid)
	entries, err := mem.EntriesForLease(ctx, book.Lease.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// retrying succeeds once the book is fresh
	_, err = ledger.MarkPaid(ctx, MarkPaidRequest{PaymentID: book.Payments[0].ID, PaymentDate: day(2024, 1, 5), ActualAmount: decPtr("150")})
	require.NoError(t, err)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []domain.PaymentStatus
}

func (n *recordingNotifier) NotifyPaymentUpdated(_ context.Context, _ int64, _, _ string, st domain.PaymentStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, st)
	return nil
}

func TestLedger_NotifiesAfterCommit(t *testing.T) {
	f := newFixture(t, day(2024, 1, 5), day(2024, 1, 1), "100", 2)
	n := &recordingNotifier{}
	f.ledger.WithNotifier(n)
	ctx := context.Background()

	_, err := f.ledger.MarkPaid(ctx, MarkPaidRequest{PaymentID: f.book.Payments[0].ID, PaymentDate: day(2024, 1, 5), UserID: 3})
	require.NoError(t, err)
	_, err = f.ledger.MarkPaid(ctx, MarkPaidRequest{PaymentID: f.book.Payments[0].ID, PaymentDate: day(2024, 1, 5), UserID: 3})
	require.Error(t, err)
	_, err = f.ledger.Revert(ctx, RevertRequest{PaymentID: f.book.Payments[0].ID, UserID: 3})
	require.NoError(t, err)

	assert.Equal(t, []domain.PaymentStatus{domain.StatusPaid, domain.StatusOverdue}, n.calls)
}

func strPtr(s string) *string {
	return &s
}
