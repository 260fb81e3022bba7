package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lease-ledger/internal/clock"
	"lease-ledger/internal/domain"
	"lease-ledger/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type LedgerStore interface {
	CreateLease(ctx context.Context, customer domain.Customer, lease domain.Lease, payments []domain.Payment) error
	LeaseIDForPayment(ctx context.Context, paymentID string) (string, error)
	LoadBook(ctx context.Context, leaseID string) (*domain.LeaseBook, error)
	SaveBook(ctx context.Context, change repository.BookChange) error
}

// PaymentNotifier is told about every committed payment change. Optional.
type PaymentNotifier interface {
	NotifyPaymentUpdated(ctx context.Context, userID int64, paymentID, leaseID string, status domain.PaymentStatus) error
}

// Ledger owns every write to payments. Writes for one lease are serialized
// in-process and guarded by the lease version in the store.
type Ledger struct {
	store    LedgerStore
	clock    clock.Clock
	alloc    *Allocator
	locks    *leaseLocks
	notifier PaymentNotifier
	log      *zap.Logger
	newID    func() string
}

func NewLedger(store LedgerStore, clk clock.Clock, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		store: store,
		clock: clk,
		alloc: NewAllocator(),
		locks: newLeaseLocks(),
		log:   log,
		newID: uuid.NewString,
	}
}

func (l *Ledger) WithNotifier(n PaymentNotifier) *Ledger {
	l.notifier = n
	return l
}

// SchedulePayments builds the unpaid installment schedule of lease.
func (l *Ledger) SchedulePayments(lease domain.Lease) ([]domain.Payment, error) {
	if err := lease.Validate(); err != nil {
		return nil, err
	}

	payments := make([]domain.Payment, lease.LeaseDuration)
	for i := range payments {
		payments[i] = domain.Payment{
			ID:                l.newID(),
			LeaseID:           lease.ID,
			SequenceIndex:     i,
			DueDate:           clock.AddMonths(lease.LeaseStartDate, i),
			ScheduledAmount:   lease.MonthlyInstallment,
			CreditedAmount:    decimal.Zero,
			UnallocatedExcess: decimal.Zero,
		}
	}
	return payments, nil
}

// CreateLease stores customer and lease together with the lease's schedule.
// Empty ids are generated.
func (l *Ledger) CreateLease(ctx context.Context, customer domain.Customer, lease domain.Lease) (*domain.LeaseBook, error) {
	if customer.ID == "" {
		customer.ID = l.newID()
	}
	if lease.ID == "" {
		lease.ID = l.newID()
	}
	lease.CustomerID = customer.ID
	lease.LeaseStartDate = clock.Today(lease.LeaseStartDate)
	lease.Version = 0

	payments, err := l.SchedulePayments(lease)
	if err != nil {
		return nil, err
	}

	if err := l.store.CreateLease(ctx, customer, lease, payments); err != nil {
		l.log.Error("create lease failed", zap.String("lease_id", lease.ID), zap.String("customer_id", customer.ID), zap.Error(err))
		return nil, fmt.Errorf("create lease: %w", err)
	}

	l.log.Info("lease created",
		zap.String("lease_id", lease.ID),
		zap.String("customer_id", customer.ID),
		zap.Int("installments", len(payments)),
	)

	return &domain.LeaseBook{Lease: lease, Customer: &customer, Payments: payments}, nil
}

// Payment returns a payment read fresh from the store with its derived status.
func (l *Ledger) Payment(ctx context.Context, paymentID string) (domain.Payment, domain.PaymentStatus, error) {
	leaseID, err := l.store.LeaseIDForPayment(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, "", err
	}
	book, err := l.store.LoadBook(ctx, leaseID)
	if err != nil {
		return domain.Payment{}, "", err
	}
	idx := book.PaymentIndex(paymentID)
	if idx < 0 {
		return domain.Payment{}, "", &domain.PaymentNotFoundError{PaymentID: paymentID}
	}
	p := book.Payments[idx]
	return p, domain.DeriveStatus(p, l.clock.Now()), nil
}

type MarkPaidRequest struct {
	PaymentID    string
	PaymentDate  time.Time
	ActualAmount *decimal.Decimal // nil means the effective amount
	ProofRef     *string
	Notes        *string
	Actor        string
	UserID       int64
}

type MarkPaidResult struct {
	Payment           domain.Payment
	Status            domain.PaymentStatus
	Overpayment       decimal.Decimal
	UnallocatedExcess decimal.Decimal
	Allocations       []Allocation
}

// Overflow describes the overpayment that found no installment, or nil.
func (r MarkPaidResult) Overflow() *domain.AllocationOverflowError {
	if !r.UnallocatedExcess.IsPositive() {
		return nil
	}
	return &domain.AllocationOverflowError{PaymentID: r.Payment.ID, Excess: r.UnallocatedExcess}
}

func (l *Ledger) MarkPaid(ctx context.Context, req MarkPaidRequest) (*MarkPaidResult, error) {
	leaseID, err := l.store.LeaseIDForPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.lock(leaseID)
	defer unlock()

	book, err := l.store.LoadBook(ctx, leaseID)
	if err != nil {
		return nil, l.internal(err, "load lease", req.PaymentID, leaseID, req.Actor)
	}
	idx := book.PaymentIndex(req.PaymentID)
	if idx < 0 {
		return nil, &domain.PaymentNotFoundError{PaymentID: req.PaymentID}
	}

	now := l.clock.Now()
	p := &book.Payments[idx]
	if p.Paid {
		return nil, &domain.AlreadyPaidError{PaymentID: p.ID}
	}

	payDate, err := validatePaymentDate(req.PaymentDate, now)
	if err != nil {
		return nil, err
	}

	effective := p.EffectiveAmount()
	actual := effective
	if req.ActualAmount != nil {
		actual = *req.ActualAmount
		if err := validateAmount("actualAmount", actual); err != nil {
			return nil, err
		}
	}

	from := domain.DeriveStatus(*p, now)
	overpayment := decimal.Max(decimal.Zero, actual.Sub(effective))

	p.Paid = true
	p.PaymentDate = &payDate
	p.ActualAmountPaid = &actual
	if req.ProofRef != nil {
		p.ProofRef = req.ProofRef
	}
	if req.Notes != nil {
		p.Notes = req.Notes
	}
	p.UnallocatedExcess = decimal.Zero
	p.UpdatedAt = &now

	var alloc AllocationResult
	if overpayment.IsPositive() {
		alloc, err = l.alloc.Allocate(book, p.ID, overpayment, now)
		if err != nil {
			return nil, l.internal(err, "allocate overpayment", req.PaymentID, leaseID, req.Actor)
		}
		p = &book.Payments[book.PaymentIndex(req.PaymentID)]
		p.UnallocatedExcess = alloc.UnallocatedExcess
	}

	change := repository.BookChange{
		LeaseID:         leaseID,
		ExpectedVersion: book.Lease.Version,
		Payments:        []domain.Payment{p.Clone()},
		NewCredits:      alloc.Grants,
	}
	change.Audit = append(change.Audit, l.transitionEntry(*p, from, domain.StatusPaid, req.Actor, now, req.Notes))
	for _, g := range alloc.Grants {
		target := book.Payments[book.PaymentIndex(g.TargetPaymentID)]
		change.Payments = append(change.Payments, target.Clone())
		change.Audit = append(change.Audit, l.creditEntry(domain.AuditCreditGranted, g, target, req.Actor, now))
	}

	if err := l.store.SaveBook(ctx, change); err != nil {
		return nil, l.internal(err, "save mark-paid", req.PaymentID, leaseID, req.Actor)
	}

	res := &MarkPaidResult{
		Payment:           p.Clone(),
		Status:            domain.StatusPaid,
		Overpayment:       overpayment,
		UnallocatedExcess: p.UnallocatedExcess,
		Allocations:       alloc.Allocations,
	}

	fields := []zap.Field{
		zap.String("payment_id", p.ID),
		zap.String("lease_id", leaseID),
		zap.String("actor", req.Actor),
		zap.String("actual", actual.StringFixed(2)),
		zap.String("overpayment", overpayment.StringFixed(2)),
	}
	if of := res.Overflow(); of != nil {
		l.log.Warn("overpayment exceeds remaining installments", append(fields, zap.String("unallocated_excess", of.Excess.StringFixed(2)))...)
	} else {
		l.log.Info("payment marked paid", fields...)
	}

	l.notify(ctx, req.UserID, p.ID, leaseID, domain.StatusPaid)
	return res, nil
}

type RevertRequest struct {
	PaymentID string
	Notes     *string
	Actor     string
	UserID    int64
}

type RevertResult struct {
	Payment        domain.Payment
	Status         domain.PaymentStatus
	RevokedCredits []domain.CreditGrant
	// Reopened lists installments that had been settled by credit alone and
	// are unpaid again because that credit was taken back.
	Reopened []domain.Payment
}

// Revert toggles the paid flag. Un-paying a payment also takes back every
// credit its overpayment granted; paying through revert uses today's date and
// the effective amount and allocates nothing.
func (l *Ledger) Revert(ctx context.Context, req RevertRequest) (*RevertResult, error) {
	leaseID, err := l.store.LeaseIDForPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.lock(leaseID)
	defer unlock()

	book, err := l.store.LoadBook(ctx, leaseID)
	if err != nil {
		return nil, l.internal(err, "load lease", req.PaymentID, leaseID, req.Actor)
	}
	idx := book.PaymentIndex(req.PaymentID)
	if idx < 0 {
		return nil, &domain.PaymentNotFoundError{PaymentID: req.PaymentID}
	}

	now := l.clock.Now()
	p := &book.Payments[idx]
	from := domain.DeriveStatus(*p, now)
	wasPaid := p.Paid

	if wasPaid {
		reopen(p)
	} else {
		today := clock.Today(now)
		actual := p.EffectiveAmount()
		p.Paid = true
		p.PaymentDate = &today
		p.ActualAmountPaid = &actual
	}
	to := domain.DeriveStatus(*p, now)

	notes := req.Notes
	if notes == nil || *notes == "" {
		n := statusChangeNote(from, to)
		notes = &n
	}
	p.Notes = notes
	p.UpdatedAt = &now

	change := repository.BookChange{LeaseID: leaseID, ExpectedVersion: book.Lease.Version}
	change.Audit = append(change.Audit, l.transitionEntry(*p, from, to, req.Actor, now, notes))
	touched := []string{p.ID}

	var (
		revoked  []domain.CreditGrant
		reopened []string
	)
	if wasPaid {
		revoked, reopened, err = l.rollbackCascade(book, p.ID, req.Actor, now, &change, &touched)
		if err != nil {
			return nil, l.internal(err, "roll back credits", req.PaymentID, leaseID, req.Actor)
		}
	}
	change.RevokedCredits = revoked
	for _, id := range touched {
		change.Payments = append(change.Payments, book.Payments[book.PaymentIndex(id)].Clone())
	}

	if err := l.store.SaveBook(ctx, change); err != nil {
		return nil, l.internal(err, "save revert", req.PaymentID, leaseID, req.Actor)
	}

	l.log.Info("payment reverted",
		zap.String("payment_id", p.ID),
		zap.String("lease_id", leaseID),
		zap.String("actor", req.Actor),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("revoked_credits", len(revoked)),
		zap.Int("reopened", len(reopened)),
	)

	res := &RevertResult{Payment: p.Clone(), Status: to, RevokedCredits: revoked}
	l.notify(ctx, req.UserID, p.ID, leaseID, to)
	for _, id := range reopened {
		rp := book.Payments[book.PaymentIndex(id)]
		res.Reopened = append(res.Reopened, rp.Clone())
		l.notify(ctx, req.UserID, rp.ID, leaseID, domain.DeriveStatus(rp, now))
	}
	return res, nil
}

// rollbackCascade revokes the credits sourced from sourceID. A paid target
// whose recorded amount no longer covers its restored effective amount is
// reopened, and its own credits are revoked in turn. Payments it changes are
// added to touched; audit entries go straight into change.
func (l *Ledger) rollbackCascade(book *domain.LeaseBook, sourceID, actor string, now time.Time, change *repository.BookChange, touched *[]string) ([]domain.CreditGrant, []string, error) {
	seen := make(map[string]bool, len(*touched))
	for _, id := range *touched {
		seen[id] = true
	}
	touch := func(id string) {
		if !seen[id] {
			seen[id] = true
			*touched = append(*touched, id)
		}
	}

	var (
		revoked  []domain.CreditGrant
		reopened []string
	)
	queue := []string{sourceID}
	for len(queue) > 0 {
		src := queue[0]
		queue = queue[1:]

		grants, err := l.alloc.Rollback(book, src, now)
		if err != nil {
			return nil, nil, err
		}
		revoked = append(revoked, grants...)

		for _, g := range grants {
			target := &book.Payments[book.PaymentIndex(g.TargetPaymentID)]
			touch(target.ID)
			change.Audit = append(change.Audit, l.creditEntry(domain.AuditCreditRevoked, g, *target, actor, now))

			if !target.Paid || !target.CollectedAmount().LessThan(target.EffectiveAmount()) {
				continue
			}

			before := domain.DeriveStatus(*target, now)
			n := fmt.Sprintf("Reopened: credit of %s from installment #%d was revoked; %s had been recorded against %s due",
				g.Amount.StringFixed(2), sequenceOf(book, g.SourcePaymentID)+1,
				target.CollectedAmount().StringFixed(2), target.EffectiveAmount().StringFixed(2))
			reopen(target)
			target.UpdatedAt = &now
			change.Audit = append(change.Audit, l.transitionEntry(*target, before, domain.DeriveStatus(*target, now), actor, now, &n))
			reopened = append(reopened, target.ID)
			queue = append(queue, target.ID)

			l.log.Warn("installment reopened after credit revoke",
				zap.String("payment_id", target.ID),
				zap.String("lease_id", book.Lease.ID),
				zap.String("source_payment_id", g.SourcePaymentID),
				zap.String("amount", g.Amount.StringFixed(2)),
			)
		}
	}
	return revoked, reopened, nil
}

// reopen clears what marking a payment paid recorded. Proof and notes stay.
func reopen(p *domain.Payment) {
	p.Paid = false
	p.ActualAmountPaid = nil
	p.PaymentDate = nil
	p.UnallocatedExcess = decimal.Zero
}

func sequenceOf(book *domain.LeaseBook, paymentID string) int {
	if i := book.PaymentIndex(paymentID); i >= 0 {
		return book.Payments[i].SequenceIndex
	}
	return -1
}

func statusChangeNote(from, to domain.PaymentStatus) string {
	return fmt.Sprintf("Status changed from %s to %s", from, to)
}

func (l *Ledger) transitionEntry(p domain.Payment, from, to domain.PaymentStatus, actor string, at time.Time, notes *string) domain.AuditEntry {
	e := domain.AuditEntry{
		ID:         l.newID(),
		LeaseID:    p.LeaseID,
		PaymentID:  p.ID,
		Kind:       domain.AuditTransition,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		Timestamp:  at,
	}
	if notes != nil {
		n := *notes
		e.Notes = &n
	}
	return e
}

// creditEntry is filed under the target. A credit never changes status, so
// from and to are both the target's current status.
func (l *Ledger) creditEntry(kind domain.AuditKind, g domain.CreditGrant, target domain.Payment, actor string, at time.Time) domain.AuditEntry {
	st := domain.DeriveStatus(target, at)
	source := g.SourcePaymentID
	amount := g.Amount
	return domain.AuditEntry{
		ID:              l.newID(),
		LeaseID:         g.LeaseID,
		PaymentID:       target.ID,
		Kind:            kind,
		FromStatus:      st,
		ToStatus:        st,
		Actor:           actor,
		Timestamp:       at,
		SourcePaymentID: &source,
		Amount:          &amount,
	}
}

func (l *Ledger) notify(ctx context.Context, userID int64, paymentID, leaseID string, st domain.PaymentStatus) {
	if l.notifier == nil || userID == 0 {
		return
	}
	if err := l.notifier.NotifyPaymentUpdated(ctx, userID, paymentID, leaseID, st); err != nil {
		l.log.Debug("payment notification failed", zap.String("payment_id", paymentID), zap.Error(err))
	}
}

// internal logs unexpected failures with full context. Domain errors pass
// through untouched so callers can still match them.
func (l *Ledger) internal(err error, op, paymentID, leaseID, actor string) error {
	var (
		conflict *domain.ConcurrentModificationError
		notFound = domain.IsNotFound(err)
	)
	if errors.As(err, &conflict) || notFound {
		return err
	}
	l.log.Error(op+" failed",
		zap.String("payment_id", paymentID),
		zap.String("lease_id", leaseID),
		zap.String("actor", actor),
		zap.Error(err),
	)
	return fmt.Errorf("%s: %w", op, err)
}

func validatePaymentDate(d time.Time, now time.Time) (time.Time, error) {
	if d.IsZero() {
		return time.Time{}, &domain.InvalidAmountError{Field: "paymentDate", Reason: "is required"}
	}
	// the calendar day is taken where the ledger runs, not in the sender's offset
	day := clock.Today(d.In(now.Location()))
	if day.After(clock.Today(now)) {
		return time.Time{}, &domain.InvalidAmountError{Field: "paymentDate", Reason: "must not be in the future"}
	}
	return day, nil
}

func validateAmount(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return &domain.InvalidAmountError{Field: field, Reason: "must not be negative"}
	}
	if !v.Round(2).Equal(v) {
		return &domain.InvalidAmountError{Field: field, Reason: "must have at most 2 decimal places"}
	}
	return nil
}
