package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"lease-ledger/internal/clock"
	"lease-ledger/internal/domain"
	"lease-ledger/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ReportStore interface {
	Snapshot(ctx context.Context, f repository.SnapshotFilter) ([]domain.LeaseBook, error)
	ListPayments(ctx context.Context, f repository.PaymentsFilter) ([]repository.PaymentRow, error)
}

// Window limits a report to leases starting (or, for monthly figures,
// installments falling due) between From and To inclusive. Nil bounds are open.
type Window struct {
	From *time.Time
	To   *time.Time
}

type Summary struct {
	TotalInvested         decimal.Decimal `json:"totalInvested"`
	TotalCollected        decimal.Decimal `json:"totalCollected"`
	TotalProfit           decimal.Decimal `json:"totalProfit"`
	TotalUnpaid           decimal.Decimal `json:"totalUnpaid"`
	OverdueCount          int             `json:"overdueCount"`
	OverdueAmount         decimal.Decimal `json:"overdueAmount"`
	FullyPaidCustomers    int             `json:"fullyPaidCustomers"`
	CustomerCreditBalance decimal.Decimal `json:"customerCreditBalance"`
}

type Dashboard struct {
	TotalCustomers  int             `json:"totalCustomers"`
	ActiveLeases    int             `json:"activeLeases"`
	MonthlyPayments decimal.Decimal `json:"monthlyPayments"`
	OverduePayments int             `json:"overduePayments"`
	Summary
}

type CarBrandStat struct {
	CarBrand       string          `json:"car_brand"`
	TotalCars      int             `json:"total_cars"`
	TotalInvested  decimal.Decimal `json:"total_invested"`
	TotalCollected decimal.Decimal `json:"total_collected"`
}

type MonthlyStat struct {
	Period          string          `json:"period"`
	ScheduledAmount decimal.Decimal `json:"scheduled_amount"`
	CollectedAmount decimal.Decimal `json:"collected_amount"`
	OverdueAmount   decimal.Decimal `json:"overdue_amount"`
	PaidCount       int             `json:"paid_count"`
	OverdueCount    int             `json:"overdue_count"`
}

// Aggregator computes every report figure from a store snapshot at query
// time. Nothing it returns is persisted.
type Aggregator struct {
	store ReportStore
	clock clock.Clock
	log   *zap.Logger
}

func NewAggregator(store ReportStore, clk clock.Clock, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{store: store, clock: clk, log: log}
}

func (w Window) filter() repository.SnapshotFilter {
	f := repository.SnapshotFilter{}
	if w.From != nil {
		v := clock.Today(*w.From)
		f.StartFrom = &v
	}
	if w.To != nil {
		v := clock.Today(*w.To)
		f.StartTo = &v
	}
	return f
}

func (a *Aggregator) Summarize(ctx context.Context, w Window) (Summary, error) {
	books, err := a.store.Snapshot(ctx, w.filter())
	if err != nil {
		return Summary{}, err
	}
	return summarize(books, a.clock.Now()), nil
}

func summarize(books []domain.LeaseBook, now time.Time) Summary {
	s := Summary{
		TotalInvested:         decimal.Zero,
		TotalCollected:        decimal.Zero,
		TotalProfit:           decimal.Zero,
		TotalUnpaid:           decimal.Zero,
		OverdueAmount:         decimal.Zero,
		CustomerCreditBalance: decimal.Zero,
	}

	for _, b := range books {
		s.TotalInvested = s.TotalInvested.Add(b.Lease.LeasingAmount)
		s.TotalProfit = s.TotalProfit.Add(b.Lease.ExpectedProfit())

		allPaid := len(b.Payments) > 0
		for _, p := range b.Payments {
			switch domain.DeriveStatus(p, now) {
			case domain.StatusPaid:
				s.TotalCollected = s.TotalCollected.Add(p.CollectedAmount())
				s.CustomerCreditBalance = s.CustomerCreditBalance.Add(p.UnallocatedExcess)
			case domain.StatusOverdue:
				allPaid = false
				s.OverdueCount++
				s.OverdueAmount = s.OverdueAmount.Add(p.EffectiveAmount())
				s.TotalUnpaid = s.TotalUnpaid.Add(p.EffectiveAmount())
			default:
				allPaid = false
				s.TotalUnpaid = s.TotalUnpaid.Add(p.EffectiveAmount())
			}
		}
		if allPaid {
			s.FullyPaidCustomers++
		}
	}
	return s
}

func (a *Aggregator) Dashboard(ctx context.Context) (Dashboard, error) {
	books, err := a.store.Snapshot(ctx, repository.SnapshotFilter{})
	if err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{
		MonthlyPayments: decimal.Zero,
		Summary:         summarize(books, a.clock.Now()),
	}
	customers := make(map[string]struct{})
	for _, b := range books {
		customers[b.Lease.CustomerID] = struct{}{}
		for _, p := range b.Payments {
			if !p.Paid {
				d.ActiveLeases++
				d.MonthlyPayments = d.MonthlyPayments.Add(b.Lease.MonthlyInstallment)
				break
			}
		}
	}
	d.TotalCustomers = len(customers)
	d.OverduePayments = d.OverdueCount
	return d, nil
}

func (a *Aggregator) CarBrands(ctx context.Context, w Window) ([]CarBrandStat, error) {
	books, err := a.store.Snapshot(ctx, w.filter())
	if err != nil {
		return nil, err
	}

	byBrand := make(map[string]*CarBrandStat)
	for _, b := range books {
		brand := "Unknown"
		if b.Customer != nil && b.Customer.CarBrand != nil && strings.TrimSpace(*b.Customer.CarBrand) != "" {
			brand = strings.TrimSpace(*b.Customer.CarBrand)
		}
		st, ok := byBrand[brand]
		if !ok {
			st = &CarBrandStat{CarBrand: brand, TotalInvested: decimal.Zero, TotalCollected: decimal.Zero}
			byBrand[brand] = st
		}
		st.TotalCars++
		st.TotalInvested = st.TotalInvested.Add(b.Lease.LeasingAmount)
		for _, p := range b.Payments {
			st.TotalCollected = st.TotalCollected.Add(p.CollectedAmount())
		}
	}

	out := make([]CarBrandStat, 0, len(byBrand))
	for _, st := range byBrand {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCars != out[j].TotalCars {
			return out[i].TotalCars > out[j].TotalCars
		}
		return out[i].CarBrand < out[j].CarBrand
	})
	return out, nil
}

// Monthly groups installments by the month they fall due. The window applies
// to due dates here, not lease start dates.
func (a *Aggregator) Monthly(ctx context.Context, w Window) ([]MonthlyStat, error) {
	f := repository.PaymentsFilter{}
	if w.From != nil {
		v := clock.Today(*w.From)
		f.DueFrom = &v
	}
	if w.To != nil {
		v := clock.Today(*w.To)
		f.DueTo = &v
	}
	rows, err := a.store.ListPayments(ctx, f)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	byPeriod := make(map[string]*MonthlyStat)
	for _, r := range rows {
		period := r.Payment.DueDate.Format("2006-01")
		st, ok := byPeriod[period]
		if !ok {
			st = &MonthlyStat{
				Period:          period,
				ScheduledAmount: decimal.Zero,
				CollectedAmount: decimal.Zero,
				OverdueAmount:   decimal.Zero,
			}
			byPeriod[period] = st
		}
		st.ScheduledAmount = st.ScheduledAmount.Add(r.Payment.ScheduledAmount)
		switch domain.DeriveStatus(r.Payment, now) {
		case domain.StatusPaid:
			st.PaidCount++
			st.CollectedAmount = st.CollectedAmount.Add(r.Payment.CollectedAmount())
		case domain.StatusOverdue:
			st.OverdueCount++
			st.OverdueAmount = st.OverdueAmount.Add(r.Payment.EffectiveAmount())
		}
	}

	out := make([]MonthlyStat, 0, len(byPeriod))
	for _, st := range byPeriod {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

type PaymentsQuery struct {
	Status    *domain.PaymentStatus
	Search    *string
	StartDate *time.Time
	EndDate   *time.Time
}

// PaymentView is a payment joined with its customer and a status derived at
// read time.
type PaymentView struct {
	repository.PaymentRow
	Status domain.PaymentStatus
}

// ListPayments filters on due date. A status filter is turned into store
// predicates relative to today so the store never needs a status column.
func (a *Aggregator) ListPayments(ctx context.Context, q PaymentsQuery) ([]PaymentView, error) {
	now := a.clock.Now()
	f := paymentsFilter(q, now)

	rows, err := a.store.ListPayments(ctx, f)
	if err != nil {
		return nil, err
	}

	out := make([]PaymentView, 0, len(rows))
	for _, r := range rows {
		st := domain.DeriveStatus(r.Payment, now)
		if q.Status != nil && st != *q.Status {
			continue
		}
		out = append(out, PaymentView{PaymentRow: r, Status: st})
	}
	return out, nil
}

func paymentsFilter(q PaymentsQuery, now time.Time) repository.PaymentsFilter {
	f := repository.PaymentsFilter{Search: q.Search}
	if q.StartDate != nil {
		v := clock.Today(*q.StartDate)
		f.DueFrom = &v
	}
	if q.EndDate != nil {
		v := clock.Today(*q.EndDate)
		f.DueTo = &v
	}
	if q.Status == nil {
		return f
	}

	today := clock.Today(now)
	switch *q.Status {
	case domain.StatusPaid:
		paid := true
		f.Paid = &paid
	case domain.StatusOverdue:
		paid := false
		f.Paid = &paid
		f.DueBefore = &today
	case domain.StatusPending:
		paid := false
		f.Paid = &paid
		if f.DueFrom == nil || f.DueFrom.Before(today) {
			f.DueFrom = &today
		}
	}
	return f
}

// ProfitHint answers the legacy "update profit" call. Profit is never
// stored, so the only effect is logging any difference from what the
// caller believed.
func (a *Aggregator) ProfitHint(ctx context.Context, claimed *decimal.Decimal, actor string) (decimal.Decimal, error) {
	s, err := a.Summarize(ctx, Window{})
	if err != nil {
		return decimal.Zero, err
	}
	if claimed != nil && !claimed.Equal(s.TotalProfit) {
		a.log.Info("client profit figure differs from computed",
			zap.String("actor", actor),
			zap.String("claimed", claimed.StringFixed(2)),
			zap.String("computed", s.TotalProfit.StringFixed(2)),
		)
	}
	return s.TotalProfit, nil
}
