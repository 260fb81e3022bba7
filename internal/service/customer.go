package service

import (
	"context"
	"strings"
	"time"

	"lease-ledger/internal/clock"
	"lease-ledger/internal/domain"

	"github.com/shopspring/decimal"
)

type CustomerStore interface {
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*domain.Customer, []domain.LeaseBook, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
}

type NewCustomer struct {
	FullName        string
	PhoneNumber     *string
	CarBrand        *string
	CarModel        *string
	CarYear         *int
	CarPurchaseCost decimal.Decimal

	LeasingAmount      decimal.Decimal
	MonthlyInstallment decimal.Decimal
	LeaseDuration      int
	LeaseStartDate     time.Time
}

// CustomerUpdate replaces the customer's profile. Lease terms are optional
// and only accepted when they match the existing lease, since its payment
// schedule was generated from them.
type CustomerUpdate struct {
	FullName        string
	PhoneNumber     *string
	CarBrand        *string
	CarModel        *string
	CarYear         *int
	CarPurchaseCost decimal.Decimal

	LeasingAmount      *decimal.Decimal
	MonthlyInstallment *decimal.Decimal
	LeaseDuration      *int
	LeaseStartDate     *time.Time
}

type CustomerService struct {
	store  CustomerStore
	ledger *Ledger
}

func NewCustomerService(store CustomerStore, ledger *Ledger) *CustomerService {
	return &CustomerService{store: store, ledger: ledger}
}

// Create registers a customer with one lease and its payment schedule.
func (s *CustomerService) Create(ctx context.Context, in NewCustomer) (*domain.LeaseBook, error) {
	name := strings.TrimSpace(in.FullName)
	if name == "" {
		return nil, &domain.InvalidLeaseError{Field: "fullName", Reason: "is required"}
	}
	if err := validateCarCost(in.CarPurchaseCost); err != nil {
		return nil, err
	}
	amounts := []struct {
		field string
		v     decimal.Decimal
	}{
		{"leasingAmount", in.LeasingAmount},
		{"monthlyInstallment", in.MonthlyInstallment},
	}
	for _, a := range amounts {
		if !a.v.Round(2).Equal(a.v) {
			return nil, &domain.InvalidAmountError{Field: a.field, Reason: "must have at most 2 decimal places"}
		}
	}

	customer := domain.Customer{
		FullName:        name,
		PhoneNumber:     in.PhoneNumber,
		CarBrand:        in.CarBrand,
		CarModel:        in.CarModel,
		CarYear:         in.CarYear,
		CarPurchaseCost: in.CarPurchaseCost,
	}
	lease := domain.Lease{
		LeasingAmount:      in.LeasingAmount,
		MonthlyInstallment: in.MonthlyInstallment,
		LeaseDuration:      in.LeaseDuration,
		LeaseStartDate:     in.LeaseStartDate,
	}
	return s.ledger.CreateLease(ctx, customer, lease)
}

func (s *CustomerService) List(ctx context.Context) ([]domain.Customer, error) {
	return s.store.ListCustomers(ctx)
}

func (s *CustomerService) Get(ctx context.Context, customerID string) (*domain.Customer, []domain.LeaseBook, error) {
	return s.store.GetCustomer(ctx, customerID)
}

// Update edits the customer's profile fields. Any lease term that differs
// from a lease already on file is refused with InvalidLeaseError because
// that lease has scheduled payments.
func (s *CustomerService) Update(ctx context.Context, customerID string, in CustomerUpdate) (*domain.Customer, []domain.LeaseBook, error) {
	name := strings.TrimSpace(in.FullName)
	if name == "" {
		return nil, nil, &domain.InvalidLeaseError{Field: "fullName", Reason: "is required"}
	}
	if err := validateCarCost(in.CarPurchaseCost); err != nil {
		return nil, nil, err
	}

	current, books, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, nil, err
	}
	for _, b := range books {
		if err := checkLeaseTermsUnchanged(b, in); err != nil {
			return nil, nil, err
		}
	}

	updated, err := s.store.UpdateCustomer(ctx, domain.Customer{
		ID:              current.ID,
		FullName:        name,
		PhoneNumber:     in.PhoneNumber,
		CarBrand:        in.CarBrand,
		CarModel:        in.CarModel,
		CarYear:         in.CarYear,
		CarPurchaseCost: in.CarPurchaseCost,
	})
	if err != nil {
		return nil, nil, err
	}
	for i := range books {
		books[i].Customer = updated
	}
	return updated, books, nil
}

func validateCarCost(v decimal.Decimal) error {
	if v.IsNegative() {
		return &domain.InvalidAmountError{Field: "carPurchaseCost", Reason: "must not be negative"}
	}
	if !v.Round(2).Equal(v) {
		return &domain.InvalidAmountError{Field: "carPurchaseCost", Reason: "must have at most 2 decimal places"}
	}
	return nil
}

func checkLeaseTermsUnchanged(b domain.LeaseBook, in CustomerUpdate) error {
	const reason = "cannot change once payments are scheduled"
	l := b.Lease
	switch {
	case in.LeasingAmount != nil && !in.LeasingAmount.Equal(l.LeasingAmount):
		return &domain.InvalidLeaseError{Field: "leasingAmount", Reason: reason}
	case in.MonthlyInstallment != nil && !in.MonthlyInstallment.Equal(l.MonthlyInstallment):
		return &domain.InvalidLeaseError{Field: "monthlyInstallment", Reason: reason}
	case in.LeaseDuration != nil && *in.LeaseDuration != l.LeaseDuration:
		return &domain.InvalidLeaseError{Field: "leaseDuration", Reason: reason}
	case in.LeaseStartDate != nil && !clock.Today(*in.LeaseStartDate).Equal(clock.Today(l.LeaseStartDate)):
		return &domain.InvalidLeaseError{Field: "leaseStartDate", Reason: reason}
	}
	return nil
}
