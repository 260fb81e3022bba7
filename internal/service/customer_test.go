package service

import (
	"context"
	"testing"

	"lease-ledger/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomerService_Update(t *testing.T) {
	f := newFixture(t, day(2024, 1, 5), day(2024, 1, 1), "100", 3)
	svc := NewCustomerService(f.store, f.ledger)
	ctx := context.Background()
	customerID := f.book.Lease.CustomerID

	year := 2022
	customer, books, err := svc.Update(ctx, customerID, CustomerUpdate{
		FullName:           "  Ana Lima Souza ",
		CarBrand:           strPtr("Hyundai"),
		CarYear:            &year,
		CarPurchaseCost:    dec("18000.50"),
		LeasingAmount:      decPtr("250.00"),
		MonthlyInstallment: decPtr("100"),
		LeaseStartDate:     &f.book.Lease.LeaseStartDate,
	})
	require.NoError(t, err)
	assert.Equal(t, "Ana Lima Souza", customer.FullName)
	assert.Equal(t, "Hyundai", *customer.CarBrand)
	require.Len(t, books, 1)
	assert.Equal(t, "Ana Lima Souza", books[0].Customer.FullName)
	assert.Len(t, books[0].Payments, 3)

	got, _, err := svc.Get(ctx, customerID)
	require.NoError(t, err)
	assert.True(t, got.CarPurchaseCost.Equal(dec("18000.50")))
	assert.Equal(t, 2022, *got.CarYear)
}

func TestCustomerService_UpdateRefusesLeaseTermChanges(t *testing.T) {
	f := newFixture(t, day(2024, 1, 5), day(2024, 1, 1), "100", 3)
	svc := NewCustomerService(f.store, f.ledger)
	ctx := context.Background()
	customerID := f.book.Lease.CustomerID
	otherStart := day(2024, 2, 1)
	duration := 6

	cases := map[string]struct {
		in    CustomerUpdate
		field string
	}{
		"leasing amount":      {CustomerUpdate{LeasingAmount: decPtr("300")}, "leasingAmount"},
		"monthly installment": {CustomerUpdate{MonthlyInstallment: decPtr("90")}, "monthlyInstallment"},
		"duration":            {CustomerUpdate{LeaseDuration: &duration}, "leaseDuration"},
		"start date":          {CustomerUpdate{LeaseStartDate: &otherStart}, "leaseStartDate"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			tc.in.FullName = "Changed"
			_, _, err := svc.Update(ctx, customerID, tc.in)
			var invalid *domain.InvalidLeaseError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tc.field, invalid.Field)
		})
	}

	got, _, err := svc.Get(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, "Ana Lima", got.FullName)
}

func TestCustomerService_UpdateValidation(t *testing.T) {
	f := newFixture(t, day(2024, 1, 5), day(2024, 1, 1), "100", 3)
	svc := NewCustomerService(f.store, f.ledger)
	ctx := context.Background()

	_, _, err := svc.Update(ctx, f.book.Lease.CustomerID, CustomerUpdate{FullName: " "})
	var invalidLease *domain.InvalidLeaseError
	assert.ErrorAs(t, err, &invalidLease)

	_, _, err = svc.Update(ctx, f.book.Lease.CustomerID, CustomerUpdate{FullName: "A", CarPurchaseCost: dec("1.005")})
	var invalidAmount *domain.InvalidAmountError
	assert.ErrorAs(t, err, &invalidAmount)

	_, _, err = svc.Update(ctx, "missing", CustomerUpdate{FullName: "A"})
	var notFound *domain.CustomerNotFoundError
	assert.ErrorAs(t, err, &notFound)
}
