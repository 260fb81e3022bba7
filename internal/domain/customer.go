package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	ID          string
	FullName    string
	PhoneNumber *string

	CarBrand        *string
	CarModel        *string
	CarYear         *int
	CarPurchaseCost decimal.Decimal

	CreatedAt *time.Time
}
