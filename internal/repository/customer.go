package repository

import (
	"context"
	"database/sql"
	"errors"

	"lease-ledger/internal/domain"
)

func (s *PostgresStore) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.full_name, c.phone_number, c.car_brand, c.car_model, c.car_year, c.car_purchase_cost, c.created_at
		FROM customers c
		ORDER BY lower(c.full_name), c.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, []domain.LeaseBook, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.full_name, c.phone_number, c.car_brand, c.car_model, c.car_year, c.car_purchase_cost, c.created_at
		FROM customers c
		WHERE c.id = $1`, customerID)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
		return nil, nil, &domain.CustomerNotFoundError{CustomerID: customerID}
	}
	if err != nil {
		return nil, nil, err
	}

	books, err := loadBooks(ctx, s.db, "l.customer_id = $1", []any{customerID})
	if err != nil {
		return nil, nil, err
	}
	return &c, books, nil
}

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var (
		c       domain.Customer
		phone   sql.NullString
		brand   sql.NullString
		model   sql.NullString
		carYear sql.NullInt64
		created sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.FullName, &phone, &brand, &model, &carYear, &c.CarPurchaseCost, &created); err != nil {
		return c, err
	}
	c.PhoneNumber = toStringPtr(phone)
	c.CarBrand = toStringPtr(brand)
	c.CarModel = toStringPtr(model)
	if carYear.Valid {
		y := int(carYear.Int64)
		c.CarYear = &y
	}
	c.CreatedAt = toTimePtr(created)
	return c, nil
}

// UpdateCustomer overwrites the customer's profile fields. Lease rows are
// left untouched.
func (s *PostgresStore) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET full_name = $2, phone_number = $3, car_brand = $4, car_model = $5, car_year = $6, car_purchase_cost = $7
		WHERE id = $1
		RETURNING id, full_name, phone_number, car_brand, car_model, car_year, car_purchase_cost, created_at`,
		customer.ID, customer.FullName, customer.PhoneNumber, customer.CarBrand, customer.CarModel, customer.CarYear, customer.CarPurchaseCost,
	)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
		return nil, &domain.CustomerNotFoundError{CustomerID: customer.ID}
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
