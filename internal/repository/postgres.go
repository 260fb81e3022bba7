package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"lease-ledger/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const (
	customerColumns = `c.id, c.full_name, c.phone_number, c.car_brand, c.car_model, c.car_year, c.car_purchase_cost, c.created_at`
	leaseColumns    = `l.id, l.customer_id, l.leasing_amount, l.monthly_installment, l.lease_duration, l.lease_start_date, l.version, l.created_at`
	paymentColumns  = `p.id, p.lease_id, p.sequence_index, p.due_date, p.scheduled_amount, p.credited_amount, p.paid, p.actual_amount_paid, p.payment_date, p.proof_ref, p.notes, p.unallocated_excess, p.created_at, p.updated_at`
	creditColumns   = `g.id, g.lease_id, g.source_payment_id, g.target_payment_id, g.amount, g.granted_at, g.revoked_at`
)

type rowScanner interface {
	Scan(dest ...any) error
}

// leaseCustomerDest holds scan targets for leaseColumns followed by customerColumns.
type leaseCustomerDest struct {
	l        domain.Lease
	c        domain.Customer
	lCreated sql.NullTime
	cCreated sql.NullTime
	phone    sql.NullString
	brand    sql.NullString
	model    sql.NullString
	carYear  sql.NullInt64
}

func (d *leaseCustomerDest) targets() []any {
	return []any{
		&d.l.ID, &d.l.CustomerID, &d.l.LeasingAmount, &d.l.MonthlyInstallment, &d.l.LeaseDuration, &d.l.LeaseStartDate, &d.l.Version, &d.lCreated,
		&d.c.ID, &d.c.FullName, &d.phone, &d.brand, &d.model, &d.carYear, &d.c.CarPurchaseCost, &d.cCreated,
	}
}

func (d *leaseCustomerDest) result() (domain.Lease, domain.Customer) {
	l, c := d.l, d.c
	l.LeaseStartDate = asDate(l.LeaseStartDate)
	l.CreatedAt = toTimePtr(d.lCreated)
	c.CreatedAt = toTimePtr(d.cCreated)
	c.PhoneNumber = toStringPtr(d.phone)
	c.CarBrand = toStringPtr(d.brand)
	c.CarModel = toStringPtr(d.model)
	if d.carYear.Valid {
		y := int(d.carYear.Int64)
		c.CarYear = &y
	}
	return l, c
}

// paymentDest holds scan targets for paymentColumns.
type paymentDest struct {
	p         domain.Payment
	actual    decimal.NullDecimal
	payDate   sql.NullTime
	proof     sql.NullString
	notes     sql.NullString
	createdAt sql.NullTime
	updatedAt sql.NullTime
}

func (d *paymentDest) targets() []any {
	return []any{
		&d.p.ID, &d.p.LeaseID, &d.p.SequenceIndex, &d.p.DueDate, &d.p.ScheduledAmount, &d.p.CreditedAmount, &d.p.Paid,
		&d.actual, &d.payDate, &d.proof, &d.notes, &d.p.UnallocatedExcess, &d.createdAt, &d.updatedAt,
	}
}

func (d *paymentDest) result() domain.Payment {
	p := d.p
	p.DueDate = asDate(p.DueDate)
	if d.actual.Valid {
		v := d.actual.Decimal
		p.ActualAmountPaid = &v
	}
	if d.payDate.Valid {
		pd := asDate(d.payDate.Time)
		p.PaymentDate = &pd
	}
	p.ProofRef = toStringPtr(d.proof)
	p.Notes = toStringPtr(d.notes)
	p.CreatedAt = toTimePtr(d.createdAt)
	p.UpdatedAt = toTimePtr(d.updatedAt)
	return p
}

func scanLeaseCustomer(row rowScanner) (domain.Lease, domain.Customer, error) {
	var d leaseCustomerDest
	if err := row.Scan(d.targets()...); err != nil {
		return domain.Lease{}, domain.Customer{}, err
	}
	l, c := d.result()
	return l, c, nil
}

func scanPayment(row rowScanner) (domain.Payment, error) {
	var d paymentDest
	if err := row.Scan(d.targets()...); err != nil {
		return domain.Payment{}, err
	}
	return d.result(), nil
}

func scanCredit(row rowScanner) (domain.CreditGrant, error) {
	var (
		g       domain.CreditGrant
		revoked sql.NullTime
	)
	if err := row.Scan(&g.ID, &g.LeaseID, &g.SourcePaymentID, &g.TargetPaymentID, &g.Amount, &g.GrantedAt, &revoked); err != nil {
		return g, err
	}
	g.RevokedAt = toTimePtr(revoked)
	return g, nil
}

func (s *PostgresStore) CreateLease(ctx context.Context, customer domain.Customer, lease domain.Lease, payments []domain.Payment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO customers (id, full_name, phone_number, car_brand, car_model, car_year, car_purchase_cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		customer.ID, customer.FullName, customer.PhoneNumber, customer.CarBrand, customer.CarModel, customer.CarYear, customer.CarPurchaseCost,
	)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO leases (id, customer_id, leasing_amount, monthly_installment, lease_duration, lease_start_date, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		lease.ID, lease.CustomerID, lease.LeasingAmount, lease.MonthlyInstallment, lease.LeaseDuration, lease.LeaseStartDate, lease.Version,
	)
	if err != nil {
		return fmt.Errorf("insert lease: %w", err)
	}

	for _, p := range payments {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO payments (id, lease_id, sequence_index, due_date, scheduled_amount, credited_amount, paid)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			p.ID, p.LeaseID, p.SequenceIndex, p.DueDate, p.ScheduledAmount, p.CreditedAmount, p.Paid,
		)
		if err != nil {
			return fmt.Errorf("insert payment %d: %w", p.SequenceIndex, err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) LeaseIDForPayment(ctx context.Context, paymentID string) (string, error) {
	var leaseID string
	err := s.db.QueryRowContext(ctx, `SELECT lease_id FROM payments WHERE id = $1`, paymentID).Scan(&leaseID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &domain.PaymentNotFoundError{PaymentID: paymentID}
	}
	if err != nil {
		// malformed uuids are rejected by postgres; treat them as unknown ids
		if isInvalidText(err) {
			return "", &domain.PaymentNotFoundError{PaymentID: paymentID}
		}
		return "", err
	}
	return leaseID, nil
}

func (s *PostgresStore) LoadBook(ctx context.Context, leaseID string) (*domain.LeaseBook, error) {
	books, err := loadBooks(ctx, s.db, "l.id = $1", []any{leaseID})
	if err != nil {
		if isInvalidText(err) {
			return nil, &domain.LeaseNotFoundError{LeaseID: leaseID}
		}
		return nil, err
	}
	if len(books) == 0 {
		return nil, &domain.LeaseNotFoundError{LeaseID: leaseID}
	}
	return &books[0], nil
}

// loadBooks reads every lease matching where (over alias l) with its
// customer, payments and credits.
func loadBooks(ctx context.Context, q queryer, where string, args []any) ([]domain.LeaseBook, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+leaseColumns+`, `+customerColumns+`
		FROM leases l
		JOIN customers c ON c.id = l.customer_id
		WHERE `+where+`
		ORDER BY l.lease_start_date, l.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []domain.LeaseBook
	index := make(map[string]int)
	for rows.Next() {
		l, c, err := scanLeaseCustomer(rows)
		if err != nil {
			return nil, err
		}
		cust := c
		index[l.ID] = len(books)
		books = append(books, domain.LeaseBook{Lease: l, Customer: &cust})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(books) == 0 {
		return books, nil
	}

	prows, err := q.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments p
		JOIN leases l ON l.id = p.lease_id
		WHERE `+where+`
		ORDER BY p.lease_id, p.sequence_index`, args...)
	if err != nil {
		return nil, err
	}
	defer prows.Close()
	for prows.Next() {
		p, err := scanPayment(prows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[p.LeaseID]; ok {
			books[i].Payments = append(books[i].Payments, p)
		}
	}
	if err := prows.Err(); err != nil {
		return nil, err
	}

	grows, err := q.QueryContext(ctx, `
		SELECT `+creditColumns+`
		FROM credit_grants g
		JOIN leases l ON l.id = g.lease_id
		WHERE `+where+`
		ORDER BY g.granted_at, g.id`, args...)
	if err != nil {
		return nil, err
	}
	defer grows.Close()
	for grows.Next() {
		g, err := scanCredit(grows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[g.LeaseID]; ok {
			books[i].Credits = append(books[i].Credits, g)
		}
	}
	if err := grows.Err(); err != nil {
		return nil, err
	}

	return books, nil
}

// SaveBook applies change in one transaction guarded by the lease version.
func (s *PostgresStore) SaveBook(ctx context.Context, change BookChange) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE leases SET version = version + 1 WHERE id = $1 AND version = $2`,
		change.LeaseID, change.ExpectedVersion,
	)
	if err != nil {
		return fmt.Errorf("bump lease version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM leases WHERE id = $1)`, change.LeaseID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return &domain.LeaseNotFoundError{LeaseID: change.LeaseID}
		}
		return &domain.ConcurrentModificationError{LeaseID: change.LeaseID, ExpectedVersion: change.ExpectedVersion}
	}

	now := time.Now()
	for _, p := range change.Payments {
		res, err := tx.ExecContext(ctx, `
			UPDATE payments
			SET credited_amount = $3,
			    paid = $4,
			    actual_amount_paid = $5,
			    payment_date = $6,
			    proof_ref = $7,
			    notes = $8,
			    unallocated_excess = $9,
			    updated_at = $10
			WHERE id = $1 AND lease_id = $2`,
			p.ID, change.LeaseID, p.CreditedAmount, p.Paid, nullDecimal(p.ActualAmountPaid), p.PaymentDate,
			p.ProofRef, p.Notes, p.UnallocatedExcess, now,
		)
		if err != nil {
			return fmt.Errorf("update payment %s: %w", p.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &domain.PaymentNotFoundError{PaymentID: p.ID}
		}
	}

	for _, g := range change.RevokedCredits {
		revokedAt := now
		if g.RevokedAt != nil {
			revokedAt = *g.RevokedAt
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE credit_grants SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
			g.ID, revokedAt,
		)
		if err != nil {
			return fmt.Errorf("revoke credit %s: %w", g.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("credit grant %s not found or already revoked", g.ID)
		}
	}

	for _, g := range change.NewCredits {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO credit_grants (id, lease_id, source_payment_id, target_payment_id, amount, granted_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			g.ID, g.LeaseID, g.SourcePaymentID, g.TargetPaymentID, g.Amount, g.GrantedAt,
		)
		if err != nil {
			return fmt.Errorf("insert credit %s: %w", g.ID, err)
		}
	}

	for _, e := range change.Audit {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_entries (id, lease_id, payment_id, kind, from_status, to_status, actor, ts, notes, source_payment_id, amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			e.ID, e.LeaseID, e.PaymentID, string(e.Kind), string(e.FromStatus), string(e.ToStatus),
			e.Actor, e.Timestamp, e.Notes, e.SourcePaymentID, nullDecimal(e.Amount),
		)
		if err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}
	}

	return tx.Commit()
}

// Snapshot reads all lease books in scope inside one REPEATABLE READ
// transaction so every figure derived from them sees the same state.
func (s *PostgresStore) Snapshot(ctx context.Context, f SnapshotFilter) ([]domain.LeaseBook, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	where := []string{"1=1"}
	args := []any{}
	i := 1
	if f.StartFrom != nil {
		where = append(where, fmt.Sprintf("l.lease_start_date >= $%d", i))
		args = append(args, *f.StartFrom)
		i++
	}
	if f.StartTo != nil {
		where = append(where, fmt.Sprintf("l.lease_start_date <= $%d", i))
		args = append(args, *f.StartTo)
	}

	books, err := loadBooks(ctx, tx, strings.Join(where, " AND "), args)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return books, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func toStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func toTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

// asDate drops the time part and location of a DATE column value.
func asDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// isInvalidText reports invalid_text_representation, which is what a
// malformed uuid parameter produces.
func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
