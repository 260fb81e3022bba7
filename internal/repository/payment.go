package repository

import (
	"context"
	"fmt"
	"strings"
)

const paymentRowsFrom = ` FROM payments p JOIN leases l ON l.id = p.lease_id JOIN customers c ON c.id = l.customer_id`

func buildPaymentsWhere(f PaymentsFilter) (string, []any) {
	where := []string{"1=1"}
	args := []any{}
	i := 1

	if f.Search != nil && strings.TrimSpace(*f.Search) != "" {
		where = append(where, fmt.Sprintf("c.full_name ILIKE $%d", i))
		args = append(args, "%"+escapeLike(strings.TrimSpace(*f.Search))+"%")
		i++
	}
	if f.Paid != nil {
		where = append(where, fmt.Sprintf("p.paid = $%d", i))
		args = append(args, *f.Paid)
		i++
	}
	if f.DueFrom != nil {
		where = append(where, fmt.Sprintf("p.due_date >= $%d", i))
		args = append(args, *f.DueFrom)
		i++
	}
	if f.DueTo != nil {
		where = append(where, fmt.Sprintf("p.due_date <= $%d", i))
		args = append(args, *f.DueTo)
		i++
	}
	if f.DueBefore != nil {
		where = append(where, fmt.Sprintf("p.due_date < $%d", i))
		args = append(args, *f.DueBefore)
		i++
	}
	if f.LeaseID != nil {
		where = append(where, fmt.Sprintf("p.lease_id = $%d", i))
		args = append(args, *f.LeaseID)
		i++
	}
	if f.CustomerID != nil {
		where = append(where, fmt.Sprintf("l.customer_id = $%d", i))
		args = append(args, *f.CustomerID)
	}

	return strings.Join(where, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *PostgresStore) ListPayments(ctx context.Context, f PaymentsFilter) ([]PaymentRow, error) {
	where, args := buildPaymentsWhere(f)
	query := `SELECT ` + paymentColumns + `, ` + leaseColumns + `, ` + customerColumns + paymentRowsFrom +
		` WHERE ` + where + ` ORDER BY p.due_date, p.lease_id, p.sequence_index`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		if isInvalidText(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var out []PaymentRow
	for rows.Next() {
		var (
			pd paymentDest
			lc leaseCustomerDest
		)
		if err := rows.Scan(append(pd.targets(), lc.targets()...)...); err != nil {
			return nil, err
		}
		l, c := lc.result()
		out = append(out, PaymentRow{Payment: pd.result(), Lease: l, Customer: c})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) CountPayments(ctx context.Context, f PaymentsFilter) (int64, error) {
	where, args := buildPaymentsWhere(f)
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+paymentRowsFrom+` WHERE `+where, args...).Scan(&n)
	if err != nil {
		if isInvalidText(err) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}
