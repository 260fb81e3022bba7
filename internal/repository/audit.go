package repository

import (
	"context"
	"database/sql"

	"lease-ledger/internal/domain"

	"github.com/shopspring/decimal"
)

const auditColumns = `id, seq, lease_id, payment_id, kind, from_status, to_status, actor, ts, notes, source_payment_id, amount`

func (s *PostgresStore) EntriesForPayment(ctx context.Context, paymentID string) ([]domain.AuditEntry, error) {
	return s.listAudit(ctx, `payment_id = $1`, paymentID)
}

func (s *PostgresStore) EntriesForLease(ctx context.Context, leaseID string) ([]domain.AuditEntry, error) {
	return s.listAudit(ctx, `lease_id = $1`, leaseID)
}

func (s *PostgresStore) listAudit(ctx context.Context, where string, arg any) ([]domain.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_entries WHERE `+where+` ORDER BY ts, seq`, arg)
	if err != nil {
		if isInvalidText(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e      domain.AuditEntry
			kind   string
			from   string
			to     string
			notes  sql.NullString
			source sql.NullString
			amount decimal.NullDecimal
		)
		if err := rows.Scan(&e.ID, &e.Seq, &e.LeaseID, &e.PaymentID, &kind, &from, &to, &e.Actor, &e.Timestamp, &notes, &source, &amount); err != nil {
			return nil, err
		}
		e.Kind = domain.AuditKind(kind)
		e.FromStatus = domain.PaymentStatus(from)
		e.ToStatus = domain.PaymentStatus(to)
		e.Notes = toStringPtr(notes)
		e.SourcePaymentID = toStringPtr(source)
		if amount.Valid {
			v := amount.Decimal
			e.Amount = &v
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
