package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"lease-ledger/internal/clock"
	"lease-ledger/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type PaymentCounter interface {
	CountPayments(ctx context.Context, f repository.PaymentsFilter) (int64, error)
}

type PaymentLister interface {
	ListPayments(ctx context.Context, q PaymentsQuery) ([]PaymentView, error)
}

// ExportFiles stores finished spreadsheets and tells where they are served.
type ExportFiles interface {
	Save(ctx context.Context, fileName string, data []byte) (string, error)
	GetURL(fileName string) string
}

type ExportNotifier interface {
	NotifyExportProgress(ctx context.Context, userID int64, exportID string, progress float64, stage string) error
	NotifyExportComplete(ctx context.Context, userID int64, exportID, url, filename string) error
	NotifyExportFailed(ctx context.Context, userID int64, exportID string, errMsg string) error
}

type PaymentColumn struct {
	Header string
	Value  func(p PaymentView) any
}

func money(d decimal.Decimal) any {
	f, _ := d.Float64()
	return f
}

func moneyPtr(d *decimal.Decimal) any {
	if d == nil {
		return ""
	}
	return money(*d)
}

func datePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

var paymentColumns = map[string]PaymentColumn{
	"id":                 {Header: "ID", Value: func(p PaymentView) any { return p.Payment.ID }},
	"lease_id":           {Header: "Lease ID", Value: func(p PaymentView) any { return p.Payment.LeaseID }},
	"sequence_index":     {Header: "Installment #", Value: func(p PaymentView) any { return p.Payment.SequenceIndex + 1 }},
	"customer":           {Header: "Customer", Value: func(p PaymentView) any { return p.Customer.FullName }},
	"phone_number":       {Header: "Phone", Value: func(p PaymentView) any { return strOrEmpty(p.Customer.PhoneNumber) }},
	"car_brand":          {Header: "Car brand", Value: func(p PaymentView) any { return strOrEmpty(p.Customer.CarBrand) }},
	"car_model":          {Header: "Car model", Value: func(p PaymentView) any { return strOrEmpty(p.Customer.CarModel) }},
	"due_date":           {Header: "Due date", Value: func(p PaymentView) any { return p.Payment.DueDate.Format("2006-01-02") }},
	"scheduled_amount":   {Header: "Scheduled", Value: func(p PaymentView) any { return money(p.Payment.ScheduledAmount) }},
	"credited_amount":    {Header: "Credited", Value: func(p PaymentView) any { return money(p.Payment.CreditedAmount) }},
	"effective_amount":   {Header: "Due", Value: func(p PaymentView) any { return money(p.Payment.EffectiveAmount()) }},
	"status":             {Header: "Status", Value: func(p PaymentView) any { return string(p.Status) }},
	"payment_date":       {Header: "Paid on", Value: func(p PaymentView) any { return datePtr(p.Payment.PaymentDate) }},
	"actual_amount_paid": {Header: "Amount paid", Value: func(p PaymentView) any { return moneyPtr(p.Payment.ActualAmountPaid) }},
	"unallocated_excess": {Header: "Unallocated excess", Value: func(p PaymentView) any { return money(p.Payment.UnallocatedExcess) }},
	"notes":              {Header: "Notes", Value: func(p PaymentView) any { return strOrEmpty(p.Payment.Notes) }},
	"proof_ref":          {Header: "Proof", Value: func(p PaymentView) any { return strOrEmpty(p.Payment.ProofRef) }},
}

var defaultPaymentColumns = []string{
	"due_date", "customer", "car_brand", "sequence_index", "scheduled_amount", "credited_amount",
	"effective_amount", "status", "payment_date", "actual_amount_paid", "unallocated_excess", "notes",
}

const maxPaymentsForExport = 500_000

var ErrExportTooLarge = fmt.Errorf("too many payments to export (more than %d rows)", maxPaymentsForExport)

// PaymentExportService builds the payment ledger spreadsheet in the
// background and reports progress over the export cache and websocket.
type PaymentExportService struct {
	payments PaymentLister
	counter  PaymentCounter
	cache    ExportCache
	files    ExportFiles
	notifier ExportNotifier
	clock    clock.Clock
	log      *zap.Logger

	chunkSize int
}

func NewPaymentExportService(
	payments PaymentLister,
	counter PaymentCounter,
	cache ExportCache,
	files ExportFiles,
	notifier ExportNotifier,
	clk clock.Clock,
	log *zap.Logger,
) *PaymentExportService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentExportService{
		payments:  payments,
		counter:   counter,
		cache:     cache,
		files:     files,
		notifier:  notifier,
		clock:     clk,
		log:       log,
		chunkSize: 1000,
	}
}

// UnknownColumnError names a requested column the export does not know.
type UnknownColumnError struct {
	Column string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown export column %q", e.Column)
}

func (s *PaymentExportService) StartPaymentsExport(ctx context.Context, selected []string, q PaymentsQuery, userID int64) (string, error) {
	if len(selected) == 0 {
		selected = defaultPaymentColumns
	}
	for _, key := range selected {
		if _, ok := paymentColumns[key]; !ok {
			return "", &UnknownColumnError{Column: key}
		}
	}

	if s.counter != nil {
		n, err := s.counter.CountPayments(ctx, paymentsFilter(q, s.clock.Now()))
		if err != nil {
			return "", err
		}
		if n > maxPaymentsForExport {
			return "", ErrExportTooLarge
		}
	}

	exportID := fmt.Sprintf("exports:%s", uuid.NewString())
	status := &ExportStatus{
		Key:     exportID,
		Type:    "payments",
		UserID:  userID,
		Filters: paymentsFiltersMap(q, selected),
		Created: s.clock.Now(),
	}
	if err := saveExportStatus(ctx, s.cache, status); err != nil {
		s.log.Warn("save export status failed", zap.String("export_id", exportID), zap.Error(err))
	}

	go s.runPaymentsExport(context.Background(), status, selected, q)

	return exportID, nil
}

func (s *PaymentExportService) progress(ctx context.Context, st *ExportStatus, progress float64, stage string) {
	st.Progress = progress
	if err := saveExportStatus(ctx, s.cache, st); err != nil {
		s.log.Warn("save export status failed", zap.String("export_id", st.Key), zap.Error(err))
	}
	if s.notifier != nil {
		_ = s.notifier.NotifyExportProgress(ctx, st.UserID, st.Key, progress, stage)
	}
}

func (s *PaymentExportService) fail(ctx context.Context, st *ExportStatus, err error) {
	msg := err.Error()
	s.log.Error("payments export failed", zap.String("export_id", st.Key), zap.Int64("user_id", st.UserID), zap.Error(err))
	st.Error = &msg
	st.Progress = 100
	_ = saveExportStatus(ctx, s.cache, st)
	if s.notifier != nil {
		_ = s.notifier.NotifyExportFailed(ctx, st.UserID, st.Key, msg)
	}
}

func (s *PaymentExportService) runPaymentsExport(ctx context.Context, status *ExportStatus, selected []string, q PaymentsQuery) {
	payments, err := s.payments.ListPayments(ctx, q)
	if err != nil {
		s.fail(ctx, status, fmt.Errorf("list payments: %w", err))
		return
	}

	data, err := s.buildWorkbook(ctx, status, selected, payments)
	if err != nil {
		s.fail(ctx, status, err)
		return
	}

	if s.files == nil {
		s.fail(ctx, status, errors.New("export storage is not configured"))
		return
	}

	s.progress(ctx, status, 95, "uploading")

	fileName := fmt.Sprintf("payments_%s.xlsx", s.clock.Now().Format("20060102_150405"))
	savedName, err := s.files.Save(ctx, fileName, data)
	if err != nil {
		s.fail(ctx, status, fmt.Errorf("save export failed: %w", err))
		return
	}

	url := s.files.GetURL(savedName)
	status.FileURL = &url
	s.progress(ctx, status, 100, "ready")
	if s.notifier != nil {
		_ = s.notifier.NotifyExportComplete(ctx, status.UserID, status.Key, url, fileName)
	}
	s.log.Info("payments export ready",
		zap.String("export_id", status.Key),
		zap.Int64("user_id", status.UserID),
		zap.Int("rows", len(payments)),
	)
}

func (s *PaymentExportService) buildWorkbook(ctx context.Context, status *ExportStatus, selected []string, payments []PaymentView) ([]byte, error) {
	cols := make([]PaymentColumn, 0, len(selected))
	for _, key := range selected {
		cols = append(cols, paymentColumns[key])
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := "Payments"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	_ = f.SetDocProps(&excelize.DocProperties{Creator: fmt.Sprintf("user_%d", status.UserID)})

	for i, col := range cols {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, col.Header)
	}

	total := len(payments)
	for i, p := range payments {
		for colIdx, col := range cols {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, i+2)
			_ = f.SetCellValue(sheet, cell, col.Value(p))
		}

		if (i+1)%s.chunkSize == 0 || i == total-1 {
			progress := math.Round(float64(i+1) / float64(total) * 100.0)
			if progress >= 95 {
				progress = 94
			}
			s.progress(ctx, status, progress, "generating")
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func paymentsFiltersMap(q PaymentsQuery, fields []string) map[string]any {
	m := map[string]any{"fields": fields}
	if q.Status != nil {
		m["status"] = string(*q.Status)
	} else {
		m["status"] = nil
	}
	if q.Search != nil {
		m["search"] = *q.Search
	} else {
		m["search"] = nil
	}
	if q.StartDate != nil {
		m["start_date"] = q.StartDate.Format("2006-01-02")
	} else {
		m["start_date"] = nil
	}
	if q.EndDate != nil {
		m["end_date"] = q.EndDate.Format("2006-01-02")
	} else {
		m["end_date"] = nil
	}
	return m
}
