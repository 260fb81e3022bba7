package rest

import (
	"context"
	"net/http"
	"time"

	"lease-ledger/internal/clock"
	"lease-ledger/internal/domain"
	"lease-ledger/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CustomerManager interface {
	Create(ctx context.Context, in service.NewCustomer) (*domain.LeaseBook, error)
	List(ctx context.Context) ([]domain.Customer, error)
	Get(ctx context.Context, customerID string) (*domain.Customer, []domain.LeaseBook, error)
	Update(ctx context.Context, customerID string, in service.CustomerUpdate) (*domain.Customer, []domain.LeaseBook, error)
}

type PaymentLedger interface {
	Payment(ctx context.Context, paymentID string) (domain.Payment, domain.PaymentStatus, error)
	MarkPaid(ctx context.Context, req service.MarkPaidRequest) (*service.MarkPaidResult, error)
	Revert(ctx context.Context, req service.RevertRequest) (*service.RevertResult, error)
}

type Reports interface {
	Summarize(ctx context.Context, w service.Window) (service.Summary, error)
	Dashboard(ctx context.Context) (service.Dashboard, error)
	CarBrands(ctx context.Context, w service.Window) ([]service.CarBrandStat, error)
	Monthly(ctx context.Context, w service.Window) ([]service.MonthlyStat, error)
	ListPayments(ctx context.Context, q service.PaymentsQuery) ([]service.PaymentView, error)
	ProfitHint(ctx context.Context, claimed *decimal.Decimal, actor string) (decimal.Decimal, error)
}

type AuditReader interface {
	EntriesForPayment(ctx context.Context, paymentID string) ([]domain.AuditEntry, error)
	EntriesForLease(ctx context.Context, leaseID string) ([]domain.AuditEntry, error)
}

type PaymentExporter interface {
	StartPaymentsExport(ctx context.Context, selected []string, q service.PaymentsQuery, userID int64) (string, error)
}

type ExportListService interface {
	GetExports(ctx context.Context, userID int64) ([]service.ExportView, error)
	GetExport(ctx context.Context, exportID string, userID int64) (*service.ExportView, error)
}

// ProofStore keeps proof-of-payment files. Keys it returns are stored on the
// payment as-is.
type ProofStore interface {
	Put(ctx context.Context, fileName, contentType string, data []byte) (string, error)
	URL(ctx context.Context, key string) (string, error)
}

type Services struct {
	Customers CustomerManager
	Ledger    PaymentLedger
	Reports   Reports
	Audit     AuditReader
	Exporter  PaymentExporter
	Exports   ExportListService
	Proofs    ProofStore // optional
}

type Handler struct {
	customers  CustomerManager
	ledger     PaymentLedger
	reports    Reports
	audit      AuditReader
	payments   PaymentExporter
	exportList ExportListService
	proofs     ProofStore

	clock clock.Clock
	log   *zap.Logger
}

func NewHandler(s Services, clk clock.Clock, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		customers:  s.Customers,
		ledger:     s.Ledger,
		reports:    s.Reports,
		audit:      s.Audit,
		payments:   s.Exporter,
		exportList: s.Exports,
		proofs:     s.Proofs,
		clock:      clk,
		log:        log,
	}
}

func (h *Handler) InitRouter() *chi.Mux {
	return h.InitRouterWithAuth(nil)
}

func (h *Handler) InitRouterWithAuth(authMiddleware func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)

	if authMiddleware != nil {
		r.Use(authMiddleware)
	}

	r.Route("/customers", func(r chi.Router) {
		r.Get("/", h.listCustomers)
		r.Post("/", h.createCustomer)
		r.Get("/{id}", h.getCustomer)
		r.Put("/{id}", h.updateCustomer)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Get("/", h.listPayments)
		r.Get("/{id}", h.getPayment)
		r.Post("/{id}/pay", h.payPayment)
		r.Post("/{id}/revert", h.revertPayment)
		r.Get("/{id}/audit", h.paymentAudit)
		r.Get("/{id}/proof", h.paymentProof)
	})

	r.Get("/leases/{id}/audit", h.leaseAudit)

	r.Route("/reports", func(r chi.Router) {
		r.Get("/dashboard", h.dashboard)
		r.Get("/summary", h.summary)
		r.Get("/car-brands", h.carBrands)
		r.Get("/monthly", h.monthly)
		r.Post("/update-profit", h.updateProfit)
	})

	r.Route("/export", func(r chi.Router) {
		r.Get("/", h.listExports)
		r.Get("/{export_id}", h.getExport)
		r.Post("/payments", h.exportPayments)
	})

	return r
}
