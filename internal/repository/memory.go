package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"lease-ledger/internal/domain"
)

// MemoryStore keeps the whole ledger in memory behind one RWMutex.
// Used by tests and by STORAGE_DRIVER=memory.
type MemoryStore struct {
	mu sync.RWMutex

	customers map[string]domain.Customer
	books     map[string]*domain.LeaseBook
	// paymentLease maps payment id to lease id.
	paymentLease map[string]string

	audit    []domain.AuditEntry
	auditSeq int64

	tokens map[string]domain.PersonalAccessToken
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers:    make(map[string]domain.Customer),
		books:        make(map[string]*domain.LeaseBook),
		paymentLease: make(map[string]string),
		tokens:       make(map[string]domain.PersonalAccessToken),
	}
}

func (s *MemoryStore) CreateLease(_ context.Context, customer domain.Customer, lease domain.Lease, payments []domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.books[lease.ID]; exists {
		return fmt.Errorf("lease %s already exists", lease.ID)
	}

	s.customers[customer.ID] = customer
	book := &domain.LeaseBook{Lease: lease}
	for _, p := range payments {
		book.Payments = append(book.Payments, p.Clone())
		s.paymentLease[p.ID] = lease.ID
	}
	book.SortPayments()
	s.books[lease.ID] = book
	return nil
}

func (s *MemoryStore) LeaseIDForPayment(_ context.Context, paymentID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	leaseID, ok := s.paymentLease[paymentID]
	if !ok {
		return "", &domain.PaymentNotFoundError{PaymentID: paymentID}
	}
	return leaseID, nil
}

func (s *MemoryStore) LoadBook(_ context.Context, leaseID string) (*domain.LeaseBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.bookLocked(leaseID)
}

func (s *MemoryStore) bookLocked(leaseID string) (*domain.LeaseBook, error) {
	book, ok := s.books[leaseID]
	if !ok {
		return nil, &domain.LeaseNotFoundError{LeaseID: leaseID}
	}
	c := book.Clone()
	if cust, ok := s.customers[book.Lease.CustomerID]; ok {
		c.Customer = &cust
	}
	return c, nil
}

func (s *MemoryStore) SaveBook(_ context.Context, change BookChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[change.LeaseID]
	if !ok {
		return &domain.LeaseNotFoundError{LeaseID: change.LeaseID}
	}
	if book.Lease.Version != change.ExpectedVersion {
		return &domain.ConcurrentModificationError{LeaseID: change.LeaseID, ExpectedVersion: change.ExpectedVersion}
	}

	// validate everything before touching the book so a bad change leaves no trace
	for _, p := range change.Payments {
		if book.PaymentIndex(p.ID) < 0 {
			return &domain.PaymentNotFoundError{PaymentID: p.ID}
		}
	}
	revokeIdx := make([]int, 0, len(change.RevokedCredits))
	for _, g := range change.RevokedCredits {
		idx := -1
		for i := range book.Credits {
			if book.Credits[i].ID == g.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("credit grant %s not found", g.ID)
		}
		revokeIdx = append(revokeIdx, idx)
	}

	for _, p := range change.Payments {
		book.Payments[book.PaymentIndex(p.ID)] = p.Clone()
	}
	for i, idx := range revokeIdx {
		at := change.RevokedCredits[i].RevokedAt
		if at == nil {
			now := time.Now()
			at = &now
		}
		v := *at
		book.Credits[idx].RevokedAt = &v
	}
	book.Credits = append(book.Credits, change.NewCredits...)

	for _, e := range change.Audit {
		s.auditSeq++
		e.Seq = s.auditSeq
		s.audit = append(s.audit, e)
	}

	book.Lease.Version++
	return nil
}

func (s *MemoryStore) EntriesForPayment(_ context.Context, paymentID string) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditEntry
	for _, e := range s.audit {
		if e.PaymentID == paymentID {
			out = append(out, e)
		}
	}
	sortAudit(out)
	return out, nil
}

func (s *MemoryStore) EntriesForLease(_ context.Context, leaseID string) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditEntry
	for _, e := range s.audit {
		if e.LeaseID == leaseID {
			out = append(out, e)
		}
	}
	sortAudit(out)
	return out, nil
}

func sortAudit(entries []domain.AuditEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].Seq < entries[j].Seq
	})
}

// Snapshot returns deep copies of every lease book in scope, taken under one read lock.
func (s *MemoryStore) Snapshot(_ context.Context, f SnapshotFilter) ([]domain.LeaseBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.LeaseBook, 0, len(s.books))
	for id, book := range s.books {
		if !f.includes(book.Lease) {
			continue
		}
		c, err := s.bookLocked(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Lease.LeaseStartDate.Equal(out[j].Lease.LeaseStartDate) {
			return out[i].Lease.LeaseStartDate.Before(out[j].Lease.LeaseStartDate)
		}
		return out[i].Lease.ID < out[j].Lease.ID
	})
	return out, nil
}

func (s *MemoryStore) ListPayments(_ context.Context, f PaymentsFilter) ([]PaymentRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var search string
	if f.Search != nil {
		search = strings.ToLower(strings.TrimSpace(*f.Search))
	}

	var out []PaymentRow
	for _, book := range s.books {
		if f.LeaseID != nil && book.Lease.ID != *f.LeaseID {
			continue
		}
		cust := s.customers[book.Lease.CustomerID]
		if f.CustomerID != nil && cust.ID != *f.CustomerID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(cust.FullName), search) {
			continue
		}
		for _, p := range book.Payments {
			if f.Paid != nil && p.Paid != *f.Paid {
				continue
			}
			if f.DueFrom != nil && p.DueDate.Before(*f.DueFrom) {
				continue
			}
			if f.DueTo != nil && p.DueDate.After(*f.DueTo) {
				continue
			}
			if f.DueBefore != nil && !p.DueDate.Before(*f.DueBefore) {
				continue
			}
			out = append(out, PaymentRow{Payment: p.Clone(), Lease: book.Lease, Customer: cust})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Payment.DueDate.Equal(out[j].Payment.DueDate) {
			return out[i].Payment.DueDate.Before(out[j].Payment.DueDate)
		}
		if out[i].Lease.ID != out[j].Lease.ID {
			return out[i].Lease.ID < out[j].Lease.ID
		}
		return out[i].Payment.SequenceIndex < out[j].Payment.SequenceIndex
	})
	return out, nil
}

func (s *MemoryStore) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].FullName) < strings.ToLower(out[j].FullName)
	})
	return out, nil
}

func (s *MemoryStore) GetCustomer(_ context.Context, customerID string) (*domain.Customer, []domain.LeaseBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cust, ok := s.customers[customerID]
	if !ok {
		return nil, nil, &domain.CustomerNotFoundError{CustomerID: customerID}
	}

	var books []domain.LeaseBook
	for id, book := range s.books {
		if book.Lease.CustomerID != customerID {
			continue
		}
		c, err := s.bookLocked(id)
		if err != nil {
			return nil, nil, err
		}
		books = append(books, *c)
	}
	sort.Slice(books, func(i, j int) bool {
		return books[i].Lease.LeaseStartDate.Before(books[j].Lease.LeaseStartDate)
	})
	return &cust, books, nil
}

func (s *MemoryStore) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.customers[customer.ID]
	if !ok {
		return nil, &domain.CustomerNotFoundError{CustomerID: customer.ID}
	}
	customer.CreatedAt = cur.CreatedAt
	s.customers[customer.ID] = customer
	return &customer, nil
}

// AddToken registers a plain token ("id|secret" or just the secret) for
// userID; lookups compare the sha256 of the secret.
func (s *MemoryStore) AddToken(plainToken string, userID int64, expiresAt *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := tokenHash(plainToken)
	s.tokens[hash] = domain.PersonalAccessToken{
		ID:        int64(len(s.tokens) + 1),
		TokenHash: hash,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
}

func (s *MemoryStore) FindTokenByPlainToken(_ context.Context, plainToken string) (*domain.PersonalAccessToken, error) {
	hash := tokenHash(plainToken)

	s.mu.RLock()
	defer s.mu.RUnlock()

	pat, ok := s.tokens[hash]
	if !ok || pat.Expired(time.Now()) {
		return nil, fmt.Errorf("token not found")
	}
	return &pat, nil
}

func (s *MemoryStore) CountPayments(ctx context.Context, f PaymentsFilter) (int64, error) {
	rows, err := s.ListPayments(ctx, f)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}
