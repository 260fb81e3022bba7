package rest

import (
	"net/http"

	"lease-ledger/internal/domain"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	in, err := ValidateCustomerRequest(r)
	if err != nil {
		h.writeError(w, r, "create customer", err)
		return
	}

	book, err := h.customers.Create(r.Context(), *in)
	if err != nil {
		h.writeError(w, r, "create customer", err)
		return
	}

	detail := customerDetailView{Leases: []leaseView{newLeaseView(*book, h.clock.Now())}}
	if book.Customer != nil {
		detail.customerView = newCustomerView(*book.Customer)
	}
	SuccessCreated(w, "customer created", detail)
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.customers.List(r.Context())
	if err != nil {
		h.writeError(w, r, "list customers", err)
		return
	}

	out := make([]customerView, 0, len(customers))
	for _, c := range customers {
		out = append(out, newCustomerView(c))
	}
	Success(w, "", out)
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	customer, books, err := h.customers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get customer", err)
		return
	}
	Success(w, "", h.customerDetail(*customer, books))
}

func (h *Handler) updateCustomer(w http.ResponseWriter, r *http.Request) {
	in, err := ValidateCustomerUpdateRequest(r)
	if err != nil {
		h.writeError(w, r, "update customer", err)
		return
	}

	customer, books, err := h.customers.Update(r.Context(), chi.URLParam(r, "id"), *in)
	if err != nil {
		h.writeError(w, r, "update customer", err)
		return
	}
	Success(w, "customer updated", h.customerDetail(*customer, books))
}

func (h *Handler) customerDetail(customer domain.Customer, books []domain.LeaseBook) customerDetailView {
	now := h.clock.Now()
	detail := customerDetailView{customerView: newCustomerView(customer), Leases: make([]leaseView, 0, len(books))}
	for _, b := range books {
		detail.Leases = append(detail.Leases, newLeaseView(b, now))
	}
	return detail
}
