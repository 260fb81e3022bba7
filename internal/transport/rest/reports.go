package rest

import (
	"net/http"

	"lease-ledger/internal/transport/auth"
)

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.reports.Dashboard(r.Context())
	if err != nil {
		h.writeError(w, r, "dashboard", err)
		return
	}
	Success(w, "", d)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	win, err := queryWindow(r)
	if err != nil {
		h.writeError(w, r, "summary", err)
		return
	}
	s, err := h.reports.Summarize(r.Context(), win)
	if err != nil {
		h.writeError(w, r, "summary", err)
		return
	}
	Success(w, "", s)
}

func (h *Handler) carBrands(w http.ResponseWriter, r *http.Request) {
	win, err := queryWindow(r)
	if err != nil {
		h.writeError(w, r, "car brands", err)
		return
	}
	stats, err := h.reports.CarBrands(r.Context(), win)
	if err != nil {
		h.writeError(w, r, "car brands", err)
		return
	}
	Success(w, "", stats)
}

func (h *Handler) monthly(w http.ResponseWriter, r *http.Request) {
	win, err := queryWindow(r)
	if err != nil {
		h.writeError(w, r, "monthly", err)
		return
	}
	stats, err := h.reports.Monthly(r.Context(), win)
	if err != nil {
		h.writeError(w, r, "monthly", err)
		return
	}
	Success(w, "", stats)
}

// updateProfit is kept for older panels that push their own profit figure.
// The figure is only compared and logged; profit is always recomputed.
func (h *Handler) updateProfit(w http.ResponseWriter, r *http.Request) {
	var raw struct {
		TotalProfit any `json:"totalProfit"`
	}
	if err := decodeJSON(r, &raw); err != nil {
		h.writeError(w, r, "update profit", err)
		return
	}
	claimed, err := toDecimalPtr(raw.TotalProfit)
	if err != nil {
		h.writeError(w, r, "update profit", &ValidationError{Field: "totalProfit", Message: "totalProfit must be a decimal amount"})
		return
	}

	profit, err := h.reports.ProfitHint(r.Context(), claimed, auth.Actor(r.Context()))
	if err != nil {
		h.writeError(w, r, "update profit", err)
		return
	}
	Success(w, "profit is computed from the ledger", map[string]any{"totalProfit": profit})
}
