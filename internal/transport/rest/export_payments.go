package rest

import (
	"net/http"

	"lease-ledger/internal/transport/auth"
)

func (h *Handler) exportPayments(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	req, err := ValidatePaymentsExportRequest(r)
	if err != nil {
		h.writeError(w, r, "export payments", err)
		return
	}

	exportID, err := h.payments.StartPaymentsExport(r.Context(), req.Fields, req.Query, userID)
	if err != nil {
		h.writeError(w, r, "export payments", err)
		return
	}

	SuccessAccepted(w, "export queued", map[string]any{"export_id": exportID})
}
