package rest

import (
	"net/http"
	"strings"

	"lease-ledger/internal/transport/auth"

	"github.com/go-chi/chi/v5"
)

const exportKeyPrefix = "exports:"

// exportKey accepts both the bare uuid and the full registry key.
func exportKey(id string) string {
	if strings.HasPrefix(id, exportKeyPrefix) {
		return id
	}
	return exportKeyPrefix + id
}

func (h *Handler) listExports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := auth.GetUserID(ctx)
	if err != nil {
		h.writeError(w, r, "list exports", err)
		return
	}

	exports, err := h.exportList.GetExports(ctx, userID)
	if err != nil {
		h.writeError(w, r, "list exports", err)
		return
	}
	Success(w, "", exports)
}

func (h *Handler) getExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := auth.GetUserID(ctx)
	if err != nil {
		h.writeError(w, r, "get export", err)
		return
	}

	id := strings.TrimSpace(chi.URLParam(r, "export_id"))
	if id == "" {
		ErrorBadRequest(w, "export_id is required")
		return
	}

	export, err := h.exportList.GetExport(ctx, exportKey(id), userID)
	if err != nil {
		h.writeError(w, r, "get export", err)
		return
	}
	Success(w, "", export)
}
