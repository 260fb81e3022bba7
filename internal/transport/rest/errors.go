package rest

import (
	"errors"
	"net/http"

	"lease-ledger/internal/domain"
	"lease-ledger/internal/service"
	"lease-ledger/internal/transport/auth"

	"go.uber.org/zap"
)

// writeError maps service errors onto the response envelope. Anything it does
// not recognise is logged and reported as an opaque 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		validation   *ValidationError
		invalidLease *domain.InvalidLeaseError
		invalidAmt   *domain.InvalidAmountError
		alreadyPaid  *domain.AlreadyPaidError
		conflict     *domain.ConcurrentModificationError
		unknownCol   *service.UnknownColumnError
	)

	switch {
	case errors.As(err, &validation),
		errors.As(err, &invalidLease),
		errors.As(err, &invalidAmt),
		errors.As(err, &unknownCol),
		errors.Is(err, service.ErrExportTooLarge):
		ErrorBadRequest(w, err.Error())
	case domain.IsNotFound(err), errors.Is(err, service.ErrExportNotFound):
		ErrorNotFound(w, err.Error())
	case errors.As(err, &alreadyPaid), errors.As(err, &conflict):
		ErrorConflict(w, err.Error())
	case errors.Is(err, domain.ErrAuthenticationRequired):
		ErrorUnauthorized(w, "authentication required")
	case errors.Is(err, service.ErrExportsUnavailable):
		ErrorUnavailable(w, err.Error())
	default:
		h.log.Error("request failed",
			zap.String("op", op),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("actor", auth.Actor(r.Context())),
			zap.Error(err),
		)
		ErrorInternal(w, "internal error")
	}
}
