package rest

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"

	"lease-ledger/internal/domain"
	"lease-ledger/internal/service"
	"lease-ledger/internal/transport/auth"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxProofSize = 10 << 20

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	q, err := ValidatePaymentsQuery(r)
	if err != nil {
		h.writeError(w, r, "list payments", err)
		return
	}

	rows, err := h.reports.ListPayments(r.Context(), *q)
	if err != nil {
		h.writeError(w, r, "list payments", err)
		return
	}

	out := make([]paymentView, 0, len(rows))
	for _, row := range rows {
		out = append(out, newPaymentRowView(row))
	}
	Success(w, "", out)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	p, st, err := h.ledger.Payment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get payment", err)
		return
	}
	Success(w, "", newPaymentView(p, st))
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// readPay parses the pay request and, for multipart bodies, stores the proof
// file. It returns the stored proof key, if any.
func (h *Handler) readPay(w http.ResponseWriter, r *http.Request, paymentID string) (*PayRequest, *string, error) {
	if !isMultipart(r) {
		req, err := ValidatePayJSON(r, h.clock.Now().Location())
		return req, nil, err
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxProofSize+1<<20)
	if err := r.ParseMultipartForm(maxProofSize); err != nil {
		return nil, nil, &ValidationError{Field: "proof", Message: "invalid multipart form"}
	}
	req, err := ValidatePayForm(r, h.clock.Now().Location())
	if err != nil {
		return nil, nil, err
	}

	file, header, err := r.FormFile("proof")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil, nil
	}
	if err != nil {
		return nil, nil, &ValidationError{Field: "proof", Message: "proof could not be read"}
	}
	defer file.Close()

	if h.proofs == nil {
		return nil, nil, &ValidationError{Field: "proof", Message: "proof uploads are not enabled"}
	}

	// refuse paid installments before anything is stored
	if _, st, err := h.ledger.Payment(r.Context(), paymentID); err != nil {
		return nil, nil, err
	} else if st == domain.StatusPaid {
		return nil, nil, &domain.AlreadyPaidError{PaymentID: paymentID}
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		return nil, nil, &ValidationError{Field: "proof", Message: "proof could not be read"}
	}

	key, err := h.proofs.Put(r.Context(), header.Filename, header.Header.Get("Content-Type"), buf.Bytes())
	if err != nil {
		return nil, nil, err
	}
	return req, &key, nil
}

func (h *Handler) payPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "id")

	req, proofRef, err := h.readPay(w, r, paymentID)
	if err != nil {
		h.writeError(w, r, "pay payment", err)
		return
	}

	userID, _ := auth.GetUserID(r.Context())
	res, err := h.ledger.MarkPaid(r.Context(), service.MarkPaidRequest{
		PaymentID:    paymentID,
		PaymentDate:  req.PaymentDate,
		ActualAmount: req.ActualAmount,
		ProofRef:     proofRef,
		Notes:        req.Notes,
		Actor:        auth.Actor(r.Context()),
		UserID:       userID,
	})
	if err != nil {
		if proofRef != nil {
			h.log.Warn("proof stored for a payment that was not marked paid",
				zap.String("payment_id", paymentID), zap.String("proof_ref", *proofRef))
		}
		h.writeError(w, r, "pay payment", err)
		return
	}

	message := "payment marked as paid"
	if overflow := res.Overflow(); overflow != nil {
		message = overflow.Error()
	}
	allocations := res.Allocations
	if allocations == nil {
		allocations = []service.Allocation{}
	}
	Success(w, message, payResponse{
		Payment:           newPaymentView(res.Payment, res.Status),
		Overpayment:       res.Overpayment,
		UnallocatedExcess: res.UnallocatedExcess,
		Allocations:       allocations,
	})
}

func (h *Handler) revertPayment(w http.ResponseWriter, r *http.Request) {
	notes, err := ValidateRevertRequest(r)
	if err != nil {
		h.writeError(w, r, "revert payment", err)
		return
	}

	userID, _ := auth.GetUserID(r.Context())
	res, err := h.ledger.Revert(r.Context(), service.RevertRequest{
		PaymentID: chi.URLParam(r, "id"),
		Notes:     notes,
		Actor:     auth.Actor(r.Context()),
		UserID:    userID,
	})
	if err != nil {
		h.writeError(w, r, "revert payment", err)
		return
	}

	reopened := make([]paymentView, 0, len(res.Reopened))
	now := h.clock.Now()
	for _, p := range res.Reopened {
		reopened = append(reopened, newPaymentView(p, domain.DeriveStatus(p, now)))
	}

	Success(w, "payment status changed", revertResponse{
		Payment:        newPaymentView(res.Payment, res.Status),
		RevokedCredits: len(res.RevokedCredits),
		Reopened:       reopened,
	})
}

func (h *Handler) paymentAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.EntriesForPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "payment audit", err)
		return
	}
	Success(w, "", newAuditViews(entries))
}

func (h *Handler) leaseAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.EntriesForLease(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "lease audit", err)
		return
	}
	Success(w, "", newAuditViews(entries))
}

// paymentProof redirects to a readable URL of the stored proof.
func (h *Handler) paymentProof(w http.ResponseWriter, r *http.Request) {
	p, _, err := h.ledger.Payment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "payment proof", err)
		return
	}
	if p.ProofRef == nil || h.proofs == nil {
		ErrorNotFound(w, "payment has no proof")
		return
	}

	url, err := h.proofs.URL(r.Context(), *p.ProofRef)
	if err != nil {
		h.writeError(w, r, "payment proof", err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}
