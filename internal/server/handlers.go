package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/export"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
	"github.com/joseph-ayodele/receipts-pipeline/internal/review"
)

// Admin is the slice of the pipeline controller the API needs.
type Admin interface {
	ForceReject(ctx context.Context, id uuid.UUID, message, actor string) error
}

type Handler struct {
	queue    *review.Queue
	docs     repository.DocumentRepository
	admin    Admin
	exporter *export.Service
	healthFn func(ctx context.Context) error
	logger   *slog.Logger
}

func NewHandler(
	queue *review.Queue,
	docs repository.DocumentRepository,
	admin Admin,
	exporter *export.Service,
	health func(ctx context.Context) error,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		queue:    queue,
		docs:     docs,
		admin:    admin,
		exporter: exporter,
		healthFn: health,
		logger:   logger,
	}
}

type ticketResponse struct {
	ID         uuid.UUID       `json:"id"`
	DocumentID uuid.UUID       `json:"document_id"`
	Reasons    []entity.Reason `json:"reasons"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

type documentResponse struct {
	ID         uuid.UUID       `json:"id"`
	State      string          `json:"state"`
	SourcePath string          `json:"source_path"`
	Fields     *entity.Fields  `json:"fields,omitempty"`
	Reasons    []entity.Reason `json:"reasons,omitempty"`
	Attempts   int             `json:"attempts"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type resolveRequest struct {
	Disposition string         `json:"disposition"`
	Corrected   *entity.Fields `json:"corrected_fields,omitempty"`
	ResolvedBy  string         `json:"resolved_by"`
}

type rejectRequest struct {
	Message string `json:"message"`
	Actor   string `json:"actor"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.healthFn != nil {
		if err := h.healthFn(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) listTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.queue.ListPending(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]ticketResponse, 0, len(tickets))
	for _, t := range tickets {
		resp = append(resp, ticketResponse{
			ID:         t.ID,
			DocumentID: t.DocumentID,
			Reasons:    t.Reasons,
			Status:     string(t.Status),
			CreatedAt:  t.CreatedAt,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) resolveTicket(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid ticket id", http.StatusBadRequest)
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ResolvedBy == "" {
		http.Error(w, "resolved_by is required", http.StatusBadRequest)
		return
	}

	err = h.queue.Resolve(r.Context(), id, constants.Disposition(req.Disposition), req.Corrected, req.ResolvedBy)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}
	doc, err := h.docs.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, documentResponse{
		ID:         doc.ID,
		State:      string(doc.State),
		SourcePath: doc.SourcePath,
		Fields:     doc.Fields,
		Reasons:    doc.Reasons,
		Attempts:   doc.Attempts,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	})
}

func (h *Handler) rejectDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Actor == "" {
		http.Error(w, "actor is required", http.StatusBadRequest)
		return
	}

	if err := h.admin.ForceReject(r.Context(), id, req.Message, req.Actor); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (h *Handler) exportArchive(w http.ResponseWriter, r *http.Request) {
	from, err := parseDateParam(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseDateParam(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := h.exporter.ExportArchiveXLSX(r.Context(), from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=\"archive_%s.xlsx\"", time.Now().Format("20060102")))
	_, _ = w.Write(data)
}

func parseDateParam(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, fmt.Errorf("%s must be YYYY-MM-DD", name)
	}
	return &t, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, common.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, common.ErrReviewConflict),
		errors.Is(err, common.ErrStateConflict),
		errors.Is(err, common.ErrLeaseHeld):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
