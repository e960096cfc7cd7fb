// Package review holds the human hand-off: tickets for documents the
// validator could not accept or reject on its own.
package review

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
)

// ResumeFunc re-enters the pipeline for a document once its ticket is
// resolved. The controller registers itself here; the queue never imports
// the pipeline.
type ResumeFunc func(ctx context.Context, documentID uuid.UUID, disposition constants.Disposition, corrected *entity.Fields, resolvedBy string) error

type Queue struct {
	tickets repository.TicketRepository
	resume  ResumeFunc
	logger  *slog.Logger
}

func NewQueue(tickets repository.TicketRepository, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{tickets: tickets, logger: logger}
}

// SetResumeFunc wires the pipeline continuation. Must be called before any
// Resolve.
func (q *Queue) SetResumeFunc(fn ResumeFunc) {
	q.resume = fn
}

// Enqueue opens a ticket for the document. Idempotent: a document with a
// pending ticket gets its existing ticket id back.
func (q *Queue) Enqueue(ctx context.Context, documentID uuid.UUID, reasons []entity.Reason) (uuid.UUID, error) {
	ticket, created, err := q.tickets.EnqueuePending(ctx, documentID, reasons)
	if err != nil {
		return uuid.Nil, err
	}
	if !created {
		q.logger.Debug("ticket already pending", "ticket_id", ticket.ID, "document_id", documentID)
	}
	return ticket.ID, nil
}

// ListPending returns open tickets oldest first; this is the reviewer-facing
// priority order.
func (q *Queue) ListPending(ctx context.Context) ([]*entity.ReviewTicket, error) {
	return q.tickets.ListPending(ctx)
}

// Resolve applies a reviewer's disposition exactly once and resumes the
// document. APPROVE must carry the corrected fields (they may equal the
// extracted ones); DISCARD must not.
func (q *Queue) Resolve(ctx context.Context, ticketID uuid.UUID, disposition constants.Disposition, corrected *entity.Fields, resolvedBy string) error {
	if !disposition.Valid() {
		return fmt.Errorf("%w: unknown disposition %q", common.ErrInvalidInput, disposition)
	}
	if disposition == constants.DispositionApprove && corrected == nil {
		return fmt.Errorf("%w: APPROVE requires corrected fields", common.ErrInvalidInput)
	}
	if disposition == constants.DispositionDiscard && corrected != nil {
		return fmt.Errorf("%w: DISCARD does not take fields", common.ErrInvalidInput)
	}

	ticket, err := q.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return err
	}

	if err := q.tickets.Resolve(ctx, ticketID, disposition, corrected, resolvedBy); err != nil {
		return err
	}

	if q.resume == nil {
		q.logger.Error("no resume func registered; document stays suspended", "document_id", ticket.DocumentID)
		return nil
	}
	if err := q.resume(ctx, ticket.DocumentID, disposition, corrected, resolvedBy); err != nil {
		// The disposition is durable, so the resolve itself succeeded.
		// Recovery replays the continuation; the caller must not see an
		// error for a document that merely resumes later.
		q.logger.Warn("pipeline resume deferred",
			"document_id", ticket.DocumentID, "error", err)
	}
	return nil
}
