package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

type TicketRepository interface {
	// EnqueuePending opens a ticket for the document unless one is already
	// pending, in which case the existing ticket is returned. The bool
	// reports whether a new ticket was created.
	EnqueuePending(ctx context.Context, documentID uuid.UUID, reasons []entity.Reason) (*entity.ReviewTicket, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.ReviewTicket, error)
	// GetPendingByDocument returns the open ticket for a document, or
	// common.ErrNotFound.
	GetPendingByDocument(ctx context.Context, documentID uuid.UUID) (*entity.ReviewTicket, error)
	// GetResolvedByDocument returns the most recently resolved ticket for a
	// document, or common.ErrNotFound.
	GetResolvedByDocument(ctx context.Context, documentID uuid.UUID) (*entity.ReviewTicket, error)
	ListPending(ctx context.Context) ([]*entity.ReviewTicket, error)
	// Resolve marks the ticket RESOLVED exactly once; a second call returns
	// common.ErrReviewConflict.
	Resolve(ctx context.Context, id uuid.UUID, disposition constants.Disposition, corrected *entity.Fields, resolvedBy string) error
}

type ticketRepo struct {
	db  *sql.DB
	log *slog.Logger
}

func NewTicketRepository(db *sql.DB, log *slog.Logger) TicketRepository {
	return &ticketRepo{db: db, log: log}
}

const selectTicketColumns = `id, document_id, reasons, status, disposition, corrected_fields, resolved_by, created_at, resolved_at`

func scanTicket(s scanner) (*entity.ReviewTicket, error) {
	var (
		idStr, docStr, statusStr, createdStr    string
		reasons, disposition, corrected, byWhom sql.NullString
		resolvedStr                             sql.NullString
		t                                       entity.ReviewTicket
	)
	if err := s.Scan(&idStr, &docStr, &reasons, &statusStr, &disposition, &corrected, &byWhom, &createdStr, &resolvedStr); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse ticket id: %w", err)
	}
	docID, err := uuid.Parse(docStr)
	if err != nil {
		return nil, fmt.Errorf("parse ticket document id: %w", err)
	}
	t.ID = id
	t.DocumentID = docID
	t.Status = constants.TicketStatus(statusStr)
	if t.Reasons, err = decodeReasons(reasons); err != nil {
		return nil, err
	}
	if disposition.Valid {
		d := constants.Disposition(disposition.String)
		t.Disposition = &d
	}
	if t.CorrectedFields, err = decodeFields(corrected); err != nil {
		return nil, err
	}
	t.ResolvedBy = byWhom.String
	if t.CreatedAt, err = decodeTime(createdStr); err != nil {
		return nil, err
	}
	if resolvedStr.Valid {
		at, err := decodeTime(resolvedStr.String)
		if err != nil {
			return nil, err
		}
		t.ResolvedAt = &at
	}
	return &t, nil
}

func (r *ticketRepo) EnqueuePending(ctx context.Context, documentID uuid.UUID, reasons []entity.Reason) (*entity.ReviewTicket, bool, error) {
	if existing, err := r.GetPendingByDocument(ctx, documentID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, false, err
	}

	encoded, err := encodeReasons(reasons)
	if err != nil {
		return nil, false, err
	}
	id := uuid.New()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO review_tickets (id, document_id, reasons, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		id.String(), documentID.String(), encoded, string(constants.TicketPending), encodeTime(time.Now()),
	)
	if err != nil {
		// Unique pending-per-document index: lost a race, fetch the winner.
		if existing, getErr := r.GetPendingByDocument(ctx, documentID); getErr == nil {
			return existing, false, nil
		}
		r.log.Error("ticket enqueue failed", "document_id", documentID, "error", err)
		return nil, false, fmt.Errorf("%w: %v", common.ErrPersistence, err)
	}

	r.log.Info("review ticket opened", "ticket_id", id, "document_id", documentID, "reasons", len(reasons))
	ticket, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return ticket, true, nil
}

func (r *ticketRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.ReviewTicket, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectTicketColumns+` FROM review_tickets WHERE id = $1`, id.String())
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *ticketRepo) GetPendingByDocument(ctx context.Context, documentID uuid.UUID) (*entity.ReviewTicket, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectTicketColumns+` FROM review_tickets WHERE document_id = $1 AND status = $2`,
		documentID.String(), string(constants.TicketPending))
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *ticketRepo) GetResolvedByDocument(ctx context.Context, documentID uuid.UUID) (*entity.ReviewTicket, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+selectTicketColumns+` FROM review_tickets
		WHERE document_id = $1 AND status = $2
		ORDER BY resolved_at DESC LIMIT 1`,
		documentID.String(), string(constants.TicketResolved))
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *ticketRepo) ListPending(ctx context.Context) ([]*entity.ReviewTicket, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+selectTicketColumns+` FROM review_tickets
		WHERE status = $1 ORDER BY created_at`,
		string(constants.TicketPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []*entity.ReviewTicket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (r *ticketRepo) Resolve(ctx context.Context, id uuid.UUID, disposition constants.Disposition, corrected *entity.Fields, resolvedBy string) error {
	fields, err := encodeFields(corrected)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE review_tickets
		SET status = $2, disposition = $3, corrected_fields = $4, resolved_by = $5, resolved_at = $6
		WHERE id = $1 AND status = $7`,
		id.String(), string(constants.TicketResolved), string(disposition), fields, resolvedBy,
		encodeTime(time.Now()), string(constants.TicketPending),
	)
	if err != nil {
		r.log.Error("ticket resolve failed", "ticket_id", id, "error", err)
		return fmt.Errorf("%w: %v", common.ErrPersistence, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrPersistence, err)
	}
	if affected == 0 {
		if _, getErr := r.GetByID(ctx, id); errors.Is(getErr, common.ErrNotFound) {
			return common.ErrNotFound
		}
		return common.ErrReviewConflict
	}

	r.log.Info("review ticket resolved", "ticket_id", id, "disposition", disposition, "resolved_by", resolvedBy)
	return nil
}
