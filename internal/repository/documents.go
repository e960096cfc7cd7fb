package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

// TransitionUpdate carries the column writes that ride along with a state
// transition. Nil members leave the column untouched.
type TransitionUpdate struct {
	Fields   *entity.Fields
	Reasons  []entity.Reason
	Attempts *int
}

type DocumentRepository interface {
	// Create inserts the document if its id is new and returns the stored
	// row either way. The bool reports whether a row was inserted.
	Create(ctx context.Context, doc *entity.Document) (*entity.Document, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	// Transition performs the atomic compare-and-set
	// (id, expected_state) -> new_state. It returns common.ErrStateConflict
	// when the document is not in the expected state and
	// common.ErrInvalidInput when from -> to is not an edge of the state
	// machine.
	Transition(ctx context.Context, id uuid.UUID, from, to constants.DocumentState, upd *TransitionUpdate) error
	ListByState(ctx context.Context, state constants.DocumentState) ([]*entity.Document, error)
	// ListUnarchived returns every document without an archive record: all
	// non-terminal documents plus any that crashed between the terminal
	// transition and archival.
	ListUnarchived(ctx context.Context) ([]*entity.Document, error)
}

type documentRepo struct {
	db  *sql.DB
	log *slog.Logger
}

func NewDocumentRepository(db *sql.DB, log *slog.Logger) DocumentRepository {
	return &documentRepo{db: db, log: log}
}

const selectDocumentColumns = `id, state, source_path, fields, reasons, attempts, created_at, updated_at`

func scanDocument(s scanner) (*entity.Document, error) {
	var (
		idStr, stateStr, createdStr, updatedStr string
		fields, reasons                         sql.NullString
		doc                                     entity.Document
	)
	if err := s.Scan(&idStr, &stateStr, &doc.SourcePath, &fields, &reasons, &doc.Attempts, &createdStr, &updatedStr); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse document id: %w", err)
	}
	doc.ID = id
	doc.State = constants.DocumentState(stateStr)
	if doc.Fields, err = decodeFields(fields); err != nil {
		return nil, err
	}
	if doc.Reasons, err = decodeReasons(reasons); err != nil {
		return nil, err
	}
	if doc.CreatedAt, err = decodeTime(createdStr); err != nil {
		return nil, err
	}
	if doc.UpdatedAt, err = decodeTime(updatedStr); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) Create(ctx context.Context, doc *entity.Document) (*entity.Document, bool, error) {
	fields, err := encodeFields(doc.Fields)
	if err != nil {
		return nil, false, err
	}
	reasons, err := encodeReasons(doc.Reasons)
	if err != nil {
		return nil, false, err
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO documents (id, state, source_path, fields, reasons, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		doc.ID.String(), string(doc.State), doc.SourcePath, fields, reasons, doc.Attempts,
		encodeTime(doc.CreatedAt), encodeTime(doc.UpdatedAt),
	)
	if err != nil {
		r.log.Error("document create failed", "document_id", doc.ID, "error", err)
		return nil, false, fmt.Errorf("%w: %v", common.ErrPersistence, err)
	}
	inserted, _ := res.RowsAffected()

	stored, err := r.GetByID(ctx, doc.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, inserted > 0, nil
}

func (r *documentRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectDocumentColumns+` FROM documents WHERE id = $1`, id.String())
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *documentRepo) Transition(ctx context.Context, id uuid.UUID, from, to constants.DocumentState, upd *TransitionUpdate) error {
	if !constants.CanTransition(from, to) {
		return fmt.Errorf("%w: transition %s -> %s not allowed", common.ErrInvalidInput, from, to)
	}

	set := []string{"state = $2", "updated_at = $3"}
	args := []any{id.String(), string(to), encodeTime(time.Now())}

	if upd != nil {
		if upd.Fields != nil {
			fields, err := encodeFields(upd.Fields)
			if err != nil {
				return err
			}
			args = append(args, fields)
			set = append(set, fmt.Sprintf("fields = $%d", len(args)))
		}
		if upd.Reasons != nil {
			reasons, err := encodeReasons(upd.Reasons)
			if err != nil {
				return err
			}
			args = append(args, reasons)
			set = append(set, fmt.Sprintf("reasons = $%d", len(args)))
		}
		if upd.Attempts != nil {
			args = append(args, *upd.Attempts)
			set = append(set, fmt.Sprintf("attempts = $%d", len(args)))
		}
	}

	args = append(args, string(from))
	query := fmt.Sprintf(
		`UPDATE documents SET %s WHERE id = $1 AND state = $%d`,
		strings.Join(set, ", "), len(args),
	)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.log.Error("document transition failed", "document_id", id, "from", from, "to", to, "error", err)
		return fmt.Errorf("%w: %v", common.ErrPersistence, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrPersistence, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: document %s expected %s", common.ErrStateConflict, id, from)
	}

	r.log.Debug("document transitioned", "document_id", id, "from", from, "to", to)
	return nil
}

func (r *documentRepo) ListByState(ctx context.Context, state constants.DocumentState) ([]*entity.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectDocumentColumns+` FROM documents WHERE state = $1 ORDER BY created_at`, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func (r *documentRepo) ListUnarchived(ctx context.Context) ([]*entity.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+selectDocumentColumns+` FROM documents d
		WHERE NOT EXISTS (SELECT 1 FROM archive_records a WHERE a.document_id = d.id)
		ORDER BY d.created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func collectDocuments(rows *sql.Rows) ([]*entity.Document, error) {
	var docs []*entity.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
