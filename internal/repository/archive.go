package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

type ArchiveRepository interface {
	Get(ctx context.Context, documentID uuid.UUID) (*entity.ArchiveRecord, error)
	// Insert stores the record unless one exists for the document; the first
	// writer wins and later calls are no-ops.
	Insert(ctx context.Context, rec *entity.ArchiveRecord) error
	List(ctx context.Context) ([]*entity.ArchiveRecord, error)
}

type archiveRepo struct {
	db  *sql.DB
	log *slog.Logger
}

func NewArchiveRepository(db *sql.DB, log *slog.Logger) ArchiveRepository {
	return &archiveRepo{db: db, log: log}
}

const selectArchiveColumns = `document_id, final_state, fields, reasons, resolved_by, archived_path, archived_at`

func scanArchiveRecord(s scanner) (*entity.ArchiveRecord, error) {
	var (
		docStr, stateStr, archivedStr string
		fields, reasons, byWhom, path sql.NullString
		rec                           entity.ArchiveRecord
	)
	if err := s.Scan(&docStr, &stateStr, &fields, &reasons, &byWhom, &path, &archivedStr); err != nil {
		return nil, err
	}

	docID, err := uuid.Parse(docStr)
	if err != nil {
		return nil, fmt.Errorf("parse archive document id: %w", err)
	}
	rec.DocumentID = docID
	rec.FinalState = constants.DocumentState(stateStr)
	if rec.Fields, err = decodeFields(fields); err != nil {
		return nil, err
	}
	if rec.Reasons, err = decodeReasons(reasons); err != nil {
		return nil, err
	}
	rec.ResolvedBy = byWhom.String
	rec.ArchivedPath = path.String
	if rec.ArchivedAt, err = decodeTime(archivedStr); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *archiveRepo) Get(ctx context.Context, documentID uuid.UUID) (*entity.ArchiveRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectArchiveColumns+` FROM archive_records WHERE document_id = $1`, documentID.String())
	rec, err := scanArchiveRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *archiveRepo) Insert(ctx context.Context, rec *entity.ArchiveRecord) error {
	fields, err := encodeFields(rec.Fields)
	if err != nil {
		return err
	}
	reasons, err := encodeReasons(rec.Reasons)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO archive_records (document_id, final_state, fields, reasons, resolved_by, archived_path, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (document_id) DO NOTHING`,
		rec.DocumentID.String(), string(rec.FinalState), fields, reasons,
		rec.ResolvedBy, rec.ArchivedPath, encodeTime(rec.ArchivedAt),
	)
	if err != nil {
		r.log.Error("archive record insert failed", "document_id", rec.DocumentID, "error", err)
		return fmt.Errorf("%w: %v", common.ErrPersistence, err)
	}
	return nil
}

func (r *archiveRepo) List(ctx context.Context) ([]*entity.ArchiveRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectArchiveColumns+` FROM archive_records ORDER BY archived_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*entity.ArchiveRecord
	for rows.Next() {
		rec, err := scanArchiveRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
