package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode timestamp %q: %w", s, err)
	}
	return t, nil
}

func encodeFields(f *entity.Fields) (sql.NullString, error) {
	if f == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode fields: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeFields(s sql.NullString) (*entity.Fields, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var f entity.Fields
	if err := json.Unmarshal([]byte(s.String), &f); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return &f, nil
}

func encodeReasons(rs []entity.Reason) (sql.NullString, error) {
	if len(rs) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(rs)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode reasons: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeReasons(s sql.NullString) ([]entity.Reason, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var rs []entity.Reason
	if err := json.Unmarshal([]byte(s.String), &rs); err != nil {
		return nil, fmt.Errorf("decode reasons: %w", err)
	}
	return rs, nil
}
