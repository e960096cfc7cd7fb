// Package ingest turns filesystem activity into detection events: files
// appearing under the watch roots become DETECTED documents.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
)

// documentNamespace seeds content-derived document ids, so the same bytes
// always map to the same document no matter where or when they are seen.
var documentNamespace = uuid.MustParse("8f9d6b2a-4c1e-4b7a-9f3d-2e8c5a7b1d40")

// DetectionResult describes what happened to one observed path.
type DetectionResult struct {
	DocumentID   uuid.UUID
	SourcePath   string
	HashHex      string
	Deduplicated bool // content already known; no new document created
}

// FSIngestor registers files from the local filesystem as documents.
type FSIngestor struct {
	docs   repository.DocumentRepository
	logger *slog.Logger
}

func NewFSIngestor(docs repository.DocumentRepository, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSIngestor{docs: docs, logger: logger}
}

// IngestPath registers the file at path as a DETECTED document. The
// document id is derived from the file content, so re-delivering the same
// bytes (re-copied file, watcher replay, restart rescan) is a no-op that
// returns the existing document.
func (i *FSIngestor) IngestPath(ctx context.Context, path string) (DetectionResult, error) {
	var out DetectionResult

	abs, err := filepath.Abs(path)
	if err != nil {
		return out, fmt.Errorf("abs path: %w", err)
	}

	ext := constants.NormalizeExt(filepath.Ext(abs))
	if !constants.AllowedExt(ext) {
		return out, fmt.Errorf("unsupported or missing extension %q", ext)
	}

	sum, err := hashFile(abs)
	if err != nil {
		return out, err
	}

	now := time.Now().UTC()
	doc := &entity.Document{
		ID:         uuid.NewSHA1(documentNamespace, sum),
		State:      constants.DocDetected,
		SourcePath: abs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	stored, inserted, err := i.docs.Create(ctx, doc)
	if err != nil {
		return out, err
	}

	out = DetectionResult{
		DocumentID:   stored.ID,
		SourcePath:   stored.SourcePath,
		HashHex:      hex.EncodeToString(sum),
		Deduplicated: !inserted,
	}

	if inserted {
		i.logger.Info("document detected", "document_id", stored.ID, "source", abs)
	} else {
		i.logger.Debug("duplicate content, document exists",
			"document_id", stored.ID, "source", abs, "state", stored.State)
	}
	return out, nil
}

func hashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash: %w", err)
	}
	return h.Sum(nil), nil
}
