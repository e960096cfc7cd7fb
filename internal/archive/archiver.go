// Package archive finishes a document's life: it writes the terminal
// record, appends the audit log entry, and moves the source artifact to its
// destination folder.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
)

type Archiver struct {
	records    repository.ArchiveRepository
	tickets    repository.TicketRepository
	successDir string
	errorDir   string
	logPath    string
	logger     *slog.Logger

	mu sync.Mutex // serializes audit log appends
}

func New(records repository.ArchiveRepository, tickets repository.TicketRepository, successDir, errorDir, logPath string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		records:    records,
		tickets:    tickets,
		successDir: successDir,
		errorDir:   errorDir,
		logPath:    logPath,
		logger:     logger,
	}
}

// Archive persists the terminal record for doc and moves its artifact.
// Idempotent: a document that already has a record gets the existing record
// back with no side effects, which makes replay after crash recovery safe.
func (a *Archiver) Archive(ctx context.Context, doc *entity.Document) (*entity.ArchiveRecord, error) {
	if !doc.State.Terminal() {
		return nil, fmt.Errorf("%w: document %s is %s, not terminal", common.ErrInvalidInput, doc.ID, doc.State)
	}

	if existing, err := a.records.Get(ctx, doc.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	resolvedBy := ""
	if ticket, err := a.tickets.GetResolvedByDocument(ctx, doc.ID); err == nil {
		resolvedBy = ticket.ResolvedBy
	}

	destPath, err := a.moveArtifact(doc)
	if err != nil {
		// The artifact is secondary to the audit trail; record the outcome
		// regardless.
		a.logger.Warn("artifact move failed", "document_id", doc.ID, "source", doc.SourcePath, "error", err)
		destPath = ""
	}

	rec := &entity.ArchiveRecord{
		DocumentID:   doc.ID,
		FinalState:   doc.State,
		Fields:       doc.Fields,
		Reasons:      doc.Reasons,
		ResolvedBy:   resolvedBy,
		ArchivedPath: destPath,
		ArchivedAt:   time.Now().UTC(),
	}
	if err := a.records.Insert(ctx, rec); err != nil {
		return nil, err
	}
	// Insert is first-writer-wins; read back whichever record stuck.
	stored, err := a.records.Get(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	if err := a.appendLog(stored); err != nil {
		a.logger.Error("audit log append failed", "document_id", doc.ID, "error", err)
	}

	a.logger.Info("document archived",
		"document_id", doc.ID,
		"final_state", doc.State,
		"archived_path", stored.ArchivedPath,
		"resolved_by", resolvedBy,
	)
	return stored, nil
}

// moveArtifact relocates the source file: successes get a descriptive
// name in the success folder, errors keep their original name in the error
// folder for manual triage.
func (a *Archiver) moveArtifact(doc *entity.Document) (string, error) {
	if doc.SourcePath == "" {
		return "", nil
	}
	if _, err := os.Stat(doc.SourcePath); err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}

	var dest string
	if doc.State == constants.DocArchivedSuccess {
		if err := os.MkdirAll(a.successDir, 0o755); err != nil {
			return "", err
		}
		dest = filepath.Join(a.successDir, successName(doc))
	} else {
		if err := os.MkdirAll(a.errorDir, 0o755); err != nil {
			return "", err
		}
		dest = filepath.Join(a.errorDir, filepath.Base(doc.SourcePath))
	}

	if err := moveFile(doc.SourcePath, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// successName builds "{date}_{total}_{vendor}_{shortid}{ext}".
func successName(doc *entity.Document) string {
	ext := filepath.Ext(doc.SourcePath)
	date, total, vendor := "unknown", "0", "unknown"
	if f := doc.Fields; f != nil {
		if f.TxDate != "" {
			date = f.TxDate
		}
		if f.Total != "" {
			total = f.Total
		}
		if v := sanitizeVendor(f.Vendor); v != "" {
			vendor = v
		}
	}
	shortID := strings.ReplaceAll(doc.ID.String(), "-", "")[:6]
	return fmt.Sprintf("%s_%s_%s_%s%s", date, total, vendor, shortID, ext)
}

func sanitizeVendor(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == ' ':
			b.WriteRune('_')
		case r == '_' || r == '-':
			b.WriteRune(r)
		case r > 0x20 && r != '/' && r != '\\' && r != ':' && r != '*' && r != '?' && r != '"' && r != '<' && r != '>' && r != '|':
			b.WriteRune(r)
		}
	}
	// Cap by runes, not bytes: vendor names are often multibyte and a byte
	// slice can cut a character in half.
	r := []rune(b.String())
	if len(r) > 50 {
		r = r[:50]
	}
	return string(r)
}

// moveFile renames, falling back to copy+remove across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// appendLog writes one JSONL line per archived document.
func (a *Archiver) appendLog(rec *entity.ArchiveRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}
