package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/archive"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/extract"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
	"github.com/joseph-ayodele/receipts-pipeline/internal/review"
)

var goodFields = entity.Fields{
	Vendor: "Acme Cafe", TxDate: "2024-01-15", Total: "1250", CurrencyCode: "JPY",
}

// extractStep scripts one recognition attempt.
type extractStep struct {
	fields entity.Fields
	err    error
}

type fakeExtractor struct {
	steps []extractStep
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, _ extract.Request) (entity.Fields, []byte, error) {
	step := f.steps[len(f.steps)-1]
	if f.calls < len(f.steps) {
		step = f.steps[f.calls]
	}
	f.calls++
	return step.fields, nil, step.err
}

type fakePrep struct{}

func (fakePrep) PageImages(_ context.Context, sourcePath string) ([]string, error) {
	if _, err := os.Stat(sourcePath); err != nil {
		return nil, err
	}
	return []string{sourcePath}, nil
}

type fixture struct {
	db        *sql.DB
	docs      repository.DocumentRepository
	tickets   repository.TicketRepository
	records   repository.ArchiveRepository
	queue     *review.Queue
	extractor *fakeExtractor
	ctrl      *Controller
	dir       string
}

func newFixture(t *testing.T, steps ...extractStep) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	dir := t.TempDir()

	db, err := repository.Open(ctx, repository.Config{
		DSN: filepath.Join(dir, "test.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, repository.Migrate(ctx, db))

	docs := repository.NewDocumentRepository(db, logger)
	tickets := repository.NewTicketRepository(db, logger)
	records := repository.NewArchiveRepository(db, logger)
	queue := review.NewQueue(tickets, logger)

	if len(steps) == 0 {
		steps = []extractStep{{fields: goodFields}}
	}
	extractor := &fakeExtractor{steps: steps}

	archiver := archive.New(records, tickets,
		filepath.Join(dir, "success"), filepath.Join(dir, "error"),
		filepath.Join(dir, "archive_log.jsonl"), logger)

	ctrl := NewController(docs, tickets, queue, fakePrep{}, extractor, archiver,
		Options{
			MaxRetries:          2,
			RetryBackoff:        time.Millisecond,
			ValidationTolerance: 0.01,
			MaxPlausibleTotal:   1_000_000,
			DefaultCurrency:     "JPY",
		}, logger)
	ctrl.sleep = func(context.Context, time.Duration) error { return nil }
	queue.SetResumeFunc(ctrl.Resume)

	return &fixture{
		db: db, docs: docs, tickets: tickets, records: records,
		queue: queue, extractor: extractor, ctrl: ctrl, dir: dir,
	}
}

func (f *fixture) detect(t *testing.T) *entity.Document {
	t.Helper()
	src := filepath.Join(f.dir, uuid.NewString()+".pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4 test"), 0o644))

	now := time.Now().UTC()
	doc, _, err := f.docs.Create(context.Background(), &entity.Document{
		ID:         uuid.New(),
		State:      constants.DocDetected,
		SourcePath: src,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	require.NoError(t, err)
	return doc
}

func TestProcessHappyPath(t *testing.T) {
	f := newFixture(t)
	doc := f.detect(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Process(ctx, doc.ID))

	got, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocArchivedSuccess, got.State)
	assert.Equal(t, 0, got.Attempts)
	require.NotNil(t, got.Fields)
	assert.Equal(t, "Acme Cafe", got.Fields.Vendor)

	rec, err := f.records.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocArchivedSuccess, rec.FinalState)
	assert.Contains(t, rec.ArchivedPath, filepath.Join(f.dir, "success"))
	assert.FileExists(t, rec.ArchivedPath)
	assert.NoFileExists(t, doc.SourcePath)

	// Audit log carries one line per archived document.
	logData, err := os.ReadFile(filepath.Join(f.dir, "archive_log.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), doc.ID.String())
}

func TestProcessRetriesTransientFailures(t *testing.T) {
	transient := common.ErrExtractionTransient
	f := newFixture(t,
		extractStep{err: transient},
		extractStep{err: transient},
		extractStep{fields: goodFields},
	)
	doc := f.detect(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Process(ctx, doc.ID))

	got, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocArchivedSuccess, got.State)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, 3, f.extractor.calls)
}

func TestProcessExhaustsRetryBudget(t *testing.T) {
	f := newFixture(t, extractStep{err: common.ErrExtractionTransient})
	doc := f.detect(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Process(ctx, doc.ID))

	got, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocArchivedError, got.State)
	// MaxRetries=2: initial attempt plus two retries, all failed.
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, 3, f.extractor.calls)
	require.NotEmpty(t, got.Reasons)
	assert.Equal(t, ReasonExtractionFailed, got.Reasons[0].Rule)

	rec, err := f.records.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocArchivedError, rec.FinalState)
	assert.Contains(t, rec.ArchivedPath, filepath.Join(f.dir, "error"))
	// Error artifacts keep their original name.
	assert.Equal(t, filepath.Base(doc.SourcePath), filepath.Base(rec.ArchivedPath))
}

func TestProcessPermanentFailureRejectsImmediately(t *testing.T) {
	f := newFixture(t, extractStep{err: common.ErrExtractionPermanent})
	doc := f.detect(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Process(ctx, doc.ID))

	got, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocArchivedError, got.State)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, 1, f.extractor.calls)
}

func TestProcessRejectsInvalidFields(t *testing.T) {
	f := newFixture(t, extractStep{fields: entity.Fields{
		Vendor: "Acme", TxDate: "not-a-date", Total: "1250",
	}})
	doc := f.detect(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Process(ctx, doc.ID))

	got, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocArchivedError, got.State)
	require.NotEmpty(t, got.Reasons)
	assert.Equal(t, "malformed_date", got.Reasons[0].Rule)
}

func TestProcessSuspendsOnSoftFailure(t *testing.T) {
	future := time.Now().UTC().AddDate(1, 0, 0).Format("2006-01-02")
	f := newFixture(t, extractStep{fields: entity.Fields{
		Vendor: "Acme", TxDate: future, Total: "1250",
	}})
	doc := f.detect(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Process(ctx, doc.ID))

	got, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocInReview, got.State)

	ticket, err := f.tickets.GetPendingByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, ticket.Reasons)
	assert.Equal(t, "date_in_future", ticket.Reasons[0].Rule)

	// Suspended documents survive repeated processing untouched.
	require.NoError(t, f.ctrl.Process(ctx, doc.ID))
	again, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocInReview, again.State)
}

func TestResolveApproveArchivesWithCorrectedFields(t *testing.T) {
	future := time.Now().UTC().AddDate(1, 0, 0).Format("2006-01-02")
	f := newFixture(t, extractStep{fields: entity.Fields{
		Vendor: "Acme", TxDate: future, Total: "1250",
	}})
	doc := f.detect(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Process(ctx, doc.ID))
	ticket, err := f.tickets.GetPendingByDocument(ctx, doc.ID)
	require.NoError(t, err)

	corrected := goodFields
	require.NoError(t, f.queue.Resolve(ctx, ticket.ID, constants.DispositionApprove, &corrected, "alex"))

	got, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocArchivedSuccess, got.State)
	require.NotNil(t, got.Fields)
	assert.Equal(t, "2024-01-15", got.Fields.TxDate, "corrected fields must replace the extracted ones")

	rec, err := f.records.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "alex", rec.ResolvedBy)
}

func TestResolveDiscardArchivesAsError(t *testing.T) {
	future := time.Now().UTC().AddDate(1, 0, 0).Format("2006-01-02")
	f := newFixture(t, extractStep{fields: entity.Fields{
		Vendor: "Acme", TxDate: future, Total: "1250",
	}})
	doc := f.detect(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Process(ctx, doc.ID))
	ticket, err := f.tickets.GetPendingByDocument(ctx, doc.ID)
	require.NoError(t, err)

	require.NoError(t, f.queue.Resolve(ctx, ticket.ID, constants.DispositionDiscard, nil, "sam"))

	got, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocArchivedError, got.State)

	var rules []string
	for _, r := range got.Reasons {
		rules = append(rules, r.Rule)
	}
	assert.Contains(t, rules, ReasonDiscarded)
}

func TestResolveIsExactlyOnce(t *testing.T) {
	future := time.Now().UTC().AddDate(1, 0, 0).Format("2006-01-02")
	f := newFixture(t, extractStep{fields: entity.Fields{
		Vendor: "Acme", TxDate: future, Total: "1250",
	}})
	doc := f.detect(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Process(ctx, doc.ID))
	ticket, err := f.tickets.GetPendingByDocument(ctx, doc.ID)
	require.NoError(t, err)

	corrected := goodFields
	require.NoError(t, f.queue.Resolve(ctx, ticket.ID, constants.DispositionApprove, &corrected, "alex"))

	err = f.queue.Resolve(ctx, ticket.ID, constants.DispositionDiscard, nil, "sam")
	assert.ErrorIs(t, err, common.ErrReviewConflict)

	got, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocArchivedSuccess, got.State)
}

func TestProcessLeaseConflict(t *testing.T) {
	f := newFixture(t)
	doc := f.detect(t)

	require.True(t, f.ctrl.leases.TryAcquire(doc.ID))
	defer f.ctrl.leases.Release(doc.ID)

	err := f.ctrl.Process(context.Background(), doc.ID)
	assert.ErrorIs(t, err, common.ErrLeaseHeld)
}

func TestForceReject(t *testing.T) {
	future := time.Now().UTC().AddDate(1, 0, 0).Format("2006-01-02")
	f := newFixture(t, extractStep{fields: entity.Fields{
		Vendor: "Acme", TxDate: future, Total: "1250",
	}})
	doc := f.detect(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Process(ctx, doc.ID))
	require.NoError(t, f.ctrl.ForceReject(ctx, doc.ID, "bad scan", "ops"))

	got, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocArchivedError, got.State)

	var rules []string
	for _, r := range got.Reasons {
		rules = append(rules, r.Rule)
	}
	assert.Contains(t, rules, ReasonForceRejected)

	// Terminal documents cannot be force-rejected again.
	err = f.ctrl.ForceReject(ctx, doc.ID, "again", "ops")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestForceRejectClosesPendingTicket(t *testing.T) {
	future := time.Now().UTC().AddDate(1, 0, 0).Format("2006-01-02")
	f := newFixture(t, extractStep{fields: entity.Fields{
		Vendor: "Acme", TxDate: future, Total: "1250",
	}})
	doc := f.detect(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Process(ctx, doc.ID))
	ticket, err := f.tickets.GetPendingByDocument(ctx, doc.ID)
	require.NoError(t, err)

	require.NoError(t, f.ctrl.ForceReject(ctx, doc.ID, "bad scan", "ops"))

	got, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocArchivedError, got.State)

	// The override must not leave dead work in the reviewer queue.
	pending, err := f.queue.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	err = f.queue.Resolve(ctx, ticket.ID, constants.DispositionDiscard, nil, "sam")
	assert.ErrorIs(t, err, common.ErrReviewConflict, "ticket already closed by the override")

	rec, err := f.records.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "ops", rec.ResolvedBy)
}

func TestForceRejectFromDetected(t *testing.T) {
	f := newFixture(t)
	doc := f.detect(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.ForceReject(ctx, doc.ID, "duplicate upload", "ops"))

	got, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocArchivedError, got.State)
}

func TestArchiveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	doc := f.detect(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Process(ctx, doc.ID))
	first, err := f.records.Get(ctx, doc.ID)
	require.NoError(t, err)

	// Replaying a finished document must not touch the record.
	require.NoError(t, f.ctrl.Process(ctx, doc.ID))
	second, err := f.records.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ArchivedAt, second.ArchivedAt)
	assert.Equal(t, first.ArchivedPath, second.ArchivedPath)
}

func TestRecoverListsUnfinishedDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	finished := f.detect(t)
	require.NoError(t, f.ctrl.Process(ctx, finished.ID))

	pending := f.detect(t)

	ids, err := f.ctrl.Recover(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, pending.ID)
	assert.NotContains(t, ids, finished.ID)
}

func TestRecoverResumesResolvedButUnappliedTicket(t *testing.T) {
	future := time.Now().UTC().AddDate(1, 0, 0).Format("2006-01-02")
	f := newFixture(t, extractStep{fields: entity.Fields{
		Vendor: "Acme", TxDate: future, Total: "1250",
	}})
	doc := f.detect(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Process(ctx, doc.ID))
	ticket, err := f.tickets.GetPendingByDocument(ctx, doc.ID)
	require.NoError(t, err)

	// Simulate a crash between ticket resolution and pipeline resume: the
	// disposition is durable but the document still sits in IN_REVIEW.
	corrected := goodFields
	require.NoError(t, f.tickets.Resolve(ctx, ticket.ID, constants.DispositionApprove, &corrected, "alex"))

	require.NoError(t, f.ctrl.Process(ctx, doc.ID))

	got, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocArchivedSuccess, got.State)
}

func TestProcessUnknownDocument(t *testing.T) {
	f := newFixture(t)
	err := f.ctrl.Process(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

// capturingHandler records every slog record for assertions.
type capturingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *capturingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capturingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *capturingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *capturingHandler) WithGroup(string) slog.Handler      { return h }

func (h *capturingHandler) find(msg string) (slog.Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.Message == msg {
			return r, true
		}
	}
	return slog.Record{}, false
}

func TestSweepFlagsStaleTicketWithoutResolvingIt(t *testing.T) {
	future := time.Now().UTC().AddDate(1, 0, 0).Format("2006-01-02")
	f := newFixture(t, extractStep{fields: entity.Fields{
		Vendor: "Acme", TxDate: future, Total: "1250",
	}})
	doc := f.detect(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Process(ctx, doc.ID))
	ticket, err := f.tickets.GetPendingByDocument(ctx, doc.ID)
	require.NoError(t, err)

	// Any already-created ticket is older than a nanosecond timeout.
	f.ctrl.opts.ReviewTimeout = time.Nanosecond
	capture := &capturingHandler{}
	f.ctrl.logger = slog.New(capture)

	f.ctrl.sweepStaleTickets(ctx)

	rec, ok := capture.find("review ticket stale")
	require.True(t, ok, "stale ticket must be surfaced")
	assert.Equal(t, slog.LevelWarn, rec.Level)
	var loggedTicket string
	rec.Attrs(func(a slog.Attr) bool {
		if a.Key == "ticket_id" {
			loggedTicket = a.Value.String()
			return false
		}
		return true
	})
	assert.Equal(t, ticket.ID.String(), loggedTicket)

	// The timeout surfaces forgotten reviews; it never decides them.
	still, err := f.tickets.GetPendingByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, still.ID)
	assert.Equal(t, constants.TicketPending, still.Status)
}

func TestSweepFreshTicketStaysQuiet(t *testing.T) {
	future := time.Now().UTC().AddDate(1, 0, 0).Format("2006-01-02")
	f := newFixture(t, extractStep{fields: entity.Fields{
		Vendor: "Acme", TxDate: future, Total: "1250",
	}})
	doc := f.detect(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Process(ctx, doc.ID))

	f.ctrl.opts.ReviewTimeout = 24 * time.Hour
	capture := &capturingHandler{}
	f.ctrl.logger = slog.New(capture)

	f.ctrl.sweepStaleTickets(ctx)

	_, ok := capture.find("review ticket stale")
	assert.False(t, ok, "a ticket inside the timeout is not stale")
}
