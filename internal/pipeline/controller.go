// Package pipeline drives documents through the lifecycle state machine.
// Every transition is a compare-and-set against the store, so a crashed or
// duplicated run can only ever lose a race, never corrupt a document.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/archive"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/extract"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
	"github.com/joseph-ayodele/receipts-pipeline/internal/review"
	"github.com/joseph-ayodele/receipts-pipeline/internal/validate"
)

const (
	// ReasonExtractionFailed marks documents rejected by the retry loop.
	ReasonExtractionFailed = "extraction_failed"
	// ReasonForceRejected marks documents rejected by an administrator.
	ReasonForceRejected = "force_rejected"
	// ReasonDiscarded marks documents a reviewer discarded.
	ReasonDiscarded = "discarded_by_reviewer"
)

// Preparer produces recognition-ready page images for a source artifact.
type Preparer interface {
	PageImages(ctx context.Context, sourcePath string) ([]string, error)
}

// Options tunes the retry loop and the validation policy.
type Options struct {
	MaxRetries          int
	RetryBackoff        time.Duration
	ReviewTimeout       time.Duration
	ReviewSweepInterval time.Duration
	ValidationTolerance float64
	MaxPlausibleTotal   float64
	RequireRegistration bool
	DefaultCurrency     string
}

type Controller struct {
	docs      repository.DocumentRepository
	tickets   repository.TicketRepository
	queue     *review.Queue
	prep      Preparer
	extractor extract.Client
	archiver  *archive.Archiver
	opts      Options
	leases    *leaseTable
	logger    *slog.Logger

	// sleep is swapped out in tests so retries do not wall-clock wait.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewController(
	docs repository.DocumentRepository,
	tickets repository.TicketRepository,
	queue *review.Queue,
	prep Preparer,
	extractor extract.Client,
	archiver *archive.Archiver,
	opts Options,
	logger *slog.Logger,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	return &Controller{
		docs:      docs,
		tickets:   tickets,
		queue:     queue,
		prep:      prep,
		extractor: extractor,
		archiver:  archiver,
		opts:      opts,
		leases:    newLeaseTable(),
		logger:    logger,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Process advances the document as far as the state machine allows: to a
// terminal archived state, or to IN_REVIEW where it suspends. It returns
// common.ErrLeaseHeld when the document is already being processed.
func (c *Controller) Process(ctx context.Context, id uuid.UUID) error {
	if !c.leases.TryAcquire(id) {
		return fmt.Errorf("%w: %s", common.ErrLeaseHeld, id)
	}
	defer c.leases.Release(id)
	return c.run(ctx, id)
}

// run is the state loop. The lease must be held by the caller.
func (c *Controller) run(ctx context.Context, id uuid.UUID) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		doc, err := c.docs.GetByID(ctx, id)
		if err != nil {
			return err
		}

		switch doc.State {
		case constants.DocDetected:
			err = c.docs.Transition(ctx, id, constants.DocDetected, constants.DocExtracting, nil)

		case constants.DocExtracting:
			err = c.runExtraction(ctx, doc)

		case constants.DocExtracted:
			err = c.docs.Transition(ctx, id, constants.DocExtracted, constants.DocValidating, nil)

		case constants.DocValidating:
			err = c.runValidation(ctx, doc)

		case constants.DocNeedsReview:
			if _, err = c.queue.Enqueue(ctx, id, doc.Reasons); err != nil {
				return err
			}
			err = c.docs.Transition(ctx, id, constants.DocNeedsReview, constants.DocInReview, nil)

		case constants.DocInReview:
			return c.checkSuspended(ctx, doc)

		case constants.DocResolved:
			err = c.applyResolution(ctx, doc)

		case constants.DocRejected:
			err = c.docs.Transition(ctx, id, constants.DocRejected, constants.DocArchivedError, nil)

		case constants.DocArchivedSuccess, constants.DocArchivedError:
			_, err = c.archiver.Archive(ctx, doc)
			return err

		default:
			return fmt.Errorf("%w: document %s in unknown state %q", common.ErrInvalidInput, id, doc.State)
		}

		if err != nil {
			return err
		}
	}
}

// runExtraction performs one recognition attempt against the external
// service. Failures count against the retry budget: a transient failure
// re-enters EXTRACTING (the self-edge) until attempts exceed MaxRetries, a
// permanent failure or an exhausted budget rejects the document.
func (c *Controller) runExtraction(ctx context.Context, doc *entity.Document) error {
	c.logger.Info("extraction attempt",
		"document_id", doc.ID, "attempt", doc.Attempts+1, "source", doc.SourcePath)

	fields, _, err := c.extractOnce(ctx, doc)
	if err == nil {
		return c.docs.Transition(ctx, doc.ID, constants.DocExtracting, constants.DocExtracted,
			&repository.TransitionUpdate{Fields: &fields})
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	attempts := doc.Attempts + 1
	if common.Transient(err) && attempts <= c.opts.MaxRetries {
		c.logger.Warn("extraction failed, will retry",
			"document_id", doc.ID, "attempt", attempts, "max_retries", c.opts.MaxRetries, "error", err)
		if terr := c.docs.Transition(ctx, doc.ID, constants.DocExtracting, constants.DocExtracting,
			&repository.TransitionUpdate{Attempts: &attempts}); terr != nil {
			return terr
		}
		// Exponential backoff: backoff * 2^(attempts-1).
		return c.sleep(ctx, c.opts.RetryBackoff<<(attempts-1))
	}

	c.logger.Error("extraction failed permanently",
		"document_id", doc.ID, "attempts", attempts, "error", err)
	return c.docs.Transition(ctx, doc.ID, constants.DocExtracting, constants.DocRejected,
		&repository.TransitionUpdate{
			Attempts: &attempts,
			Reasons: []entity.Reason{{
				Rule:    ReasonExtractionFailed,
				Message: err.Error(),
			}},
		})
}

func (c *Controller) extractOnce(ctx context.Context, doc *entity.Document) (entity.Fields, []byte, error) {
	pages, err := c.prep.PageImages(ctx, doc.SourcePath)
	if err != nil {
		// Unreadable artifacts will not heal on retry.
		return entity.Fields{}, nil, fmt.Errorf("%w: prepare pages: %v", common.ErrExtractionPermanent, err)
	}
	return c.extractor.Extract(ctx, extract.Request{
		ImagePaths:      pages,
		FilenameHint:    doc.SourcePath,
		DefaultCurrency: c.opts.DefaultCurrency,
	})
}

// runValidation applies the acceptance policy to the extracted fields and
// routes the document to success, rejection, or review.
func (c *Controller) runValidation(ctx context.Context, doc *entity.Document) error {
	res := validate.Validate(doc.Fields, validate.Options{
		Tolerance:           c.opts.ValidationTolerance,
		MaxPlausibleTotal:   c.opts.MaxPlausibleTotal,
		RequireRegistration: c.opts.RequireRegistration,
	})

	c.logger.Info("validation verdict",
		"document_id", doc.ID, "decision", res.Decision, "reasons", len(res.Reasons))

	switch res.Decision {
	case constants.VerdictAccept:
		return c.docs.Transition(ctx, doc.ID, constants.DocValidating, constants.DocArchivedSuccess, nil)
	case constants.VerdictReject:
		return c.docs.Transition(ctx, doc.ID, constants.DocValidating, constants.DocRejected,
			&repository.TransitionUpdate{Reasons: res.Reasons})
	default:
		// Reasons are durable before any ticket exists, so a crash here
		// replays the enqueue from NEEDS_REVIEW.
		return c.docs.Transition(ctx, doc.ID, constants.DocValidating, constants.DocNeedsReview,
			&repository.TransitionUpdate{Reasons: res.Reasons})
	}
}

// checkSuspended handles an IN_REVIEW document found during processing or
// recovery. With a pending ticket it stays suspended; with a resolved but
// unapplied ticket (crash between resolve and resume) the disposition is
// applied now; with no ticket at all one is reopened.
func (c *Controller) checkSuspended(ctx context.Context, doc *entity.Document) error {
	if _, err := c.tickets.GetPendingByDocument(ctx, doc.ID); err == nil {
		c.logger.Debug("document suspended on pending ticket", "document_id", doc.ID)
		return nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return err
	}

	ticket, err := c.tickets.GetResolvedByDocument(ctx, doc.ID)
	if errors.Is(err, common.ErrNotFound) {
		c.logger.Warn("in-review document has no ticket, reopening", "document_id", doc.ID)
		_, err = c.queue.Enqueue(ctx, doc.ID, doc.Reasons)
		return err
	}
	if err != nil {
		return err
	}
	if ticket.Disposition == nil {
		return fmt.Errorf("%w: resolved ticket %s has no disposition", common.ErrPersistence, ticket.ID)
	}

	if err := c.advanceToResolved(ctx, doc.ID, *ticket.Disposition, ticket.CorrectedFields); err != nil {
		return err
	}
	return c.run(ctx, doc.ID)
}

// applyResolution moves a RESOLVED document to its terminal state according
// to the reviewer's disposition.
func (c *Controller) applyResolution(ctx context.Context, doc *entity.Document) error {
	ticket, err := c.tickets.GetResolvedByDocument(ctx, doc.ID)
	if err != nil {
		return err
	}
	if ticket.Disposition == nil {
		return fmt.Errorf("%w: resolved ticket %s has no disposition", common.ErrPersistence, ticket.ID)
	}

	switch *ticket.Disposition {
	case constants.DispositionApprove:
		return c.docs.Transition(ctx, doc.ID, constants.DocResolved, constants.DocArchivedSuccess,
			&repository.TransitionUpdate{Fields: ticket.CorrectedFields})
	case constants.DispositionDiscard:
		return c.docs.Transition(ctx, doc.ID, constants.DocResolved, constants.DocRejected,
			&repository.TransitionUpdate{
				Reasons: append(doc.Reasons, entity.Reason{
					Rule:    ReasonDiscarded,
					Message: fmt.Sprintf("discarded by %s", ticket.ResolvedBy),
				}),
			})
	default:
		return fmt.Errorf("%w: unknown disposition %q", common.ErrInvalidInput, *ticket.Disposition)
	}
}

// Resume is the continuation the review queue calls after a ticket is
// resolved. The disposition is already durable on the ticket, so losing the
// race here only means recovery finishes the job.
func (c *Controller) Resume(ctx context.Context, documentID uuid.UUID, disposition constants.Disposition, corrected *entity.Fields, resolvedBy string) error {
	if !c.leases.TryAcquire(documentID) {
		return fmt.Errorf("%w: %s", common.ErrLeaseHeld, documentID)
	}
	defer c.leases.Release(documentID)

	c.logger.Info("resuming document",
		"document_id", documentID, "disposition", disposition, "resolved_by", resolvedBy)

	if err := c.advanceToResolved(ctx, documentID, disposition, corrected); err != nil {
		return err
	}
	return c.run(ctx, documentID)
}

func (c *Controller) advanceToResolved(ctx context.Context, id uuid.UUID, disposition constants.Disposition, corrected *entity.Fields) error {
	var upd *repository.TransitionUpdate
	if disposition == constants.DispositionApprove && corrected != nil {
		upd = &repository.TransitionUpdate{Fields: corrected}
	}
	err := c.docs.Transition(ctx, id, constants.DocInReview, constants.DocResolved, upd)
	if errors.Is(err, common.ErrStateConflict) {
		// Someone else already advanced it; the loop picks up from there.
		return nil
	}
	return err
}

// ForceReject is the administrative override: it rejects a live document
// regardless of where it sits in the pipeline and archives it as an error.
// Terminal documents cannot be force-rejected.
func (c *Controller) ForceReject(ctx context.Context, id uuid.UUID, message, actor string) error {
	if !c.leases.TryAcquire(id) {
		return fmt.Errorf("%w: %s", common.ErrLeaseHeld, id)
	}
	defer c.leases.Release(id)

	doc, err := c.docs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if doc.State.Terminal() {
		return fmt.Errorf("%w: document %s is already %s", common.ErrInvalidInput, id, doc.State)
	}

	if doc.State != constants.DocRejected {
		from := doc.State
		// DETECTED/EXTRACTED have no direct edge to REJECTED; step through
		// their successor first.
		if from == constants.DocDetected {
			if err := c.docs.Transition(ctx, id, constants.DocDetected, constants.DocExtracting, nil); err != nil {
				return err
			}
			from = constants.DocExtracting
		}
		if from == constants.DocExtracted {
			if err := c.docs.Transition(ctx, id, constants.DocExtracted, constants.DocValidating, nil); err != nil {
				return err
			}
			from = constants.DocValidating
		}
		err = c.docs.Transition(ctx, id, from, constants.DocRejected,
			&repository.TransitionUpdate{
				Reasons: append(doc.Reasons, entity.Reason{
					Rule:    ReasonForceRejected,
					Message: fmt.Sprintf("rejected by %s: %s", actor, message),
				}),
			})
		if err != nil {
			return err
		}
	}

	// A pending ticket for a dead document would sit in the reviewer queue
	// forever; close it under the same lease. Losing the race to a reviewer
	// is fine, the document is REJECTED either way.
	if ticket, err := c.tickets.GetPendingByDocument(ctx, id); err == nil {
		rerr := c.tickets.Resolve(ctx, ticket.ID, constants.DispositionDiscard, nil, actor)
		if rerr != nil && !errors.Is(rerr, common.ErrReviewConflict) {
			return rerr
		}
	} else if !errors.Is(err, common.ErrNotFound) {
		return err
	}

	c.logger.Warn("document force-rejected", "document_id", id, "actor", actor, "message", message)
	return c.run(ctx, id)
}

// Recover lists every document that has not reached the archive, so a
// restart can replay it through the state loop. Suspended documents come
// back too; their Process is a no-op until their ticket resolves.
func (c *Controller) Recover(ctx context.Context) ([]uuid.UUID, error) {
	docs, err := c.docs.ListUnarchived(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	if len(ids) > 0 {
		c.logger.Info("recovery found unfinished documents", "count", len(ids))
	}
	return ids, nil
}

// RunReviewSweeper periodically flags tickets that have been pending longer
// than the review timeout. Stale tickets are logged, never auto-resolved;
// the timeout exists to make forgotten reviews visible, not to decide them.
func (c *Controller) RunReviewSweeper(ctx context.Context) error {
	if c.opts.ReviewSweepInterval <= 0 || c.opts.ReviewTimeout <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(c.opts.ReviewSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.sweepStaleTickets(ctx)
		}
	}
}

func (c *Controller) sweepStaleTickets(ctx context.Context) {
	pending, err := c.queue.ListPending(ctx)
	if err != nil {
		c.logger.Error("review sweep failed", "error", err)
		return
	}
	now := time.Now()
	for _, t := range pending {
		if age := now.Sub(t.CreatedAt); age > c.opts.ReviewTimeout {
			c.logger.Warn("review ticket stale",
				"ticket_id", t.ID, "document_id", t.DocumentID, "age", age.Round(time.Minute))
		}
	}
}
