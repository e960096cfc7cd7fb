package constants

// DocumentState is the canonical lifecycle state for rows in documents.
type DocumentState string

// Stable values (store these exact strings in DB).
const (
	DocDetected        DocumentState = "DETECTED"         // created from a detection event
	DocExtracting      DocumentState = "EXTRACTING"       // recognition call in progress (retry loop lives here)
	DocExtracted       DocumentState = "EXTRACTED"        // structured fields captured
	DocValidating      DocumentState = "VALIDATING"       // validator running
	DocRejected        DocumentState = "REJECTED"         // failed hard; awaits error archival
	DocNeedsReview     DocumentState = "NEEDS_REVIEW"     // soft failure persisted; ticket not yet open
	DocInReview        DocumentState = "IN_REVIEW"        // suspended on a pending ticket
	DocResolved        DocumentState = "RESOLVED"         // reviewer disposition recorded
	DocArchivedSuccess DocumentState = "ARCHIVED_SUCCESS" // terminal
	DocArchivedError   DocumentState = "ARCHIVED_ERROR"   // terminal
)

// Terminal reports whether no further transition is allowed from s.
func (s DocumentState) Terminal() bool {
	return s == DocArchivedSuccess || s == DocArchivedError
}

// transitions is the forward-only adjacency of the document state machine.
// The EXTRACTING self-edge is the bounded retry loop. REJECTED is reachable
// from EXTRACTING/VALIDATING/NEEDS_REVIEW/IN_REVIEW/RESOLVED so that an
// administrative force-reject shares the normal edges.
var transitions = map[DocumentState][]DocumentState{
	DocDetected:    {DocExtracting},
	DocExtracting:  {DocExtracting, DocExtracted, DocRejected},
	DocExtracted:   {DocValidating},
	DocValidating:  {DocArchivedSuccess, DocRejected, DocNeedsReview},
	DocNeedsReview: {DocInReview, DocRejected},
	DocInReview:    {DocResolved, DocRejected},
	DocResolved:    {DocArchivedSuccess, DocRejected},
	DocRejected:    {DocArchivedError},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to DocumentState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TicketStatus is the status of a review ticket.
type TicketStatus string

const (
	TicketPending  TicketStatus = "PENDING"
	TicketResolved TicketStatus = "RESOLVED"
)

// Disposition is a reviewer's decision on a ticket.
type Disposition string

const (
	DispositionApprove Disposition = "APPROVE"
	DispositionDiscard Disposition = "DISCARD"
)

// Valid reports whether d is a recognized disposition.
func (d Disposition) Valid() bool {
	return d == DispositionApprove || d == DispositionDiscard
}

// Verdict classifies extracted fields after validation.
type Verdict string

const (
	VerdictAccept      Verdict = "ACCEPT"
	VerdictReject      Verdict = "REJECT"
	VerdictNeedsReview Verdict = "NEEDS_REVIEW"
)
