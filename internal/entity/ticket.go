package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
)

// ReviewTicket is a unit of human work for a document needing manual
// disposition. The Document row stays the source of truth for content;
// Reasons is a copy taken at ticket-creation time.
type ReviewTicket struct {
	ID              uuid.UUID              `json:"id"`
	DocumentID      uuid.UUID              `json:"document_id"`
	Reasons         []Reason               `json:"reasons"`
	Status          constants.TicketStatus `json:"status"`
	Disposition     *constants.Disposition `json:"disposition,omitempty"`
	CorrectedFields *Fields                `json:"corrected_fields,omitempty"`
	ResolvedBy      string                 `json:"resolved_by,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	ResolvedAt      *time.Time             `json:"resolved_at,omitempty"`
}
