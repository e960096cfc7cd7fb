package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
)

// ArchiveRecord is the append-only terminal record of a document: its final
// fields, the reasons that shaped the outcome, and where the artifact went.
type ArchiveRecord struct {
	DocumentID   uuid.UUID               `json:"document_id"`
	FinalState   constants.DocumentState `json:"final_state"`
	Fields       *Fields                 `json:"fields,omitempty"`
	Reasons      []Reason                `json:"reasons,omitempty"`
	ResolvedBy   string                  `json:"resolved_by,omitempty"`
	ArchivedPath string                  `json:"archived_path,omitempty"`
	ArchivedAt   time.Time               `json:"archived_at"`
}
