package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
)

// Reason is one violated validation rule, in evaluation order.
type Reason struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (r Reason) String() string {
	return fmt.Sprintf("%s: %s", r.Rule, r.Message)
}

// Document represents one physical receipt file moving through the pipeline.
// ID is derived from the file's content hash and never changes; State only
// moves forward along the transition table in constants.
type Document struct {
	ID         uuid.UUID               `json:"id"`
	State      constants.DocumentState `json:"state"`
	SourcePath string                  `json:"source_path"`
	Fields     *Fields                 `json:"fields,omitempty"`
	Reasons    []Reason                `json:"reasons,omitempty"`
	Attempts   int                     `json:"attempts"`
	CreatedAt  time.Time               `json:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
}
