package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from DocumentState
		to   DocumentState
		want bool
	}{
		{"detected to extracting", DocDetected, DocExtracting, true},
		{"extracting retry self-edge", DocExtracting, DocExtracting, true},
		{"extracting to extracted", DocExtracting, DocExtracted, true},
		{"extracting to rejected", DocExtracting, DocRejected, true},
		{"validating to success", DocValidating, DocArchivedSuccess, true},
		{"validating to needs review", DocValidating, DocNeedsReview, true},
		{"needs review to in review", DocNeedsReview, DocInReview, true},
		{"in review to resolved", DocInReview, DocResolved, true},
		{"resolved to success", DocResolved, DocArchivedSuccess, true},
		{"resolved to rejected", DocResolved, DocRejected, true},
		{"rejected to error archive", DocRejected, DocArchivedError, true},

		{"no skipping validation", DocExtracted, DocArchivedSuccess, false},
		{"no backward edge", DocExtracted, DocDetected, false},
		{"detected cannot reject directly", DocDetected, DocRejected, false},
		{"success is terminal", DocArchivedSuccess, DocRejected, false},
		{"error is terminal", DocArchivedError, DocDetected, false},
		{"rejected cannot recover", DocRejected, DocValidating, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminalStatesHaveNoOutgoingEdges(t *testing.T) {
	all := []DocumentState{
		DocDetected, DocExtracting, DocExtracted, DocValidating, DocRejected,
		DocNeedsReview, DocInReview, DocResolved, DocArchivedSuccess, DocArchivedError,
	}
	for _, from := range all {
		if !from.Terminal() {
			continue
		}
		for _, to := range all {
			assert.Falsef(t, CanTransition(from, to), "%s -> %s must not be allowed", from, to)
		}
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, DocArchivedSuccess.Terminal())
	assert.True(t, DocArchivedError.Terminal())
	assert.False(t, DocInReview.Terminal())
	assert.False(t, DocRejected.Terminal())
}

func TestDispositionValid(t *testing.T) {
	assert.True(t, DispositionApprove.Valid())
	assert.True(t, DispositionDiscard.Valid())
	assert.False(t, Disposition("MAYBE").Valid())
	assert.False(t, Disposition("").Valid())
}
