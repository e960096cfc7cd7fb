package extract

import (
	"context"

	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

// Request carries the prepared page images of one receipt to the
// recognition service.
type Request struct {
	ImagePaths      []string
	FilenameHint    string
	DefaultCurrency string
}

// Client is the extraction contract the pipeline depends on. Errors wrap
// common.ErrExtractionTransient when the call is worth retrying (network,
// 5xx, timeout) and common.ErrExtractionPermanent otherwise (4xx, payload
// that cannot be made to match the schema).
type Client interface {
	Extract(ctx context.Context, req Request) (entity.Fields, []byte /*rawJSON*/, error)
}
