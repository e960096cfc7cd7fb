package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

// ClientConfig configures the recognition-service adapter.
type ClientConfig struct {
	Endpoint        string
	APIKey          string
	Timeout         time.Duration
	LenientOptional bool
}

// HTTPClient implements Client against a multimodal recognition service
// that accepts page images and returns structured receipt fields as JSON.
type HTTPClient struct {
	cfg        ClientConfig
	httpClient *http.Client
	log        *slog.Logger
}

func NewHTTPClient(cfg ClientConfig, log *slog.Logger) *HTTPClient {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

type imagePart struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"` // base64
}

func (c *HTTPClient) Extract(ctx context.Context, req Request) (entity.Fields, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("extract.start",
		"req_id", rid,
		"images", len(req.ImagePaths),
		"filename_hint", req.FilenameHint,
		"default_currency", req.DefaultCurrency,
	)

	parts, err := loadImageParts(req.ImagePaths)
	if err != nil {
		c.log.Error("extract.load_images_failed", "req_id", rid, "error", err)
		return entity.Fields{}, nil, fmt.Errorf("%w: %v", common.ErrExtractionPermanent, err)
	}
	if len(parts) == 0 {
		return entity.Fields{}, nil, fmt.Errorf("%w: no readable page images", common.ErrExtractionPermanent)
	}

	schema := BuildFieldsJSONSchema()
	body := map[string]any{
		"schema":           schema,
		"filename_hint":    req.FilenameHint,
		"default_currency": req.DefaultCurrency,
		"images":           parts,
	}

	raw, err := c.post(ctx, body)
	if err != nil {
		c.log.Error("extract.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return entity.Fields{}, nil, err
	}

	var envelope struct {
		Fields json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Fields) == 0 {
		c.log.Error("extract.decode_error", "req_id", rid, "raw_bytes", len(raw))
		return entity.Fields{}, raw, fmt.Errorf("%w: decode recognition response", common.ErrExtractionPermanent)
	}
	content := envelope.Fields

	// Validate strictly first.
	if err := ValidateJSONAgainstSchema(schema, content); err != nil {
		if !c.cfg.LenientOptional {
			c.log.Error("extract.schema_validation_failed", "req_id", rid, "error", err)
			return entity.Fields{}, content, fmt.Errorf("%w: %v", common.ErrExtractionPermanent, err)
		}
		// Lenient pass: drop/normalize optional offenders and re-validate.
		cleaned, droppedKeys, sErr := SanitizeOptionalFields(content)
		if sErr != nil {
			c.log.Error("extract.sanitize_failed", "req_id", rid, "error", sErr)
			return entity.Fields{}, content, fmt.Errorf("%w: %v", common.ErrExtractionPermanent, sErr)
		}
		if vErr := ValidateJSONAgainstSchema(schema, cleaned); vErr != nil {
			c.log.Error("extract.schema_validation_failed", "req_id", rid, "error", vErr)
			return entity.Fields{}, content, fmt.Errorf("%w: %v", common.ErrExtractionPermanent, vErr)
		}
		c.log.Warn("extract.lenient_sanitize_applied", "req_id", rid, "dropped", droppedKeys)
		content = cleaned
	}

	var out entity.Fields
	if err := json.Unmarshal(content, &out); err != nil {
		return entity.Fields{}, content, fmt.Errorf("%w: unmarshal fields: %v", common.ErrExtractionPermanent, err)
	}
	if out.CurrencyCode == "" {
		out.CurrencyCode = req.DefaultCurrency
	}

	c.log.Info("extract.ok",
		"req_id", rid,
		"vendor", out.Vendor,
		"date", out.TxDate,
		"total", out.Total,
		"currency", out.CurrencyCode,
		"confidence", out.ModelConfidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, content, nil
}

func (c *HTTPClient) post(ctx context.Context, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", common.ErrExtractionPermanent, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrExtractionPermanent, err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures and timeouts are worth another try.
		return nil, fmt.Errorf("%w: %v", common.ErrExtractionTransient, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.Warn("recognition response body close error", "error", cerr)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", common.ErrExtractionTransient, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, raw)
	}
	return raw, nil
}

// classifyStatus maps an HTTP failure onto the retryable/terminal split the
// pipeline acts on.
func classifyStatus(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return fmt.Errorf("%w: recognition status %d: %s", common.ErrExtractionTransient, status, msg)
	default:
		return fmt.Errorf("%w: recognition status %d: %s", common.ErrExtractionPermanent, status, msg)
	}
}

func loadImageParts(paths []string) ([]imagePart, error) {
	var parts []imagePart
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", p, err)
		}
		ct := "image/png"
		switch strings.ToLower(filepath.Ext(p)) {
		case ".jpg", ".jpeg":
			ct = "image/jpeg"
		}
		parts = append(parts, imagePart{
			Name:        filepath.Base(p),
			ContentType: ct,
			Data:        base64.StdEncoding.EncodeToString(data),
		})
	}
	return parts, nil
}
