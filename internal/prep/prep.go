// Package prep turns a detected receipt artifact into cleaned-up page
// images the recognition service can work with.
package prep

import (
	"context"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
)

type Preprocessor struct {
	workDir string
	log     *slog.Logger
}

func New(workDir string, log *slog.Logger) *Preprocessor {
	if log == nil {
		log = slog.Default()
	}
	if workDir == "" {
		workDir = "./tmp"
	}
	return &Preprocessor{workDir: workDir, log: log}
}

// PageImages extracts the page images of sourcePath (a PDF or a single
// image) into the work dir and enhances each one for recognition. Returned
// paths are ordered by page.
func (p *Preprocessor) PageImages(ctx context.Context, sourcePath string) ([]string, error) {
	ext := constants.NormalizeExt(filepath.Ext(sourcePath))
	base := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	outDir := filepath.Join(p.workDir, base)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	var raw []string
	if constants.IsPDF(ext) {
		pages, err := p.extractPDFImages(sourcePath, outDir)
		if err != nil {
			return nil, err
		}
		raw = pages
	} else {
		raw = []string{sourcePath}
	}

	var out []string
	for i, src := range raw {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dst := filepath.Join(outDir, fmt.Sprintf("%s_page_%d.png", base, i+1))
		if err := enhance(src, dst); err != nil {
			return nil, fmt.Errorf("enhance page %d: %w", i+1, err)
		}
		out = append(out, dst)
	}

	p.log.Debug("prepared page images", "source", sourcePath, "pages", len(out))
	return out, nil
}

// extractPDFImages pulls the embedded page scans out of a receipt PDF.
func (p *Preprocessor) extractPDFImages(sourcePath, outDir string) ([]string, error) {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed

	pageCount, err := api.PageCountFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("page count: %w", err)
	}
	if err := api.ExtractImagesFile(sourcePath, outDir, nil, cfg); err != nil {
		return nil, fmt.Errorf("extract images: %w", err)
	}

	var paths []string
	err = filepath.WalkDir(outDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return walkErr
		}
		switch constants.NormalizeExt(filepath.Ext(path)) {
		case "png", "jpg", "jpeg", "tif", "tiff":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no page images found in %d-page pdf %s", pageCount, sourcePath)
	}
	sort.Strings(paths)
	return paths, nil
}

// enhance applies the grayscale/contrast/sharpen chain plus a small margin
// crop that consistently improves recognition on phone scans.
func enhance(srcPath, dstPath string) error {
	src, err := imaging.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}

	width := src.Bounds().Dx()
	height := src.Bounds().Dy()

	img := imaging.Grayscale(src)
	img = imaging.AdjustContrast(img, 30)
	img = imaging.Sharpen(img, 1.5)
	img = imaging.AdjustBrightness(img, 10)

	marginX := width / 50
	marginY := height / 50
	if width > 4*marginX && height > 4*marginY {
		img = imaging.Crop(img, image.Rect(marginX, marginY, width-marginX, height-marginY))
	}

	// Cap the long edge; the recognition service rejects oversized uploads.
	if width > 2000 || height > 2000 {
		img = imaging.Fit(img, 2000, 2000, imaging.Lanczos)
	}

	if err := imaging.Save(img, dstPath); err != nil {
		return fmt.Errorf("save image: %w", err)
	}
	return nil
}
