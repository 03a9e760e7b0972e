package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"

	"github.com/docuchat/docuchat-core/internal/platform/logger"
)

// Extractor turns a stored document into plain text. The path is used only
// to pick the extraction strategy.
type Extractor interface {
	Extract(ctx context.Context, path string, r io.Reader) (string, error)
	// Supported reports whether the file type can be extracted at all.
	// Unsupported files are left out of the index without error.
	Supported(path string) bool
}

type docExtractor struct {
	log *logger.Logger
}

// NewExtractor builds the default extractor: PDF via unipdf, plus plain
// text formats read as-is.
func NewExtractor(log *logger.Logger) (Extractor, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if key := strings.TrimSpace(os.Getenv("UNIDOC_LICENSE_KEY")); key != "" {
		if err := license.SetMeteredKey(key); err != nil {
			return nil, fmt.Errorf("failed to set unidoc license key: %w", err)
		}
	}
	return &docExtractor{log: log.With("service", "Extractor")}, nil
}

func (e *docExtractor) Supported(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".pdf", ".txt", ".md":
		return true
	}
	return false
}

func (e *docExtractor) Extract(ctx context.Context, p string, r io.Reader) (string, error) {
	switch strings.ToLower(path.Ext(p)) {
	case ".txt", ".md":
		b, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("read %q: %w", p, err)
		}
		return string(b), nil
	case ".pdf":
		return e.extractPDF(ctx, p, r)
	}
	return "", fmt.Errorf("unsupported file type: %s", path.Ext(p))
}

func (e *docExtractor) extractPDF(ctx context.Context, p string, r io.Reader) (string, error) {
	// unipdf needs random access.
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", p, err)
	}

	pdfReader, err := model.NewPdfReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("open pdf %q: %w", p, err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("page count for %q: %w", p, err)
	}

	var sb strings.Builder
	for i := 1; i <= numPages; i++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		page, err := pdfReader.GetPage(i)
		if err != nil {
			return "", fmt.Errorf("page %d of %q: %w", i, p, err)
		}

		ex, err := extractor.New(page)
		if err != nil {
			return "", fmt.Errorf("extractor for page %d of %q: %w", i, p, err)
		}

		text, err := ex.ExtractText()
		if err != nil {
			return "", fmt.Errorf("extract page %d of %q: %w", i, p, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	return sb.String(), nil
}
