package extract

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DocumentExtractor pulls per-page text out of an uploaded PDF. The work is
// CPU-bound and synchronous; callers run it on a worker goroutine so it cannot
// stall a concurrent network-bound extraction.
type DocumentExtractor struct{}

func NewDocumentExtractor() *DocumentExtractor {
	return &DocumentExtractor{}
}

// Extract parses the document bytes and returns the surviving pages joined
// with page-delimiter markers. Corrupt bytes or an unsupported encoding yield
// Success=false with the triggering error captured; the parser library can
// panic on malformed input, which is recovered and converted the same way.
func (e *DocumentExtractor) Extract(data []byte, filename string) (result SourceResult) {
	defer func() {
		if r := recover(); r != nil {
			result = failure(SourceDocument, filename, fmt.Errorf("document parse panic: %v", r))
		}
	}()

	if len(data) == 0 {
		return failure(SourceDocument, filename, errors.New("empty document"))
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return failure(SourceDocument, filename, fmt.Errorf("document parse failed: %w", err))
	}

	var pages []string
	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		pageText, err := p.GetPlainText(nil)
		if err != nil {
			slog.Warn("page extraction failed", "file", filename, "page", i, "error", err)
			continue
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		pages = append(pages, fmt.Sprintf("--- Page %d ---\n%s", i, pageText))
	}

	combined := strings.Join(pages, "\n\n")
	slog.Info("document extraction completed", "file", filename, "pages", total, "chars", len(combined))

	return SourceResult{Kind: SourceDocument, Success: true, Text: combined, Origin: filename}
}
