// Package pagesource turns an uploaded document into ordered single-page units.
package pagesource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// PDFMIMEType is the MIME type of every unit produced by PDFSource.
const PDFMIMEType = "application/pdf"

// DocumentFormatError reports an input that is not a well-formed document.
type DocumentFormatError struct {
	Reason string
	Err    error
}

func (e *DocumentFormatError) Error() string {
	if e.Err == nil {
		return "invalid document: " + e.Reason
	}
	return fmt.Sprintf("invalid document: %s: %v", e.Reason, e.Err)
}

func (e *DocumentFormatError) Unwrap() error {
	return e.Err
}

// IsDocumentFormatError reports whether err is a DocumentFormatError.
func IsDocumentFormatError(err error) bool {
	var derr *DocumentFormatError
	return errors.As(err, &derr)
}

// Unit is one page of a document, rendered as a standalone single-page PDF.
// Blank pages have no content stream and need no transcription.
type Unit struct {
	Index    int
	Data     []byte
	MIMEType string
	Blank    bool
}

// PDFSource splits PDF documents with pdfcpu.
type PDFSource struct {
	tempRoot string
}

// NewPDFSource creates a page source that works in tempRoot ("" means the OS default).
func NewPDFSource(tempRoot string) *PDFSource {
	return &PDFSource{tempRoot: tempRoot}
}

// RenderPages validates and optimizes the document, then splits it into one
// unit per page in ascending page order.
func (s *PDFSource) RenderPages(ctx context.Context, document []byte) ([]Unit, error) {
	if len(document) == 0 {
		return nil, &DocumentFormatError{Reason: "empty document"}
	}

	tempDir, err := os.MkdirTemp(s.tempRoot, "page-source-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(sourcePath, document, 0o600); err != nil {
		return nil, fmt.Errorf("failed to stage document: %w", err)
	}

	optimizedPath := filepath.Join(tempDir, "optimized.pdf")
	if err := optimizePDF(sourcePath, optimizedPath); err != nil {
		return nil, &DocumentFormatError{Reason: "failed to validate/optimize PDF", Err: err}
	}
	pageCount, err := api.PageCountFile(optimizedPath)
	if err != nil {
		return nil, &DocumentFormatError{Reason: "failed to get page count", Err: err}
	}

	splitDir := filepath.Join(tempDir, "pages")
	if err := os.Mkdir(splitDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create split dir: %w", err)
	}
	if err := api.SplitFile(optimizedPath, splitDir, 1, nil); err != nil {
		return nil, &DocumentFormatError{Reason: "failed to split PDF", Err: err}
	}

	units := make([]Unit, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pagePath := filepath.Join(splitDir, fmt.Sprintf("optimized_%d.pdf", i))
		data, err := os.ReadFile(pagePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read split page %d: %w", i, err)
		}
		blank := isBlankPage(pagePath)
		if blank {
			slog.Debug("Page has no content stream.", "page", i)
		}
		units = append(units, Unit{Index: i - 1, Data: data, MIMEType: PDFMIMEType, Blank: blank})
	}

	slog.Debug("Document split into pages.", "pageCount", pageCount)
	return units, nil
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}

// isBlankPage reports whether the single-page PDF at path has no content
// stream. Pages that cannot be inspected are treated as having content.
func isBlankPage(path string) bool {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return false
	}
	pageDict, _, _, err := pdfCtx.PageDict(1, false)
	if err != nil || pageDict == nil {
		return false
	}
	contents, found := pageDict.Find("Contents")
	if !found || contents == nil {
		return true
	}
	contents, err = pdfCtx.Dereference(contents)
	if err != nil {
		return false
	}
	if arr, ok := contents.(types.Array); ok && len(arr) == 0 {
		return true
	}
	return false
}
