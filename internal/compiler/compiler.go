// Package compiler assembles per-page translations into one document.
package compiler

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Lllllllleong/documenttranslator/internal/models"
)

// PageDelimiter separates the content of consecutive pages.
const PageDelimiter = "\n\n---\n\n"

// ErrMissingTranslation is returned when a page has no translation and the
// policy does not allow gaps.
var ErrMissingTranslation = errors.New("page has no translation")

// Policy decides how pages without a translation are compiled.
type Policy string

const (
	// PolicyFail refuses to compile a document with missing pages.
	PolicyFail Policy = "fail"
	// PolicyWarn replaces missing pages with a gap marker.
	PolicyWarn Policy = "warn"
)

// ParsePolicy accepts "fail" or "warn".
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyFail, PolicyWarn:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("invalid partial failure policy %q: expected fail or warn", s)
	}
}

// Document is a compiled translation.
type Document struct {
	Content string
	// Gaps lists the zero-based indices of pages replaced by a gap marker.
	Gaps []int
}

// GapMarker stands in for a page that could not be translated.
func GapMarker(pageNumber int) string {
	return fmt.Sprintf("> **[Page %d could not be translated]**", pageNumber)
}

// Compile joins page translations in ascending index order. The input is not
// modified and its order does not matter.
func Compile(pages []*models.Page, policy Policy) (Document, error) {
	sorted := slices.Clone(pages)
	slices.SortFunc(sorted, func(a, b *models.Page) int {
		return a.Index - b.Index
	})

	var doc Document
	var sb strings.Builder
	for i, page := range sorted {
		if page == nil {
			return Document{}, errors.New("nil page")
		}
		if i > 0 && sorted[i-1].Index == page.Index {
			return Document{}, fmt.Errorf("duplicate page index %d", page.Index)
		}
		if i > 0 {
			sb.WriteString(PageDelimiter)
		}
		if page.Translation == nil {
			if policy != PolicyWarn {
				return Document{}, fmt.Errorf("page %d: %w", page.Number(), ErrMissingTranslation)
			}
			doc.Gaps = append(doc.Gaps, page.Index)
			sb.WriteString(GapMarker(page.Number()))
			continue
		}
		sb.WriteString(*page.Translation)
	}
	doc.Content = sb.String()
	return doc, nil
}
