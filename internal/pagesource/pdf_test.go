package pagesource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
)

// buildPDF writes a minimal PDF with one page per entry in contents. An empty
// entry produces a page without a content stream.
func buildPDF(contents []string) []byte {
	var buf bytes.Buffer
	var offsets []int
	object := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.7\n")
	streamNums := make([]int, len(contents))
	for i, c := range contents {
		if c == "" {
			continue
		}
		object(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(c), c))
		streamNums[i] = len(offsets)
	}
	firstPage := len(offsets) + 1
	pagesNum := firstPage + len(contents)
	kids := ""
	for i := range contents {
		body := fmt.Sprintf("<< /Type /Page /Parent %d 0 R /Resources << >>", pagesNum)
		if streamNums[i] != 0 {
			body += fmt.Sprintf(" /Contents %d 0 R", streamNums[i])
		}
		object(body + " >>")
		kids += fmt.Sprintf("%d 0 R ", firstPage+i)
	}
	object(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 612 792] >>", kids, len(contents)))
	object(fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesNum))

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, len(offsets), xref)
	return buf.Bytes()
}

func TestRenderPagesSplitsInOrder(t *testing.T) {
	doc := buildPDF([]string{"0 0 m 100 100 l S", "", "10 10 m 200 200 l S"})

	units, err := NewPDFSource(t.TempDir()).RenderPages(context.Background(), doc)
	if err != nil {
		t.Fatalf("RenderPages: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("units = %d, want 3", len(units))
	}
	for i, u := range units {
		if u.Index != i {
			t.Errorf("unit %d has index %d", i, u.Index)
		}
		if u.MIMEType != PDFMIMEType {
			t.Errorf("unit %d MIME type = %q", i, u.MIMEType)
		}
		if !bytes.HasPrefix(u.Data, []byte("%PDF")) {
			t.Errorf("unit %d is not a PDF", i)
		}
		if want := i == 1; u.Blank != want {
			t.Errorf("unit %d blank = %v, want %v", i, u.Blank, want)
		}
	}
}

func TestRenderPagesRejectsEmptyDocument(t *testing.T) {
	_, err := NewPDFSource(t.TempDir()).RenderPages(context.Background(), nil)
	if !IsDocumentFormatError(err) {
		t.Fatalf("expected DocumentFormatError, got %v", err)
	}
}

func TestRenderPagesRejectsNonPDF(t *testing.T) {
	_, err := NewPDFSource(t.TempDir()).RenderPages(context.Background(), []byte("this is not a pdf"))
	if !IsDocumentFormatError(err) {
		t.Fatalf("expected DocumentFormatError, got %v", err)
	}
}

func TestDocumentFormatErrorUnwraps(t *testing.T) {
	inner := errors.New("xref table corrupt")
	err := error(&DocumentFormatError{Reason: "failed to validate/optimize PDF", Err: inner})
	if !errors.Is(err, inner) {
		t.Fatal("expected wrapped error to be reachable")
	}
	if err.Error() != "invalid document: failed to validate/optimize PDF: xref table corrupt" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
