package compiler

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/Lllllllleong/documenttranslator/internal/models"
)

func translated(index int, text string) *models.Page {
	return &models.Page{Index: index, Translation: &text, StageState: models.StageTranslated}
}

func pagesOf(n int) []*models.Page {
	pages := make([]*models.Page, n)
	for i := range pages {
		pages[i] = translated(i, fmt.Sprintf("# Page %d\n\ncontent %d", i+1, i))
	}
	return pages
}

func TestDelimiterCount(t *testing.T) {
	for n := 0; n <= 12; n++ {
		doc, err := Compile(pagesOf(n), PolicyFail)
		if err != nil {
			t.Fatalf("Compile(%d pages): %v", n, err)
		}
		want := n - 1
		if n <= 1 {
			want = 0
		}
		if got := strings.Count(doc.Content, PageDelimiter); got != want {
			t.Errorf("%d pages: %d delimiters, want %d", n, got, want)
		}
	}
}

func TestCompileIsIdempotent(t *testing.T) {
	pages := pagesOf(5)
	first, err := Compile(pages, PolicyFail)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	second, err := Compile(pages, PolicyFail)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if first.Content != second.Content {
		t.Fatal("compiling the same input twice produced different output")
	}
}

func TestCompileIgnoresInputOrder(t *testing.T) {
	pages := pagesOf(9)
	want, err := Compile(pages, PolicyFail)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]*models.Page(nil), pages...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got, err := Compile(shuffled, PolicyFail)
		if err != nil {
			t.Fatalf("Compile: %v", err)
		}
		if got.Content != want.Content {
			t.Fatalf("shuffled input compiled differently:\n%s\nvs\n%s", got.Content, want.Content)
		}
	}
	for i, p := range pages {
		if p.Index != i {
			t.Fatal("Compile reordered its input slice")
		}
	}
}

func TestMissingTranslation(t *testing.T) {
	pages := pagesOf(3)
	pages[1] = &models.Page{Index: 1, StageState: models.StageFailed}

	_, err := Compile(pages, PolicyFail)
	if !errors.Is(err, ErrMissingTranslation) {
		t.Fatalf("err = %v, want ErrMissingTranslation", err)
	}

	doc, err := Compile(pages, PolicyWarn)
	if err != nil {
		t.Fatalf("Compile warn: %v", err)
	}
	if len(doc.Gaps) != 1 || doc.Gaps[0] != 1 {
		t.Errorf("gaps = %v, want [1]", doc.Gaps)
	}
	if !strings.Contains(doc.Content, GapMarker(2)) {
		t.Errorf("output missing gap marker for page 2:\n%s", doc.Content)
	}
	if got := strings.Count(doc.Content, PageDelimiter); got != 2 {
		t.Errorf("delimiters = %d, want 2", got)
	}
}

func TestBlankPageCompilesEmpty(t *testing.T) {
	doc, err := Compile([]*models.Page{translated(0, "a"), translated(1, ""), translated(2, "c")}, PolicyFail)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if want := "a" + PageDelimiter + PageDelimiter + "c"; doc.Content != want {
		t.Errorf("content = %q, want %q", doc.Content, want)
	}
}

func TestDuplicateIndex(t *testing.T) {
	if _, err := Compile([]*models.Page{translated(0, "a"), translated(0, "b")}, PolicyFail); err == nil {
		t.Fatal("expected error for duplicate page index")
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("warn"); err != nil || p != PolicyWarn {
		t.Errorf("ParsePolicy(warn) = (%q, %v)", p, err)
	}
	if _, err := ParsePolicy("partial"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
