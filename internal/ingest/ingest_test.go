package ingest

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"testing"
)

func TestPageCountInvalidPDF(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(tmp, []byte("not a pdf at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := PageCount(tmp); err == nil {
		t.Error("expected error for malformed PDF")
	}

	if _, err := PageCount(filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSplitPDF(t *testing.T) {
	// Use the test fixture
	testPDF := filepath.Join("..", "..", "testdata", "test-book.pdf")
	if _, err := os.Stat(testPDF); os.IsNotExist(err) {
		t.Skip("test fixture not found")
	}
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		t.Skip("pdftoppm not installed")
	}

	var pages []int
	count, err := SplitPDF(context.Background(), testPDF, 3, func(pageNum int, png []byte) error {
		if len(png) == 0 {
			t.Errorf("page %d: empty PNG", pageNum)
		}
		pages = append(pages, pageNum)
		return nil
	})
	if err != nil {
		t.Fatalf("SplitPDF failed: %v", err)
	}
	if count != len(pages) {
		t.Fatalf("count = %d but emit was called %d times", count, len(pages))
	}

	// Page numbers must cover startPage..startPage+count-1 exactly once.
	sort.Ints(pages)
	for i, p := range pages {
		if want := 3 + i; p != want {
			t.Errorf("page number at %d = %d, want %d", i, p, want)
		}
	}
}
