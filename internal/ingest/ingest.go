// Package ingest splits an uploaded PDF into per-page raw images for the
// bulk OCR pipeline. Pages are rendered with pdftoppm (poppler-utils) and
// handed to the caller as PNG bytes keyed by page number.
package ingest

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"
)

// PageCount validates the PDF at path and returns its page count.
// An unreadable or malformed PDF returns an error, so this doubles as
// upload validation before any job is acquired.
func PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	count, err := api.PageCount(f, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if count == 0 {
		return 0, fmt.Errorf("PDF contains no pages")
	}
	return count, nil
}

// SplitPDF renders every page of the PDF at path to a 300 DPI PNG and calls
// emit once per page. Pages are rendered concurrently (bounded by CPU count)
// but emit is serialized, so callers need no locking of their own. Page
// numbers passed to emit start at startPage and follow PDF page order,
// though emit calls themselves arrive in arbitrary order.
// Returns the number of pages rendered.
func SplitPDF(ctx context.Context, path string, startPage int, emit func(pageNum int, png []byte) error) (int, error) {
	pageCount, err := PageCount(path)
	if err != nil {
		return 0, err
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for page := 1; page <= pageCount; page++ {
		pageInPDF := page
		g.Go(func() error {
			data, err := renderPage(ctx, path, pageInPDF)
			if err != nil {
				return fmt.Errorf("failed to render page %d: %w", pageInPDF, err)
			}

			mu.Lock()
			defer mu.Unlock()
			return emit(startPage+pageInPDF-1, data)
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return pageCount, nil
}

// renderPage renders a single page from a PDF using pdftoppm (poppler-utils).
// pdftoppm rasterizes the full page, unlike pdfcpu's image extraction which
// pulls embedded image objects whose internal numbering may not match page
// order.
func renderPage(ctx context.Context, pdfPath string, pageInPDF int) ([]byte, error) {
	// Create temp directory for output
	tmpDir, err := os.MkdirTemp("", "primer-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	// Output prefix for pdftoppm
	outputPrefix := filepath.Join(tmpDir, "page")

	// Run pdftoppm to render the page
	// -png: output PNG format
	// -f N: first page to render
	// -l N: last page to render
	// -r 300: resolution in DPI
	// -singlefile: don't add page number suffix
	pageStr := fmt.Sprintf("%d", pageInPDF)
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", "300",
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	// pdftoppm with -singlefile creates: <prefix>.png
	srcPath := outputPrefix + ".png"
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	return data, nil
}
