// Package books holds the per-book metadata document stored at
// books/{book_id}/metadata.json. The book fields are reference data owned by
// the calling system; the core only reads them to condition prompts. The
// pages map is owned by the OCR worker and is the source of truth for each
// page's artifact keys and OCR outcome.
package books

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/tutorkit/primer/internal/blob"
)

// OCRStatus tracks the OCR outcome for one page.
type OCRStatus string

const (
	OCRPending   OCRStatus = "pending"
	OCRCompleted OCRStatus = "completed"
	OCRFailed    OCRStatus = "failed"
)

// Page statuses.
const (
	PageUploaded  = "uploaded"
	PageProcessed = "processed"
)

// Book is read-only reference data used to condition LLM prompts.
type Book struct {
	BookID     string `json:"book_id"`
	Title      string `json:"title,omitempty"`
	Grade      string `json:"grade,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Board      string `json:"board,omitempty"`
	Country    string `json:"country,omitempty"`
	TotalPages int    `json:"total_pages"`
}

// PageMeta records the artifact keys and OCR state for one page.
type PageMeta struct {
	RawImageKey string    `json:"raw_image_key,omitempty"`
	ImageKey    string    `json:"image_key,omitempty"`
	TextKey     string    `json:"text_key,omitempty"`
	Status      string    `json:"status,omitempty"`
	OCRStatus   OCRStatus `json:"ocr_status"`
	OCRError    string    `json:"ocr_error,omitempty"`
}

// Metadata is the single JSON document per book. Page numbers are encoded as
// decimal string keys for JSON stability.
type Metadata struct {
	Book      Book                `json:"book"`
	Pages     map[string]PageMeta `json:"pages"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// NewMetadata creates an empty document for a book.
func NewMetadata(book Book) *Metadata {
	return &Metadata{
		Book:  book,
		Pages: make(map[string]PageMeta),
	}
}

// Page returns the metadata for a page number, if present.
func (m *Metadata) Page(pageNum int) (PageMeta, bool) {
	p, ok := m.Pages[strconv.Itoa(pageNum)]
	return p, ok
}

// SetPage stores the metadata for a page number.
func (m *Metadata) SetPage(pageNum int, p PageMeta) {
	if m.Pages == nil {
		m.Pages = make(map[string]PageMeta)
	}
	m.Pages[strconv.Itoa(pageNum)] = p
}

// PageNumbers returns all page numbers present in the document, ascending.
func (m *Metadata) PageNumbers() []int {
	nums := make([]int, 0, len(m.Pages))
	for k := range m.Pages {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// Load reads a book's metadata document. Returns blob.ErrNotFound (wrapped)
// if the book has no document yet.
func Load(ctx context.Context, store blob.Store, bookID string) (*Metadata, error) {
	var m Metadata
	if err := store.DownloadJSON(ctx, blob.MetadataKey(bookID), &m); err != nil {
		return nil, fmt.Errorf("failed to load metadata for book %s: %w", bookID, err)
	}
	if m.Pages == nil {
		m.Pages = make(map[string]PageMeta)
	}
	return &m, nil
}

// Save overwrites the book's metadata document and stamps updated_at. The
// overwrite is whole-document; the job lock guarantees a single writer.
func (m *Metadata) Save(ctx context.Context, store blob.Store) error {
	m.UpdatedAt = time.Now().UTC()
	if err := store.UploadJSON(ctx, blob.MetadataKey(m.Book.BookID), m); err != nil {
		return fmt.Errorf("failed to save metadata for book %s: %w", m.Book.BookID, err)
	}
	return nil
}
