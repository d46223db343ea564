package books

import (
	"context"
	"errors"
	"testing"

	"github.com/tutorkit/primer/internal/blob"
)

func TestMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemStore()

	m := NewMetadata(Book{
		BookID:     "b1",
		Grade:      "8",
		Subject:    "Science",
		Board:      "CBSE",
		Country:    "IN",
		TotalPages: 3,
	})
	m.SetPage(1, PageMeta{RawImageKey: "books/b1/raw/1.png", OCRStatus: OCRPending})
	m.SetPage(2, PageMeta{RawImageKey: "books/b1/raw/2.png", OCRStatus: OCRPending})

	if err := m.Save(ctx, store); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if m.UpdatedAt.IsZero() {
		t.Error("Save did not stamp UpdatedAt")
	}

	loaded, err := Load(ctx, store, "b1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Book.Subject != "Science" || loaded.Book.TotalPages != 3 {
		t.Errorf("book fields lost: %+v", loaded.Book)
	}

	p, ok := loaded.Page(2)
	if !ok {
		t.Fatal("page 2 missing after round trip")
	}
	if p.RawImageKey != "books/b1/raw/2.png" || p.OCRStatus != OCRPending {
		t.Errorf("page 2 = %+v", p)
	}
}

func TestLoadMissingBook(t *testing.T) {
	_, err := Load(context.Background(), blob.NewMemStore(), "nope")
	if !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("Load missing book: err = %v, want blob.ErrNotFound", err)
	}
}

func TestPageNumbersSorted(t *testing.T) {
	m := NewMetadata(Book{BookID: "b1"})
	for _, n := range []int{10, 2, 33, 1} {
		m.SetPage(n, PageMeta{OCRStatus: OCRPending})
	}

	got := m.PageNumbers()
	want := []int{1, 2, 10, 33}
	if len(got) != len(want) {
		t.Fatalf("PageNumbers = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("PageNumbers = %v, want %v", got, want)
		}
	}
}

func TestSetPageOnNilMap(t *testing.T) {
	var m Metadata
	m.SetPage(1, PageMeta{OCRStatus: OCRCompleted})
	if p, ok := m.Page(1); !ok || p.OCRStatus != OCRCompleted {
		t.Errorf("Page(1) = %+v, %v", p, ok)
	}
}
