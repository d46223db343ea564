package blob

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	return map[string]Store{
		"fs":  fsStore,
		"mem": NewMemStore(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			key := "books/b1/pages/001.ocr.txt"
			if err := store.UploadBytes(ctx, key, []byte("page text"), "text/plain"); err != nil {
				t.Fatalf("UploadBytes: %v", err)
			}

			data, err := store.DownloadBytes(ctx, key)
			if err != nil {
				t.Fatalf("DownloadBytes: %v", err)
			}
			if string(data) != "page text" {
				t.Errorf("got %q, want %q", data, "page text")
			}

			ok, err := store.Exists(ctx, key)
			if err != nil || !ok {
				t.Errorf("Exists = %v, %v; want true, nil", ok, err)
			}
		})
	}
}

func TestStoreJSON(t *testing.T) {
	ctx := context.Background()

	type doc struct {
		Name  string `json:"name"`
		Pages int    `json:"pages"`
	}

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			in := doc{Name: "biology", Pages: 214}
			if err := store.UploadJSON(ctx, "books/b1/metadata.json", in); err != nil {
				t.Fatalf("UploadJSON: %v", err)
			}

			var out doc
			if err := store.DownloadJSON(ctx, "books/b1/metadata.json", &out); err != nil {
				t.Fatalf("DownloadJSON: %v", err)
			}
			if out != in {
				t.Errorf("round trip: got %+v, want %+v", out, in)
			}
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	ctx := context.Background()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.DownloadBytes(ctx, "books/none/missing.json"); !errors.Is(err, ErrNotFound) {
				t.Errorf("DownloadBytes missing key: err = %v, want ErrNotFound", err)
			}

			var v map[string]any
			if err := store.DownloadJSON(ctx, "books/none/missing.json", &v); !errors.Is(err, ErrNotFound) {
				t.Errorf("DownloadJSON missing key: err = %v, want ErrNotFound", err)
			}

			ok, err := store.Exists(ctx, "books/none/missing.json")
			if err != nil || ok {
				t.Errorf("Exists missing key = %v, %v; want false, nil", ok, err)
			}

			if _, err := store.PresignGet(ctx, "books/none/missing.json", time.Minute); !errors.Is(err, ErrNotFound) {
				t.Errorf("PresignGet missing key: err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreDeleteIdempotent(t *testing.T) {
	ctx := context.Background()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			key := "books/b1/raw/1.png"
			if err := store.UploadBytes(ctx, key, []byte{0x89, 'P', 'N', 'G'}, "image/png"); err != nil {
				t.Fatalf("UploadBytes: %v", err)
			}
			if err := store.Delete(ctx, key); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := store.DownloadBytes(ctx, key); !errors.Is(err, ErrNotFound) {
				t.Errorf("after delete: err = %v, want ErrNotFound", err)
			}
			// Second delete of the same key must not error.
			if err := store.Delete(ctx, key); err != nil {
				t.Errorf("Delete missing key: %v", err)
			}
		})
	}
}

func TestStoreList(t *testing.T) {
	ctx := context.Background()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			keys := []string{
				"books/b1/guidelines/topics/cells/subtopics/plant-cells.latest.json",
				"books/b1/guidelines/topics/cells/subtopics/animal-cells.latest.json",
				"books/b1/guidelines/index.json",
				"books/b2/guidelines/topics/light/subtopics/reflection.latest.json",
			}
			for _, k := range keys {
				if err := store.UploadJSON(ctx, k, map[string]string{"key": k}); err != nil {
					t.Fatalf("UploadJSON(%s): %v", k, err)
				}
			}

			got, err := store.List(ctx, TopicsPrefix("b1"))
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("List returned %d keys, want 2: %v", len(got), got)
			}
			for _, k := range got {
				if !strings.HasPrefix(k, "books/b1/guidelines/topics/") {
					t.Errorf("unexpected key %q", k)
				}
			}

			empty, err := store.List(ctx, TopicsPrefix("b3"))
			if err != nil {
				t.Fatalf("List empty prefix: %v", err)
			}
			if len(empty) != 0 {
				t.Errorf("List of absent prefix returned %v", empty)
			}
		})
	}
}

func TestFSStoreOverwriteIsAtomicRename(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	key := "books/b1/guidelines/index.json"
	for i := 0; i < 3; i++ {
		if err := store.UploadBytes(ctx, key, []byte{byte('a' + i)}, ""); err != nil {
			t.Fatalf("UploadBytes #%d: %v", i, err)
		}
	}

	data, err := store.DownloadBytes(ctx, key)
	if err != nil {
		t.Fatalf("DownloadBytes: %v", err)
	}
	if string(data) != "c" {
		t.Errorf("final content = %q, want %q", data, "c")
	}

	// No temp files may survive an upload.
	leftovers, err := store.List(ctx, "books/b1/guidelines/.upload-")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestFSStorePresignGet(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	key := "books/b1/pages/001.png"
	if err := store.UploadBytes(ctx, key, []byte("png"), "image/png"); err != nil {
		t.Fatalf("UploadBytes: %v", err)
	}

	url, err := store.PresignGet(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("PresignGet: %v", err)
	}
	if !strings.HasPrefix(url, "file://") || !strings.HasSuffix(url, "books/b1/pages/001.png") {
		t.Errorf("unexpected presigned URL %q", url)
	}
}
