package guidelines

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/tutorkit/primer/internal/blob"
)

func newTestStore(t *testing.T, snapshots bool) (*Store, *blob.MemStore) {
	t.Helper()
	mem := blob.NewMemStore()
	return NewStore(StoreConfig{
		Blob:      mem,
		Logger:    slog.Default(),
		Snapshots: snapshots,
	}), mem
}

func TestShardVersionStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, false)

	sh := NewShard("cells", "Cells", "plant-cells", "Plant Cells", 3, "v1 text")

	var last int
	for i := 0; i < 4; i++ {
		if err := store.SaveShard(ctx, "b1", sh); err != nil {
			t.Fatalf("SaveShard #%d: %v", i, err)
		}
		if sh.Version <= last {
			t.Fatalf("version not strictly increasing: %d then %d", last, sh.Version)
		}
		last = sh.Version
	}
	if last != 4 {
		t.Errorf("version after 4 saves = %d, want 4", last)
	}

	loaded, err := store.LoadShard(ctx, "b1", "cells", "plant-cells")
	if err != nil {
		t.Fatalf("LoadShard: %v", err)
	}
	if loaded.Version != 4 {
		t.Errorf("persisted version = %d, want 4", loaded.Version)
	}
}

func TestSaveShardRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, false)

	bad := &Shard{TopicKey: "t", SubtopicKey: "s", SourcePageStart: 5, SourcePageEnd: 2}
	if err := store.SaveShard(ctx, "b1", bad); err == nil {
		t.Error("SaveShard accepted a shard with an inverted range")
	}
	if bad.Version != 0 {
		t.Errorf("failed save mutated version to %d", bad.Version)
	}
}

func TestDeleteShardThenLoadNotFound(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, false)

	sh := NewShard("cells", "Cells", "plant-cells", "Plant Cells", 3, "g")
	if err := store.SaveShard(ctx, "b1", sh); err != nil {
		t.Fatalf("SaveShard: %v", err)
	}
	if err := store.DeleteShard(ctx, "b1", "cells", "plant-cells"); err != nil {
		t.Fatalf("DeleteShard: %v", err)
	}
	if _, err := store.LoadShard(ctx, "b1", "cells", "plant-cells"); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("LoadShard after delete: err = %v, want ErrNotFound", err)
	}
}

func TestIndexSaveBumpsVersion(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, false)

	idx := NewIndex("b1")
	idx.Upsert(NewShard("cells", "Cells", "plant-cells", "Plant Cells", 1, "g"), StatusOpen)

	if err := store.SaveIndex(ctx, idx); err != nil {
		t.Fatalf("SaveIndex: %v", err)
	}
	if idx.Version != 1 {
		t.Errorf("version after first save = %d, want 1", idx.Version)
	}
	if err := store.SaveIndex(ctx, idx); err != nil {
		t.Fatalf("SaveIndex: %v", err)
	}

	loaded, err := store.LoadIndex(ctx, "b1")
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if loaded.Version != 2 {
		t.Errorf("persisted version = %d, want 2", loaded.Version)
	}
	if loaded.LastUpdated.IsZero() {
		t.Error("last_updated not stamped")
	}
}

func TestSaveIndexWritesSnapshotOfOutgoingVersion(t *testing.T) {
	ctx := context.Background()
	store, mem := newTestStore(t, true)

	idx := NewIndex("b1")
	if err := store.SaveIndex(ctx, idx); err != nil { // v1, no prior doc → no snapshot
		t.Fatalf("SaveIndex: %v", err)
	}
	if err := store.SaveIndex(ctx, idx); err != nil { // v2, snapshots v1
		t.Fatalf("SaveIndex: %v", err)
	}

	ok, err := mem.Exists(ctx, blob.IndexSnapshotKey("b1", 1))
	if err != nil || !ok {
		t.Errorf("snapshot of v1 missing (ok=%v err=%v)", ok, err)
	}
	if ok, _ := mem.Exists(ctx, blob.IndexSnapshotKey("b1", 2)); ok {
		t.Error("snapshot of the incoming version written; only outgoing versions expected")
	}
}

func TestSnapshotsDisabled(t *testing.T) {
	ctx := context.Background()
	store, mem := newTestStore(t, false)

	idx := NewIndex("b1")
	for i := 0; i < 3; i++ {
		if err := store.SaveIndex(ctx, idx); err != nil {
			t.Fatalf("SaveIndex: %v", err)
		}
	}

	keys, err := mem.List(ctx, "books/b1/guidelines/snapshots/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("snapshots written while disabled: %v", keys)
	}
}

func TestLoadOrCreateIndex(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, false)

	idx, err := store.LoadOrCreateIndex(ctx, "fresh-book")
	if err != nil {
		t.Fatalf("LoadOrCreateIndex: %v", err)
	}
	if idx.BookID != "fresh-book" || len(idx.Topics) != 0 || idx.Version != 0 {
		t.Errorf("fresh index = %+v", idx)
	}

	if _, err := store.LoadIndex(ctx, "fresh-book"); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("LoadIndex on fresh book: err = %v, want ErrNotFound", err)
	}
}

func TestPageGuidelineRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, false)

	pg := &PageGuideline{Page: 7, Summary: "Plants convert light to chemical energy.", TopicKey: "cells"}
	if err := store.SavePageGuideline(ctx, "b1", pg); err != nil {
		t.Fatalf("SavePageGuideline: %v", err)
	}

	loaded, err := store.LoadPageGuideline(ctx, "b1", 7)
	if err != nil {
		t.Fatalf("LoadPageGuideline: %v", err)
	}
	if loaded.Summary != pg.Summary || loaded.Page != 7 {
		t.Errorf("round trip = %+v", loaded)
	}

	if _, err := store.LoadPageGuideline(ctx, "b1", 99); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("missing page guideline: err = %v, want ErrNotFound", err)
	}
}
