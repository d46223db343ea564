package blob

import "testing"

func TestKeyLayout(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"metadata", MetadataKey("b1"), "books/b1/metadata.json"},
		{"raw", RawPageKey("b1", 7, "jpg"), "books/b1/raw/7.jpg"},
		{"raw dotted ext", RawPageKey("b1", 7, ".jpg"), "books/b1/raw/7.jpg"},
		{"image padded", PageImageKey("b1", 7), "books/b1/pages/007.png"},
		{"image three digits", PageImageKey("b1", 123), "books/b1/pages/123.png"},
		{"text", PageTextKey("b1", 7), "books/b1/pages/007.ocr.txt"},
		{"alt text unpadded", AltPageTextKey("b1", 7), "books/b1/pages/7.txt"},
		{"page guideline", PageGuidelineKey("b1", 7), "books/b1/pages/007.page_guideline.json"},
		{"index", GuidelinesIndexKey("b1"), "books/b1/guidelines/index.json"},
		{"page index", PageIndexKey("b1"), "books/b1/guidelines/page_index.json"},
		{
			"shard",
			ShardKey("b1", "cells", "plant-cells"),
			"books/b1/guidelines/topics/cells/subtopics/plant-cells.latest.json",
		},
		{"topics prefix", TopicsPrefix("b1"), "books/b1/guidelines/topics/"},
		{"index snapshot", IndexSnapshotKey("b1", 4), "books/b1/guidelines/snapshots/index.v4.json"},
		{"page index snapshot", PageIndexSnapshotKey("b1", 4), "books/b1/guidelines/snapshots/page_index.v4.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
