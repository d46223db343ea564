package blob

import (
	"fmt"
	"strings"
)

// Canonical key layout for a book's prefix:
//
//	books/{book_id}/
//	    metadata.json
//	    raw/{page_num}.{ext}
//	    pages/{page_num:03d}.png
//	    pages/{page_num:03d}.ocr.txt
//	    pages/{page_num:03d}.page_guideline.json
//	    guidelines/
//	        index.json
//	        page_index.json
//	        topics/{topic_key}/subtopics/{subtopic_key}.latest.json
//	        snapshots/index.v{N}.json
//	        snapshots/page_index.v{N}.json

// BookPrefix is the root of everything stored for one book.
func BookPrefix(bookID string) string {
	return fmt.Sprintf("books/%s/", bookID)
}

// MetadataKey locates the book's page-metadata document.
func MetadataKey(bookID string) string {
	return fmt.Sprintf("books/%s/metadata.json", bookID)
}

// RawPageKey locates a page image exactly as uploaded. ext carries no dot.
func RawPageKey(bookID string, pageNum int, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("books/%s/raw/%d.%s", bookID, pageNum, ext)
}

// PageImageKey locates the canonical normalized PNG for a page.
func PageImageKey(bookID string, pageNum int) string {
	return fmt.Sprintf("books/%s/pages/%03d.png", bookID, pageNum)
}

// PageTextKey locates the OCR text for a page.
func PageTextKey(bookID string, pageNum int) string {
	return fmt.Sprintf("books/%s/pages/%03d.ocr.txt", bookID, pageNum)
}

// AltPageTextKey is the pre-canonicalization OCR text path. Readers fall back
// to it once when the canonical key is missing; nothing writes it anymore.
func AltPageTextKey(bookID string, pageNum int) string {
	return fmt.Sprintf("books/%s/pages/%d.txt", bookID, pageNum)
}

// PageGuidelineKey locates the per-page minisummary document.
func PageGuidelineKey(bookID string, pageNum int) string {
	return fmt.Sprintf("books/%s/pages/%03d.page_guideline.json", bookID, pageNum)
}

// GuidelinesIndexKey locates the per-book guidelines index.
func GuidelinesIndexKey(bookID string) string {
	return fmt.Sprintf("books/%s/guidelines/index.json", bookID)
}

// PageIndexKey locates the page → subtopic map.
func PageIndexKey(bookID string) string {
	return fmt.Sprintf("books/%s/guidelines/page_index.json", bookID)
}

// ShardKey locates the consolidated guidelines for one (topic, subtopic).
// Each save overwrites this path; shards are not versioned by key.
func ShardKey(bookID, topicKey, subtopicKey string) string {
	return fmt.Sprintf("books/%s/guidelines/topics/%s/subtopics/%s.latest.json",
		bookID, topicKey, subtopicKey)
}

// TopicsPrefix is the prefix under which all shard keys for a book live.
func TopicsPrefix(bookID string) string {
	return fmt.Sprintf("books/%s/guidelines/topics/", bookID)
}

// IndexSnapshotKey locates a best-effort snapshot of an outgoing index version.
func IndexSnapshotKey(bookID string, version int) string {
	return fmt.Sprintf("books/%s/guidelines/snapshots/index.v%d.json", bookID, version)
}

// PageIndexSnapshotKey locates a snapshot of an outgoing page-index version.
func PageIndexSnapshotKey(bookID string, version int) string {
	return fmt.Sprintf("books/%s/guidelines/snapshots/page_index.v%d.json", bookID, version)
}
