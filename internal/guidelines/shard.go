// Package guidelines holds the documents the extraction pipeline builds:
// subtopic shards (the unit of guideline aggregation), the per-book
// guidelines index (the authoritative source of subtopic status), and the
// page index. All three live in the object store under the book's prefix.
package guidelines

import (
	"fmt"
	"time"
)

// Shard is the consolidated teaching guideline for one (topic, subtopic)
// pair. Shards carry no status; status lives on the index entry.
type Shard struct {
	TopicKey      string `json:"topic_key"`
	TopicTitle    string `json:"topic_title"`
	SubtopicKey   string `json:"subtopic_key"`
	SubtopicTitle string `json:"subtopic_title"`

	SourcePageStart int   `json:"source_page_start"`
	SourcePageEnd   int   `json:"source_page_end"`
	SourcePages     []int `json:"source_pages,omitempty"`

	Guidelines      string `json:"guidelines"`
	SubtopicSummary string `json:"subtopic_summary,omitempty"`

	// Version starts at 1 on first save and increments on every save.
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewShard creates an unsaved shard seeded from a single page.
func NewShard(topicKey, topicTitle, subtopicKey, subtopicTitle string, page int, guidelinesText string) *Shard {
	return &Shard{
		TopicKey:        topicKey,
		TopicTitle:      topicTitle,
		SubtopicKey:     subtopicKey,
		SubtopicTitle:   subtopicTitle,
		SourcePageStart: page,
		SourcePageEnd:   page,
		SourcePages:     []int{page},
		Guidelines:      guidelinesText,
	}
}

// AddPage records that page contributed to this shard, extending the
// bounding range. Pages need not be contiguous.
func (s *Shard) AddPage(page int) {
	for _, p := range s.SourcePages {
		if p == page {
			return
		}
	}
	s.SourcePages = append(s.SourcePages, page)
	if page < s.SourcePageStart || s.SourcePageStart == 0 {
		s.SourcePageStart = page
	}
	if page > s.SourcePageEnd {
		s.SourcePageEnd = page
	}
}

// UnionRange widens this shard's bounding range to cover other's. Used when
// deduplication folds one shard into another.
func (s *Shard) UnionRange(other *Shard) {
	if other.SourcePageStart < s.SourcePageStart && other.SourcePageStart > 0 {
		s.SourcePageStart = other.SourcePageStart
	}
	if other.SourcePageEnd > s.SourcePageEnd {
		s.SourcePageEnd = other.SourcePageEnd
	}
	for _, p := range other.SourcePages {
		s.AddPage(p)
	}
}

// PageRange returns the bounding range as an index PageRange.
func (s *Shard) PageRange() PageRange {
	return PageRange{Start: s.SourcePageStart, End: s.SourcePageEnd}
}

// Validate checks the shard's internal consistency.
func (s *Shard) Validate() error {
	if s.TopicKey == "" || s.SubtopicKey == "" {
		return fmt.Errorf("shard missing keys: topic=%q subtopic=%q", s.TopicKey, s.SubtopicKey)
	}
	if s.SourcePageStart > s.SourcePageEnd {
		return fmt.Errorf("shard %s/%s: page range inverted [%d, %d]",
			s.TopicKey, s.SubtopicKey, s.SourcePageStart, s.SourcePageEnd)
	}
	for _, p := range s.SourcePages {
		if p < s.SourcePageStart || p > s.SourcePageEnd {
			return fmt.Errorf("shard %s/%s: source page %d outside range [%d, %d]",
				s.TopicKey, s.SubtopicKey, p, s.SourcePageStart, s.SourcePageEnd)
		}
	}
	return nil
}
