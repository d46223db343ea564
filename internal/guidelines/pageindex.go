package guidelines

import (
	"strconv"
	"time"
)

// PageAssignment maps one page to the subtopic it contributed to.
type PageAssignment struct {
	TopicKey    string  `json:"topic_key"`
	SubtopicKey string  `json:"subtopic_key"`
	Confidence  float64 `json:"confidence"`
	Provisional bool    `json:"provisional"`
}

// PageIndex is the per-book page → subtopic map. It feeds finalization and
// reporting; page processing never reads it.
type PageIndex struct {
	BookID      string                    `json:"book_id"`
	Version     int                       `json:"version"`
	LastUpdated time.Time                 `json:"last_updated"`
	Pages       map[string]PageAssignment `json:"pages"`
}

// NewPageIndex creates an empty page index for a book.
func NewPageIndex(bookID string) *PageIndex {
	return &PageIndex{BookID: bookID, Pages: make(map[string]PageAssignment)}
}

// Set records the assignment for a page.
func (p *PageIndex) Set(pageNum int, a PageAssignment) {
	if p.Pages == nil {
		p.Pages = make(map[string]PageAssignment)
	}
	p.Pages[strconv.Itoa(pageNum)] = a
}

// Get returns the assignment for a page, if any.
func (p *PageIndex) Get(pageNum int) (PageAssignment, bool) {
	a, ok := p.Pages[strconv.Itoa(pageNum)]
	return a, ok
}

// Remap rewrites every assignment pointing at (oldTopic, oldSub) to point at
// (newTopic, newSub). Used when finalization renames or merges shards.
// Returns the number of pages remapped.
func (p *PageIndex) Remap(oldTopic, oldSub, newTopic, newSub string) int {
	n := 0
	for k, a := range p.Pages {
		if a.TopicKey == oldTopic && a.SubtopicKey == oldSub {
			a.TopicKey = newTopic
			a.SubtopicKey = newSub
			p.Pages[k] = a
			n++
		}
	}
	return n
}
