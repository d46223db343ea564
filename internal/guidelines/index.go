package guidelines

import "time"

// Status is a subtopic lifecycle state, tracked on the index entry only.
type Status string

const (
	// StatusOpen marks a subtopic still receiving pages.
	StatusOpen Status = "open"
	// StatusStable marks a subtopic untouched for the stability window.
	StatusStable Status = "stable"
	// StatusFinal marks a subtopic sealed by finalization.
	StatusFinal Status = "final"
	// StatusNeedsReview marks a subtopic flagged for human attention.
	StatusNeedsReview Status = "needs_review"
)

// PageRange is a bounding range; member pages need not be dense.
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SubtopicEntry is the index's record of one shard.
type SubtopicEntry struct {
	SubtopicKey     string    `json:"subtopic_key"`
	SubtopicTitle   string    `json:"subtopic_title"`
	Status          Status    `json:"status"`
	PageRange       PageRange `json:"page_range"`
	SubtopicSummary string    `json:"subtopic_summary,omitempty"`
}

// TopicEntry groups the subtopics of one topic, in creation order.
type TopicEntry struct {
	TopicKey     string           `json:"topic_key"`
	TopicTitle   string           `json:"topic_title"`
	TopicSummary string           `json:"topic_summary,omitempty"`
	Subtopics    []*SubtopicEntry `json:"subtopics"`
}

// Index is the per-book guidelines index: the authoritative enumeration of
// topics and subtopics with their statuses and page ranges.
type Index struct {
	BookID      string        `json:"book_id"`
	Version     int           `json:"version"`
	LastUpdated time.Time     `json:"last_updated"`
	Topics      []*TopicEntry `json:"topics"`
}

// NewIndex creates an empty index for a book.
func NewIndex(bookID string) *Index {
	return &Index{BookID: bookID}
}

// Topic finds a topic entry by key.
func (idx *Index) Topic(topicKey string) (*TopicEntry, bool) {
	for _, t := range idx.Topics {
		if t.TopicKey == topicKey {
			return t, true
		}
	}
	return nil, false
}

// Subtopic finds a subtopic entry by keys.
func (idx *Index) Subtopic(topicKey, subtopicKey string) (*SubtopicEntry, bool) {
	t, ok := idx.Topic(topicKey)
	if !ok {
		return nil, false
	}
	for _, s := range t.Subtopics {
		if s.SubtopicKey == subtopicKey {
			return s, true
		}
	}
	return nil, false
}

// Upsert records a shard in the index: the topic and subtopic entries are
// created if missing, the page range is extended to cover the shard's, and
// titles, summary and status are refreshed.
func (idx *Index) Upsert(shard *Shard, status Status) {
	t, ok := idx.Topic(shard.TopicKey)
	if !ok {
		t = &TopicEntry{TopicKey: shard.TopicKey, TopicTitle: shard.TopicTitle}
		idx.Topics = append(idx.Topics, t)
	}
	if shard.TopicTitle != "" {
		t.TopicTitle = shard.TopicTitle
	}

	for _, s := range t.Subtopics {
		if s.SubtopicKey == shard.SubtopicKey {
			s.SubtopicTitle = shard.SubtopicTitle
			s.Status = status
			s.SubtopicSummary = shard.SubtopicSummary
			if shard.SourcePageStart < s.PageRange.Start || s.PageRange.Start == 0 {
				s.PageRange.Start = shard.SourcePageStart
			}
			if shard.SourcePageEnd > s.PageRange.End {
				s.PageRange.End = shard.SourcePageEnd
			}
			return
		}
	}

	t.Subtopics = append(t.Subtopics, &SubtopicEntry{
		SubtopicKey:     shard.SubtopicKey,
		SubtopicTitle:   shard.SubtopicTitle,
		Status:          status,
		PageRange:       shard.PageRange(),
		SubtopicSummary: shard.SubtopicSummary,
	})
}

// SetStatus updates one subtopic's status. Returns false if absent.
func (idx *Index) SetStatus(topicKey, subtopicKey string, status Status) bool {
	s, ok := idx.Subtopic(topicKey, subtopicKey)
	if !ok {
		return false
	}
	s.Status = status
	return true
}

// Remove deletes a subtopic entry; a topic left with no subtopics is removed
// as well. Returns false if the subtopic was absent.
func (idx *Index) Remove(topicKey, subtopicKey string) bool {
	t, ok := idx.Topic(topicKey)
	if !ok {
		return false
	}
	for i, s := range t.Subtopics {
		if s.SubtopicKey == subtopicKey {
			t.Subtopics = append(t.Subtopics[:i], t.Subtopics[i+1:]...)
			if len(t.Subtopics) == 0 {
				idx.removeTopic(topicKey)
			}
			return true
		}
	}
	return false
}

func (idx *Index) removeTopic(topicKey string) {
	for i, t := range idx.Topics {
		if t.TopicKey == topicKey {
			idx.Topics = append(idx.Topics[:i], idx.Topics[i+1:]...)
			return
		}
	}
}

// ActiveSubtopic pairs a subtopic entry with its owning topic.
type ActiveSubtopic struct {
	Topic    *TopicEntry
	Subtopic *SubtopicEntry
}

// ActiveSubtopics returns every subtopic whose status is open or stable, in
// index order. These are the continuation candidates for boundary detection.
func (idx *Index) ActiveSubtopics() []ActiveSubtopic {
	var out []ActiveSubtopic
	for _, t := range idx.Topics {
		for _, s := range t.Subtopics {
			if s.Status == StatusOpen || s.Status == StatusStable {
				out = append(out, ActiveSubtopic{Topic: t, Subtopic: s})
			}
		}
	}
	return out
}

// AllSubtopics returns every subtopic with its owning topic, in index order.
func (idx *Index) AllSubtopics() []ActiveSubtopic {
	var out []ActiveSubtopic
	for _, t := range idx.Topics {
		for _, s := range t.Subtopics {
			out = append(out, ActiveSubtopic{Topic: t, Subtopic: s})
		}
	}
	return out
}

// LastTopic returns the most recently added topic, used as the "current
// chapter" hint in the context pack. Nil on an empty index.
func (idx *Index) LastTopic() *TopicEntry {
	if len(idx.Topics) == 0 {
		return nil
	}
	return idx.Topics[len(idx.Topics)-1]
}

// SubtopicCount returns the total number of subtopics across topics.
func (idx *Index) SubtopicCount() int {
	n := 0
	for _, t := range idx.Topics {
		n += len(t.Subtopics)
	}
	return n
}
