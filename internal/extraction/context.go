package extraction

import (
	"context"
	"errors"

	"github.com/tutorkit/primer/internal/blob"
	"github.com/tutorkit/primer/internal/books"
	"github.com/tutorkit/primer/internal/guidelines"
)

// ContextPack is the compact context handed to boundary detection: where the
// book is, what was recently read, and which subtopics are still open.
type ContextPack struct {
	Book            books.Book
	PageNum         int
	RecentSummaries []RecentSummary
	OpenSubtopics   []SubtopicContext
	CurrentChapter  string
	FirstPage       bool
}

// RecentSummary is one trailing page's minisummary.
type RecentSummary struct {
	Page    int
	Summary string
}

// SubtopicContext is an open subtopic as boundary detection sees it.
type SubtopicContext struct {
	TopicKey      string
	TopicTitle    string
	SubtopicKey   string
	SubtopicTitle string
	PageRange     guidelines.PageRange
	Preview       string
}

// buildContextPack assembles the boundary-detection context for pageNum:
// the last recentPages minisummaries (missing ones skipped), every open or
// stable subtopic with a guidelines preview, and the last topic as the
// current-chapter hint.
func (o *Orchestrator) buildContextPack(ctx context.Context, st *runState, pageNum int) *ContextPack {
	pack := &ContextPack{
		Book:    st.book,
		PageNum: pageNum,
	}

	first := pageNum - o.recentPages
	if first < 1 {
		first = 1
	}
	for p := first; p < pageNum; p++ {
		pg, err := o.guidelines.LoadPageGuideline(ctx, st.book.BookID, p)
		if err != nil {
			if !errors.Is(err, blob.ErrNotFound) {
				o.logger.Warn("page guideline read failed", "page", p, "error", err)
			}
			continue
		}
		pack.RecentSummaries = append(pack.RecentSummaries, RecentSummary{
			Page:    pg.Page,
			Summary: pg.Summary,
		})
	}

	for _, as := range st.idx.ActiveSubtopics() {
		sc := SubtopicContext{
			TopicKey:      as.Topic.TopicKey,
			TopicTitle:    as.Topic.TopicTitle,
			SubtopicKey:   as.Subtopic.SubtopicKey,
			SubtopicTitle: as.Subtopic.SubtopicTitle,
			PageRange:     as.Subtopic.PageRange,
		}
		sh, err := o.shard(ctx, st, sc.TopicKey, sc.SubtopicKey)
		if err != nil {
			// The entry still goes in without a preview; boundary
			// detection can continue into it and the create path
			// recovers the shard.
			o.logger.Warn("shard read failed for context pack",
				"topic", sc.TopicKey, "subtopic", sc.SubtopicKey, "error", err)
		} else {
			sc.Preview = truncateRunes(sh.Guidelines, o.previewChars)
		}
		pack.OpenSubtopics = append(pack.OpenSubtopics, sc)
	}

	if t := st.idx.LastTopic(); t != nil {
		pack.CurrentChapter = t.TopicTitle
	}

	pack.FirstPage = len(pack.OpenSubtopics) == 0 && len(pack.RecentSummaries) == 0
	return pack
}

// truncateRunes cuts s to at most n runes without splitting a code point.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
