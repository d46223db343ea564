package extraction

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/tutorkit/primer/internal/books"
)

const minisummarySystem = `You summarize textbook pages for a teaching-content pipeline.
Produce a 5-6 line extractive, factual summary of the page (at most ~150 words).
Capture the concepts taught, definitions, worked examples, and exercises.
Do not editorialize and do not mention the page or the book itself.`

const minisummaryUserTmpl = `Book: {{.BookLine}}
Page {{.PageNum}} text:

{{.PageText}}

Summarize this page.`

const boundarySystem = `You read a textbook strictly page by page and maintain teaching guidelines
organized as topics and subtopics.

For each page decide whether it continues one of the OPEN SUBTOPICS listed in
the context, or opens a new topic/subtopic. Prefer continuation when the page
clearly extends material an open subtopic already covers; open a new subtopic
when the page introduces a distinct concept, and a new topic when the book
moves to a new chapter-level theme.

When continuing, topic_name and subtopic_name must repeat the open subtopic's
titles exactly. When opening, coin concise descriptive names a teacher would
recognize.

Also extract page_guidelines: concrete teaching guidance derived from this
page alone (key points to teach, definitions, examples to use, common
pitfalls). Write guidance, not a summary.`

const boundaryUserTmpl = `{{.BookLine}}
{{- if .CurrentChapter}}
Current chapter: {{.CurrentChapter}}
{{- end}}
{{- if .FirstPage}}

This is the first processed page of the book. There are no open subtopics;
open a new topic and subtopic for it.
{{- else}}

Recent pages:
{{- range .RecentSummaries}}
- Page {{.Page}}: {{.Summary}}
{{- end}}

Open subtopics:
{{- range .OpenSubtopics}}
- {{.TopicTitle}} / {{.SubtopicTitle}} (pages {{.PageRange.Start}}-{{.PageRange.End}}): {{.Preview}}
{{- end}}
{{- end}}

Page {{.PageNum}} full text:

{{.PageText}}`

const mergeSystem = `You maintain the consolidated teaching guidelines of one textbook subtopic.
Merge the new page guidance into the existing guidelines: integrate new
points where they belong, keep everything still valid, drop exact
repetition, and preserve the existing structure and tone. Return only the
merged guidelines.`

const mergeUserTmpl = `Topic: {{.TopicTitle}}
Subtopic: {{.SubtopicTitle}}

Existing guidelines:

{{.Existing}}

New guidance from the latest page:

{{.Incoming}}`

const subtopicSummarySystem = `You write one-line index summaries of teaching guidelines. Reply with a
single sentence of 15-30 words and nothing else.`

const subtopicSummaryUserTmpl = `Subtopic: {{.Title}}

Guidelines:

{{.Guidelines}}

Summarize these guidelines in one line.`

const topicSummarySystem = `You write short topic-level overviews from subtopic summaries. Reply with
20-40 words and nothing else.`

const topicSummaryUserTmpl = `Topic: {{.Title}}

Subtopic summaries:
{{- range .Summaries}}
- {{.}}
{{- end}}

Summarize what this topic teaches.`

var (
	minisummaryUserTemplate     = template.Must(template.New("minisummary").Parse(minisummaryUserTmpl))
	boundaryUserTemplate        = template.Must(template.New("boundary").Parse(boundaryUserTmpl))
	mergeUserTemplate           = template.Must(template.New("merge").Parse(mergeUserTmpl))
	subtopicSummaryUserTemplate = template.Must(template.New("subtopic_summary").Parse(subtopicSummaryUserTmpl))
	topicSummaryUserTemplate    = template.Must(template.New("topic_summary").Parse(topicSummaryUserTmpl))
)

// BookLine renders the book reference fields the prompts condition on.
// Finalization prompts reuse it.
func BookLine(b books.Book) string {
	parts := make([]string, 0, 5)
	if b.Title != "" {
		parts = append(parts, b.Title)
	}
	if b.Grade != "" {
		parts = append(parts, "grade "+b.Grade)
	}
	if b.Subject != "" {
		parts = append(parts, b.Subject)
	}
	if b.Board != "" {
		parts = append(parts, b.Board)
	}
	if b.Country != "" {
		parts = append(parts, b.Country)
	}
	if len(parts) == 0 {
		return "Book: " + b.BookID
	}
	return "Book: " + strings.Join(parts, ", ")
}

func render(tmpl *template.Template, raw string, data any) string {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		// Fallback to raw template on error
		return raw
	}
	return buf.String()
}

func renderMinisummaryUser(book books.Book, pageNum int, pageText string) string {
	data := struct {
		BookLine string
		PageNum  int
		PageText string
	}{BookLine(book), pageNum, pageText}
	return render(minisummaryUserTemplate, minisummaryUserTmpl, data)
}

func renderBoundaryUser(pack *ContextPack, pageText string) string {
	data := struct {
		*ContextPack
		BookLine string
		PageText string
	}{pack, BookLine(pack.Book), pageText}
	return render(boundaryUserTemplate, boundaryUserTmpl, data)
}

func renderMergeUser(in MergeInput) string {
	return render(mergeUserTemplate, mergeUserTmpl, in)
}

func renderSubtopicSummaryUser(title, guidelinesText string) string {
	data := struct {
		Title      string
		Guidelines string
	}{title, guidelinesText}
	return render(subtopicSummaryUserTemplate, subtopicSummaryUserTmpl, data)
}

func renderTopicSummaryUser(title string, summaries []string) string {
	data := struct {
		Title     string
		Summaries []string
	}{title, summaries}
	return render(topicSummaryUserTemplate, topicSummaryUserTmpl, data)
}
