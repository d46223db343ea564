package finalize

import (
	"bytes"
	"text/template"

	"github.com/tutorkit/primer/internal/guidelines"
)

const renameSystem = `You refine the names of consolidated textbook teaching guidelines.
Given a topic/subtopic pair and the guidelines text, propose final names a
teacher browsing the book's table of contents would expect: concise,
specific, textbook-register. Keep the current names when they are already
good. Keys are lowercase with hyphens.`

const renameUserTmpl = `{{.BookLine}}

Current topic: {{.TopicTitle}}
Current subtopic: {{.SubtopicTitle}} (pages {{.PageStart}}-{{.PageEnd}})

Guidelines:

{{.Guidelines}}

Propose the final topic and subtopic names.`

const dedupSystem = `You detect duplicate subtopics in a textbook's extracted teaching
guidelines. Two subtopics are duplicates only when they clearly cover the
same material; adjacent or related subtopics are not duplicates. Reference
subtopics by the keys shown in parentheses. The second member of each pair
will be merged into the first. Return an empty list when nothing is
duplicated.`

const dedupUserTmpl = `{{.BookLine}}

Subtopics:
{{- range .Entries}}
- {{.TopicTitle}} / {{.SubtopicTitle}} ({{.TopicKey}}/{{.SubtopicKey}}, pages {{.PageRange.Start}}-{{.PageRange.End}}): {{.Preview}}
{{- end}}

List the duplicate pairs.`

var (
	renameUserTemplate = template.Must(template.New("rename").Parse(renameUserTmpl))
	dedupUserTemplate  = template.Must(template.New("dedup").Parse(dedupUserTmpl))
)

func render(tmpl *template.Template, raw string, data any) string {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		// Fallback to raw template on error
		return raw
	}
	return buf.String()
}

func renderRenameUser(bookLine, topicTitle, subtopicTitle string, pr guidelines.PageRange, guidelinesText string) string {
	data := struct {
		BookLine      string
		TopicTitle    string
		SubtopicTitle string
		PageStart     int
		PageEnd       int
		Guidelines    string
	}{bookLine, topicTitle, subtopicTitle, pr.Start, pr.End, guidelinesText}
	return render(renameUserTemplate, renameUserTmpl, data)
}

// dedupEntry is one subtopic as the duplicate detector sees it.
type dedupEntry struct {
	TopicKey      string
	TopicTitle    string
	SubtopicKey   string
	SubtopicTitle string
	PageRange     guidelines.PageRange
	Preview       string
}

func renderDedupUser(bookLine string, entries []dedupEntry) string {
	data := struct {
		BookLine string
		Entries  []dedupEntry
	}{bookLine, entries}
	return render(dedupUserTemplate, dedupUserTmpl, data)
}
