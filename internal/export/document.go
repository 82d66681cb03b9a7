// Package export turns conversation excerpts into documents and uploads
// them to a Drive-style storage API.
package export

import (
	"strings"

	"github.com/user/scrivener/pkg/llm"
)

// BuildDocument renders a titled plain-text document from a message slice.
// Each message is split on newlines into paragraphs; empty lines produced
// by repeated newlines are dropped.
func BuildDocument(title string, messages []llm.Message) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")

	for _, msg := range messages {
		for _, paragraph := range strings.Split(msg.Content, "\n") {
			if len(paragraph) == 0 {
				continue
			}
			b.WriteString(paragraph)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// Filename derives the upload file name from a document title.
func Filename(title string) string {
	return strings.ReplaceAll(title, " ", "_") + ".txt"
}
