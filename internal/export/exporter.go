package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/user/scrivener/internal/session"
	"github.com/user/scrivener/pkg/llm"
)

// Uploader pushes a named file into a folder and returns its remote ID.
type Uploader interface {
	Upload(ctx context.Context, name, folderID, content string) (string, error)
}

// Exporter selects a slice of session history, renders it as a document,
// keeps a local copy, and uploads it to the session's folder.
type Exporter struct {
	uploader     Uploader
	documentsDir string
}

// New creates an Exporter. documentsDir may be empty to skip local copies.
func New(uploader Uploader, documentsDir string) *Exporter {
	return &Exporter{uploader: uploader, documentsDir: documentsDir}
}

// Export renders messages selected by reverse index and uploads the
// result. first and last count back from the most recent message; last=0
// exports only the message at first, otherwise the range runs from last
// back to first in chronological order.
func (e *Exporter) Export(sess *session.Session, first, last int) (string, error) {
	messages, err := selectRange(sess, first, last)
	if err != nil {
		return "", err
	}

	title := sess.DocumentTitle()
	content := BuildDocument(title, messages)
	name := Filename(title)

	if e.documentsDir != "" {
		if err := e.writeLocal(name, content); err != nil {
			slog.Warn("local document copy failed", "name", name, "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	id, err := e.uploader.Upload(ctx, name, sess.DriveFolderID(), content)
	if err != nil {
		return "", fmt.Errorf("upload document: %w", err)
	}
	slog.Info("document exported", "name", name, "remote_id", id, "session", sess.Key())
	return id, nil
}

func selectRange(sess *session.Session, first, last int) ([]llm.Message, error) {
	if first < 1 {
		return nil, fmt.Errorf("message index %d out of range", first)
	}
	if last == 0 {
		msg, err := sess.MessageAt(first)
		if err != nil {
			return nil, err
		}
		return []llm.Message{msg}, nil
	}
	if last < first {
		return nil, fmt.Errorf("message range %d..%d is inverted", first, last)
	}

	var messages []llm.Message
	for n := last; n >= first; n-- {
		msg, err := sess.MessageAt(n)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (e *Exporter) writeLocal(name, content string) error {
	if err := os.MkdirAll(e.documentsDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(e.documentsDir, name), []byte(content), 0o644)
}
