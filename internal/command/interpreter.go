// Package command parses and runs the chat control commands.
package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/user/scrivener/internal/config"
	"github.com/user/scrivener/internal/session"
	"github.com/user/scrivener/pkg/llm"
)

// Exporter produces a document from a slice of session history and uploads
// it, returning the remote document ID.
type Exporter interface {
	Export(sess *session.Session, first, last int) (string, error)
}

// Restarter reloads a model on the inference server, dropping any cached
// backend for it first.
type Restarter interface {
	Restart(modelType string) error
}

// Interpreter dispatches prefixed control messages against a session.
// Interpret is synchronous; it mutates only the given session, except for
// --restart-model which reaches the model registry.
type Interpreter struct {
	cfg       *config.Config
	exporter  Exporter
	restarter Restarter
}

// New creates an Interpreter. exporter and restarter may be nil when
// document export or model management is not configured.
func New(cfg *config.Config, exporter Exporter, restarter Restarter) *Interpreter {
	return &Interpreter{cfg: cfg, exporter: exporter, restarter: restarter}
}

// IsCommand reports whether raw starts with a recognized command prefix.
// Mobile autocorrect turns "--" into an en dash, so both are accepted.
func IsCommand(raw string) bool {
	return strings.HasPrefix(raw, "--") || strings.HasPrefix(raw, "–")
}

// Interpret runs the command in raw and returns the chat response text.
func (in *Interpreter) Interpret(sess *session.Session, raw string) string {
	// Normalize the autocorrected en dash before tokenizing.
	normalized := strings.ReplaceAll(raw, "–", "--")
	command := strings.Fields(normalized)
	if len(command) == 0 {
		return "Unrecognized command: "
	}

	switch command[0] {
	case "--commands":
		return helpText

	case "--input-buffer-size":
		return fmt.Sprintf("LLM input buffer size: last %d messages", sess.BufferSize())

	case "--update-input-buffer":
		if len(command) != 2 {
			return "Failed to parse buffer size update command"
		}
		n, err := strconv.Atoi(command[1])
		if err != nil || n < 1 {
			return "Failed to parse buffer size update command"
		}
		sess.SetBufferSize(n)
		return fmt.Sprintf("LLM input buffer updated to last %d messages", n)

	case "--show-input-messages":
		var lines []string
		for _, msg := range sess.Window() {
			lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
		}
		return "\n" + strings.Join(lines, "\n")

	case "--show-prompt":
		return fmt.Sprintf("Prompt: %s", sess.Prompt())

	case "--update-prompt":
		if len(command) < 2 {
			return "Failed to parse prompt update command"
		}
		sess.SetPrompt(strings.Join(command[1:], " "))
		return "Prompt update complete, conversation reset"

	case "--restart-chat":
		sess.Reset()
		return "Chat history cleared and conversation reset"

	case "--restart-model":
		if in.restarter == nil {
			return "Model management is not configured"
		}
		if err := in.restarter.Restart(sess.ModelType()); err != nil {
			return fmt.Sprintf("Failed to restart model: %v", err)
		}
		return "Model restarted"

	case "--show-decoding-mode":
		return fmt.Sprintf("Decoding mode: %s", sess.DecodingMode())

	case "--show-decoding-modes":
		return fmt.Sprintf("Decoding modes: %s", strings.Join(in.cfg.DecodingModeNames(), ", "))

	case "--set-decoding-mode":
		if len(command) != 2 {
			return "Failed to parse decoding mode set command"
		}
		overrides, ok := in.cfg.DecodingModes[command[1]]
		if !ok {
			return "Failed to parse decoding mode set command"
		}
		in.ensureConfig(sess)
		if err := sess.SetDecodingMode(command[1], overrides); err != nil {
			return fmt.Sprintf("Failed to apply decoding mode: %v", err)
		}
		return fmt.Sprintf("Decoding mode set to %s", command[1])

	case "--show-config":
		return "\n" + in.ensureConfig(sess).NonDefaultString()

	case "--show-config-full":
		return "\n" + in.ensureConfig(sess).String()

	case "--show-config-value":
		if len(command) != 2 {
			return "Failed to parse show config value command"
		}
		value, err := in.ensureConfig(sess).Get(command[1])
		if err != nil {
			return fmt.Sprintf("Failed to parse show config value command: %v", err)
		}
		return fmt.Sprintf("%s: %v", command[1], value)

	case "--update-config":
		if len(command) != 3 {
			return "Failed to parse generation configuration update command"
		}
		cfg := in.ensureConfig(sess)
		oldValue, err := cfg.Get(command[1])
		if err != nil {
			return fmt.Sprintf("Failed to parse generation configuration update command: %v", err)
		}
		value, err := parseValue(command[2])
		if err != nil {
			return "Failed to parse generation configuration update command"
		}
		if err := cfg.Set(command[1], value); err != nil {
			return fmt.Sprintf("Failed to parse generation configuration update command: %v", err)
		}
		newValue, _ := cfg.Get(command[1])
		return fmt.Sprintf("Updated %s from %v to %v", command[1], oldValue, newValue)

	case "--supported-models":
		return "\n" + strings.Join(in.cfg.SupportedModels(), "\n")

	case "--swap-model":
		if len(command) != 2 {
			return "Failed to parse model update command"
		}
		if _, ok := in.cfg.Models[command[1]]; !ok {
			return fmt.Sprintf("New model must be one of: %s", strings.Join(in.cfg.SupportedModels(), ", "))
		}
		sess.SetModelType(command[1])
		return fmt.Sprintf("Switched to %s model. Next response may be slow if this model type is not already running or in the cache.", command[1])

	case "--document-title":
		return fmt.Sprintf("Document title: %s", sess.DocumentTitle())

	case "--set-document-title":
		if len(command) < 2 {
			return "Failed to parse document title update command"
		}
		sess.SetDocumentTitle(strings.Join(command[1:], " "))
		return "Document title updated"

	case "--set-gdrive-folder":
		if len(command) != 2 {
			return "Failed to parse Google Drive folder ID update command"
		}
		sess.SetDriveFolderID(ExtractFolderID(command[1]))
		return "Gdrive folder updated"

	case "--make-docx":
		return in.makeDocument(sess, command)
	}

	return fmt.Sprintf("Unrecognized command: %s", command[0])
}

func (in *Interpreter) makeDocument(sess *session.Session, command []string) string {
	if sess.DriveFolderID() == "" {
		return "Please set a Google Drive folder ID before generating a document for upload"
	}
	if in.exporter == nil {
		return "Document export is not configured"
	}

	first, last := 1, 0
	switch len(command) {
	case 1:
	case 2:
		n, err := strconv.Atoi(command[1])
		if err != nil {
			return "Failed to parse document generation command"
		}
		first = n
	case 3:
		n, err := strconv.Atoi(command[1])
		if err != nil {
			return "Failed to parse document generation command"
		}
		m, err := strconv.Atoi(command[2])
		if err != nil {
			return "Failed to parse document generation command"
		}
		first, last = n, m
	default:
		return "Failed to parse document generation command"
	}

	if _, err := in.exporter.Export(sess, first, last); err != nil {
		return fmt.Sprintf("Failed to generate document: %v", err)
	}
	return "Document generated"
}

// ensureConfig returns the session's active generation config, seeding it
// from static defaults plus the current decoding mode when the model has
// not been loaded yet.
func (in *Interpreter) ensureConfig(sess *session.Session) *llm.GenerationConfig {
	if cfg, ok := sess.Config(); ok {
		return cfg
	}
	defaults := llm.DefaultGenerationConfig()
	defaults.MaxNewTokens = in.cfg.MaxNewTokens
	cfg, err := sess.EnsureConfig(defaults, in.cfg.DecodingModes[sess.DecodingMode()])
	if err != nil {
		// Presets come from static configuration; a bad one is a
		// deployment mistake, fall back to the bare defaults.
		cfg, _ = sess.EnsureConfig(defaults, nil)
	}
	return cfg
}

// ExtractFolderID accepts a raw folder ID or a shareable link and returns
// the trailing path segment with any query string removed.
func ExtractFolderID(s string) string {
	if idx := strings.Index(s, "?"); idx >= 0 {
		s = s[:idx]
	}
	if idx := strings.LastIndex(s, "/"); idx >= 0 {
		s = s[idx+1:]
	}
	return s
}

// parseValue parses a command argument: float if it contains a decimal
// point, int otherwise.
func parseValue(s string) (any, error) {
	if strings.Contains(s, ".") {
		return strconv.ParseFloat(s, 64)
	}
	return strconv.Atoi(s)
}
