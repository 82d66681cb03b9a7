package llm

import (
	"fmt"
	"strings"
)

// Family captures how a model family frames a conversation as a raw prompt
// and how it extracts the reply from the model's output. One implementation
// exists per family; backends select theirs at load time.
type Family interface {
	Name() string
	FormatPrompt(messages []Message) string
	ParseReply(output string) string
	// StopSequences returns strings that should terminate generation.
	StopSequences() []string
}

// FamilyByName returns the Family implementation for the given name.
func FamilyByName(name string) (Family, error) {
	switch name {
	case "mistral":
		return mistralFamily{}, nil
	case "falcon":
		return falconFamily{}, nil
	case "dialo":
		return dialoFamily{}, nil
	}
	return nil, fmt.Errorf("unknown model family: %s", name)
}

// mistralFamily uses the zephyr chat template: each message wrapped in
// role markers, with a trailing assistant marker to prompt the reply.
type mistralFamily struct{}

func (mistralFamily) Name() string { return "mistral" }

func (mistralFamily) FormatPrompt(messages []Message) string {
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "<|%s|>\n%s</s>\n", msg.Role, msg.Content)
	}
	b.WriteString("<|assistant|>\n")
	return b.String()
}

func (mistralFamily) ParseReply(output string) string {
	// The server may echo the prompt; keep whatever follows the last
	// assistant marker.
	if idx := strings.LastIndex(output, "<|assistant|>\n"); idx >= 0 {
		output = output[idx+len("<|assistant|>\n"):]
	}
	output = strings.TrimSuffix(output, "</s>")
	return strings.TrimSpace(output)
}

func (mistralFamily) StopSequences() []string { return []string{"</s>"} }

// falconFamily frames each message as a "role: content" line and prompts
// the reply with a bare assistant label.
type falconFamily struct{}

func (falconFamily) Name() string { return "falcon" }

func (falconFamily) FormatPrompt(messages []Message) string {
	lines := make([]string, 0, len(messages)+1)
	for _, msg := range messages {
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
	}
	lines = append(lines, "assistant:")
	return strings.Join(lines, "\n")
}

func (falconFamily) ParseReply(output string) string {
	// Cut at the first hallucinated follow-up turn, then strip the label.
	for _, marker := range []string{"\nuser:", "\nsystem:"} {
		if idx := strings.Index(output, marker); idx >= 0 {
			output = output[:idx]
		}
	}
	output = strings.TrimPrefix(strings.TrimSpace(output), "assistant:")
	return strings.TrimSpace(output)
}

func (falconFamily) StopSequences() []string { return []string{"\nuser:"} }

// dialoFamily concatenates message contents separated by the end-of-text
// token, the framing DialoGPT was trained on.
type dialoFamily struct{}

const endOfText = "<|endoftext|>"

func (dialoFamily) Name() string { return "dialo" }

func (dialoFamily) FormatPrompt(messages []Message) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		// DialoGPT has no system role; fold everything into turns.
		parts = append(parts, msg.Content)
	}
	return strings.Join(parts, endOfText) + endOfText
}

func (dialoFamily) ParseReply(output string) string {
	if idx := strings.Index(output, endOfText); idx >= 0 {
		output = output[:idx]
	}
	return strings.TrimSpace(output)
}

func (dialoFamily) StopSequences() []string { return []string{endOfText} }
