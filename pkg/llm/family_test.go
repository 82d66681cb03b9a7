package llm

import (
	"strings"
	"testing"
)

var chat = []Message{
	{Role: RoleSystem, Content: "You are a scrivener."},
	{Role: RoleUser, Content: "Write a letter."},
}

func TestFamilyByNameUnknown(t *testing.T) {
	if _, err := FamilyByName("llama"); err == nil {
		t.Error("expected error for unknown family")
	}
}

func TestMistralPromptFraming(t *testing.T) {
	fam, err := FamilyByName("mistral")
	if err != nil {
		t.Fatal(err)
	}

	prompt := fam.FormatPrompt(chat)
	if !strings.Contains(prompt, "<|system|>\nYou are a scrivener.</s>") {
		t.Errorf("missing system frame in prompt: %q", prompt)
	}
	if !strings.HasSuffix(prompt, "<|assistant|>\n") {
		t.Errorf("prompt should end with assistant marker: %q", prompt)
	}
}

func TestMistralParseReplyEchoedPrompt(t *testing.T) {
	fam, _ := FamilyByName("mistral")

	output := "<|user|>\nWrite a letter.</s>\n<|assistant|>\nI would prefer not to.</s>"
	if got := fam.ParseReply(output); got != "I would prefer not to." {
		t.Errorf("expected parsed reply, got %q", got)
	}
}

func TestFalconPromptFraming(t *testing.T) {
	fam, _ := FamilyByName("falcon")

	prompt := fam.FormatPrompt(chat)
	want := "system: You are a scrivener.\nuser: Write a letter.\nassistant:"
	if prompt != want {
		t.Errorf("expected %q, got %q", want, prompt)
	}
}

func TestFalconParseReplyTruncatesFollowUpTurns(t *testing.T) {
	fam, _ := FamilyByName("falcon")

	output := "assistant: Certainly.\nuser: thanks\nassistant: more"
	if got := fam.ParseReply(output); got != "Certainly." {
		t.Errorf("expected %q, got %q", "Certainly.", got)
	}
}

func TestDialoRoundTrip(t *testing.T) {
	fam, _ := FamilyByName("dialo")

	prompt := fam.FormatPrompt([]Message{{Role: RoleUser, Content: "hi"}})
	if prompt != "hi<|endoftext|>" {
		t.Errorf("unexpected prompt: %q", prompt)
	}
	if got := fam.ParseReply("hello there<|endoftext|>junk"); got != "hello there" {
		t.Errorf("unexpected reply: %q", got)
	}
}
