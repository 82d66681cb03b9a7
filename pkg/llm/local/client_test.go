package local

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/user/scrivener/pkg/llm"
)

// newTestServer fakes the inference server's load and completion endpoints.
func newTestServer(t *testing.T, completionText string, completionTokens int) (*httptest.Server, *[]string) {
	t.Helper()
	var paths []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/v1/internal/model/load", "/v1/internal/model/unload":
			w.WriteHeader(http.StatusOK)
		case "/v1/completions":
			var req map[string]any
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("bad completion request: %v", err)
			}
			if _, ok := req["prompt"].(string); !ok {
				t.Error("completion request missing prompt")
			}
			resp := map[string]any{
				"choices": []map[string]any{{"text": completionText}},
				"usage":   map[string]any{"completion_tokens": completionTokens},
			}
			json.NewEncoder(w).Encode(resp)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return server, &paths
}

func TestClientLoadGenerateClose(t *testing.T) {
	server, paths := newTestServer(t, "I would prefer not to.</s>", 7)
	defer server.Close()

	family, _ := llm.FamilyByName("mistral")
	ctx := context.Background()

	client, err := New(ctx, &llm.Config{BaseURL: server.URL}, "HuggingFaceH4/zephyr-7b-beta", family)
	if err != nil {
		t.Fatal(err)
	}

	result, err := client.Generate(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: "Write a letter."},
	}, &llm.GenerationConfig{MaxNewTokens: 256, DoSample: true, Temperature: 0.9})
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "I would prefer not to." {
		t.Errorf("expected parsed reply, got %q", result.Text)
	}
	if result.TokenCount != 7 {
		t.Errorf("expected 7 tokens, got %d", result.TokenCount)
	}

	if err := client.Close(); err != nil {
		t.Fatal(err)
	}

	want := []string{"/v1/internal/model/load", "/v1/completions", "/v1/internal/model/unload"}
	if len(*paths) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, *paths)
	}
	for i, p := range want {
		if (*paths)[i] != p {
			t.Errorf("call %d: expected %s, got %s", i, p, (*paths)[i])
		}
	}
}

func TestClientLoadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "model not found"}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	family, _ := llm.FamilyByName("falcon")
	_, err := New(context.Background(), &llm.Config{BaseURL: server.URL}, "unknown-model-xyz", family)
	if err == nil {
		t.Fatal("expected load error")
	}
	if !strings.Contains(err.Error(), "unknown-model-xyz") {
		t.Errorf("error should name the model: %v", err)
	}
}

func TestClientTokenFallback(t *testing.T) {
	// Server omits the usage block; the client should still report a
	// non-zero token count for a non-empty reply.
	server, _ := newTestServer(t, "a reply of several words here", 0)
	defer server.Close()

	family, _ := llm.FamilyByName("dialo")
	ctx := context.Background()
	client, err := New(ctx, &llm.Config{BaseURL: server.URL}, "microsoft/DialoGPT-medium", family)
	if err != nil {
		t.Fatal(err)
	}

	result, err := client.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, &llm.GenerationConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if result.TokenCount == 0 {
		t.Error("expected fallback token count > 0")
	}
}
