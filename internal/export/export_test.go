package export

import (
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/scrivener/internal/session"
	"github.com/user/scrivener/pkg/llm"
)

func newTestSession() *session.Session {
	store := session.NewStore(session.Defaults{
		InitialPrompt: "prompt",
		ModelType:     "model-a",
		DecodingMode:  "sampling",
		BufferSize:    5,
		DocumentTitle: "My Story",
	})
	sess := store.GetOrCreate(session.NewKey("test", "user"))
	sess.SetDriveFolderID("folder-1")
	return sess
}

func TestBuildDocumentSplitsParagraphs(t *testing.T) {
	doc := BuildDocument("Title", []llm.Message{
		{Role: llm.RoleAssistant, Content: "First paragraph.\n\nSecond paragraph."},
	})
	want := "Title\n\nFirst paragraph.\n\nSecond paragraph.\n"
	if doc != want {
		t.Errorf("document = %q, want %q", doc, want)
	}
}

func TestFilename(t *testing.T) {
	if got := Filename("My Great Story"); got != "My_Great_Story.txt" {
		t.Errorf("filename = %q", got)
	}
}

// uploadCapture records the single upload a test server receives.
type uploadCapture struct {
	name    string
	parents []string
	content string
	auth    string
}

func newUploadServer(t *testing.T, capture *uploadCapture) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload/drive/v3/files" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		capture.auth = r.Header.Get("Authorization")

		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
			t.Errorf("bad content type: %v", r.Header.Get("Content-Type"))
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		reader := multipart.NewReader(r.Body, params["boundary"])
		meta, err := reader.NextPart()
		if err != nil {
			t.Fatalf("metadata part: %v", err)
		}
		var parsed struct {
			Name    string   `json:"name"`
			Parents []string `json:"parents"`
		}
		if err := json.NewDecoder(meta).Decode(&parsed); err != nil {
			t.Fatalf("decode metadata: %v", err)
		}
		capture.name = parsed.Name
		capture.parents = parsed.Parents

		media, err := reader.NextPart()
		if err != nil {
			t.Fatalf("media part: %v", err)
		}
		data, _ := io.ReadAll(media)
		capture.content = string(data)

		json.NewEncoder(w).Encode(map[string]string{"id": "remote-42"})
	}))
}

func TestExportSingleMessage(t *testing.T) {
	var capture uploadCapture
	server := newUploadServer(t, &capture)
	defer server.Close()

	client := NewDriveClient(DriveConfig{BaseURL: server.URL, Token: "tok"})
	exporter := New(client, filepath.Join(t.TempDir(), "documents"))

	sess := newTestSession()
	sess.Append(llm.RoleUser, "write me a story")
	sess.Append(llm.RoleAssistant, "Once upon a time.")

	id, err := exporter.Export(sess, 1, 0)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if id != "remote-42" {
		t.Errorf("remote id = %q", id)
	}
	if capture.name != "My_Story.txt" {
		t.Errorf("uploaded name = %q", capture.name)
	}
	if len(capture.parents) != 1 || capture.parents[0] != "folder-1" {
		t.Errorf("parents = %v", capture.parents)
	}
	if capture.auth != "Bearer tok" {
		t.Errorf("auth header = %q", capture.auth)
	}
	if !strings.Contains(capture.content, "Once upon a time.") {
		t.Errorf("content = %q", capture.content)
	}
	if strings.Contains(capture.content, "write me a story") {
		t.Errorf("single-message export included extra history: %q", capture.content)
	}
}

func TestExportRangeIsChronological(t *testing.T) {
	var capture uploadCapture
	server := newUploadServer(t, &capture)
	defer server.Close()

	client := NewDriveClient(DriveConfig{BaseURL: server.URL})
	exporter := New(client, "")

	sess := newTestSession()
	sess.Append(llm.RoleAssistant, "chapter one")
	sess.Append(llm.RoleAssistant, "chapter two")
	sess.Append(llm.RoleAssistant, "chapter three")

	if _, err := exporter.Export(sess, 1, 3); err != nil {
		t.Fatalf("export: %v", err)
	}
	one := strings.Index(capture.content, "chapter one")
	three := strings.Index(capture.content, "chapter three")
	if one < 0 || three < 0 || one > three {
		t.Errorf("range not chronological: %q", capture.content)
	}
}

func TestExportOutOfRange(t *testing.T) {
	client := NewDriveClient(DriveConfig{BaseURL: "http://unused.invalid"})
	exporter := New(client, "")

	sess := newTestSession()
	if _, err := exporter.Export(sess, 50, 0); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestExportUploadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer server.Close()

	client := NewDriveClient(DriveConfig{BaseURL: server.URL})
	exporter := New(client, "")

	sess := newTestSession()
	sess.Append(llm.RoleAssistant, "text")
	if _, err := exporter.Export(sess, 1, 0); err == nil {
		t.Fatal("expected upload error")
	}
}
