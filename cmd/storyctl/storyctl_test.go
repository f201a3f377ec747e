package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgallion1/storygest/internal/generate"
	"github.com/dgallion1/storygest/internal/session"
)

const story = "Le Hibou Savant\n\nChapitre 1 — La question\nLe hibou réfléchissait.\n\nChapitre 2 — La réponse\nIl trouva enfin."

func run(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParse_Stdin(t *testing.T) {
	out, err := run(t, strings.NewReader(story), "parse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "# Le Hibou Savant\n\n## Chapitre 1 — La question\n\nLe hibou réfléchissait.\n\n## Chapitre 2 — La réponse\n\nIl trouva enfin.\n"
	if out != want {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestParse_StdinEmpty(t *testing.T) {
	_, err := run(t, strings.NewReader("   \n"), "parse")
	if !errors.Is(err, session.ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
}

func TestParse_FilesJSON(t *testing.T) {
	dir := t.TempDir()
	txt := writeFile(t, dir, "hibou.txt", story)
	md := writeFile(t, dir, "renard.md", "# Le Renard\n\n## Chapitre 1\n\nIl courait.\n")

	out, err := run(t, nil, "parse", "--format", "json", txt, md)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []parsedFile
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].File != txt || got[0].Story.Title != "Le Hibou Savant" {
		t.Errorf("unexpected first result %+v", got[0])
	}
	if got[1].File != md || got[1].Story.Title != "Le Renard" {
		t.Errorf("unexpected second result %+v", got[1])
	}
}

func TestParse_HTML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "hibou.txt", story)
	out, err := run(t, nil, "parse", "-f", "html", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "<h2>Chapitre 2 — La réponse</h2>") {
		t.Errorf("unexpected html:\n%s", out)
	}
}

func TestParse_Errors(t *testing.T) {
	dir := t.TempDir()
	exe := writeFile(t, dir, "story.exe", "MZ")

	if _, err := run(t, nil, "parse", exe); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("expected unsupported type error, got %v", err)
	}
	if _, err := run(t, nil, "parse", filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := run(t, strings.NewReader(story), "parse", "--format", "pdf"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestGenerate_Streams(t *testing.T) {
	var got generate.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, part := range strings.Split(story, "\n\n") {
			io.WriteString(w, part+"\n\n")
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	out, err := run(t, nil, "generate", "--upstream", srv.URL, "--api-key", "secret",
		"--format", "plain", "-m", "10", "hibou, nuit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "# Le Hibou Savant") || !strings.Contains(out, "Il trouva enfin.") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if got.Minutes != 10 || got.Keywords != "hibou, nuit" || got.Style != generate.DefaultStyle {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestGenerate_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":"Trop de demandes"}`)
	}))
	defer srv.Close()

	_, err := run(t, nil, "generate", "--upstream", srv.URL, "-k", "lune")
	if !session.IsGeneration(err) {
		t.Fatalf("expected generation error, got %v", err)
	}
	if err.Error() != "Oups… Trop de demandes" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestGenerate_RequiresUpstreamAndTopic(t *testing.T) {
	if _, err := run(t, nil, "generate", "-k", "lune"); err == nil || !strings.Contains(err.Error(), "upstream") {
		t.Errorf("expected missing upstream error, got %v", err)
	}
	if _, err := run(t, nil, "generate", "--upstream", "http://127.0.0.1:1"); !errors.Is(err, generate.ErrNothingToTell) {
		t.Errorf("expected ErrNothingToTell, got %v", err)
	}
}
