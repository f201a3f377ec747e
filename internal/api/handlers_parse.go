package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dgallion1/storygest/internal/decoder"
	"github.com/dgallion1/storygest/internal/importer"
	"github.com/dgallion1/storygest/internal/parser"
	"github.com/dgallion1/storygest/internal/render"
	"github.com/dgallion1/storygest/internal/session"
	"github.com/dgallion1/storygest/internal/storytree"
	"github.com/dgallion1/storygest/internal/transport"
)

// handleParse parses a raw text body. Invalid UTF-8 is replaced, not rejected.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxStoryBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			jsonError(w, fmt.Sprintf("body exceeds %d bytes", mbe.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "failed to read body", http.StatusBadRequest)
		return
	}

	dec := decoder.New()
	text := dec.Decode(data) + dec.Finish()
	s.writeStory(w, r, parser.Parse(text))
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !importer.IsSupportedExtension(filename) {
		jsonError(w, "unsupported file type: "+filepath.Ext(filename), http.StatusBadRequest)
		return
	}

	imp := importer.Options{PDFFallbackPdftotext: s.cfg.PDFFallbackPdftotext}
	text, err := imp.Import(file, filename)
	if err != nil {
		s.log.Warn("import failed", "filename", filename, "error", err)
		jsonError(w, "failed to import file", http.StatusUnprocessableEntity)
		return
	}

	story, err := session.Collect(r.Context(), transport.NewStorySource(text), session.Options{
		MaxBytes: s.cfg.MaxStoryBytes,
		Logger:   s.log,
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrEmptyContent):
			jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, session.ErrTooLarge):
			jsonError(w, err.Error(), http.StatusRequestEntityTooLarge)
		default:
			s.log.Error("import session failed", "filename", filename, "error", err)
			jsonError(w, "failed to parse file", http.StatusInternalServerError)
		}
		return
	}

	s.log.Info("story imported", "filename", filename, "chapters", len(story.Chapters), "words", story.WordCount())
	s.writeStory(w, r, story)
}

// writeStory renders story in the format named by the "format" query
// parameter, defaulting to JSON.
func (s *Server) writeStory(w http.ResponseWriter, r *http.Request, story *storytree.Story) {
	switch r.URL.Query().Get("format") {
	case "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		io.WriteString(w, render.Markdown(story))
	case "html":
		out, err := render.HTML(story)
		if err != nil {
			s.log.Error("render html failed", "error", err)
			jsonError(w, "failed to render story", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, out)
	case "", "json":
		resp := map[string]any{"story": story}
		if story != nil {
			resp["words"] = story.WordCount()
			resp["reading_minutes"] = story.ReadingMinutes()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	default:
		jsonError(w, "unknown format", http.StatusBadRequest)
	}
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
