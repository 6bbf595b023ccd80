package api

import (
	"errors"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"accounts/internal/media"
)

// MediaFiles opens stored objects by key.
type MediaFiles interface {
	Open(key string) (*os.File, error)
}

type MediaHandler struct {
	files MediaFiles
}

func NewMediaHandler(files MediaFiles) *MediaHandler {
	return &MediaHandler{files: files}
}

// GET /media/*
func (h *MediaHandler) Serve(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "*"))
	if key == "" {
		notFound(w, "Media not found")
		return
	}

	file, err := h.files.Open(key)
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, media.ErrInvalidPath) {
		notFound(w, "Media not found")
		return
	}
	if err != nil {
		internalError(w)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		internalError(w)
		return
	}
	if info.IsDir() {
		notFound(w, "Media not found")
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("Content-Type", contentTypeForKey(key))
	w.Header().Set("Content-Disposition", "inline")

	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
}

func contentTypeForKey(key string) string {
	if contentType := mime.TypeByExtension(path.Ext(key)); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}
