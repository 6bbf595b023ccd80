package api

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"accounts/internal/media"
)

// multipartMemoryBytes is the part of a multipart body kept in memory; the
// rest spills to temporary files.
const multipartMemoryBytes = 1 << 20

func parseMultipartUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (func(), bool) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
	}

	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		if isBodyTooLargeError(err) {
			payloadTooLarge(w, "File exceeds maximum upload size")
		} else {
			badRequest(w, "Invalid multipart upload")
		}
		return func() {}, false
	}

	cleanup := func() {
		if r.MultipartForm != nil {
			r.MultipartForm.RemoveAll()
		}
	}
	return cleanup, true
}

// formFileSource returns a nil source when the field is absent or unnamed.
func formFileSource(r *http.Request, field string) (*media.Source, func(), error) {
	file, fileHeader, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, func() {}, err
	}

	if fileHeader == nil || strings.TrimSpace(fileHeader.Filename) == "" {
		file.Close()
		return nil, func() {}, nil
	}

	return &media.Source{Filename: fileHeader.Filename, Body: file}, closeFile(file), nil
}

func closeFile(file multipart.File) func() {
	return func() { file.Close() }
}

func isBodyTooLargeError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "request body too large")
}
