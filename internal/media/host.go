package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindAvatar     Kind = "avatar"
	KindCoverImage Kind = "cover_image"
)

const (
	DefaultAvatarMaxEdge     = 1024
	DefaultCoverImageMaxEdge = 2048
	DefaultJPEGQuality       = 85
)

var (
	ErrNoSource       = errors.New("no media source")
	ErrFileTooLarge   = errors.New("media file too large")
	ErrInvalidKind    = errors.New("invalid media kind")
	ErrDisallowedType = errors.New("disallowed media type")
	ErrExecutableFile = errors.New("executable files are not allowed")
)

// Source is an uploaded file waiting to be hosted.
type Source struct {
	Filename string
	Body     io.Reader
}

// Backend persists normalized bytes under key and returns a durable URL for them.
type Backend interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// Host validates and normalizes images before handing them to a Backend.
type Host struct {
	backend        Backend
	maxUploadBytes int64
	now            func() time.Time
}

func NewHost(backend Backend, maxUploadBytes int64) (*Host, error) {
	if backend == nil {
		return nil, fmt.Errorf("media backend is required")
	}
	if maxUploadBytes <= 0 {
		return nil, fmt.Errorf("max upload bytes must be > 0")
	}

	return &Host{
		backend:        backend,
		maxUploadBytes: maxUploadBytes,
		now:            time.Now,
	}, nil
}

func (h *Host) MaxUploadBytes() int64 {
	return h.maxUploadBytes
}

func (h *Host) Upload(ctx context.Context, kind Kind, src *Source) (string, error) {
	maxEdge, ok := maxEdgeFor(kind)
	if !ok {
		return "", ErrInvalidKind
	}
	if src == nil || src.Body == nil {
		return "", ErrNoSource
	}

	sniff := make([]byte, 512)
	sniffN, err := io.ReadFull(src.Body, sniff)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("reading media data: %w", err)
	}
	sniff = sniff[:sniffN]

	if isExecutableSignature(sniff) {
		return "", ErrExecutableFile
	}
	if !isAllowedImageType(detectMimeType(sniff)) {
		return "", ErrDisallowedType
	}

	data, err := io.ReadAll(io.LimitReader(io.MultiReader(bytes.NewReader(sniff), src.Body), h.maxUploadBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading media data: %w", err)
	}
	if int64(len(data)) > h.maxUploadBytes {
		return "", ErrFileTooLarge
	}

	normalized, err := NormalizeStaticImage(bytes.NewReader(data), maxEdge, DefaultJPEGQuality)
	if err != nil {
		return "", err
	}

	url, err := h.backend.Put(ctx, h.objectKey(kind, normalized.MimeType), normalized.MimeType, normalized.Data)
	if err != nil {
		return "", fmt.Errorf("storing %s: %w", kind, err)
	}
	return url, nil
}

func (h *Host) objectKey(kind Kind, mimeType string) string {
	d := h.now().UTC()
	ext := "jpg"
	if mimeType == "image/png" {
		ext = "png"
	}
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s.%s", kind, d.Year(), d.Month(), d.Day(), uuid.New(), ext)
}

func maxEdgeFor(kind Kind) (int, bool) {
	switch kind {
	case KindAvatar:
		return DefaultAvatarMaxEdge, true
	case KindCoverImage:
		return DefaultCoverImageMaxEdge, true
	default:
		return 0, false
	}
}

func detectMimeType(sniff []byte) string {
	if len(sniff) == 0 {
		return "application/octet-stream"
	}

	return trimMimeParams(http.DetectContentType(sniff))
}

func isExecutableSignature(sniff []byte) bool {
	if len(sniff) < 2 {
		return false
	}

	if sniff[0] == 'M' && sniff[1] == 'Z' {
		return true // PE/COFF (Windows)
	}
	if len(sniff) >= 4 {
		if bytes.Equal(sniff[:4], []byte{0x7f, 'E', 'L', 'F'}) {
			return true // ELF
		}

		machoMagics := [][]byte{
			{0xfe, 0xed, 0xfa, 0xce},
			{0xce, 0xfa, 0xed, 0xfe},
			{0xfe, 0xed, 0xfa, 0xcf},
			{0xcf, 0xfa, 0xed, 0xfe},
			{0xca, 0xfe, 0xba, 0xbe},
			{0xbe, 0xba, 0xfe, 0xca},
		}
		for _, magic := range machoMagics {
			if bytes.Equal(sniff[:4], magic) {
				return true
			}
		}
	}

	if sniff[0] == '#' && sniff[1] == '!' {
		return true // shebang scripts
	}

	return false
}

func trimMimeParams(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx != -1 {
		return strings.TrimSpace(contentType[:idx])
	}
	return strings.TrimSpace(contentType)
}

func isAllowedImageType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "image/svg+xml" {
		return false
	}
	return strings.HasPrefix(mimeType, "image/")
}
