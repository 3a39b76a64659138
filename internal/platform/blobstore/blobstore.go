// Package blobstore stores referral test reports. Reports are sniffed for an
// allowed content type, hashed over the plaintext and sealed with AES-256-GCM
// before they reach the backing store.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
	ErrEmptyFile          = errors.New("file is empty")
)

// DefaultMaxFileSize is used when a store is created with a non-positive limit.
const DefaultMaxFileSize = 10 * 1024 * 1024

// AllowedContentTypes lists the report formats accepted from labs.
var AllowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
}

// BlobMetadata describes a stored report. Key is the store-relative path
// persisted on the referral row.
type BlobMetadata struct {
	Key         string    `json:"key"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"created_at"`
}

// BlobStore is the contract for report storage backends. Open returns the
// decrypted content.
type BlobStore interface {
	Put(ctx context.Context, fileName string, content io.Reader) (*BlobMetadata, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// prepared is a validated upload ready to be sealed.
type prepared struct {
	meta BlobMetadata
	data []byte
}

// prepare reads at most maxSize bytes, sniffs the content type and hashes the
// plaintext. The declared content type is never trusted.
func prepare(fileName string, content io.Reader, maxSize int64) (*prepared, error) {
	name := SanitizeFileName(fileName)
	if name == "" {
		return nil, ErrMissingFileName
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	data, err := io.ReadAll(io.LimitReader(content, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, ErrFileTooLarge
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	ct := DetectContentType(data)
	if !AllowedContentTypes[ct] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidContentType, ct)
	}

	return &prepared{
		meta: BlobMetadata{
			FileName:    name,
			ContentType: ct,
			Size:        int64(len(data)),
			SHA256:      HashHex(data),
			CreatedAt:   time.Now().UTC(),
		},
		data: data,
	}, nil
}

// DetectContentType returns the sniffed MIME type without parameters.
func DetectContentType(data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// HashHex returns the lowercase hex SHA-256 of data.
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SanitizeFileName strips directories and characters that would break a
// Content-Disposition header.
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '"' || r == '\r' || r == '\n':
			return -1
		case r < 0x20:
			return -1
		}
		return r
	}, name)
	if len(name) > 255 {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		cut := 255 - len(ext)
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut] + ext
	}
	return strings.TrimSpace(name)
}
