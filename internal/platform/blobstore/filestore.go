package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStore keeps encrypted reports under a root directory, sharded by
// upload month: <root>/<yyyy>/<mm>/<uuid>.enc
type FileStore struct {
	root    string
	enc     *Encryptor
	maxSize int64
}

// NewFileStore creates root if needed.
func NewFileStore(root string, enc *Encryptor, maxSize int64) (*FileStore, error) {
	if enc == nil {
		return nil, errors.New("file store: encryptor is required")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("file store: create root: %w", err)
	}
	return &FileStore{root: root, enc: enc, maxSize: maxSize}, nil
}

func (s *FileStore) Put(ctx context.Context, fileName string, content io.Reader) (*BlobMetadata, error) {
	p, err := prepare(fileName, content, s.maxSize)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := filepath.ToSlash(filepath.Join(
		p.meta.CreatedAt.Format("2006"),
		p.meta.CreatedAt.Format("01"),
		uuid.NewString()+".enc",
	))
	sealed, err := s.enc.Seal(p.data, []byte(key))
	if err != nil {
		return nil, err
	}

	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("file store: create shard: %w", err)
	}
	if err := writeFileAtomic(path, sealed); err != nil {
		return nil, err
	}

	p.meta.Key = key
	return &p.meta, nil
}

func (s *FileStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	sealed, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("file store: read %s: %w", key, err)
	}
	data, err := s.enc.Open(sealed, []byte(key))
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrBlobNotFound
	}
	if err != nil {
		return fmt.Errorf("file store: delete %s: %w", key, err)
	}
	return nil
}

// Check verifies the root directory is writable. Used by the readiness probe.
func (s *FileStore) Check(context.Context) error {
	f, err := os.CreateTemp(s.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("report store not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// resolve rejects keys that escape the root.
func (s *FileStore) resolve(key string) (string, error) {
	clean := filepath.ToSlash(filepath.Clean("/" + key))[1:]
	if key == "" || clean != key || strings.HasPrefix(clean, "../") {
		return "", ErrBlobNotFound
	}
	return s.path(clean), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("file store: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file store: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file store: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store: rename: %w", err)
	}
	return nil
}
