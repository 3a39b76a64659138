package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	enc, err := NewEncryptor(testKey)
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	store, err := NewFileStore(root, enc, 1024)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store, root
}

func TestNewFileStore_RequiresEncryptor(t *testing.T) {
	if _, err := NewFileStore(t.TempDir(), nil, 1024); err == nil {
		t.Fatal("expected error without encryptor")
	}
}

func TestFileStore_PutOpenDelete(t *testing.T) {
	store, root := newTestFileStore(t)
	ctx := context.Background()

	meta, err := store.Put(ctx, "../lab/report.pdf", bytes.NewReader(pdfBytes))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if meta.FileName != "report.pdf" {
		t.Errorf("expected sanitized file name, got %q", meta.FileName)
	}
	if meta.ContentType != "application/pdf" {
		t.Errorf("expected application/pdf, got %s", meta.ContentType)
	}
	if !strings.HasSuffix(meta.Key, ".enc") {
		t.Errorf("expected .enc key, got %s", meta.Key)
	}

	onDisk, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(meta.Key)))
	if err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}
	if bytes.Contains(onDisk, []byte("%PDF")) {
		t.Error("expected file on disk to be encrypted")
	}

	rc, err := store.Open(ctx, meta.Key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, pdfBytes) {
		t.Error("expected decrypted content to match upload")
	}
	if HashHex(got) != meta.SHA256 {
		t.Error("expected stored hash to match plaintext")
	}

	if err := store.Delete(ctx, meta.Key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Open(ctx, meta.Key); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestFileStore_RejectsInvalidContent(t *testing.T) {
	store, root := newTestFileStore(t)
	_, err := store.Put(context.Background(), "notes.pdf", bytes.NewReader(textBytes))
	if !errors.Is(err, ErrInvalidContentType) {
		t.Fatalf("expected ErrInvalidContentType, got %v", err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("expected nothing written, found %d entries", len(entries))
	}
}

func TestFileStore_RejectsTooLarge(t *testing.T) {
	store, _ := newTestFileStore(t)
	big := append(append([]byte{}, pdfBytes...), bytes.Repeat([]byte("x"), 2048)...)
	if _, err := store.Put(context.Background(), "big.pdf", bytes.NewReader(big)); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestFileStore_OpenRejectsTraversal(t *testing.T) {
	store, _ := newTestFileStore(t)
	for _, key := range []string{"", "../secret", "a/../../b", "/etc/passwd"} {
		if _, err := store.Open(context.Background(), key); !errors.Is(err, ErrBlobNotFound) {
			t.Errorf("Open(%q): expected ErrBlobNotFound, got %v", key, err)
		}
	}
}

func TestFileStore_MovedFileFailsToOpen(t *testing.T) {
	store, root := newTestFileStore(t)
	ctx := context.Background()
	meta, err := store.Put(ctx, "r.png", bytes.NewReader(pngBytes))
	if err != nil {
		t.Fatal(err)
	}
	moved := "moved.enc"
	if err := os.Rename(filepath.Join(root, filepath.FromSlash(meta.Key)), filepath.Join(root, moved)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Open(ctx, moved); err == nil {
		t.Error("expected decrypt failure for a file under another key")
	}
}

func TestFileStore_Check(t *testing.T) {
	store, root := newTestFileStore(t)
	if err := store.Check(context.Background()); err != nil {
		t.Fatalf("expected writable store, got %v", err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("expected probe file to be removed, found %d entries", len(entries))
	}
}
