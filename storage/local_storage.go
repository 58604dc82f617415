package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// LocalDocumentStorage maps document paths to files under a base directory.
// The version token is the sha256 of the exact bytes on disk, so identical
// content always carries the same token. Intended as a development and
// offline fallback for the remote backend; the two are interchangeable
// behind DocumentStore.
type LocalDocumentStorage struct {
	fs           afero.Fs
	basePath     string
	writeAllowed bool
	codec        ContentCodec
}

// NewLocalDocumentStorage builds a store rooted at basePath. A nil fs means
// the OS filesystem; a nil codec means passthrough.
func NewLocalDocumentStorage(fs afero.Fs, basePath string, writeAllowed bool, codec ContentCodec) *LocalDocumentStorage {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if codec == nil {
		codec = PassthroughCodec()
	}
	return &LocalDocumentStorage{
		fs:           fs,
		basePath:     basePath,
		writeAllowed: writeAllowed,
		codec:        codec,
	}
}

func (l *LocalDocumentStorage) Writable() bool {
	return l.writeAllowed
}

func (l *LocalDocumentStorage) filePath(docPath string) string {
	return path.Join(l.basePath, docPath)
}

func contentVersion(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (l *LocalDocumentStorage) GetDocument(ctx context.Context, docPath string) (Document, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	raw, err := afero.ReadFile(l.fs, l.filePath(docPath))
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, "", nil
		}
		return nil, "", fmt.Errorf("get %s: %w", docPath, err)
	}

	decoded, err := l.codec.Decode(raw)
	if err != nil {
		return nil, "", fmt.Errorf("get %s: codec decode failed: %w", docPath, err)
	}
	doc, err := unmarshalDocument(decoded)
	if err != nil {
		return nil, "", fmt.Errorf("get %s: %w", docPath, err)
	}
	return doc, contentVersion(raw), nil
}

func (l *LocalDocumentStorage) PutDocument(ctx context.Context, docPath string, doc Document, message string, expectedVersion string) (string, error) {
	if !l.writeAllowed {
		return "", fmt.Errorf("put %s: %w", docPath, ErrWriteDisabled)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Version check first: a stale put fails before any write happens.
	current, err := afero.ReadFile(l.fs, l.filePath(docPath))
	switch {
	case err == nil:
		if expectedVersion == "" {
			return "", fmt.Errorf("put %s: document already exists: %w", docPath, ErrConflict)
		}
		if contentVersion(current) != expectedVersion {
			return "", fmt.Errorf("put %s: stale version %s: %w", docPath, expectedVersion, ErrConflict)
		}
	case os.IsNotExist(err):
		if expectedVersion != "" {
			return "", fmt.Errorf("put %s: document is gone, expected version %s: %w", docPath, expectedVersion, ErrConflict)
		}
	default:
		return "", fmt.Errorf("put %s: %w", docPath, err)
	}

	payload, err := marshalDocument(doc)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", docPath, err)
	}
	encoded, err := l.codec.Encode(payload)
	if err != nil {
		return "", fmt.Errorf("put %s: codec encode failed: %w", docPath, err)
	}

	target := l.filePath(docPath)
	if err := l.fs.MkdirAll(path.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("put %s: %w", docPath, err)
	}

	// Write-then-rename keeps a concurrent reader from observing a torn
	// document.
	tmp := target + ".tmp"
	if err := afero.WriteFile(l.fs, tmp, encoded, 0o644); err != nil {
		return "", fmt.Errorf("put %s: %w", docPath, err)
	}
	if err := l.fs.Rename(tmp, target); err != nil {
		_ = l.fs.Remove(tmp)
		return "", fmt.Errorf("put %s: %w", docPath, err)
	}

	slog.Debug("Document stored locally",
		"basePath", l.basePath,
		"path", docPath,
		"message", message)
	return contentVersion(encoded), nil
}

// ListDocuments returns the paths of JSON documents directly under dir,
// relative to the store root.
func (l *LocalDocumentStorage) ListDocuments(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := afero.ReadDir(l.fs, path.Join(l.basePath, dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		paths = append(paths, path.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
