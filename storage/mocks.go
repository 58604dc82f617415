package storage

import (
	"context"
	"fmt"
	"sync"
)

// MockDocumentStorage is an in-memory DocumentStore for tests. Writes bump a
// counter-based version token; PutErrors can script failures per call.
type MockDocumentStorage struct {
	mu       sync.Mutex
	Docs     map[string]Document
	Versions map[string]string
	ReadOnly bool

	// PutErrors is consumed front-to-back: each PutDocument call pops one
	// entry and returns it when non-nil.
	PutErrors []error

	GetCalls int
	PutCalls int
	sequence int
}

func NewMockDocumentStorage() *MockDocumentStorage {
	return &MockDocumentStorage{
		Docs:     map[string]Document{},
		Versions: map[string]string{},
	}
}

func (m *MockDocumentStorage) Writable() bool {
	return !m.ReadOnly
}

func (m *MockDocumentStorage) GetDocument(_ context.Context, path string) (Document, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++

	doc, ok := m.Docs[path]
	if !ok {
		return Document{}, "", nil
	}
	return cloneDocument(doc), m.Versions[path], nil
}

func (m *MockDocumentStorage) PutDocument(_ context.Context, path string, doc Document, _ string, expectedVersion string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutCalls++

	if m.ReadOnly {
		return "", ErrWriteDisabled
	}
	if len(m.PutErrors) > 0 {
		next := m.PutErrors[0]
		m.PutErrors = m.PutErrors[1:]
		if next != nil {
			return "", next
		}
	}

	current, exists := m.Versions[path]
	if exists && expectedVersion == "" {
		return "", fmt.Errorf("put %s: document already exists: %w", path, ErrConflict)
	}
	if expectedVersion != "" && expectedVersion != current {
		return "", fmt.Errorf("put %s: stale version %s: %w", path, expectedVersion, ErrConflict)
	}

	m.sequence++
	version := fmt.Sprintf("v%d", m.sequence)
	m.Docs[path] = cloneDocument(doc)
	m.Versions[path] = version
	return version, nil
}
