package storage

import (
	"encoding/json"
	"fmt"
)

// marshalDocument serializes a document with sorted keys and two-space
// indentation. Identical documents always produce identical bytes, which
// keeps content-derived version tokens stable across writers.
func marshalDocument(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}
	return data, nil
}

func unmarshalDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON document: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// cloneDocument deep-copies a document so that a modify callback can mutate
// its argument freely without aliasing the caller's copy.
func cloneDocument(doc Document) Document {
	if len(doc) == 0 {
		return Document{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		// Documents come out of json.Unmarshal or user code that is about
		// to be serialized anyway; a marshal failure here would fail the
		// subsequent put with the same error.
		return Document{}
	}
	clone := Document{}
	if err := json.Unmarshal(data, &clone); err != nil {
		return Document{}
	}
	return clone
}
