package vocabulary

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrMalformedDocument indicates that a payload is not a JSON object at all.
var ErrMalformedDocument = errors.New("vocabulary: malformed document")

const (
	fieldLibraries         = "libraries"
	fieldDeletedLibraryIDs = "deletedLibraryIds"
	fieldPracticeProgress  = "practiceProgress"
	fieldUpdatedAt         = "updatedAt"
	fieldServerTimestamp   = "_ts"
)

// DecodeDocument parses a remote document. Fields with an unexpected shape are coerced
// to empty values instead of failing: a non-array libraries field yields no libraries,
// unreadable library entries are skipped, a non-object progress yields nil and
// non-numeric timestamps yield zero. Only a payload that is not a JSON object fails.
func DecodeDocument(raw []byte) (Document, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if fields == nil {
		return Document{}, fmt.Errorf("%w: null", ErrMalformedDocument)
	}

	document := Document{
		Snapshot: Snapshot{
			Libraries:         DecodeLibraries(fields[fieldLibraries]),
			DeletedLibraryIDs: decodeStringSet(fields[fieldDeletedLibraryIDs]),
			PracticeProgress:  decodeProgress(fields[fieldPracticeProgress]),
			UpdatedAt:         decodeMillis(fields[fieldUpdatedAt]),
		},
		ServerTimestamp: decodeMillis(fields[fieldServerTimestamp]),
	}
	return document, nil
}

// DecodeLibraries parses a JSON array of libraries, skipping entries that cannot be read
// or carry no valid id. Anything other than an array yields an empty slice.
func DecodeLibraries(raw json.RawMessage) []Library {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return []Library{}
	}
	libraries := make([]Library, 0, len(entries))
	for _, entry := range entries {
		var library Library
		if err := json.Unmarshal(entry, &library); err != nil {
			continue
		}
		if _, err := NewLibraryID(library.ID); err != nil {
			continue
		}
		if library.Items == nil {
			library.Items = []Item{}
		}
		libraries = append(libraries, library)
	}
	return libraries
}

func decodeStringSet(raw json.RawMessage) []string {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return []string{}
	}
	seen := make(map[string]struct{}, len(entries))
	values := make([]string, 0, len(entries))
	for _, entry := range entries {
		var value string
		if err := json.Unmarshal(entry, &value); err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, duplicate := seen[value]; duplicate {
			continue
		}
		seen[value] = struct{}{}
		values = append(values, value)
	}
	return values
}

func decodeProgress(raw json.RawMessage) *Progress {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var progress Progress
	if err := json.Unmarshal(trimmed, &progress); err != nil {
		return nil
	}
	return &progress
}

func decodeMillis(raw json.RawMessage) int64 {
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	return int64(value)
}
