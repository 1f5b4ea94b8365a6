package vocabulary

import (
	"errors"
	"fmt"
	"strings"
)

// ItemKind enumerates the supported study units.
type ItemKind string

const (
	// ItemKindWord marks a single word or short phrase.
	ItemKindWord ItemKind = "word"
	// ItemKindSentence marks a full sentence.
	ItemKindSentence ItemKind = "sentence"
)

// Category enumerates the practice flavours a library is meant for.
type Category string

const (
	// CategoryDictation is the default category; an empty category means dictation.
	CategoryDictation Category = "dictation"
	// CategoryReadSpeak marks libraries practiced by reading aloud.
	CategoryReadSpeak Category = "read-speak"
)

const (
	// WrongAnswerLibraryID is the reserved id of the system-managed wrong-answer library.
	WrongAnswerLibraryID = "wrong-answers"
	// WrongAnswerLibraryName is the display name given to the wrong-answer library when it is created.
	WrongAnswerLibraryName = "Wrong answers"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("vocabulary: invalid user id")
	// ErrInvalidLibraryID indicates that a library identifier is empty or exceeds storage bounds.
	ErrInvalidLibraryID = errors.New("vocabulary: invalid library id")
	// ErrInvalidLibrary indicates that a library failed structural validation.
	ErrInvalidLibrary = errors.New("vocabulary: invalid library")
	// ErrProtectedLibrary indicates that a system-managed library cannot be deleted by the user.
	ErrProtectedLibrary = errors.New("vocabulary: library is system-managed")
)

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// NewLibraryID validates a library identifier. Ids are compared byte for byte during
// merges, so surrounding whitespace is rejected rather than trimmed.
func NewLibraryID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidLibraryID)
	}
	if trimmed != rawInput {
		return "", fmt.Errorf("%w: %q has surrounding whitespace", ErrInvalidLibraryID, rawInput)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidLibraryID, maxIdentifierLength)
	}
	return trimmed, nil
}

// Item is the atomic study unit.
type Item struct {
	ID         string   `json:"id"`
	TextNative string   `json:"text_native"`
	TextTarget string   `json:"text_target"`
	Kind       ItemKind `json:"kind"`
	CreatedAt  int64    `json:"createdAt"`
}

// Library is a named, ordered collection of items.
type Library struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Category  Category `json:"category,omitempty"`
	Items     []Item   `json:"items"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt *int64   `json:"updatedAt,omitempty"`
}

// Progress is the most recent practice session snapshot.
type Progress struct {
	LibraryID string `json:"libraryId"`
	Mode      string `json:"mode,omitempty"`
	Position  int    `json:"position"`
	Timestamp int64  `json:"timestamp"`
}

// Snapshot is the complete unit of user data exchanged between replicas.
type Snapshot struct {
	Libraries         []Library `json:"libraries"`
	DeletedLibraryIDs []string  `json:"deletedLibraryIds"`
	PracticeProgress  *Progress `json:"practiceProgress"`
	UpdatedAt         int64     `json:"updatedAt"`
}

// Document is a snapshot as stored by the remote replica, stamped by the server.
type Document struct {
	Snapshot
	ServerTimestamp int64 `json:"_ts"`
}

// EffectiveTimestamp returns the instant used for conflict resolution.
func (library Library) EffectiveTimestamp() int64 {
	if library.UpdatedAt != nil && *library.UpdatedAt > library.CreatedAt {
		return *library.UpdatedAt
	}
	return library.CreatedAt
}

// EffectiveCategory returns the library category, defaulting to dictation.
func (library Library) EffectiveCategory() Category {
	if library.Category == "" {
		return CategoryDictation
	}
	return library.Category
}

// IsWrongAnswerLibrary reports whether the library is the system-managed wrong-answer library.
func (library Library) IsWrongAnswerLibrary() bool {
	return library.ID == WrongAnswerLibraryID
}

// Clone returns a deep copy that shares no memory with the receiver.
func (library Library) Clone() Library {
	cloned := library
	if library.Items != nil {
		cloned.Items = append([]Item(nil), library.Items...)
	}
	if library.UpdatedAt != nil {
		updatedAt := *library.UpdatedAt
		cloned.UpdatedAt = &updatedAt
	}
	return cloned
}

// Validate checks the structural invariants of a library.
func (library Library) Validate() error {
	if _, err := NewLibraryID(library.ID); err != nil {
		return err
	}
	switch library.Category {
	case "", CategoryDictation, CategoryReadSpeak:
	default:
		return fmt.Errorf("%w: %s: unknown category %q", ErrInvalidLibrary, library.ID, library.Category)
	}
	seen := make(map[string]struct{}, len(library.Items))
	for _, item := range library.Items {
		if strings.TrimSpace(item.ID) == "" {
			return fmt.Errorf("%w: %s: item without id", ErrInvalidLibrary, library.ID)
		}
		if _, duplicate := seen[item.ID]; duplicate {
			return fmt.Errorf("%w: %s: duplicate item id %q", ErrInvalidLibrary, library.ID, item.ID)
		}
		seen[item.ID] = struct{}{}
		switch item.Kind {
		case ItemKindWord, ItemKindSentence:
		default:
			return fmt.Errorf("%w: %s: item %q has unknown kind %q", ErrInvalidLibrary, library.ID, item.ID, item.Kind)
		}
	}
	return nil
}

// CloneLibraries deep-copies a slice of libraries.
func CloneLibraries(libraries []Library) []Library {
	if libraries == nil {
		return nil
	}
	cloned := make([]Library, 0, len(libraries))
	for _, library := range libraries {
		cloned = append(cloned, library.Clone())
	}
	return cloned
}

// Clone returns a copy of the progress value, or nil.
func (progress *Progress) Clone() *Progress {
	if progress == nil {
		return nil
	}
	copied := *progress
	return &copied
}

// Int64Pointer returns a pointer to a copy of value.
func Int64Pointer(value int64) *int64 {
	v := value
	return &v
}
