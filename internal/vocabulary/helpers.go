package vocabulary

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// ItemKey identifies an item for deduplication: two items with equal keys are the same study unit.
type ItemKey struct {
	Kind       ItemKind
	TextTarget string
	TextNative string
}

// IdentityKey returns the deduplication key of the item.
func (item Item) IdentityKey() ItemKey {
	return ItemKey{
		Kind:       item.Kind,
		TextTarget: norm.NFC.String(item.TextTarget),
		TextNative: norm.NFC.String(item.TextNative),
	}
}

// NameTaken reports whether a library with the given name already exists, ignoring case.
// It is an admission check for library creation; merging does not enforce name uniqueness.
func NameTaken(libraries []Library, name string) bool {
	candidate := foldName(name)
	if candidate == "" {
		return false
	}
	for _, library := range libraries {
		if foldName(library.Name) == candidate {
			return true
		}
	}
	return false
}

func foldName(name string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(name)))
}

// AppendWrongAnswers records items answered incorrectly in the wrong-answer library,
// creating that library when it does not exist yet. Items already present (by identity
// key) are skipped. The input slice is not modified; the returned count is the number
// of items appended.
func AppendWrongAnswers(libraries []Library, items []Item, now time.Time) ([]Library, int) {
	result := CloneLibraries(libraries)
	nowMillis := now.UnixMilli()

	index := -1
	for position, library := range result {
		if library.IsWrongAnswerLibrary() {
			index = position
			break
		}
	}
	created := false
	if index < 0 {
		result = append(result, Library{
			ID:        WrongAnswerLibraryID,
			Name:      WrongAnswerLibraryName,
			Items:     []Item{},
			CreatedAt: nowMillis,
		})
		index = len(result) - 1
		created = true
	}

	target := &result[index]
	knownKeys := make(map[ItemKey]struct{}, len(target.Items))
	knownIDs := make(map[string]struct{}, len(target.Items))
	for _, existing := range target.Items {
		knownKeys[existing.IdentityKey()] = struct{}{}
		knownIDs[existing.ID] = struct{}{}
	}

	appended := 0
	for _, item := range items {
		key := item.IdentityKey()
		if _, found := knownKeys[key]; found {
			continue
		}
		entry := item
		if _, taken := knownIDs[entry.ID]; taken || strings.TrimSpace(entry.ID) == "" {
			entry.ID = uuid.NewString()
		}
		entry.CreatedAt = nowMillis
		target.Items = append(target.Items, entry)
		knownKeys[key] = struct{}{}
		knownIDs[entry.ID] = struct{}{}
		appended++
	}

	if appended > 0 || created {
		target.UpdatedAt = Int64Pointer(nowMillis)
	}
	return result, appended
}
