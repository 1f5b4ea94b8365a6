// Package merge reconciles a local and a remote replica of a user's vocabulary data.
//
// Every function in this package is pure: inputs are never modified and outputs share
// no memory with them.
package merge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/vocabulary"
)

// ErrUnknownPolicy indicates that a reconciliation policy name is not recognized.
var ErrUnknownPolicy = errors.New("merge: unknown reconciliation policy")

// PolicyName identifies a reconciliation strategy.
type PolicyName string

const (
	// PolicyTombstone selects whole-library last-write-wins with tombstone propagation.
	PolicyTombstone PolicyName = "tombstone"
	// PolicyUnion selects the deprecated item-level union strategy.
	PolicyUnion PolicyName = "union"
)

// Input carries both replicas' libraries and deletion tombstones.
type Input struct {
	LocalLibraries   []vocabulary.Library
	RemoteLibraries  []vocabulary.Library
	LocalTombstones  []string
	RemoteTombstones []string
}

// Result is the merged state.
type Result struct {
	Libraries  []vocabulary.Library
	Tombstones []string
}

// ReconciliationPolicy merges two replicas into one.
type ReconciliationPolicy interface {
	Name() PolicyName
	Reconcile(input Input) Result
}

// Default returns the canonical tombstone-aware policy.
func Default() ReconciliationPolicy {
	return TombstonePolicy{}
}

// PolicyByName resolves a configured policy name. An empty name selects the default.
func PolicyByName(name string) (ReconciliationPolicy, error) {
	switch PolicyName(strings.ToLower(strings.TrimSpace(name))) {
	case "", PolicyTombstone:
		return TombstonePolicy{}, nil
	case PolicyUnion:
		return UnionPolicy{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

// UnionTombstones returns the set union of both tombstone lists: local ids in order,
// then remote ids not already present. Blank and duplicate ids are dropped; every other
// id is kept exactly as given so the result is a superset of both inputs.
func UnionTombstones(local, remote []string) []string {
	seen := make(map[string]struct{}, len(local)+len(remote))
	union := make([]string, 0, len(local)+len(remote))
	for _, list := range [][]string{local, remote} {
		for _, id := range list {
			if strings.TrimSpace(id) == "" {
				continue
			}
			if _, duplicate := seen[id]; duplicate {
				continue
			}
			seen[id] = struct{}{}
			union = append(union, id)
		}
	}
	return union
}

// libraryIndex is an insertion-ordered map of libraries keyed by id.
type libraryIndex struct {
	order []string
	byID  map[string]vocabulary.Library
}

func newLibraryIndex(capacity int) *libraryIndex {
	return &libraryIndex{
		order: make([]string, 0, capacity),
		byID:  make(map[string]vocabulary.Library, capacity),
	}
}

func (index *libraryIndex) get(id string) (vocabulary.Library, bool) {
	library, found := index.byID[id]
	return library, found
}

func (index *libraryIndex) set(library vocabulary.Library) {
	if _, found := index.byID[library.ID]; !found {
		index.order = append(index.order, library.ID)
	}
	index.byID[library.ID] = library
}

func (index *libraryIndex) values() []vocabulary.Library {
	libraries := make([]vocabulary.Library, 0, len(index.order))
	for _, id := range index.order {
		libraries = append(libraries, index.byID[id].Clone())
	}
	return libraries
}

// newer reports whether candidate must replace current: the strictly larger effective
// timestamp wins and ties go to the candidate, which is always the side folded later.
func newer(current, candidate vocabulary.Library) bool {
	return candidate.EffectiveTimestamp() >= current.EffectiveTimestamp()
}
