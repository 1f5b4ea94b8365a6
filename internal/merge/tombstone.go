package merge

import "github.com/MarcoPoloResearchLab/vocabsync/internal/vocabulary"

// TombstonePolicy performs whole-library last-write-wins with tombstone-based delete
// propagation. A library whose id appears in either tombstone set is dropped from
// the result regardless of its timestamps.
type TombstonePolicy struct{}

// Name implements ReconciliationPolicy.
func (TombstonePolicy) Name() PolicyName {
	return PolicyTombstone
}

// Reconcile implements ReconciliationPolicy. Local libraries are folded first and
// remote libraries second; on equal effective timestamps the remote copy is kept.
func (TombstonePolicy) Reconcile(input Input) Result {
	tombstones := UnionTombstones(input.LocalTombstones, input.RemoteTombstones)
	deleted := make(map[string]struct{}, len(tombstones))
	for _, id := range tombstones {
		deleted[id] = struct{}{}
	}

	index := newLibraryIndex(len(input.LocalLibraries) + len(input.RemoteLibraries))
	for _, side := range [][]vocabulary.Library{input.LocalLibraries, input.RemoteLibraries} {
		for _, library := range side {
			if _, tombstoned := deleted[library.ID]; tombstoned {
				continue
			}
			current, found := index.get(library.ID)
			if found && !newer(current, library) {
				continue
			}
			index.set(library)
		}
	}

	return Result{
		Libraries:  index.values(),
		Tombstones: tombstones,
	}
}
