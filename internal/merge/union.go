package merge

import (
	"sort"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/vocabulary"
)

// UnionPolicy merges libraries present on both sides item by item.
//
// Deprecated: UnionPolicy ignores tombstones and resurrects libraries deleted on the
// other replica. It is kept to compare results against TombstonePolicy.
type UnionPolicy struct{}

// Name implements ReconciliationPolicy.
func (UnionPolicy) Name() PolicyName {
	return PolicyUnion
}

// Reconcile implements ReconciliationPolicy. For a library present on both sides the
// metadata comes from the copy with the larger effective timestamp (remote on ties) and
// the items are the union of both copies keyed by identity, newest first.
func (UnionPolicy) Reconcile(input Input) Result {
	index := newLibraryIndex(len(input.LocalLibraries) + len(input.RemoteLibraries))
	for _, library := range input.LocalLibraries {
		index.set(library)
	}
	for _, remote := range input.RemoteLibraries {
		local, found := index.get(remote.ID)
		if !found {
			index.set(remote)
			continue
		}
		merged := local.Clone()
		if newer(local, remote) {
			merged = remote.Clone()
		}
		merged.Items = unionItems(local.Items, remote.Items)
		index.set(merged)
	}

	return Result{
		Libraries:  index.values(),
		Tombstones: UnionTombstones(input.LocalTombstones, input.RemoteTombstones),
	}
}

func unionItems(local, remote []vocabulary.Item) []vocabulary.Item {
	order := make([]vocabulary.ItemKey, 0, len(local)+len(remote))
	byKey := make(map[vocabulary.ItemKey]vocabulary.Item, len(local)+len(remote))
	for _, items := range [][]vocabulary.Item{local, remote} {
		for _, item := range items {
			key := item.IdentityKey()
			if _, found := byKey[key]; !found {
				order = append(order, key)
			}
			byKey[key] = item
		}
	}

	merged := make([]vocabulary.Item, 0, len(order))
	for _, key := range order {
		merged = append(merged, byKey[key])
	}
	sort.SliceStable(merged, func(left, right int) bool {
		return merged[left].CreatedAt > merged[right].CreatedAt
	})
	return merged
}
