package merge

import "github.com/MarcoPoloResearchLab/vocabsync/internal/vocabulary"

// ResolveProgress keeps whichever practice snapshot has the larger timestamp. The
// remote snapshot wins ties. Fields are never combined across snapshots.
func ResolveProgress(local, remote *vocabulary.Progress) *vocabulary.Progress {
	switch {
	case local == nil && remote == nil:
		return nil
	case local == nil:
		return remote.Clone()
	case remote == nil:
		return local.Clone()
	case local.Timestamp > remote.Timestamp:
		return local.Clone()
	default:
		return remote.Clone()
	}
}
