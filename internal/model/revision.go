package model

// RevisionOrder is the result of comparing two revision markers.
type RevisionOrder int

const (
	RevisionEqual RevisionOrder = iota
	RevisionNewer
	RevisionOlder
	RevisionDiverged
)

func (r RevisionOrder) String() string {
	switch r {
	case RevisionEqual:
		return "equal"
	case RevisionNewer:
		return "newer"
	case RevisionOlder:
		return "older"
	case RevisionDiverged:
		return "diverged"
	}
	return "unknown"
}

// CompareRevisions orders revision marker a relative to b. Markers are opaque
// tokens of the form "<seq>" or "<seq>-<tag>"; the numeric sequence prefix
// carries the ordering. Equal sequences with different tags mean two writers
// produced the same generation independently — diverged, never silently
// merged. Markers without a numeric prefix only ever compare equal or
// diverged.
func CompareRevisions(a, b string) RevisionOrder {
	if a == b {
		return RevisionEqual
	}
	seqA, okA := revisionSeq(a)
	seqB, okB := revisionSeq(b)
	if !okA || !okB {
		return RevisionDiverged
	}
	switch {
	case seqA > seqB:
		return RevisionNewer
	case seqA < seqB:
		return RevisionOlder
	default:
		return RevisionDiverged
	}
}

func revisionSeq(marker string) (int64, bool) {
	var seq int64
	var digits bool
	for _, c := range marker {
		if c < '0' || c > '9' {
			break
		}
		seq = seq*10 + int64(c-'0')
		digits = true
	}
	return seq, digits
}
