package dedup

import "github.com/hyperjump/shiryo/internal/models"

// Mode controls which detectors run.
type Mode string

const (
	ModeOff          Mode = "off"
	ModeExactOnly    Mode = "exact_only"
	ModeExactAndNear Mode = "exact_and_near"
)

// IndexPolicy controls how near-duplicates are indexed.
type IndexPolicy string

const (
	PolicyIndexAll           IndexPolicy = "index_all"
	PolicyIndexPrimaryOnly   IndexPolicy = "index_primary_only"
	PolicyIndexPrimaryPrefer IndexPolicy = "index_primary_prefer"
)

// Subject is the part of a document the indexing policy looks at.
type Subject struct {
	ID           int64
	Status       models.DedupStatus
	PrimaryDocID *int64
}

// SubjectOf extracts the policy subject from a document.
func SubjectOf(doc *models.Document) Subject {
	return Subject{ID: doc.ID, Status: doc.DedupStatus, PrimaryDocID: doc.DedupPrimaryDocID}
}

// IsPrimary reports whether the subject has no other primary.
func (s Subject) IsPrimary() bool {
	return s.PrimaryDocID == nil || *s.PrimaryDocID == s.ID
}

// ShouldIndexDocument decides whether a document's chunks go into the index.
func ShouldIndexDocument(s Subject, mode Mode, policy IndexPolicy) bool {
	if s.Status == models.DedupIgnored {
		return false
	}
	if mode == ModeOff {
		return true
	}
	switch s.Status {
	case models.DedupExactDup:
		return false
	case models.DedupNearDup:
		if s.IsPrimary() {
			return true
		}
		return policy != PolicyIndexPrimaryOnly
	default:
		return true
	}
}

// IsPenalized reports whether search should demote the subject's chunks: non-primary
// near-duplicates under index_primary_prefer.
func IsPenalized(s Subject, mode Mode, policy IndexPolicy) bool {
	return mode != ModeOff &&
		policy == PolicyIndexPrimaryPrefer &&
		s.Status == models.DedupNearDup &&
		!s.IsPrimary()
}
