package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hyperjump/shiryo/internal/models"
)

func TestShouldIndexDocument(t *testing.T) {
	other := models.Int64Ptr(1)
	self := models.Int64Ptr(2)
	tests := []struct {
		name    string
		subject Subject
		mode    Mode
		policy  IndexPolicy
		want    bool
	}{
		{"ignored never indexed", Subject{ID: 2, Status: models.DedupIgnored}, ModeOff, PolicyIndexAll, false},
		{"mode off indexes exact dup", Subject{ID: 2, Status: models.DedupExactDup, PrimaryDocID: other}, ModeOff, PolicyIndexPrimaryOnly, true},
		{"exact dup skipped", Subject{ID: 2, Status: models.DedupExactDup, PrimaryDocID: other}, ModeExactAndNear, PolicyIndexAll, false},
		{"unique indexed", Subject{ID: 2, Status: models.DedupUnique}, ModeExactAndNear, PolicyIndexPrimaryOnly, true},
		{"near dup primary only", Subject{ID: 2, Status: models.DedupNearDup, PrimaryDocID: other}, ModeExactAndNear, PolicyIndexPrimaryOnly, false},
		{"near dup self primary", Subject{ID: 2, Status: models.DedupNearDup, PrimaryDocID: self}, ModeExactAndNear, PolicyIndexPrimaryOnly, true},
		{"near dup prefer", Subject{ID: 2, Status: models.DedupNearDup, PrimaryDocID: other}, ModeExactAndNear, PolicyIndexPrimaryPrefer, true},
		{"near dup all", Subject{ID: 2, Status: models.DedupNearDup, PrimaryDocID: other}, ModeExactAndNear, PolicyIndexAll, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldIndexDocument(tt.subject, tt.mode, tt.policy))
		})
	}
}

func TestIsPenalized(t *testing.T) {
	near := Subject{ID: 2, Status: models.DedupNearDup, PrimaryDocID: models.Int64Ptr(1)}
	assert.True(t, IsPenalized(near, ModeExactAndNear, PolicyIndexPrimaryPrefer))
	assert.False(t, IsPenalized(near, ModeExactAndNear, PolicyIndexAll))
	assert.False(t, IsPenalized(near, ModeOff, PolicyIndexPrimaryPrefer))
	assert.False(t, IsPenalized(Subject{ID: 1, Status: models.DedupUnique}, ModeExactAndNear, PolicyIndexPrimaryPrefer))
}
