package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

func evidenceFrom(rooms ...string) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(rooms))
	for i, room := range rooms {
		out = append(out, domain.Candidate{Chunk: domain.Chunk{ID: string(rune('a' + i)), RoomID: room}})
	}
	return out
}

func TestCheckPolicyInsufficientEvidence(t *testing.T) {
	policy := domain.EvaluationPolicy{MinEvidenceItems: 3}
	check := CheckPolicy(evidenceFrom("r1", "r2"), policy)

	assert.False(t, check.OK)
	assert.Equal(t, domain.KindInsufficientEvidence, check.Reason)
	assert.Contains(t, check.Message, "Insufficient evidence")
}

func TestCheckPolicyInsufficientDiversity(t *testing.T) {
	policy := domain.EvaluationPolicy{MinEvidenceItems: 3, RequireMultiSource: true}
	check := CheckPolicy(evidenceFrom("r1", "r1", "r1"), policy)

	assert.False(t, check.OK)
	assert.Equal(t, domain.KindInsufficientDiversity, check.Reason)
	assert.Contains(t, check.Message, "Insufficient diversity")
}

func TestCheckPolicyPasses(t *testing.T) {
	policy := domain.EvaluationPolicy{MinEvidenceItems: 3, RequireMultiSource: true}
	assert.True(t, CheckPolicy(evidenceFrom("r1", "r2", "r1"), policy).OK)

	policy.RequireMultiSource = false
	assert.True(t, CheckPolicy(evidenceFrom("r1", "r1", "r1"), policy).OK)
}

func TestEnforceLeniencyKnob(t *testing.T) {
	singleRoom := evidenceFrom("r1", "r1", "r1")

	strict := domain.EvaluationPolicy{MinEvidenceItems: 3, RequireMultiSource: true, DiversityLeniencyMinItems: 0}
	decision := Enforce(singleRoom, strict)
	assert.False(t, decision.Proceed)
	require.NotNil(t, decision.Failure)
	assert.Equal(t, domain.KindInsufficientDiversity, decision.Failure.Reason)

	lenient := strict
	lenient.DiversityLeniencyMinItems = 3
	decision = Enforce(singleRoom, lenient)
	assert.True(t, decision.Proceed)
	require.NotNil(t, decision.Warning)
	assert.Equal(t, domain.KindInsufficientDiversity, decision.Warning.Reason)

	higher := strict
	higher.DiversityLeniencyMinItems = 5
	assert.False(t, Enforce(singleRoom, higher).Proceed)
}

func TestEnforceNeverBypassesMinimum(t *testing.T) {
	policy := domain.EvaluationPolicy{MinEvidenceItems: 3, RequireMultiSource: true, DiversityLeniencyMinItems: 1}
	decision := Enforce(evidenceFrom("r1", "r2"), policy)
	assert.False(t, decision.Proceed)
	require.NotNil(t, decision.Failure)
	assert.Equal(t, domain.KindInsufficientEvidence, decision.Failure.Reason)
}

func TestDistinctRoomsIgnoresUnattributedEvidence(t *testing.T) {
	evidence := evidenceFrom("r1", "", "  ")
	evidence = append(evidence, domain.Candidate{Chunk: domain.Chunk{ID: "x", RoomName: "#eng"}})
	assert.Equal(t, 2, DistinctRooms(evidence))

	policy := domain.EvaluationPolicy{MinEvidenceItems: 3, RequireMultiSource: true}
	check := CheckPolicy(evidenceFrom("r1", "", "r1"), policy)
	assert.False(t, check.OK)
	assert.Equal(t, domain.KindInsufficientDiversity, check.Reason)
}
