// Package evidence gates evaluation synthesis on evidence volume and diversity, and validates
// rubric scores returned by the generation service.
package evidence

import (
	"fmt"
	"strings"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

const minDistinctRooms = 2

type PolicyCheck struct {
	OK      bool
	Reason  domain.ErrorKind
	Message string
}

// CheckPolicy applies the hard minimum and the multi-source rule.
func CheckPolicy(evidence []domain.Candidate, policy domain.EvaluationPolicy) PolicyCheck {
	if len(evidence) < policy.MinEvidenceItems {
		return PolicyCheck{
			Reason: domain.KindInsufficientEvidence,
			Message: fmt.Sprintf("Insufficient evidence: found %d relevant excerpts, need at least %d.",
				len(evidence), policy.MinEvidenceItems),
		}
	}
	if policy.RequireMultiSource {
		if rooms := DistinctRooms(evidence); rooms < minDistinctRooms {
			return PolicyCheck{
				Reason: domain.KindInsufficientDiversity,
				Message: fmt.Sprintf("Insufficient diversity: evidence comes from %d room(s), need at least %d.",
					rooms, minDistinctRooms),
			}
		}
	}
	return PolicyCheck{OK: true}
}

// Decision is what the pipeline does with a policy check.
type Decision struct {
	Proceed bool
	// Warning is set when a diversity failure was downgraded by the leniency knob.
	Warning *PolicyCheck
	Failure *PolicyCheck
}

// Enforce applies CheckPolicy and the DiversityLeniencyMinItems knob. The knob only ever relaxes
// the diversity rule; the minimum evidence count is never bypassed.
func Enforce(evidence []domain.Candidate, policy domain.EvaluationPolicy) Decision {
	check := CheckPolicy(evidence, policy)
	if check.OK {
		return Decision{Proceed: true}
	}
	if check.Reason == domain.KindInsufficientDiversity && LenientOnDiversity(len(evidence), policy) {
		return Decision{Proceed: true, Warning: &check}
	}
	return Decision{Failure: &check}
}

func LenientOnDiversity(evidenceCount int, policy domain.EvaluationPolicy) bool {
	if policy.DiversityLeniencyMinItems <= 0 {
		return false
	}
	return evidenceCount >= policy.DiversityLeniencyMinItems && evidenceCount >= policy.MinEvidenceItems
}

// DistinctRooms counts rooms by id, falling back to name. Unattributed evidence counts toward no room.
func DistinctRooms(evidence []domain.Candidate) int {
	rooms := make(map[string]struct{}, len(evidence))
	for _, c := range evidence {
		key := strings.TrimSpace(c.RoomID)
		if key == "" {
			key = strings.TrimSpace(c.RoomName)
		}
		if key == "" {
			continue
		}
		rooms[key] = struct{}{}
	}
	return len(rooms)
}
