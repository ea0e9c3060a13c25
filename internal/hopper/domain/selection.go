package domain

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// SelectionPolicy decides how leads the agent held before are treated
// when the agent is refilled.
type SelectionPolicy string

const (
	// PolicyDeprioritize ranks fresh leads first and recycled ones after.
	PolicyDeprioritize SelectionPolicy = "deprioritize"
	// PolicyExclude never gives an agent a lead it already held.
	PolicyExclude SelectionPolicy = "exclude"
	// PolicyIgnore ranks purely by quality score.
	PolicyIgnore SelectionPolicy = "ignore"
)

// ParseSelectionPolicy validates raw input. Empty input selects the default.
func ParseSelectionPolicy(raw string) (SelectionPolicy, error) {
	switch p := SelectionPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PolicyDeprioritize, nil
	case PolicyDeprioritize, PolicyExclude, PolicyIgnore:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, raw)
	}
}

// RankCandidates filters pool leads for agentID and orders them the way the
// allocator consumes them: fresh before previously held (per policy), then
// quality score descending, then id ascending. Non-pool leads are dropped.
func RankCandidates(leads []Lead, agentID uuid.UUID, policy SelectionPolicy) []Lead {
	out := make([]Lead, 0, len(leads))
	for _, l := range leads {
		if l.Status != StatusUnassigned {
			continue
		}
		if policy == PolicyExclude && l.PreviouslyHeldBy(agentID) {
			continue
		}
		out = append(out, l)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if policy == PolicyDeprioritize {
			ri, rj := out[i].PreviouslyHeldBy(agentID), out[j].PreviouslyHeldBy(agentID)
			if ri != rj {
				return !ri
			}
		}
		if out[i].QualityScore != out[j].QualityScore {
			return out[i].QualityScore > out[j].QualityScore
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}
