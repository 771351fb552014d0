// Package visibility derives the authorization index rows of an item from its state.
package visibility

import (
	"sort"

	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
)

// Compute returns the complete, de-duplicated set of visibility tuples for item.
// The result depends only on item state, so recomputing it is always safe.
func Compute(item *entity.WorkflowItem) []entity.ItemVisibility {
	if item == nil {
		return nil
	}

	seen := make(map[entity.ItemVisibility]bool)
	var out []entity.ItemVisibility
	add := func(userID string, role entity.VisibilityRole) {
		if userID == "" {
			return
		}
		t := entity.ItemVisibility{ItemID: item.ID, UserID: userID, Role: role}
		if seen[t] {
			return
		}
		seen[t] = true
		out = append(out, t)
	}

	add(item.CreatorID, entity.RoleCreator)

	// Mid-consensus steps have no single executor
	add(item.ExecutorID, entity.RoleExecutor)
	for _, id := range item.HistoricalHandlerIDs {
		add(id, entity.RoleExecutor)
	}

	for _, id := range item.CCUsers {
		add(id, entity.RoleCC)
	}
	add(item.ResponsibleID, entity.RoleResponsible)
	add(item.VerifierID, entity.RoleVerifier)

	for _, c := range item.CandidateHandlers {
		add(c.UserID, entity.RoleCandidate)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Role < out[j].Role
	})
	return out
}

// Roles returns the visibility roles userID holds on item
func Roles(item *entity.WorkflowItem, userID string) []entity.VisibilityRole {
	var roles []entity.VisibilityRole
	for _, t := range Compute(item) {
		if t.UserID == userID {
			roles = append(roles, t.Role)
		}
	}
	return roles
}
