package visibility

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
)

func TestCompute(t *testing.T) {
	item := &entity.WorkflowItem{
		ID:                   42,
		CreatorID:            "reporter",
		ExecutorID:           "u1",
		HistoricalHandlerIDs: []string{"old", "u1"},
		CCUsers:              []string{"cc1", "reporter"},
		ResponsibleID:        "resp",
		VerifierID:           "ver",
		CandidateHandlers:    []entity.CandidateHandler{{UserID: "u1"}},
	}

	got := Compute(item)

	assert.ElementsMatch(t, []entity.ItemVisibility{
		{ItemID: 42, UserID: "reporter", Role: entity.RoleCreator},
		{ItemID: 42, UserID: "reporter", Role: entity.RoleCC},
		{ItemID: 42, UserID: "u1", Role: entity.RoleExecutor},
		{ItemID: 42, UserID: "u1", Role: entity.RoleCandidate},
		{ItemID: 42, UserID: "old", Role: entity.RoleExecutor},
		{ItemID: 42, UserID: "cc1", Role: entity.RoleCC},
		{ItemID: 42, UserID: "resp", Role: entity.RoleResponsible},
		{ItemID: 42, UserID: "ver", Role: entity.RoleVerifier},
	}, got)
}

func TestCompute_IsDeterministic(t *testing.T) {
	item := &entity.WorkflowItem{
		ID:                   1,
		CreatorID:            "c",
		HistoricalHandlerIDs: []string{"z", "a", "m"},
		CandidateHandlers:    []entity.CandidateHandler{{UserID: "b"}, {UserID: "y"}},
	}

	assert.Equal(t, Compute(item), Compute(item))
}

func TestCompute_MidConsensusHasNoExecutor(t *testing.T) {
	item := &entity.WorkflowItem{
		ID:                1,
		CreatorID:         "c",
		ApprovalMode:      entity.ApprovalModeAnd,
		CandidateHandlers: []entity.CandidateHandler{{UserID: "u2", HasOperated: true}, {UserID: "u3"}},
	}

	assert.NotContains(t, Roles(item, "u2"), entity.RoleExecutor)
	assert.Equal(t, []entity.VisibilityRole{entity.RoleCandidate}, Roles(item, "u3"))
}

func TestCompute_Nil(t *testing.T) {
	assert.Nil(t, Compute(nil))
}
