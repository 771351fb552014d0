package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
)

type stubExpressions struct{}

func (stubExpressions) Check(expression string) error {
	if strings.Contains(expression, "((") {
		return errors.New("syntax error")
	}
	return nil
}

func validDefinition() *entity.WorkflowDefinition {
	return &entity.WorkflowDefinition{
		Key:  "hazard",
		Name: "Hazard",
		Steps: []entity.Step{
			{
				ID:           "assign",
				Name:         "Assign",
				Status:       "assigning",
				Handlers:     []entity.HandlerStrategy{{Kind: entity.HandlerRole, Role: "ehs_manager"}},
				ApprovalMode: entity.ApprovalModeSingle,
			},
			{
				ID:           "verify",
				Name:         "Verify",
				Status:       "verifying",
				Handlers:     []entity.HandlerStrategy{{Kind: entity.HandlerRole, Role: "safety_officer"}},
				ApprovalMode: entity.ApprovalModeOr,
				CCRules:      []entity.CCRule{{Kind: entity.CCReporter, When: `form.severity == "high"`}},
				Rollback:     entity.RollbackRule{ToStep: "assign"},
			},
		},
		Transitions: []entity.TransitionRule{
			{Status: "assigning", Action: "assign", Kind: entity.ActionAdvance},
			{Status: "verifying", Action: "verify", Kind: entity.ActionAdvance},
			{Status: "verifying", Action: "reject", Kind: entity.ActionReject},
			{Status: "rejected", Action: "resubmit", Kind: entity.ActionResubmit},
		},
		CompletedStatus: "closed",
		RejectedStatus:  "rejected",
	}
}

func TestDefinitionService_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *entity.WorkflowDefinition)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(d *entity.WorkflowDefinition) {},
		},
		{
			name:    "terminal statuses collide",
			mutate:  func(d *entity.WorkflowDefinition) { d.RejectedStatus = "closed" },
			wantErr: "must differ",
		},
		{
			name:    "duplicate step id",
			mutate:  func(d *entity.WorkflowDefinition) { d.Steps[1].ID = "assign" },
			wantErr: "duplicate step id",
		},
		{
			name:    "step without handler",
			mutate:  func(d *entity.WorkflowDefinition) { d.Steps[0].Handlers = nil },
			wantErr: "no_handler_ok",
		},
		{
			name: "creator-open step",
			mutate: func(d *entity.WorkflowDefinition) {
				d.Steps[0].Handlers = nil
				d.Steps[0].NoHandlerOK = true
			},
		},
		{
			name:    "rollback forward",
			mutate:  func(d *entity.WorkflowDefinition) { d.Steps[0].Rollback.ToStep = "verify" },
			wantErr: "earlier step",
		},
		{
			name:    "rollback to unknown step",
			mutate:  func(d *entity.WorkflowDefinition) { d.Steps[1].Rollback.ToStep = "nowhere" },
			wantErr: "unknown step",
		},
		{
			name:    "bad cc condition",
			mutate:  func(d *entity.WorkflowDefinition) { d.Steps[1].CCRules[0].When = "((" },
			wantErr: "cc rule 0",
		},
		{
			name: "resubmit outside rejected",
			mutate: func(d *entity.WorkflowDefinition) {
				d.Transitions = append(d.Transitions, entity.TransitionRule{Status: "verifying", Action: "redo", Kind: entity.ActionResubmit})
			},
			wantErr: "resubmit is only allowed",
		},
		{
			name:    "status without advance",
			mutate:  func(d *entity.WorkflowDefinition) { d.Transitions = d.Transitions[1:] },
			wantErr: "assigning has no advance action",
		},
	}

	svc := NewDefinitionService(&mockDefinitionRepo{}, nil, stubExpressions{}, &mockLogger{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mutate(def)
			err := svc.Validate(def)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDefinition)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefinitionService_RegisterBumpsVersion(t *testing.T) {
	repo := &mockDefinitionRepo{}
	svc := NewDefinitionService(repo, nil, nil, &mockLogger{})
	ctx := context.Background()

	first, err := svc.Register(ctx, validDefinition())
	require.NoError(t, err)
	second, err := svc.Register(ctx, validDefinition())
	require.NoError(t, err)

	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 2, second.Version)

	latest, err := svc.Latest(ctx, "hazard")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	_, err = svc.Latest(ctx, "permit")
	assert.ErrorIs(t, err, ErrDefinitionNotFound)
}

func TestDefinitionService_SeedFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workflows.yaml")
	seed := `
definitions:
  - key: permit
    name: Hot work permit
    completed_status: approved
    rejected_status: rejected
    steps:
      - id: review
        name: Review
        status: reviewing
        approval_mode: AND
        handlers:
          - kind: role
            role: safety_officer
        signature_cell: "Sheet1!B12"
    transitions:
      - {status: reviewing, action: approve, kind: advance}
      - {status: reviewing, action: reject, kind: reject}
`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o644))

	repo := &mockDefinitionRepo{}
	svc := NewDefinitionService(repo, nil, nil, &mockLogger{})
	ctx := context.Background()

	n, err := svc.SeedFromFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	def, err := svc.Latest(ctx, "permit")
	require.NoError(t, err)
	assert.Equal(t, entity.ApprovalModeAnd, def.Steps[0].ApprovalMode)
	assert.Equal(t, "Sheet1!B12", def.Steps[0].SignatureCell)

	n, err = svc.SeedFromFile(ctx, path)
	require.NoError(t, err)
	assert.Zero(t, n, "seeding twice must not add versions")

	n, err = svc.SeedFromFile(ctx, filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Zero(t, n)
}
