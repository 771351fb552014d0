package workflow

import (
	"errors"
	"sort"
	"testing"

	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
)

func hazardLattice() Lattice {
	b := NewBuilder("reported", "assigned", "rectifying", "verified", "closed", "rejected")
	b.Configure("reported").
		Permit(ActionAssign, entity.ActionAdvance).
		Permit(ActionReject, entity.ActionReject)
	b.Configure("assigned").
		Permit(ActionRectify, entity.ActionAdvance).
		Permit(ActionReject, entity.ActionReject)
	b.Configure("rectifying").
		Permit(ActionVerify, entity.ActionAdvance).
		Permit(ActionReject, entity.ActionReject)
	b.Configure("rejected").
		Permit(ActionResubmit, entity.ActionResubmit)
	return b.Build()
}

func TestStatus_String(t *testing.T) {
	if got := Status("reported").String(); got != "reported" {
		t.Errorf("Status.String() = %v, want %v", got, "reported")
	}
}

func TestAction_String(t *testing.T) {
	if got := ActionApprove.String(); got != "approve" {
		t.Errorf("Action.String() = %v, want %v", got, "approve")
	}
}

func TestBuilder_ConfigurePanicsOnUndeclaredStatus(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for undeclared status")
		}
	}()

	b := NewBuilder("draft")
	b.Configure("processing")
}

func TestLattice_Fire(t *testing.T) {
	l := hazardLattice()

	tests := []struct {
		name    string
		status  Status
		action  Action
		want    entity.ActionKind
		wantErr error
	}{
		{"assign from reported", "reported", ActionAssign, entity.ActionAdvance, nil},
		{"reject from rectifying", "rectifying", ActionReject, entity.ActionReject, nil},
		{"resubmit from rejected", "rejected", ActionResubmit, entity.ActionResubmit, nil},
		{"verify not legal while reported", "reported", ActionVerify, "", ErrInvalidTransition},
		{"terminal status has no configuration", "closed", ActionApprove, "", ErrInvalidTransition},
		{"undeclared status", "archived", ActionApprove, "", ErrUnknownStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.Fire(tt.status, tt.action)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Fire() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Fire() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Fire() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLattice_CanFire(t *testing.T) {
	l := hazardLattice()

	if !l.CanFire("assigned", ActionRectify) {
		t.Error("expected rectify to be legal in assigned")
	}
	if l.CanFire("assigned", ActionVerify) {
		t.Error("expected verify to be illegal in assigned")
	}
	if l.CanFire("closed", ActionReject) {
		t.Error("expected nothing to be legal in closed")
	}
}

func TestLattice_PermittedActions(t *testing.T) {
	l := hazardLattice()

	actions := l.PermittedActions("reported")
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	if len(actions) != 2 || actions[0] != ActionAssign || actions[1] != ActionReject {
		t.Errorf("PermittedActions() = %v, want [assign reject]", actions)
	}

	if got := l.PermittedActions("closed"); len(got) != 0 {
		t.Errorf("PermittedActions(closed) = %v, want empty", got)
	}
}

func TestLattice_Immutability(t *testing.T) {
	b := NewBuilder("draft", "processing")
	b.Configure("draft").Permit(ActionSubmit, entity.ActionAdvance)
	l := b.Build()

	// Configuring after Build must not affect the built lattice
	b.Configure("draft").Permit(ActionExtend, entity.ActionAnnotate)

	if l.CanFire("draft", ActionExtend) {
		t.Error("built lattice was modified by later configuration")
	}
}

func TestFromDefinition(t *testing.T) {
	def := &entity.WorkflowDefinition{
		Key: "permit",
		Steps: []entity.Step{
			{ID: "apply", Status: "draft"},
			{ID: "review", Status: "processing"},
		},
		Transitions: []entity.TransitionRule{
			{Status: "draft", Action: "submit", Kind: entity.ActionAdvance},
			{Status: "processing", Action: "approve", Kind: entity.ActionAdvance},
			{Status: "approved", Action: "extend", Kind: entity.ActionAnnotate},
		},
		CompletedStatus: "approved",
		RejectedStatus:  "rejected",
	}

	l, err := FromDefinition(def)
	if err != nil {
		t.Fatalf("FromDefinition() error: %v", err)
	}
	if kind, err := l.Fire("approved", ActionExtend); err != nil || kind != entity.ActionAnnotate {
		t.Errorf("Fire(approved, extend) = %v, %v", kind, err)
	}
	if !l.Declares("rejected") {
		t.Error("expected rejected status to be declared")
	}

	def.Transitions = append(def.Transitions, entity.TransitionRule{Status: "archived", Action: "reopen"})
	if _, err := FromDefinition(def); !errors.Is(err, ErrUnknownStatus) {
		t.Errorf("FromDefinition() error = %v, want ErrUnknownStatus", err)
	}
}

func TestDispatchError_Unwrap(t *testing.T) {
	err := &DispatchError{Kind: ErrNotCandidate, ItemID: 7, StepIndex: 1, UserID: "u9", Action: ActionApprove}

	if !errors.Is(err, ErrNotCandidate) {
		t.Error("expected DispatchError to unwrap to its kind")
	}

	var de *DispatchError
	if !errors.As(error(err), &de) || de.ItemID != 7 {
		t.Error("expected errors.As to recover the dispatch error")
	}
}
