package resolver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
)

// org chart used across the resolver tests:
//
//	root
//	└── plant        (ehs: ehs1)
//	    └── workshop (manager: mgr, inactive ehs: gone)
func testOrg() *entity.OrgSnapshot {
	return entity.NewOrgSnapshot(
		[]*entity.Department{
			{ID: "root", Name: "Company"},
			{ID: "plant", Name: "Plant", ParentID: "root"},
			{ID: "workshop", Name: "Workshop", ParentID: "plant", ManagerID: "mgr"},
		},
		[]*entity.User{
			{ID: "reporter", Name: "Reporter", DepartmentID: "workshop", Active: true},
			{ID: "mgr", Name: "Manager", DepartmentID: "workshop", Roles: []string{"dept_manager"}, Active: true},
			{ID: "gone", Name: "Gone", DepartmentID: "workshop", Roles: []string{"ehs_manager"}, Active: false},
			{ID: "ehs1", Name: "EHS One", DepartmentID: "plant", Roles: []string{"ehs_manager", "safety_officer"}, Active: true},
			{ID: "off2", Name: "Officer Two", DepartmentID: "root", Roles: []string{"safety_officer"}, Active: true},
		},
	)
}

func testItem() *entity.WorkflowItem {
	return &entity.WorkflowItem{
		ID:                  1,
		Kind:                entity.KindHazard,
		CreatorID:           "reporter",
		CreatorDepartmentID: "workshop",
		FormData: map[string]any{
			"responsibleId": "mgr",
			"signoff":       []any{"off2", "ehs1", "off2"},
			"area":          "plant",
			"riskLevel":     "high",
		},
	}
}

func TestHandlerResolver_Strategies(t *testing.T) {
	r := NewHandlerResolver()
	org := testOrg()

	tests := []struct {
		name      string
		strategy  entity.HandlerStrategy
		wantIDs   []string
		matchedBy entity.HandlerKind
	}{
		{
			name:      "fixed user",
			strategy:  entity.HandlerStrategy{Kind: entity.HandlerFixedUser, UserID: "ehs1"},
			wantIDs:   []string{"ehs1"},
			matchedBy: entity.HandlerFixedUser,
		},
		{
			name:      "creator",
			strategy:  entity.HandlerStrategy{Kind: entity.HandlerCreator},
			wantIDs:   []string{"reporter"},
			matchedBy: entity.HandlerCreator,
		},
		{
			name:      "dept role walks past inactive holder to parent",
			strategy:  entity.HandlerStrategy{Kind: entity.HandlerDeptRole, Role: "ehs_manager"},
			wantIDs:   []string{"ehs1"},
			matchedBy: entity.HandlerDeptRole,
		},
		{
			name: "dept role anchored on a form field",
			strategy: entity.HandlerStrategy{
				Kind:   entity.HandlerDeptRole,
				Role:   "safety_officer",
				Anchor: entity.Anchor{Kind: entity.AnchorField, Field: "area"},
			},
			wantIDs:   []string{"ehs1"},
			matchedBy: entity.HandlerDeptRole,
		},
		{
			name:      "field user list is sorted by id and deduped",
			strategy:  entity.HandlerStrategy{Kind: entity.HandlerField, Field: "signoff", FieldTarget: entity.FieldTargetUser},
			wantIDs:   []string{"ehs1", "off2"},
			matchedBy: entity.HandlerField,
		},
		{
			name:      "static role ignores department",
			strategy:  entity.HandlerStrategy{Kind: entity.HandlerRole, Role: "safety_officer"},
			wantIDs:   []string{"ehs1", "off2"},
			matchedBy: entity.HandlerRole,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := &entity.Step{ID: "s", Handlers: []entity.HandlerStrategy{tt.strategy}}
			res := r.Resolve(testItem(), step, org)

			require.False(t, res.Empty(), res.Reason)
			assert.Equal(t, tt.matchedBy, res.MatchedBy)
			var ids []string
			for _, h := range res.Handlers {
				ids = append(ids, h.UserID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestHandlerResolver_FieldDepartmentFallsBackToManager(t *testing.T) {
	item := testItem()
	item.FormData["dept"] = "workshop"
	step := &entity.Step{ID: "s", Handlers: []entity.HandlerStrategy{
		{Kind: entity.HandlerField, Field: "dept", FieldTarget: entity.FieldTargetDepartment},
	}}

	res := NewHandlerResolver().Resolve(item, step, testOrg())

	require.Len(t, res.Handlers, 1)
	assert.Equal(t, "mgr", res.Handlers[0].UserID)
}

func TestHandlerResolver_PriorityOrder(t *testing.T) {
	// Declared role-first, but fixed user has higher priority
	step := &entity.Step{ID: "s", Handlers: []entity.HandlerStrategy{
		{Kind: entity.HandlerRole, Role: "safety_officer"},
		{Kind: entity.HandlerFixedUser, UserID: "mgr"},
	}}

	res := NewHandlerResolver().Resolve(testItem(), step, testOrg())

	assert.Equal(t, entity.HandlerFixedUser, res.MatchedBy)
	assert.Equal(t, []entity.UserRef{{UserID: "mgr", UserName: "Manager"}}, res.Handlers)
}

func TestHandlerResolver_FallsThroughToNextStrategy(t *testing.T) {
	step := &entity.Step{ID: "s", Handlers: []entity.HandlerStrategy{
		{Kind: entity.HandlerFixedUser, UserID: "gone"},
		{Kind: entity.HandlerRole, Role: "dept_manager"},
	}}

	res := NewHandlerResolver().Resolve(testItem(), step, testOrg())

	assert.Equal(t, entity.HandlerRole, res.MatchedBy)
	assert.Equal(t, "mgr", res.Handlers[0].UserID)
}

func TestHandlerResolver_NoMatchIsNotAnError(t *testing.T) {
	step := &entity.Step{ID: "verify", Handlers: []entity.HandlerStrategy{
		{Kind: entity.HandlerDeptRole, Role: "auditor"},
		{Kind: entity.HandlerField, Field: "missing"},
	}}

	res := NewHandlerResolver().Resolve(testItem(), step, testOrg())

	assert.True(t, res.Empty())
	assert.Contains(t, res.Reason, "auditor")
	assert.Contains(t, res.Reason, "missing")
}

func TestHandlerResolver_CyclicHierarchyTerminates(t *testing.T) {
	org := entity.NewOrgSnapshot(
		[]*entity.Department{{ID: "a", ParentID: "b"}, {ID: "b", ParentID: "a"}},
		[]*entity.User{{ID: "x", DepartmentID: "a", Active: true}},
	)
	item := &entity.WorkflowItem{CreatorID: "x", CreatorDepartmentID: "a"}
	step := &entity.Step{ID: "s", Handlers: []entity.HandlerStrategy{{Kind: entity.HandlerDeptRole, Role: "boss"}}}

	assert.True(t, NewHandlerResolver().Resolve(item, step, org).Empty())
}

type stubConditions struct {
	result bool
	err    error
	seen   map[string]any
}

func (s *stubConditions) EvalBool(expression string, env map[string]any) (bool, error) {
	s.seen = env
	return s.result, s.err
}

func TestCCResolver_UnionAndDedupe(t *testing.T) {
	r := NewCCResolver(nil)
	rules := []entity.CCRule{
		{Kind: entity.CCReporter},
		{Kind: entity.CCRole, Role: "safety_officer"},
		{Kind: entity.CCUser, UserID: "off2"},
	}

	res := r.ResolveAll(testItem(), rules, nil, testOrg())

	assert.Equal(t, []string{"reporter", "ehs1", "off2"}, res.UserIDs)
	assert.Equal(t, []string{"Reporter", "EHS One", "Officer Two"}, res.UserNames)
	require.Len(t, res.Details, 3)
	assert.Equal(t, []string{"off2"}, res.Details[2].UserIDs)
}

func TestCCResolver_ExcludesHandlerUnlessAsked(t *testing.T) {
	r := NewCCResolver(nil)
	handlers := []entity.UserRef{{UserID: "ehs1", UserName: "EHS One"}}

	res := r.ResolveAll(testItem(), []entity.CCRule{{Kind: entity.CCRole, Role: "safety_officer"}}, handlers, testOrg())
	assert.Equal(t, []string{"off2"}, res.UserIDs)

	res = r.ResolveAll(testItem(), []entity.CCRule{{Kind: entity.CCRole, Role: "safety_officer", IncludeHandler: true}}, handlers, testOrg())
	assert.Equal(t, []string{"ehs1", "off2"}, res.UserIDs)
}

func TestCCResolver_HandlerDepartmentWalk(t *testing.T) {
	handlers := []entity.UserRef{{UserID: "mgr", UserName: "Manager"}}
	rules := []entity.CCRule{{Kind: entity.CCHandlerDeptRole, Role: "ehs_manager"}}

	res := NewCCResolver(nil).ResolveAll(testItem(), rules, handlers, testOrg())

	assert.Equal(t, []string{"ehs1"}, res.UserIDs)
}

func TestCCResolver_Conditions(t *testing.T) {
	rules := []entity.CCRule{{Kind: entity.CCRole, Role: "dept_manager", When: `riskLevel == "high"`}}

	t.Run("condition met", func(t *testing.T) {
		cond := &stubConditions{result: true}
		res := NewCCResolver(cond).ResolveAll(testItem(), rules, nil, testOrg())
		assert.Equal(t, []string{"mgr"}, res.UserIDs)
		assert.Equal(t, "high", cond.seen["riskLevel"])
		assert.Equal(t, entity.KindHazard, cond.seen["kind"])
	})

	t.Run("condition not met", func(t *testing.T) {
		res := NewCCResolver(&stubConditions{result: false}).ResolveAll(testItem(), rules, nil, testOrg())
		assert.Empty(t, res.UserIDs)
		assert.Equal(t, "condition not met", res.Details[0].Skipped)
	})

	t.Run("evaluation error skips rule", func(t *testing.T) {
		res := NewCCResolver(&stubConditions{err: errors.New("boom")}).ResolveAll(testItem(), rules, nil, testOrg())
		assert.Empty(t, res.UserIDs)
		assert.Equal(t, "boom", res.Details[0].Skipped)
	})

	t.Run("no evaluator", func(t *testing.T) {
		res := NewCCResolver(nil).ResolveAll(testItem(), rules, nil, testOrg())
		assert.Empty(t, res.UserIDs)
		assert.NotEmpty(t, res.Details[0].Skipped)
	})
}

func TestFieldValues(t *testing.T) {
	form := map[string]any{
		"one":   "a",
		"many":  []any{"a", 3, "", "b"},
		"typed": []string{"x"},
		"num":   12,
		"empty": "",
	}

	assert.Equal(t, []string{"a"}, FieldValues(form, "one"))
	assert.Equal(t, []string{"a", "b"}, FieldValues(form, "many"))
	assert.Equal(t, []string{"x"}, FieldValues(form, "typed"))
	assert.Nil(t, FieldValues(form, "num"))
	assert.Nil(t, FieldValues(form, "empty"))
	assert.Nil(t, FieldValues(nil, "one"))
}
