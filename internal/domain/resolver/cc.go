package resolver

import (
	"fmt"

	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
)

// ConditionEvaluator evaluates a boolean expression against an environment
type ConditionEvaluator interface {
	EvalBool(expression string, env map[string]any) (bool, error)
}

// CCDetail reports what a single rule contributed
type CCDetail struct {
	Rule    int           `json:"rule"`
	Kind    entity.CCKind `json:"kind"`
	UserIDs []string      `json:"user_ids,omitempty"`
	Skipped string        `json:"skipped,omitempty"`
}

// CCResult is the union of every rule's users, de-duplicated by user id
type CCResult struct {
	UserIDs   []string
	UserNames []string
	Details   []CCDetail
}

// CCResolver resolves who is informed, but not asked to act, when an item enters a step
type CCResolver struct {
	conditions ConditionEvaluator
}

// NewCCResolver creates a cc resolver. conditions may be nil, in which case
// rules carrying a When expression are skipped.
func NewCCResolver(conditions ConditionEvaluator) *CCResolver {
	return &CCResolver{conditions: conditions}
}

// ResolveAll evaluates each rule independently and unions the results
func (r *CCResolver) ResolveAll(item *entity.WorkflowItem, rules []entity.CCRule, handlers []entity.UserRef, org *entity.OrgSnapshot) CCResult {
	handlerIDs := make(map[string]bool, len(handlers))
	for _, h := range handlers {
		handlerIDs[h.UserID] = true
	}

	var result CCResult
	seen := make(map[string]bool)

	for i, rule := range rules {
		detail := CCDetail{Rule: i, Kind: rule.Kind}

		if rule.When != "" {
			ok, err := r.evaluate(rule.When, item)
			if err != nil {
				detail.Skipped = err.Error()
				result.Details = append(result.Details, detail)
				continue
			}
			if !ok {
				detail.Skipped = "condition not met"
				result.Details = append(result.Details, detail)
				continue
			}
		}

		for _, u := range r.resolveRule(item, rule, handlers, org) {
			// cc and handler are separate roles; only cc a handler when asked to
			if handlerIDs[u.UserID] && !rule.IncludeHandler {
				continue
			}
			detail.UserIDs = append(detail.UserIDs, u.UserID)
			if seen[u.UserID] {
				continue
			}
			seen[u.UserID] = true
			result.UserIDs = append(result.UserIDs, u.UserID)
			result.UserNames = append(result.UserNames, u.UserName)
		}
		result.Details = append(result.Details, detail)
	}

	return result
}

func (r *CCResolver) resolveRule(item *entity.WorkflowItem, rule entity.CCRule, handlers []entity.UserRef, org *entity.OrgSnapshot) []entity.UserRef {
	switch rule.Kind {
	case entity.CCReporter:
		if u, ok := org.ActiveUser(item.CreatorID); ok {
			return []entity.UserRef{u.Ref()}
		}
	case entity.CCHandlerDeptRole:
		var out []entity.UserRef
		for _, h := range handlers {
			u, ok := org.Users[h.UserID]
			if !ok {
				continue
			}
			out = append(out, walkForRole(org, u.DepartmentID, rule.Role)...)
		}
		return out
	case entity.CCRole:
		return refs(org.UsersWithRole(rule.Role))
	case entity.CCDeptRole:
		if rule.Role != "" {
			return refs(org.UsersWithRoleInDept(rule.Role, rule.DepartmentID))
		}
		return departmentUsers(org, rule.DepartmentID, "")
	case entity.CCUser:
		if u, ok := org.ActiveUser(rule.UserID); ok {
			return []entity.UserRef{u.Ref()}
		}
	case entity.CCField:
		var out []entity.UserRef
		for _, id := range FieldValues(item.FormData, rule.Field) {
			if u, ok := org.ActiveUser(id); ok {
				out = append(out, u.Ref())
			}
		}
		return out
	}
	return nil
}

func (r *CCResolver) evaluate(expression string, item *entity.WorkflowItem) (bool, error) {
	if r.conditions == nil {
		return false, fmt.Errorf("no condition evaluator configured")
	}
	return r.conditions.EvalBool(expression, ConditionEnv(item))
}

// ConditionEnv exposes item facts to rule conditions. Form fields are available
// both under "form" and at the top level.
func ConditionEnv(item *entity.WorkflowItem) map[string]any {
	env := make(map[string]any, len(item.FormData)+6)
	for k, v := range item.FormData {
		env[k] = v
	}
	form := item.FormData
	if form == nil {
		form = map[string]any{}
	}
	env["form"] = form
	env["kind"] = item.Kind
	env["status"] = item.Status
	env["step"] = item.CurrentStepIndex
	env["creator"] = item.CreatorID
	env["creator_department"] = item.CreatorDepartmentID
	return env
}
