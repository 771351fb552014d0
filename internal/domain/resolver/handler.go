// Package resolver turns step configuration into concrete users, using only the
// item and an org snapshot handed in by the caller.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
)

// Resolution is the outcome of resolving a step's handlers. An empty Handlers
// slice is a valid result; Reason then explains why nothing matched.
type Resolution struct {
	Handlers  []entity.UserRef
	MatchedBy entity.HandlerKind
	Reason    string
}

// Empty reports whether no handler was found
func (r Resolution) Empty() bool {
	return len(r.Handlers) == 0
}

// HandlerResolver resolves who may act on a step
type HandlerResolver struct{}

// NewHandlerResolver creates a handler resolver
func NewHandlerResolver() *HandlerResolver {
	return &HandlerResolver{}
}

// Resolve tries the step's strategies in priority order and returns the first non-empty match
func (r *HandlerResolver) Resolve(item *entity.WorkflowItem, step *entity.Step, org *entity.OrgSnapshot) Resolution {
	if len(step.Handlers) == 0 {
		return Resolution{Reason: fmt.Sprintf("step %s declares no handler strategy", step.ID)}
	}

	strategies := make([]entity.HandlerStrategy, len(step.Handlers))
	copy(strategies, step.Handlers)
	sort.SliceStable(strategies, func(i, j int) bool {
		return strategies[i].Kind.Priority() < strategies[j].Kind.Priority()
	})

	var reasons []string
	for _, s := range strategies {
		users, reason := r.resolveOne(item, s, org)
		if len(users) > 0 {
			return Resolution{Handlers: users, MatchedBy: s.Kind}
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", s.Kind, reason))
	}

	return Resolution{Reason: strings.Join(reasons, "; ")}
}

func (r *HandlerResolver) resolveOne(item *entity.WorkflowItem, s entity.HandlerStrategy, org *entity.OrgSnapshot) ([]entity.UserRef, string) {
	switch s.Kind {
	case entity.HandlerFixedUser:
		if u, ok := org.ActiveUser(s.UserID); ok {
			return []entity.UserRef{u.Ref()}, ""
		}
		return nil, fmt.Sprintf("user %q missing or inactive", s.UserID)

	case entity.HandlerCreator:
		if u, ok := org.ActiveUser(item.CreatorID); ok {
			return []entity.UserRef{u.Ref()}, ""
		}
		return nil, fmt.Sprintf("creator %q missing or inactive", item.CreatorID)

	case entity.HandlerDeptRole:
		anchor := anchorDepartment(item, s.Anchor)
		if anchor == "" {
			return nil, "no anchor department"
		}
		if users := walkForRole(org, anchor, s.Role); len(users) > 0 {
			return users, ""
		}
		return nil, fmt.Sprintf("no active %q from department %q up to the root", s.Role, anchor)

	case entity.HandlerField:
		values := FieldValues(item.FormData, s.Field)
		if len(values) == 0 {
			return nil, fmt.Sprintf("form field %q is empty", s.Field)
		}
		var users []entity.UserRef
		for _, v := range values {
			if s.FieldTarget == entity.FieldTargetDepartment {
				users = append(users, departmentUsers(org, v, s.Role)...)
				continue
			}
			if u, ok := org.ActiveUser(v); ok {
				users = append(users, u.Ref())
			}
		}
		if users = dedupeRefs(users); len(users) > 0 {
			sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
			return users, ""
		}
		return nil, fmt.Sprintf("form field %q resolved to no active user", s.Field)

	case entity.HandlerRole:
		if users := refs(org.UsersWithRole(s.Role)); len(users) > 0 {
			return users, ""
		}
		return nil, fmt.Sprintf("no active holder of role %q", s.Role)

	default:
		return nil, fmt.Sprintf("unknown strategy %q", s.Kind)
	}
}

// anchorDepartment picks the department a hierarchy walk starts from.
// The submitter's department is the default, never the current actor's.
func anchorDepartment(item *entity.WorkflowItem, a entity.Anchor) string {
	switch a.Kind {
	case entity.AnchorField:
		return item.FormString(a.Field)
	case entity.AnchorDepartment:
		return a.DepartmentID
	default:
		return item.CreatorDepartmentID
	}
}

// walkForRole climbs from deptID to the root and returns the first department's role holders
func walkForRole(org *entity.OrgSnapshot, deptID, role string) []entity.UserRef {
	for _, id := range org.Ancestry(deptID) {
		if users := org.UsersWithRoleInDept(role, id); len(users) > 0 {
			return refs(users)
		}
	}
	return nil
}

// departmentUsers resolves a department key: role holders via a walk when role is set, otherwise its manager
func departmentUsers(org *entity.OrgSnapshot, deptID, role string) []entity.UserRef {
	if role != "" {
		return walkForRole(org, deptID, role)
	}
	d, ok := org.Departments[deptID]
	if !ok {
		return nil
	}
	if u, ok := org.ActiveUser(d.ManagerID); ok {
		return []entity.UserRef{u.Ref()}
	}
	return nil
}

// FieldValues reads a form field holding one id or a list of ids
func FieldValues(form map[string]any, key string) []string {
	if form == nil || key == "" {
		return nil
	}
	switch v := form[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func refs(users []*entity.User) []entity.UserRef {
	out := make([]entity.UserRef, 0, len(users))
	for _, u := range users {
		out = append(out, u.Ref())
	}
	return out
}

func dedupeRefs(in []entity.UserRef) []entity.UserRef {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, r := range in {
		if seen[r.UserID] {
			continue
		}
		seen[r.UserID] = true
		out = append(out, r)
	}
	return out
}
