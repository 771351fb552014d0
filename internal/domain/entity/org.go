package entity

import (
	"slices"
	"sort"
	"time"
)

// Department is a node of the org chart. An empty ParentID marks the root.
type Department struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  string    `json:"parent_id,omitempty"`
	ManagerID string    `json:"manager_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is an account of the org roster
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	DepartmentID string    `json:"department_id"`
	Roles        []string  `json:"roles"`
	Active       bool      `json:"active"`
	LarkOpenID   string    `json:"lark_open_id,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasRole reports whether the user holds role
func (u *User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// Ref returns the user's id/name pair
func (u *User) Ref() UserRef {
	return UserRef{UserID: u.ID, UserName: u.Name}
}

// OrgSnapshot is a read-only view of departments and users taken once per dispatch.
type OrgSnapshot struct {
	Departments map[string]*Department
	Users       map[string]*User
}

// NewOrgSnapshot indexes the given departments and users by id
func NewOrgSnapshot(depts []*Department, users []*User) *OrgSnapshot {
	s := &OrgSnapshot{
		Departments: make(map[string]*Department, len(depts)),
		Users:       make(map[string]*User, len(users)),
	}
	for _, d := range depts {
		s.Departments[d.ID] = d
	}
	for _, u := range users {
		s.Users[u.ID] = u
	}
	return s
}

// ActiveUser returns the user if it exists and is active
func (s *OrgSnapshot) ActiveUser(id string) (*User, bool) {
	if s == nil {
		return nil, false
	}
	u, ok := s.Users[id]
	if !ok || !u.Active {
		return nil, false
	}
	return u, true
}

// UserName returns the display name for id, falling back to the id itself
func (s *OrgSnapshot) UserName(id string) string {
	if s != nil {
		if u, ok := s.Users[id]; ok && u.Name != "" {
			return u.Name
		}
	}
	return id
}

// UsersWithRoleInDept returns active users of dept holding role, ordered by id
func (s *OrgSnapshot) UsersWithRoleInDept(role, deptID string) []*User {
	var out []*User
	for _, u := range s.Users {
		if u.Active && u.DepartmentID == deptID && u.HasRole(role) {
			out = append(out, u)
		}
	}
	sortUsers(out)
	return out
}

// UsersWithRole returns every active holder of role regardless of department, ordered by id
func (s *OrgSnapshot) UsersWithRole(role string) []*User {
	var out []*User
	for _, u := range s.Users {
		if u.Active && u.HasRole(role) {
			out = append(out, u)
		}
	}
	sortUsers(out)
	return out
}

// Ancestry returns deptID followed by its parents up to the root.
// A cycle in the parent chain ends the walk.
func (s *OrgSnapshot) Ancestry(deptID string) []string {
	var chain []string
	seen := make(map[string]bool)
	for id := deptID; id != "" && !seen[id]; {
		seen[id] = true
		chain = append(chain, id)
		d, ok := s.Departments[id]
		if !ok {
			break
		}
		id = d.ParentID
	}
	return chain
}

func sortUsers(users []*User) {
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
}
