package roles

import (
	"fmt"
	"strings"

	"github.com/carenet/carenet/internal/domain"
)

// Set is an ordered, duplicate-free list of roles.
type Set []Role

func NewSet(rs ...Role) Set {
	var s Set
	for _, r := range rs {
		s = s.With(r)
	}
	return s
}

// FromStrings parses stored role names, skipping unknown ones.
func FromStrings(ss []string) Set {
	var s Set
	for _, v := range ss {
		if r, err := Parse(v); err == nil {
			s = s.With(r)
		}
	}
	return s
}

func (s Set) Has(r Role) bool {
	for _, x := range s {
		if x == r {
			return true
		}
	}
	return false
}

func (s Set) HasAny(rs ...Role) bool {
	for _, r := range rs {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// With returns s ∪ {r}.
func (s Set) With(r Role) Set {
	if s.Has(r) {
		return s
	}
	out := make(Set, len(s), len(s)+1)
	copy(out, s)
	return append(out, r)
}

// Without returns s \ {r}.
func (s Set) Without(r Role) Set {
	out := make(Set, 0, len(s))
	for _, x := range s {
		if x != r {
			out = append(out, x)
		}
	}
	return out
}

func (s Set) Strings() []string {
	out := make([]string, len(s))
	for i, r := range s {
		out[i] = string(r)
	}
	return out
}

// Label joins the roles with ", ", the form recorded as an audit actor role.
func (s Set) Label() string {
	return strings.Join(s.Strings(), ", ")
}

// Assignment is a user's active and suspended role sets.
type Assignment struct {
	Active    Set `json:"active_roles"`
	Suspended Set `json:"suspended_roles"`
}

// Grant adds r to Active. A suspended r is reinstated.
func (a *Assignment) Grant(r Role) bool {
	changed := !a.Active.Has(r) || a.Suspended.Has(r)
	a.Active = a.Active.With(r)
	a.Suspended = a.Suspended.Without(r)
	return changed
}

// Suspend moves an active role to Suspended.
func (a *Assignment) Suspend(r Role) error {
	if !a.Active.Has(r) {
		return fmt.Errorf("role %s is not active: %w", r, domain.ErrValidation)
	}
	a.Active = a.Active.Without(r)
	a.Suspended = a.Suspended.With(r)
	return nil
}

// Restore moves a suspended role back to Active.
func (a *Assignment) Restore(r Role) error {
	if !a.Suspended.Has(r) {
		return fmt.Errorf("role %s is not suspended: %w", r, domain.ErrValidation)
	}
	a.Suspended = a.Suspended.Without(r)
	a.Active = a.Active.With(r)
	return nil
}

// Remove strips r from both sets.
func (a *Assignment) Remove(r Role) error {
	if !a.Active.Has(r) && !a.Suspended.Has(r) {
		return fmt.Errorf("role %s is not assigned: %w", r, domain.ErrNotFound)
	}
	a.Active = a.Active.Without(r)
	a.Suspended = a.Suspended.Without(r)
	return nil
}

// Disjoint reports whether no role is both active and suspended.
func (a Assignment) Disjoint() bool {
	for _, r := range a.Active {
		if a.Suspended.Has(r) {
			return false
		}
	}
	return true
}
