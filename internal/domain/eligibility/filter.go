// Package eligibility decides whether a unit may receive a patient.
package eligibility

import (
	"fmt"
	"strings"

	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/queue"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/resource"
)

// Reason explains a rejection.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonCategoryMismatch  Reason = "category_mismatch"
	ReasonGenderMismatch    Reason = "gender_mismatch"
	ReasonIsolationRequired Reason = "isolation_required"
	ReasonIsolationReserved Reason = "isolation_reserved"
	ReasonNotReady          Reason = "not_ready"
)

// Verdict is the outcome of a check.
type Verdict struct {
	Eligible bool
	Reason   Reason
}

func (v Verdict) String() string {
	if v.Eligible {
		return "eligible"
	}
	return string(v.Reason)
}

// IsolationPolicy controls whether isolation units may take non-infectious
// patients.
type IsolationPolicy string

const (
	// IsolationExclusive keeps isolation units for infectious patients only.
	IsolationExclusive IsolationPolicy = "exclusive"
	// IsolationReserveWhenWaiting rejects non-infectious patients from
	// isolation units only while an infectious patient of the same category
	// is waiting.
	IsolationReserveWhenWaiting IsolationPolicy = "reserve_when_waiting"
	// IsolationRelaxed admits anyone to isolation units but searches them
	// last so they are not consumed first.
	IsolationRelaxed IsolationPolicy = "relaxed"
)

// ParseIsolationPolicy validates a configured policy name.
func ParseIsolationPolicy(s string) (IsolationPolicy, error) {
	switch p := IsolationPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case IsolationExclusive, IsolationReserveWhenWaiting, IsolationRelaxed:
		return p, nil
	case "":
		return IsolationExclusive, nil
	}
	return "", fmt.Errorf("unknown isolation policy %q", s)
}

var infectionKeywords = []string{"fever", "cough", "contagious", "pathogen", "isolation", "infectious"}

// IsInfectious reports whether the entry's condition or symptoms mention an
// infection-control keyword.
func IsInfectious(e *queue.Entry) bool {
	if containsKeyword(e.Condition) {
		return true
	}
	for _, s := range e.Symptoms {
		if containsKeyword(s) {
			return true
		}
	}
	return false
}

func containsKeyword(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range infectionKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// AnyInfectious reports whether any entry is infectious.
func AnyInfectious(entries []queue.Entry) bool {
	for i := range entries {
		if IsInfectious(&entries[i]) {
			return true
		}
	}
	return false
}

// Filter applies the eligibility rules. It holds only configuration and is
// safe for concurrent use.
type Filter struct {
	policy Policy
}

// Policy configures a Filter.
type Policy struct {
	Isolation IsolationPolicy
	// IsolationCategories are the categories where infection routing
	// applies. Categories without isolation-capable units should not be
	// listed, or infectious patients could never be placed there. A
	// category holding isolation units must be listed, or those units take
	// any patient; CoverIsolationUnits adds such categories.
	IsolationCategories []resource.Category
}

// DefaultPolicy routes infection control on wards, where the isolation
// beds are.
func DefaultPolicy() Policy {
	return Policy{
		Isolation:           IsolationExclusive,
		IsolationCategories: []resource.Category{resource.CategoryWard},
	}
}

// CoverIsolationUnits returns p with the category of every isolation-capable
// unit added to IsolationCategories, and the categories it had to add.
func (p Policy) CoverIsolationUnits(units []resource.Unit) (Policy, []resource.Category) {
	covered := make(map[resource.Category]bool, len(p.IsolationCategories))
	for _, c := range p.IsolationCategories {
		covered[c] = true
	}
	var added []resource.Category
	for i := range units {
		c := units[i].Category
		if units[i].Isolation && !covered[c] {
			covered[c] = true
			added = append(added, c)
		}
	}
	if len(added) > 0 {
		cats := make([]resource.Category, 0, len(p.IsolationCategories)+len(added))
		p.IsolationCategories = append(append(cats, p.IsolationCategories...), added...)
	}
	return p, added
}

// New creates a filter.
func New(p Policy) *Filter {
	if p.Isolation == "" {
		p.Isolation = IsolationExclusive
	}
	return &Filter{policy: p}
}

// Policy returns the filter's configuration.
func (f *Filter) Policy() Policy {
	return f.policy
}

func (f *Filter) routesInfection(c resource.Category) bool {
	for _, ic := range f.policy.IsolationCategories {
		if ic == c {
			return true
		}
	}
	return false
}

// Check applies the rules in order and reports the first failure.
// infectiousWaiting tells the filter whether an infectious entry of the
// unit's category is currently waiting.
func (f *Filter) Check(u *resource.Unit, e *queue.Entry, infectiousWaiting bool) Verdict {
	if u.Category != e.RequiredCategory {
		return Verdict{Reason: ReasonCategoryMismatch}
	}

	if u.Category == resource.CategoryWard && u.Gender != resource.GenderAny && u.Gender != e.Gender {
		return Verdict{Reason: ReasonGenderMismatch}
	}

	if f.routesInfection(u.Category) {
		infectious := IsInfectious(e)
		if infectious && !u.Isolation {
			return Verdict{Reason: ReasonIsolationRequired}
		}
		if !infectious && u.Isolation && f.reservesIsolation(infectiousWaiting) {
			return Verdict{Reason: ReasonIsolationReserved}
		}
	}

	if u.State != resource.ReadyState(u.Category) {
		return Verdict{Reason: ReasonNotReady}
	}

	return Verdict{Eligible: true}
}

// IsEligible is the boolean form of Check with no infectious entry waiting.
func (f *Filter) IsEligible(u *resource.Unit, e *queue.Entry) bool {
	return f.Check(u, e, false).Eligible
}

func (f *Filter) reservesIsolation(infectiousWaiting bool) bool {
	switch f.policy.Isolation {
	case IsolationExclusive:
		return true
	case IsolationReserveWhenWaiting:
		return infectiousWaiting
	default:
		return false
	}
}

// Criteria derives the store-level search that mirrors Check for e.
func (f *Filter) Criteria(e *queue.Entry, infectiousWaiting bool) resource.Criteria {
	c := resource.Criteria{
		Category: e.RequiredCategory,
		State:    resource.ReadyState(e.RequiredCategory),
	}
	if e.RequiredCategory == resource.CategoryWard {
		c.Genders = []resource.Gender{e.Gender, resource.GenderAny}
	}
	if f.routesInfection(e.RequiredCategory) {
		switch {
		case IsInfectious(e):
			c.Isolation = boolPtr(true)
		case f.reservesIsolation(infectiousWaiting):
			c.Isolation = boolPtr(false)
		default:
			c.IsolationLast = true
		}
	}
	return c
}

func boolPtr(b bool) *bool { return &b }
