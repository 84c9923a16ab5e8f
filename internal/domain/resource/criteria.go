package resource

// Criteria narrows a unit search. The store applies it as a pre-filter;
// eligibility is re-checked on the reserved unit.
type Criteria struct {
	Category Category
	State    State
	// Genders lists acceptable unit gender affinities. Empty accepts all.
	Genders []Gender
	// Isolation, when set, requires the unit's isolation flag to equal it.
	Isolation *bool
	// IsolationLast orders isolation-capable units after the rest.
	IsolationLast bool
}

// Matches reports whether u satisfies the criteria.
func (c Criteria) Matches(u *Unit) bool {
	if u.Category != c.Category || u.State != c.State {
		return false
	}
	if len(c.Genders) > 0 {
		ok := false
		for _, g := range c.Genders {
			if u.Gender == g {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if c.Isolation != nil && u.Isolation != *c.Isolation {
		return false
	}
	return true
}

// GenderStrings returns Genders as plain strings, or nil when unrestricted.
func (c Criteria) GenderStrings() []string {
	if len(c.Genders) == 0 {
		return nil
	}
	out := make([]string, len(c.Genders))
	for i, g := range c.Genders {
		out[i] = string(g)
	}
	return out
}

// Less orders two candidate units for reservation.
func (c Criteria) Less(a, b *Unit) bool {
	if c.IsolationLast && a.Isolation != b.Isolation {
		return !a.Isolation
	}
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	return a.ID < b.ID
}
