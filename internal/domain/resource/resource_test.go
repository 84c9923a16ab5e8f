package resource

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTransition_BedCycle(t *testing.T) {
	steps := []struct {
		ev   Event
		want State
	}{
		{EventAllocate, StateOccupied},
		{EventRelease, StateDirty},
		{EventStartCleaning, StateCleaning},
		{EventFinishCleaning, StateAvailable},
	}
	state := StateAvailable
	for _, s := range steps {
		next, err := Transition(CategoryWard, state, s.ev)
		if err != nil {
			t.Fatalf("%s from %s: unexpected error: %v", s.ev, state, err)
		}
		if next != s.want {
			t.Fatalf("%s from %s: expected %s, got %s", s.ev, state, s.want, next)
		}
		state = next
	}
}

func TestTransition_RoomCycle(t *testing.T) {
	next, err := Transition(CategoryConsultation, StateIdle, EventCall)
	if err != nil || next != StateActive {
		t.Fatalf("expected active, got %s (%v)", next, err)
	}
	next, err = Transition(CategoryConsultation, StateActive, EventCompleteConsultation)
	if err != nil || next != StateIdle {
		t.Fatalf("expected idle, got %s (%v)", next, err)
	}
}

func TestTransition_Rejected(t *testing.T) {
	tests := []struct {
		name string
		cat  Category
		from State
		ev   Event
	}{
		{"available to dirty", CategoryWard, StateAvailable, EventRelease},
		{"reoccupy", CategoryCriticalCare, StateOccupied, EventAllocate},
		{"skip cleaning", CategoryEmergency, StateDirty, EventFinishCleaning},
		{"allocate dirty", CategorySurgical, StateDirty, EventAllocate},
		{"double call", CategoryConsultation, StateActive, EventCall},
		{"bed event on room", CategoryConsultation, StateIdle, EventAllocate},
		{"room event on bed", CategoryWard, StateAvailable, EventCall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(tt.cat, tt.from, tt.ev)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
			if got != tt.from {
				t.Errorf("expected state to stay %s, got %s", tt.from, got)
			}
		})
	}
}

func TestNormalizeGender(t *testing.T) {
	tests := map[string]Gender{
		"male": GenderMale, "Male": GenderMale, "M": GenderMale, "other": GenderMale,
		"female": GenderFemale, "F": GenderFemale, " Female ": GenderFemale,
	}
	for in, want := range tests {
		got, ok := NormalizeGender(in)
		if !ok || got != want {
			t.Errorf("NormalizeGender(%q): expected %s, got %s (ok=%v)", in, want, got, ok)
		}
	}
	if _, ok := NormalizeGender("unknown"); ok {
		t.Error("expected unknown gender to be rejected")
	}
}

func TestCategoryForAcuity(t *testing.T) {
	want := map[int]Category{
		1: CategoryCriticalCare, 2: CategoryCriticalCare, 3: CategoryEmergency,
		4: CategoryWard, 5: CategoryWard,
	}
	for level, c := range want {
		if got := CategoryForAcuity(level); got != c {
			t.Errorf("level %d: expected %s, got %s", level, c, got)
		}
	}
}

func TestParseCategory_Aliases(t *testing.T) {
	for in, want := range map[string]Category{"ICU": CategoryCriticalCare, "ER": CategoryEmergency, "OPD": CategoryConsultation, "ward": CategoryWard} {
		got, err := ParseCategory(in)
		if err != nil || got != want {
			t.Errorf("ParseCategory(%q): expected %s, got %s (%v)", in, want, got, err)
		}
	}
	if _, err := ParseCategory("lobby"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestUnit_ClearOccupant(t *testing.T) {
	now := time.Now()
	end := now.Add(time.Hour)
	u := Unit{ID: "SURG-1", Category: CategorySurgical, State: StateOccupied, SurgeonName: "Dr. A", ExpectedEndAt: &end}
	u.Occupy(Occupant{EntryID: uuid.New(), PatientName: "Asha", PatientAge: 40, Condition: "appendicitis", Ventilator: true}, now)

	u.ClearOccupant(now)
	if u.EntryID != nil || u.PatientName != "" || u.PatientAge != 0 || u.Condition != "" ||
		u.VentilatorInUse || u.OccupiedAt != nil || u.SurgeonName != "" || u.ExpectedEndAt != nil {
		t.Errorf("expected all patient fields cleared, got %+v", u)
	}
}

func TestUnit_Overtime(t *testing.T) {
	now := time.Now()
	end := now.Add(-15 * time.Minute)
	u := Unit{Category: CategorySurgical, State: StateOccupied, ExpectedEndAt: &end}
	if got := u.Overtime(now); got != 15*time.Minute {
		t.Errorf("expected 15m overtime, got %s", got)
	}
	later := now.Add(-30 * time.Minute)
	if u.IsOvertime(later) {
		t.Error("expected no overtime before the expected end")
	}
}

func TestCriteria_MatchesAndOrder(t *testing.T) {
	iso := true
	c := Criteria{Category: CategoryWard, State: StateAvailable, Genders: []Gender{GenderFemale, GenderAny}}
	if !c.Matches(&Unit{Category: CategoryWard, State: StateAvailable, Gender: GenderAny}) {
		t.Error("expected unrestricted ward to match")
	}
	if c.Matches(&Unit{Category: CategoryWard, State: StateAvailable, Gender: GenderMale}) {
		t.Error("expected male ward not to match")
	}
	c.Isolation = &iso
	if c.Matches(&Unit{Category: CategoryWard, State: StateAvailable, Gender: GenderAny}) {
		t.Error("expected non-isolation unit not to match")
	}

	order := Criteria{IsolationLast: true}
	a := &Unit{ID: "WARD-ISO-1", Isolation: true, Position: 1}
	b := &Unit{ID: "WARD-PED-1", Position: 9}
	if !order.Less(b, a) {
		t.Error("expected isolation unit to sort last")
	}
}

func TestExpand_DefaultLayout(t *testing.T) {
	units := Expand(DefaultLayout, time.Now())
	counts := map[Category]int{}
	seen := map[string]bool{}
	for i, u := range units {
		if seen[u.ID] {
			t.Fatalf("duplicate unit id %s", u.ID)
		}
		seen[u.ID] = true
		if u.Position != i+1 {
			t.Fatalf("expected position %d for %s, got %d", i+1, u.ID, u.Position)
		}
		counts[u.Category]++
	}
	if counts[CategoryCriticalCare] != 20 || counts[CategoryEmergency] != 60 || counts[CategorySurgical] != 10 {
		t.Errorf("unexpected counts %v", counts)
	}
	if counts[CategoryWard] != 100 {
		t.Errorf("expected 100 ward beds, got %d", counts[CategoryWard])
	}
	if counts[CategoryConsultation] != 6 {
		t.Errorf("expected 6 consultation rooms, got %d", counts[CategoryConsultation])
	}
}
