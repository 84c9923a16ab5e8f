package resource

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category is the kind of allocatable unit.
type Category string

const (
	CategoryCriticalCare Category = "critical_care"
	CategoryEmergency    Category = "emergency"
	CategorySurgical     Category = "surgical"
	CategoryWard         Category = "ward"
	CategoryConsultation Category = "consultation"
)

// Categories lists every category in a stable order.
var Categories = []Category{
	CategoryCriticalCare,
	CategoryEmergency,
	CategorySurgical,
	CategoryWard,
	CategoryConsultation,
}

// BedCategories are the categories served by automatic dispatch.
var BedCategories = []Category{
	CategoryCriticalCare,
	CategoryEmergency,
	CategoryWard,
}

// ParseCategory accepts the canonical names plus the short aliases used by
// the acuity oracle and the bed board (ICU, ER, OR, OPD).
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical_care", "critical-care", "icu":
		return CategoryCriticalCare, nil
	case "emergency", "er", "ed":
		return CategoryEmergency, nil
	case "surgical", "surgery", "or":
		return CategorySurgical, nil
	case "ward", "general":
		return CategoryWard, nil
	case "consultation", "opd", "consultation-room":
		return CategoryConsultation, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// CategoryForAcuity maps an acuity level to the bed category it is routed to.
func CategoryForAcuity(level int) Category {
	switch {
	case level <= 2:
		return CategoryCriticalCare
	case level == 3:
		return CategoryEmergency
	default:
		return CategoryWard
	}
}

// Gender is a unit's gender affinity or a patient's normalized gender.
type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
	GenderAny    Gender = "any"
)

// NormalizeGender folds free-form gender input to M or F. Unknown values
// report false.
func NormalizeGender(s string) (Gender, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "m", "other", "o":
		return GenderMale, true
	case "female", "f":
		return GenderFemale, true
	}
	return "", false
}

// Unit is a bed, surgical suite or consultation room.
type Unit struct {
	ID        string   `db:"id" json:"id"`
	Category  Category `db:"category" json:"category"`
	Gender    Gender   `db:"gender" json:"gender"`
	Isolation bool     `db:"isolation" json:"isolation"`
	Zone      string   `db:"zone" json:"zone,omitempty"`
	Position  int      `db:"position" json:"position"`
	State     State    `db:"state" json:"state"`

	EntryID         *uuid.UUID `db:"entry_id" json:"entry_id,omitempty"`
	PatientName     string     `db:"patient_name" json:"patient_name,omitempty"`
	PatientAge      int        `db:"patient_age" json:"patient_age,omitempty"`
	Condition       string     `db:"condition" json:"condition,omitempty"`
	VentilatorInUse bool       `db:"ventilator_in_use" json:"ventilator_in_use"`
	OccupiedAt      *time.Time `db:"occupied_at" json:"occupied_at,omitempty"`

	SurgeonName   string     `db:"surgeon_name" json:"surgeon_name,omitempty"`
	Procedure     string     `db:"procedure" json:"procedure,omitempty"`
	ExpectedEndAt *time.Time `db:"expected_end_at" json:"expected_end_at,omitempty"`

	DoctorName string `db:"doctor_name" json:"doctor_name,omitempty"`

	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Occupant carries the patient fields copied onto a unit when it is taken.
type Occupant struct {
	EntryID     uuid.UUID
	PatientName string
	PatientAge  int
	Condition   string
	Ventilator  bool
}

// Occupy stamps occupant fields. The caller is responsible for the state
// transition.
func (u *Unit) Occupy(o Occupant, at time.Time) {
	id := o.EntryID
	u.EntryID = &id
	u.PatientName = o.PatientName
	u.PatientAge = o.PatientAge
	u.Condition = o.Condition
	u.VentilatorInUse = o.Ventilator
	t := at
	u.OccupiedAt = &t
	u.UpdatedAt = at
}

// ClearOccupant removes every patient-identifying field from the unit.
func (u *Unit) ClearOccupant(at time.Time) {
	u.EntryID = nil
	u.PatientName = ""
	u.PatientAge = 0
	u.Condition = ""
	u.VentilatorInUse = false
	u.OccupiedAt = nil
	u.SurgeonName = ""
	u.Procedure = ""
	u.ExpectedEndAt = nil
	u.UpdatedAt = at
}

// Overtime reports how far past its expected end an occupied surgical
// suite is running. It is zero for anything else.
func (u *Unit) Overtime(now time.Time) time.Duration {
	if u.State != StateOccupied || u.ExpectedEndAt == nil || !now.After(*u.ExpectedEndAt) {
		return 0
	}
	return now.Sub(*u.ExpectedEndAt)
}

// IsOvertime reports whether Overtime is positive.
func (u *Unit) IsOvertime(now time.Time) bool {
	return u.Overtime(now) > 0
}

// Clone returns a deep copy.
func (u Unit) Clone() Unit {
	c := u
	if u.EntryID != nil {
		id := *u.EntryID
		c.EntryID = &id
	}
	if u.OccupiedAt != nil {
		t := *u.OccupiedAt
		c.OccupiedAt = &t
	}
	if u.ExpectedEndAt != nil {
		t := *u.ExpectedEndAt
		c.ExpectedEndAt = &t
	}
	return c
}
