package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/priority"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/resource"
)

// Status is a waiting entry's lifecycle status.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusInService Status = "in_service"
	StatusCompleted Status = "completed"
)

// Vitals recorded at triage or check-in. Zero means not measured.
type Vitals struct {
	HeartRate       int     `json:"heart_rate,omitempty"`
	SystolicBP      int     `json:"systolic_bp,omitempty"`
	DiastolicBP     int     `json:"diastolic_bp,omitempty"`
	RespiratoryRate int     `json:"respiratory_rate,omitempty"`
	SpO2            float64 `json:"spo2,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

// Entry is a patient waiting for, or holding, a unit.
type Entry struct {
	ID               uuid.UUID         `db:"id" json:"id"`
	PatientName      string            `db:"patient_name" json:"patient_name"`
	PatientAge       int               `db:"patient_age" json:"patient_age"`
	Gender           resource.Gender   `db:"gender" json:"gender"`
	AcuityLevel      int               `db:"acuity_level" json:"acuity_level"`
	RequiredCategory resource.Category `db:"required_category" json:"required_category"`
	Symptoms         []string          `db:"symptoms" json:"symptoms"`
	Condition        string            `db:"condition" json:"condition,omitempty"`
	DiagnosisCode    string            `db:"diagnosis_code" json:"diagnosis_code,omitempty"`
	DiagnosisChapter string            `db:"diagnosis_chapter" json:"diagnosis_chapter,omitempty"`
	Rationale        string            `db:"rationale" json:"rationale,omitempty"`
	Vitals           Vitals            `db:"vitals" json:"vitals"`
	NeedsVentilator  bool              `db:"needs_ventilator" json:"needs_ventilator"`
	ArrivedAt        time.Time         `db:"arrived_at" json:"arrived_at"`
	Status           Status            `db:"status" json:"status"`
	UnitID           *string           `db:"unit_id" json:"unit_id,omitempty"`
	PriorityScore    float64           `db:"priority_score" json:"priority_score"`
	CompletedAt      *time.Time        `db:"completed_at" json:"completed_at,omitempty"`
}

// Signals extracts the scoring inputs.
func (e *Entry) Signals() priority.Signals {
	return priority.Signals{
		AcuityLevel: e.AcuityLevel,
		Chapter:     e.DiagnosisChapter,
		Symptoms:    e.Symptoms,
		ArrivedAt:   e.ArrivedAt,
	}
}

// Clone returns a deep copy.
func (e Entry) Clone() Entry {
	c := e
	if e.Symptoms != nil {
		c.Symptoms = append([]string(nil), e.Symptoms...)
	}
	if e.UnitID != nil {
		id := *e.UnitID
		c.UnitID = &id
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
