package allocation

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/queue"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/resource"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/oracle"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/pkg/apperr"
)

// Assignment pairs one entry with one unit for a period.
type Assignment struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	EntryID   uuid.UUID  `db:"entry_id" json:"entry_id"`
	UnitID    string     `db:"unit_id" json:"unit_id"`
	StartedAt time.Time  `db:"started_at" json:"started_at"`
	EndedAt   *time.Time `db:"ended_at" json:"ended_at,omitempty"`
}

// Open reports whether the assignment is still active.
func (a *Assignment) Open() bool {
	return a.EndedAt == nil
}

// SurgeryRecord is the archived account of a completed operation.
type SurgeryRecord struct {
	ID              uuid.UUID `db:"id" json:"id"`
	UnitID          string    `db:"unit_id" json:"unit_id"`
	EntryID         uuid.UUID `db:"entry_id" json:"entry_id"`
	PatientName     string    `db:"patient_name" json:"patient_name"`
	SurgeonName     string    `db:"surgeon_name" json:"surgeon_name"`
	Procedure       string    `db:"procedure" json:"procedure,omitempty"`
	StartedAt       time.Time `db:"started_at" json:"started_at"`
	EndedAt         time.Time `db:"ended_at" json:"ended_at"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	OvertimeMinutes int       `db:"overtime_minutes" json:"overtime_minutes"`
}

// OutcomeStatus is the result class of an allocation attempt.
type OutcomeStatus string

const (
	OutcomePlaced     OutcomeStatus = "placed"
	OutcomeWaitListed OutcomeStatus = "wait_listed"
)

// Outcome is returned by operations that may or may not find a unit.
// A wait-listed outcome is not an error.
type Outcome struct {
	Status         OutcomeStatus          `json:"status"`
	Entry          *queue.Entry           `json:"entry,omitempty"`
	Unit           *resource.Unit         `json:"unit,omitempty"`
	Assignment     *Assignment            `json:"assignment,omitempty"`
	Classification *oracle.Classification `json:"classification,omitempty"`
}

// Placed reports whether a unit was assigned.
func (o *Outcome) Placed() bool {
	return o != nil && o.Status == OutcomePlaced
}

// PatientDetails are the demographics shared by every intake request.
type PatientDetails struct {
	PatientName string       `json:"patient_name" validate:"required,max=200"`
	PatientAge  int          `json:"patient_age" validate:"gte=0,lte=150"`
	Gender      string       `json:"gender" validate:"required"`
	Condition   string       `json:"condition,omitempty" validate:"max=500"`
	Symptoms    []string     `json:"symptoms,omitempty" validate:"max=50,dive,max=200"`
	Vitals      queue.Vitals `json:"vitals"`
	// DiagnosisCode is an optional ICD-10 code.
	DiagnosisCode string `json:"diagnosis_code,omitempty" validate:"max=16"`
}

func (p *PatientDetails) validate() (resource.Gender, error) {
	if strings.TrimSpace(p.PatientName) == "" {
		return "", apperr.Validation("patient_name is required")
	}
	if p.PatientAge < 0 || p.PatientAge > 150 {
		return "", apperr.Validation("patient_age must be between 0 and 150")
	}
	g, ok := resource.NormalizeGender(p.Gender)
	if !ok {
		return "", apperr.Validation("gender must be male, female or other")
	}
	return g, nil
}

// AdmissionRequest admits a patient directly to a named unit.
type AdmissionRequest struct {
	UnitID string `json:"-" param:"id"`
	PatientDetails
	// AcuityLevel is optional; zero means not assessed.
	AcuityLevel int `json:"acuity_level,omitempty" validate:"gte=0,lte=5"`
	// RequiredCategory, when set, must match the unit's category.
	RequiredCategory string `json:"required_category,omitempty"`
}

// TriageRequest classifies a patient and searches for a bed.
type TriageRequest struct {
	PatientDetails
}

// CheckInRequest adds an outpatient to the consultation queue.
type CheckInRequest struct {
	PatientDetails
	// AcuityLevel is optional; when zero the acuity oracle is consulted.
	AcuityLevel int `json:"acuity_level,omitempty" validate:"gte=0,lte=5"`
}

// RoomCallRequest calls a specific waiting patient into a room.
type RoomCallRequest struct {
	RoomID  string    `json:"-" param:"id"`
	EntryID uuid.UUID `json:"entry_id" validate:"required"`
}

// SurgeryRequest occupies a surgical suite.
type SurgeryRequest struct {
	UnitID string `json:"-" param:"id"`
	PatientDetails
	SurgeonName     string `json:"surgeon_name" validate:"required,max=200"`
	Procedure       string `json:"procedure,omitempty" validate:"max=200"`
	ExpectedMinutes int    `json:"expected_minutes" validate:"required,gt=0,lte=1440"`
}

// ExtendRequest pushes out a running surgery's expected end.
type ExtendRequest struct {
	UnitID            string `json:"-" param:"id"`
	AdditionalMinutes int    `json:"additional_minutes" validate:"required,gt=0,lte=720"`
}

// UnitFilter narrows unit listings.
type UnitFilter struct {
	Category resource.Category
	State    resource.State
}

// EntryFilter narrows entry listings.
type EntryFilter struct {
	Category resource.Category
	Status   queue.Status
}
