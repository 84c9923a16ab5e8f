package allocation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/resource"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/eventbus"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/oracle"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/pkg/apperr"
)

// lockSuite locks a surgical suite.
func lockSuite(ctx context.Context, tx Tx, unitID string) (*resource.Unit, error) {
	u, err := tx.LockUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if u.Category != resource.CategorySurgical {
		return nil, apperr.Validation("unit %s is not a surgical suite", u.ID)
	}
	return u, nil
}

// StartSurgery occupies an available suite with an expected end time.
func (s *Service) StartSurgery(ctx context.Context, req *SurgeryRequest) (out *Outcome, err error) {
	started := time.Now()
	defer func() { s.observe("surgery_start", resource.CategorySurgical, started, out, err) }()

	g, err := req.validate()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.SurgeonName) == "" {
		return nil, apperr.Validation("surgeon_name is required")
	}
	if req.ExpectedMinutes <= 0 {
		return nil, apperr.Validation("expected_minutes must be positive")
	}

	err = s.runTx(ctx, func(tx Tx, fx *effects) error {
		u, err := lockSuite(ctx, tx, req.UnitID)
		if err != nil {
			return err
		}
		now := s.now()
		e := s.newEntry(ctx, &req.PatientDetails, g, oracle.Fallback.AcuityLevel, resource.CategorySurgical, now)
		if v := s.filter.Check(u, e, false); !v.Eligible {
			return rejection(u, v)
		}

		end := now.Add(time.Duration(req.ExpectedMinutes) * time.Minute)
		u.SurgeonName = req.SurgeonName
		u.Procedure = req.Procedure
		u.ExpectedEndAt = &end
		a, err := s.occupy(ctx, tx, fx, u, e, now, true)
		if err != nil {
			return err
		}
		ev := unitEvent(eventbus.KindSurgeryStarted, u, e.ID)
		ev.Data = map[string]any{"surgeon_name": u.SurgeonName, "expected_end_at": end}
		fx.emit(ev)
		out = &Outcome{Status: OutcomePlaced, Entry: e, Unit: u, Assignment: a}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("unit_id", out.Unit.ID).Str("surgeon", req.SurgeonName).Msg("surgery started")
	return out, nil
}

// ExtendSurgery pushes out the expected end of a running surgery.
func (s *Service) ExtendSurgery(ctx context.Context, req *ExtendRequest) (*resource.Unit, error) {
	if req.AdditionalMinutes <= 0 {
		return nil, apperr.Validation("additional_minutes must be positive")
	}
	var unit *resource.Unit
	err := s.runTx(ctx, func(tx Tx, fx *effects) error {
		u, err := lockSuite(ctx, tx, req.UnitID)
		if err != nil {
			return err
		}
		if u.State != resource.StateOccupied {
			return apperr.Conflict("suite %s is %s, not in surgery", u.ID, u.State)
		}
		now := s.now()
		base := now
		if u.ExpectedEndAt != nil {
			base = *u.ExpectedEndAt
		}
		end := base.Add(time.Duration(req.AdditionalMinutes) * time.Minute)
		u.ExpectedEndAt = &end
		u.UpdatedAt = now
		if err := tx.SaveUnit(ctx, u); err != nil {
			return err
		}
		var entryID uuid.UUID
		if u.EntryID != nil {
			entryID = *u.EntryID
		}
		ev := unitEvent(eventbus.KindSurgeryExtended, u, entryID)
		ev.Data = map[string]any{"expected_end_at": end, "additional_minutes": req.AdditionalMinutes}
		fx.emit(ev)
		unit = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unit, nil
}

// CompleteSurgery archives the operation and leaves the suite dirty. It
// takes no patients until StartCleaning and FinishCleaning have run.
func (s *Service) CompleteSurgery(ctx context.Context, unitID string) (*SurgeryRecord, error) {
	var rec *SurgeryRecord
	err := s.runTx(ctx, func(tx Tx, fx *effects) error {
		u, err := lockSuite(ctx, tx, unitID)
		if err != nil {
			return err
		}
		if u.State != resource.StateOccupied {
			return apperr.Conflict("suite %s is %s, not in surgery", u.ID, u.State)
		}

		now := s.now()
		r := &SurgeryRecord{
			ID:              uuid.New(),
			UnitID:          u.ID,
			PatientName:     u.PatientName,
			SurgeonName:     u.SurgeonName,
			Procedure:       u.Procedure,
			StartedAt:       now,
			EndedAt:         now,
			OvertimeMinutes: int(u.Overtime(now).Minutes()),
		}
		if u.EntryID != nil {
			r.EntryID = *u.EntryID
		}
		if u.OccupiedAt != nil {
			r.StartedAt = *u.OccupiedAt
		}
		r.DurationMinutes = int(now.Sub(r.StartedAt).Minutes())
		if err := tx.InsertSurgeryRecord(ctx, r); err != nil {
			return err
		}

		if _, err := s.release(ctx, tx, fx, u, now); err != nil {
			return err
		}
		ev := unitEvent(eventbus.KindSurgeryCompleted, u, r.EntryID)
		ev.Data = map[string]any{
			"duration_minutes": r.DurationMinutes,
			"overtime_minutes": r.OvertimeMinutes,
		}
		fx.emit(ev)
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("unit_id", unitID).Int("duration_minutes", rec.DurationMinutes).
		Int("overtime_minutes", rec.OvertimeMinutes).Msg("surgery completed")
	return rec, nil
}

// ListSurgeryHistory pages through completed surgeries, newest first.
func (s *Service) ListSurgeryHistory(ctx context.Context, limit, offset int) ([]SurgeryRecord, int, error) {
	return s.store.ListSurgeryRecords(ctx, limit, offset)
}
