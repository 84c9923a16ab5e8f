package allocation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/queue"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/resource"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/eventbus"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/oracle"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/pkg/apperr"
)

// CheckIn adds an outpatient to the consultation queue. The oracle is only
// consulted when the request carries no acuity level.
func (s *Service) CheckIn(ctx context.Context, req *CheckInRequest) (*Outcome, error) {
	g, err := req.validate()
	if err != nil {
		return nil, err
	}

	level := req.AcuityLevel
	var cls *oracle.Classification
	if level == 0 {
		c := s.classify(ctx, "check_in", &req.PatientDetails)
		level = c.AcuityLevel
		cls = &c
	}

	e := s.newEntry(ctx, &req.PatientDetails, g, level, resource.CategoryConsultation, s.now())
	if cls != nil {
		e.Rationale = cls.Rationale
	}

	err = s.runTx(ctx, func(tx Tx, fx *effects) error {
		if err := tx.InsertEntry(ctx, e); err != nil {
			return err
		}
		fx.emit(eventbus.Event{
			Kind:     eventbus.KindQueueUpdate,
			Category: string(resource.CategoryConsultation),
			EntryID:  e.ID.String(),
			State:    string(queue.StatusWaiting),
			Data:     map[string]any{"acuity_level": e.AcuityLevel, "oracle_fallback": cls != nil && cls.Fallback},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("entry_id", e.ID.String()).Int("acuity_level", e.AcuityLevel).Msg("outpatient checked in")
	return &Outcome{Status: OutcomeWaitListed, Entry: e, Classification: cls}, nil
}

// lockRoom locks a consultation room and requires it to be idle.
func lockRoom(ctx context.Context, tx Tx, roomID string) (*resource.Unit, error) {
	u, err := tx.LockUnit(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if u.Category != resource.CategoryConsultation {
		return nil, apperr.Validation("unit %s is not a consultation room", u.ID)
	}
	return u, nil
}

// CallPatient calls a specific waiting outpatient into a room. When two
// calls race for the same room or the same patient exactly one succeeds;
// the other fails with a conflict.
func (s *Service) CallPatient(ctx context.Context, req *RoomCallRequest) (out *Outcome, err error) {
	started := time.Now()
	defer func() { s.observe("room_call", resource.CategoryConsultation, started, out, err) }()

	if req.RoomID == "" || req.EntryID == uuid.Nil {
		return nil, apperr.Validation("room id and entry_id are required")
	}

	err = s.runTx(ctx, func(tx Tx, fx *effects) error {
		u, err := lockRoom(ctx, tx, req.RoomID)
		if err != nil {
			return err
		}
		if u.State != resource.StateIdle {
			return apperr.Conflict("room %s is %s", u.ID, u.State)
		}
		e, err := tx.LockEntry(ctx, req.EntryID, false)
		if err != nil {
			return err
		}
		if e.Status != queue.StatusWaiting {
			return apperr.Conflict("entry %s is %s", e.ID, e.Status)
		}
		if v := s.filter.Check(u, e, false); !v.Eligible {
			return rejection(u, v)
		}

		a, err := s.occupy(ctx, tx, fx, u, e, s.now(), false)
		if err != nil {
			return err
		}
		fx.emit(roomCallEvent(u, e))
		out = &Outcome{Status: OutcomePlaced, Entry: e, Unit: u, Assignment: a}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("room_id", out.Unit.ID).Str("entry_id", out.Entry.ID.String()).Msg("patient called")
	return out, nil
}

// CallNext calls the highest-ranked waiting outpatient into a room.
func (s *Service) CallNext(ctx context.Context, roomID string) (out *Outcome, err error) {
	started := time.Now()
	defer func() { s.observe("room_call_next", resource.CategoryConsultation, started, out, err) }()

	err = s.runTx(ctx, func(tx Tx, fx *effects) error {
		u, err := lockRoom(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if u.State != resource.StateIdle {
			return apperr.Conflict("room %s is %s", u.ID, u.State)
		}
		waiting, err := tx.WaitingEntries(ctx, resource.CategoryConsultation)
		if err != nil {
			return err
		}
		now := s.now()
		for _, r := range s.orch.Rank(waiting, now) {
			e, err := tx.LockEntry(ctx, r.Entry.ID, true)
			if err != nil {
				return err
			}
			if e == nil || e.Status != queue.StatusWaiting {
				continue
			}
			e.PriorityScore = r.Score
			a, err := s.occupy(ctx, tx, fx, u, e, now, false)
			if err != nil {
				return err
			}
			fx.emit(roomCallEvent(u, e))
			out = &Outcome{Status: OutcomePlaced, Entry: e, Unit: u, Assignment: a}
			return nil
		}
		return apperr.NotFound("no patients waiting for consultation")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func roomCallEvent(u *resource.Unit, e *queue.Entry) eventbus.Event {
	ev := unitEvent(eventbus.KindRoomCall, u, e.ID)
	ev.Data = map[string]any{
		"patient_name": e.PatientName,
		"doctor_name":  u.DoctorName,
	}
	return ev
}

// CompleteConsultation ends the consultation in a room and frees it.
func (s *Service) CompleteConsultation(ctx context.Context, roomID string) (*resource.Unit, error) {
	var unit *resource.Unit
	err := s.runTx(ctx, func(tx Tx, fx *effects) error {
		u, err := lockRoom(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if u.State != resource.StateActive {
			return apperr.Conflict("room %s is %s, not active", u.ID, u.State)
		}
		entry, err := s.release(ctx, tx, fx, u, s.now())
		if err != nil {
			return err
		}
		var entryID uuid.UUID
		if entry != nil {
			entryID = entry.ID
		}
		fx.emit(unitEvent(eventbus.KindRoomRelease, u, entryID))
		unit = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unit, nil
}
