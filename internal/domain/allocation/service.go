package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/eligibility"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/priority"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/queue"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/resource"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/eventbus"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/icd10"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/oracle"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/pkg/apperr"
)

// maxTriageRounds bounds how many dispatch rounds a single triage request
// runs while higher-ranked entries are placed ahead of it.
const maxTriageRounds = 256

// defaultOracleTimeout bounds a classifier call when none is configured.
const defaultOracleTimeout = 3 * time.Second

// Recorder receives allocation measurements.
type Recorder interface {
	ObserveAllocation(operation, category, outcome string, took time.Duration)
	ObserveTransition(category, event string)
	OracleFallback()
}

type nopRecorder struct{}

func (nopRecorder) ObserveAllocation(string, string, string, time.Duration) {}
func (nopRecorder) ObserveTransition(string, string)                        {}
func (nopRecorder) OracleFallback()                                         {}

// Service runs every allocation transaction. All state lives in the Store;
// the service holds only collaborators.
type Service struct {
	store      Store
	filter     *eligibility.Filter
	orch       *queue.Orchestrator
	classifier oracle.Classifier
	oracleWait time.Duration
	codes      icd10.Lookup
	events     eventbus.Publisher
	recorder   Recorder
	logger     zerolog.Logger
	now        func() time.Time
}

// NewService creates a service with fallback-only triage, format-only
// diagnosis validation and no notifications. Use the Set methods to attach
// real collaborators.
func NewService(store Store, filter *eligibility.Filter, orch *queue.Orchestrator) *Service {
	if filter == nil {
		filter = eligibility.New(eligibility.DefaultPolicy())
	}
	if orch == nil {
		orch = queue.NewOrchestrator(0)
	}
	return &Service{
		store:      store,
		filter:     filter,
		orch:       orch,
		classifier: oracle.WithFallback(nil, defaultOracleTimeout, zerolog.Nop()),
		oracleWait: defaultOracleTimeout,
		codes:      icd10.FormatLookup{},
		events:     eventbus.Discard,
		recorder:   nopRecorder{},
		logger:     zerolog.Nop(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetOracleTimeout bounds classifier calls. It applies to classifiers
// attached after it.
func (s *Service) SetOracleTimeout(d time.Duration) {
	if d > 0 {
		s.oracleWait = d
	}
}

// SetClassifier attaches the acuity oracle. A classifier not already wrapped
// with oracle.WithFallback is wrapped here, so a slow or failing oracle
// always yields the default triage.
func (s *Service) SetClassifier(c oracle.Classifier) {
	if c == nil {
		return
	}
	if _, guarded := c.(*oracle.Guarded); !guarded {
		c = oracle.WithFallback(c, s.oracleWait, s.logger).OnFallback(func() { s.recorder.OracleFallback() })
	}
	s.classifier = c
}

// SetCodeLookup attaches the diagnosis code lookup.
func (s *Service) SetCodeLookup(l icd10.Lookup) {
	if l != nil {
		s.codes = l
	}
}

// SetPublisher attaches the notification sink.
func (s *Service) SetPublisher(p eventbus.Publisher) {
	if p != nil {
		s.events = p
	}
}

// SetRecorder attaches metrics.
func (s *Service) SetRecorder(r Recorder) {
	if r != nil {
		s.recorder = r
	}
}

// SetLogger attaches a logger.
func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l.With().Str("component", "allocation").Logger()
}

// Orchestrator returns the queue orchestrator in use.
func (s *Service) Orchestrator() *queue.Orchestrator {
	return s.orch
}

// effects collects what a transaction did so it can be reported after
// commit.
type effects struct {
	events      []eventbus.Event
	transitions []resource.Event
	categories  []resource.Category
}

func (fx *effects) emit(e eventbus.Event) {
	fx.events = append(fx.events, e)
}

func (fx *effects) moved(c resource.Category, ev resource.Event) {
	fx.categories = append(fx.categories, c)
	fx.transitions = append(fx.transitions, ev)
}

// runTx executes fn in one store transaction. Any error rolls back every
// write made through tx. Events are published only after a successful
// commit.
func (s *Service) runTx(ctx context.Context, fn func(tx Tx, fx *effects) error) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return apperr.DependencyUnavailable("database unavailable", err)
	}
	// Rollback after Commit is a no-op; this also releases locks when fn
	// panics.
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck

	fx := &effects{}
	if err := fn(tx, fx); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			s.logger.Error().Err(rbErr).Msg("rollback failed")
		}
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Persistence("commit transaction", err)
	}
	for i, ev := range fx.transitions {
		s.recorder.ObserveTransition(string(fx.categories[i]), string(ev))
	}
	for _, e := range fx.events {
		s.events.Publish(ctx, e)
	}
	return nil
}

// classify maps errors that escaped a transaction onto the taxonomy.
func classify(err error) error {
	if apperr.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, resource.ErrInvalidTransition) {
		return &apperr.Error{Kind: apperr.KindConflict, Message: err.Error(), Err: err}
	}
	return apperr.Persistence("allocation transaction", err)
}

func outcomeLabel(o *Outcome, err error) string {
	switch {
	case err != nil:
		return string(apperr.KindOf(err))
	case o == nil:
		return "ok"
	default:
		return string(o.Status)
	}
}

func (s *Service) observe(op string, c resource.Category, started time.Time, o *Outcome, err error) {
	s.recorder.ObserveAllocation(op, string(c), outcomeLabel(o, err), time.Since(started))
}

// newEntry builds a waiting entry from validated intake details.
func (s *Service) newEntry(ctx context.Context, p *PatientDetails, g resource.Gender, level int, category resource.Category, now time.Time) *queue.Entry {
	code, chapter := icd10.Resolve(ctx, s.codes, p.DiagnosisCode)
	e := &queue.Entry{
		ID:               uuid.New(),
		PatientName:      p.PatientName,
		PatientAge:       p.PatientAge,
		Gender:           g,
		AcuityLevel:      priority.ClampAcuity(level),
		RequiredCategory: category,
		Symptoms:         p.Symptoms,
		Condition:        p.Condition,
		DiagnosisCode:    code,
		DiagnosisChapter: chapter,
		Vitals:           p.Vitals,
		ArrivedAt:        now,
		Status:           queue.StatusWaiting,
	}
	if e.Symptoms == nil {
		e.Symptoms = []string{}
	}
	e.PriorityScore = priority.Score(e.Signals(), now)
	return e
}

// occupy moves u into its busy state for e, opens the assignment and marks
// e in service. When insert is set, e is new to the store.
func (s *Service) occupy(ctx context.Context, tx Tx, fx *effects, u *resource.Unit, e *queue.Entry, at time.Time, insert bool) (*Assignment, error) {
	ev := resource.AllocateEvent(u.Category)
	next, err := resource.Transition(u.Category, u.State, ev)
	if err != nil {
		return nil, err
	}
	u.State = next
	u.Occupy(resource.Occupant{
		EntryID:     e.ID,
		PatientName: e.PatientName,
		PatientAge:  e.PatientAge,
		Condition:   e.Condition,
		Ventilator:  e.NeedsVentilator,
	}, at)
	if err := tx.SaveUnit(ctx, u); err != nil {
		return nil, fmt.Errorf("save unit %s: %w", u.ID, err)
	}

	e.Status = queue.StatusInService
	unitID := u.ID
	e.UnitID = &unitID
	if insert {
		err = tx.InsertEntry(ctx, e)
	} else {
		err = tx.SaveEntry(ctx, e)
	}
	if err != nil {
		return nil, fmt.Errorf("save entry %s: %w", e.ID, err)
	}

	a := &Assignment{ID: uuid.New(), EntryID: e.ID, UnitID: u.ID, StartedAt: at}
	if err := tx.OpenAssignment(ctx, a); err != nil {
		return nil, err
	}
	fx.moved(u.Category, ev)
	return a, nil
}

// release ends u's occupancy: the unit moves to its post-release state with
// every patient field cleared, the assignment closes and the entry
// completes. It returns the completed entry, or nil when the unit had no
// recorded assignment.
func (s *Service) release(ctx context.Context, tx Tx, fx *effects, u *resource.Unit, at time.Time) (*queue.Entry, error) {
	ev := resource.ReleaseEvent(u.Category)
	next, err := resource.Transition(u.Category, u.State, ev)
	if err != nil {
		return nil, err
	}

	var entry *queue.Entry
	a, err := tx.CloseAssignment(ctx, u.ID, at)
	switch {
	case apperr.KindOf(err) == apperr.KindNotFound:
		s.logger.Warn().Str("unit_id", u.ID).Msg("releasing unit without an active assignment")
	case err != nil:
		return nil, err
	default:
		entry, err = tx.LockEntry(ctx, a.EntryID, false)
		if err != nil {
			return nil, err
		}
		entry.Status = queue.StatusCompleted
		done := at
		entry.CompletedAt = &done
		if err := tx.SaveEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("save entry %s: %w", entry.ID, err)
		}
	}

	u.State = next
	u.ClearOccupant(at)
	if err := tx.SaveUnit(ctx, u); err != nil {
		return nil, fmt.Errorf("save unit %s: %w", u.ID, err)
	}
	fx.moved(u.Category, ev)
	return entry, nil
}

// step applies a non-occupancy lifecycle event such as cleaning.
func (s *Service) step(ctx context.Context, tx Tx, fx *effects, u *resource.Unit, ev resource.Event, at time.Time) error {
	next, err := resource.Transition(u.Category, u.State, ev)
	if err != nil {
		return err
	}
	u.State = next
	u.UpdatedAt = at
	if err := tx.SaveUnit(ctx, u); err != nil {
		return fmt.Errorf("save unit %s: %w", u.ID, err)
	}
	fx.moved(u.Category, ev)
	return nil
}

func unitEvent(kind eventbus.Kind, u *resource.Unit, entryID uuid.UUID) eventbus.Event {
	e := eventbus.Event{
		Kind:     kind,
		Category: string(u.Category),
		UnitID:   u.ID,
		State:    string(u.State),
	}
	if entryID != uuid.Nil {
		e.EntryID = entryID.String()
	}
	return e
}

// infectiousWaiting reports whether any infectious entry waits for c.
func infectiousWaiting(ctx context.Context, tx Tx, c resource.Category) (bool, error) {
	waiting, err := tx.WaitingEntries(ctx, c)
	if err != nil {
		return false, err
	}
	return eligibility.AnyInfectious(waiting), nil
}

func rejection(u *resource.Unit, v eligibility.Verdict) error {
	if v.Reason == eligibility.ReasonNotReady {
		return apperr.Conflict("unit %s is %s", u.ID, u.State)
	}
	return apperr.Ineligible("unit %s cannot take this patient: %s", u.ID, v.Reason)
}

// Admit places a patient directly into a named bed.
func (s *Service) Admit(ctx context.Context, req *AdmissionRequest) (out *Outcome, err error) {
	started := time.Now()
	var category resource.Category
	defer func() { s.observe("admit", category, started, out, err) }()

	g, err := req.validate()
	if err != nil {
		return nil, err
	}
	if req.UnitID == "" {
		return nil, apperr.Validation("unit id is required")
	}
	var requested resource.Category
	if req.RequiredCategory != "" {
		if requested, err = resource.ParseCategory(req.RequiredCategory); err != nil {
			return nil, apperr.Validation("%s", err.Error())
		}
	}
	level := req.AcuityLevel
	if level == 0 {
		level = oracle.Fallback.AcuityLevel
	}

	err = s.runTx(ctx, func(tx Tx, fx *effects) error {
		u, err := tx.LockUnit(ctx, req.UnitID)
		if err != nil {
			return err
		}
		category = u.Category
		switch u.Category {
		case resource.CategorySurgical:
			return apperr.Validation("unit %s is a surgical suite; start a surgery instead", u.ID)
		case resource.CategoryConsultation:
			return apperr.Validation("unit %s is a consultation room; call a patient instead", u.ID)
		}
		if requested == "" {
			requested = u.Category
		}

		now := s.now()
		e := s.newEntry(ctx, &req.PatientDetails, g, level, requested, now)
		infectious, err := infectiousWaiting(ctx, tx, u.Category)
		if err != nil {
			return err
		}
		if v := s.filter.Check(u, e, infectious); !v.Eligible {
			return rejection(u, v)
		}

		a, err := s.occupy(ctx, tx, fx, u, e, now, true)
		if err != nil {
			return err
		}
		fx.emit(unitEvent(eventbus.KindAdmission, u, e.ID))
		out = &Outcome{Status: OutcomePlaced, Entry: e, Unit: u, Assignment: a}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("unit_id", out.Unit.ID).Str("entry_id", out.Entry.ID.String()).Msg("patient admitted")
	return out, nil
}

// classify asks the oracle for an acuity level. An error or a level outside
// 1..5 yields oracle.Fallback; a failing oracle never raises acuity.
func (s *Service) classify(ctx context.Context, op string, p *PatientDetails) oracle.Classification {
	c, err := s.classifier.Classify(ctx, observation(p))
	if err == nil && !oracle.ValidLevel(c.AcuityLevel) {
		err = apperr.DependencyUnavailable("acuity oracle returned an invalid answer", fmt.Errorf("level %d", c.AcuityLevel))
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("operation", op).Msg("acuity oracle failed; default triage applied")
		s.recorder.OracleFallback()
		return oracle.Fallback
	}
	return c
}

// Triage classifies a patient, queues them in the category the oracle
// chose and dispatches that category until the patient is placed or no
// capacity remains.
func (s *Service) Triage(ctx context.Context, req *TriageRequest) (*Outcome, error) {
	g, err := req.validate()
	if err != nil {
		return nil, err
	}

	cls := s.classify(ctx, "triage", &req.PatientDetails)
	level := priority.ClampAcuity(cls.AcuityLevel)
	category, perr := resource.ParseCategory(cls.Category)
	if perr != nil || !isBedCategory(category) {
		category = resource.CategoryForAcuity(level)
	}

	now := s.now()
	e := s.newEntry(ctx, &req.PatientDetails, g, level, category, now)
	e.Rationale = cls.Rationale
	e.NeedsVentilator = req.Vitals.SpO2 > 0 && req.Vitals.SpO2 < 88 && level <= 2

	err = s.runTx(ctx, func(tx Tx, fx *effects) error {
		if err := tx.InsertEntry(ctx, e); err != nil {
			return err
		}
		fx.emit(eventbus.Event{
			Kind:     eventbus.KindQueueUpdate,
			Category: string(category),
			EntryID:  e.ID.String(),
			State:    string(queue.StatusWaiting),
			Data:     map[string]any{"acuity_level": e.AcuityLevel, "oracle_fallback": cls.Fallback},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	for round := 0; round < maxTriageRounds; round++ {
		o, err := s.Dispatch(ctx, category)
		if err != nil {
			return nil, err
		}
		if !o.Placed() {
			break
		}
		if o.Entry.ID == e.ID {
			o.Classification = &cls
			return o, nil
		}
	}

	current, err := s.store.GetEntry(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	if current.Status != queue.StatusWaiting {
		// Placed by a concurrent dispatch or the queue monitor.
		o := &Outcome{Status: OutcomePlaced, Entry: current, Classification: &cls}
		if current.UnitID != nil {
			if u, err := s.store.GetUnit(ctx, *current.UnitID); err == nil {
				o.Unit = u
			}
		}
		return o, nil
	}
	s.logger.Info().Str("entry_id", e.ID.String()).Str("category", string(category)).Msg("no capacity; patient wait-listed")
	return &Outcome{Status: OutcomeWaitListed, Entry: current, Classification: &cls}, nil
}

func observation(p *PatientDetails) oracle.Observation {
	return oracle.Observation{
		Symptoms:        p.Symptoms,
		Condition:       p.Condition,
		Age:             p.PatientAge,
		HeartRate:       p.Vitals.HeartRate,
		SystolicBP:      p.Vitals.SystolicBP,
		DiastolicBP:     p.Vitals.DiastolicBP,
		RespiratoryRate: p.Vitals.RespiratoryRate,
		SpO2:            p.Vitals.SpO2,
		Temperature:     p.Vitals.Temperature,
	}
}

func isBedCategory(c resource.Category) bool {
	for _, b := range resource.BedCategories {
		if b == c {
			return true
		}
	}
	return false
}

// Dispatch places the highest-ranked waiting entry of category that has an
// eligible ready unit. Entries and units held by concurrent transactions
// are skipped rather than waited on. A wait-listed outcome means no
// eligible pairing exists right now.
func (s *Service) Dispatch(ctx context.Context, category resource.Category) (out *Outcome, err error) {
	started := time.Now()
	defer func() { s.observe("dispatch", category, started, out, err) }()

	if !isBedCategory(category) {
		return nil, apperr.Validation("category %q is not dispatched automatically", category)
	}

	out = &Outcome{Status: OutcomeWaitListed}
	err = s.runTx(ctx, func(tx Tx, fx *effects) error {
		waiting, err := tx.WaitingEntries(ctx, category)
		if err != nil {
			return err
		}
		if len(waiting) == 0 {
			return nil
		}
		infectious := eligibility.AnyInfectious(waiting)
		now := s.now()

		for _, r := range s.orch.Rank(waiting, now) {
			e, err := tx.LockEntry(ctx, r.Entry.ID, true)
			if err != nil {
				return err
			}
			if e == nil || e.Status != queue.StatusWaiting {
				continue
			}
			u, err := tx.ReserveUnit(ctx, s.filter.Criteria(e, infectious))
			if err != nil {
				return err
			}
			if u == nil {
				continue
			}
			if v := s.filter.Check(u, e, infectious); !v.Eligible {
				s.logger.Warn().Str("unit_id", u.ID).Str("reason", v.String()).Msg("reserved unit failed re-verification")
				continue
			}

			e.PriorityScore = r.Score
			a, err := s.occupy(ctx, tx, fx, u, e, now, false)
			if err != nil {
				return err
			}
			fx.emit(unitEvent(eventbus.KindAdmission, u, e.ID))
			out = &Outcome{Status: OutcomePlaced, Entry: e, Unit: u, Assignment: a}
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Placed() {
		s.logger.Info().Str("unit_id", out.Unit.ID).Str("entry_id", out.Entry.ID.String()).
			Float64("score", out.Entry.PriorityScore).Msg("patient dispatched")
	}
	return out, nil
}

// DispatchPending places up to limit waitlisted entries of category and
// reports how many were placed. It implements queue.Dispatcher.
func (s *Service) DispatchPending(ctx context.Context, category resource.Category, limit int) (int, error) {
	placed := 0
	for limit <= 0 || placed < limit {
		o, err := s.Dispatch(ctx, category)
		if err != nil {
			return placed, err
		}
		if !o.Placed() {
			break
		}
		placed++
	}
	return placed, nil
}

// Discharge ends a bed occupancy. The bed becomes dirty and must be cleaned
// before it can be allocated again.
func (s *Service) Discharge(ctx context.Context, unitID string) (*resource.Unit, error) {
	var unit *resource.Unit
	err := s.runTx(ctx, func(tx Tx, fx *effects) error {
		u, err := tx.LockUnit(ctx, unitID)
		if err != nil {
			return err
		}
		switch u.Category {
		case resource.CategorySurgical:
			return apperr.Validation("unit %s is a surgical suite; complete the surgery instead", u.ID)
		case resource.CategoryConsultation:
			return apperr.Validation("unit %s is a consultation room; complete the consultation instead", u.ID)
		}
		if u.State != resource.StateOccupied {
			return apperr.Conflict("unit %s is %s, not occupied", u.ID, u.State)
		}
		entry, err := s.release(ctx, tx, fx, u, s.now())
		if err != nil {
			return err
		}
		var entryID uuid.UUID
		if entry != nil {
			entryID = entry.ID
		}
		fx.emit(unitEvent(eventbus.KindDischarge, u, entryID))
		unit = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("unit_id", unit.ID).Msg("patient discharged")
	return unit, nil
}

// StartCleaning moves a dirty unit to cleaning.
func (s *Service) StartCleaning(ctx context.Context, unitID string) (*resource.Unit, error) {
	return s.cleaningStep(ctx, unitID, resource.EventStartCleaning, eventbus.KindCleaningStarted)
}

// FinishCleaning returns a unit to service and retries dispatch for its
// category so waitlisted patients are placed without waiting for the
// monitor.
func (s *Service) FinishCleaning(ctx context.Context, unitID string) (*resource.Unit, error) {
	u, err := s.cleaningStep(ctx, unitID, resource.EventFinishCleaning, eventbus.KindUnitReady)
	if err != nil {
		return nil, err
	}
	if isBedCategory(u.Category) {
		if placed, err := s.DispatchPending(ctx, u.Category, 1); err != nil {
			s.logger.Error().Err(err).Str("category", string(u.Category)).Msg("dispatch after cleaning failed")
		} else if placed > 0 {
			if fresh, err := s.store.GetUnit(ctx, u.ID); err == nil {
				u = fresh
			}
		}
	}
	return u, nil
}

func (s *Service) cleaningStep(ctx context.Context, unitID string, ev resource.Event, kind eventbus.Kind) (*resource.Unit, error) {
	var unit *resource.Unit
	err := s.runTx(ctx, func(tx Tx, fx *effects) error {
		u, err := tx.LockUnit(ctx, unitID)
		if err != nil {
			return err
		}
		if err := s.step(ctx, tx, fx, u, ev, s.now()); err != nil {
			return err
		}
		fx.emit(unitEvent(kind, u, uuid.Nil))
		unit = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unit, nil
}

// GetUnit returns one unit.
func (s *Service) GetUnit(ctx context.Context, id string) (*resource.Unit, error) {
	return s.store.GetUnit(ctx, id)
}

// ListUnits returns units matching f.
func (s *Service) ListUnits(ctx context.Context, f UnitFilter) ([]resource.Unit, error) {
	return s.store.ListUnits(ctx, f)
}

// GetEntry returns one queue entry.
func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (*queue.Entry, error) {
	return s.store.GetEntry(ctx, id)
}

// WaitingEntries implements queue.Source.
func (s *Service) WaitingEntries(ctx context.Context, category resource.Category) ([]queue.Entry, error) {
	return s.store.ListEntries(ctx, EntryFilter{Category: category, Status: queue.StatusWaiting})
}

// QueueSnapshot ranks the waiting entries of category at the current time.
func (s *Service) QueueSnapshot(ctx context.Context, category resource.Category) (queue.Snapshot, error) {
	entries, err := s.WaitingEntries(ctx, category)
	if err != nil {
		return queue.Snapshot{}, err
	}
	return s.orch.Snapshot(category, entries, s.now()), nil
}

// ListAssignments pages through assignment history, newest first.
func (s *Service) ListAssignments(ctx context.Context, unitID string, limit, offset int) ([]Assignment, int, error) {
	return s.store.ListAssignments(ctx, unitID, limit, offset)
}

// SeedUnits provisions units that do not exist yet.
func (s *Service) SeedUnits(ctx context.Context, units []resource.Unit) (int, error) {
	return s.store.SeedUnits(ctx, units)
}
