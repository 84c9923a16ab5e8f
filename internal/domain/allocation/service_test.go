package allocation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/eligibility"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/queue"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/resource"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/eventbus"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/oracle"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/pkg/apperr"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// -- test doubles --

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e eventbus.Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *recordingPublisher) kinds() []eventbus.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]eventbus.Kind, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}

func (p *recordingPublisher) count(k eventbus.Kind) int {
	n := 0
	for _, got := range p.kinds() {
		if got == k {
			n++
		}
	}
	return n
}

// classifierByCondition answers from a table keyed by the patient's
// condition and fails for anything else.
type classifierByCondition map[string]oracle.Classification

func (c classifierByCondition) Classify(_ context.Context, obs oracle.Observation) (oracle.Classification, error) {
	if cls, ok := c[obs.Condition]; ok {
		return cls, nil
	}
	return oracle.Classification{}, errors.New("unknown condition")
}

// fixedClassifier always gives the same answer after an optional delay.
type fixedClassifier struct {
	cls   oracle.Classification
	err   error
	delay time.Duration
}

func (c fixedClassifier) Classify(ctx context.Context, _ oracle.Observation) (oracle.Classification, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return oracle.Classification{}, ctx.Err()
		}
	}
	return c.cls, c.err
}

func brokenOracles() map[string]fixedClassifier {
	return map[string]fixedClassifier{
		"error":      {err: errors.New("connection refused")},
		"level zero": {cls: oracle.Classification{AcuityLevel: 0, Category: "critical_care"}},
		"level nine": {cls: oracle.Classification{AcuityLevel: 9, Category: "critical_care"}},
		"timeout":    {cls: oracle.Classification{AcuityLevel: 1, Category: "critical_care"}, delay: time.Second},
	}
}

type failingStore struct {
	*MemoryStore
	failOpen bool
	beginErr error
}

func (s *failingStore) Begin(ctx context.Context) (Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	tx, err := s.MemoryStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &failingTx{Tx: tx, failOpen: s.failOpen}, nil
}

type failingTx struct {
	Tx
	failOpen bool
}

func (t *failingTx) OpenAssignment(ctx context.Context, a *Assignment) error {
	if t.failOpen {
		return errors.New("disk full")
	}
	return t.Tx.OpenAssignment(ctx, a)
}

type fixture struct {
	svc    *Service
	store  *MemoryStore
	events *recordingPublisher
	clock  *fakeClock
}

func newFixture(t *testing.T, units ...resource.Unit) *fixture {
	t.Helper()
	return newFixtureWith(t, NewMemoryStore(), eligibility.DefaultPolicy(), units...)
}

func newFixtureWith(t *testing.T, mem *MemoryStore, policy eligibility.Policy, units ...resource.Unit) *fixture {
	t.Helper()
	if _, err := mem.SeedUnits(context.Background(), units); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f := &fixture{store: mem, events: &recordingPublisher{}, clock: &fakeClock{now: t0}}
	f.svc = NewService(mem, eligibility.New(policy), queue.NewOrchestrator(0))
	f.svc.SetPublisher(f.events)
	f.svc.now = f.clock.Now
	return f
}

func bed(id string, c resource.Category, g resource.Gender, isolation bool, pos int) resource.Unit {
	return resource.Unit{
		ID: id, Category: c, Gender: g, Isolation: isolation, Position: pos,
		State: resource.InitialState(c), UpdatedAt: t0,
	}
}

func room(id, doctor string, pos int) resource.Unit {
	u := bed(id, resource.CategoryConsultation, resource.GenderAny, false, pos)
	u.DoctorName = doctor
	return u
}

func details(name, gender, condition string) PatientDetails {
	return PatientDetails{PatientName: name, PatientAge: 40, Gender: gender, Condition: condition}
}

func mustUnit(t *testing.T, f *fixture, id string) *resource.Unit {
	t.Helper()
	u, err := f.store.GetUnit(context.Background(), id)
	if err != nil {
		t.Fatalf("get unit %s: %v", id, err)
	}
	return u
}

func expectKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
}

// -- direct admission --

func TestAdmit_PlacesPatient(t *testing.T) {
	f := newFixture(t, bed("WARD-MED-F-1", resource.CategoryWard, resource.GenderFemale, false, 1))
	ctx := context.Background()

	out, err := f.svc.Admit(ctx, &AdmissionRequest{UnitID: "WARD-MED-F-1", PatientDetails: details("Asha", "female", "fracture")})
	if err != nil {
		t.Fatalf("Admit() error: %v", err)
	}
	if !out.Placed() {
		t.Fatalf("expected placed, got %s", out.Status)
	}

	u := mustUnit(t, f, "WARD-MED-F-1")
	if u.State != resource.StateOccupied {
		t.Errorf("expected occupied, got %s", u.State)
	}
	if u.PatientName != "Asha" || u.EntryID == nil || *u.EntryID != out.Entry.ID {
		t.Errorf("occupant fields not set: %+v", u)
	}
	e, _ := f.store.GetEntry(ctx, out.Entry.ID)
	if e.Status != queue.StatusInService || e.UnitID == nil || *e.UnitID != u.ID {
		t.Errorf("expected entry in service on %s, got %+v", u.ID, e)
	}
	assignments, total, _ := f.store.ListAssignments(ctx, u.ID, 10, 0)
	if total != 1 || !assignments[0].Open() {
		t.Errorf("expected one open assignment, got %d", total)
	}
	if f.events.count(eventbus.KindAdmission) != 1 {
		t.Errorf("expected one admission event, got %v", f.events.kinds())
	}
}

func TestAdmit_Rejections(t *testing.T) {
	dirty := bed("WARD-3", resource.CategoryWard, resource.GenderAny, false, 3)
	dirty.State = resource.StateDirty
	f := newFixture(t,
		bed("WARD-MED-M-1", resource.CategoryWard, resource.GenderMale, false, 1),
		bed("WARD-2", resource.CategoryWard, resource.GenderAny, false, 2),
		dirty,
		bed("ICU-1", resource.CategoryCriticalCare, resource.GenderAny, false, 1),
		bed("OR-1", resource.CategorySurgical, resource.GenderAny, false, 1),
	)
	ctx := context.Background()

	tests := []struct {
		name string
		req  AdmissionRequest
		kind apperr.Kind
	}{
		{"unknown unit", AdmissionRequest{UnitID: "WARD-99", PatientDetails: details("A", "male", "")}, apperr.KindNotFound},
		{"gender mismatch", AdmissionRequest{UnitID: "WARD-MED-M-1", PatientDetails: details("B", "female", "")}, apperr.KindIneligible},
		{"infectious needs isolation", AdmissionRequest{UnitID: "WARD-2", PatientDetails: details("C", "male", "high fever")}, apperr.KindIneligible},
		{"not ready", AdmissionRequest{UnitID: "WARD-3", PatientDetails: details("D", "male", "")}, apperr.KindConflict},
		{"category mismatch", AdmissionRequest{UnitID: "ICU-1", PatientDetails: details("E", "male", ""), RequiredCategory: "ward"}, apperr.KindIneligible},
		{"surgical suite", AdmissionRequest{UnitID: "OR-1", PatientDetails: details("F", "male", "")}, apperr.KindValidation},
		{"bad gender", AdmissionRequest{UnitID: "WARD-2", PatientDetails: details("G", "unknown", "")}, apperr.KindValidation},
		{"missing name", AdmissionRequest{UnitID: "WARD-2", PatientDetails: details(" ", "male", "")}, apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Admit(ctx, &tt.req)
			expectKind(t, err, tt.kind)
		})
	}

	for _, id := range []string{"WARD-MED-M-1", "WARD-2", "ICU-1"} {
		if u := mustUnit(t, f, id); u.State != resource.StateAvailable {
			t.Errorf("%s: expected unchanged available, got %s", id, u.State)
		}
	}
	if len(f.events.kinds()) != 0 {
		t.Errorf("expected no events after rejections, got %v", f.events.kinds())
	}
}

func TestAdmit_RollsBackOnFailure(t *testing.T) {
	mem := NewMemoryStore()
	store := &failingStore{MemoryStore: mem, failOpen: true}
	mem.SeedUnits(context.Background(), []resource.Unit{bed("ER-1", resource.CategoryEmergency, resource.GenderAny, false, 1)})
	events := &recordingPublisher{}
	svc := NewService(store, nil, nil)
	svc.SetPublisher(events)

	_, err := svc.Admit(context.Background(), &AdmissionRequest{UnitID: "ER-1", PatientDetails: details("Ravi", "male", "laceration")})
	expectKind(t, err, apperr.KindPersistence)

	u, _ := mem.GetUnit(context.Background(), "ER-1")
	if u.State != resource.StateAvailable || u.EntryID != nil || u.PatientName != "" {
		t.Errorf("expected unit restored, got %+v", u)
	}
	entries, _ := mem.ListEntries(context.Background(), EntryFilter{})
	if len(entries) != 0 {
		t.Errorf("expected no entries after rollback, got %d", len(entries))
	}
	if len(events.kinds()) != 0 {
		t.Errorf("expected no events after rollback, got %v", events.kinds())
	}

	// The unit lock was released, so a healthy transaction can take it.
	store.failOpen = false
	if _, err := svc.Admit(context.Background(), &AdmissionRequest{UnitID: "ER-1", PatientDetails: details("Ravi", "male", "laceration")}); err != nil {
		t.Fatalf("Admit() after rollback: %v", err)
	}
}

func TestService_DatabaseUnavailable(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), beginErr: errors.New("connection refused")}
	svc := NewService(store, nil, nil)

	_, err := svc.Dispatch(context.Background(), resource.CategoryEmergency)
	expectKind(t, err, apperr.KindDependencyUnavailable)
	if !errors.Is(err, apperr.ErrDependencyUnavailable) {
		t.Errorf("expected errors.Is to match ErrDependencyUnavailable, got %v", err)
	}
	_, err = svc.Discharge(context.Background(), "ER-1")
	expectKind(t, err, apperr.KindDependencyUnavailable)
}

// -- discharge and cleaning --

func TestDischarge_DirtyUntilCleaned(t *testing.T) {
	f := newFixture(t, bed("WARD-1", resource.CategoryWard, resource.GenderAny, false, 1))
	f.svc.SetClassifier(classifierByCondition{
		"fracture": {AcuityLevel: 4, Category: "ward"},
	})
	ctx := context.Background()

	first, err := f.svc.Admit(ctx, &AdmissionRequest{UnitID: "WARD-1", PatientDetails: details("First", "male", "fracture")})
	if err != nil {
		t.Fatalf("Admit() error: %v", err)
	}

	u, err := f.svc.Discharge(ctx, "WARD-1")
	if err != nil {
		t.Fatalf("Discharge() error: %v", err)
	}
	if u.State != resource.StateDirty {
		t.Fatalf("expected dirty, got %s", u.State)
	}
	if u.EntryID != nil || u.PatientName != "" || u.Condition != "" || u.OccupiedAt != nil {
		t.Errorf("expected patient fields cleared, got %+v", u)
	}
	done, _ := f.store.GetEntry(ctx, first.Entry.ID)
	if done.Status != queue.StatusCompleted || done.CompletedAt == nil {
		t.Errorf("expected completed entry, got %+v", done)
	}
	assignments, _, _ := f.store.ListAssignments(ctx, "WARD-1", 10, 0)
	if assignments[0].Open() {
		t.Error("expected assignment closed")
	}

	// Dirty beds are not allocatable.
	out, err := f.svc.Triage(ctx, &TriageRequest{PatientDetails: details("Second", "male", "fracture")})
	if err != nil {
		t.Fatalf("Triage() error: %v", err)
	}
	if out.Status != OutcomeWaitListed {
		t.Fatalf("expected wait-listed while bed is dirty, got %s", out.Status)
	}

	if _, err := f.svc.Discharge(ctx, "WARD-1"); apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("expected conflict discharging a dirty bed, got %v", err)
	}
	if _, err := f.svc.FinishCleaning(ctx, "WARD-1"); apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("expected conflict finishing cleaning before it started, got %v", err)
	}
	if _, err := f.svc.StartCleaning(ctx, "WARD-1"); err != nil {
		t.Fatalf("StartCleaning() error: %v", err)
	}
	ready, err := f.svc.FinishCleaning(ctx, "WARD-1")
	if err != nil {
		t.Fatalf("FinishCleaning() error: %v", err)
	}

	// Finishing cleaning places the waitlisted patient straight away.
	if ready.State != resource.StateOccupied || ready.EntryID == nil || *ready.EntryID != out.Entry.ID {
		t.Errorf("expected waitlisted patient placed after cleaning, got %+v", ready)
	}
	for _, k := range []eventbus.Kind{eventbus.KindDischarge, eventbus.KindCleaningStarted, eventbus.KindUnitReady} {
		if f.events.count(k) != 1 {
			t.Errorf("expected one %s event, got %v", k, f.events.kinds())
		}
	}
}

func TestStartCleaning_InvalidFromAvailable(t *testing.T) {
	f := newFixture(t, bed("ER-1", resource.CategoryEmergency, resource.GenderAny, false, 1))
	_, err := f.svc.StartCleaning(context.Background(), "ER-1")
	expectKind(t, err, apperr.KindConflict)
	if !errors.Is(err, resource.ErrInvalidTransition) {
		t.Errorf("expected invalid transition to be wrapped, got %v", err)
	}
}

// -- triage and dispatch --

func TestTriage_FallbackRoutesToEmergency(t *testing.T) {
	f := newFixture(t,
		bed("ICU-1", resource.CategoryCriticalCare, resource.GenderAny, false, 1),
		bed("ER-1", resource.CategoryEmergency, resource.GenderAny, false, 1),
	)

	out, err := f.svc.Triage(context.Background(), &TriageRequest{PatientDetails: details("Lena", "female", "abdominal pain")})
	if err != nil {
		t.Fatalf("Triage() error: %v", err)
	}
	if !out.Placed() || out.Unit.ID != "ER-1" {
		t.Fatalf("expected placement in ER-1, got %+v", out)
	}
	if out.Classification == nil || !out.Classification.Fallback || out.Entry.AcuityLevel != 3 {
		t.Errorf("expected fallback level 3 classification, got %+v", out.Classification)
	}
}

func TestTriage_BrokenOracleUsesDefaultTriage(t *testing.T) {
	for name, c := range brokenOracles() {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t,
				bed("ICU-1", resource.CategoryCriticalCare, resource.GenderAny, false, 1),
				bed("ER-1", resource.CategoryEmergency, resource.GenderAny, false, 1),
			)
			rec := &countingRecorder{outcomes: map[string]int{}, transitions: map[string]int{}}
			f.svc.SetRecorder(rec)
			f.svc.SetOracleTimeout(20 * time.Millisecond)
			f.svc.SetClassifier(c)

			out, err := f.svc.Triage(context.Background(), &TriageRequest{PatientDetails: details("Lena", "female", "collapse")})
			if err != nil {
				t.Fatalf("Triage() error: %v", err)
			}
			if !out.Placed() || out.Unit.ID != "ER-1" {
				t.Fatalf("expected placement in ER-1, got %+v", out.Unit)
			}
			if out.Entry.AcuityLevel != 3 || out.Classification == nil || !out.Classification.Fallback {
				t.Errorf("expected fallback level 3, got level %d (%+v)", out.Entry.AcuityLevel, out.Classification)
			}
			if rec.fallbackCount() != 1 {
				t.Errorf("expected one fallback recorded, got %d", rec.fallbackCount())
			}
			if !queuedWithFallback(f.events) {
				t.Errorf("expected queue update flagged as fallback, got %+v", f.events.events)
			}
		})
	}
}

// An unwrapped classifier still falls back through the service itself.
func TestTriage_UnguardedOracleFailure(t *testing.T) {
	for name, c := range brokenOracles() {
		if c.delay > 0 {
			continue
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t,
				bed("ICU-1", resource.CategoryCriticalCare, resource.GenderAny, false, 1),
				bed("ER-1", resource.CategoryEmergency, resource.GenderAny, false, 1),
			)
			rec := &countingRecorder{outcomes: map[string]int{}, transitions: map[string]int{}}
			f.svc.SetRecorder(rec)
			f.svc.classifier = c

			out, err := f.svc.Triage(context.Background(), &TriageRequest{PatientDetails: details("Lena", "female", "collapse")})
			if err != nil {
				t.Fatalf("Triage() error: %v", err)
			}
			if !out.Placed() || out.Unit.ID != "ER-1" || out.Entry.AcuityLevel != 3 {
				t.Fatalf("expected level 3 placement in ER-1, got %+v", out)
			}
			if rec.fallbackCount() != 1 {
				t.Errorf("expected one fallback recorded, got %d", rec.fallbackCount())
			}
		})
	}
}

func queuedWithFallback(p *recordingPublisher) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.Kind == eventbus.KindQueueUpdate && e.Data["oracle_fallback"] == true {
			return true
		}
	}
	return false
}

func TestTriage_OracleCategoryAndVentilator(t *testing.T) {
	f := newFixture(t,
		bed("ICU-1", resource.CategoryCriticalCare, resource.GenderAny, false, 1),
		bed("ER-1", resource.CategoryEmergency, resource.GenderAny, false, 1),
	)
	f.svc.SetClassifier(classifierByCondition{
		"respiratory failure": {AcuityLevel: 1, Category: "ICU", Rationale: "hypoxic"},
	})

	req := &TriageRequest{PatientDetails: details("Omar", "male", "respiratory failure")}
	req.Vitals.SpO2 = 84
	out, err := f.svc.Triage(context.Background(), req)
	if err != nil {
		t.Fatalf("Triage() error: %v", err)
	}
	if !out.Placed() || out.Unit.ID != "ICU-1" {
		t.Fatalf("expected ICU-1, got %+v", out)
	}
	if !out.Unit.VentilatorInUse || !out.Entry.NeedsVentilator {
		t.Error("expected ventilator flagged for SpO2 below 88 at level 1")
	}
	if out.Entry.Rationale != "hypoxic" {
		t.Errorf("expected rationale recorded, got %q", out.Entry.Rationale)
	}
}

func TestTriage_WaitListedWhenFull(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.Triage(context.Background(), &TriageRequest{PatientDetails: details("Kim", "female", "")})
	if err != nil {
		t.Fatalf("Triage() error: %v", err)
	}
	if out.Status != OutcomeWaitListed || out.Entry.Status != queue.StatusWaiting {
		t.Fatalf("expected wait-listed waiting entry, got %+v", out)
	}
}

func TestDispatch_HighestPriorityFirst(t *testing.T) {
	f := newFixture(t)
	f.svc.SetClassifier(classifierByCondition{
		"sprain":     {AcuityLevel: 3, Category: "emergency"},
		"chest pain": {AcuityLevel: 3, Category: "emergency"},
	})
	ctx := context.Background()

	early, _ := f.svc.Triage(ctx, &TriageRequest{PatientDetails: details("Early", "male", "sprain")})
	f.clock.Advance(10 * time.Minute)
	urgentReq := &TriageRequest{PatientDetails: details("Urgent", "male", "chest pain")}
	urgentReq.Symptoms = []string{"crushing chest pain"}
	urgent, _ := f.svc.Triage(ctx, urgentReq)

	f.store.SeedUnits(ctx, []resource.Unit{bed("ER-1", resource.CategoryEmergency, resource.GenderAny, false, 1)})
	out, err := f.svc.Dispatch(ctx, resource.CategoryEmergency)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	// Early waited 10 minutes (+5); Urgent carries the chest pain bonus (+25).
	if !out.Placed() || out.Entry.ID != urgent.Entry.ID {
		t.Fatalf("expected Urgent placed first, got %+v", out.Entry)
	}
	if out.Entry.PriorityScore != 85 {
		t.Errorf("expected score 85, got %v", out.Entry.PriorityScore)
	}

	again, err := f.svc.Dispatch(ctx, resource.CategoryEmergency)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if again.Status != OutcomeWaitListed {
		t.Errorf("expected no capacity, got %s", again.Status)
	}
	still, _ := f.store.GetEntry(ctx, early.Entry.ID)
	if still.Status != queue.StatusWaiting {
		t.Errorf("expected Early still waiting, got %s", still.Status)
	}
}

func TestDispatch_RejectsRoomCategories(t *testing.T) {
	f := newFixture(t)
	for _, c := range []resource.Category{resource.CategoryConsultation, resource.CategorySurgical} {
		_, err := f.svc.Dispatch(context.Background(), c)
		expectKind(t, err, apperr.KindValidation)
	}
}

func TestDispatch_GenderRoutingSkipsUnplaceable(t *testing.T) {
	f := newFixture(t, bed("WARD-MED-M-1", resource.CategoryWard, resource.GenderMale, false, 1))
	f.svc.SetClassifier(classifierByCondition{
		"pneumonia": {AcuityLevel: 2, Category: "ward"},
		"fracture":  {AcuityLevel: 4, Category: "ward"},
	})
	ctx := context.Background()

	// The female patient ranks higher but only a male bed is free.
	female, _ := f.svc.Triage(ctx, &TriageRequest{PatientDetails: details("Priya", "female", "pneumonia")})
	if female.Status != OutcomeWaitListed {
		t.Fatalf("expected female wait-listed, got %s", female.Status)
	}
	male, err := f.svc.Triage(ctx, &TriageRequest{PatientDetails: details("Arjun", "male", "fracture")})
	if err != nil {
		t.Fatalf("Triage() error: %v", err)
	}
	if !male.Placed() || male.Unit.ID != "WARD-MED-M-1" {
		t.Fatalf("expected male placed in male ward, got %+v", male)
	}

	f.store.SeedUnits(ctx, []resource.Unit{bed("WARD-MED-F-1", resource.CategoryWard, resource.GenderFemale, false, 2)})
	placed, err := f.svc.DispatchPending(ctx, resource.CategoryWard, 0)
	if err != nil || placed != 1 {
		t.Fatalf("expected one placement, got %d (%v)", placed, err)
	}
	u := mustUnit(t, f, "WARD-MED-F-1")
	if u.EntryID == nil || *u.EntryID != female.Entry.ID {
		t.Errorf("expected female placed in female ward, got %+v", u)
	}
}

func TestDispatch_InfectionRouting(t *testing.T) {
	units := []resource.Unit{
		bed("WARD-ISO-1", resource.CategoryWard, resource.GenderAny, true, 1),
		bed("WARD-PED-1", resource.CategoryWard, resource.GenderAny, false, 2),
	}
	cls := classifierByCondition{
		"fever":    {AcuityLevel: 4, Category: "ward"},
		"fracture": {AcuityLevel: 4, Category: "ward"},
	}

	t.Run("exclusive", func(t *testing.T) {
		f := newFixture(t, units...)
		f.svc.SetClassifier(cls)
		ctx := context.Background()

		a, _ := f.svc.Triage(ctx, &TriageRequest{PatientDetails: details("A", "male", "fracture")})
		if !a.Placed() || a.Unit.ID != "WARD-PED-1" {
			t.Fatalf("expected non-infectious patient in WARD-PED-1, got %+v", a)
		}
		b, _ := f.svc.Triage(ctx, &TriageRequest{PatientDetails: details("B", "male", "fracture")})
		if b.Status != OutcomeWaitListed {
			t.Fatalf("expected isolation bed withheld from non-infectious patient, got %+v", b.Unit)
		}
		c, _ := f.svc.Triage(ctx, &TriageRequest{PatientDetails: details("C", "female", "fever")})
		if !c.Placed() || c.Unit.ID != "WARD-ISO-1" {
			t.Fatalf("expected infectious patient in isolation, got %+v", c)
		}
	})

	t.Run("relaxed searches isolation last", func(t *testing.T) {
		policy := eligibility.Policy{
			Isolation:           eligibility.IsolationRelaxed,
			IsolationCategories: []resource.Category{resource.CategoryWard},
		}
		f := newFixtureWith(t, NewMemoryStore(), policy, units...)
		f.svc.SetClassifier(cls)
		ctx := context.Background()

		a, _ := f.svc.Triage(ctx, &TriageRequest{PatientDetails: details("A", "male", "fracture")})
		if !a.Placed() || a.Unit.ID != "WARD-PED-1" {
			t.Fatalf("expected general bed first, got %+v", a)
		}
		b, _ := f.svc.Triage(ctx, &TriageRequest{PatientDetails: details("B", "male", "fracture")})
		if !b.Placed() || b.Unit.ID != "WARD-ISO-1" {
			t.Fatalf("expected isolation bed used once general beds are full, got %+v", b)
		}
	})
}

func TestDispatch_ConcurrentPlacementsAreUnique(t *testing.T) {
	const beds, patients = 5, 20
	var units []resource.Unit
	for i := 1; i <= beds; i++ {
		units = append(units, bed("ER-"+string(rune('0'+i)), resource.CategoryEmergency, resource.GenderAny, false, i))
	}
	f := newFixture(t, units...)
	ctx := context.Background()

	tx, _ := f.store.Begin(ctx)
	for i := 0; i < patients; i++ {
		e := &queue.Entry{
			ID: uuid.New(), PatientName: "p", Gender: resource.GenderMale, AcuityLevel: 3,
			RequiredCategory: resource.CategoryEmergency, ArrivedAt: t0, Status: queue.StatusWaiting,
		}
		if err := tx.InsertEntry(ctx, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	tx.Commit(ctx)

	var wg sync.WaitGroup
	errs := make(chan error, patients)
	for i := 0; i < patients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Dispatch(ctx, resource.CategoryEmergency); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Dispatch() error: %v", err)
	}
	// Dispatches that only found locked candidates leave work for a retry.
	if _, err := f.svc.DispatchPending(ctx, resource.CategoryEmergency, 0); err != nil {
		t.Fatalf("DispatchPending() error: %v", err)
	}

	seenEntries := make(map[uuid.UUID]string)
	for _, u := range mustList(t, f, resource.CategoryEmergency) {
		if u.State != resource.StateOccupied || u.EntryID == nil {
			t.Fatalf("expected every bed occupied, %s is %s", u.ID, u.State)
		}
		if other, dup := seenEntries[*u.EntryID]; dup {
			t.Fatalf("entry placed in both %s and %s", other, u.ID)
		}
		seenEntries[*u.EntryID] = u.ID
	}
	waiting, _ := f.svc.WaitingEntries(ctx, resource.CategoryEmergency)
	if len(waiting) != patients-beds {
		t.Errorf("expected %d still waiting, got %d", patients-beds, len(waiting))
	}
	_, open, _ := f.store.ListAssignments(ctx, "", 100, 0)
	if open != beds {
		t.Errorf("expected %d assignments, got %d", beds, open)
	}
}

func mustList(t *testing.T, f *fixture, c resource.Category) []resource.Unit {
	t.Helper()
	units, err := f.store.ListUnits(context.Background(), UnitFilter{Category: c})
	if err != nil {
		t.Fatalf("list units: %v", err)
	}
	return units
}

// -- consultation rooms --

func TestCheckInAndCallNext(t *testing.T) {
	f := newFixture(t, room("OPD-1", "Dr. Mehta", 1))
	ctx := context.Background()

	routine, err := f.svc.CheckIn(ctx, &CheckInRequest{PatientDetails: details("Routine", "female", "rash"), AcuityLevel: 5})
	if err != nil {
		t.Fatalf("CheckIn() error: %v", err)
	}
	if routine.Classification != nil {
		t.Error("expected oracle skipped when acuity is given")
	}
	f.clock.Advance(time.Minute)
	sick, _ := f.svc.CheckIn(ctx, &CheckInRequest{PatientDetails: details("Sick", "male", "abdominal pain")})
	if sick.Classification == nil || sick.Entry.AcuityLevel != 3 {
		t.Fatalf("expected fallback classification at level 3, got %+v", sick.Classification)
	}

	snap, err := f.svc.QueueSnapshot(ctx, resource.CategoryConsultation)
	if err != nil {
		t.Fatalf("QueueSnapshot() error: %v", err)
	}
	if snap.Depth != 2 || snap.Entries[0].Entry.ID != sick.Entry.ID {
		t.Fatalf("expected Sick ranked first of 2, got %+v", snap)
	}

	out, err := f.svc.CallNext(ctx, "OPD-1")
	if err != nil {
		t.Fatalf("CallNext() error: %v", err)
	}
	if out.Entry.ID != sick.Entry.ID || out.Unit.State != resource.StateActive {
		t.Fatalf("expected Sick called into active room, got %+v", out)
	}
	if _, err := f.svc.CallNext(ctx, "OPD-1"); apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("expected conflict calling into an active room, got %v", err)
	}

	u, err := f.svc.CompleteConsultation(ctx, "OPD-1")
	if err != nil {
		t.Fatalf("CompleteConsultation() error: %v", err)
	}
	if u.State != resource.StateIdle || u.PatientName != "" {
		t.Errorf("expected idle cleared room, got %+v", u)
	}
	done, _ := f.store.GetEntry(ctx, sick.Entry.ID)
	if done.Status != queue.StatusCompleted {
		t.Errorf("expected completed, got %s", done.Status)
	}
	if _, err := f.svc.CompleteConsultation(ctx, "OPD-1"); apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("expected conflict completing an idle room, got %v", err)
	}

	if f.events.count(eventbus.KindRoomCall) != 1 || f.events.count(eventbus.KindRoomRelease) != 1 {
		t.Errorf("unexpected events: %v", f.events.kinds())
	}
}

func TestCheckIn_BrokenOracleUsesDefaultAcuity(t *testing.T) {
	for name, c := range brokenOracles() {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, room("OPD-1", "Dr. Rao", 1))
			rec := &countingRecorder{outcomes: map[string]int{}, transitions: map[string]int{}}
			f.svc.SetRecorder(rec)
			f.svc.SetOracleTimeout(20 * time.Millisecond)
			f.svc.SetClassifier(c)

			out, err := f.svc.CheckIn(context.Background(), &CheckInRequest{PatientDetails: details("Sam", "male", "dizziness")})
			if err != nil {
				t.Fatalf("CheckIn() error: %v", err)
			}
			if out.Entry.AcuityLevel != 3 || out.Classification == nil || !out.Classification.Fallback {
				t.Errorf("expected fallback level 3, got level %d (%+v)", out.Entry.AcuityLevel, out.Classification)
			}
			if out.Entry.RequiredCategory != resource.CategoryConsultation {
				t.Errorf("expected consultation queue, got %s", out.Entry.RequiredCategory)
			}
			if rec.fallbackCount() != 1 {
				t.Errorf("expected one fallback recorded, got %d", rec.fallbackCount())
			}
			if !queuedWithFallback(f.events) {
				t.Errorf("expected queue update flagged as fallback")
			}
		})
	}
}

func TestCallNext_EmptyQueue(t *testing.T) {
	f := newFixture(t, room("OPD-1", "Dr. Rao", 1))
	_, err := f.svc.CallNext(context.Background(), "OPD-1")
	expectKind(t, err, apperr.KindNotFound)
	if u := mustUnit(t, f, "OPD-1"); u.State != resource.StateIdle {
		t.Errorf("expected room left idle, got %s", u.State)
	}
}

func TestCallPatient_OneWinnerPerRoom(t *testing.T) {
	const callers = 8
	f := newFixture(t, room("OPD-1", "Dr. Iyer", 1))
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < callers; i++ {
		out, err := f.svc.CheckIn(ctx, &CheckInRequest{PatientDetails: details("P", "male", ""), AcuityLevel: 3})
		if err != nil {
			t.Fatalf("CheckIn() error: %v", err)
		}
		ids = append(ids, out.Entry.ID)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.CallPatient(ctx, &RoomCallRequest{RoomID: "OPD-1", EntryID: id})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperr.KindOf(err) == apperr.KindConflict:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	if wins != 1 || conflicts != callers-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d and %d", callers-1, wins, conflicts)
	}
	waiting, _ := f.svc.WaitingEntries(ctx, resource.CategoryConsultation)
	if len(waiting) != callers-1 {
		t.Errorf("expected losers still waiting, got %d", len(waiting))
	}
}

func TestCallPatient_OneRoomPerPatient(t *testing.T) {
	f := newFixture(t, room("OPD-1", "Dr. A", 1), room("OPD-2", "Dr. B", 2))
	ctx := context.Background()
	in, _ := f.svc.CheckIn(ctx, &CheckInRequest{PatientDetails: details("Solo", "female", ""), AcuityLevel: 4})

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, id := range []string{"OPD-1", "OPD-2"} {
		wg.Add(1)
		go func(i int, roomID string) {
			defer wg.Done()
			_, results[i] = f.svc.CallPatient(ctx, &RoomCallRequest{RoomID: roomID, EntryID: in.Entry.ID})
		}(i, id)
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
		} else if apperr.KindOf(err) != apperr.KindConflict {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one room to get the patient, got %d", ok)
	}
	active := 0
	for _, u := range mustList(t, f, resource.CategoryConsultation) {
		if u.State == resource.StateActive {
			active++
		}
	}
	if active != 1 {
		t.Errorf("expected one active room, got %d", active)
	}
}

func TestCallPatient_Validation(t *testing.T) {
	f := newFixture(t, room("OPD-1", "Dr. A", 1), bed("ER-1", resource.CategoryEmergency, resource.GenderAny, false, 1))
	ctx := context.Background()

	_, err := f.svc.CallPatient(ctx, &RoomCallRequest{RoomID: "OPD-1"})
	expectKind(t, err, apperr.KindValidation)
	_, err = f.svc.CallPatient(ctx, &RoomCallRequest{RoomID: "ER-1", EntryID: uuid.New()})
	expectKind(t, err, apperr.KindValidation)
	_, err = f.svc.CallPatient(ctx, &RoomCallRequest{RoomID: "OPD-1", EntryID: uuid.New()})
	expectKind(t, err, apperr.KindNotFound)
}

// -- surgery --

func TestSurgeryLifecycle(t *testing.T) {
	f := newFixture(t, bed("OR-1", resource.CategorySurgical, resource.GenderAny, false, 1))
	ctx := context.Background()

	out, err := f.svc.StartSurgery(ctx, &SurgeryRequest{
		UnitID: "OR-1", PatientDetails: details("Meera", "female", "appendicitis"),
		SurgeonName: "Dr. Kapoor", Procedure: "appendectomy", ExpectedMinutes: 60,
	})
	if err != nil {
		t.Fatalf("StartSurgery() error: %v", err)
	}
	if out.Unit.State != resource.StateOccupied || out.Unit.SurgeonName != "Dr. Kapoor" {
		t.Fatalf("unexpected suite: %+v", out.Unit)
	}
	if _, err := f.svc.StartSurgery(ctx, &SurgeryRequest{
		UnitID: "OR-1", PatientDetails: details("Other", "male", ""), SurgeonName: "Dr. B", ExpectedMinutes: 30,
	}); apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("expected conflict on a busy suite, got %v", err)
	}

	f.clock.Advance(70 * time.Minute)
	if u := mustUnit(t, f, "OR-1"); !u.IsOvertime(f.clock.Now()) {
		t.Error("expected suite overtime at 70 minutes")
	}
	ext, err := f.svc.ExtendSurgery(ctx, &ExtendRequest{UnitID: "OR-1", AdditionalMinutes: 15})
	if err != nil {
		t.Fatalf("ExtendSurgery() error: %v", err)
	}
	if want := t0.Add(75 * time.Minute); !ext.ExpectedEndAt.Equal(want) {
		t.Errorf("expected end %v, got %v", want, ext.ExpectedEndAt)
	}

	f.clock.Advance(20 * time.Minute)
	rec, err := f.svc.CompleteSurgery(ctx, "OR-1")
	if err != nil {
		t.Fatalf("CompleteSurgery() error: %v", err)
	}
	if rec.DurationMinutes != 90 || rec.OvertimeMinutes != 15 {
		t.Errorf("expected 90 minutes with 15 overtime, got %d and %d", rec.DurationMinutes, rec.OvertimeMinutes)
	}
	if rec.PatientName != "Meera" || rec.EntryID != out.Entry.ID {
		t.Errorf("expected record for Meera, got %+v", rec)
	}

	u := mustUnit(t, f, "OR-1")
	if u.State != resource.StateDirty || u.SurgeonName != "" || u.ExpectedEndAt != nil {
		t.Errorf("expected dirty cleared suite, got %+v", u)
	}
	next := &SurgeryRequest{
		UnitID: "OR-1", PatientDetails: details("Next", "male", ""), SurgeonName: "Dr. B", ExpectedMinutes: 30,
	}
	if _, err := f.svc.StartSurgery(ctx, next); apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("expected a dirty suite to refuse surgery, got %v", err)
	}
	history, total, _ := f.svc.ListSurgeryHistory(ctx, 10, 0)
	if total != 1 || history[0].ID != rec.ID {
		t.Errorf("expected the record in history, got %d", total)
	}
	for _, k := range []eventbus.Kind{eventbus.KindSurgeryStarted, eventbus.KindSurgeryExtended, eventbus.KindSurgeryCompleted} {
		if f.events.count(k) != 1 {
			t.Errorf("expected one %s event, got %v", k, f.events.kinds())
		}
	}
}

func TestSurgery_Validation(t *testing.T) {
	f := newFixture(t, bed("OR-1", resource.CategorySurgical, resource.GenderAny, false, 1), bed("ER-1", resource.CategoryEmergency, resource.GenderAny, false, 1))
	ctx := context.Background()

	_, err := f.svc.StartSurgery(ctx, &SurgeryRequest{UnitID: "OR-1", PatientDetails: details("A", "male", ""), ExpectedMinutes: 30})
	expectKind(t, err, apperr.KindValidation)
	_, err = f.svc.StartSurgery(ctx, &SurgeryRequest{UnitID: "ER-1", PatientDetails: details("A", "male", ""), SurgeonName: "Dr. B", ExpectedMinutes: 30})
	expectKind(t, err, apperr.KindValidation)
	_, err = f.svc.ExtendSurgery(ctx, &ExtendRequest{UnitID: "OR-1", AdditionalMinutes: 10})
	expectKind(t, err, apperr.KindConflict)
	_, err = f.svc.CompleteSurgery(ctx, "OR-1")
	expectKind(t, err, apperr.KindConflict)
}

// -- metrics wiring --

type countingRecorder struct {
	mu          sync.Mutex
	outcomes    map[string]int
	transitions map[string]int
	fallbacks   int
}

func (r *countingRecorder) ObserveAllocation(op, _, outcome string, _ time.Duration) {
	r.mu.Lock()
	r.outcomes[op+"/"+outcome]++
	r.mu.Unlock()
}

func (r *countingRecorder) ObserveTransition(category, event string) {
	r.mu.Lock()
	r.transitions[category+"/"+event]++
	r.mu.Unlock()
}

func (r *countingRecorder) OracleFallback() {
	r.mu.Lock()
	r.fallbacks++
	r.mu.Unlock()
}

func (r *countingRecorder) fallbackCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fallbacks
}

func TestRecorder_ObservesOutcomes(t *testing.T) {
	f := newFixture(t, bed("ER-1", resource.CategoryEmergency, resource.GenderAny, false, 1))
	rec := &countingRecorder{outcomes: map[string]int{}, transitions: map[string]int{}}
	f.svc.SetRecorder(rec)
	ctx := context.Background()

	f.svc.Triage(ctx, &TriageRequest{PatientDetails: details("A", "male", "")})
	f.svc.Triage(ctx, &TriageRequest{PatientDetails: details("B", "male", "")})

	if rec.outcomes["dispatch/placed"] != 1 {
		t.Errorf("expected one placed dispatch, got %v", rec.outcomes)
	}
	if rec.outcomes["dispatch/wait_listed"] < 1 {
		t.Errorf("expected a wait-listed dispatch, got %v", rec.outcomes)
	}
	if rec.transitions["emergency/allocate"] != 1 {
		t.Errorf("expected one allocate transition, got %v", rec.transitions)
	}
}
