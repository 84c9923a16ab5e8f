package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/queue"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/resource"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/db"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/pkg/apperr"
)

// PGStore persists the engine in PostgreSQL. Candidate units and waiting
// entries are locked with FOR UPDATE SKIP LOCKED so concurrent dispatches
// never wait on each other; named units are locked with FOR UPDATE.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// conn prefers the site-scoped connection attached by db.SiteMiddleware.
func (s *PGStore) conn(ctx context.Context) querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

func (s *PGStore) Begin(ctx context.Context) (Tx, error) {
	var (
		tx  pgx.Tx
		err error
	)
	if c := db.ConnFromContext(ctx); c != nil {
		tx, err = c.Begin(ctx)
	} else {
		tx, err = s.pool.Begin(ctx)
	}
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

const unitCols = `id, category, gender, isolation, zone, position, state,
	entry_id, patient_name, patient_age, condition, ventilator_in_use, occupied_at,
	surgeon_name, procedure, expected_end_at, doctor_name, updated_at`

func scanUnit(row rowScanner) (*resource.Unit, error) {
	var u resource.Unit
	err := row.Scan(
		&u.ID, &u.Category, &u.Gender, &u.Isolation, &u.Zone, &u.Position, &u.State,
		&u.EntryID, &u.PatientName, &u.PatientAge, &u.Condition, &u.VentilatorInUse, &u.OccupiedAt,
		&u.SurgeonName, &u.Procedure, &u.ExpectedEndAt, &u.DoctorName, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

const entryCols = `id, patient_name, patient_age, gender, acuity_level, required_category,
	symptoms, condition, diagnosis_code, diagnosis_chapter, rationale, vitals,
	needs_ventilator, arrived_at, status, unit_id, priority_score, completed_at`

func scanEntry(row rowScanner) (*queue.Entry, error) {
	var e queue.Entry
	err := row.Scan(
		&e.ID, &e.PatientName, &e.PatientAge, &e.Gender, &e.AcuityLevel, &e.RequiredCategory,
		&e.Symptoms, &e.Condition, &e.DiagnosisCode, &e.DiagnosisChapter, &e.Rationale, &e.Vitals,
		&e.NeedsVentilator, &e.ArrivedAt, &e.Status, &e.UnitID, &e.PriorityScore, &e.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.Symptoms == nil {
		e.Symptoms = []string{}
	}
	return &e, nil
}

const assignmentCols = `id, entry_id, unit_id, started_at, ended_at`

func scanAssignment(row rowScanner) (*Assignment, error) {
	var a Assignment
	if err := row.Scan(&a.ID, &a.EntryID, &a.UnitID, &a.StartedAt, &a.EndedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PGStore) GetUnit(ctx context.Context, id string) (*resource.Unit, error) {
	u, err := scanUnit(s.conn(ctx).QueryRow(ctx, `SELECT `+unitCols+` FROM resource_unit WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("unit %s not found", id)
	}
	return u, err
}

func (s *PGStore) ListUnits(ctx context.Context, f UnitFilter) ([]resource.Unit, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+unitCols+` FROM resource_unit
		WHERE ($1 = '' OR category = $1) AND ($2 = '' OR state = $2)
		ORDER BY position, id`, string(f.Category), string(f.State))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []resource.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, *u)
	}
	return units, rows.Err()
}

func (s *PGStore) GetEntry(ctx context.Context, id uuid.UUID) (*queue.Entry, error) {
	e, err := scanEntry(s.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM waiting_entry WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("entry %s not found", id)
	}
	return e, err
}

func (s *PGStore) ListEntries(ctx context.Context, f EntryFilter) ([]queue.Entry, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM waiting_entry
		WHERE ($1 = '' OR required_category = $1) AND ($2 = '' OR status = $2)
		ORDER BY arrived_at, id`, string(f.Category), string(f.Status))
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]queue.Entry, error) {
	defer rows.Close()
	var entries []queue.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *PGStore) ListAssignments(ctx context.Context, unitID string, limit, offset int) ([]Assignment, int, error) {
	q := s.conn(ctx)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM assignment WHERE ($1 = '' OR unit_id = $1)`, unitID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `
		SELECT `+assignmentCols+` FROM assignment
		WHERE ($1 = '' OR unit_id = $1)
		ORDER BY started_at DESC, id
		LIMIT $2 OFFSET $3`, unitID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *a)
	}
	return out, total, rows.Err()
}

func (s *PGStore) ListSurgeryRecords(ctx context.Context, limit, offset int) ([]SurgeryRecord, int, error) {
	q := s.conn(ctx)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM surgery_history`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `
		SELECT id, unit_id, entry_id, patient_name, surgeon_name, procedure,
			started_at, ended_at, duration_minutes, overtime_minutes
		FROM surgery_history
		ORDER BY ended_at DESC, id
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []SurgeryRecord
	for rows.Next() {
		var r SurgeryRecord
		if err := rows.Scan(&r.ID, &r.UnitID, &r.EntryID, &r.PatientName, &r.SurgeonName, &r.Procedure,
			&r.StartedAt, &r.EndedAt, &r.DurationMinutes, &r.OvertimeMinutes); err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func (s *PGStore) SeedUnits(ctx context.Context, units []resource.Unit) (int, error) {
	batch := &pgx.Batch{}
	for _, u := range units {
		batch.Queue(`
			INSERT INTO resource_unit (id, category, gender, isolation, zone, position, state, doctor_name, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			u.ID, string(u.Category), string(u.Gender), u.Isolation, u.Zone, u.Position, string(u.State), u.DoctorName, u.UpdatedAt)
	}

	var results pgx.BatchResults
	if c := db.ConnFromContext(ctx); c != nil {
		results = c.SendBatch(ctx, batch)
	} else {
		results = s.pool.SendBatch(ctx, batch)
	}
	defer results.Close()

	added := 0
	for range units {
		tag, err := results.Exec()
		if err != nil {
			return added, fmt.Errorf("seed units: %w", err)
		}
		added += int(tag.RowsAffected())
	}
	return added, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) ReserveUnit(ctx context.Context, c resource.Criteria) (*resource.Unit, error) {
	u, err := scanUnit(t.tx.QueryRow(ctx, `
		SELECT `+unitCols+` FROM resource_unit
		WHERE category = $1 AND state = $2
			AND ($3::text[] IS NULL OR gender = ANY($3::text[]))
			AND ($4::boolean IS NULL OR isolation = $4::boolean)
		ORDER BY CASE WHEN $5::boolean THEN isolation::int ELSE 0 END, position, id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		string(c.Category), string(c.State), c.GenderStrings(), c.Isolation, c.IsolationLast))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (t *pgTx) LockUnit(ctx context.Context, id string) (*resource.Unit, error) {
	u, err := scanUnit(t.tx.QueryRow(ctx, `SELECT `+unitCols+` FROM resource_unit WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("unit %s not found", id)
	}
	return u, err
}

func (t *pgTx) SaveUnit(ctx context.Context, u *resource.Unit) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE resource_unit SET
			state=$2, entry_id=$3, patient_name=$4, patient_age=$5, condition=$6,
			ventilator_in_use=$7, occupied_at=$8, surgeon_name=$9, procedure=$10,
			expected_end_at=$11, updated_at=$12
		WHERE id = $1`,
		u.ID, string(u.State), u.EntryID, u.PatientName, u.PatientAge, u.Condition,
		u.VentilatorInUse, u.OccupiedAt, u.SurgeonName, u.Procedure,
		u.ExpectedEndAt, u.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("unit %s not found", u.ID)
	}
	return nil
}

func (t *pgTx) WaitingEntries(ctx context.Context, category resource.Category) ([]queue.Entry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+entryCols+` FROM waiting_entry
		WHERE status = 'waiting' AND required_category = $1
		ORDER BY arrived_at, id`, string(category))
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (t *pgTx) LockEntry(ctx context.Context, id uuid.UUID, skipLocked bool) (*queue.Entry, error) {
	sql := `SELECT ` + entryCols + ` FROM waiting_entry WHERE id = $1 FOR UPDATE`
	if skipLocked {
		sql += ` SKIP LOCKED`
	}
	e, err := scanEntry(t.tx.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		if skipLocked {
			return nil, nil
		}
		return nil, apperr.NotFound("entry %s not found", id)
	}
	return e, err
}

func (t *pgTx) InsertEntry(ctx context.Context, e *queue.Entry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO waiting_entry (`+entryCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		e.ID, e.PatientName, e.PatientAge, string(e.Gender), e.AcuityLevel, string(e.RequiredCategory),
		e.Symptoms, e.Condition, e.DiagnosisCode, e.DiagnosisChapter, e.Rationale, e.Vitals,
		e.NeedsVentilator, e.ArrivedAt, string(e.Status), e.UnitID, e.PriorityScore, e.CompletedAt,
	)
	if isUniqueViolation(err) {
		return apperr.Conflict("entry %s already exists", e.ID)
	}
	return err
}

func (t *pgTx) SaveEntry(ctx context.Context, e *queue.Entry) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE waiting_entry SET
			status=$2, unit_id=$3, priority_score=$4, completed_at=$5
		WHERE id = $1`,
		e.ID, string(e.Status), e.UnitID, e.PriorityScore, e.CompletedAt,
	)
	return err
}

func (t *pgTx) OpenAssignment(ctx context.Context, a *Assignment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO assignment (id, entry_id, unit_id, started_at)
		VALUES ($1, $2, $3, $4)`,
		a.ID, a.EntryID, a.UnitID, a.StartedAt,
	)
	if isUniqueViolation(err) {
		return apperr.Conflict("unit %s or entry %s already has an active assignment", a.UnitID, a.EntryID)
	}
	return err
}

func (t *pgTx) CloseAssignment(ctx context.Context, unitID string, at time.Time) (*Assignment, error) {
	a, err := scanAssignment(t.tx.QueryRow(ctx, `
		UPDATE assignment SET ended_at = $2
		WHERE unit_id = $1 AND ended_at IS NULL
		RETURNING `+assignmentCols, unitID, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("no active assignment on unit %s", unitID)
	}
	return a, err
}

func (t *pgTx) InsertSurgeryRecord(ctx context.Context, r *SurgeryRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO surgery_history (id, unit_id, entry_id, patient_name, surgeon_name, procedure,
			started_at, ended_at, duration_minutes, overtime_minutes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		r.ID, r.UnitID, r.EntryID, r.PatientName, r.SurgeonName, r.Procedure,
		r.StartedAt, r.EndedAt, r.DurationMinutes, r.OvertimeMinutes,
	)
	return err
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
