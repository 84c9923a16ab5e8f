package allocation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/queue"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/resource"
)

// Store is the unit-of-work persistence the engine runs on. Reads outside a
// transaction see committed state only.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	GetUnit(ctx context.Context, id string) (*resource.Unit, error)
	ListUnits(ctx context.Context, f UnitFilter) ([]resource.Unit, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*queue.Entry, error)
	ListEntries(ctx context.Context, f EntryFilter) ([]queue.Entry, error)
	ListAssignments(ctx context.Context, unitID string, limit, offset int) ([]Assignment, int, error)
	ListSurgeryRecords(ctx context.Context, limit, offset int) ([]SurgeryRecord, int, error)

	// SeedUnits inserts units that do not exist yet and returns how many
	// were added.
	SeedUnits(ctx context.Context, units []resource.Unit) (int, error)
}

// Tx is one allocation transaction. Locks taken through it are held until
// Commit or Rollback. Rollback after Commit is a no-op.
type Tx interface {
	// ReserveUnit locks the first unit matching c, skipping units locked by
	// other transactions. It returns nil when no candidate is free.
	ReserveUnit(ctx context.Context, c resource.Criteria) (*resource.Unit, error)
	// LockUnit locks a named unit, waiting for other holders to finish.
	LockUnit(ctx context.Context, id string) (*resource.Unit, error)
	SaveUnit(ctx context.Context, u *resource.Unit) error

	// WaitingEntries lists waiting entries of a category without locking.
	WaitingEntries(ctx context.Context, category resource.Category) ([]queue.Entry, error)
	// LockEntry locks an entry. With skipLocked it returns nil instead of
	// waiting when another transaction holds the entry.
	LockEntry(ctx context.Context, id uuid.UUID, skipLocked bool) (*queue.Entry, error)
	InsertEntry(ctx context.Context, e *queue.Entry) error
	SaveEntry(ctx context.Context, e *queue.Entry) error

	OpenAssignment(ctx context.Context, a *Assignment) error
	// CloseAssignment ends the open assignment on unitID and returns it.
	CloseAssignment(ctx context.Context, unitID string, at time.Time) (*Assignment, error)
	InsertSurgeryRecord(ctx context.Context, r *SurgeryRecord) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
