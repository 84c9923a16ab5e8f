// Package icd10 validates diagnosis codes and resolves their chapter letter.
// Lookups never fail: a malformed code is reported as invalid, which the
// scorer treats as no bonus.
package icd10

import (
	"context"
	"errors"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Lookup is the diagnosis coding collaborator.
type Lookup interface {
	IsValid(ctx context.Context, code string) bool
	ChapterOf(ctx context.Context, code string) string
}

var codePattern = regexp.MustCompile(`^[A-Z][0-9][0-9A-Z](\.[0-9A-Z]{1,4})?$`)

// Normalize upper-cases and trims a code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// FormatLookup accepts any code with ICD-10-CM shape.
type FormatLookup struct{}

func (FormatLookup) IsValid(_ context.Context, code string) bool {
	return codePattern.MatchString(Normalize(code))
}

func (f FormatLookup) ChapterOf(ctx context.Context, code string) string {
	if !f.IsValid(ctx, code) {
		return ""
	}
	return Normalize(code)[:1]
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGLookup applies the reference_icd10 table on top of FormatLookup. A row
// with valid = false retires a code; codes without a row, and every code
// while the table is unreachable, get the FormatLookup answer. Table answers
// are cached, including negative ones.
type PGLookup struct {
	db     querier
	cache  *lru.Cache[string, bool]
	format FormatLookup
	logger zerolog.Logger
}

// NewPGLookup creates a lookup backed by pool with an LRU of size entries.
func NewPGLookup(pool *pgxpool.Pool, size int, logger zerolog.Logger) (*PGLookup, error) {
	return newPGLookup(pool, size, logger)
}

func newPGLookup(db querier, size int, logger zerolog.Logger) (*PGLookup, error) {
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[string, bool](size)
	if err != nil {
		return nil, err
	}
	return &PGLookup{db: db, cache: cache, logger: logger.With().Str("component", "icd10").Logger()}, nil
}

func (l *PGLookup) IsValid(ctx context.Context, code string) bool {
	code = Normalize(code)
	if !l.format.IsValid(ctx, code) {
		return false
	}
	if ok, hit := l.cache.Get(code); hit {
		return ok
	}

	var valid bool
	err := l.db.QueryRow(ctx,
		`SELECT valid FROM reference_icd10 WHERE code = $1`, code,
	).Scan(&valid)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		valid = true
	case err != nil:
		if !errors.Is(err, context.Canceled) {
			l.logger.Warn().Err(err).Str("code", code).Msg("icd10 lookup failed, using format check")
		}
		return true
	}
	l.cache.Add(code, valid)
	return valid
}

func (l *PGLookup) ChapterOf(ctx context.Context, code string) string {
	if !l.IsValid(ctx, code) {
		return ""
	}
	return Normalize(code)[:1]
}

// Resolve returns the normalized code and its chapter, or an empty chapter
// when the code is absent or invalid.
func Resolve(ctx context.Context, l Lookup, code string) (string, string) {
	code = Normalize(code)
	if code == "" || l == nil {
		return code, ""
	}
	return code, l.ChapterOf(ctx, code)
}
