package queue

import (
	"bytes"
	"sort"
	"time"

	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/priority"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/resource"
)

// DefaultSurgeThreshold is the average score above which a queue is in surge.
const DefaultSurgeThreshold = 75

// Ranked is an entry with its score at snapshot time.
type Ranked struct {
	Entry     Entry              `json:"entry"`
	Score     float64            `json:"score"`
	Breakdown priority.Breakdown `json:"breakdown"`
	Position  int                `json:"position"`
}

// SurgeState summarizes queue pressure.
type SurgeState struct {
	Depth        int     `json:"depth"`
	AverageScore float64 `json:"average_score"`
	IsSurge      bool    `json:"surge_warning"`
}

// Snapshot is a read-only ranking of one queue.
type Snapshot struct {
	Category resource.Category `json:"category,omitempty"`
	TakenAt  time.Time         `json:"taken_at"`
	Entries  []Ranked          `json:"entries"`
	SurgeState
}

// Orchestrator ranks waiting entries and detects surge. It keeps no state
// between calls; every ranking is recomputed from the supplied time.
type Orchestrator struct {
	threshold float64
}

// NewOrchestrator creates an orchestrator. A non-positive threshold uses
// DefaultSurgeThreshold.
func NewOrchestrator(threshold float64) *Orchestrator {
	if threshold <= 0 {
		threshold = DefaultSurgeThreshold
	}
	return &Orchestrator{threshold: threshold}
}

// Threshold returns the configured surge threshold.
func (o *Orchestrator) Threshold() float64 {
	return o.threshold
}

// Rank orders entries by score descending, then arrival ascending, then id.
// The input slice is not modified.
func (o *Orchestrator) Rank(entries []Entry, now time.Time) []Ranked {
	ranked := make([]Ranked, len(entries))
	for i := range entries {
		b := priority.Explain(entries[i].Signals(), now)
		e := entries[i].Clone()
		e.PriorityScore = b.Total
		ranked[i] = Ranked{Entry: e, Score: b.Total, Breakdown: b}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := &ranked[i], &ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Entry.ArrivedAt.Equal(b.Entry.ArrivedAt) {
			return a.Entry.ArrivedAt.Before(b.Entry.ArrivedAt)
		}
		return bytes.Compare(a.Entry.ID[:], b.Entry.ID[:]) < 0
	})
	for i := range ranked {
		ranked[i].Position = i + 1
	}
	return ranked
}

// Surge computes the queue's average score. An empty queue averages zero.
func (o *Orchestrator) Surge(ranked []Ranked) SurgeState {
	s := SurgeState{Depth: len(ranked)}
	if len(ranked) == 0 {
		return s
	}
	var sum float64
	for _, r := range ranked {
		sum += r.Score
	}
	s.AverageScore = sum / float64(len(ranked))
	s.IsSurge = s.AverageScore > o.threshold
	return s
}

// Snapshot ranks entries and computes surge in one call.
func (o *Orchestrator) Snapshot(category resource.Category, entries []Entry, now time.Time) Snapshot {
	ranked := o.Rank(entries, now)
	return Snapshot{
		Category:   category,
		TakenAt:    now,
		Entries:    ranked,
		SurgeState: o.Surge(ranked),
	}
}
