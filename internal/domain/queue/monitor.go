package queue

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/resource"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/eventbus"
)

// Source lists the waiting entries of a category.
type Source interface {
	WaitingEntries(ctx context.Context, category resource.Category) ([]Entry, error)
}

// Dispatcher retries allocation for waitlisted entries of a category and
// reports how many were placed.
type Dispatcher interface {
	DispatchPending(ctx context.Context, category resource.Category, limit int) (int, error)
}

// Gauges receives queue measurements.
type Gauges interface {
	ObserveQueue(category string, depth int, averageScore float64, surge bool)
}

// MonitorConfig controls the background queue monitor.
type MonitorConfig struct {
	Interval time.Duration
	// Categories to snapshot each tick.
	Categories []resource.Category
	// DispatchCategories are retried for waitlisted entries each tick.
	DispatchCategories []resource.Category
	// DispatchLimit caps placements per category per tick.
	DispatchLimit int
}

// Monitor periodically re-ranks each queue, reports surge changes and
// re-invokes dispatch so waitlisted patients are placed as units free up.
type Monitor struct {
	cfg          MonitorConfig
	source       Source
	dispatcher   Dispatcher
	orchestrator *Orchestrator
	events       eventbus.Publisher
	gauges       Gauges
	logger       zerolog.Logger
	last         map[resource.Category]SurgeState
	now          func() time.Time
}

// NewMonitor creates a monitor. dispatcher and gauges may be nil.
func NewMonitor(cfg MonitorConfig, source Source, dispatcher Dispatcher, orch *Orchestrator, events eventbus.Publisher, gauges Gauges, logger zerolog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.DispatchLimit <= 0 {
		cfg.DispatchLimit = 50
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = resource.Categories
	}
	if events == nil {
		events = eventbus.Discard
	}
	return &Monitor{
		cfg:          cfg,
		source:       source,
		dispatcher:   dispatcher,
		orchestrator: orch,
		events:       events,
		gauges:       gauges,
		logger:       logger.With().Str("component", "queue_monitor").Logger(),
		last:         make(map[resource.Category]SurgeState),
		now:          time.Now,
	}
}

// Start runs the monitor until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", m.cfg.Interval).Msg("queue monitor started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("queue monitor stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick performs one monitoring pass.
func (m *Monitor) Tick(ctx context.Context) {
	if m.dispatcher != nil {
		for _, c := range m.cfg.DispatchCategories {
			placed, err := m.dispatcher.DispatchPending(ctx, c, m.cfg.DispatchLimit)
			if err != nil {
				m.logger.Error().Err(err).Str("category", string(c)).Msg("dispatch retry failed")
				continue
			}
			if placed > 0 {
				m.logger.Info().Str("category", string(c)).Int("placed", placed).Msg("waitlisted patients placed")
			}
		}
	}

	for _, c := range m.cfg.Categories {
		entries, err := m.source.WaitingEntries(ctx, c)
		if err != nil {
			m.logger.Error().Err(err).Str("category", string(c)).Msg("load waiting entries")
			continue
		}
		snap := m.orchestrator.Snapshot(c, entries, m.now())
		if m.gauges != nil {
			m.gauges.ObserveQueue(string(c), snap.Depth, snap.AverageScore, snap.IsSurge)
		}

		prev, seen := m.last[c]
		m.last[c] = snap.SurgeState
		if seen && prev.Depth == snap.Depth && prev.IsSurge == snap.IsSurge {
			continue
		}
		if snap.IsSurge && (!seen || !prev.IsSurge) {
			m.logger.Warn().Str("category", string(c)).Float64("average_score", snap.AverageScore).Msg("queue entered surge")
		}
		m.events.Publish(ctx, eventbus.Event{
			Kind:     eventbus.KindQueueUpdate,
			Category: string(c),
			Data: map[string]any{
				"depth":         snap.Depth,
				"average_score": math.Round(snap.AverageScore*10) / 10,
				"surge_warning": snap.IsSurge,
			},
		})
	}
}
