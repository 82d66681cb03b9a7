// Package scheduler runs the periodic idle-model sweep.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Evictor is the subset of the model registry the sweeper needs.
type Evictor interface {
	EvictIdle(maxIdle time.Duration) []string
}

// Sweeper unloads models that have sat idle past a threshold, freeing
// accelerator memory between bursts of traffic.
type Sweeper struct {
	registry Evictor
	schedule string
	maxIdle  time.Duration
	cron     *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors like
// "@every 15m".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NewSweeper creates a Sweeper that fires on the given cron schedule and
// evicts models idle longer than maxIdle.
func NewSweeper(registry Evictor, schedule string, maxIdle time.Duration) *Sweeper {
	return &Sweeper{
		registry: registry,
		schedule: schedule,
		maxIdle:  maxIdle,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the sweep as a cron entry and starts the ticker.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, s.sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("eviction sweeper started", "schedule", s.schedule, "max_idle", s.maxIdle)
	return nil
}

// Stop stops the cron ticker.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}

func (s *Sweeper) sweep() {
	evicted := s.registry.EvictIdle(s.maxIdle)
	if len(evicted) > 0 {
		slog.Info("evicted idle models", "models", evicted)
	}
}
