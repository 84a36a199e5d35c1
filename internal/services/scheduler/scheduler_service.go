// -----------------------------------------------------------------------
// Scheduler service - Cron-driven background loops
// -----------------------------------------------------------------------

package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/interfaces"
)

// loopEntry represents a registered loop with metadata
type loopEntry struct {
	name        string
	schedule    string
	description string
	handler     func() error
	cronID      cron.EntryID
	lastRun     *time.Time
	lastError   string
	isRunning   bool
	mu          sync.Mutex
}

// Service implements the SchedulerService interface on robfig/cron. Each
// loop runs at a fixed period; a tick is skipped while the previous run of
// the same loop is still going.
type Service struct {
	cron    *cron.Cron
	logger  arbor.ILogger
	mu      sync.Mutex
	loops   map[string]*loopEntry
	running bool
}

// NewService creates a new scheduler service
func NewService(logger arbor.ILogger) interfaces.SchedulerService {
	return &Service{
		cron:   cron.New(),
		logger: logger,
		loops:  make(map[string]*loopEntry),
	}
}

// RegisterLoop registers a handler at a fixed period.
func (s *Service) RegisterLoop(name, description string, period time.Duration, handler func() error) error {
	if name == "" || handler == nil {
		return fmt.Errorf("loop name and handler are required")
	}
	if period <= 0 {
		return fmt.Errorf("loop period must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.loops[name]; exists {
		return fmt.Errorf("loop %s already registered", name)
	}

	entry := &loopEntry{
		name:        name,
		schedule:    "@every " + period.String(),
		description: description,
		handler:     handler,
	}

	id, err := s.cron.AddFunc(entry.schedule, func() { s.runLoop(entry) })
	if err != nil {
		return fmt.Errorf("failed to schedule loop %s: %w", name, err)
	}
	entry.cronID = id
	s.loops[name] = entry

	s.logger.Info().
		Str("loop", name).
		Str("schedule", entry.schedule).
		Msg("Background loop registered")
	return nil
}

// runLoop executes one tick with the skip-if-running guard.
func (s *Service) runLoop(entry *loopEntry) {
	entry.mu.Lock()
	if entry.isRunning {
		entry.mu.Unlock()
		s.logger.Debug().
			Str("loop", entry.name).
			Msg("Previous run still active, skipping tick")
		return
	}
	entry.isRunning = true
	entry.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("loop", entry.name).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Background loop panicked")
		}
		entry.mu.Lock()
		entry.isRunning = false
		entry.mu.Unlock()
	}()

	start := time.Now()
	err := entry.handler()

	entry.mu.Lock()
	now := time.Now()
	entry.lastRun = &now
	if err != nil {
		entry.lastError = err.Error()
	} else {
		entry.lastError = ""
	}
	entry.mu.Unlock()

	if err != nil {
		s.logger.Warn().Err(err).
			Str("loop", entry.name).
			Msg("Background loop tick failed")
	} else {
		s.logger.Debug().
			Str("loop", entry.name).
			Str("took", time.Since(start).String()).
			Msg("Background loop tick completed")
	}
}

// Start begins ticking the registered loops.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Int("loops", len(s.loops)).
		Msg("Scheduler started")
	return nil
}

// Stop halts the scheduler and waits for in-flight ticks.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning reports whether the scheduler is ticking.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerLoop runs a loop out of schedule.
func (s *Service) TriggerLoop(name string) error {
	s.mu.Lock()
	entry, ok := s.loops[name]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("loop %s not registered", name)
	}
	s.runLoop(entry)
	return nil
}

// Statuses returns the state of every registered loop.
func (s *Service) Statuses() map[string]*interfaces.LoopStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*interfaces.LoopStatus, len(s.loops))
	for name, entry := range s.loops {
		entry.mu.Lock()
		status := &interfaces.LoopStatus{
			Name:        entry.name,
			Schedule:    entry.schedule,
			Description: entry.description,
			Enabled:     true,
			IsRunning:   entry.isRunning,
			LastRun:     entry.lastRun,
			LastError:   entry.lastError,
		}
		if s.running {
			next := s.cron.Entry(entry.cronID).Next
			if !next.IsZero() {
				status.NextRun = &next
			}
		}
		entry.mu.Unlock()
		out[name] = status
	}
	return out
}
