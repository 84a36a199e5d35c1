package interfaces

import "time"

// LoopStatus describes one registered background loop.
type LoopStatus struct {
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	Description string     `json:"description"`
	Enabled     bool       `json:"enabled"`
	IsRunning   bool       `json:"is_running"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// SchedulerService runs the periodic background loops (reconciliation,
// accounting). Loops are registered before Start and tick until Stop.
type SchedulerService interface {
	// RegisterLoop registers a handler at a fixed period. A tick is skipped
	// when the previous run of the same loop has not finished.
	RegisterLoop(name, description string, period time.Duration, handler func() error) error

	Start() error
	Stop() error
	IsRunning() bool

	// TriggerLoop runs a loop out of schedule.
	TriggerLoop(name string) error

	// Statuses returns the state of every registered loop.
	Statuses() map[string]*LoopStatus
}
