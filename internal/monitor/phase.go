package monitor

import (
	"fmt"
	"time"
)

// Phase is one bounded stage of the deployment state machine. Phases are
// strictly ordered and only ever advance.
type Phase int

const (
	PhaseBoot Phase = iota
	PhaseInstallProgress
	PhaseReachability
	PhaseRemoteHealth
	PhaseServiceHealth
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseBoot:
		return "boot"
	case PhaseInstallProgress:
		return "install-progress"
	case PhaseReachability:
		return "reachability"
	case PhaseRemoteHealth:
		return "remote-health"
	case PhaseServiceHealth:
		return "service-health"
	case PhaseComplete:
		return "complete"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Outcome is how a phase ended.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeTimedOut Outcome = "timed_out"
)

// PhaseResult records how one phase played out.
type PhaseResult struct {
	Phase   Phase
	Outcome Outcome
	Elapsed time.Duration
	Detail  string
}

// PhaseTimeoutError is returned when a phase exhausts its wall-clock
// budget. Only boot, the first install message, and reachability are
// fatal; every later timeout degrades to a logged warning.
type PhaseTimeoutError struct {
	Phase   Phase
	Timeout time.Duration
	Fatal   bool
}

func (e *PhaseTimeoutError) Error() string {
	return fmt.Sprintf("%s phase timed out after %v", e.Phase, e.Timeout)
}

// Budgets carries the per-phase timeout and poll-interval settings.
type Budgets struct {
	BootTimeout      time.Duration
	BootPoll         time.Duration
	InstallFirstMsg  time.Duration
	InstallCeiling   time.Duration
	ReachTimeout     time.Duration
	ReachPoll        time.Duration
	UIHealthTimeout  time.Duration
	ModelLoadTimeout time.Duration
	HealthPoll       time.Duration
}
