package domain

// Status is the lifecycle state shared by tasks and runs
type Status string

const (
	StatusRunning   Status = "running"
	StatusStopping  Status = "stopping"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no process is attached to this state anymore
func (s Status) Terminal() bool {
	switch s {
	case StatusStopped, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is one of the known states
func (s Status) Valid() bool {
	return s == StatusRunning || s == StatusStopping || s.Terminal()
}

// Error messages recorded on a task when a run does not succeed.
const (
	MsgStoppedByUser    = "stopped by user"
	MsgSessionIDMissing = "unable to determine session id from output"
	MsgRunInterrupted   = "run interrupted by orchestrator restart"
)
