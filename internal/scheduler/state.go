package scheduler

// State is the lifecycle state of a collector worker.
//
// The only legal path is Idle → Scheduled → Running → Idle, repeated per
// run, with Terminated as the single sink state a worker enters when its
// registry entry is removed.
type State int

const (
	// StateIdle means the worker has never run, or finished a run and is
	// awaiting the next command.
	StateIdle State = iota
	// StateScheduled means a run command has been enqueued but not yet
	// picked up by the worker goroutine.
	StateScheduled
	// StateRunning means the collector function is executing.
	StateRunning
	// StateTerminated means the worker processed its terminate command and
	// its goroutine has exited (or is about to). Workers never leave this
	// state.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
