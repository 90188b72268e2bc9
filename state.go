package coro

// CoroutineState represents the lifecycle state of a coroutine.
//
// State Machine:
//
//	StateCreated → StateRunnable              [Runtime.Go]
//	StateRunnable → StateRunning              [scheduler switch]
//	StateRunning → StateRunnable              [Runtime.Yield]
//	StateRunning → StateBlocked               [channel, select, sleep, I/O]
//	StateBlocked → StateRunnable              [woken by peer, timer or poller]
//	StateRunning → StateDone                  [function returned]
type CoroutineState uint8

const (
	// StateCreated indicates the coroutine has been allocated but not queued.
	StateCreated CoroutineState = iota
	// StateRunnable indicates the coroutine is in the run queue.
	StateRunnable
	// StateRunning indicates the coroutine is executing. At most one
	// coroutine per runtime is ever in this state.
	StateRunning
	// StateBlocked indicates the coroutine is suspended, see BlockReason.
	StateBlocked
	// StateDone indicates the coroutine's function returned.
	StateDone
)

// String returns a human-readable representation of the state.
func (s CoroutineState) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateRunnable:
		return "Runnable"
	case StateRunning:
		return "Running"
	case StateBlocked:
		return "Blocked"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// BlockReason identifies what a StateBlocked coroutine is waiting on.
type BlockReason uint8

const (
	BlockNone BlockReason = iota
	BlockChan
	BlockSelect
	BlockSleep
	BlockIO
)

// String returns a human-readable representation of the reason.
func (b BlockReason) String() string {
	switch b {
	case BlockNone:
		return "None"
	case BlockChan:
		return "Chan"
	case BlockSelect:
		return "Select"
	case BlockSleep:
		return "Sleep"
	case BlockIO:
		return "IO"
	default:
		return "Unknown"
	}
}

// runtimeState is the lifecycle of a Runtime.
//
//	runtimeAwake → runtimeRunning       [Run]
//	runtimeRunning → runtimeAwake       [main returned, or ctx cancelled]
//	runtimeRunning → runtimeTerminated  [deadlock, panic, poll failure]
//	any → runtimeClosed                 [Close]
type runtimeState uint8

const (
	runtimeAwake runtimeState = iota
	runtimeRunning
	runtimeTerminated
	runtimeClosed
)

func (s runtimeState) String() string {
	switch s {
	case runtimeAwake:
		return "Awake"
	case runtimeRunning:
		return "Running"
	case runtimeTerminated:
		return "Terminated"
	case runtimeClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
