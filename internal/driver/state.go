package driver

// ConnectionState gates which commands may be dispatched.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnectedDisabled
	StateConnectedEnabled
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnectedDisabled:
		return "connected-disabled"
	case StateConnectedEnabled:
		return "connected-enabled"
	default:
		return "unknown"
	}
}

// dispatchState is the per-dispatch protocol state machine.
type dispatchState int

const (
	awaitingTerminal dispatchState = iota
	dispatchDone
	dispatchAborted
	dispatchTimedOut
	dispatchSendFailed
)

func (s dispatchState) String() string {
	switch s {
	case awaitingTerminal:
		return "awaiting-terminal"
	case dispatchDone:
		return "done"
	case dispatchAborted:
		return "aborted"
	case dispatchTimedOut:
		return "timed-out"
	case dispatchSendFailed:
		return "send-failed"
	default:
		return "unknown"
	}
}
