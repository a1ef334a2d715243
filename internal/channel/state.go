package channel

// State is the lifecycle of the match channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateJoinedMatch  State = "joined_match"
	StateTerminated   State = "terminated"
)

type StateCallback func(state State)

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}
