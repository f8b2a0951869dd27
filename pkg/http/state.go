package http

// State is the lifecycle position of a connection.
type State int

const (
	StateDisconnected State = iota
	StateConnected          // transport open, no valid query
	StateQueryOK            // last query succeeded, body reads allowed
	StateQueryStale         // query failed or the transport went idle-closed
	StateFailed             // reconnect budget exhausted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateQueryOK:
		return "query-ok"
	case StateQueryStale:
		return "query-stale"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
