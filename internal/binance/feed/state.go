package feed

// ConnectionState is the feed's position in its connection lifecycle.
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateReconnecting
	StateClosed // terminal
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
