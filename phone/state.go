// Package phone implements the call controller of a single-call softphone:
// the Idle/Active state machine, the connectivity monitor and the adapter
// that turns engine events into user notifications.
package phone

import "fmt"

// CallState represents the phase of the single managed call.
type CallState int

const (
	StateIdle CallState = iota
	StateActive
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateActive:
		return "Active"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// ConnectivityState is the last classification of inbound link quality.
// ConnectivityUnknown means no classification has been made for the call.
type ConnectivityState int

const (
	ConnectivityUnknown ConnectivityState = iota
	ConnectivityGreen
	ConnectivityYellow
	ConnectivityRed
)

func (c ConnectivityState) String() string {
	switch c {
	case ConnectivityUnknown:
		return "Unknown"
	case ConnectivityGreen:
		return "Green"
	case ConnectivityYellow:
		return "Yellow"
	case ConnectivityRed:
		return "Red"
	default:
		return fmt.Sprintf("Invalid(%d)", int(c))
	}
}
