// Package presence contains the public domain models and the wire contract
// for the presence service. It defines everything a client needs to speak
// the gateway protocol: event names, frame envelope, and the adaptive
// heartbeat schedule.
package presence

import "time"

// ConnectionInfo holds details about a user's real-time connection.
type ConnectionInfo struct {
	ServerInstanceID string `json:"serverInstanceId"`
	ConnectedAt      int64  `json:"connectedAt"`
}

// NetworkClass is the client's self-reported effective network type.
// It mirrors the browser Network Information API classes.
type NetworkClass string

const (
	NetworkFast     NetworkClass = "4g"
	NetworkMedium   NetworkClass = "3g"
	NetworkSlow     NetworkClass = "2g"
	NetworkVerySlow NetworkClass = "slow-2g"
)

// HeartbeatInterval returns the keep-alive interval for the network class.
// Slower classes heartbeat less often to reduce overhead on constrained links.
// An unknown or empty class is treated as fast.
func (nc NetworkClass) HeartbeatInterval() time.Duration {
	switch nc {
	case NetworkMedium:
		return 30 * time.Second
	case NetworkSlow:
		return 40 * time.Second
	case NetworkVerySlow:
		return 45 * time.Second
	default:
		return 25 * time.Second
	}
}
