package realtime

import "time"

// Max bytes per websocket frame read (hard limit). Inbound events are small.
const maxFrameBytes = 16 << 10 // 16 KiB

const (
	// Heartbeat defaults (overridable by env in ws_gateway.go).
	// A peer missing wsMaxPingFailures consecutive pings is disconnected.
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 20 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	// Budget for the disconnect path (presence write + offline fan-out) after the
	// request context is gone.
	disconnectTimeout = 5 * time.Second
)
