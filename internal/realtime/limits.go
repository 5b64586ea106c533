package realtime

import "time"

const (
	// Max bytes per websocket frame read.
	maxFrameBytes = 64 << 10

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	writeTimeout    = 5 * time.Second
	readIdleTimeout = 2 * time.Minute
	closeGrace      = time.Second

	defaultSendQueue = 256
	minSendQueue     = 32

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
