package collab

import "time"

const defaultHeartbeatInterval = 30 * time.Second

// LivenessMonitor emits periodic heartbeat events on every watched
// connection. The cadence is independent of autosave debouncing; a heartbeat
// never flushes pending changes, it only proves the link is alive.
type LivenessMonitor struct {
	interval time.Duration
	clock    func() time.Time
}

// NewLivenessMonitor builds a monitor with the given cadence. A non-positive
// interval falls back to the default.
func NewLivenessMonitor(interval time.Duration, clock func() time.Time) *LivenessMonitor {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	if clock == nil {
		clock = time.Now
	}
	return &LivenessMonitor{interval: interval, clock: clock}
}

// Watch starts the heartbeat loop for one connection. The loop stops when
// the connection closes.
func (m *LivenessMonitor) Watch(conn *Conn) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-conn.Closed():
				return
			case <-ticker.C:
				conn.Send(EventHeartbeat, HeartbeatPayload{
					Timestamp: m.clock().UTC().UnixMilli(),
				})
			}
		}
	}()
}
