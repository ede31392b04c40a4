package collab

import (
	"time"

	"go.uber.org/zap"
)

// Relay fans accepted state changes out to every room member except the
// originator. Payloads are tagged with the originator's identity and a
// server timestamp before delivery. There is no ordering guarantee across
// originators; within one originator's stream, order follows the single
// reader goroutine that feeds the relay.
type Relay struct {
	rooms  *Rooms
	clock  func() time.Time
	logger *zap.Logger
}

// NewRelay constructs a relay over the given membership index.
func NewRelay(rooms *Rooms, clock func() time.Time, logger *zap.Logger) *Relay {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{rooms: rooms, clock: clock, logger: logger}
}

// Broadcast tags the payload and delivers it to every current member of the
// room except the originator. Delivery is best-effort per peer; a peer that
// cannot accept the frame never blocks the others.
func (r *Relay) Broadcast(documentID string, originator *Conn, event EventType, payload map[string]any) {
	tagged := make(map[string]any, len(payload)+3)
	for key, value := range payload {
		tagged[key] = value
	}
	tagged["userId"] = originator.Identity.UserID
	tagged["username"] = originator.Identity.Username
	tagged["timestamp"] = r.clock().UTC().UnixMilli()

	frame := mustEncode(event, tagged)
	delivered := 0
	for _, member := range r.rooms.snapshot(documentID) {
		if member.ID == originator.ID {
			continue
		}
		if member.sendFrame(event, frame) {
			delivered++
		}
	}
	r.logger.Debug("relayed event",
		zap.String("event", string(event)),
		zap.String("document_id", documentID),
		zap.String("origin_conn_id", originator.ID),
		zap.Int("delivered", delivered))
}
