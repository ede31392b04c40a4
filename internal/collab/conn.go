package collab

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultOutboundBuffer = 64

// OutboundInterceptor observes every frame queued for delivery on a
// connection. The gateway installs one to stamp last-activity; additional
// interceptors compose in registration order.
type OutboundInterceptor func(conn *Conn, event EventType)

// Conn is one admitted collaboration connection. Its identity is attached at
// admission and immutable for the connection's lifetime; room membership and
// activity state are owned by the engine.
type Conn struct {
	ID        string
	Identity  Identity
	CreatedAt time.Time

	mu           sync.Mutex
	lastActivity time.Time
	rooms        map[string]struct{}

	outbound     chan []byte
	closed       chan struct{}
	closeOnce    sync.Once
	interceptors []OutboundInterceptor
}

func newConn(identity Identity, createdAt time.Time, interceptors ...OutboundInterceptor) (*Conn, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return &Conn{
		ID:           id.String(),
		Identity:     identity,
		CreatedAt:    createdAt,
		lastActivity: createdAt,
		rooms:        make(map[string]struct{}),
		outbound:     make(chan []byte, defaultOutboundBuffer),
		closed:       make(chan struct{}),
		interceptors: interceptors,
	}, nil
}

// Send marshals the event into a wire frame and queues it for delivery. The
// send never blocks: a peer that cannot drain its buffer is closed instead
// of stalling the caller. Returns whether the frame was queued.
func (c *Conn) Send(event EventType, payload any) bool {
	return c.sendFrame(event, mustEncode(event, payload))
}

func (c *Conn) sendFrame(event EventType, frame []byte) bool {
	for _, interceptor := range c.interceptors {
		interceptor(c, event)
	}
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.outbound <- frame:
		return true
	default:
		c.Close()
		return false
	}
}

// Close marks the connection closed. Idempotent; the write pump drains and
// terminates when it observes the closed signal.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// Closed exposes the close signal.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

// Touch stamps the last-activity timestamp.
func (c *Conn) Touch(now time.Time) {
	c.mu.Lock()
	c.lastActivity = now
	c.mu.Unlock()
}

// LastActivity reports the most recent inbound or outbound activity.
func (c *Conn) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Conn) trackRoom(documentID string) {
	c.mu.Lock()
	c.rooms[documentID] = struct{}{}
	c.mu.Unlock()
}

func (c *Conn) untrackRoom(documentID string) {
	c.mu.Lock()
	delete(c.rooms, documentID)
	c.mu.Unlock()
}

func (c *Conn) joinedRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for documentID := range c.rooms {
		rooms = append(rooms, documentID)
	}
	return rooms
}
