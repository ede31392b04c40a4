package collab

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/folio/backend/internal/portfolio"
	githubsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testFrameTimeout = 2 * time.Second

func mustPortfolioID(t *testing.T, value string) portfolio.PortfolioID {
	t.Helper()
	id, err := portfolio.NewPortfolioID(value)
	if err != nil {
		t.Fatalf("unexpected portfolio id error: %v", err)
	}
	return id
}

func mustOwnerID(t *testing.T, value string) portfolio.OwnerID {
	t.Helper()
	id, err := portfolio.NewOwnerID(value)
	if err != nil {
		t.Fatalf("unexpected owner id error: %v", err)
	}
	return id
}

func mustBaseline(t *testing.T, value int64) portfolio.BaselineVersion {
	t.Helper()
	baseline, err := portfolio.NewBaselineVersion(value)
	if err != nil {
		t.Fatalf("unexpected baseline version error: %v", err)
	}
	return baseline
}

func newTestStore(t *testing.T) *portfolio.Store {
	t.Helper()
	db, err := gorm.Open(githubsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&portfolio.Portfolio{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := portfolio.NewStore(portfolio.StoreConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000000, 0) },
		IDProvider: portfolio.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func newTestEngine(t *testing.T, debounce time.Duration) (*Engine, *portfolio.Store) {
	t.Helper()
	store := newTestStore(t)
	engine, err := NewEngine(EngineConfig{
		Store:            store,
		Clock:            func() time.Time { return time.Unix(1700000000, 0) },
		AutosaveDebounce: debounce,
	})
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}
	return engine, store
}

func newTestConn(t *testing.T, userID, username string) *Conn {
	t.Helper()
	conn, err := newConn(Identity{UserID: userID, Username: username}, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("failed to construct connection: %v", err)
	}
	return conn
}

func seedDocument(t *testing.T, store *portfolio.Store, ownerID, title string) portfolio.Snapshot {
	t.Helper()
	owner, err := portfolio.NewOwnerID(ownerID)
	if err != nil {
		t.Fatalf("unexpected owner id error: %v", err)
	}
	snapshot, err := store.Create(context.Background(), owner, title)
	if err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}
	return snapshot
}

// nextEvent waits for the next outbound frame and fails the test when the
// event name does not match.
func nextEvent(t *testing.T, conn *Conn, expected EventType) json.RawMessage {
	t.Helper()
	select {
	case frame := <-conn.outbound:
		var envelope Envelope
		if err := json.Unmarshal(frame, &envelope); err != nil {
			t.Fatalf("failed to decode outbound frame: %v", err)
		}
		if envelope.Event != expected {
			t.Fatalf("expected event %q, received %q with payload %s", expected, envelope.Event, envelope.Data)
		}
		return envelope.Data
	case <-time.After(testFrameTimeout):
		t.Fatalf("timed out waiting for event %q", expected)
	}
	return nil
}

func expectNoEvent(t *testing.T, conn *Conn) {
	t.Helper()
	select {
	case frame := <-conn.outbound:
		var envelope Envelope
		_ = json.Unmarshal(frame, &envelope)
		t.Fatalf("expected no outbound frame, received %q", envelope.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

func decodePayload(t *testing.T, data json.RawMessage, target any) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to decode payload %s: %v", data, err)
	}
}

func sendFrame(t *testing.T, engine *Engine, conn *Conn, event EventType, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		t.Fatalf("failed to marshal frame: %v", err)
	}
	engine.HandleMessage(context.Background(), conn, frame)
}
