package collab

import (
	"encoding/json"

	"github.com/MarcoPoloResearchLab/folio/backend/internal/portfolio"
)

// EventType names one message on the bidirectional collaboration protocol.
// One wire frame carries exactly one event name and its payload.
type EventType string

const (
	EventJoinDocument      EventType = "join-document"
	EventLeaveDocument     EventType = "leave-document"
	EventDocumentState     EventType = "document-state"
	EventMemberJoined      EventType = "member-joined"
	EventMemberLeft        EventType = "member-left"
	EventAutosave          EventType = "autosave"
	EventAutosaveSuccess   EventType = "autosave-success"
	EventAutosaveError     EventType = "autosave-error"
	EventVersionConflict   EventType = "version-conflict"
	EventDocumentAutosaved EventType = "document-autosaved"
	EventBlockAdd          EventType = "block-add"
	EventBlockUpdate       EventType = "block-update"
	EventBlockDelete       EventType = "block-delete"
	EventBlockReorder      EventType = "block-reorder"
	EventThemeUpdate       EventType = "theme-update"
	EventLayoutUpdate      EventType = "layout-update"
	EventCursorMove        EventType = "cursor-move"
	EventSelectionChange   EventType = "selection-change"
	EventTypingStart       EventType = "typing-start"
	EventTypingStop        EventType = "typing-stop"
	EventGetOnlineUsers    EventType = "get-online-users"
	EventOnlineUsers       EventType = "online-users"
	EventHeartbeat         EventType = "heartbeat"
	EventHeartbeatAck      EventType = "heartbeat-ack"
	EventError             EventType = "error"
)

// Envelope is the wire frame: one event name plus its JSON payload.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Identity describes the user behind a connection as peers see it.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// JoinDocumentPayload asks to join the room for one document.
type JoinDocumentPayload struct {
	DocumentID string `json:"documentId"`
}

// LeaveDocumentPayload asks to leave one document's room.
type LeaveDocumentPayload struct {
	DocumentID string `json:"documentId"`
}

// DocumentStatePayload carries the current document snapshot to a joiner.
type DocumentStatePayload struct {
	Document portfolio.Snapshot `json:"document"`
}

// AutosavePayload buffers a debounced change set against a baseline version.
type AutosavePayload struct {
	DocumentID string              `json:"documentId"`
	Changes    portfolio.ChangeSet `json:"changes"`
	Version    int64               `json:"version"`
}

// AutosaveSuccessPayload confirms a committed write to the originator.
type AutosaveSuccessPayload struct {
	DocumentID string `json:"documentId"`
	Version    int64  `json:"version"`
}

// VersionConflictPayload reports a failed optimistic write; the client must
// re-baseline against the carried document and resubmit.
type VersionConflictPayload struct {
	CurrentVersion int64              `json:"currentVersion"`
	Document       portfolio.Snapshot `json:"document"`
}

// GetOnlineUsersPayload requests the presence list for one document.
type GetOnlineUsersPayload struct {
	DocumentID string `json:"documentId"`
}

// OnlineUsersPayload answers a presence query.
type OnlineUsersPayload struct {
	DocumentID string     `json:"documentId"`
	Users      []Identity `json:"users"`
	Count      int        `json:"count"`
}

// HeartbeatPayload carries the liveness timestamp in unix milliseconds.
type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// ErrorPayload is the uniform error frame shape.
type ErrorPayload struct {
	Type    string                 `json:"type,omitempty"`
	Message string                 `json:"message"`
	Errors  []portfolio.FieldIssue `json:"errors,omitempty"`
}

const (
	errorTypeAccessDenied = "AccessDenied"
	errorTypeNotFound     = "NotFound"
	errorTypeValidation   = "ValidationError"
	errorTypePersistence  = "PersistenceError"
	errorTypeBadRequest   = "BadRequest"
)

// relayedInbound reports whether an inbound event is forwarded to room peers
// verbatim without touching the document store.
func relayedInbound(event EventType) bool {
	switch event {
	case EventBlockAdd, EventBlockUpdate, EventBlockDelete, EventBlockReorder,
		EventThemeUpdate, EventLayoutUpdate,
		EventCursorMove, EventSelectionChange, EventTypingStart, EventTypingStop:
		return true
	default:
		return false
	}
}

func mustEncode(event EventType, payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payload types are produced by this package; a marshal failure is a
		// programming error.
		panic(err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		panic(err)
	}
	return frame
}
