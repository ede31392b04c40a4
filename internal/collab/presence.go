package collab

import "encoding/json"

// Presence is ephemeral and never persisted: cursor, selection and typing
// signals are fire-and-forget relays, and the online list is computed on
// demand from room membership. A dropped signal self-heals on the next one.

// handleRelayOnly forwards an ephemeral or content signal to the room peers
// verbatim, after a shape check only. The document store is never touched.
func (e *Engine) handleRelayOnly(conn *Conn, event EventType, data json.RawMessage) {
	payload := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			conn.Send(EventError, ErrorPayload{Type: errorTypeBadRequest, Message: "malformed payload"})
			return
		}
	}
	documentID, _ := payload["documentId"].(string)
	if documentID == "" {
		conn.Send(EventError, ErrorPayload{Type: errorTypeBadRequest, Message: "documentId is required"})
		return
	}
	e.relay.Broadcast(documentID, conn, event, payload)
}

// handleOnlineUsers answers a presence query with every current room
// member's identity, so late joiners can render an initial presence list.
func (e *Engine) handleOnlineUsers(conn *Conn, data json.RawMessage) {
	var payload GetOnlineUsersPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		conn.Send(EventError, ErrorPayload{Type: errorTypeBadRequest, Message: "malformed get-online-users payload"})
		return
	}
	conn.Send(EventOnlineUsers, e.ListOnline(payload.DocumentID))
}

// ListOnline enumerates the identities currently in a document's room. An
// absent room yields an empty list with count 0.
func (e *Engine) ListOnline(documentID string) OnlineUsersPayload {
	members := e.rooms.snapshot(documentID)
	users := make([]Identity, 0, len(members))
	for _, member := range members {
		users = append(users, member.Identity)
	}
	return OnlineUsersPayload{
		DocumentID: documentID,
		Users:      users,
		Count:      len(users),
	}
}
