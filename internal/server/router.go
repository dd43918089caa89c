// Package server routes decoded messages: client traffic fans out to every
// admin, admin commands target the single client registered to a room.
package server

import (
	"time"

	"github.com/jcapra/camrelay/internal/history"
)

// HistorySink receives chat events for durable append-only logging and
// serves replay queries. Implemented outside the core.
type HistorySink interface {
	Append(room string, rec history.Record)
	Room(room string) []history.Record
}

// Notifier delivers push notifications for admin-to-client chat.
// Fire-and-forget; failures are the implementation's to log.
type Notifier interface {
	Notify(room, title, body string)
}

// router resolves destinations for inbound messages. It runs inside the
// hub's event loop, so per-message work must never block; all delivery goes
// through the hub's best-effort send helpers.
type router struct {
	hub      *Hub
	registry *Registry
	history  HistorySink
	notifier Notifier
}

// dispatch applies the routing rule for one decoded message.
func (rt *router) dispatch(c *Client, msg Message, k kind) {
	messagesTotal.WithLabelValues(msg.Type).Inc()

	switch k {
	case kindPing:
		rt.hub.sendMessage(c, Message{Type: "pong", Timestamp: msg.Timestamp})
	case kindChat:
		if c.role == RoleAdmin {
			rt.adminChat(c, msg)
		} else {
			rt.clientChat(c, msg)
		}
	case kindVideo, kindAudio, kindCameraStatus:
		rt.clientBroadcast(c, msg)
	case kindCameraControl:
		rt.cameraControl(c, msg)
	case kindSelectRoom:
		rt.selectRoom(c, msg)
	case kindListClients:
		rt.listRooms(c)
	}
}

// clientChat fans a client's chat message out to every admin. The sender
// identity and room are always stamped from the connection's registration,
// never trusted from the payload.
func (rt *router) clientChat(c *Client, msg Message) {
	if c.role != RoleClient {
		return
	}

	msg.From = c.room
	msg.Room = c.room
	msg.Timestamp = time.Now().UnixMilli()
	rt.appendHistory(c.room, msg)
	rt.hub.broadcastToAdmins(msg)
}

// adminChat delivers an admin's chat message to the client of the room the
// admin named, or of their current selection. The message is echoed back to
// the sending admin for local display, recorded in history, and surfaced to
// the device as a push notification in case it is backgrounded.
func (rt *router) adminChat(c *Client, msg Message) {
	room := rt.resolveTarget(c, msg)
	if room == "" {
		droppedTotal.WithLabelValues("no_target").Inc()
		return
	}

	msg.From = AdminSender
	msg.Room = room
	msg.Timestamp = time.Now().UnixMilli()
	rt.appendHistory(room, msg)

	if target, ok := rt.registry.LookupClient(room); ok {
		rt.hub.sendMessage(target, msg)
	} else {
		droppedTotal.WithLabelValues("no_client").Inc()
	}
	rt.hub.sendMessage(c, msg)

	if rt.notifier != nil {
		rt.notifier.Notify(room, "New message", msg.Text)
	}
}

// clientBroadcast relays opaque media and status payloads from a client to
// every admin. The room identifier is attached by the server from the
// sending connection's registered room so a payload cannot spoof another
// room's stream.
func (rt *router) clientBroadcast(c *Client, msg Message) {
	if c.role != RoleClient {
		return
	}

	msg.Room = c.room
	rt.hub.broadcastToAdmins(msg)
}

// cameraControl targets the single client registered to the named room with
// a camera command. No client for the room means the command is dropped
// silently: delivery is at-most-once and no acknowledgement channel exists.
func (rt *router) cameraControl(c *Client, msg Message) {
	if c.role != RoleAdmin {
		return
	}

	room := rt.resolveTarget(c, msg)
	target, ok := rt.registry.LookupClient(room)
	if !ok {
		droppedTotal.WithLabelValues("no_client").Inc()
		return
	}
	msg.Room = room
	rt.hub.sendMessage(target, msg)
}

// selectRoom records the sending admin's room selection and replies with
// that room's chat history for replay.
func (rt *router) selectRoom(c *Client, msg Message) {
	if c.role != RoleAdmin {
		return
	}

	c.selectRoom(msg.Room)

	var records []history.Record
	if rt.history != nil {
		records = rt.history.Room(msg.Room)
	}
	rt.hub.sendMessage(c, Message{Type: "history", Room: msg.Room, Messages: records})
}

// listRooms answers an admin's request for the set of currently active rooms.
func (rt *router) listRooms(c *Client) {
	if c.role != RoleAdmin {
		return
	}
	rt.hub.sendMessage(c, Message{Type: "roomsList", Rooms: rt.registry.Rooms()})
}

// resolveTarget picks the room an admin command applies to: an explicit
// targetRoom wins, then the payload's room, then the admin's selection.
func (rt *router) resolveTarget(c *Client, msg Message) string {
	if msg.TargetRoom != "" {
		return msg.TargetRoom
	}
	if msg.Room != "" {
		return msg.Room
	}
	return c.currentSelection()
}

// appendHistory records a chat message with the external sink. Sink failures
// never reach the routing path.
func (rt *router) appendHistory(room string, msg Message) {
	if rt.history == nil {
		return
	}
	rt.history.Append(room, history.Record{
		ID:         history.NewRecordID(),
		From:       msg.From,
		Text:       msg.Text,
		Attachment: msg.Attachment,
		Room:       room,
		Timestamp:  msg.Timestamp,
	})
}
