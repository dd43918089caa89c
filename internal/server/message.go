// Package server defines the wire message envelope and the closed set of
// message kinds the router understands.
package server

import (
	"encoding/json"

	"github.com/jcapra/camrelay/internal/history"
)

// AdminSender is the value of the "from" field on admin-originated chat
// messages; client-originated chat carries the sender's room instead.
const AdminSender = "Admin"

// kind enumerates the message types the router acts on. Every inbound
// payload is decoded once at the boundary and mapped to exactly one kind;
// types the server does not recognize map to kindUnknown and are ignored so
// newer clients can speak to older servers.
type kind int

const (
	kindUnknown kind = iota
	kindChat
	kindVideo
	kindAudio
	kindCameraStatus
	kindCameraControl
	kindSelectRoom
	kindListClients
	kindPing
)

// Message is the JSON envelope exchanged with both roles. All kinds share
// the one envelope; fields irrelevant to a kind stay at their zero value and
// are omitted on the wire.
type Message struct {
	Type       string           `json:"type"`
	Room       string           `json:"room,omitempty"`
	TargetRoom string           `json:"targetRoom,omitempty"`
	From       string           `json:"from,omitempty"`
	Text       string           `json:"text,omitempty"`
	Attachment string           `json:"attachment,omitempty"`
	Image      string           `json:"image,omitempty"`
	Audio      string           `json:"audio,omitempty"`
	Status     string           `json:"status,omitempty"`
	Camera     string           `json:"camera,omitempty"`
	Timestamp  int64            `json:"timestamp,omitempty"`
	Rooms      []string         `json:"rooms,omitempty"`
	Messages   []history.Record `json:"messages,omitempty"`
}

// kindOf maps a wire type string to its kind. "frame" is the legacy alias
// some camera clients use for "video"; "switchCamera" and "cameraControl"
// are routed identically; "roomsList" is accepted as a request type as well
// as being the reply type.
func kindOf(wireType string) kind {
	switch wireType {
	case "chat":
		return kindChat
	case "video", "frame":
		return kindVideo
	case "audio":
		return kindAudio
	case "cameraStatus":
		return kindCameraStatus
	case "switchCamera", "cameraControl":
		return kindCameraControl
	case "selectRoom":
		return kindSelectRoom
	case "listClients", "roomsList":
		return kindListClients
	case "ping":
		return kindPing
	default:
		return kindUnknown
	}
}

// isMediaKind reports whether a kind carries streamed media. Media frames
// bypass the per-connection rate limiter so a camera at full frame rate is
// never throttled; the limiter applies to chat and control traffic only.
func isMediaKind(k kind) bool {
	return k == kindVideo || k == kindAudio
}

// decodeMessage parses a raw inbound payload into the shared envelope and
// resolves its kind. A JSON error means the payload is malformed and must be
// dropped by the caller; the connection itself stays open.
func decodeMessage(raw []byte) (Message, kind, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, kindUnknown, err
	}
	return msg, kindOf(msg.Type), nil
}
