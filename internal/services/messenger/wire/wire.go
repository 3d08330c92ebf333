// Package wire defines the realtime event surface shared by the messenger
// server and the reconciling client: frame envelope, event names, and
// payload shapes. One event corresponds to one operation.
package wire

import (
	"encoding/json"
	"time"
)

// Event names carried in Frame.Type.
const (
	// EventPrivateMessage is both the inbound send request and the
	// outbound enriched delivery/echo.
	EventPrivateMessage = "private_message"
	// EventReaction is the inbound reaction upsert request.
	EventReaction = "reaction"
	// EventReactionUpdate broadcasts recomputed per-emoji counts.
	EventReactionUpdate = "reaction_update"
	// EventDeleteMessage is the inbound delete request.
	EventDeleteMessage = "delete_message"
	// EventMessageDeleted broadcasts a soft delete (tombstone).
	EventMessageDeleted = "message_deleted"
	// EventMessageRemoved broadcasts a hard delete (purge).
	EventMessageRemoved = "message_removed"
	// EventTyping and EventStopTyping are best-effort unicast indicators.
	EventTyping     = "typing"
	EventStopTyping = "stop_typing"
	// EventMessageSeen is the inbound bulk-seen request; EventMessagesSeen
	// is the aggregate notification to the counterpart.
	EventMessageSeen  = "message_seen"
	EventMessagesSeen = "messages_seen"
	// Presence events.
	EventUserOnline  = "user_online"
	EventUserOffline = "user_offline"
	EventOnlineUsers = "online_users"
	// EventError reports a rejected frame back to the offending connection.
	EventError = "error"
)

// Frame is the transport envelope for every realtime event.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SendPayload is the inbound private_message request. Token is a
// client-generated correlation token; the server treats it as opaque and
// never stores, forwards, or returns it.
type SendPayload struct {
	To      string `json:"to"`
	Content string `json:"content"`
	ReplyTo string `json:"reply_to,omitempty"`
	Token   string `json:"token,omitempty"`
}

// ReactionPayload is the inbound reaction upsert request.
type ReactionPayload struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// ReactionCount aggregates one emoji across a message's reaction set.
type ReactionCount struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// ReactionUpdatePayload broadcasts the recomputed aggregate for a message.
type ReactionUpdatePayload struct {
	MessageID string          `json:"message_id"`
	Reactions []ReactionCount `json:"reactions"`
}

// DeletePayload identifies the target of delete_message, message_deleted,
// and message_removed events.
type DeletePayload struct {
	MessageID string `json:"message_id"`
}

// TypingPayload is the inbound typing/stop_typing request.
type TypingPayload struct {
	ReceiverID string `json:"receiver_id"`
}

// TypingNotice is the unicast typing/stop_typing notification.
type TypingNotice struct {
	UserID string `json:"user_id"`
}

// SeenPayload is the inbound message_seen request: the viewer asks the
// server to mark everything sent by SenderID to the viewer as seen.
type SeenPayload struct {
	SenderID string `json:"sender_id"`
}

// SeenNotice is the aggregate messages_seen notification. The receiver
// must treat all of its own messages to By as seen.
type SeenNotice struct {
	By string `json:"by"`
}

// PresencePayload carries user_online/user_offline broadcasts.
type PresencePayload struct {
	UserID string `json:"user_id"`
}

// OnlineUsersPayload is the connect-time presence snapshot.
type OnlineUsersPayload struct {
	UserIDs []string `json:"user_ids"`
}

// ErrorPayload reports a rejected frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ReplyPreview is the resolved preview of a replied-to message.
type ReplyPreview struct {
	ID       string `json:"id"`
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
}

// Envelope is the enriched message shape used for live delivery, sender
// echo, and history pages alike. It is transient and built fresh on every
// read or send; it is never persisted.
type Envelope struct {
	ID         string          `json:"id"`
	SenderID   string          `json:"sender_id"`
	ReceiverID string          `json:"receiver_id"`
	Content    string          `json:"content"`
	Status     string          `json:"status"`
	Deleted    bool            `json:"deleted"`
	ReplyTo    *ReplyPreview   `json:"reply_message,omitempty"`
	Reactions  []ReactionCount `json:"reactions"`
	CreatedAt  time.Time       `json:"created_at"`
}

// UnreadCount is one per-peer unread aggregate for the REST surface.
type UnreadCount struct {
	SenderID string `json:"sender_id"`
	Count    int    `json:"count"`
}
