/******************************************************************************
 *
 *  Description :
 *
 *    Wire protocol structures.
 *
 *****************************************************************************/

package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/uniconnect/chat/server/store/types"
)

// Prefix of broadcast topics subject to conversation membership checks.
// Destinations outside this namespace are passed to the hub unchecked.
const convTopicPrefix = "conversations/"

// conversationTopic returns the broadcast topic name of a conversation.
func conversationTopic(id uuid.UUID) string {
	return convTopicPrefix + id.String()
}

// parseConversationTopic extracts the conversation id from a topic name.
// Returns uuid.Nil and false when the trailing segment is not a valid UUID.
func parseConversationTopic(topic string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimPrefix(topic, convTopicPrefix))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Client to Server (C2S) messages.

// MsgClientSub is a request to subscribe to a topic.
type MsgClientSub struct {
	Id    string `json:"id,omitempty"`
	Topic string `json:"topic"`
}

// MsgClientLeave is a request to unsubscribe from a topic.
type MsgClientLeave struct {
	Id    string `json:"id,omitempty"`
	Topic string `json:"topic"`
}

// MsgClientSend is a request to send a message into a conversation.
type MsgClientSend struct {
	Id             string `json:"id,omitempty"`
	ConversationId string `json:"conversationId"`
	Content        string `json:"content"`
	Type           string `json:"type,omitempty"`
}

// MsgClientTyping is an ephemeral typing signal. Header-style: the
// conversation id only, no body.
type MsgClientTyping struct {
	ConversationId string `json:"conversationId"`
}

// ClientComMessage is a wrapper for client messages.
type ClientComMessage struct {
	Sub    *MsgClientSub    `json:"sub,omitempty"`
	Leave  *MsgClientLeave  `json:"leave,omitempty"`
	Send   *MsgClientSend   `json:"send,omitempty"`
	Typing *MsgClientTyping `json:"typing,omitempty"`

	// Timestamp of message receipt, set by the server.
	timestamp time.Time
}

// Server to client (S2C) messages.

// MsgServerCtrl is a server control message {ctrl}.
type MsgServerCtrl struct {
	Id    string `json:"id,omitempty"`
	Topic string `json:"topic,omitempty"`

	Code      int       `json:"code"`
	Text      string    `json:"text,omitempty"`
	Params    any       `json:"params,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// MsgServerData is a payload of a persisted message published to the
// conversation topic.
type MsgServerData struct {
	Id             uuid.UUID            `json:"id"`
	ConversationId uuid.UUID            `json:"conversationId"`
	SenderId       uuid.UUID            `json:"senderId"`
	Content        string               `json:"content"`
	Type           types.MessageType    `json:"type"`
	AttachmentUrl  string               `json:"attachmentUrl,omitempty"`
	Status         types.DeliveryStatus `json:"status"`
	SentAt         time.Time            `json:"sentAt"`
}

// MsgServerTyping is an ephemeral typing notification. Broadcast once,
// never stored.
type MsgServerTyping struct {
	ConversationId uuid.UUID `json:"conversationId"`
	TypingUserId   uuid.UUID `json:"typingUserId"`
}

// ServerComMessage is a wrapper for server-side messages.
type ServerComMessage struct {
	Ctrl   *MsgServerCtrl   `json:"ctrl,omitempty"`
	Data   *MsgServerData   `json:"data,omitempty"`
	Typing *MsgServerTyping `json:"typing,omitempty"`

	// Topic the message is routed to. Not serialized.
	RcptTo string `json:"-"`
}

// Generators of server-side {ctrl} messages.

// NoErr indicates successful completion (200).
func NoErr(id, topic string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusOK, // 200
		Text:      "ok",
		Topic:     topic,
		Timestamp: ts}}
}

// NoErrCreated indicates successful creation of an object (201).
func NoErrCreated(id, topic string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusCreated, // 201
		Text:      "created",
		Topic:     topic,
		Timestamp: ts}}
}

// NoErrShutdown means the connection is closed because the server is
// shutting down (205).
func NoErrShutdown(ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Code:      http.StatusResetContent, // 205
		Text:      "server shutdown",
		Timestamp: ts}}
}

// ErrMalformed means the request could not be parsed or was otherwise
// invalid (400).
func ErrMalformed(id, topic string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusBadRequest, // 400
		Text:      "malformed",
		Topic:     topic,
		Timestamp: ts}}
}

// ErrInvalidDestination means the subscription destination does not carry a
// valid conversation id (400). Deliberately distinct from membership denial.
func ErrInvalidDestination(id, topic string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusBadRequest, // 400
		Text:      "invalid destination",
		Topic:     topic,
		Timestamp: ts}}
}

// ErrAuthRequired means the user must authenticate first (401).
func ErrAuthRequired(id, topic string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusUnauthorized, // 401
		Text:      "authentication required",
		Topic:     topic,
		Timestamp: ts}}
}

// ErrAuthFailed means authentication failed: bad signature, wrong issuer,
// expired credential or unresolvable identity (401).
func ErrAuthFailed(id, topic string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusUnauthorized, // 401
		Text:      "authentication failed",
		Topic:     topic,
		Timestamp: ts}}
}

// ErrPermissionDenied means the user is authenticated but the operation is
// not permitted (403).
func ErrPermissionDenied(id, topic string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusForbidden, // 403
		Text:      "permission denied",
		Topic:     topic,
		Timestamp: ts}}
}

// ErrNotFound means the requested object does not exist (404).
func ErrNotFound(id, topic string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusNotFound, // 404
		Text:      "not found",
		Topic:     topic,
		Timestamp: ts}}
}

// ErrUnknown means an internal server failure; details are logged, not
// leaked to the client (500).
func ErrUnknown(id, topic string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusInternalServerError, // 500
		Text:      "internal error",
		Topic:     topic,
		Timestamp: ts}}
}

// storeErrorResponse maps a storage/service error to a {ctrl} response.
func storeErrorResponse(err error, id, topic string, ts time.Time) *ServerComMessage {
	switch err {
	case types.ErrMalformed:
		return ErrMalformed(id, topic, ts)
	case types.ErrNotFound, types.ErrUserNotFound, types.ErrConversationNotFound:
		return ErrNotFound(id, topic, ts)
	case types.ErrPermissionDenied, types.ErrNotParticipant:
		return ErrPermissionDenied(id, topic, ts)
	case types.ErrExpired, types.ErrFailed:
		return ErrAuthFailed(id, topic, ts)
	default:
		return ErrUnknown(id, topic, ts)
	}
}
