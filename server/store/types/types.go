// Package types contains data structures shared between the server logic and
// the database adapters.
package types

import (
	"time"

	"github.com/google/uuid"
)

// StoreError satisfies Error interface but allows constant values for
// direct comparison.
type StoreError string

// Error is required by error interface.
func (s StoreError) Error() string {
	return string(s)
}

const (
	// ErrInternal means DB or other internal failure.
	ErrInternal = StoreError("internal")
	// ErrMalformed means the secret or request cannot be parsed or otherwise wrong.
	ErrMalformed = StoreError("malformed")
	// ErrFailed means authentication failed (wrong login or password, etc).
	ErrFailed = StoreError("failed")
	// ErrDuplicate means duplicate record: the unique constraint on insert was violated.
	ErrDuplicate = StoreError("duplicate value")
	// ErrUnsupported means an operation is not supported.
	ErrUnsupported = StoreError("unsupported")
	// ErrExpired means the secret has expired.
	ErrExpired = StoreError("expired")
	// ErrPermissionDenied means the operation is not permitted.
	ErrPermissionDenied = StoreError("denied")
	// ErrNotFound means the requested object was not found.
	ErrNotFound = StoreError("not found")
	// ErrUserNotFound means the user was not found.
	ErrUserNotFound = StoreError("user not found")
	// ErrConversationNotFound means the conversation was not found.
	ErrConversationNotFound = StoreError("conversation not found")
	// ErrNotParticipant means the user does not participate in the conversation.
	ErrNotParticipant = StoreError("not a conversation participant")
)

// Role is an account role tag. Direct conversations are permitted between a
// student and a teacher only.
type Role string

const (
	// RoleStudent is a student account.
	RoleStudent = Role("student")
	// RoleTeacher is a teaching staff account.
	RoleTeacher = Role("teacher")
)

// MessageType is a tag of the message content kind.
type MessageType string

const (
	// MessageText is a plain text message, the default.
	MessageText = MessageType("text")
	// MessageImage is an image message with an attachment locator.
	MessageImage = MessageType("image")
	// MessageFile is a generic file message with an attachment locator.
	MessageFile = MessageType("file")
)

// DeliveryStatus is a message delivery state. The server assigns "sent" only.
type DeliveryStatus string

// StatusSent means the message was persisted and published.
const StatusSent = DeliveryStatus("sent")

// TimeNow returns current wall time in UTC rounded to milliseconds.
func TimeNow() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// User is a stored account record. Account creation and password verification
// are handled by the account service; the chat server only reads users.
type User struct {
	Id       uuid.UUID `json:"id" db:"id"`
	Username string    `json:"username" db:"username"`
	Email    string    `json:"email" db:"email"`
	Role     Role      `json:"role" db:"role"`
}

// Conversation is a chat between two or more participants. Every conversation
// this server creates is a direct one: not a group, exactly two distinct
// participants, at most one conversation per unordered pair.
type Conversation struct {
	Id           uuid.UUID `json:"id" db:"id"`
	IsGroup      bool      `json:"isGroup" db:"is_group"`
	Title        string    `json:"title,omitempty" db:"title"`
	Participants []User    `json:"participants" db:"-"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// HasParticipant reports whether uid is among loaded participants. Storage
// membership checks use the adapter's point query instead; this is a helper
// for code which already holds a fully resolved conversation.
func (c *Conversation) HasParticipant(uid uuid.UUID) bool {
	for i := range c.Participants {
		if c.Participants[i].Id == uid {
			return true
		}
	}
	return false
}

// PairKey returns the canonical key of an unordered user pair: the two UUIDs
// in lexicographic order joined by ':'. The storage layer keeps a unique index
// on it, which is the backstop for concurrent find-or-create calls.
func PairKey(u1, u2 uuid.UUID) string {
	a, b := u1.String(), u2.String()
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// Message is a single stored chat message. Immutable once persisted.
type Message struct {
	Id             uuid.UUID      `json:"id" db:"id"`
	ConversationId uuid.UUID      `json:"conversationId" db:"conversation_id"`
	SenderId       uuid.UUID      `json:"senderId" db:"sender_id"`
	Type           MessageType    `json:"type" db:"type"`
	Content        string         `json:"content" db:"content"`
	AttachmentUrl  string         `json:"attachmentUrl,omitempty" db:"attachment_url"`
	Status         DeliveryStatus `json:"status" db:"status"`
	SentAt         time.Time      `json:"sentAt" db:"sent_at"`
}
