// Package adapter contains the interfaces to be implemented by the database adapter.
package adapter

import (
	"github.com/google/uuid"

	t "github.com/uniconnect/chat/server/store/types"
)

// Adapter is the interface which must be implemented by a database adapter.
// The schema supports a single connection by database type.
type Adapter interface {
	// Open and configure the adapter.
	Open(config string) error
	// Close the adapter.
	Close() error
	// IsOpen checks if the adapter is ready for use.
	IsOpen() bool
	// GetName returns the name of the adapter.
	GetName() string
	// CreateDb creates the database schema. If reset is true it drops an
	// existing database first.
	CreateDb(reset bool) error

	// User management.

	// UserCreate persists a new account record.
	UserCreate(user *t.User) error
	// UserGet loads a single user by id. Returns (nil, nil) if missing.
	UserGet(id uuid.UUID) (*t.User, error)
	// UserGetByEmail loads a single user by email. Returns (nil, nil) if missing.
	UserGetByEmail(email string) (*t.User, error)

	// Conversation management.

	// ConversationGet loads a conversation with participants resolved.
	// Returns (nil, nil) if missing.
	ConversationGet(id uuid.UUID) (*t.Conversation, error)
	// ConversationGetP2P loads the direct conversation of the given unordered
	// user pair, participants resolved. Returns (nil, nil) if missing.
	ConversationGetP2P(u1, u2 uuid.UUID) (*t.Conversation, error)
	// ConversationCreateP2P inserts a new direct conversation. If another
	// conversation for the same pair exists already (a concurrent insert won
	// the race), the existing record is returned with created=false instead
	// of an error: the duplicate-key violation is an expected outcome, not a
	// failure.
	ConversationCreateP2P(conv *t.Conversation) (*t.Conversation, bool, error)
	// ConversationsForUser loads all conversations the user participates in,
	// newest first, participants resolved.
	ConversationsForUser(uid uuid.UUID) ([]t.Conversation, error)
	// ConversationHasParticipant is a point existence query answering "does
	// the user participate in the conversation" without loading the
	// participant collection.
	ConversationHasParticipant(conv, user uuid.UUID) (bool, error)

	// Messages.

	// MessageSave persists a new message.
	MessageSave(msg *t.Message) error
	// MessageGetAll loads a page of conversation messages ordered by send
	// time descending.
	MessageGetAll(conv uuid.UUID, page, size int) ([]t.Message, error)
}
