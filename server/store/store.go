// Package store provides access to the database adapter and the registered
// authentication schemes.
package store

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/uniconnect/chat/server/auth"
	"github.com/uniconnect/chat/server/store/adapter"
	"github.com/uniconnect/chat/server/store/types"
)

var adp adapter.Adapter
var availableAdapters = make(map[string]adapter.Adapter)

type configType struct {
	// DB adapter name to use. Should be one of those specified in `Adapters`.
	UseAdapter string `json:"use_adapter"`
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

func openAdapter(jsonconf string) error {
	var config configType
	if err := json.Unmarshal([]byte(jsonconf), &config); err != nil {
		return errors.New("store: failed to parse config: " + err.Error() + "(" + jsonconf + ")")
	}

	if adp == nil {
		if len(config.UseAdapter) > 0 {
			// Adapter name specified explicitly.
			if ad, ok := availableAdapters[config.UseAdapter]; ok {
				adp = ad
			} else {
				return errors.New("store: " + config.UseAdapter + " adapter is not available in this binary")
			}
		} else if len(availableAdapters) == 1 {
			// Default to the only entry in availableAdapters.
			for _, v := range availableAdapters {
				adp = v
			}
		} else {
			return errors.New("store: db adapter is not specified. Please set `store_config.use_adapter`")
		}
	}

	if adp.IsOpen() {
		return errors.New("store: connection is already opened")
	}

	var adapterConfig string
	if config.Adapters != nil {
		adapterConfig = string(config.Adapters[adp.GetName()])
	}

	return adp.Open(adapterConfig)
}

// Open initializes the persistence system. Adapter holds a connection pool
// for a database instance.
func Open(jsonconf string) error {
	return openAdapter(jsonconf)
}

// Close terminates connection to persistent storage.
func Close() error {
	if adp != nil && adp.IsOpen() {
		return adp.Close()
	}
	return nil
}

// IsOpen checks if persistent storage connection has been initialized.
func IsOpen() bool {
	return adp != nil && adp.IsOpen()
}

// GetAdapterName returns the name of the current adapter.
func GetAdapterName() string {
	if adp != nil {
		return adp.GetName()
	}
	return ""
}

// InitDb creates the database schema. If 'reset' is true it will first
// attempt to drop an existing database.
func InitDb(reset bool) error {
	if !IsOpen() {
		return errors.New("store: adapter is not open")
	}
	return adp.CreateDb(reset)
}

// RegisterAdapter makes a persistence adapter available by the provided name.
// If Register is called twice with the same name or if the adapter is nil, it panics.
func RegisterAdapter(a adapter.Adapter) {
	if a == nil {
		panic("store: Register adapter is nil")
	}

	adapterName := a.GetName()
	if _, ok := availableAdapters[adapterName]; ok {
		panic("store: adapter '" + adapterName + "' is already registered")
	}
	availableAdapters[adapterName] = a
}

// GetUid generates a unique ID suitable for use as a primary key.
func GetUid() uuid.UUID {
	return uuid.New()
}

// GetUidString generates a unique ID as string.
func GetUidString() string {
	return uuid.NewString()
}

// Registered authentication handlers.
var authHandlers = make(map[string]auth.Handler)

// RegisterAuthScheme registers an authentication scheme handler.
func RegisterAuthScheme(name string, handler auth.Handler) {
	if name == "" {
		panic("store: scheme name is missing")
	}
	if handler == nil {
		panic("store: scheme handler is nil")
	}
	if _, dup := authHandlers[name]; dup {
		panic("store: duplicate registration of auth scheme " + name)
	}
	authHandlers[name] = handler
}

// GetAuthHandler returns an auth handler by name.
func GetAuthHandler(name string) auth.Handler {
	return authHandlers[name]
}

// UsersObjMapper is a users struct to hold methods for persistence mapping for
// the User object.
type UsersObjMapper struct{}

// Users is an instance of UsersObjMapper to map methods to.
var Users UsersObjMapper

// Create inserts a user account record.
func (UsersObjMapper) Create(user *types.User) error {
	if user.Id == uuid.Nil {
		user.Id = GetUid()
	}
	return adp.UserCreate(user)
}

// Get loads a user by id.
func (UsersObjMapper) Get(id uuid.UUID) (*types.User, error) {
	return adp.UserGet(id)
}

// GetByEmail loads a user by email address.
func (UsersObjMapper) GetByEmail(email string) (*types.User, error) {
	return adp.UserGetByEmail(email)
}

// ConversationsObjMapper is a struct to hold methods for persistence mapping
// for the Conversation object.
type ConversationsObjMapper struct{}

// Conversations is an instance of ConversationsObjMapper to map methods to.
var Conversations ConversationsObjMapper

// Get loads a conversation by id, participants resolved.
func (ConversationsObjMapper) Get(id uuid.UUID) (*types.Conversation, error) {
	return adp.ConversationGet(id)
}

// GetP2P loads the direct conversation of the given unordered pair.
func (ConversationsObjMapper) GetP2P(u1, u2 uuid.UUID) (*types.Conversation, error) {
	return adp.ConversationGetP2P(u1, u2)
}

// CreateP2P assigns the id and creation time, then inserts a direct
// conversation. Returns the stored conversation and true if this call created
// it, or the pre-existing conversation and false if a concurrent call won.
func (ConversationsObjMapper) CreateP2P(conv *types.Conversation) (*types.Conversation, bool, error) {
	conv.Id = GetUid()
	conv.IsGroup = false
	conv.CreatedAt = types.TimeNow()
	return adp.ConversationCreateP2P(conv)
}

// ForUser loads all conversations of a user, newest first.
func (ConversationsObjMapper) ForUser(uid uuid.UUID) ([]types.Conversation, error) {
	return adp.ConversationsForUser(uid)
}

// HasParticipant is a point query answering "does the user participate in the
// conversation". It never loads the participant collection.
func (ConversationsObjMapper) HasParticipant(conv, user uuid.UUID) (bool, error) {
	return adp.ConversationHasParticipant(conv, user)
}

// MessagesObjMapper is a struct to hold methods for persistence mapping for
// the Message object.
type MessagesObjMapper struct{}

// Messages is an instance of MessagesObjMapper to map methods to.
var Messages MessagesObjMapper

// Save assigns the id, the server send timestamp and the "sent" status, then
// persists the message.
func (MessagesObjMapper) Save(msg *types.Message) (*types.Message, error) {
	msg.Id = GetUid()
	msg.SentAt = types.TimeNow()
	msg.Status = types.StatusSent
	if msg.Type == "" {
		msg.Type = types.MessageText
	}
	if err := adp.MessageSave(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetAll loads a page of conversation messages ordered by send time descending.
func (MessagesObjMapper) GetAll(conv uuid.UUID, page, size int) ([]types.Message, error) {
	return adp.MessageGetAll(conv, page, size)
}
