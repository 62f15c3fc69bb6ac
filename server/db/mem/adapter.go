// In-memory database adapter. Intended for tests and single-binary
// development runs; implements the same semantics as the SQL adapter,
// including the unique constraint on the direct-conversation pair key.
package mem

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uniconnect/chat/server/store"
	t "github.com/uniconnect/chat/server/store/types"
)

const adapterName = "mem"

// conversation is the stored form: participant ids only, the way the SQL
// adapter keeps them in the junction table.
type conversation struct {
	id           uuid.UUID
	isGroup      bool
	title        string
	participants []uuid.UUID
	createdAt    time.Time
	seq          int
}

// storedMessage keeps the insertion sequence to break send-time ties
// deterministically.
type storedMessage struct {
	msg t.Message
	seq int
}

// adapter holds the in-memory tables.
type adapter struct {
	lock sync.Mutex
	open bool

	users   map[uuid.UUID]*t.User
	byEmail map[string]uuid.UUID

	convs  map[uuid.UUID]*conversation
	byPair map[string]uuid.UUID

	msgs map[uuid.UUID][]storedMessage

	lastSeq int
}

// Open marks the adapter ready. There is no connection to establish.
func (a *adapter) Open(_ string) error {
	if a.open {
		return errors.New("mem adapter is already open")
	}
	a.open = true
	return a.CreateDb(true)
}

// Close discards all data.
func (a *adapter) Close() error {
	a.lock.Lock()
	defer a.lock.Unlock()

	a.open = false
	a.users = nil
	a.byEmail = nil
	a.convs = nil
	a.byPair = nil
	a.msgs = nil
	return nil
}

// IsOpen returns true if the adapter is ready for use.
func (a *adapter) IsOpen() bool {
	return a.open
}

// GetName returns the name of the adapter.
func (a *adapter) GetName() string {
	return adapterName
}

// CreateDb resets all tables.
func (a *adapter) CreateDb(reset bool) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if !reset && a.users != nil {
		return nil
	}
	a.users = make(map[uuid.UUID]*t.User)
	a.byEmail = make(map[string]uuid.UUID)
	a.convs = make(map[uuid.UUID]*conversation)
	a.byPair = make(map[string]uuid.UUID)
	a.msgs = make(map[uuid.UUID][]storedMessage)
	a.lastSeq = 0
	return nil
}

// UserCreate persists a new account record.
func (a *adapter) UserCreate(user *t.User) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if _, dup := a.users[user.Id]; dup {
		return t.ErrDuplicate
	}
	if _, dup := a.byEmail[user.Email]; dup {
		return t.ErrDuplicate
	}
	u := *user
	a.users[u.Id] = &u
	a.byEmail[u.Email] = u.Id
	return nil
}

// UserGet loads a single user by id.
func (a *adapter) UserGet(id uuid.UUID) (*t.User, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if u, ok := a.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

// UserGetByEmail loads a single user by email.
func (a *adapter) UserGetByEmail(email string) (*t.User, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if id, ok := a.byEmail[email]; ok {
		cp := *a.users[id]
		return &cp, nil
	}
	return nil, nil
}

// resolve materializes a stored conversation with participants loaded.
// Caller must hold the lock.
func (a *adapter) resolve(c *conversation) *t.Conversation {
	conv := &t.Conversation{
		Id:        c.id,
		IsGroup:   c.isGroup,
		Title:     c.title,
		CreatedAt: c.createdAt,
	}
	for _, uid := range c.participants {
		if u, ok := a.users[uid]; ok {
			conv.Participants = append(conv.Participants, *u)
		}
	}
	return conv
}

// ConversationGet loads a conversation with participants resolved.
func (a *adapter) ConversationGet(id uuid.UUID) (*t.Conversation, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if c, ok := a.convs[id]; ok {
		return a.resolve(c), nil
	}
	return nil, nil
}

// ConversationGetP2P loads the direct conversation of an unordered user pair.
func (a *adapter) ConversationGetP2P(u1, u2 uuid.UUID) (*t.Conversation, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if id, ok := a.byPair[t.PairKey(u1, u2)]; ok {
		return a.resolve(a.convs[id]), nil
	}
	return nil, nil
}

// ConversationCreateP2P inserts a direct conversation. The pair-key index is
// the uniqueness backstop: when the key is already taken the existing record
// is returned with created=false.
func (a *adapter) ConversationCreateP2P(conv *t.Conversation) (*t.Conversation, bool, error) {
	if len(conv.Participants) != 2 {
		return nil, false, t.ErrMalformed
	}

	a.lock.Lock()
	defer a.lock.Unlock()

	key := t.PairKey(conv.Participants[0].Id, conv.Participants[1].Id)
	if id, taken := a.byPair[key]; taken {
		return a.resolve(a.convs[id]), false, nil
	}

	a.lastSeq++
	c := &conversation{
		id:        conv.Id,
		isGroup:   conv.IsGroup,
		title:     conv.Title,
		createdAt: conv.CreatedAt,
		seq:       a.lastSeq,
	}
	for _, p := range conv.Participants {
		c.participants = append(c.participants, p.Id)
	}
	a.convs[c.id] = c
	a.byPair[key] = c.id

	return a.resolve(c), true, nil
}

// ConversationsForUser loads all conversations of a user, newest first.
func (a *adapter) ConversationsForUser(uid uuid.UUID) ([]t.Conversation, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	var stored []*conversation
	for _, c := range a.convs {
		for _, p := range c.participants {
			if p == uid {
				stored = append(stored, c)
				break
			}
		}
	}
	sort.Slice(stored, func(i, j int) bool {
		if !stored[i].createdAt.Equal(stored[j].createdAt) {
			return stored[i].createdAt.After(stored[j].createdAt)
		}
		return stored[i].seq > stored[j].seq
	})

	var result []t.Conversation
	for _, c := range stored {
		result = append(result, *a.resolve(c))
	}
	return result, nil
}

// ConversationHasParticipant is a point membership query.
func (a *adapter) ConversationHasParticipant(conv, user uuid.UUID) (bool, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	c, ok := a.convs[conv]
	if !ok {
		return false, nil
	}
	for _, p := range c.participants {
		if p == user {
			return true, nil
		}
	}
	return false, nil
}

// MessageSave persists a new message.
func (a *adapter) MessageSave(msg *t.Message) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if _, ok := a.convs[msg.ConversationId]; !ok {
		return t.ErrConversationNotFound
	}
	a.lastSeq++
	a.msgs[msg.ConversationId] = append(a.msgs[msg.ConversationId], storedMessage{msg: *msg, seq: a.lastSeq})
	return nil
}

// MessageGetAll loads a page of conversation messages, send time descending.
func (a *adapter) MessageGetAll(conv uuid.UUID, page, size int) ([]t.Message, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	stored := make([]storedMessage, len(a.msgs[conv]))
	copy(stored, a.msgs[conv])
	sort.Slice(stored, func(i, j int) bool {
		if !stored[i].msg.SentAt.Equal(stored[j].msg.SentAt) {
			return stored[i].msg.SentAt.After(stored[j].msg.SentAt)
		}
		return stored[i].seq > stored[j].seq
	})

	offset := page * size
	if offset >= len(stored) {
		return nil, nil
	}
	end := offset + size
	if end > len(stored) {
		end = len(stored)
	}

	result := make([]t.Message, 0, end-offset)
	for _, sm := range stored[offset:end] {
		result = append(result, sm.msg)
	}
	return result, nil
}

func init() {
	store.RegisterAdapter(&adapter{})
}
