package main

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniconnect/chat/server/logs"
	"github.com/uniconnect/chat/server/store"
	"github.com/uniconnect/chat/server/store/types"

	_ "github.com/uniconnect/chat/server/auth/jwt"
	_ "github.com/uniconnect/chat/server/db/mem"
)

var testInitOnce sync.Once

const testAuthConf = `{"key": "0123456789abcdef0123456789abcdef", "issuer": "uniconnect-test", "expire_in": 3600}`

// testSetup opens the in-memory store, initializes the jwt scheme and the
// process-scoped hub and session store, then resets all tables.
func testSetup(t *testing.T) {
	t.Helper()

	testInitOnce.Do(func() {
		logs.Init()
		if err := store.Open(`{"use_adapter": "mem"}`); err != nil {
			panic(err)
		}
		if err := store.GetAuthHandler("jwt").Init(testAuthConf); err != nil {
			panic(err)
		}
		globals.sessionStore = NewSessionStore()
		globals.hub = newHub()
	})

	if err := store.InitDb(true); err != nil {
		t.Fatal("failed to reset test store:", err)
	}
}

func seedUser(t *testing.T, username, email string, role types.Role) *types.User {
	t.Helper()

	user := &types.User{Username: username, Email: email, Role: role}
	require.NoError(t, store.Users.Create(user))
	return user
}

func TestFindOrCreateDirect(t *testing.T) {
	testSetup(t)
	alice := seedUser(t, "alice", "alice@example.edu", types.RoleStudent)
	bob := seedUser(t, "bob", "bob@example.edu", types.RoleTeacher)

	conv, err := findOrCreateDirect(alice.Id, bob.Id)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.False(t, conv.IsGroup)
	assert.False(t, conv.CreatedAt.IsZero())
	require.Len(t, conv.Participants, 2)
	assert.True(t, conv.HasParticipant(alice.Id))
	assert.True(t, conv.HasParticipant(bob.Id))

	// The second call, in either direction, returns the same conversation.
	again, err := findOrCreateDirect(bob.Id, alice.Id)
	require.NoError(t, err)
	assert.Equal(t, conv.Id, again.Id)
}

func TestFindOrCreateDirectConcurrent(t *testing.T) {
	testSetup(t)
	alice := seedUser(t, "alice", "alice@example.edu", types.RoleStudent)
	bob := seedUser(t, "bob", "bob@example.edu", types.RoleTeacher)

	const callers = 16
	ids := make([]uuid.UUID, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			requester, target := alice.Id, bob.Id
			if n%2 == 1 {
				requester, target = target, requester
			}
			conv, err := findOrCreateDirect(requester, target)
			if err != nil {
				errs[n] = err
				return
			}
			ids[n] = conv.Id
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	// Exactly one conversation exists for the pair.
	convs, err := listConversations(alice.Id)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, ids[0], convs[0].Id)
}

func TestFindOrCreateDirectSelf(t *testing.T) {
	testSetup(t)
	alice := seedUser(t, "alice", "alice@example.edu", types.RoleStudent)

	_, err := findOrCreateDirect(alice.Id, alice.Id)
	assert.ErrorIs(t, err, types.ErrMalformed)
}

func TestFindOrCreateDirectIneligibleRoles(t *testing.T) {
	testSetup(t)
	alice := seedUser(t, "alice", "alice@example.edu", types.RoleStudent)
	carol := seedUser(t, "carol", "carol@example.edu", types.RoleStudent)
	tom := seedUser(t, "tom", "tom@example.edu", types.RoleTeacher)
	tessa := seedUser(t, "tessa", "tessa@example.edu", types.RoleTeacher)

	_, err := findOrCreateDirect(alice.Id, carol.Id)
	assert.ErrorIs(t, err, types.ErrPermissionDenied)

	_, err = findOrCreateDirect(tom.Id, tessa.Id)
	assert.ErrorIs(t, err, types.ErrPermissionDenied)

	// Nothing was created.
	for _, uid := range []uuid.UUID{alice.Id, carol.Id, tom.Id, tessa.Id} {
		convs, err := listConversations(uid)
		require.NoError(t, err)
		assert.Empty(t, convs)
	}
}

func TestFindOrCreateDirectUnknownUser(t *testing.T) {
	testSetup(t)
	alice := seedUser(t, "alice", "alice@example.edu", types.RoleStudent)

	_, err := findOrCreateDirect(alice.Id, uuid.New())
	assert.ErrorIs(t, err, types.ErrUserNotFound)
}

func TestSaveMessage(t *testing.T) {
	testSetup(t)
	alice := seedUser(t, "alice", "alice@example.edu", types.RoleStudent)
	bob := seedUser(t, "bob", "bob@example.edu", types.RoleTeacher)
	conv, err := findOrCreateDirect(alice.Id, bob.Id)
	require.NoError(t, err)

	msg, err := saveMessage(alice.Id, conv.Id, "hello", "")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, msg.Id)
	assert.Equal(t, conv.Id, msg.ConversationId)
	assert.Equal(t, alice.Id, msg.SenderId)
	assert.Equal(t, types.MessageText, msg.Type, "empty type must default to text")
	assert.Equal(t, types.StatusSent, msg.Status)
	assert.False(t, msg.SentAt.IsZero())

	// Exactly one message persisted.
	msgs, err := conversationMessages(bob.Id, conv.Id, 0, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.Id, msgs[0].Id)
}

func TestSaveMessageNonParticipant(t *testing.T) {
	testSetup(t)
	alice := seedUser(t, "alice", "alice@example.edu", types.RoleStudent)
	bob := seedUser(t, "bob", "bob@example.edu", types.RoleTeacher)
	carol := seedUser(t, "carol", "carol@example.edu", types.RoleStudent)
	conv, err := findOrCreateDirect(alice.Id, bob.Id)
	require.NoError(t, err)

	_, err = saveMessage(carol.Id, conv.Id, "hi there", types.MessageText)
	assert.ErrorIs(t, err, types.ErrNotParticipant)

	// Nothing was persisted.
	msgs, err := conversationMessages(alice.Id, conv.Id, 0, 20)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSaveMessageUnknownConversation(t *testing.T) {
	testSetup(t)
	alice := seedUser(t, "alice", "alice@example.edu", types.RoleStudent)

	_, err := saveMessage(alice.Id, uuid.New(), "hello", types.MessageText)
	assert.ErrorIs(t, err, types.ErrConversationNotFound)
}

func TestConversationMessagesPaging(t *testing.T) {
	testSetup(t)
	alice := seedUser(t, "alice", "alice@example.edu", types.RoleStudent)
	bob := seedUser(t, "bob", "bob@example.edu", types.RoleTeacher)
	conv, err := findOrCreateDirect(alice.Id, bob.Id)
	require.NoError(t, err)

	for i := 1; i <= 25; i++ {
		_, err = saveMessage(alice.Id, conv.Id, fmt.Sprintf("msg-%02d", i), types.MessageText)
		require.NoError(t, err)
	}

	// Page 0 holds the 20 most recent, newest first.
	page0, err := conversationMessages(bob.Id, conv.Id, 0, 20)
	require.NoError(t, err)
	require.Len(t, page0, 20)
	assert.Equal(t, "msg-25", page0[0].Content)
	assert.Equal(t, "msg-06", page0[19].Content)
	for i := 1; i < len(page0); i++ {
		assert.False(t, page0[i].SentAt.After(page0[i-1].SentAt),
			"messages must be ordered by send time descending")
	}

	// Page 1 holds the remaining 5.
	page1, err := conversationMessages(bob.Id, conv.Id, 1, 20)
	require.NoError(t, err)
	require.Len(t, page1, 5)
	assert.Equal(t, "msg-05", page1[0].Content)
	assert.Equal(t, "msg-01", page1[4].Content)
}

func TestConversationMessagesValidation(t *testing.T) {
	testSetup(t)
	alice := seedUser(t, "alice", "alice@example.edu", types.RoleStudent)
	bob := seedUser(t, "bob", "bob@example.edu", types.RoleTeacher)
	conv, err := findOrCreateDirect(alice.Id, bob.Id)
	require.NoError(t, err)

	_, err = conversationMessages(alice.Id, conv.Id, -1, 20)
	assert.ErrorIs(t, err, types.ErrMalformed)

	_, err = conversationMessages(alice.Id, conv.Id, 0, 0)
	assert.ErrorIs(t, err, types.ErrMalformed)
}

func TestConversationMessagesNonParticipant(t *testing.T) {
	testSetup(t)
	alice := seedUser(t, "alice", "alice@example.edu", types.RoleStudent)
	bob := seedUser(t, "bob", "bob@example.edu", types.RoleTeacher)
	carol := seedUser(t, "carol", "carol@example.edu", types.RoleStudent)
	conv, err := findOrCreateDirect(alice.Id, bob.Id)
	require.NoError(t, err)

	_, err = conversationMessages(carol.Id, conv.Id, 0, 20)
	assert.ErrorIs(t, err, types.ErrNotParticipant)
}

func TestListConversationsOrder(t *testing.T) {
	testSetup(t)
	alice := seedUser(t, "alice", "alice@example.edu", types.RoleStudent)
	t1 := seedUser(t, "tom", "tom@example.edu", types.RoleTeacher)
	t2 := seedUser(t, "tessa", "tessa@example.edu", types.RoleTeacher)
	t3 := seedUser(t, "tim", "tim@example.edu", types.RoleTeacher)

	c1, err := findOrCreateDirect(alice.Id, t1.Id)
	require.NoError(t, err)
	c2, err := findOrCreateDirect(alice.Id, t2.Id)
	require.NoError(t, err)
	c3, err := findOrCreateDirect(alice.Id, t3.Id)
	require.NoError(t, err)

	convs, err := listConversations(alice.Id)
	require.NoError(t, err)
	require.Len(t, convs, 3)
	assert.Equal(t, c3.Id, convs[0].Id, "most recently created first")
	assert.Equal(t, c2.Id, convs[1].Id)
	assert.Equal(t, c1.Id, convs[2].Id)

	// Participants are eagerly resolved.
	for _, conv := range convs {
		assert.Len(t, conv.Participants, 2)
	}
}
