/******************************************************************************
 *
 *  Description :
 *
 *    Conversation management and message dispatch: find-or-create of direct
 *    conversations, membership-gated sends and history, typing relay.
 *
 *****************************************************************************/

package main

import (
	"github.com/google/uuid"

	"github.com/uniconnect/chat/server/logs"
	"github.com/uniconnect/chat/server/store"
	"github.com/uniconnect/chat/server/store/types"
)

const (
	defaultHistoryPage = 0
	defaultHistorySize = 20
)

// allowedRolePair reports whether the two roles may open a direct
// conversation: exactly one student and one teacher, in either order.
func allowedRolePair(r1, r2 types.Role) bool {
	return (r1 == types.RoleStudent && r2 == types.RoleTeacher) ||
		(r1 == types.RoleTeacher && r2 == types.RoleStudent)
}

// findOrCreateDirect returns the direct conversation between requester and
// target, creating it if absent. Idempotent under concurrency: the storage
// layer's unique pair key decides the winner, the loser gets the winner's
// record back.
func findOrCreateDirect(requester, target uuid.UUID) (*types.Conversation, error) {
	if requester == target {
		return nil, types.ErrMalformed
	}

	u1, err := store.Users.Get(requester)
	if err != nil {
		return nil, err
	}
	if u1 == nil {
		return nil, types.ErrUserNotFound
	}
	u2, err := store.Users.Get(target)
	if err != nil {
		return nil, err
	}
	if u2 == nil {
		return nil, types.ErrUserNotFound
	}

	if !allowedRolePair(u1.Role, u2.Role) {
		return nil, types.ErrPermissionDenied
	}

	if conv, err := store.Conversations.GetP2P(u1.Id, u2.Id); err != nil {
		return nil, err
	} else if conv != nil {
		return conv, nil
	}

	conv, created, err := store.Conversations.CreateP2P(&types.Conversation{
		Participants: []types.User{*u1, *u2},
	})
	if err != nil {
		return nil, err
	}
	if created {
		statsInc("ConversationsCreatedTotal", 1)
		logs.Info.Println("chat: conversation created", conv.Id, "pair", types.PairKey(u1.Id, u2.Id))
	}
	return conv, nil
}

// listConversations returns all conversations the user participates in,
// newest first, participants resolved.
func listConversations(uid uuid.UUID) ([]types.Conversation, error) {
	return store.Conversations.ForUser(uid)
}

// saveMessage validates and persists an inbound message. Order matters:
// existence first, then the membership point query, then the insert. The
// caller publishes the returned message only after this succeeds.
func saveMessage(sender, conversationId uuid.UUID, content string, msgType types.MessageType) (*types.Message, error) {
	conv, err := store.Conversations.Get(conversationId)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, types.ErrConversationNotFound
	}

	participant, err := store.Conversations.HasParticipant(conversationId, sender)
	if err != nil {
		return nil, err
	}
	if !participant {
		return nil, types.ErrNotParticipant
	}

	msg, err := store.Messages.Save(&types.Message{
		ConversationId: conversationId,
		SenderId:       sender,
		Type:           msgType,
		Content:        content,
	})
	if err != nil {
		return nil, err
	}
	statsInc("MessagesPersistedTotal", 1)
	return msg, nil
}

// conversationMessages returns one page of conversation history, send time
// descending, gated by the same membership check as sending.
func conversationMessages(requester, conversationId uuid.UUID, page, size int) ([]types.Message, error) {
	if page < 0 || size < 1 {
		return nil, types.ErrMalformed
	}

	conv, err := store.Conversations.Get(conversationId)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, types.ErrConversationNotFound
	}

	participant, err := store.Conversations.HasParticipant(conversationId, requester)
	if err != nil {
		return nil, err
	}
	if !participant {
		return nil, types.ErrNotParticipant
	}

	return store.Messages.GetAll(conversationId, page, size)
}

// dataPayload converts a stored message to its published representation.
func dataPayload(msg *types.Message) *MsgServerData {
	return &MsgServerData{
		Id:             msg.Id,
		ConversationId: msg.ConversationId,
		SenderId:       msg.SenderId,
		Content:        msg.Content,
		Type:           msg.Type,
		AttachmentUrl:  msg.AttachmentUrl,
		Status:         msg.Status,
		SentAt:         msg.SentAt,
	}
}
