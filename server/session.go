/******************************************************************************
 *
 *  Description :
 *
 *    Handling of user sessions/connections. One user may have multiple
 *    sessions. A session holds the identity bound at handshake time and the
 *    set of topic subscriptions; every subscription request is authorized
 *    against conversation membership before it reaches the hub.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/uniconnect/chat/server/auth"
	"github.com/uniconnect/chat/server/logs"
	"github.com/uniconnect/chat/server/store"
	"github.com/uniconnect/chat/server/store/types"
)

// Maximum number of messages allowed in the session's outbound queue.
const sendQueueLimit = 128

// Session represents a single websocket connection.
type Session struct {
	// Websocket connection.
	ws *websocket.Conn

	// IP address of the client.
	remoteAddr string

	// ID of the user bound to this session at handshake time, uuid.Nil until then.
	uid uuid.UUID

	// Display name of the bound user.
	userName string

	// Authentication level - LevelNone until the handshake binds an identity.
	// Set exactly once, read-only afterwards.
	authLvl auth.Level

	// Time when the session received any packet from client.
	lastAction time.Time

	// Outbound messages, buffered. The content must be serialized.
	send chan any

	// Channel for shutting down the session, buffer 1.
	// Content in the same format as for 'send': the final frame to deliver.
	stop chan any

	// Map of topic subscriptions, indexed by topic name.
	// Don't access directly. Use getters/setters.
	subs map[string]*Subscription
	// Mutex for subs access: both hub and network goroutines access subs
	// concurrently.
	subsLock sync.RWMutex

	// Session ID.
	sid string
}

// Subscription is a mapper of sessions to topics.
type Subscription struct {
	// Channel for routing messages to the topic, copy of Hub.route.
	broadcast chan<- *ServerComMessage

	// Session sends a signal here when it is unsubscribed, copy of Hub.leave.
	done chan<- *sessionLeave
}

func (s *Session) addSub(topic string, sub *Subscription) {
	s.subsLock.Lock()
	defer s.subsLock.Unlock()

	s.subs[topic] = sub
}

func (s *Session) getSub(topic string) *Subscription {
	s.subsLock.RLock()
	defer s.subsLock.RUnlock()

	return s.subs[topic]
}

func (s *Session) delSub(topic string) {
	s.subsLock.Lock()
	defer s.subsLock.Unlock()

	delete(s.subs, topic)
}

func (s *Session) countSub() int {
	s.subsLock.RLock()
	defer s.subsLock.RUnlock()

	return len(s.subs)
}

// unsubAll deregisters the session from all topics it is attached to.
func (s *Session) unsubAll() {
	s.subsLock.RLock()
	defer s.subsLock.RUnlock()

	for topic, sub := range s.subs {
		sub.done <- &sessionLeave{topic: topic, sess: s}
	}
}

// queueOut attempts to send a ServerComMessage to the session; if the send
// buffer is full, the message is dropped after a 50 usec timeout.
func (s *Session) queueOut(msg *ServerComMessage) bool {
	if s == nil {
		return true
	}

	select {
	case s.send <- s.serialize(msg):
	case <-time.After(time.Microsecond * 50):
		logs.Err.Println("s.queueOut: timeout", s.sid)
		return false
	}
	return true
}

// queueOutBytes attempts to send an already serialized message.
func (s *Session) queueOutBytes(data []byte) bool {
	if s == nil {
		return true
	}

	select {
	case s.send <- data:
	case <-time.After(time.Microsecond * 50):
		logs.Err.Println("s.queueOutBytes: timeout", s.sid)
		return false
	}
	return true
}

// stopSession delivers the final frame and terminates the session. Used for
// fail-closed rejections which must close the connection.
func (s *Session) stopSession(msg *ServerComMessage) {
	select {
	case s.stop <- s.serialize(msg):
	default:
		// Stop is already pending.
	}
}

func (s *Session) serialize(msg *ServerComMessage) any {
	out, _ := json.Marshal(msg)
	return out
}

// cleanUp is called when the session is terminated: deregister from the
// session store, detach from all topics.
func (s *Session) cleanUp() {
	globals.sessionStore.Delete(s)
	s.unsubAll()
}

// dispatchRaw parses a raw frame into a ClientComMessage and dispatches it.
func (s *Session) dispatchRaw(raw []byte) {
	var msg ClientComMessage

	if err := json.Unmarshal(raw, &msg); err != nil {
		logs.Warn.Println("s.dispatch: malformed frame", s.sid, err)
		s.queueOut(ErrMalformed("", "", types.TimeNow()))
		return
	}

	s.dispatch(&msg)
}

func (s *Session) dispatch(msg *ClientComMessage) {
	s.lastAction = types.TimeNow()
	msg.timestamp = s.lastAction

	switch {
	case msg.Sub != nil:
		s.subscribe(msg)
	case msg.Leave != nil:
		s.leave(msg)
	case msg.Send != nil:
		s.publish(msg)
	case msg.Typing != nil:
		s.typing(msg)
	default:
		// Unknown frame.
		s.queueOut(ErrMalformed("", "", msg.timestamp))
	}
}

// subscribe authorizes a subscription request and passes it to the hub.
// Conversation topics require the bound identity to be a participant; the
// check is a storage point query, never a participant collection load.
// Rejections close the connection: the client gets an error frame, then the
// session is terminated.
func (s *Session) subscribe(msg *ClientComMessage) {
	topic := msg.Sub.Topic
	if topic == "" {
		s.queueOut(ErrMalformed(msg.Sub.Id, "", msg.timestamp))
		return
	}

	if s.authLvl != auth.LevelAuth {
		// Unreachable when the handshake did its job; enforced anyway.
		logs.Err.Println("s.subscribe: no identity bound", s.sid)
		s.stopSession(ErrAuthRequired(msg.Sub.Id, topic, msg.timestamp))
		return
	}

	if strings.HasPrefix(topic, convTopicPrefix) {
		convId, ok := parseConversationTopic(topic)
		if !ok {
			logs.Warn.Println("s.subscribe: invalid destination", topic, s.sid)
			s.stopSession(ErrInvalidDestination(msg.Sub.Id, topic, msg.timestamp))
			return
		}

		allowed, err := store.Conversations.HasParticipant(convId, s.uid)
		if err != nil {
			logs.Err.Println("s.subscribe: membership check failed", s.sid, err)
			s.queueOut(ErrUnknown(msg.Sub.Id, topic, msg.timestamp))
			return
		}
		if !allowed {
			statsInc("SubscriptionsDeniedTotal", 1)
			logs.Warn.Println("s.subscribe: not a participant", s.uid, topic, s.sid)
			s.stopSession(ErrPermissionDenied(msg.Sub.Id, topic, msg.timestamp))
			return
		}
	}

	if s.getSub(topic) != nil {
		// Already subscribed.
		s.queueOut(NoErr(msg.Sub.Id, topic, msg.timestamp))
		return
	}

	globals.hub.join <- &sessionJoin{topic: topic, pkt: msg, sess: s}
}

// leave detaches the session from a topic.
func (s *Session) leave(msg *ClientComMessage) {
	topic := msg.Leave.Topic
	sub := s.getSub(topic)
	if sub == nil {
		s.queueOut(ErrNotFound(msg.Leave.Id, topic, msg.timestamp))
		return
	}

	sub.done <- &sessionLeave{topic: topic, pkt: msg, sess: s}
}

// publish persists an inbound message and, only after the write succeeded,
// fans it out to the conversation topic.
func (s *Session) publish(msg *ClientComMessage) {
	if s.authLvl != auth.LevelAuth {
		s.stopSession(ErrAuthRequired(msg.Send.Id, "", msg.timestamp))
		return
	}

	convId, err := uuid.Parse(msg.Send.ConversationId)
	if err != nil {
		s.queueOut(ErrMalformed(msg.Send.Id, "", msg.timestamp))
		return
	}
	topic := conversationTopic(convId)

	if strings.TrimSpace(msg.Send.Content) == "" {
		s.queueOut(ErrMalformed(msg.Send.Id, topic, msg.timestamp))
		return
	}

	msgType := types.MessageType(msg.Send.Type)
	switch msgType {
	case "", types.MessageText, types.MessageImage, types.MessageFile:
	default:
		s.queueOut(ErrMalformed(msg.Send.Id, topic, msg.timestamp))
		return
	}

	saved, err := saveMessage(s.uid, convId, msg.Send.Content, msgType)
	if err != nil {
		logs.Warn.Println("s.publish: rejected", s.uid, topic, s.sid, err)
		s.queueOut(storeErrorResponse(err, msg.Send.Id, topic, msg.timestamp))
		return
	}

	s.queueOut(NoErrCreated(msg.Send.Id, topic, msg.timestamp))
	globals.hub.route <- &ServerComMessage{Data: dataPayload(saved), RcptTo: topic}
}

// typing relays an ephemeral typing signal to the conversation topic.
// Nothing is persisted and no acknowledgement is sent. The signal is relayed
// without a membership query; receivers are still gated by subscription
// authorization.
func (s *Session) typing(msg *ClientComMessage) {
	if s.authLvl != auth.LevelAuth {
		s.stopSession(ErrAuthRequired("", "", msg.timestamp))
		return
	}

	convId, err := uuid.Parse(msg.Typing.ConversationId)
	if err != nil {
		s.queueOut(ErrMalformed("", "", msg.timestamp))
		return
	}

	globals.hub.route <- &ServerComMessage{
		Typing: &MsgServerTyping{ConversationId: convId, TypingUserId: s.uid},
		RcptTo: conversationTopic(convId),
	}
}
