/******************************************************************************
 *
 *  Description :
 *
 *    The hub is the broadcast broker: it owns the topic registry and routes
 *    published messages to every session currently subscribed to the topic.
 *    All topic state is confined to the hub's goroutine.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"

	"github.com/uniconnect/chat/server/logs"
)

// Request to hub to subscribe session to topic.
type sessionJoin struct {
	// Topic to attach to.
	topic string
	// Message containing request details. Could be nil on internal joins.
	pkt *ClientComMessage
	// Session to attach to the topic.
	sess *Session
}

// Session wants to leave the topic.
type sessionLeave struct {
	// Topic to detach from.
	topic string
	// Message containing request details. Nil when the session is dropped.
	pkt *ClientComMessage
	// Session which initiated the request.
	sess *Session
}

// Hub is the core structure which holds topics.
type Hub struct {
	// Topic subscribers, indexed by topic name. Accessed only by the run
	// goroutine.
	topics map[string]map[*Session]bool

	// Channel for routing messages to topic subscribers, buffered at 4096.
	route chan *ServerComMessage

	// Subscribe session to topic, possibly creating a new topic, buffered at 256.
	join chan *sessionJoin

	// Detach session from topic, buffered at 256.
	leave chan *sessionLeave

	// Request to shutdown, unbuffered.
	shutdown chan chan<- bool
}

func newHub() *Hub {
	var h = &Hub{
		topics:   make(map[string]map[*Session]bool),
		// This needs to be buffered - the hub must not block publishers.
		route:    make(chan *ServerComMessage, 4096),
		join:     make(chan *sessionJoin, 256),
		leave:    make(chan *sessionLeave, 256),
		shutdown: make(chan chan<- bool),
	}

	statsRegisterInt("LiveTopics")
	statsRegisterInt("TotalTopics")
	statsRegisterInt("SubscriptionsDeniedTotal")
	statsRegisterInt("ConversationsCreatedTotal")
	statsRegisterInt("MessagesPersistedTotal")
	statsRegisterInt("MessagesDeliveredTotal")

	go h.run()

	return h
}

func (h *Hub) run() {
	for {
		select {
		case join := <-h.join:
			// The session has already been authorized for this topic.
			subscribers := h.topics[join.topic]
			if subscribers == nil {
				subscribers = make(map[*Session]bool)
				h.topics[join.topic] = subscribers
				statsInc("LiveTopics", 1)
				statsInc("TotalTopics", 1)
			}
			subscribers[join.sess] = true
			join.sess.addSub(join.topic, &Subscription{broadcast: h.route, done: h.leave})
			if join.pkt != nil {
				join.sess.queueOut(NoErr(join.pkt.Sub.Id, join.topic, join.pkt.timestamp))
			}

		case leave := <-h.leave:
			if subscribers := h.topics[leave.topic]; subscribers != nil {
				delete(subscribers, leave.sess)
				if len(subscribers) == 0 {
					delete(h.topics, leave.topic)
					statsInc("LiveTopics", -1)
				}
			}
			leave.sess.delSub(leave.topic)
			if leave.pkt != nil {
				leave.sess.queueOut(NoErr(leave.pkt.Leave.Id, leave.topic, leave.pkt.timestamp))
			}

		case msg := <-h.route:
			// Broadcast primitive: zero-to-many current subscribers, no
			// acknowledgements, no retries, no offline queue.
			subscribers := h.topics[msg.RcptTo]
			if len(subscribers) == 0 {
				continue
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logs.Err.Println("hub: failed to serialize message for", msg.RcptTo, err)
				continue
			}
			for sess := range subscribers {
				if sess.queueOutBytes(data) {
					statsInc("MessagesDeliveredTotal", 1)
				}
			}

		case done := <-h.shutdown:
			logs.Info.Printf("Hub shut down, topics terminated: %d", len(h.topics))
			h.topics = nil
			done <- true
			return
		}
	}
}
