/******************************************************************************
 *
 *  Description :
 *
 *    Management of the live session registry.
 *
 *****************************************************************************/

package main

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/uniconnect/chat/server/auth"
	"github.com/uniconnect/chat/server/logs"
	"github.com/uniconnect/chat/server/store"
	"github.com/uniconnect/chat/server/store/types"
)

// SessionStore holds all live sessions indexed by session ID.
type SessionStore struct {
	lock sync.Mutex

	sessCache map[string]*Session
}

// NewSession creates a new session and saves it to the session store.
func (ss *SessionStore) NewSession(conn *websocket.Conn, sid string) (*Session, int) {
	var s Session

	s.sid = sid
	s.ws = conn
	s.authLvl = auth.LevelNone
	s.subs = make(map[string]*Subscription)
	s.send = make(chan any, 256) // buffered
	s.stop = make(chan any, 1)   // Buffered by 1 just to make it non-blocking

	s.lastAction = types.TimeNow()
	if s.sid == "" {
		s.sid = store.GetUidString()
	}

	ss.lock.Lock()
	ss.sessCache[s.sid] = &s
	count := len(ss.sessCache)
	ss.lock.Unlock()

	return &s, count
}

// Get fetches a session from the store by session ID.
func (ss *SessionStore) Get(sid string) *Session {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	return ss.sessCache[sid]
}

// Delete removes a session from the store.
func (ss *SessionStore) Delete(s *Session) int {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	delete(ss.sessCache, s.sid)
	return len(ss.sessCache)
}

// Shutdown terminates all sessions.
func (ss *SessionStore) Shutdown() {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	shutdown := NoErrShutdown(time.Now().UTC().Round(time.Millisecond))
	for _, s := range ss.sessCache {
		if s.stop != nil {
			s.stopSession(shutdown)
		}
	}

	logs.Info.Printf("SessionStore shut down, sessions terminated: %d", len(ss.sessCache))
}

// NewSessionStore initializes a session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessCache: make(map[string]*Session),
	}
}
