/******************************************************************************
 *
 *  Description :
 *
 *    Handler of websocket connections. The credential check happens on the
 *    upgrade request, before any application frame is processed: a connection
 *    without a verifiable identity is never established.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/uniconnect/chat/server/auth"
	"github.com/uniconnect/chat/server/logs"
	"github.com/uniconnect/chat/server/store"
	"github.com/uniconnect/chat/server/store/types"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = idleSessionTimeout

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum size of an inbound frame.
	maxMessageSize = 1 << 19 // 512K
)

func (sess *Session) closeWS() {
	sess.ws.Close()
}

func (sess *Session) readLoop() {
	defer func() {
		sess.closeWS()
		sess.cleanUp()
	}()

	sess.ws.SetReadLimit(maxMessageSize)
	sess.ws.SetReadDeadline(time.Now().Add(pongWait))
	sess.ws.SetPongHandler(func(string) error {
		sess.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Read a ClientComMessage.
		_, raw, err := sess.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				logs.Err.Println("ws: readLoop", sess.sid, err)
			}
			return
		}
		statsInc("IncomingMessagesWebsockTotal", 1)
		sess.dispatchRaw(raw)
	}
}

func (sess *Session) sendMessage(msg any) bool {
	if len(sess.send) > sendQueueLimit {
		logs.Err.Println("ws: outbound queue limit exceeded", sess.sid)
		return false
	}

	statsInc("OutgoingMessagesWebsockTotal", 1)
	if err := wsWrite(sess.ws, websocket.TextMessage, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			logs.Err.Println("ws: writeLoop", sess.sid, err)
		}
		return false
	}
	return true
}

func (sess *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		// Break readLoop.
		sess.closeWS()
	}()

	for {
		select {
		case msg, ok := <-sess.send:
			if !ok {
				// Channel closed.
				return
			}
			if !sess.sendMessage(msg) {
				return
			}

		case msg := <-sess.stop:
			// Shutdown requested, don't care if the message is delivered.
			if msg != nil {
				wsWrite(sess.ws, websocket.TextMessage, msg)
			}
			return

		case <-ticker.C:
			if err := wsWrite(sess.ws, websocket.PingMessage, nil); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
					websocket.CloseNormalClosure) {
					logs.Err.Println("ws: writeLoop ping", sess.sid, err)
				}
				return
			}
		}
	}
}

// Writes a message with the given message type (mt) and payload.
func wsWrite(ws *websocket.Conn, mt int, msg any) error {
	var bits []byte
	if msg != nil {
		bits = msg.([]byte)
	} else {
		bits = []byte{}
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(mt, bits)
}

// Handles websocket requests from peers.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any Origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// getHandshakeToken extracts the credential from the upgrade request. The
// token may come in the "Authorization" or the "token" header, with an
// optional "Bearer " prefix.
func getHandshakeToken(req *http.Request) string {
	token := req.Header.Get("Authorization")
	if token == "" {
		token = req.Header.Get("token")
	}
	return token
}

// serveWebSocket verifies the handshake credential, resolves and binds the
// identity, then starts the session. Fails closed: missing, malformed,
// expired or unresolvable credentials terminate the connection with an
// authorization error before any frame is processed.
func serveWebSocket(wrt http.ResponseWriter, req *http.Request) {
	now := types.TimeNow()

	if req.Method != http.MethodGet {
		wrt.WriteHeader(http.StatusMethodNotAllowed)
		logs.Err.Println("ws: Invalid HTTP method", req.Method)
		return
	}

	token := getHandshakeToken(req)
	if token == "" || (!strings.HasPrefix(token, "Bearer ") && len(token) < 10) {
		wrt.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(wrt).Encode(ErrAuthRequired("", "", now))
		logs.Err.Println("ws: missing or malformed credential in handshake")
		return
	}

	rec, err := store.GetAuthHandler("jwt").Authenticate(token)
	if err != nil {
		wrt.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(wrt).Encode(ErrAuthFailed("", "", now))
		logs.Err.Println("ws: credential rejected:", err)
		return
	}

	user, err := store.Users.GetByEmail(rec.Subject)
	if err != nil {
		wrt.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(wrt).Encode(ErrUnknown("", "", now))
		logs.Err.Println("ws: identity lookup failed:", err)
		return
	}
	if user == nil {
		// Valid token for an account which no longer exists.
		wrt.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(wrt).Encode(ErrAuthFailed("", "", now))
		logs.Err.Println("ws: unresolvable identity", rec.Subject)
		return
	}

	ws, err := upgrader.Upgrade(wrt, req, nil)
	if _, ok := err.(websocket.HandshakeError); ok {
		logs.Err.Println("ws: Not a websocket handshake")
		return
	} else if err != nil {
		logs.Err.Println("ws: failed to Upgrade ", err)
		return
	}

	sess, count := globals.sessionStore.NewSession(ws, "")
	// Bind the verified identity before the loops start. Immutable afterwards.
	sess.uid = user.Id
	sess.userName = user.Username
	sess.authLvl = auth.LevelAuth
	sess.remoteAddr = req.RemoteAddr

	logs.Info.Println("ws: session started", sess.sid, sess.uid, sess.remoteAddr, count)

	// Do work in goroutines to return from serveWebSocket() to release file pointers.
	// Otherwise "too many open files" will happen.
	go sess.writeLoop()
	go sess.readLoop()
}
