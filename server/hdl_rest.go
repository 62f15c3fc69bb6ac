/******************************************************************************
 *
 *  Description :
 *
 *    REST surface of the chat subsystem: open/find a direct conversation,
 *    list the caller's conversations, fetch paginated message history.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"

	"github.com/uniconnect/chat/server/logs"
	"github.com/uniconnect/chat/server/store"
	"github.com/uniconnect/chat/server/store/types"
)

// participantResponse is the public view of a conversation participant.
type participantResponse struct {
	Id       uuid.UUID  `json:"id"`
	Username string     `json:"username"`
	Email    string     `json:"email"`
	Role     types.Role `json:"role"`
}

// conversationResponse is the public view of a conversation.
type conversationResponse struct {
	Id           uuid.UUID             `json:"id"`
	IsGroup      bool                  `json:"isGroup"`
	Title        string                `json:"title,omitempty"`
	Participants []participantResponse `json:"participants"`
	CreatedAt    string                `json:"createdAt"`
}

// pageResponse is one page of message history.
type pageResponse struct {
	Content []*MsgServerData `json:"content"`
	Page    int              `json:"page"`
	Size    int              `json:"size"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toConversationResponse(c *types.Conversation) *conversationResponse {
	resp := &conversationResponse{
		Id:        c.Id,
		IsGroup:   c.IsGroup,
		Title:     c.Title,
		CreatedAt: c.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
	for _, p := range c.Participants {
		resp.Participants = append(resp.Participants, participantResponse{
			Id:       p.Id,
			Username: p.Username,
			Email:    p.Email,
			Role:     p.Role,
		})
	}
	return resp
}

// chatAPIHandler wraps the chat REST endpoints with CORS and access logging.
func chatAPIHandler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)
	return handlers.CombinedLoggingHandler(os.Stdout, cors(http.HandlerFunc(serveChatAPI)))
}

// authenticateRequest verifies the bearer credential of a REST request and
// resolves the account.
func authenticateRequest(req *http.Request) (*types.User, error) {
	token := getHandshakeToken(req)
	if token == "" {
		return nil, types.ErrFailed
	}

	rec, err := store.GetAuthHandler("jwt").Authenticate(token)
	if err != nil {
		return nil, err
	}

	user, err := store.Users.GetByEmail(rec.Subject)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, types.ErrFailed
	}
	return user, nil
}

// writeJSON serializes the response body.
func writeJSON(wrt http.ResponseWriter, code int, body any) {
	wrt.Header().Set("Content-Type", "application/json; charset=utf-8")
	wrt.WriteHeader(code)
	json.NewEncoder(wrt).Encode(body)
}

// writeError maps a service error to an HTTP status and a stable message.
func writeError(wrt http.ResponseWriter, err error) {
	var code int
	switch err {
	case types.ErrMalformed:
		code = http.StatusBadRequest
	case types.ErrFailed, types.ErrExpired:
		code = http.StatusUnauthorized
	case types.ErrPermissionDenied, types.ErrNotParticipant:
		code = http.StatusForbidden
	case types.ErrNotFound, types.ErrUserNotFound, types.ErrConversationNotFound:
		code = http.StatusNotFound
	default:
		logs.Err.Println("api: internal error:", err)
		writeJSON(wrt, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(wrt, code, errorResponse{Error: err.Error()})
}

// serveChatAPI dispatches /api/chat/... requests:
//
//	POST /api/chat/conversations/{otherUserId}
//	GET  /api/chat/conversations
//	GET  /api/chat/conversations/{id}/messages?page=0&size=20
func serveChatAPI(wrt http.ResponseWriter, req *http.Request) {
	user, err := authenticateRequest(req)
	if err != nil {
		writeError(wrt, err)
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(req.URL.Path, "/api/chat/"), "/"), "/")
	if len(parts) == 0 || parts[0] != "conversations" {
		writeJSON(wrt, http.StatusNotFound, errorResponse{Error: "not found"})
		return
	}

	switch {
	case len(parts) == 1 && req.Method == http.MethodGet:
		serveListConversations(wrt, user)

	case len(parts) == 2 && req.Method == http.MethodPost:
		serveOpenConversation(wrt, user, parts[1])

	case len(parts) == 3 && parts[2] == "messages" && req.Method == http.MethodGet:
		serveMessageHistory(wrt, req, user, parts[1])

	default:
		writeJSON(wrt, http.StatusNotFound, errorResponse{Error: "not found"})
	}
}

// serveOpenConversation finds or creates the direct conversation between the
// caller and the target user.
func serveOpenConversation(wrt http.ResponseWriter, user *types.User, rawTarget string) {
	target, err := uuid.Parse(rawTarget)
	if err != nil {
		writeError(wrt, types.ErrMalformed)
		return
	}

	conv, err := findOrCreateDirect(user.Id, target)
	if err != nil {
		writeError(wrt, err)
		return
	}
	writeJSON(wrt, http.StatusOK, toConversationResponse(conv))
}

// serveListConversations lists the caller's conversations, newest first.
func serveListConversations(wrt http.ResponseWriter, user *types.User) {
	convs, err := listConversations(user.Id)
	if err != nil {
		writeError(wrt, err)
		return
	}

	result := make([]*conversationResponse, 0, len(convs))
	for i := range convs {
		result = append(result, toConversationResponse(&convs[i]))
	}
	writeJSON(wrt, http.StatusOK, result)
}

// serveMessageHistory returns one page of conversation history.
func serveMessageHistory(wrt http.ResponseWriter, req *http.Request, user *types.User, rawConv string) {
	convId, err := uuid.Parse(rawConv)
	if err != nil {
		writeError(wrt, types.ErrMalformed)
		return
	}

	page, size := defaultHistoryPage, defaultHistorySize
	query := req.URL.Query()
	if raw := query.Get("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil {
			writeError(wrt, types.ErrMalformed)
			return
		}
	}
	if raw := query.Get("size"); raw != "" {
		if size, err = strconv.Atoi(raw); err != nil {
			writeError(wrt, types.ErrMalformed)
			return
		}
	}

	msgs, err := conversationMessages(user.Id, convId, page, size)
	if err != nil {
		writeError(wrt, err)
		return
	}

	content := make([]*MsgServerData, 0, len(msgs))
	for i := range msgs {
		content = append(content, dataPayload(&msgs[i]))
	}
	writeJSON(wrt, http.StatusOK, pageResponse{Content: content, Page: page, Size: size})
}
