package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniconnect/chat/server/store/types"
)

func doAPIRequest(t *testing.T, srv *httptest.Server, method, path, token string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestAPIAuthentication(t *testing.T) {
	testSetup(t)
	srv := httptest.NewServer(chatAPIHandler())
	defer srv.Close()

	// No credential.
	resp, _ := doAPIRequest(t, srv, http.MethodGet, "/api/chat/conversations", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Expired credential.
	alice := seedUser(t, "alice", "alice@example.edu", types.RoleStudent)
	expired := issueToken(t, alice.Email, time.Now().Add(-time.Hour))
	resp, _ = doAPIRequest(t, srv, http.MethodGet, "/api/chat/conversations", expired)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPIOpenConversation(t *testing.T) {
	testSetup(t)
	alice := seedUser(t, "alice", "alice@example.edu", types.RoleStudent)
	bob := seedUser(t, "bob", "bob@example.edu", types.RoleTeacher)
	token := issueToken(t, alice.Email, time.Time{})

	srv := httptest.NewServer(chatAPIHandler())
	defer srv.Close()

	resp, body := doAPIRequest(t, srv, http.MethodPost, "/api/chat/conversations/"+bob.Id.String(), token)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var conv conversationResponse
	require.NoError(t, json.Unmarshal(body, &conv))
	assert.False(t, conv.IsGroup)
	assert.Len(t, conv.Participants, 2)

	// The same call again resolves to the same conversation.
	resp, body = doAPIRequest(t, srv, http.MethodPost, "/api/chat/conversations/"+bob.Id.String(), token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var again conversationResponse
	require.NoError(t, json.Unmarshal(body, &again))
	assert.Equal(t, conv.Id, again.Id)

	// Malformed target id.
	resp, _ = doAPIRequest(t, srv, http.MethodPost, "/api/chat/conversations/not-a-uuid", token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown target.
	resp, _ = doAPIRequest(t, srv, http.MethodPost, "/api/chat/conversations/"+uuid.NewString(), token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Ineligible pairing.
	carol := seedUser(t, "carol", "carol@example.edu", types.RoleStudent)
	resp, _ = doAPIRequest(t, srv, http.MethodPost, "/api/chat/conversations/"+carol.Id.String(), token)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAPIListConversations(t *testing.T) {
	testSetup(t)
	alice := seedUser(t, "alice", "alice@example.edu", types.RoleStudent)
	bob := seedUser(t, "bob", "bob@example.edu", types.RoleTeacher)
	_, err := findOrCreateDirect(alice.Id, bob.Id)
	require.NoError(t, err)
	token := issueToken(t, alice.Email, time.Time{})

	srv := httptest.NewServer(chatAPIHandler())
	defer srv.Close()

	resp, body := doAPIRequest(t, srv, http.MethodGet, "/api/chat/conversations", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var convs []conversationResponse
	require.NoError(t, json.Unmarshal(body, &convs))
	require.Len(t, convs, 1)
	assert.Len(t, convs[0].Participants, 2)
}

func TestAPIMessageHistory(t *testing.T) {
	testSetup(t)
	alice := seedUser(t, "alice", "alice@example.edu", types.RoleStudent)
	bob := seedUser(t, "bob", "bob@example.edu", types.RoleTeacher)
	carol := seedUser(t, "carol", "carol@example.edu", types.RoleStudent)
	conv, err := findOrCreateDirect(alice.Id, bob.Id)
	require.NoError(t, err)
	for i := 1; i <= 25; i++ {
		_, err = saveMessage(alice.Id, conv.Id, fmt.Sprintf("msg-%02d", i), types.MessageText)
		require.NoError(t, err)
	}

	srv := httptest.NewServer(chatAPIHandler())
	defer srv.Close()

	base := "/api/chat/conversations/" + conv.Id.String() + "/messages"
	token := issueToken(t, bob.Email, time.Time{})

	// Default page and size.
	resp, body := doAPIRequest(t, srv, http.MethodGet, base, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page pageResponse
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Equal(t, 0, page.Page)
	assert.Equal(t, 20, page.Size)
	require.Len(t, page.Content, 20)
	assert.Equal(t, "msg-25", page.Content[0].Content)

	// Explicit second page.
	resp, body = doAPIRequest(t, srv, http.MethodGet, base+"?page=1&size=20", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Content, 5)
	assert.Equal(t, "msg-01", page.Content[4].Content)

	// Unparsable paging parameters.
	resp, _ = doAPIRequest(t, srv, http.MethodGet, base+"?page=abc", token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Out-of-range paging parameters.
	resp, _ = doAPIRequest(t, srv, http.MethodGet, base+"?size=0", token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Non-participant access.
	outsider := issueToken(t, carol.Email, time.Time{})
	resp, _ = doAPIRequest(t, srv, http.MethodGet, base, outsider)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
