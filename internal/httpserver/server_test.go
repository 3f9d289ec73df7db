package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/bazaarchat/chat-service/internal/models"
	"github.com/bazaarchat/chat-service/internal/realtime"
	"github.com/bazaarchat/chat-service/internal/service"
)

type stubService struct {
	conversation *models.Conversation
	message      *models.Message
	messages     []*models.Message
	summaries    []*models.ConversationSummary
	markedCount  int
	err          error
}

func (s *stubService) GetOrCreateConversation(_ context.Context, _, _, _ string) (*models.Conversation, error) {
	return s.conversation, s.err
}

func (s *stubService) GetConversation(_ context.Context, _ string) (*models.Conversation, error) {
	return s.conversation, s.err
}

func (s *stubService) ListConversations(_ context.Context, _ string) ([]*models.ConversationSummary, error) {
	return s.summaries, s.err
}

func (s *stubService) SendMessage(_ context.Context, _, _, _ string) (*models.Message, error) {
	return s.message, s.err
}

func (s *stubService) GetMessages(_ context.Context, _ string, _ int, _ string) ([]*models.Message, error) {
	return s.messages, s.err
}

func (s *stubService) MarkMessagesAsRead(_ context.Context, _, _ string) (int, error) {
	return s.markedCount, s.err
}

func newTestRouter(svc service.ChatService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	hub := realtime.NewHub()
	return New(svc, hub, logger).Router()
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestResolveConversation(t *testing.T) {
	listing := "post-42"
	svc := &stubService{conversation: &models.Conversation{
		ID:           "conv-7",
		ParticipantA: "u1",
		ParticipantB: "u2",
		ListingID:    &listing,
	}}
	router := newTestRouter(svc)

	w := doRequest(router, http.MethodPost, "/v1/conversations",
		`{"user_id":"u1","peer_id":"u2","listing_id":"post-42"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Conversation models.Conversation `json:"conversation"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "conv-7", resp.Conversation.ID)
	require.Equal(t, "post-42", *resp.Conversation.ListingID)
}

func TestResolveConversationMissingBody(t *testing.T) {
	router := newTestRouter(&stubService{})

	w := doRequest(router, http.MethodPost, "/v1/conversations", `{"user_id":"u1"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessage(t *testing.T) {
	svc := &stubService{message: &models.Message{
		ID:             "m1",
		ConversationID: "conv-7",
		SenderID:       "u1",
		Text:           "Is this available?",
		CreatedAt:      time.Now(),
	}}
	router := newTestRouter(svc)

	w := doRequest(router, http.MethodPost, "/v1/conversations/conv-7/messages",
		`{"sender_id":"u1","text":"Is this available?"}`)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestErrorCodeMapping(t *testing.T) {
	cases := []struct {
		code   service.ErrorCode
		status int
	}{
		{service.ErrorInvalidArgument, http.StatusBadRequest},
		{service.ErrorNotFound, http.StatusNotFound},
		{service.ErrorPermissionDenied, http.StatusForbidden},
		{service.ErrorUnavailable, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		svc := &stubService{err: &service.Error{Code: tc.code, Reason: "test"}}
		router := newTestRouter(svc)

		w := doRequest(router, http.MethodPost, "/v1/conversations/conv-7/messages",
			`{"sender_id":"u1","text":"hi"}`)
		require.Equal(t, tc.status, w.Code, "code %s", tc.code)

		var resp struct {
			Code string `json:"code"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, string(tc.code), resp.Code)
	}
}

func TestListConversationsEmptyIsList(t *testing.T) {
	router := newTestRouter(&stubService{})

	w := doRequest(router, http.MethodGet, "/v1/users/u1/conversations", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"conversations":[]`)
}

func TestListConversationsWithPlaceholderEntry(t *testing.T) {
	svc := &stubService{summaries: []*models.ConversationSummary{
		{Conversation: &models.Conversation{ID: "conv-7", ParticipantA: "u1", ParticipantB: "u2"}},
	}}
	router := newTestRouter(svc)

	w := doRequest(router, http.MethodGet, "/v1/users/u1/conversations", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 1)
	require.Nil(t, resp.Conversations[0].LastMessage)
}

func TestGetMessagesRejectsBadLimit(t *testing.T) {
	router := newTestRouter(&stubService{})

	w := doRequest(router, http.MethodGet, "/v1/conversations/conv-7/messages?limit=abc", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebsocketRequiresUser(t *testing.T) {
	router := newTestRouter(&stubService{})

	w := doRequest(router, http.MethodGet, "/v1/ws", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMarkRead(t *testing.T) {
	svc := &stubService{markedCount: 3}
	router := newTestRouter(svc)

	w := doRequest(router, http.MethodPost, "/v1/conversations/conv-7/read", `{"user_id":"u2"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"marked_count":3`)
}
