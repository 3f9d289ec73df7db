package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/bazaarchat/chat-service/internal/models"
	"github.com/bazaarchat/chat-service/internal/realtime"
	"github.com/bazaarchat/chat-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server exposes the chat core over HTTP plus a websocket endpoint for
// realtime delivery. It owns no business rules; everything is delegated to
// the service layer and mapped to transport codes here.
type Server struct {
	service  service.ChatService
	hub      *realtime.Hub
	logger   *logrus.Logger
	upgrader websocket.Upgrader
}

func New(svc service.ChatService, hub *realtime.Hub, logger *logrus.Logger) *Server {
	return &Server{
		service: svc,
		hub:     hub,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Mobile clients connect from app-scheme origins; auth is out of scope here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		v1.POST("/conversations", s.resolveConversation)
		v1.GET("/conversations/:id", s.getConversation)
		v1.GET("/conversations/:id/messages", s.getMessages)
		v1.POST("/conversations/:id/messages", s.sendMessage)
		v1.POST("/conversations/:id/read", s.markRead)
		v1.GET("/users/:id/conversations", s.listConversations)
		v1.GET("/ws", s.serveWS)
	}

	return r
}

type resolveConversationRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	PeerID    string `json:"peer_id" binding:"required"`
	ListingID string `json:"listing_id"`
}

func (s *Server) resolveConversation(c *gin.Context) {
	var req resolveConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and peer_id are required"})
		return
	}

	conv, err := s.service.GetOrCreateConversation(c.Request.Context(), req.UserID, req.PeerID, req.ListingID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (s *Server) getConversation(c *gin.Context) {
	conv, err := s.service.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (s *Server) getMessages(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = parsed
	}

	messages, err := s.service.GetMessages(c.Request.Context(), c.Param("id"), limit, c.Query("before"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type sendMessageRequest struct {
	SenderID string `json:"sender_id" binding:"required"`
	Text     string `json:"text"`
}

func (s *Server) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sender_id is required"})
		return
	}

	msg, err := s.service.SendMessage(c.Request.Context(), c.Param("id"), req.SenderID, req.Text)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

type markReadRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) markRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	count, err := s.service.MarkMessagesAsRead(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"marked_count": count})
}

func (s *Server) listConversations(c *gin.Context) {
	summaries, err := s.service.ListConversations(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	// The client renders "No messages yet" for entries with no last_message;
	// an empty inbox is an empty list, not an error.
	if summaries == nil {
		summaries = []*models.ConversationSummary{}
	}

	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

func (s *Server) serveWS(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	conn := realtime.NewConnection(userID, ws, s.hub, s.logger)
	conn.Run()
}

func (s *Server) writeError(c *gin.Context, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		s.logger.WithError(err).Error("Unclassified handler error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch svcErr.Code {
	case service.ErrorInvalidArgument:
		status = http.StatusBadRequest
	case service.ErrorNotFound:
		status = http.StatusNotFound
	case service.ErrorPermissionDenied:
		status = http.StatusForbidden
	case service.ErrorUnavailable:
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{"error": svcErr.Reason, "code": string(svcErr.Code)})
}
