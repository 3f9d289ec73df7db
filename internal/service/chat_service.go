package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bazaarchat/chat-service/internal/models"
	"github.com/bazaarchat/chat-service/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 100
	maxMessageLen       = 4000
)

// Notifier fans a freshly stored message out to live conversation viewers.
// Delivery is best-effort; the message log remains the source of truth.
type Notifier interface {
	Publish(ctx context.Context, msg *models.Message) error
}

// TaskEnqueuer schedules background work triggered by a new message, such as
// dropping the participants' cached inboxes.
type TaskEnqueuer interface {
	EnqueueMessageCreated(ctx context.Context, conv *models.Conversation, msg *models.Message) error
}

// InboxCache is a read-through cache for a user's conversation list. Any
// operation that changes what an inbox would show must invalidate the
// affected users' entries, or stale inboxes survive until the TTL.
type InboxCache interface {
	Get(ctx context.Context, userID string) ([]*models.ConversationSummary, bool)
	Set(ctx context.Context, userID string, summaries []*models.ConversationSummary) error
	Invalidate(ctx context.Context, userIDs ...string) error
}

type ChatService interface {
	GetOrCreateConversation(ctx context.Context, userA, userB, listingID string) (*models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*models.ConversationSummary, error)
	SendMessage(ctx context.Context, conversationID, senderID, text string) (*models.Message, error)
	GetMessages(ctx context.Context, conversationID string, limit int, beforeMessageID string) ([]*models.Message, error)
	MarkMessagesAsRead(ctx context.Context, conversationID, userID string) (int, error)
}

type chatService struct {
	repository repository.ChatRepository
	notifier   Notifier
	tasks      TaskEnqueuer
	inbox      InboxCache
	logger     *logrus.Logger
}

func NewChatService(repo repository.ChatRepository, notifier Notifier, tasks TaskEnqueuer, inbox InboxCache, logger *logrus.Logger) ChatService {
	return &chatService{
		repository: repo,
		notifier:   notifier,
		tasks:      tasks,
		inbox:      inbox,
		logger:     logger,
	}
}

// GetOrCreateConversation resolves the single conversation for the pair,
// creating it on first contact. The pair is unordered: (A,B) and (B,A) reach
// the same row. A repeat call refreshes the listing reference and bumps the
// conversation's activity.
func (s *chatService) GetOrCreateConversation(ctx context.Context, userA, userB, listingID string) (*models.Conversation, error) {
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return nil, newError(ErrorInvalidArgument, "missing_participant", nil)
	}
	if userA == userB {
		return nil, newError(ErrorInvalidArgument, "self_conversation", nil)
	}

	first, second := models.CanonicalPair(userA, userB)
	conv := &models.Conversation{
		ID:           uuid.New().String(),
		ParticipantA: first,
		ParticipantB: second,
	}
	if listingID = strings.TrimSpace(listingID); listingID != "" {
		conv.ListingID = &listingID
	}

	if err := s.repository.UpsertConversation(ctx, conv); err != nil {
		s.logger.WithError(err).Error("Failed to resolve conversation")
		return nil, newError(ErrorUnavailable, "conversation_resolve_failed", err)
	}

	// A fresh conversation must show up in both inboxes right away, even
	// before any message exists.
	if err := s.inbox.Invalidate(ctx, conv.ParticipantA, conv.ParticipantB); err != nil {
		s.logger.WithError(err).Warn("Inbox invalidation failed")
	}

	s.logger.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"participant_a":   conv.ParticipantA,
		"participant_b":   conv.ParticipantB,
	}).Info("Conversation resolved")

	return conv, nil
}

func (s *chatService) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	conv, err := s.repository.GetConversationByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrorNotFound, "conversation_not_found", err)
		}
		s.logger.WithError(err).Error("Failed to get conversation")
		return nil, newError(ErrorUnavailable, "conversation_load_failed", err)
	}
	return conv, nil
}

// ListConversations returns the user's inbox, newest activity first. A
// conversation with no messages yet appears with a nil LastMessage.
func (s *chatService) ListConversations(ctx context.Context, userID string) ([]*models.ConversationSummary, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, newError(ErrorInvalidArgument, "missing_user", nil)
	}

	if cached, ok := s.inbox.Get(ctx, userID); ok {
		return cached, nil
	}

	summaries, err := s.repository.ListConversationSummaries(ctx, userID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list conversations")
		return nil, newError(ErrorUnavailable, "inbox_load_failed", err)
	}

	if err := s.inbox.Set(ctx, userID, summaries); err != nil {
		s.logger.WithError(err).Warn("Failed to cache inbox")
	}

	return summaries, nil
}

// SendMessage appends to the conversation's log. The insert and the activity
// bump commit together; realtime fan-out and cache invalidation afterwards
// are best-effort and never fail the send.
func (s *chatService) SendMessage(ctx context.Context, conversationID, senderID, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, newError(ErrorInvalidArgument, "empty_message", nil)
	}
	if len(text) > maxMessageLen {
		return nil, newError(ErrorInvalidArgument, "message_too_long", nil)
	}

	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, newError(ErrorPermissionDenied, "sender_not_participant", nil)
	}

	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
	}

	if err := s.repository.CreateMessage(ctx, msg); err != nil {
		s.logger.WithError(err).Error("Failed to send message")
		return nil, newError(ErrorUnavailable, "message_store_failed", err)
	}

	if err := s.notifier.Publish(ctx, msg); err != nil {
		s.logger.WithError(err).WithField("message_id", msg.ID).Warn("Realtime publish failed")
	}
	if err := s.tasks.EnqueueMessageCreated(ctx, conv, msg); err != nil {
		s.logger.WithError(err).WithField("message_id", msg.ID).Warn("Inbox invalidation enqueue failed")
	}

	s.logger.WithFields(logrus.Fields{
		"message_id":      msg.ID,
		"conversation_id": conversationID,
		"sender_id":       senderID,
	}).Info("Message sent")

	return msg, nil
}

// GetMessages returns a page of the conversation's history in ascending
// creation order. This is the authoritative ordering; realtime delivery is
// only an addendum on top of it.
func (s *chatService) GetMessages(ctx context.Context, conversationID string, limit int, beforeMessageID string) ([]*models.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	messages, err := s.repository.GetConversationMessages(ctx, conversationID, limit, beforeMessageID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get messages")
		return nil, newError(ErrorUnavailable, "history_load_failed", err)
	}

	return messages, nil
}

func (s *chatService) MarkMessagesAsRead(ctx context.Context, conversationID, userID string) (int, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !conv.HasParticipant(userID) {
		return 0, newError(ErrorPermissionDenied, "reader_not_participant", nil)
	}

	count, err := s.repository.MarkMessagesAsRead(ctx, conversationID, userID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to mark messages as read")
		return 0, newError(ErrorUnavailable, "read_receipt_failed", err)
	}

	if count > 0 {
		if err := s.inbox.Invalidate(ctx, userID); err != nil {
			s.logger.WithError(err).Warn("Inbox invalidation failed")
		}
	}

	return count, nil
}
