package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bazaarchat/chat-service/internal/models"
)

// ErrNotFound is returned when a referenced conversation does not exist.
var ErrNotFound = errors.New("repository: not found")

type ChatRepository interface {
	UpsertConversation(ctx context.Context, conv *models.Conversation) error
	GetConversationByID(ctx context.Context, id string) (*models.Conversation, error)
	ListConversationSummaries(ctx context.Context, userID string) ([]*models.ConversationSummary, error)
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetConversationMessages(ctx context.Context, conversationID string, limit int, beforeMessageID string) ([]*models.Message, error)
	MarkMessagesAsRead(ctx context.Context, conversationID, userID string) (int, error)
	InitializeTables() error
}

type chatRepository struct {
	db *sql.DB
}

func NewChatRepository(db *sql.DB) ChatRepository {
	return &chatRepository{
		db: db,
	}
}

func (r *chatRepository) InitializeTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		participant_a TEXT NOT NULL,
		participant_b TEXT NOT NULL,
		listing_id TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
		CHECK (participant_a < participant_b),
		UNIQUE(participant_a, participant_b)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		read_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
	CREATE INDEX IF NOT EXISTS idx_conversations_participant_a ON conversations(participant_a);
	CREATE INDEX IF NOT EXISTS idx_conversations_participant_b ON conversations(participant_b);
	`

	_, err := r.db.Exec(query)
	return err
}

// UpsertConversation resolves the conversation for the pair in a single
// statement. Participants must already be in canonical order; the unique
// constraint on the pair makes concurrent first-contact safe: the loser of
// the race lands on DO UPDATE and both callers get the same row back.
func (r *chatRepository) UpsertConversation(ctx context.Context, conv *models.Conversation) error {
	query := `
	INSERT INTO conversations (id, participant_a, participant_b, listing_id, created_at, updated_at)
	VALUES ($1, $2, $3, $4, NOW(), NOW())
	ON CONFLICT (participant_a, participant_b) DO UPDATE
		SET listing_id = COALESCE(EXCLUDED.listing_id, conversations.listing_id),
		    updated_at = NOW()
	RETURNING id, listing_id, created_at, updated_at
	`

	var (
		id                   string
		listingID            sql.NullString
		createdAt, updatedAt time.Time
	)
	err := r.db.QueryRowContext(ctx, query,
		conv.ID, conv.ParticipantA, conv.ParticipantB, conv.ListingID,
	).Scan(&id, &listingID, &createdAt, &updatedAt)
	if err != nil {
		return err
	}

	conv.ID = id
	if listingID.Valid {
		conv.ListingID = &listingID.String
	}
	conv.CreatedAt = createdAt
	conv.UpdatedAt = updatedAt
	return nil
}

func (r *chatRepository) GetConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	query := `
	SELECT id, participant_a, participant_b, listing_id, created_at, updated_at
	FROM conversations
	WHERE id = $1
	`

	var (
		conv      models.Conversation
		listingID sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.ParticipantA, &conv.ParticipantB, &listingID, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if listingID.Valid {
		conv.ListingID = &listingID.String
	}
	return &conv, nil
}

// ListConversationSummaries fetches the user's inbox in one round trip:
// every conversation the user participates in, its newest message (NULL row
// for an empty conversation) and the count of unread messages from the peer.
func (r *chatRepository) ListConversationSummaries(ctx context.Context, userID string) ([]*models.ConversationSummary, error) {
	query := `
	SELECT c.id, c.participant_a, c.participant_b, c.listing_id, c.created_at, c.updated_at,
	       m.id, m.sender_id, m.body, m.created_at, m.read_at,
	       (SELECT COUNT(*) FROM messages u
	        WHERE u.conversation_id = c.id AND u.sender_id != $1 AND u.read_at IS NULL)
	FROM conversations c
	LEFT JOIN LATERAL (
		SELECT id, sender_id, body, created_at, read_at
		FROM messages
		WHERE conversation_id = c.id
		ORDER BY created_at DESC
		LIMIT 1
	) m ON TRUE
	WHERE c.participant_a = $1 OR c.participant_b = $1
	ORDER BY c.updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*models.ConversationSummary
	for rows.Next() {
		var (
			conv      models.Conversation
			listingID sql.NullString
			msgID     sql.NullString
			msgSender sql.NullString
			msgBody   sql.NullString
			msgAt     sql.NullTime
			readAt    sql.NullTime
			unread    int
		)
		err := rows.Scan(
			&conv.ID, &conv.ParticipantA, &conv.ParticipantB, &listingID, &conv.CreatedAt, &conv.UpdatedAt,
			&msgID, &msgSender, &msgBody, &msgAt, &readAt, &unread,
		)
		if err != nil {
			return nil, err
		}
		if listingID.Valid {
			conv.ListingID = &listingID.String
		}

		summary := &models.ConversationSummary{
			Conversation: &conv,
			UnreadCount:  unread,
		}
		if msgID.Valid {
			msg := &models.Message{
				ID:             msgID.String,
				ConversationID: conv.ID,
				SenderID:       msgSender.String,
				Text:           msgBody.String,
				CreatedAt:      msgAt.Time,
			}
			if readAt.Valid {
				msg.ReadAt = &readAt.Time
			}
			summary.LastMessage = msg
		}
		summaries = append(summaries, summary)
	}

	return summaries, rows.Err()
}

// CreateMessage inserts the message and bumps the conversation's activity
// timestamp in one transaction, so the inbox ordering can never drift from
// the message log.
func (r *chatRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insert := `
	INSERT INTO messages (id, conversation_id, sender_id, body, created_at)
	VALUES ($1, $2, $3, $4, NOW())
	RETURNING id, created_at
	`

	var (
		id        string
		createdAt time.Time
	)
	err = tx.QueryRowContext(ctx, insert,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Text,
	).Scan(&id, &createdAt)
	if err != nil {
		return err
	}

	bump := `UPDATE conversations SET updated_at = $2 WHERE id = $1`
	result, err := tx.ExecContext(ctx, bump, msg.ConversationID, createdAt)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	msg.ID = id
	msg.CreatedAt = createdAt
	return nil
}

func (r *chatRepository) GetConversationMessages(ctx context.Context, conversationID string, limit int, beforeMessageID string) ([]*models.Message, error) {
	var query string
	var args []interface{}

	if beforeMessageID != "" {
		query = `
		SELECT id, conversation_id, sender_id, body, created_at, read_at
		FROM messages
		WHERE conversation_id = $1
		  AND created_at < (SELECT created_at FROM messages WHERE id = $2)
		ORDER BY created_at DESC
		LIMIT $3
		`
		args = []interface{}{conversationID, beforeMessageID, limit}
	} else {
		query = `
		SELECT id, conversation_id, sender_id, body, created_at, read_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
		`
		args = []interface{}{conversationID, limit}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var msg models.Message
		var readAt sql.NullTime
		err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Text, &msg.CreatedAt, &readAt,
		)
		if err != nil {
			return nil, err
		}
		if readAt.Valid {
			msg.ReadAt = &readAt.Time
		}
		messages = append(messages, &msg)
	}

	// Queried newest-first for the LIMIT, returned oldest-first for display.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, rows.Err()
}

func (r *chatRepository) MarkMessagesAsRead(ctx context.Context, conversationID, userID string) (int, error) {
	query := `
	UPDATE messages
	SET read_at = NOW()
	WHERE conversation_id = $1 AND sender_id != $2 AND read_at IS NULL
	RETURNING id
	`

	rows, err := r.db.QueryContext(ctx, query, conversationID, userID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}

	return count, rows.Err()
}
