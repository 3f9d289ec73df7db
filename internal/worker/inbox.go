package worker

import (
	"context"
	"encoding/json"

	"github.com/bazaarchat/chat-service/internal/models"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// TypeMessageCreated is enqueued after every stored message so both
// participants' cached inboxes get dropped out of band.
const TypeMessageCreated = "chat:message_created"

const queueName = "chat"

type messageCreatedPayload struct {
	ConversationID string   `json:"conversation_id"`
	MessageID      string   `json:"message_id"`
	Participants   []string `json:"participants"`
}

// Enqueuer schedules chat background tasks on the shared Redis queue.
type Enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

func (e *Enqueuer) EnqueueMessageCreated(ctx context.Context, conv *models.Conversation, msg *models.Message) error {
	payload, err := json.Marshal(messageCreatedPayload{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Participants:   []string{conv.ParticipantA, conv.ParticipantB},
	})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TypeMessageCreated, payload)
	_, err = e.client.EnqueueContext(ctx, task, asynq.Queue(queueName), asynq.MaxRetry(3))
	return err
}

// InboxInvalidator is the slice of the cache this worker needs.
type InboxInvalidator interface {
	Invalidate(ctx context.Context, userIDs ...string) error
}

// Worker consumes chat tasks. It runs inside the same process as the API
// server; handlers must stay idempotent since asynq redelivers on failure.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func New(redisOpt asynq.RedisConnOpt, concurrency int, inbox InboxInvalidator, logger *logrus.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 5
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueName: 1, "default": 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.WithError(err).WithField("task_type", task.Type()).Error("Task failed")
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeMessageCreated, func(ctx context.Context, task *asynq.Task) error {
		var p messageCreatedPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			return err
		}
		if err := inbox.Invalidate(ctx, p.Participants...); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"conversation_id": p.ConversationID,
			"message_id":      p.MessageID,
		}).Debug("Inbox cache invalidated")
		return nil
	})

	return &Worker{server: server, mux: mux}
}

// Run starts the worker and blocks until Shutdown.
func (w *Worker) Run() error {
	return w.server.Run(w.mux)
}

func (w *Worker) Shutdown() {
	w.server.Shutdown()
}
