// Package jobs runs deferred outbound messages (reminders, delayed
// replies) on a Redis-backed queue. Handler bodies enqueue through Client;
// Server delivers when due, surviving bot restarts.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TypeScheduledMessage is the task type for a deferred outbound message.
const TypeScheduledMessage = "message:scheduled"

// ScheduledMessage is the task payload.
type ScheduledMessage struct {
	PeerID int64  `json:"peer_id"`
	Text   string `json:"text"`
}

// Sender delivers a due message; the API client implements it.
type Sender interface {
	SendMessage(ctx context.Context, peerID int64, text string) (int64, error)
}

// Server consumes due tasks.
type Server struct {
	server *asynq.Server
	sender Sender
	log    *zap.Logger
}

// Client enqueues tasks from handler bodies.
type Client struct {
	client *asynq.Client
}

func NewServer(redisAddr string, sender Sender, log *zap.Logger) (*Server, *Client) {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			"default": 9,
			"low":     1,
		},
	})

	return &Server{server: server, sender: sender, log: log},
		&Client{client: asynq.NewClient(redisOpt)}
}

// Start blocks serving tasks until Stop.
func (s *Server) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeScheduledMessage, s.handleScheduledMessage)
	return s.server.Run(mux)
}

func (s *Server) Stop() {
	s.server.Shutdown()
}

func (s *Server) handleScheduledMessage(ctx context.Context, task *asynq.Task) error {
	var payload ScheduledMessage
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to decode scheduled message: %w", err)
	}

	if _, err := s.sender.SendMessage(ctx, payload.PeerID, payload.Text); err != nil {
		return fmt.Errorf("failed to send scheduled message: %w", err)
	}
	s.log.Info("scheduled message delivered", zap.Int64("peer_id", payload.PeerID))
	return nil
}

// ScheduleMessage enqueues text for delivery to peerID at the given time.
func (c *Client) ScheduleMessage(_ context.Context, peerID int64, text string, at time.Time) error {
	payload, err := json.Marshal(ScheduledMessage{PeerID: peerID, Text: text})
	if err != nil {
		return fmt.Errorf("failed to encode scheduled message: %w", err)
	}

	task := asynq.NewTask(TypeScheduledMessage, payload)
	if _, err := c.client.Enqueue(task, asynq.ProcessAt(at)); err != nil {
		return fmt.Errorf("failed to enqueue scheduled message: %w", err)
	}
	return nil
}

// DelayMessage enqueues text for delivery after d.
func (c *Client) DelayMessage(ctx context.Context, peerID int64, text string, d time.Duration) error {
	return c.ScheduleMessage(ctx, peerID, text, time.Now().Add(d))
}

func (c *Client) Close() error {
	return c.client.Close()
}
