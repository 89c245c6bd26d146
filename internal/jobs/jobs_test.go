package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSender struct {
	peerID int64
	text   string
	err    error
}

func (f *fakeSender) SendMessage(_ context.Context, peerID int64, text string) (int64, error) {
	f.peerID = peerID
	f.text = text
	return 1, f.err
}

func TestHandleScheduledMessage(t *testing.T) {
	sender := &fakeSender{}
	s := &Server{sender: sender, log: zap.NewNop()}

	payload, err := json.Marshal(ScheduledMessage{PeerID: 7, Text: "reminder"})
	require.NoError(t, err)

	err = s.handleScheduledMessage(context.Background(), asynq.NewTask(TypeScheduledMessage, payload))
	require.NoError(t, err)
	assert.Equal(t, int64(7), sender.peerID)
	assert.Equal(t, "reminder", sender.text)
}

func TestHandleScheduledMessage_BadPayload(t *testing.T) {
	s := &Server{sender: &fakeSender{}, log: zap.NewNop()}

	err := s.handleScheduledMessage(context.Background(), asynq.NewTask(TypeScheduledMessage, []byte(`{broken`)))
	require.Error(t, err)
}

func TestHandleScheduledMessage_SendFailureRetries(t *testing.T) {
	sender := &fakeSender{err: errors.New("api down")}
	s := &Server{sender: sender, log: zap.NewNop()}

	payload, err := json.Marshal(ScheduledMessage{PeerID: 7, Text: "reminder"})
	require.NoError(t, err)

	err = s.handleScheduledMessage(context.Background(), asynq.NewTask(TypeScheduledMessage, payload))
	require.Error(t, err, "a failed send must surface so the queue retries it")
}
