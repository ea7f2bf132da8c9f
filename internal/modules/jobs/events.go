package jobs

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ProgressChannel is the Redis pub/sub channel carrying job events.
const ProgressChannel = "jobs:progress"

// Event types
const (
	EventProgress  = "job:progress"
	EventCompleted = "job:completed"
	EventFailed    = "job:failed"
)

// Event is a job state change broadcast to API instances.
type Event struct {
	Type    string `json:"type"`
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Percent int    `json:"percent"`
	Error   string `json:"error,omitempty"`
}

// Publisher sends a message on a pub/sub channel. database.Redis implements it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Relay decodes events from a subscription and hands them to deliver until
// ctx is done or the channel closes.
func Relay(ctx context.Context, messages <-chan *redis.Message, deliver func(Event), logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn("Dropping malformed job event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			deliver(ev)
		}
	}
}
