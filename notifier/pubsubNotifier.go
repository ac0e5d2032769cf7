package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubNotifier publishes notifications as JSON to a topic for downstream alerting.
type PubSubNotifier struct {
	topic *pubsub.Topic
}

func NewPubSubNotifier(topic *pubsub.Topic) *PubSubNotifier {
	return &PubSubNotifier{topic: topic}
}

func (n *PubSubNotifier) Notify(ctx context.Context, level Level, message string) error {
	if n.topic == nil {
		return errors.New("notification topic is nil")
	}
	data, err := json.Marshal(Notification{Level: level, Message: message, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	res := n.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"level": string(level)},
	})
	_, err = res.Get(ctx)
	return err
}
