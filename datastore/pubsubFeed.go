package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/recipe_integrity/config"
	"github.com/mmdatafocus/recipe_integrity/models"
)

// PubSubPushEnvelope is the body Pub/Sub posts to push endpoints.
type PubSubPushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		ID         string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DecodeChangeEvent parses a change event published by PubSubFeed.
func DecodeChangeEvent(data []byte) (models.ChangeEvent, error) {
	var ev models.ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, err
	}
	if ev.Table == "" || ev.Op == "" {
		return ev, errors.New("change event without table or op")
	}
	return ev, nil
}

// PubSubFeed carries change events over a Pub/Sub topic so writers and the
// revalidation worker can live in different processes.
type PubSubFeed struct {
	client       *pubsub.Client
	topic        *pubsub.Topic
	subscription string
	logger       *logrus.Logger
}

func NewPubSubFeed(client *pubsub.Client, topic *pubsub.Topic, subscription string, logger *logrus.Logger) *PubSubFeed {
	if logger == nil {
		logger = config.NopLogger()
	}
	return &PubSubFeed{client: client, topic: topic, subscription: subscription, logger: logger}
}

func (f *PubSubFeed) PublishChange(ctx context.Context, ev models.ChangeEvent) error {
	if f.topic == nil {
		return errors.New("pubsub topic is nil")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	res := f.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"table": ev.Table, "op": ev.Op},
	})
	_, err = res.Get(ctx)
	return err
}

// SubscribeToChanges receives from the configured subscription until ctx is done.
// Messages for other tables are acked and skipped; undecodable messages are acked and logged.
func (f *PubSubFeed) SubscribeToChanges(ctx context.Context, tables ...string) (<-chan models.ChangeEvent, error) {
	if f.client == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if f.subscription == "" {
		return nil, fmt.Errorf("subscription name is required")
	}
	wanted := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		wanted[t] = struct{}{}
	}

	sub := f.client.Subscription(f.subscription)
	out := make(chan models.ChangeEvent, defaultBrokerBuffer)
	go func() {
		defer close(out)
		err := sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
			ev, err := DecodeChangeEvent(m.Data)
			if err != nil {
				config.LogError(f.logger, "datastore", "PubSubFeed.Receive", "decode change event", m.ID, err)
				m.Ack()
				return
			}
			if len(wanted) > 0 {
				if _, ok := wanted[ev.Table]; !ok {
					m.Ack()
					return
				}
			}
			select {
			case out <- ev:
				m.Ack()
			case <-ctx.Done():
				m.Nack()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			config.LogError(f.logger, "datastore", "PubSubFeed.Receive", f.subscription, nil, err)
		}
	}()
	return out, nil
}
