package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/budget_backend/config"
	"bitbucket.org/mmdatafocus/budget_backend/models"
	"cloud.google.com/go/pubsub"
)

// PubSubPublisher pushes inserted notifications to a Pub/Sub topic so other
// services (mail, chat bots) can fan them out.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

func NewPubSubPublisher(topic *pubsub.Topic) *PubSubPublisher {
	return &PubSubPublisher{topic: topic}
}

// ConnectNotificationPublisher returns nil when no topic is configured.
func ConnectNotificationPublisher(ctx context.Context) (*PubSubPublisher, error) {
	topicName := config.NotificationTopic()
	if topicName == "" {
		return nil, nil
	}
	client, err := config.GetClient(ctx)
	if err != nil {
		return nil, err
	}
	topic, err := config.CreateTopicIfNotExists(ctx, client, topicName)
	if err != nil {
		return nil, err
	}
	return NewPubSubPublisher(topic), nil
}

func (p *PubSubPublisher) Publish(ctx context.Context, n *models.Notification) error {
	_, err := config.PublishJSON(ctx, p.topic, n, map[string]string{
		"to":             n.ToUserOrRole,
		"related_record": n.RelatedRecordID,
	})
	return err
}

func (p *PubSubPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}
