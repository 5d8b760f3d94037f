package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

const defaultPublishTimeout = 10 * time.Second

// Publisher hands a sealed export manifest to downstream verifiers.
type Publisher interface {
	Publish(ctx context.Context, job Job) error
}

// NopPublisher drops manifests. Used when Pub/Sub is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Job) error { return nil }

type topicPublisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// PubSubPublisher writes manifests as JSON messages on the export topic.
type PubSubPublisher struct {
	topic   topicPublisher
	timeout time.Duration
}

// NewPubSubPublisher wraps a Pub/Sub v2 publisher handle.
func NewPubSubPublisher(pub *gcppubsub.Publisher) (*PubSubPublisher, error) {
	if pub == nil {
		return nil, errors.New("pubsub publisher required")
	}
	return &PubSubPublisher{topic: gcpPublisher{pub}, timeout: defaultPublishTimeout}, nil
}

func (p *PubSubPublisher) Publish(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding export manifest: %w", err)
	}
	publishCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"job_id":         job.JobID,
			"requester_role": string(job.RequesterRole),
			"event_count":    fmt.Sprint(job.EventCount),
		},
	}
	if _, err := p.topic.Publish(publishCtx, msg).Get(publishCtx); err != nil {
		return fmt.Errorf("publishing export manifest %s: %w", job.JobID, err)
	}
	return nil
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}
