// Package pubsub consumes stage events from Google Cloud Pub/Sub. The
// analysis backend provisions one subscription per job, named
// "<prefix>-<job id>", and publishes stage events as JSON payloads.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/partlab/partscope/internal/tracker"
)

// Config captures Pub/Sub connection parameters.
type Config struct {
	ProjectID string
	// SubscriptionPrefix names per-job subscriptions ("<prefix>-<job id>").
	SubscriptionPrefix string
}

// Source implements session.EventSource on top of Pub/Sub. It authenticates
// via Application Default Credentials.
type Source struct {
	client *pubsub.Client
	cfg    Config
	logger *zap.Logger
}

// New creates the Pub/Sub client. It fails fast when the project is not
// reachable; per-subscription existence is checked at Subscribe time because
// subscriptions are provisioned per job.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Source, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	if cfg.SubscriptionPrefix == "" {
		cfg.SubscriptionPrefix = "partscope-jobs"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Source{client: client, cfg: cfg, logger: logger}, nil
}

// Subscribe starts a Receive loop on the job's subscription. Messages that
// fail to decode are acked and dropped; the tracker's normalizer handles the
// rest of the vocabulary drift.
func (s *Source) Subscribe(ctx context.Context, jobID string, handler func(tracker.StageEvent)) (func(), error) {
	name := fmt.Sprintf("%s-%s", s.cfg.SubscriptionPrefix, jobID)
	sub := s.client.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %q: %w", name, err)
	}
	if !exists {
		return nil, fmt.Errorf("subscription %q does not exist", name)
	}

	recvCtx, cancel := context.WithCancel(ctx)
	logger := s.logger.With(zap.String("job_id", jobID), zap.String("subscription", name))
	go func() {
		err := sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			var evt tracker.StageEvent
			if err := json.Unmarshal(msg.Data, &evt); err != nil {
				logger.Debug("discarding malformed pubsub payload", zap.Error(err))
				msg.Ack()
				return
			}
			handler(evt)
			msg.Ack()
		})
		if err != nil && recvCtx.Err() == nil {
			logger.Warn("pubsub receive stopped", zap.Error(err))
		}
	}()

	var once sync.Once
	return func() {
		once.Do(cancel)
	}, nil
}

// Close releases the underlying client connection.
func (s *Source) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
