package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// RecomputeMessage is the wire form of one "recompute License #N" job.
// ID is the outbox record id; 0 for ad-hoc requests.
type RecomputeMessage struct {
	ID            int       `json:"id"`
	LicenseId     int       `json:"license_id"`
	Reason        string    `json:"reason"`
	RequestedAt   time.Time `json:"requested_at"`
	CorrelationId string    `json:"correlation_id"`
}

var ErrInvalidRecomputeMessage = errors.New("invalid recompute message")

// RecomputeOrderingKey groups one license's jobs so Pub/Sub delivers them in
// publish order.
func RecomputeOrderingKey(licenseId int) string {
	return "license-" + strconv.Itoa(licenseId)
}

// NewRecomputePubSubMessage encodes msg for the recompute topic.
func NewRecomputePubSubMessage(msg RecomputeMessage) (*pubsub.Message, error) {
	if msg.LicenseId <= 0 {
		return nil, fmt.Errorf("%w: license_id required", ErrInvalidRecomputeMessage)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return &pubsub.Message{
		Data:        data,
		OrderingKey: RecomputeOrderingKey(msg.LicenseId),
		Attributes: map[string]string{
			"license_id":     strconv.Itoa(msg.LicenseId),
			"reason":         msg.Reason,
			"correlation_id": msg.CorrelationId,
		},
	}, nil
}

// DecodeRecomputeMessage parses a delivered payload. Errors wrap
// ErrInvalidRecomputeMessage; such messages can never succeed and are acked.
func DecodeRecomputeMessage(data []byte) (RecomputeMessage, error) {
	var m RecomputeMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidRecomputeMessage, err)
	}
	if m.LicenseId <= 0 {
		return m, fmt.Errorf("%w: license_id required", ErrInvalidRecomputeMessage)
	}
	return m, nil
}

// RecomputeBusSettings names the single topic and subscription recompute jobs
// travel on.
type RecomputeBusSettings struct {
	ProjectID       string
	CredentialsJSON string
	Topic           string
	Subscription    string
	MaxOutstanding  int
	AckDeadline     time.Duration
}

func RecomputeBusSettingsFromEnv() RecomputeBusSettings {
	projectID := os.Getenv("PUBSUB_PROJECT_ID")
	if projectID == "" {
		projectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	return RecomputeBusSettings{
		ProjectID:       projectID,
		CredentialsJSON: os.Getenv("PUBSUB_CREDENTIALS_JSON"),
		Topic:           stringFromEnv("PUBSUB_TOPIC", "dfia-license-recompute"),
		Subscription:    stringFromEnv("PUBSUB_SUBSCRIPTION", "dfia-license-recompute-worker"),
		MaxOutstanding:  IntFromEnv("PUBSUB_MAX_OUTSTANDING", 10),
		AckDeadline:     time.Duration(IntFromEnv("PUBSUB_ACK_DEADLINE_SECONDS", 60)) * time.Second,
	}
}

// PubSubConfigured reports whether a project id is available.
func PubSubConfigured() bool {
	return RecomputeBusSettingsFromEnv().ProjectID != ""
}

// recomputeBus holds the process client and the one ordered topic handle. The
// topic is reused across publishes so its batching goroutines are not leaked.
var recomputeBus struct {
	mu     sync.Mutex
	client *pubsub.Client
	topic  *pubsub.Topic
}

func recomputeTopic(ctx context.Context) (*pubsub.Client, *pubsub.Topic, error) {
	recomputeBus.mu.Lock()
	defer recomputeBus.mu.Unlock()
	if recomputeBus.topic != nil {
		return recomputeBus.client, recomputeBus.topic, nil
	}

	s := RecomputeBusSettingsFromEnv()
	if s.ProjectID == "" {
		return nil, nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}
	client, err := connectPubSub(ctx, s)
	if err != nil {
		return nil, nil, err
	}
	topic := client.Topic(s.Topic)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("check topic %q: %w", s.Topic, err)
	}
	if !exists {
		if topic, err = client.CreateTopic(ctx, s.Topic); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("create topic %q: %w", s.Topic, err)
		}
	}
	topic.EnableMessageOrdering = true

	recomputeBus.client, recomputeBus.topic = client, topic
	return client, topic, nil
}

func connectPubSub(ctx context.Context, s RecomputeBusSettings) (*pubsub.Client, error) {
	var opts []option.ClientOption
	if s.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(s.CredentialsJSON)))
	}
	for attempt := 1; ; attempt++ {
		client, err := pubsub.NewClient(ctx, s.ProjectID, opts...)
		if err == nil {
			log.Printf("pubsub client ready (project_id=%s attempt=%d)", s.ProjectID, attempt)
			return client, nil
		}
		sleep := RetryBackoff(attempt)
		log.Printf("failed to init pubsub client (project_id=%s attempt=%d): %v; retrying in %s", s.ProjectID, attempt, err, sleep)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// PublishRecomputeJob publishes msg on the ordered recompute topic and returns
// the server-assigned message id.
func PublishRecomputeJob(ctx context.Context, msg RecomputeMessage) (string, error) {
	m, err := NewRecomputePubSubMessage(msg)
	if err != nil {
		return "", err
	}
	_, topic, err := recomputeTopic(ctx)
	if err != nil {
		return "", err
	}
	id, err := topic.Publish(ctx, m).Get(ctx)
	if err != nil {
		// A failed publish pauses its ordering key until resumed.
		topic.ResumePublish(m.OrderingKey)
	}
	return id, err
}

// RecomputeSubscription returns the worker subscription, creating it with
// message ordering on first use.
func RecomputeSubscription(ctx context.Context) (*pubsub.Subscription, error) {
	client, topic, err := recomputeTopic(ctx)
	if err != nil {
		return nil, err
	}
	s := RecomputeBusSettingsFromEnv()
	sub := client.Subscription(s.Subscription)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %q: %w", s.Subscription, err)
	}
	if !exists {
		sub, err = client.CreateSubscription(ctx, s.Subscription, pubsub.SubscriptionConfig{
			Topic:                 topic,
			AckDeadline:           s.AckDeadline,
			EnableMessageOrdering: true,
			RetryPolicy: &pubsub.RetryPolicy{
				MinimumBackoff: 10 * time.Second,
				MaximumBackoff: 10 * time.Minute,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("create subscription %q: %w", s.Subscription, err)
		}
	}
	sub.ReceiveSettings.MaxOutstandingMessages = s.MaxOutstanding
	return sub, nil
}

// CloseRecomputeBus flushes pending publishes and closes the client.
func CloseRecomputeBus() {
	recomputeBus.mu.Lock()
	defer recomputeBus.mu.Unlock()
	if recomputeBus.topic != nil {
		recomputeBus.topic.Stop()
	}
	if recomputeBus.client != nil {
		_ = recomputeBus.client.Close()
	}
	recomputeBus.client, recomputeBus.topic = nil, nil
}
