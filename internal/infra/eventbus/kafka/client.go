package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/compliance-armada/internal/infra/eventbus"
	"github.com/ahrav/compliance-armada/pkg/common/logger"
)

// newSaramaConfig returns the settings shared by the producer and the consumer group.
func newSaramaConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID

	// Consumer settings
	config.Consumer.Return.Errors = true
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Group.Session.Timeout = 20 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	config.Consumer.Offsets.AutoCommit.Enable = false

	// Producer settings
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	config.Version = sarama.V3_6_0_0
	return config
}

// NewClient creates a Kafka client for the brokers in cfg.
func NewClient(cfg *Config) (sarama.Client, error) {
	return sarama.NewClient(cfg.Brokers, newSaramaConfig(cfg.ClientID))
}

// Connect dials the brokers and builds an EventBus, retrying with
// exponential backoff while the cluster is unreachable. The retries stop
// when ctx is done.
func Connect(
	ctx context.Context,
	cfg *Config,
	logger *logger.Logger,
	metrics eventbus.Metrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	var bus *EventBus

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 2 * time.Minute
	expBackoff.InitialInterval = time.Second

	operation := func() error {
		client, err := NewClient(cfg)
		if err != nil {
			logger.Warn(ctx, "Kafka not reachable yet", "brokers", cfg.Brokers, "error", err)
			return fmt.Errorf("creating client: %w", err)
		}

		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			client.Close()
			return fmt.Errorf("creating producer: %w", err)
		}

		consumerGroup, err := sarama.NewConsumerGroupFromClient(cfg.GroupID, client)
		if err != nil {
			producer.Close()
			client.Close()
			return fmt.Errorf("creating consumer group: %w", err)
		}

		bus, err = NewEventBus(producer, consumerGroup, cfg, logger, metrics, tracer)
		if err != nil {
			producer.Close()
			consumerGroup.Close()
			client.Close()
			return backoff.Permanent(fmt.Errorf("creating event bus: %w", err))
		}
		bus.client = client
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect event bus after retries: %w", err)
	}

	return bus, nil
}
