package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"

	"github.com/player-leaderboard/internal/config"
	"github.com/player-leaderboard/internal/domain"
)

// ScoreApplier applies score updates through the write-through path
type ScoreApplier interface {
	ApplyScoreUpdates(ctx context.Context, updates []domain.ScoreUpdate) int
}

// Consumer consumes score update messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	applier       ScoreApplier
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, applier ScoreApplier, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		applier:       applier,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages and returns once the first session is set
// up or startCtx is done
func (c *Consumer) Start(startCtx context.Context) error {
	c.logger.Info("starting kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	ready := c.ready
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	select {
	case <-ready:
	case <-startCtx.Done():
		return fmt.Errorf("waiting for consumer group session: %w", startCtx.Err())
	}
	c.logger.Info("kafka consumer ready")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim batches score updates from one partition
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	b := newBatcher(h.consumer.applier, cfg.BatchSize, h.consumer.logger, func(msg *sarama.ConsumerMessage) {
		session.MarkMessage(msg, "")
	})
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	for {
		select {
		case <-session.Context().Done():
			b.flush()
			return nil

		case <-batchTimer.C:
			b.flush()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				b.flush()
				return nil
			}

			if b.add(message) {
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}

// batcher accumulates decoded updates and applies them in groups. Offsets
// are marked only after the batch holding them has been applied, so a crash
// redelivers rather than loses updates.
type batcher struct {
	applier ScoreApplier
	size    int
	logger  *slog.Logger
	mark    func(*sarama.ConsumerMessage)
	pending []domain.ScoreUpdate
	// last is the newest message seen since the previous flush
	last *sarama.ConsumerMessage
}

func newBatcher(applier ScoreApplier, size int, logger *slog.Logger, mark func(*sarama.ConsumerMessage)) *batcher {
	if size <= 0 {
		size = 1
	}
	return &batcher{
		applier: applier,
		size:    size,
		logger:  logger,
		mark:    mark,
		pending: make([]domain.ScoreUpdate, 0, size),
	}
}

// add decodes one message and flushes when the batch is full. It reports
// whether a flush happened. Undecodable messages are logged and skipped.
func (b *batcher) add(msg *sarama.ConsumerMessage) bool {
	b.last = msg

	update, err := DecodeScoreUpdate(msg.Value)
	if err != nil {
		b.logger.Warn("skipping score update",
			"error", err,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		return false
	}

	b.pending = append(b.pending, update)
	if len(b.pending) >= b.size {
		b.flush()
		return true
	}
	return false
}

// flush applies pending updates and then marks the newest message seen.
// A claim covers a single partition, so marking it commits everything before.
func (b *batcher) flush() {
	if len(b.pending) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		applied := b.applier.ApplyScoreUpdates(ctx, b.pending)
		cancel()

		b.logger.Debug("processed score batch", "batch_size", len(b.pending), "applied", applied)
		b.pending = b.pending[:0]
	}

	if b.last != nil && b.mark != nil {
		b.mark(b.last)
		b.last = nil
	}
}

// DecodeScoreUpdate parses a message value. The player must be addressed
// by id or username and at least one stat must be present.
func DecodeScoreUpdate(value []byte) (domain.ScoreUpdate, error) {
	var update domain.ScoreUpdate
	if err := json.Unmarshal(value, &update); err != nil {
		return domain.ScoreUpdate{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if update.PlayerID == "" && update.Username == "" {
		return domain.ScoreUpdate{}, fmt.Errorf("%w: player_id or username is required", domain.ErrInvalidRequest)
	}
	if update.TotalScore == nil && update.Level == nil && update.GamesPlayed == nil &&
		update.GamesWon == nil && update.LastPlayed == nil {
		return domain.ScoreUpdate{}, fmt.Errorf("%w: update carries no fields", domain.ErrInvalidRequest)
	}
	return update, nil
}

// EncodeScoreUpdate renders an update as a message value
func EncodeScoreUpdate(update domain.ScoreUpdate) ([]byte, error) {
	return json.Marshal(update)
}
