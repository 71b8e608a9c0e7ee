// Command score-producer publishes synthetic score updates for seeded
// players so the consumer path can be exercised under load.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/player-leaderboard/internal/config"
	"github.com/player-leaderboard/internal/domain"
	"github.com/player-leaderboard/internal/kafka"
	"github.com/player-leaderboard/internal/logging"
)

// playerState tracks the running totals the producer reports for a player
type playerState struct {
	score int64
	games int
	wins  int
	level int
}

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "player-score-updates", "Kafka topic")
	players := flag.Int("players", 20, "Number of seeded players (Player1..PlayerN)")
	updatesPerSecond := flag.Int("rate", 50, "Updates per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = until interrupted)")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger, closer := logging.New(config.LogConfig{Level: *logLevel, Format: "text"})
	defer closer.Close()

	if *players <= 0 || *updatesPerSecond <= 0 {
		logger.Error("players and rate must be positive")
		os.Exit(2)
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Flush.Messages = 100
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), saramaConfig)
	if err != nil {
		logger.Error("failed to create producer", "error", err)
		os.Exit(1)
	}

	var sent, failed int64
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&sent, 1)
		}
	}()
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&failed, 1)
			logger.Warn("producer error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	logger.Info("publishing score updates",
		"brokers", *brokers,
		"topic", *topic,
		"players", *players,
		"rate", *updatesPerSecond,
	)

	states := make([]playerState, *players)
	for i := range states {
		states[i] = playerState{level: 1}
	}

	ticker := time.NewTicker(time.Second / time.Duration(*updatesPerSecond))
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var produced int64
loop:
	for {
		select {
		case <-ctx.Done():
			break loop

		case <-ticker.C:
			idx := pickPlayer(*players)
			update := nextUpdate(idx, &states[idx])
			value, err := kafka.EncodeScoreUpdate(update)
			if err != nil {
				logger.Warn("failed to encode update", "error", err)
				continue
			}
			select {
			case producer.Input() <- &sarama.ProducerMessage{
				Topic: *topic,
				Key:   sarama.StringEncoder(update.Username),
				Value: sarama.ByteEncoder(value),
			}:
				produced++
			case <-ctx.Done():
				break loop
			}

		case <-statsTicker.C:
			logger.Info("progress",
				"produced", produced,
				"sent", atomic.LoadInt64(&sent),
				"errors", atomic.LoadInt64(&failed),
			)
		}
	}

	producer.AsyncClose()
	wg.Wait()
	logger.Info("done", "sent", atomic.LoadInt64(&sent), "errors", atomic.LoadInt64(&failed))
}

// pickPlayer favors the first few players so the top of the ranking moves
func pickPlayer(n int) int {
	hot := n / 4
	if hot > 0 && rand.Intn(100) < 70 {
		return rand.Intn(hot)
	}
	return rand.Intn(n)
}

// nextUpdate plays one game for the player and returns the resulting totals
func nextUpdate(idx int, s *playerState) domain.ScoreUpdate {
	s.games++
	s.score += int64(rand.Intn(400) + 100)
	if rand.Intn(2) == 0 {
		s.wins++
	}
	s.level = 1 + s.games/10

	score, games, wins, level := s.score, s.games, s.wins, s.level
	now := time.Now().UTC()
	return domain.ScoreUpdate{
		Username:    fmt.Sprintf("Player%d", idx+1),
		TotalScore:  &score,
		GamesPlayed: &games,
		GamesWon:    &wins,
		Level:       &level,
		LastPlayed:  &now,
	}
}
