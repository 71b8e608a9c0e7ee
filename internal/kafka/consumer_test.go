package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/IBM/sarama"

	"github.com/player-leaderboard/internal/domain"
)

type recordingApplier struct {
	batches [][]domain.ScoreUpdate
}

func (r *recordingApplier) ApplyScoreUpdates(_ context.Context, updates []domain.ScoreUpdate) int {
	batch := make([]domain.ScoreUpdate, len(updates))
	copy(batch, updates)
	r.batches = append(r.batches, batch)
	return len(updates)
}

func TestDecodeScoreUpdate(t *testing.T) {
	cases := []struct {
		name    string
		value   string
		wantErr bool
		check   func(t *testing.T, u domain.ScoreUpdate)
	}{
		{
			name:  "by username",
			value: `{"username":"Player3","total_score":1200,"games_played":4}`,
			check: func(t *testing.T, u domain.ScoreUpdate) {
				if u.Username != "Player3" || u.TotalScore == nil || *u.TotalScore != 1200 {
					t.Fatalf("unexpected update: %+v", u)
				}
				if u.GamesPlayed == nil || *u.GamesPlayed != 4 || u.Level != nil {
					t.Fatalf("unexpected stats: %+v", u)
				}
			},
		},
		{
			name:  "by id with last played",
			value: `{"player_id":"7c9e6679-7425-40de-944b-e07fc1f90ae7","last_played":"2024-05-01T10:00:00Z"}`,
			check: func(t *testing.T, u domain.ScoreUpdate) {
				if u.LastPlayed == nil || u.LastPlayed.Year() != 2024 {
					t.Fatalf("unexpected last_played: %+v", u.LastPlayed)
				}
			},
		},
		{name: "not json", value: `score=5`, wantErr: true},
		{name: "no player", value: `{"total_score":5}`, wantErr: true},
		{name: "no fields", value: `{"username":"Player1"}`, wantErr: true},
		{name: "wrong type", value: `{"username":"Player1","total_score":"lots"}`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := DecodeScoreUpdate([]byte(tc.value))
			if tc.wantErr {
				if !errors.Is(err, domain.ErrInvalidRequest) {
					t.Fatalf("expected invalid request, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			tc.check(t, u)
		})
	}
}

func TestEncodeDecodeScoreUpdate(t *testing.T) {
	score := int64(42)
	data, err := EncodeScoreUpdate(domain.ScoreUpdate{Username: "Player9", TotalScore: &score})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	u, err := DecodeScoreUpdate(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if u.Username != "Player9" || *u.TotalScore != 42 {
		t.Fatalf("unexpected update: %+v", u)
	}
}

func scoreMessage(offset int64, value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "player-score-updates", Partition: 0, Offset: offset, Value: []byte(value)}
}

func TestBatcherFlushesBySizeAndSkipsBadMessages(t *testing.T) {
	applier := &recordingApplier{}
	var marked []int64
	b := newBatcher(applier, 2, slog.New(slog.NewTextHandler(io.Discard, nil)), func(msg *sarama.ConsumerMessage) {
		marked = append(marked, msg.Offset)
	})

	if b.add(scoreMessage(1, `{"username":"a","total_score":1}`)) {
		t.Fatal("first message should not flush")
	}
	if b.add(scoreMessage(2, `garbage`)) {
		t.Fatal("bad message should not flush")
	}
	if len(marked) != 0 {
		t.Fatalf("offsets marked before the batch was applied: %v", marked)
	}
	if !b.add(scoreMessage(3, `{"username":"b","total_score":2}`)) {
		t.Fatal("second valid message should flush")
	}
	if len(applier.batches) != 1 || len(applier.batches[0]) != 2 {
		t.Fatalf("unexpected batches: %+v", applier.batches)
	}
	if len(marked) != 1 || marked[0] != 3 {
		t.Fatalf("expected offset 3 marked after apply, got %v", marked)
	}

	b.add(scoreMessage(4, `{"username":"c","level":3}`))
	if len(marked) != 1 {
		t.Fatalf("pending message marked early: %v", marked)
	}
	b.flush()
	b.flush()
	if len(applier.batches) != 2 || applier.batches[1][0].Username != "c" {
		t.Fatalf("unexpected batches after flush: %+v", applier.batches)
	}
	if len(marked) != 2 || marked[1] != 4 {
		t.Fatalf("expected offset 4 marked once, got %v", marked)
	}
}

func TestBatcherMarksSkippedMessagesOnFlush(t *testing.T) {
	applier := &recordingApplier{}
	var marked []int64
	b := newBatcher(applier, 10, slog.New(slog.NewTextHandler(io.Discard, nil)), func(msg *sarama.ConsumerMessage) {
		marked = append(marked, msg.Offset)
	})

	b.add(scoreMessage(7, `not json`))
	b.flush()
	if len(applier.batches) != 0 {
		t.Fatalf("nothing should be applied, got %+v", applier.batches)
	}
	if len(marked) != 1 || marked[0] != 7 {
		t.Fatalf("expected skipped offset 7 marked, got %v", marked)
	}
}
