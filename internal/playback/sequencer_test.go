package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// recordingPlayer records playback order and whether plays overlap.
type recordingPlayer struct {
	mu        sync.Mutex
	playing   bool
	overlap   bool
	played    []string
	delays    map[string]time.Duration
	failBytes string
}

func (p *recordingPlayer) Play(ctx context.Context, mimeType string, data []byte) error {
	p.mu.Lock()
	if p.playing {
		p.overlap = true
	}
	p.playing = true
	p.played = append(p.played, string(data))
	delay := p.delays[string(data)]
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()

	if string(data) == p.failBytes {
		return errors.New("decoder error")
	}
	return nil
}

func TestSequencer_PlaysInArrivalOrder(t *testing.T) {
	player := &recordingPlayer{delays: map[string]time.Duration{
		"one":   30 * time.Millisecond,
		"two":   10 * time.Millisecond,
		"three": 1 * time.Millisecond,
	}}

	ctx := context.Background()
	seq := NewSequencer(ctx, player, zerolog.Nop())

	for _, payload := range []string{"one", "two", "three"} {
		if err := seq.Enqueue(ctx, []byte(payload)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	seq.Close()

	want := []string{"one", "two", "three"}
	if len(player.played) != len(want) {
		t.Fatalf("expected %d plays, got %v", len(want), player.played)
	}
	for i := range want {
		if player.played[i] != want[i] {
			t.Errorf("play %d: got %q, want %q", i, player.played[i], want[i])
		}
	}
	if player.overlap {
		t.Error("clips must play one at a time, found overlapping playback")
	}
}

func TestSequencer_FailedClipDoesNotBlockQueue(t *testing.T) {
	player := &recordingPlayer{failBytes: "bad"}

	ctx := context.Background()
	seq := NewSequencer(ctx, player, zerolog.Nop())

	for _, payload := range []string{"good", "bad", "also good"} {
		if err := seq.Enqueue(ctx, []byte(payload)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	seq.Close()

	if len(player.played) != 3 {
		t.Fatalf("expected all 3 clips attempted, got %v", player.played)
	}
}

func TestSequencer_EnqueueFailsAfterCancel(t *testing.T) {
	player := &recordingPlayer{delays: map[string]time.Duration{"slow": time.Hour}}

	ctx, cancel := context.WithCancel(context.Background())
	seq := NewSequencer(ctx, player, zerolog.Nop())
	cancel()

	// Fill the queue until the cancelled context is the only way out.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := seq.Enqueue(ctx, []byte("clip")); err != nil {
			return // got the expected context error
		}
	}
	t.Fatal("Enqueue never failed after cancellation")
}
