// Package playback provides the client-side audio queue: synthesized clips
// arrive in delivery order and must be played strictly one at a time.
package playback

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/raselinfo/voice-relay/internal/audio"
)

// Player plays one decoded audio clip and returns when playback has ended.
type Player interface {
	Play(ctx context.Context, mimeType string, data []byte) error
}

type clip struct {
	mimeType string
	data     []byte
}

// Sequencer plays enqueued clips strictly sequentially: the next clip starts
// only after the previous one has ended. A play failure counts as ended, so
// one bad clip never blocks the queue.
type Sequencer struct {
	player Player
	queue  chan clip
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewSequencer starts the playback worker. The worker stops when ctx is
// cancelled or Close is called.
func NewSequencer(ctx context.Context, player Player, logger zerolog.Logger) *Sequencer {
	s := &Sequencer{
		player: player,
		queue:  make(chan clip, 32),
		logger: logger,
	}
	s.wg.Add(1)
	go s.run(ctx)
	return s
}

// Enqueue adds one clip to the playback queue. The MIME type is sniffed from
// the payload's byte header.
func (s *Sequencer) Enqueue(ctx context.Context, data []byte) error {
	select {
	case s.queue <- clip{mimeType: audio.DetectMIME(data), data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends intake and waits for every queued clip to finish playing.
// Close must not be called concurrently with Enqueue.
func (s *Sequencer) Close() {
	close(s.queue)
	s.wg.Wait()
}

func (s *Sequencer) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case c, ok := <-s.queue:
			if !ok {
				return
			}
			if err := s.player.Play(ctx, c.mimeType, c.data); err != nil {
				s.logger.Warn().Err(err).Int("bytes", len(c.data)).Msg("Playback failed, skipping clip")
			}
		case <-ctx.Done():
			return
		}
	}
}
