package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/raselinfo/voice-relay/internal/observability"
	"github.com/raselinfo/voice-relay/internal/tts"
)

// Result is one delivered synthesis outcome: the utterance text, its sequence
// index within the assistant turn, and the encoded audio payload.
type Result struct {
	Seq   int
	Text  string
	Audio []byte
}

type job struct {
	seq  int
	text string
}

// Dispatcher serializes synthesis calls for one session. Jobs are started in
// submission order, and job n+1's call does not start until job n's result
// has been received from Results.
//
// A failed synthesis call is logged and skipped; its sequence index simply
// never appears on Results, and the queue proceeds to the next job.
type Dispatcher struct {
	synth   tts.Synthesizer
	jobs    chan job
	results chan Result
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewDispatcher creates a Dispatcher and starts its single worker goroutine.
// The worker exits when Close is called and all accepted jobs are delivered,
// or when ctx is cancelled; either way Results is closed. metrics may be nil.
func NewDispatcher(ctx context.Context, synth tts.Synthesizer, logger zerolog.Logger, metrics *observability.Metrics) *Dispatcher {
	d := &Dispatcher{
		synth:   synth,
		jobs:    make(chan job, 16),
		results: make(chan Result), // unbuffered: delivery gates the next call
		logger:  logger,
		metrics: metrics,
	}
	go d.run(ctx)
	return d
}

// Submit enqueues one utterance for synthesis. Calls must arrive in emission
// order; seq is the utterance's position in the assistant turn. Submit blocks
// only when the intake queue is full, and fails once ctx is cancelled.
func (d *Dispatcher) Submit(ctx context.Context, seq int, text string) error {
	select {
	case d.jobs <- job{seq: seq, text: text}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher: submit utterance %d: %w", seq, ctx.Err())
	}
}

// Results returns the ordered delivery channel. It closes once Close has
// been called and every accepted job has been delivered or skipped.
func (d *Dispatcher) Results() <-chan Result {
	return d.results
}

// Close ends intake. Already-submitted jobs still run to completion.
// Close must not be called concurrently with Submit.
func (d *Dispatcher) Close() {
	close(d.jobs)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.results)

	for {
		var j job
		var ok bool
		select {
		case j, ok = <-d.jobs:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}

		if d.metrics != nil {
			d.metrics.RecordSynthesisStart()
		}
		audio, err := d.synth.Synthesize(ctx, j.text)
		if err != nil {
			// One dropped sentence degrades the conversation but must not
			// stall the rest of it.
			d.logger.Warn().Err(err).Int("seq", j.seq).Str("text", j.text).Msg("Synthesis failed, skipping utterance")
			if d.metrics != nil {
				d.metrics.RecordSynthesisEnd(false)
				d.metrics.RecordUtteranceDropped()
				d.metrics.RecordError("synthesis_failed", "tts")
			}
			continue
		}
		if d.metrics != nil {
			d.metrics.RecordSynthesisEnd(true)
		}

		select {
		case d.results <- Result{Seq: j.seq, Text: j.text, Audio: audio}:
		case <-ctx.Done():
			return
		}
	}
}
