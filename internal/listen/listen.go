// Package listen runs the recognition-and-control stage: it drains the frame
// queue into a speech recognizer and hands each finalized utterance to a
// [FinalHandler], typically one built by [CensorHandler].
//
// The stage is single-threaded. A handler that blocks (a censorship hold)
// stalls recognition, and frames accumulate in the bounded queue until it
// returns.
package listen

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrWong99/censorbot/internal/censor"
	"github.com/MrWong99/censorbot/internal/observe"
	"github.com/MrWong99/censorbot/internal/profanity"
	"github.com/MrWong99/censorbot/pkg/audio"
	"github.com/MrWong99/censorbot/pkg/provider/stt"
)

// DefaultPollTimeout is how long a queue poll waits before the stage checks
// for cancellation again.
const DefaultPollTimeout = 200 * time.Millisecond

// FinalHandler receives every non-empty Final result, in order, on the stage
// goroutine.
type FinalHandler func(ctx context.Context, res stt.Result)

// Option customises a [Stage].
type Option func(*Stage)

// WithPollTimeout sets the queue poll timeout.
func WithPollTimeout(d time.Duration) Option {
	return func(s *Stage) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Stage) { s.metrics = m }
}

// Stage feeds queued frames to a recognizer in arrival order.
type Stage struct {
	queue   *audio.FrameQueue
	rec     stt.Recognizer
	handle  FinalHandler
	poll    time.Duration
	metrics *observe.Metrics
}

// New creates a Stage. The caller keeps ownership of rec and closes it after
// Run returns.
func New(q *audio.FrameQueue, rec stt.Recognizer, handle FinalHandler, opts ...Option) *Stage {
	s := &Stage{queue: q, rec: rec, handle: handle, poll: DefaultPollTimeout}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Run processes frames until ctx is cancelled and then returns nil.
// Recognition errors are logged and the offending frame is skipped; they
// never stop the stage. Frames still queued at cancellation are discarded.
func (s *Stage) Run(ctx context.Context) error {
	log := observe.Logger(ctx)
	log.Info("recognition stage started", "poll_timeout", s.poll)
	defer log.Info("recognition stage stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		frame, ok := s.queue.Pop(s.poll)
		if !ok {
			continue
		}

		boundary, err := s.rec.AcceptFrame(frame.Data)
		if err != nil {
			s.skip(ctx, "accept", frame, err)
			continue
		}
		if !boundary {
			continue
		}

		start := time.Now()
		res, err := s.rec.Result()
		s.metrics.RecognitionDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			s.skip(ctx, "result", frame, err)
			continue
		}
		if !res.IsFinal() || strings.TrimSpace(res.Text) == "" {
			continue
		}

		s.metrics.Utterances.Add(ctx, 1)
		log.Debug("utterance", "text", res.Text, "audio", res.Duration, "at", frame.Timestamp)
		s.handle(ctx, res)
	}
}

func (s *Stage) skip(ctx context.Context, step string, frame audio.AudioFrame, err error) {
	s.metrics.RecognitionErrors.Add(ctx, 1)
	observe.Logger(ctx).Warn("recognition error, frame skipped",
		"step", step, "at", frame.Timestamp, "err", err)
}

// Triggerer starts a censorship session. [*censor.Controller] implements it.
type Triggerer interface {
	Trigger(ctx context.Context, matches []string) error
}

// CensorHandler returns a [FinalHandler] that matches each utterance against
// words and triggers t on any match. Trigger errors have already been logged
// by the controller; busy rejections are expected and ignored.
func CensorHandler(words profanity.WordSet, t Triggerer, m *observe.Metrics) FinalHandler {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return func(ctx context.Context, res stt.Result) {
		matches := profanity.Detect(res.Text, words)
		if len(matches) == 0 {
			return
		}
		m.RecordDetections(ctx, matches)
		observe.Logger(ctx).Info("profanity detected", "words", matches)
		if err := t.Trigger(ctx, matches); err != nil && !errors.Is(err, censor.ErrBusy) {
			observe.Logger(ctx).Debug("censorship attempt failed", "words", matches, "err", err)
		}
	}
}
