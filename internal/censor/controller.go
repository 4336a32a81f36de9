// Package censor implements the censorship state machine.
//
// A [Controller] is either [Idle] or [Triggering]. A detection moves it from
// Idle to Triggering with an atomic compare-and-swap; detections arriving
// while a session is in progress are dropped, not queued. Entering
// Triggering mutes the microphone input, shows a randomly chosen overlay
// video for the hold duration, and always reverts in the opposite order:
// the overlay is hidden before the microphone is unmuted.
package censor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/censorbot/internal/observe"
	"github.com/MrWong99/censorbot/internal/resilience"
	"github.com/MrWong99/censorbot/pkg/broadcast"
)

var (
	// ErrBusy is returned by [Controller.Trigger] while a session is active.
	ErrBusy = errors.New("censor: censorship already in progress")

	// ErrCleanup wraps failures to hide the overlay or unmute the microphone
	// during revert. The external state may be left inconsistent.
	//
	// A mute that times out is not a session and never yields ErrCleanup.
	// OBS may still have applied it, so Trigger sends one unmute before
	// returning; if that fails too the microphone may stay muted.
	ErrCleanup = errors.New("censor: cleanup failed")
)

// State is the controller's state tag.
type State int32

const (
	// Idle accepts the next detection.
	Idle State = iota

	// Triggering means a session is muting, holding or reverting.
	Triggering
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Triggering:
		return "triggering"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config holds the broadcast names and timings the controller acts on.
type Config struct {
	// MicInput is the OBS input muted during a session.
	MicInput string

	// OverlaySource is the media source whose file is replaced by the chosen
	// asset.
	OverlaySource string

	// Scene and OverlayItemID locate the overlay's scene item. They are
	// resolved once at startup.
	Scene         string
	OverlayItemID int

	// AssetDir is scanned for video files on every trigger.
	AssetDir string

	// Hold is how long the overlay stays visible. Default: 4s.
	Hold time.Duration

	// CleanupTimeout bounds each revert step including its retries. The hide
	// and the unmute get separate budgets. Default: 10s.
	CleanupTimeout time.Duration

	// CleanupRetry tunes the retries of each revert step. AttemptTimeout
	// defaults to a third of CleanupTimeout.
	CleanupRetry resilience.RetryConfig
}

// Option customises a [Controller].
type Option func(*Controller)

// WithRand sets the random source used to pick assets.
func WithRand(rng *rand.Rand) Option {
	return func(c *Controller) { c.rng = rng }
}

// WithSleep replaces the hold wait. The function must block for d.
func WithSleep(sleep func(d time.Duration)) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithMuteBreaker guards the initial mute with cb so a backend that keeps
// failing is not hammered on every detection.
func WithMuteBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Controller) { c.breaker = cb }
}

// Controller drives the censorship sequence against a [broadcast.Backend].
// Trigger is safe to call from several goroutines; at most one session runs
// at a time.
type Controller struct {
	backend broadcast.Backend
	cfg     Config

	state atomic.Int32

	mu   sync.Mutex
	sess *session

	// rng is only used while Triggering, which single-flight makes
	// exclusive.
	rng     *rand.Rand
	sleep   func(time.Duration)
	metrics *observe.Metrics
	breaker *resilience.CircuitBreaker
}

// New creates an idle Controller.
func New(backend broadcast.Backend, cfg Config, opts ...Option) *Controller {
	if cfg.Hold <= 0 {
		cfg.Hold = 4 * time.Second
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = 10 * time.Second
	}
	if cfg.CleanupRetry.Name == "" {
		cfg.CleanupRetry.Name = "censor-cleanup"
	}
	if cfg.CleanupRetry.AttemptTimeout <= 0 {
		cfg.CleanupRetry.AttemptTimeout = cfg.CleanupTimeout / 3
	}
	c := &Controller{
		backend: backend,
		cfg:     cfg,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		sleep:   time.Sleep,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "obs-mute"})
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Trigger runs one censorship session for matches. It returns nil without
// doing anything when matches is empty and [ErrBusy] when a session is
// already active.
//
// Once the microphone is muted the session runs to completion regardless of
// ctx: the hold is never cut short and revert always happens. A failed mute
// leaves the controller Idle. Errors from the asset or overlay steps are
// returned after the revert, joined with an [ErrCleanup] error if the revert
// itself failed.
func (c *Controller) Trigger(ctx context.Context, matches []string) (err error) {
	if len(matches) == 0 {
		return nil
	}
	if !c.state.CompareAndSwap(int32(Idle), int32(Triggering)) {
		c.metrics.RecordTrigger(ctx, observe.OutcomeBusy)
		observe.Logger(ctx).Debug("detection ignored, censorship in progress", "words", matches)
		return ErrBusy
	}

	ctx, span := observe.StartSpan(ctx, "censor.session")
	defer span.End()
	log := observe.Logger(ctx)

	g, err := c.begin(ctx, matches)
	if err != nil {
		c.state.Store(int32(Idle))
		c.metrics.RecordTrigger(ctx, observe.OutcomeMuteFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "mute failed")
		log.Warn("detection dropped: could not mute microphone", "words", matches, "err", err)
		if errors.Is(err, context.DeadlineExceeded) {
			c.unmuteAfterLostMute(ctx)
		}
		return err
	}
	span.SetAttributes(attribute.String("censor.session_id", g.s.id.String()))

	// From here on the session must revert no matter what.
	ctx = context.WithoutCancel(ctx)
	defer func() {
		if rerr := g.release(ctx); rerr != nil {
			err = errors.Join(err, rerr)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "censorship session failed")
		}
	}()

	log.Info("censorship started", "words", matches, "session", g.s.id)

	files, err := ListAssets(c.cfg.AssetDir)
	if err != nil {
		c.metrics.RecordTrigger(ctx, observe.OutcomeFailed)
		log.Error("cannot list overlay assets", "dir", c.cfg.AssetDir, "err", err)
		return err
	}
	asset, err := PickAsset(files, c.rng)
	if err != nil {
		c.metrics.RecordTrigger(ctx, observe.OutcomeEmptyAssets)
		log.Warn("no overlay video to show, reverting", "dir", c.cfg.AssetDir, "err", err)
		return err
	}
	c.mu.Lock()
	g.s.asset = asset
	c.mu.Unlock()

	if err := c.backend.SetInputSettings(ctx, c.cfg.OverlaySource, map[string]any{"local_file": asset}, false); err != nil {
		c.metrics.RecordTrigger(ctx, observe.OutcomeFailed)
		log.Error("cannot load overlay video", "source", c.cfg.OverlaySource, "asset", asset, "err", err)
		return fmt.Errorf("censor: set overlay file: %w", err)
	}

	// The request may reach OBS even if the reply is lost, so revert must
	// hide the overlay from this point on.
	g.s.overlayRequested = true
	if err := c.backend.SetSceneItemEnabled(ctx, c.cfg.Scene, c.cfg.OverlayItemID, true); err != nil {
		c.metrics.RecordTrigger(ctx, observe.OutcomeFailed)
		log.Error("cannot show overlay", "scene", c.cfg.Scene, "item", c.cfg.OverlayItemID, "err", err)
		return fmt.Errorf("censor: show overlay: %w", err)
	}

	log.Info("overlay shown", "asset", asset, "hold", g.s.hold)
	c.sleep(g.s.hold)
	c.metrics.RecordTrigger(ctx, observe.OutcomeCensored)
	return nil
}

// begin mutes the microphone and, on success, opens the session.
func (c *Controller) begin(ctx context.Context, matches []string) (*guard, error) {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.backend.SetInputMute(ctx, c.cfg.MicInput, true)
	})
	if err != nil {
		return nil, fmt.Errorf("censor: mute %q: %w", c.cfg.MicInput, err)
	}

	s := &session{
		id:      uuid.New(),
		started: time.Now(),
		hold:    c.cfg.Hold,
		words:   matches,
	}
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
	c.metrics.ActiveCensorSessions.Add(ctx, 1)
	return &guard{c: c, s: s}, nil
}

// unmuteAfterLostMute sends a single unmute for a mute whose reply never
// arrived. The request may have reached OBS.
func (c *Controller) unmuteAfterLostMute(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CleanupTimeout)
	defer cancel()
	if err := c.backend.SetInputMute(ctx, c.cfg.MicInput, false); err != nil {
		c.metrics.RecordCleanupFailure(ctx, "unmute")
		observe.Logger(ctx).Error("microphone may still be muted after a timed out mute",
			"input", c.cfg.MicInput, "err", err)
	}
}

// step runs one revert step under its own CleanupTimeout.
func (c *Controller) step(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CleanupTimeout)
	defer cancel()
	return resilience.Retry(ctx, c.cfg.CleanupRetry, fn)
}

// revert hides the overlay if it was requested, then unmutes. Each step is
// retried independently; a failed or hung hide does not skip the unmute.
func (c *Controller) revert(ctx context.Context, s *session) error {
	log := observe.Logger(ctx).With("session", s.id)

	var errs []error
	if s.overlayRequested {
		err := c.step(ctx, func(ctx context.Context) error {
			return c.backend.SetSceneItemEnabled(ctx, c.cfg.Scene, c.cfg.OverlayItemID, false)
		})
		if err != nil {
			c.metrics.RecordCleanupFailure(ctx, "hide")
			log.Error("cleanup failed: overlay may still be visible",
				"scene", c.cfg.Scene, "item", c.cfg.OverlayItemID, "err", err)
			errs = append(errs, fmt.Errorf("hide overlay: %w", err))
		}
	}

	err := c.step(ctx, func(ctx context.Context) error {
		return c.backend.SetInputMute(ctx, c.cfg.MicInput, false)
	})
	if err != nil {
		c.metrics.RecordCleanupFailure(ctx, "unmute")
		log.Error("cleanup failed: microphone may still be muted", "input", c.cfg.MicInput, "err", err)
		errs = append(errs, fmt.Errorf("unmute %q: %w", c.cfg.MicInput, err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrCleanup, errors.Join(errs...))
	}
	log.Info("microphone unmuted", "elapsed", time.Since(s.started).Round(time.Millisecond))
	return nil
}
