// Package app wires the censorbot stages into a running application.
//
// New connects to OBS, verifies that the configured sources exist, loads the
// word list and the speech model. Run starts capture, recognition and the
// observability listener and blocks until ctx is cancelled or a stage fails.
// Shutdown releases what New acquired.
//
// Tests inject doubles with [WithBackend], [WithOpener] and [WithModel]; when
// an option is not given, New builds the real implementation from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/censorbot/internal/censor"
	"github.com/MrWong99/censorbot/internal/config"
	"github.com/MrWong99/censorbot/internal/health"
	"github.com/MrWong99/censorbot/internal/listen"
	"github.com/MrWong99/censorbot/internal/observe"
	"github.com/MrWong99/censorbot/internal/profanity"
	"github.com/MrWong99/censorbot/internal/resilience"
	"github.com/MrWong99/censorbot/pkg/audio"
	"github.com/MrWong99/censorbot/pkg/audio/microphone"
	"github.com/MrWong99/censorbot/pkg/broadcast"
	"github.com/MrWong99/censorbot/pkg/broadcast/obsws"
	"github.com/MrWong99/censorbot/pkg/provider/stt"
	"github.com/MrWong99/censorbot/pkg/provider/stt/whisper"
)

// ErrMissingInput is returned by [New] when a configured OBS input does not
// exist.
var ErrMissingInput = errors.New("app: input not found in OBS")

// captureStaleAfter is how long the capture stage may go without a frame
// before /readyz reports it.
const captureStaleAfter = 5 * time.Second

// App owns the lifetimes of the broadcast connection, the speech model and
// the pipeline stages.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	backend broadcast.Backend
	opener  audio.Opener
	model   stt.Model
	words   profanity.WordSet

	scene  string
	itemID int

	queue      *audio.FrameQueue
	controller *censor.Controller
	health     *health.Handler
	censorOpts []censor.Option

	lastFrame atomic.Int64

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithBackend uses b instead of dialing OBS. Shutdown closes it.
func WithBackend(b broadcast.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithOpener uses o instead of the PortAudio microphone.
func WithOpener(o audio.Opener) Option {
	return func(a *App) { a.opener = o }
}

// WithModel uses m instead of loading a whisper model. Shutdown closes it.
func WithModel(m stt.Model) Option {
	return func(a *App) { a.model = m }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithCensorOptions passes extra options to the censor controller.
func WithCensorOptions(opts ...censor.Option) Option {
	return func(a *App) { a.censorOpts = append(a.censorOpts, opts...) }
}

// New creates an App. It fails when OBS cannot be reached, when the
// microphone or overlay input is missing, or when the speech model cannot be
// loaded. Resources acquired before a failure are released.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			_ = a.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	if err := a.initWords(); err != nil {
		return nil, err
	}
	if err := a.initBackend(ctx); err != nil {
		return nil, err
	}
	if err := a.checkOBS(ctx); err != nil {
		return nil, err
	}
	if err := a.initModel(); err != nil {
		return nil, err
	}
	if err := a.initOpener(); err != nil {
		return nil, err
	}

	a.queue = audio.NewFrameQueue(cfg.Queue.Capacity)

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:          "obs-mute",
		OnStateChange: a.breakerChanged,
	})
	copts := append([]censor.Option{
		censor.WithMetrics(a.metrics),
		censor.WithMuteBreaker(breaker),
	}, a.censorOpts...)
	a.controller = censor.New(a.backend, censor.Config{
		MicInput:      cfg.Microphone.InputName,
		OverlaySource: cfg.Overlay.SourceName,
		Scene:         a.scene,
		OverlayItemID: a.itemID,
		AssetDir:      cfg.Overlay.AssetDir,
		Hold:          cfg.Overlay.Hold,
	}, copts...)

	a.health = health.New(
		health.Checker{Name: "obs", Check: a.checkBackend},
		health.Checker{Name: "capture", Check: a.checkCapture},
	).WithInfo(
		health.Info{Name: "censor", Value: func() string { return a.controller.State().String() }},
		health.Info{Name: "queue_depth", Value: func() string { return fmt.Sprint(a.queue.Len()) }},
	)

	return a, nil
}

func (a *App) initWords() error {
	var err error
	if a.words, err = profanity.LoadWordList(a.cfg.Words.File); err != nil {
		return fmt.Errorf("app: word list: %w", err)
	}
	if a.cfg.Words.File != "" {
		slog.Info("loaded custom word list", "path", a.cfg.Words.File,
			"custom", a.words.Len()-len(profanity.DefaultWords), "total", a.words.Len())
	}
	return nil
}

func (a *App) initBackend(ctx context.Context) error {
	if a.backend == nil {
		c, err := obsws.Dial(ctx, a.cfg.OBS.Host, a.cfg.OBS.Port, a.cfg.OBS.Password,
			obsws.WithRequestTimeout(a.cfg.OBS.RequestTimeout),
			obsws.WithRequestObserver(func(request string, latency time.Duration, err error) {
				a.metrics.RecordOBSRequest(context.Background(), request, latency, err)
			}),
		)
		if err != nil {
			return fmt.Errorf("app: connect to OBS at %s:%d: %w", a.cfg.OBS.Host, a.cfg.OBS.Port, err)
		}
		slog.Info("connected to OBS", "host", a.cfg.OBS.Host, "port", a.cfg.OBS.Port, "obs_version", c.ServerVersion())
		a.backend = c
	}
	a.closers = append(a.closers, a.backend.Close)
	return nil
}

// checkOBS verifies the configured sources, resolves the overlay's scene item
// and makes sure the overlay starts hidden.
func (a *App) checkOBS(ctx context.Context) error {
	inputs, err := a.backend.ListInputs(ctx)
	if err != nil {
		return fmt.Errorf("app: list OBS inputs: %w", err)
	}
	for _, name := range []string{a.cfg.Microphone.InputName, a.cfg.Overlay.SourceName} {
		if !slices.Contains(inputs, name) {
			return fmt.Errorf("%w: %q (available: %s); create it in OBS or fix the config",
				ErrMissingInput, name, strings.Join(inputs, ", "))
		}
	}

	a.scene, err = a.backend.CurrentScene(ctx)
	if err != nil {
		return fmt.Errorf("app: current OBS scene: %w", err)
	}
	a.itemID, err = a.backend.SceneItemID(ctx, a.scene, a.cfg.Overlay.SourceName)
	if err != nil {
		if errors.Is(err, broadcast.ErrNotFound) {
			return fmt.Errorf("app: overlay source %q is not in the current scene %q; add it to the scene: %w",
				a.cfg.Overlay.SourceName, a.scene, err)
		}
		return fmt.Errorf("app: resolve overlay scene item: %w", err)
	}
	if err := a.backend.SetSceneItemEnabled(ctx, a.scene, a.itemID, false); err != nil {
		return fmt.Errorf("app: hide overlay: %w", err)
	}

	files, err := censor.ListAssets(a.cfg.Overlay.AssetDir)
	switch {
	case err != nil:
		slog.Warn("overlay asset directory is not readable; detections will only mute", "dir", a.cfg.Overlay.AssetDir, "err", err)
	case len(files) == 0:
		slog.Warn("overlay asset directory holds no video; detections will only mute", "dir", a.cfg.Overlay.AssetDir)
	default:
		slog.Info("overlay assets found", "dir", a.cfg.Overlay.AssetDir, "videos", len(files))
	}

	slog.Info("OBS sources verified",
		"mic_input", a.cfg.Microphone.InputName,
		"overlay", a.cfg.Overlay.SourceName,
		"scene", a.scene,
		"item_id", a.itemID,
	)
	return nil
}

func (a *App) initModel() error {
	if a.model == nil {
		m, err := buildModel(a.cfg.Recognition, a.breakerChanged)
		if err != nil {
			return fmt.Errorf("app: speech model: %w", err)
		}
		a.model = m
	}
	a.closers = append(a.closers, a.model.Close)
	return nil
}

// buildModel picks the in-process model, the whisper server, or both with
// the server as fallback.
func buildModel(rc config.RecognitionConfig, onBreaker func(string, resilience.State, resilience.State)) (stt.Model, error) {
	opts := []whisper.Option{
		whisper.WithLanguage(rc.Language),
		whisper.WithRMSThreshold(rc.RMSThreshold),
		whisper.WithSilenceMs(rc.SilenceMs),
		whisper.WithMaxUtteranceMs(rc.MaxUtteranceMs),
	}
	switch {
	case rc.ModelPath != "" && rc.ServerURL != "":
		native, err := whisper.OpenNative(rc.ModelPath, opts...)
		if err != nil {
			return nil, err
		}
		server, err := whisper.NewServerTranscriber(rc.ServerURL, opts...)
		if err != nil {
			_ = native.Close()
			return nil, err
		}
		fb := resilience.NewTranscriberFallback("native", native, resilience.CircuitBreakerConfig{
			Name:          "whisper",
			OnStateChange: onBreaker,
		})
		fb.AddFallback("server", server)
		slog.Info("speech model loaded", "model", rc.ModelPath, "fallback", rc.ServerURL)
		return whisper.New(fb, opts...), nil
	case rc.ModelPath != "":
		m, err := whisper.LoadModel(rc.ModelPath, opts...)
		if err != nil {
			return nil, err
		}
		slog.Info("speech model loaded", "model", rc.ModelPath)
		return m, nil
	case rc.ServerURL != "":
		m, err := whisper.NewServer(rc.ServerURL, opts...)
		if err != nil {
			return nil, err
		}
		slog.Info("using whisper server", "url", rc.ServerURL)
		return m, nil
	default:
		return nil, errors.New("no model_path or server_url configured")
	}
}

func (a *App) initOpener() error {
	if a.opener != nil {
		return nil
	}
	release, err := microphone.Init()
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.closers = append(a.closers, func() error { release(); return nil })
	a.opener = microphone.Opener{}
	return nil
}

func (a *App) breakerChanged(name string, from, to resilience.State) {
	slog.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
	a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
}

// Controller returns the censor controller.
func (a *App) Controller() *censor.Controller { return a.controller }

// Handler returns the observability HTTP handler: /healthz, /readyz and
// /metrics behind [observe.Middleware].
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// Run starts the pipeline and blocks until ctx is cancelled or a stage fails.
// A censorship session in progress is completed, including its revert, before
// Run returns. Run returns nil after cancellation and the first stage error
// otherwise, e.g. an [*audio.CaptureError].
func (a *App) Run(ctx context.Context) error {
	rec, err := a.model.NewRecognizer(a.cfg.Microphone.SampleRate)
	if err != nil {
		return fmt.Errorf("app: create recognizer: %w", err)
	}
	defer rec.Close()

	reg, err := a.metrics.ObserveQueue(a.queue)
	if err != nil {
		return fmt.Errorf("app: observe queue: %w", err)
	}
	defer func() { _ = reg.Unregister() }()

	source := audio.NewSource(a.opener, audio.StreamConfig{
		Device:     a.cfg.Microphone.Device,
		SampleRate: a.cfg.Microphone.SampleRate,
		BlockSize:  a.cfg.Microphone.BlockSize,
		Channels:   1,
	}, audio.WithFrameHook(func(audio.AudioFrame) {
		a.metrics.FramesCaptured.Add(ctx, 1)
		a.lastFrame.Store(time.Now().UnixNano())
	}))
	stage := listen.New(a.queue, rec,
		listen.CensorHandler(a.words, a.controller, a.metrics),
		listen.WithPollTimeout(a.cfg.Queue.PollTimeout),
		listen.WithMetrics(a.metrics),
	)

	g, gctx := errgroup.WithContext(ctx)
	a.lastFrame.Store(time.Now().UnixNano())
	g.Go(func() error { return source.Run(gctx, a.queue) })
	g.Go(func() error { return stage.Run(gctx) })
	if a.cfg.ListenAddr != "" {
		srv := &http.Server{
			Addr:              a.cfg.ListenAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("observability listener started", "addr", a.cfg.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	a.health.MarkStarted()
	slog.Info("censorbot ready",
		"mic_input", a.cfg.Microphone.InputName,
		"overlay", a.cfg.Overlay.SourceName,
		"words", a.words.Len(),
		"hold", a.cfg.Overlay.Hold,
	)

	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		slog.Error("pipeline stopped", "err", err)
	}
	return err
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (a *App) checkBackend(ctx context.Context) error {
	if p, ok := a.backend.(pinger); ok {
		return p.Ping(ctx)
	}
	_, err := a.backend.CurrentScene(ctx)
	return err
}

func (a *App) checkCapture(context.Context) error {
	since := time.Since(time.Unix(0, a.lastFrame.Load()))
	if since > captureStaleAfter {
		return fmt.Errorf("no audio frame for %s", since.Round(time.Second))
	}
	return nil
}

// Shutdown releases the OBS connection, the speech model and the audio
// subsystem. If ctx expires first, the remaining closers are skipped.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("shutdown: close failed", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
