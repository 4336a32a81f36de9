package censor_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/censorbot/internal/censor"
	"github.com/MrWong99/censorbot/internal/observe"
	"github.com/MrWong99/censorbot/internal/profanity"
	"github.com/MrWong99/censorbot/internal/resilience"
	"github.com/MrWong99/censorbot/pkg/broadcast/mock"
)

const (
	micInput = "Mic/Aux"
	overlay  = "SneezeCat"
	itemID   = 2 // mock.New assigns ids in argument order
)

var errOBS = errors.New("obs: request failed")

// assetDir returns a directory holding the named files.
func assetDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// eventLog interleaves backend calls with the hold so tests can assert
// ordering between them.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

type fixture struct {
	backend *mock.Backend
	ctrl    *censor.Controller
	log     *eventLog
	reader  *sdkmetric.ManualReader
}

func newFixture(t *testing.T, dir string, opts ...censor.Option) *fixture {
	t.Helper()
	f := &fixture{backend: mock.New(micInput, overlay), log: &eventLog{}}
	f.backend.OnCall = func(c mock.Call) {
		switch c.Op {
		case mock.OpSetInputMute, mock.OpSetSceneItemEnabled, mock.OpSetInputSettings:
			f.log.add(c.String())
		}
	}

	f.reader = sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(f.reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	base := []censor.Option{
		censor.WithRand(rand.New(rand.NewPCG(1, 2))),
		censor.WithSleep(func(d time.Duration) { f.log.add("hold " + d.String()) }),
		censor.WithMetrics(m),
	}
	f.ctrl = censor.New(f.backend, censor.Config{
		MicInput:      micInput,
		OverlaySource: overlay,
		Scene:         "Scene",
		OverlayItemID: itemID,
		AssetDir:      dir,
		Hold:          4 * time.Second,
		CleanupRetry:  resilience.RetryConfig{Attempts: 3, Backoff: time.Millisecond},
	}, append(base, opts...)...)
	return f
}

func (f *fixture) assertReverted(t *testing.T) {
	t.Helper()
	if f.backend.Muted(micInput) {
		t.Error("microphone left muted")
	}
	if f.backend.ItemEnabled(itemID) {
		t.Error("overlay left visible")
	}
	if st := f.ctrl.State(); st != censor.Idle {
		t.Errorf("State() = %v, want idle", st)
	}
	if _, ok := f.ctrl.Active(); ok {
		t.Error("session still active after revert")
	}
}

func triggerCount(t *testing.T, reader *sdkmetric.ManualReader, outcome string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "censorbot.censor.triggers" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				if v, _ := dp.Attributes.Value("outcome"); v.AsString() == outcome {
					return dp.Value
				}
			}
		}
	}
	return 0
}

func TestTrigger_FullSequence(t *testing.T) {
	dir := assetDir(t, "cat.mp4")
	f := newFixture(t, dir)

	matches := profanity.Detect("well damn it", profanity.NewWordSet("damn"))
	if !slices.Equal(matches, []string{"damn"}) {
		t.Fatalf("Detect = %v, want [damn]", matches)
	}
	if err := f.ctrl.Trigger(context.Background(), matches); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	want := []string{
		"SetInputMute(Mic/Aux,true)",
		"SetInputSettings(SneezeCat,map[local_file:" + filepath.Join(dir, "cat.mp4") + "])",
		"SetSceneItemEnabled(Scene,2,true)",
		"hold 4s",
		"SetSceneItemEnabled(Scene,2,false)",
		"SetInputMute(Mic/Aux,false)",
	}
	if got := f.log.get(); !slices.Equal(got, want) {
		t.Errorf("events:\n got %q\nwant %q", got, want)
	}
	settings := f.backend.CallsOf(mock.OpSetInputSettings)
	if len(settings) != 1 || settings[0].Overlay {
		t.Errorf("SetInputSettings calls = %+v, want one with overlay=false", settings)
	}
	f.assertReverted(t)
	if got := triggerCount(t, f.reader, observe.OutcomeCensored); got != 1 {
		t.Errorf("censored triggers = %d, want 1", got)
	}
}

func TestTrigger_NoMatchesIsNoop(t *testing.T) {
	f := newFixture(t, assetDir(t, "cat.mp4"))
	if err := f.ctrl.Trigger(context.Background(), nil); err != nil {
		t.Fatalf("Trigger(nil) = %v", err)
	}
	if calls := f.backend.Calls(); len(calls) != 0 {
		t.Errorf("backend calls = %v, want none", calls)
	}
}

func TestTrigger_EmptyAssetDirectory(t *testing.T) {
	f := newFixture(t, assetDir(t, "notes.txt", "thumb.png"))

	err := f.ctrl.Trigger(context.Background(), []string{"damn"})
	if !errors.Is(err, censor.ErrEmptyAssetDirectory) {
		t.Fatalf("Trigger err = %v, want ErrEmptyAssetDirectory", err)
	}
	want := []string{"SetInputMute(Mic/Aux,true)", "SetInputMute(Mic/Aux,false)"}
	if got := f.log.get(); !slices.Equal(got, want) {
		t.Errorf("events = %q, want %q", got, want)
	}
	if n := len(f.backend.CallsOf(mock.OpSetSceneItemEnabled)); n != 0 {
		t.Errorf("SetSceneItemEnabled called %d times, want 0", n)
	}
	f.assertReverted(t)
	if got := triggerCount(t, f.reader, observe.OutcomeEmptyAssets); got != 1 {
		t.Errorf("empty_assets triggers = %d, want 1", got)
	}
}

func TestTrigger_BusyWhileHolding(t *testing.T) {
	holding := make(chan struct{})
	release := make(chan struct{})
	f := newFixture(t, assetDir(t, "cat.mp4"), censor.WithSleep(func(time.Duration) {
		close(holding)
		<-release
	}))

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Trigger(context.Background(), []string{"damn"}) }()
	<-holding

	if st := f.ctrl.State(); st != censor.Triggering {
		t.Fatalf("State() during hold = %v, want triggering", st)
	}
	info, ok := f.ctrl.Active()
	if !ok || info.ID == "" || !strings.HasSuffix(info.Asset, "cat.mp4") || !slices.Equal(info.Words, []string{"damn"}) {
		t.Errorf("Active() = %+v, %v", info, ok)
	}

	before := len(f.backend.Calls())
	if err := f.ctrl.Trigger(context.Background(), []string{"hell"}); !errors.Is(err, censor.ErrBusy) {
		t.Errorf("second Trigger = %v, want ErrBusy", err)
	}
	if after := len(f.backend.Calls()); after != before {
		t.Errorf("second detection made %d backend calls, want 0", after-before)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Trigger: %v", err)
	}
	f.assertReverted(t)
	if got := triggerCount(t, f.reader, observe.OutcomeBusy); got != 1 {
		t.Errorf("busy triggers = %d, want 1", got)
	}
}

func TestTrigger_SingleFlightUnderConcurrency(t *testing.T) {
	release := make(chan struct{})
	var holds sync.WaitGroup
	holds.Add(1)
	var once sync.Once
	f := newFixture(t, assetDir(t, "a.mp4", "b.webm"), censor.WithSleep(func(time.Duration) {
		once.Do(holds.Done)
		<-release
	}))

	const callers = 16
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.ctrl.Trigger(context.Background(), []string{"damn"})
		}()
	}

	holds.Wait()
	// Everyone except the winner is turned away while it holds.
	for range callers - 1 {
		if err := <-errs; !errors.Is(err, censor.ErrBusy) {
			t.Errorf("Trigger = %v, want ErrBusy", err)
		}
	}
	close(release)
	wg.Wait()
	if err := <-errs; err != nil {
		t.Errorf("winning Trigger = %v", err)
	}

	if n := len(f.backend.CallsOf(mock.OpSetInputSettings)); n != 1 {
		t.Errorf("asset selections = %d, want 1", n)
	}
	mutes := f.backend.CallsOf(mock.OpSetInputMute)
	if len(mutes) != 2 || !mutes[0].Muted || mutes[1].Muted {
		t.Errorf("mute calls = %v, want one mute/unmute pair", mutes)
	}
	f.assertReverted(t)
}

func TestTrigger_RevertsOnFailureAfterMute(t *testing.T) {
	tests := []struct {
		name    string
		dir     func(t *testing.T) string
		inject  func(b *mock.Backend)
		wantErr error
		want    []string
	}{
		{
			name:    "asset directory missing",
			dir:     func(t *testing.T) string { return filepath.Join(t.TempDir(), "gone") },
			wantErr: os.ErrNotExist,
			want:    []string{"SetInputMute(Mic/Aux,true)", "SetInputMute(Mic/Aux,false)"},
		},
		{
			name:    "set overlay file fails",
			dir:     func(t *testing.T) string { return assetDir(t, "cat.mkv") },
			inject:  func(b *mock.Backend) { b.SetErr(mock.OpSetInputSettings, errOBS) },
			wantErr: errOBS,
			want:    []string{"SetInputMute(Mic/Aux,true)", "SetInputSettings", "SetInputMute(Mic/Aux,false)"},
		},
		{
			name:    "show overlay fails",
			dir:     func(t *testing.T) string { return assetDir(t, "cat.MOV") },
			inject:  func(b *mock.Backend) { b.SetErr(mock.OpSetSceneItemEnabled, errOBS) },
			wantErr: errOBS,
			want: []string{
				"SetInputMute(Mic/Aux,true)",
				"SetInputSettings",
				"SetSceneItemEnabled(Scene,2,true)",
				"SetSceneItemEnabled(Scene,2,false)",
				"SetInputMute(Mic/Aux,false)",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.dir(t))
			if tt.inject != nil {
				tt.inject(f.backend)
			}

			err := f.ctrl.Trigger(context.Background(), []string{"damn"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Trigger err = %v, want %v", err, tt.wantErr)
			}
			if errors.Is(err, censor.ErrCleanup) {
				t.Errorf("revert reported failure: %v", err)
			}

			var got []string
			for _, e := range f.log.get() {
				if strings.HasPrefix(e, "SetInputSettings") {
					e = "SetInputSettings"
				}
				if strings.HasPrefix(e, "hold") {
					t.Errorf("held after a failed step: %q", e)
				}
				got = append(got, e)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("events:\n got %q\nwant %q", got, tt.want)
			}
			f.assertReverted(t)
		})
	}
}

func TestTrigger_MuteFailureDropsDetection(t *testing.T) {
	f := newFixture(t, assetDir(t, "cat.mp4"))
	f.backend.SetErr(mock.OpSetInputMute, errOBS)

	err := f.ctrl.Trigger(context.Background(), []string{"damn"})
	if !errors.Is(err, errOBS) {
		t.Fatalf("Trigger err = %v, want errOBS", err)
	}
	if got := f.log.get(); !slices.Equal(got, []string{"SetInputMute(Mic/Aux,true)"}) {
		t.Errorf("events = %q, want only the failed mute", got)
	}
	if st := f.ctrl.State(); st != censor.Idle {
		t.Errorf("State() = %v, want idle", st)
	}
	if got := triggerCount(t, f.reader, observe.OutcomeMuteFailed); got != 1 {
		t.Errorf("mute_failed triggers = %d, want 1", got)
	}

	// The controller is usable again.
	if err := f.ctrl.Trigger(context.Background(), []string{"damn"}); err != nil {
		t.Fatalf("Trigger after mute failure: %v", err)
	}
	f.assertReverted(t)
}

func TestTrigger_MuteBreakerOpens(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "obs-mute", MaxFailures: 1, ResetTimeout: time.Hour})
	f := newFixture(t, assetDir(t, "cat.mp4"), censor.WithMuteBreaker(cb))
	f.backend.SetErr(mock.OpSetInputMute, errOBS)

	_ = f.ctrl.Trigger(context.Background(), []string{"damn"})
	err := f.ctrl.Trigger(context.Background(), []string{"damn"})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("Trigger err = %v, want ErrCircuitOpen", err)
	}
	if n := len(f.backend.CallsOf(mock.OpSetInputMute)); n != 1 {
		t.Errorf("mute attempts = %d, want 1 (breaker open)", n)
	}
	if st := f.ctrl.State(); st != censor.Idle {
		t.Errorf("State() = %v, want idle", st)
	}
}

func TestTrigger_CleanupFailure(t *testing.T) {
	f := newFixture(t, assetDir(t, "cat.mp4"))
	// Mute succeeds; every unmute attempt fails.
	f.backend.SetErr(mock.OpSetInputMute, nil, errOBS, errOBS, errOBS)

	err := f.ctrl.Trigger(context.Background(), []string{"damn"})
	if !errors.Is(err, censor.ErrCleanup) || !errors.Is(err, errOBS) {
		t.Fatalf("Trigger err = %v, want ErrCleanup wrapping errOBS", err)
	}
	if n := len(f.backend.CallsOf(mock.OpSetInputMute)); n != 4 {
		t.Errorf("mute calls = %d, want 1 mute + 3 unmute attempts", n)
	}
	if f.backend.ItemEnabled(itemID) {
		t.Error("overlay left visible")
	}
	if st := f.ctrl.State(); st != censor.Idle {
		t.Errorf("State() = %v, want idle after failed cleanup", st)
	}
}

func TestTrigger_HideFailureStillUnmutes(t *testing.T) {
	f := newFixture(t, assetDir(t, "cat.mp4"))
	// Show succeeds; every hide attempt fails.
	f.backend.SetErr(mock.OpSetSceneItemEnabled, nil, errOBS, errOBS, errOBS)

	err := f.ctrl.Trigger(context.Background(), []string{"damn"})
	if !errors.Is(err, censor.ErrCleanup) {
		t.Fatalf("Trigger err = %v, want ErrCleanup", err)
	}
	if f.backend.Muted(micInput) {
		t.Error("microphone left muted after hide failure")
	}
	if st := f.ctrl.State(); st != censor.Idle {
		t.Errorf("State() = %v, want idle", st)
	}
}

// hangingHide never answers a hide request; it fails once ctx is done, the
// way a request whose reply is lost does.
type hangingHide struct {
	*mock.Backend
}

func (h hangingHide) SetSceneItemEnabled(ctx context.Context, scene string, id int, enabled bool) error {
	if !enabled {
		<-ctx.Done()
		return ctx.Err()
	}
	return h.Backend.SetSceneItemEnabled(ctx, scene, id, enabled)
}

func TestTrigger_HungHideStillUnmutes(t *testing.T) {
	b := mock.New(micInput, overlay)
	ctrl := censor.New(hangingHide{b}, censor.Config{
		MicInput:       micInput,
		OverlaySource:  overlay,
		Scene:          "Scene",
		OverlayItemID:  itemID,
		AssetDir:       assetDir(t, "cat.mp4"),
		CleanupTimeout: 50 * time.Millisecond,
		CleanupRetry:   resilience.RetryConfig{Attempts: 2, Backoff: time.Millisecond},
	}, censor.WithSleep(func(time.Duration) {}))

	start := time.Now()
	err := ctrl.Trigger(context.Background(), []string{"damn"})
	if !errors.Is(err, censor.ErrCleanup) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Trigger err = %v, want ErrCleanup wrapping DeadlineExceeded", err)
	}
	if b.Muted(micInput) {
		t.Error("microphone left muted after hung hide")
	}
	var got []string
	for _, c := range b.CallsOf(mock.OpSetInputMute) {
		got = append(got, c.String())
	}
	if want := []string{"SetInputMute(Mic/Aux,true)", "SetInputMute(Mic/Aux,false)"}; !slices.Equal(got, want) {
		t.Errorf("mute calls = %q, want %q", got, want)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Trigger took %v", elapsed)
	}
	if st := ctrl.State(); st != censor.Idle {
		t.Errorf("State() = %v, want idle", st)
	}
}

func TestTrigger_TimedOutMuteIsUndone(t *testing.T) {
	f := newFixture(t, assetDir(t, "cat.mp4"))
	f.backend.SetErr(mock.OpSetInputMute, context.DeadlineExceeded)

	err := f.ctrl.Trigger(context.Background(), []string{"damn"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Trigger err = %v, want DeadlineExceeded", err)
	}
	if errors.Is(err, censor.ErrCleanup) {
		t.Errorf("Trigger err = %v, a failed mute is not a cleanup failure", err)
	}
	want := []string{"SetInputMute(Mic/Aux,true)", "SetInputMute(Mic/Aux,false)"}
	if got := f.log.get(); !slices.Equal(got, want) {
		t.Errorf("events = %q, want %q", got, want)
	}
	if got := triggerCount(t, f.reader, observe.OutcomeMuteFailed); got != 1 {
		t.Errorf("mute_failed triggers = %d, want 1", got)
	}
}

func TestTrigger_CleanupRetriesTransientFailure(t *testing.T) {
	f := newFixture(t, assetDir(t, "cat.mp4"))
	f.backend.SetErr(mock.OpSetInputMute, nil, errOBS)

	if err := f.ctrl.Trigger(context.Background(), []string{"damn"}); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	f.assertReverted(t)
}

func TestTrigger_CancellationDoesNotSkipRevert(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var held time.Duration
	f := newFixture(t, assetDir(t, "cat.mp4"), censor.WithSleep(func(d time.Duration) {
		cancel()
		held = d
	}))

	if err := f.ctrl.Trigger(ctx, []string{"damn"}); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if held != 4*time.Second {
		t.Errorf("held %v, want the full 4s", held)
	}
	f.assertReverted(t)
}

func TestState_String(t *testing.T) {
	if censor.Idle.String() != "idle" || censor.Triggering.String() != "triggering" {
		t.Errorf("got %q, %q", censor.Idle, censor.Triggering)
	}
	if got := censor.State(9).String(); got != "State(9)" {
		t.Errorf("State(9).String() = %q", got)
	}
}
