// Package mock provides an in-memory [broadcast.Backend] that records every
// call in order, for use in unit tests.
//
// Errors can be injected per operation. The recorded [Call] log lets tests
// assert on the exact sequence of backend mutations:
//
//	b := mock.New("Mic/Aux", "SneezeCat")
//	b.SetErr(mock.OpSetSceneItemEnabled, errors.New("boom"))
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/censorbot/pkg/broadcast"
)

// Op names a backend operation.
type Op string

const (
	OpListInputs          Op = "ListInputs"
	OpCurrentScene        Op = "CurrentScene"
	OpSceneItemID         Op = "SceneItemID"
	OpSetInputMute        Op = "SetInputMute"
	OpSetSceneItemEnabled Op = "SetSceneItemEnabled"
	OpSetInputSettings    Op = "SetInputSettings"
)

// Call records one mutating or query call.
type Call struct {
	Op Op

	Input    string
	Scene    string
	Source   string
	ItemID   int
	Muted    bool
	Enabled  bool
	Settings map[string]any
	Overlay  bool

	At time.Time
}

// String renders the call compactly, e.g. "SetInputMute(Mic/Aux,true)".
func (c Call) String() string {
	switch c.Op {
	case OpSetInputMute:
		return fmt.Sprintf("%s(%s,%t)", c.Op, c.Input, c.Muted)
	case OpSetSceneItemEnabled:
		return fmt.Sprintf("%s(%s,%d,%t)", c.Op, c.Scene, c.ItemID, c.Enabled)
	case OpSetInputSettings:
		return fmt.Sprintf("%s(%s,%v)", c.Op, c.Input, c.Settings)
	case OpSceneItemID:
		return fmt.Sprintf("%s(%s,%s)", c.Op, c.Scene, c.Source)
	default:
		return string(c.Op)
	}
}

// Backend is a mock implementation of broadcast.Backend.
type Backend struct {
	mu sync.Mutex

	// Inputs is returned by ListInputs.
	Inputs []string

	// Scene is returned by CurrentScene.
	Scene string

	// SceneItems maps source name to item id in Scene. Missing sources yield
	// broadcast.ErrNotFound.
	SceneItems map[string]int

	// OnCall, if set, runs after each call is recorded and before the
	// injected error is returned. It must not call back into the Backend.
	OnCall func(Call)

	errs        map[Op][]error
	always      map[Op]error
	calls       []Call
	closeCount  int
	muted       map[string]bool
	itemEnabled map[int]bool
}

// New returns a Backend listing inputs, with every input present in the scene
// "Scene" under ids starting at 1.
func New(inputs ...string) *Backend {
	items := make(map[string]int, len(inputs))
	for i, in := range inputs {
		items[in] = i + 1
	}
	return &Backend{
		Inputs:     inputs,
		Scene:      "Scene",
		SceneItems: items,
	}
}

// SetErr makes the next calls of op fail. Each error is consumed once in the
// order given; a final nil entry is not required.
func (b *Backend) SetErr(op Op, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.errs == nil {
		b.errs = make(map[Op][]error)
	}
	b.errs[op] = append(b.errs[op], errs...)
}

// SetErrAlways makes every call of op fail with err.
func (b *Backend) SetErrAlways(op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.always == nil {
		b.always = make(map[Op]error)
	}
	b.always[op] = err
}

func (b *Backend) record(c Call) error {
	c.At = time.Now()
	b.mu.Lock()
	b.calls = append(b.calls, c)
	err := b.always[c.Op]
	if q := b.errs[c.Op]; len(q) > 0 {
		err, b.errs[c.Op] = q[0], q[1:]
	}
	hook := b.OnCall
	b.mu.Unlock()
	if hook != nil {
		hook(c)
	}
	return err
}

func (b *Backend) ListInputs(_ context.Context) ([]string, error) {
	if err := b.record(Call{Op: OpListInputs}); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.Inputs), nil
}

func (b *Backend) CurrentScene(_ context.Context) (string, error) {
	if err := b.record(Call{Op: OpCurrentScene}); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Scene, nil
}

func (b *Backend) SceneItemID(_ context.Context, scene, source string) (int, error) {
	if err := b.record(Call{Op: OpSceneItemID, Scene: scene, Source: source}); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.SceneItems[source]
	if !ok || scene != b.Scene {
		return 0, fmt.Errorf("mock: %q in %q: %w", source, scene, broadcast.ErrNotFound)
	}
	return id, nil
}

func (b *Backend) SetInputMute(_ context.Context, input string, muted bool) error {
	if err := b.record(Call{Op: OpSetInputMute, Input: input, Muted: muted}); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.muted == nil {
		b.muted = make(map[string]bool)
	}
	b.muted[input] = muted
	return nil
}

func (b *Backend) SetSceneItemEnabled(_ context.Context, scene string, itemID int, enabled bool) error {
	if err := b.record(Call{Op: OpSetSceneItemEnabled, Scene: scene, ItemID: itemID, Enabled: enabled}); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.itemEnabled == nil {
		b.itemEnabled = make(map[int]bool)
	}
	b.itemEnabled[itemID] = enabled
	return nil
}

func (b *Backend) SetInputSettings(_ context.Context, input string, settings map[string]any, overlay bool) error {
	return b.record(Call{Op: OpSetInputSettings, Input: input, Settings: settings, Overlay: overlay})
}

// Close records the call.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeCount++
	return nil
}

// Calls returns a copy of the call log.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}

// CallsOf returns the recorded calls of one operation.
func (b *Backend) CallsOf(op Op) []Call {
	var out []Call
	for _, c := range b.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Mutations returns the String form of every mutating call, in order.
func (b *Backend) Mutations() []string {
	var out []string
	for _, c := range b.Calls() {
		switch c.Op {
		case OpSetInputMute, OpSetSceneItemEnabled, OpSetInputSettings:
			out = append(out, c.String())
		}
	}
	return out
}

// Muted reports the last successfully applied mute state of input.
func (b *Backend) Muted(input string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.muted[input]
}

// ItemEnabled reports the last successfully applied visibility of itemID.
func (b *Backend) ItemEnabled(itemID int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.itemEnabled[itemID]
}

// CloseCount returns how many times Close was called.
func (b *Backend) CloseCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeCount
}

// Reset clears the call log and injected errors.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
	b.errs = nil
	b.always = nil
}

var _ broadcast.Backend = (*Backend)(nil)
