// Package broadcast defines the interface censorbot uses to drive a live
// broadcast application.
//
// The only implementation shipped is the OBS Studio WebSocket v5 client in
// broadcast/obsws. Tests use broadcast/mock.
package broadcast

import (
	"context"
	"errors"
)

var (
	// ErrConnection is returned when the backend cannot be reached, the
	// handshake fails or authentication is rejected.
	ErrConnection = errors.New("broadcast: connection failed")

	// ErrNotFound is returned when a named input, scene or scene item does not
	// exist.
	ErrNotFound = errors.New("broadcast: not found")
)

// Backend exposes the broadcast operations the censor needs. Implementations
// must be safe for concurrent use.
type Backend interface {
	// ListInputs returns the names of all inputs (sources).
	ListInputs(ctx context.Context) ([]string, error)

	// CurrentScene returns the name of the scene currently on program.
	CurrentScene(ctx context.Context) (string, error)

	// SceneItemID resolves the numeric id of source within scene. It returns
	// an error wrapping [ErrNotFound] when the source is not in the scene.
	SceneItemID(ctx context.Context, scene, source string) (int, error)

	// SetInputMute mutes or unmutes an input.
	SetInputMute(ctx context.Context, input string, muted bool) error

	// SetSceneItemEnabled shows or hides a scene item.
	SetSceneItemEnabled(ctx context.Context, scene string, itemID int, enabled bool) error

	// SetInputSettings applies settings to an input. When overlay is true the
	// settings are merged into the existing ones; otherwise they replace them.
	SetInputSettings(ctx context.Context, input string, settings map[string]any, overlay bool) error

	// Close releases the connection.
	Close() error
}
