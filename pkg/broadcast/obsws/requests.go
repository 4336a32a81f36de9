package obsws

import (
	"context"
	"fmt"
)

// Version describes the connected OBS instance.
type Version struct {
	OBSVersion          string `json:"obsVersion"`
	OBSWebSocketVersion string `json:"obsWebSocketVersion"`
	Platform            string `json:"platform"`
}

// GetVersion queries the OBS and plugin versions.
func (c *Client) GetVersion(ctx context.Context) (Version, error) {
	var v Version
	err := c.Request(ctx, "GetVersion", nil, &v)
	return v, err
}

// ListInputs returns the names of all inputs.
func (c *Client) ListInputs(ctx context.Context) ([]string, error) {
	var resp struct {
		Inputs []struct {
			InputName string `json:"inputName"`
			InputKind string `json:"inputKind"`
		} `json:"inputs"`
	}
	if err := c.Request(ctx, "GetInputList", struct{}{}, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Inputs))
	for _, in := range resp.Inputs {
		names = append(names, in.InputName)
	}
	return names, nil
}

// CurrentScene returns the program scene name.
func (c *Client) CurrentScene(ctx context.Context) (string, error) {
	var resp struct {
		CurrentProgramSceneName string `json:"currentProgramSceneName"`
		SceneName               string `json:"sceneName"`
	}
	if err := c.Request(ctx, "GetCurrentProgramScene", nil, &resp); err != nil {
		return "", err
	}
	if resp.CurrentProgramSceneName != "" {
		return resp.CurrentProgramSceneName, nil
	}
	return resp.SceneName, nil
}

// SceneItemID resolves source within scene. A missing source yields a
// [*RequestError] that matches broadcast.ErrNotFound.
func (c *Client) SceneItemID(ctx context.Context, scene, source string) (int, error) {
	req := map[string]any{"sceneName": scene, "sourceName": source}
	var resp struct {
		SceneItemID int `json:"sceneItemId"`
	}
	if err := c.Request(ctx, "GetSceneItemId", req, &resp); err != nil {
		return 0, fmt.Errorf("obsws: scene item %q in %q: %w", source, scene, err)
	}
	return resp.SceneItemID, nil
}

// SetInputMute mutes or unmutes input.
func (c *Client) SetInputMute(ctx context.Context, input string, muted bool) error {
	return c.Request(ctx, "SetInputMute", map[string]any{
		"inputName":  input,
		"inputMuted": muted,
	}, nil)
}

// SetSceneItemEnabled shows or hides a scene item.
func (c *Client) SetSceneItemEnabled(ctx context.Context, scene string, itemID int, enabled bool) error {
	return c.Request(ctx, "SetSceneItemEnabled", map[string]any{
		"sceneName":        scene,
		"sceneItemId":      itemID,
		"sceneItemEnabled": enabled,
	}, nil)
}

// SetInputSettings applies settings to input, merging when overlay is true.
func (c *Client) SetInputSettings(ctx context.Context, input string, settings map[string]any, overlay bool) error {
	return c.Request(ctx, "SetInputSettings", map[string]any{
		"inputName":     input,
		"inputSettings": settings,
		"overlay":       overlay,
	}, nil)
}
