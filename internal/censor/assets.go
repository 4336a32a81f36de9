package censor

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmptyAssetDirectory is returned when the asset directory holds no video
// file with a recognised extension.
var ErrEmptyAssetDirectory = errors.New("censor: no video assets in asset directory")

// videoExtensions lists the file extensions accepted as overlay assets.
var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
}

// ListAssets returns the absolute paths of the video files directly inside
// dir, in directory order. Extensions are matched case-insensitively;
// subdirectories are ignored.
func ListAssets(dir string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("censor: resolve asset directory %q: %w", dir, err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("censor: read asset directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !videoExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(abs, e.Name()))
	}
	return files, nil
}

// PickAsset chooses one of files uniformly at random using rng. It returns
// [ErrEmptyAssetDirectory] when files is empty.
func PickAsset(files []string, rng *rand.Rand) (string, error) {
	if len(files) == 0 {
		return "", ErrEmptyAssetDirectory
	}
	return files[rng.IntN(len(files))], nil
}
