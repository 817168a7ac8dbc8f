// cmd_utils.go - shared helpers
// Main functions: checkServerHeartbeat, readImage, writeImage
package cmd

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tuziyo/tuziyo/api"
	"github.com/tuziyo/tuziyo/imageproc"
)

// checkServerHeartbeat fails early when no server answers on TUZIYO_HOST.
func checkServerHeartbeat(cmd *cobra.Command, _ []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}
	if err := client.Heartbeat(cmd.Context()); err != nil {
		return fmt.Errorf("tuziyo server not responding, start it with 'tuziyo serve' - %w", err)
	}
	return nil
}

func readImage(path string) (*image.RGBA, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	img, err := imageproc.DecodeBytes(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, data, nil
}

// writeImage writes png bytes to path, creating parent directories.
func writeImage(path string, png []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("could not create directory %w", err)
		}
	}
	return os.WriteFile(path, png, 0o644)
}
