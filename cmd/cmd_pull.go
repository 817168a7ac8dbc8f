// cmd_pull.go - pull command
// Main functions: PullHandler
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tuziyo/tuziyo/api"
)

// PullHandler downloads a model into the server's cache.
func PullHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	model := "inpainting"
	if len(args) > 0 {
		model = args[0]
	}

	bar := newProgressBar(os.Stderr, model)
	defer bar.Stop()

	fn := func(resp api.ProgressResponse) error {
		bar.Set(resp.Status, resp.Completed, resp.Total, resp.Percent)
		return nil
	}

	return client.Pull(cmd.Context(), &api.PullRequest{Model: model}, fn)
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "pull [MODEL]",
		Short:   "Download a model into the cache (default: inpainting)",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    PullHandler,
	}
}
