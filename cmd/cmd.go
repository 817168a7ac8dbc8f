// cmd.go - CLI setup and root command
// Main functions: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tuziyo/tuziyo/envconfig"
)

// appendEnvDocs adds the environment variables a command reads to its usage.
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI builds the root command with every subcommand.
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:           "tuziyo",
		Short:         "Local image inpainting",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	serveCmd := newServeCmd()
	pullCmd := newPullCmd()
	listCmd := newListCmd()
	backendsCmd := newBackendsCmd()
	inpaintCmd := newInpaintCmd()

	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{envVars["TUZIYO_HOST"]}

	local := []envconfig.EnvVar{
		envVars["TUZIYO_DEBUG"],
		envVars["TUZIYO_MODELS"],
		envVars["TUZIYO_CACHE"],
		envVars["TUZIYO_REGISTRY"],
		envVars["TUZIYO_DOWNLOAD_TIMEOUT"],
		envVars["TUZIYO_NOGPU"],
		envVars["TUZIYO_ORT_LIBRARY"],
		envVars["TUZIYO_NUM_THREADS"],
		envVars["TUZIYO_MAX_IMAGE_SIZE"],
	}

	for _, cmd := range []*cobra.Command{
		serveCmd,
		pullCmd,
		listCmd,
		backendsCmd,
		inpaintCmd,
	} {
		switch cmd {
		case serveCmd:
			appendEnvDocs(cmd, append([]envconfig.EnvVar{
				envVars["TUZIYO_HOST"],
				envVars["TUZIYO_ORIGINS"],
				envVars["TUZIYO_MAX_SESSIONS"],
			}, local...))
		case inpaintCmd:
			appendEnvDocs(cmd, append([]envconfig.EnvVar{envVars["TUZIYO_HOST"]}, local...))
		default:
			appendEnvDocs(cmd, envs)
		}
	}

	rootCmd.AddCommand(
		serveCmd,
		pullCmd,
		listCmd,
		backendsCmd,
		inpaintCmd,
	)

	return rootCmd
}
