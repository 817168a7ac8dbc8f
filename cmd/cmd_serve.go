// cmd_serve.go - server command
// Main functions: RunServer, versionHandler
package cmd

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/tuziyo/tuziyo/api"
	"github.com/tuziyo/tuziyo/envconfig"
	"github.com/tuziyo/tuziyo/server"
	"github.com/tuziyo/tuziyo/version"
)

// RunServer starts the tuziyo server on TUZIYO_HOST.
func RunServer(_ *cobra.Command, _ []string) error {
	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	err = server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func versionHandler(cmd *cobra.Command, _ []string) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return
	}

	serverVersion, err := client.Version(cmd.Context())
	if err != nil {
		fmt.Println("Warning: could not connect to a running tuziyo instance")
	}

	if serverVersion != "" {
		fmt.Printf("tuziyo version is %s\n", serverVersion)
	}

	if serverVersion != version.Version {
		fmt.Printf("Warning: client version is %s\n", version.Version)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start tuziyo",
		Args:    cobra.ExactArgs(0),
		RunE:    RunServer,
	}
}
