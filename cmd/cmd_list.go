// cmd_list.go - list and backends commands
// Main functions: ListHandler, BackendsHandler
package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tuziyo/tuziyo/api"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func humanTime(t time.Time, zero string) string {
	if t.IsZero() {
		return zero
	}
	return units.HumanDuration(time.Since(t)) + " ago"
}

// ListHandler lists the registered models and their cache state.
func ListHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	models, err := client.List(cmd.Context())
	if err != nil {
		return err
	}

	var data [][]string
	for _, m := range models.Models {
		if len(args) > 0 && !strings.HasPrefix(strings.ToLower(m.Type), strings.ToLower(args[0])) {
			continue
		}

		size, id := "-", "-"
		if m.Cached {
			size = units.HumanSize(float64(m.Size))
		}
		if m.Digest != "" {
			id = m.Digest[:min(12, len(m.Digest))]
		}

		data = append(data, []string{m.Type, m.Name, id, size, humanTime(m.ModifiedAt, "Never")})
	}

	table := newTable(cmd.OutOrStdout(), []string{"TYPE", "NAME", "ID", "SIZE", "MODIFIED"})
	table.AppendBulk(data)
	table.Render()

	return nil
}

// BackendsHandler lists the execution backends in attempt order and the
// devices behind them.
func BackendsHandler(cmd *cobra.Command, _ []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	resp, err := client.Backends(cmd.Context())
	if err != nil {
		return err
	}

	var data [][]string
	for _, d := range resp.Devices {
		def := ""
		if d.Default {
			def = "*"
		}
		data = append(data, []string{d.Backend, d.ID, d.Name, strings.Join(d.Features, ","), def})
	}

	table := newTable(cmd.OutOrStdout(), []string{"BACKEND", "ID", "DEVICE", "FEATURES", "DEFAULT"})
	table.AppendBulk(data)
	table.Render()

	fmt.Fprintf(cmd.OutOrStdout(), "\nattempt order: %s\n", strings.Join(resp.Backends, ", "))
	return nil
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list [TYPE]",
		Aliases: []string{"ls"},
		Short:   "List models",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    ListHandler,
	}
}

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "backends",
		Short:   "List execution backends and devices",
		Args:    cobra.ExactArgs(0),
		PreRunE: checkServerHeartbeat,
		RunE:    BackendsHandler,
	}
}
