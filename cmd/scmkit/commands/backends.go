package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/scmkit/pkg/registry"
)

// probeReport is the structured backends output.
type probeReport struct {
	Backends []registry.Capability `json:"backends" yaml:"backends"`
	Stunnel  registry.Capability   `json:"stunnel" yaml:"stunnel"`
}

func newBackendsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "Show which backends can run on this host",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			env, err := a.backendEnv()
			if err != nil {
				return err
			}

			report := probeReport{
				Backends: a.registry.Probe(env),
				Stunnel:  a.registry.ProbeStunnel(env),
			}

			return a.render(report, func(tbl table.Writer) {
				tbl.AppendHeader(table.Row{"Backend", "Tool", "Available", "Changesets", "Pending", "Listing", "Path"})

				for _, c := range report.Backends {
					tool := c.Tool
					if tool == "" {
						tool = "(built in)"
					}

					tbl.AppendRow(table.Row{
						c.Backend, tool, status(c.Available),
						c.Features.Changesets, c.Features.Pending, c.Features.DirectoryListing, c.Path,
					})
				}

				tbl.AppendFooter(table.Row{"stunnel", report.Stunnel.Tool, status(report.Stunnel.Available),
					"", "", "", report.Stunnel.Path})
			})
		},
	}
}
