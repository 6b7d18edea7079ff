package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/scmkit/pkg/config"
)

// ErrNoConfigFile is returned by config validate without a file to check.
var ErrNoConfigFile = errors.New("no configuration file given (pass a path or --config)")

// validationReport is the structured config validate output.
type validationReport struct {
	File       string               `json:"file" yaml:"file"`
	Valid      bool                 `json:"valid" yaml:"valid"`
	Violations []config.SchemaError `json:"violations,omitempty" yaml:"violations,omitempty"`
}

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate the configuration",
	}

	cmd.AddCommand(newConfigValidateCommand(a), newConfigSchemaCommand(a), newConfigReposCommand(a))

	return cmd
}

func newConfigValidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a configuration file against the schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := a.configPath
			if len(args) > 0 {
				path = args[0]
			}

			if path == "" {
				return ErrNoConfigFile
			}

			violations, err := config.ValidateRepositoriesFile(path)
			if err != nil && !errors.Is(err, config.ErrSchemaViolation) {
				return err
			}

			report := validationReport{File: path, Valid: err == nil, Violations: violations}

			structured, formatErr := a.structured()
			if formatErr != nil {
				return formatErr
			}

			if structured {
				if emitErr := a.emit(report); emitErr != nil {
					return emitErr
				}

				return err
			}

			if report.Valid {
				okColor.Fprintf(a.stdout, "%s is valid\n", path)

				return nil
			}

			failColor.Fprintf(a.stdout, "%s has %d problem(s):\n", path, len(violations))

			for _, v := range violations {
				fmt.Fprintf(a.stdout, "  %s\n", v)
			}

			return err
		},
	}
}

func newConfigSchemaCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			schema, err := config.Schema()
			if err != nil {
				return err
			}

			_, err = a.stdout.Write(schema)

			return err
		},
	}
}

func newConfigReposCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repos",
		Short: "List the named repositories",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			type repoRow struct {
				Name    string `json:"name" yaml:"name"`
				Backend string `json:"backend" yaml:"backend"`
				Path    string `json:"path" yaml:"path"`
			}

			rows := make([]repoRow, 0, len(cfg.Repositories))

			for _, name := range cfg.RepositoryNames() {
				repo, repoErr := cfg.Repository(name)
				if repoErr != nil {
					fmt.Fprintf(a.stderr, "%s: %v\n", name, repoErr)

					continue
				}

				rows = append(rows, repoRow{Name: name, Backend: string(repo.Backend), Path: repo.Path})
			}

			return a.render(rows, func(tbl table.Writer) {
				tbl.AppendHeader(table.Row{"Name", "Backend", "Path"})

				for _, r := range rows {
					tbl.AppendRow(table.Row{r.Name, r.Backend, r.Path})
				}

				tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d", len(rows)), "", configSource(a.configPath)})
			})
		},
	}
}

func configSource(path string) string {
	if path == "" {
		return "(search path)"
	}

	if _, err := os.Stat(path); err != nil {
		return path + " (missing)"
	}

	return path
}
