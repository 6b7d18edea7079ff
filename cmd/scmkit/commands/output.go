package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// ErrInvalidFormat is returned for an unknown --format value.
var ErrInvalidFormat = errors.New("invalid output format")

func (a *app) structured() (bool, error) {
	switch a.format {
	case formatTable, "":
		return false, nil
	case formatJSON, formatYAML:
		return true, nil
	default:
		return false, fmt.Errorf("%w: %q (use table, json or yaml)", ErrInvalidFormat, a.format)
	}
}

// emit writes v as JSON or YAML according to --format.
func (a *app) emit(v any) error {
	if a.format == formatYAML {
		enc := yaml.NewEncoder(a.stdout)
		enc.SetIndent(2)

		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}

		return enc.Close()
	}

	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	return nil
}

// render prints a table, or v in structured formats.
func (a *app) render(v any, build func(tbl table.Writer)) error {
	structured, err := a.structured()
	if err != nil {
		return err
	}

	if structured {
		return a.emit(v)
	}

	tbl := newTable(a.stdout)
	build(tbl)
	tbl.Render()

	return nil
}

func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false

	return tbl
}

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	warnColor = color.New(color.FgYellow)
)

func status(ok bool) string {
	if ok {
		return okColor.Sprint("yes")
	}

	return failColor.Sprint("no")
}
