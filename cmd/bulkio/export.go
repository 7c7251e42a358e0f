package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sitebook/internal/application"
	"github.com/JonMunkholm/sitebook/internal/workbook"
)

var errArchiveDisabled = errors.New("archive is not configured: set ARCHIVE_S3_BUCKET")

// outputFlags are shared by export and template.
type outputFlags struct {
	path    string
	format  string
	archive bool
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.path, "output", "o", "", "Output file; \"-\" writes to stdout (default NAME.xlsx)")
	cmd.Flags().StringVar(&o.format, "format", "", "xlsx or csv (default from the output extension)")
	cmd.Flags().BoolVar(&o.archive, "archive", false, "Also upload the workbook to the configured S3 bucket")
}

func newExportCmd(c *cli) *cobra.Command {
	var out outputFlags

	cmd := &cobra.Command{
		Use:   "export [TABLE]",
		Short: "Export persisted records",
		Long: `Export one table, or every table with rows when TABLE is omitted.
Sheets follow import order, so an exported workbook can be imported again
unchanged.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd, false)
			if err != nil {
				return err
			}
			defer app.Close()

			if len(args) == 1 {
				wb, err := app.Exporter.ExportTable(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return out.write(cmd, app, args[0], wb)
			}

			wb, report, err := app.Exporter.ExportAll(cmd.Context())
			if err != nil {
				return err
			}
			for _, f := range report.Failed {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %s\n", f.Table, f.Reason)
			}
			return out.write(cmd, app, "export", wb)
		},
	}
	out.register(cmd)
	return cmd
}

func newTemplateCmd(c *cli) *cobra.Command {
	var out outputFlags

	cmd := &cobra.Command{
		Use:   "template [TABLE]",
		Short: "Write an import template with one sample row",
		Long: `Write a template for one table, or for every table when TABLE is
omitted. Each sheet carries the uploadable columns and a sample row.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd, true)
			if err != nil {
				return err
			}
			defer app.Close()

			if len(args) == 0 {
				return out.write(cmd, app, "templates", app.Exporter.GenerateAllTemplates())
			}
			wb, err := app.Exporter.GenerateTemplate(args[0])
			if err != nil {
				return err
			}
			return out.write(cmd, app, args[0]+"_template", wb)
		},
	}
	out.register(cmd)
	return cmd
}

// write encodes wb to the output and archives it when asked.
func (o *outputFlags) write(cmd *cobra.Command, app *application.App, name string, wb *workbook.Workbook) error {
	path := o.path
	if path == "" {
		ext := "xlsx"
		if o.format != "" {
			ext = o.format
		}
		path = name + "." + ext
	}

	format := strings.ToLower(o.format)
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	if format == "" {
		format = "xlsx"
	}

	var w io.Writer
	if path == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	if err := encode(w, format, wb); err != nil {
		return err
	}
	if path != "-" {
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d sheets)\n", path, len(wb.Sheets))
	}

	if !o.archive {
		return nil
	}
	if app.Archiver == nil {
		return errArchiveDisabled
	}
	key, err := app.Archiver.Archive(cmd.Context(), name, wb)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "archived to %s\n", key)
	return nil
}

func encode(w io.Writer, format string, wb *workbook.Workbook) error {
	switch format {
	case "xlsx":
		return workbook.WriteXLSX(w, wb)
	case "csv":
		if len(wb.Sheets) != 1 {
			return fmt.Errorf("csv holds one sheet, workbook has %d; use xlsx", len(wb.Sheets))
		}
		return workbook.WriteCSV(w, wb.Sheets[0])
	default:
		return fmt.Errorf("%w: %q", workbook.ErrUnsupportedFormat, format)
	}
}
