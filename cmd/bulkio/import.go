package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sitebook/internal/core"
	"github.com/JonMunkholm/sitebook/internal/workbook"
)

// maxErrorsShown limits the row errors printed per sheet.
const maxErrorsShown = 10

func newImportCmd(c *cli) *cobra.Command {
	var (
		dryRun  bool
		asJSON  bool
		failAny bool
	)

	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import workbooks (.xlsx) and CSV files",
		Long: `Import one or more files as a single run. Sheets from every file are
merged into one workbook, matched to tables by name or header, and imported
parents first. CSV files become one sheet named after the file.

With --dry-run the run goes against an empty in-memory store, which checks
the files without touching the database.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, err := readFiles(args)
			if err != nil {
				return err
			}

			app, err := c.open(cmd, dryRun)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), app.Config.Import.Timeout)
			defer cancel()

			summary, runErr := app.Importer.ImportWorkbook(ctx, wb)
			if summary != nil {
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					if err := enc.Encode(summary); err != nil {
						return err
					}
				} else if err := printSummary(cmd.OutOrStdout(), summary); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			return summaryError(summary, failAny)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate against an empty in-memory store")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run summary as JSON")
	cmd.Flags().BoolVar(&failAny, "strict", false, "Exit non-zero when any row fails")
	return cmd
}

// readFiles decodes every file and merges their sheets into one workbook.
func readFiles(paths []string) (*workbook.Workbook, error) {
	merged := workbook.New()
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		wb, err := workbook.Decode(filepath.Base(path), f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for _, s := range wb.Sheets {
			merged.AddSheet(s)
		}
	}
	return merged, nil
}

// summaryError turns a finished run into the command's exit status.
func summaryError(s *core.RunSummary, strict bool) error {
	switch {
	case s.Status == core.StatusUnresolved:
		return fmt.Errorf("no sheet matched a known table")
	case s.Status == core.StatusFailed:
		return fmt.Errorf("import failed: %d of %d rows rejected", s.TotalFailed, s.TotalRecords)
	case strict && s.Status == core.StatusPartial:
		return fmt.Errorf("import partial: %d rows rejected, %d sheets skipped", s.TotalFailed, len(s.Skipped))
	}
	return nil
}

func printSummary(w io.Writer, s *core.RunSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SHEET\tTABLE\tROWS\tOK\tFAILED\tCREATED\tUPDATED\tDELETED")
	for _, sh := range s.Sheets {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			sh.SheetName, sh.TargetTable, sh.TotalRows, sh.Successful,
			sh.Failed, sh.Created, sh.Updated, sh.Deleted)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, sh := range s.Sheets {
		for i, e := range sh.Errors {
			if i == maxErrorsShown {
				fmt.Fprintf(w, "  %s: %d more errors\n", sh.SheetName, len(sh.Errors)-i)
				break
			}
			fmt.Fprintf(w, "  %s row %d: %s\n", sh.SheetName, e.Row, e.Error)
		}
	}
	for _, sk := range s.Skipped {
		fmt.Fprintf(w, "skipped %s: %s\n", sk.SheetName, sk.Reason)
	}
	if s.StubsCreated > 0 {
		fmt.Fprintf(w, "placeholder records created: %d\n", s.StubsCreated)
	}
	_, err := fmt.Fprintf(w, "status: %s (%d/%d rows)\n", s.Status, s.TotalSuccessful, s.TotalRecords)
	return err
}
