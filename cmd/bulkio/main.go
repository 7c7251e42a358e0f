package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sitebook/internal/application"
	"github.com/JonMunkholm/sitebook/internal/config"
	"github.com/JonMunkholm/sitebook/internal/logging"
)

// Build information, set with -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// cli carries the flags shared by every subcommand.
type cli struct {
	envFile string
	memory  bool
}

// newRootCmd builds the command tree. Tests build a fresh tree per run.
func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "bulkio",
		Short: "Bulk import and export of construction project data",
		Long: `bulkio moves construction project data between spreadsheets and the
database. It reads the same configuration as the server (DATABASE_URL,
REDIS_URL, ARCHIVE_S3_BUCKET, ...), loading a .env file first when present.`,
		Version:       Version + " (" + GitCommit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "Path to an env file to load before reading configuration")
	rootCmd.PersistentFlags().BoolVar(&c.memory, "memory", false, "Keep records in memory instead of the configured database")

	rootCmd.AddCommand(
		newTablesCmd(c),
		newImportCmd(c),
		newExportCmd(c),
		newTemplateCmd(c),
	)
	return rootCmd
}

// open loads configuration and assembles the app. The caller closes it.
func (c *cli) open(cmd *cobra.Command, memory bool) (*application.App, error) {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	var opts []application.Option
	if memory || c.memory {
		opts = append(opts, application.WithMemoryStore())
	}
	return application.New(cmd.Context(), cfg, logger, opts...)
}

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
