package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"reactivator/internal/assets"
	"reactivator/internal/database"
	"reactivator/internal/services"
	"reactivator/internal/utils"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DBPath  string
	Format  string // "json" | "text"
	Verbose bool
}

var validFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the history CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "historyctl",
		Short:         "Inspect and prune the Reactivator history store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			level := zerolog.WarnLevel
			if opts.Verbose {
				level = zerolog.DebugLevel
			}
			zerolog.SetGlobalLevel(level)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", defaultDBPath(), "path to the history database")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")

	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))

	return cmd
}

func defaultDBPath() string {
	if p := strings.TrimSpace(os.Getenv("REACTIVATOR_DB_PATH")); p != "" {
		return p
	}
	return database.GetDefaultDBPath()
}

// openHistory opens an existing history database. A missing file is an error so that
// a mistyped --db never creates an empty store.
func openHistory(ctx context.Context, opts *RootOptions) (services.HistoryService, error) {
	if !utils.FileExists(opts.DBPath) {
		return nil, fmt.Errorf("no history database at %s", opts.DBPath)
	}
	catalog, err := services.NewCatalogService(assets.CatalogData)
	if err != nil {
		return nil, err
	}
	history := services.NewHistoryService(services.OpenSQLite(database.Config{Path: opts.DBPath}), catalog.SlotCount())
	if err := history.Initialize(ctx); err != nil {
		return nil, err
	}
	return history, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
