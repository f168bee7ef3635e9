package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vnavascues/substrate-watcher/internal/config"
	"github.com/vnavascues/substrate-watcher/internal/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current checkpoint of every tracked (chain, account, stream)",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(exitConfigError)
	}

	ctx := context.Background()
	db, err := postgres.Open(ctx, postgres.Config{URL: cfg.Database.URL, MaxConns: cfg.Database.MaxConns, MinConns: cfg.Database.MinConns})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(exitStorageError)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SELECT chain, pubkey, stream, height FROM substrate_checkpoints ORDER BY chain, stream, pubkey")
	if err != nil {
		slog.Error("failed to query checkpoints", "error", err)
		os.Exit(exitStorageError)
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CHAIN\tPUBKEY\tSTREAM\tHEIGHT")

	for rows.Next() {
		var chain, stream string
		var pubkey []byte
		var height int64
		if err := rows.Scan(&chain, &pubkey, &stream, &height); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t0x%x\t%s\t%d\n", chain, pubkey, stream, height)
	}
	_ = w.Flush()
}
