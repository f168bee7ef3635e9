package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vnavascues/substrate-watcher/internal/config"
	"github.com/vnavascues/substrate-watcher/internal/domain"
	"github.com/vnavascues/substrate-watcher/internal/storage/postgres"
)

var (
	resetChain  string
	resetPubKey string
	resetStream string
)

// resetCheckpointCmd is the administrative equivalent of the reset_history
// command, for operators without a live client connection.
var resetCheckpointCmd = &cobra.Command{
	Use:   "reset-checkpoint",
	Short: "Delete persisted history and checkpoints for one (chain, account)",
	Run:   runResetCheckpoint,
}

func init() {
	resetCheckpointCmd.Flags().StringVar(&resetChain, "chain", "", "chain id (required)")
	resetCheckpointCmd.Flags().StringVar(&resetPubKey, "pubkey", "", "0x-prefixed account pubkey (required)")
	resetCheckpointCmd.Flags().StringVar(&resetStream, "stream", "", "extrinsics|staking, omit for both")
	_ = resetCheckpointCmd.MarkFlagRequired("chain")
	_ = resetCheckpointCmd.MarkFlagRequired("pubkey")
	rootCmd.AddCommand(resetCheckpointCmd)
}

func runResetCheckpoint(cmd *cobra.Command, args []string) {
	pk, err := domain.ParsePubKey(resetPubKey)
	if err != nil {
		fmt.Printf("invalid --pubkey: %v\n", err)
		os.Exit(exitConfigError)
	}
	chain := domain.ChainID(resetChain)

	streams := []domain.Stream{domain.StreamExtrinsics, domain.StreamStaking}
	if resetStream != "" {
		streams = []domain.Stream{domain.Stream(resetStream)}
	}

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

	extrinsics := postgres.NewExtrinsicRepo(db)
	staking := postgres.NewStakingRepo(db)
	checkpoints := postgres.NewCheckpointRepo(db)

	for _, stream := range streams {
		var err error
		switch stream {
		case domain.StreamExtrinsics:
			err = extrinsics.DeleteHistory(ctx, chain, pk)
		case domain.StreamStaking:
			err = staking.DeleteHistory(ctx, chain, pk)
		}
		if err != nil {
			slog.Error("failed to delete history", "stream", stream, "error", err)
			os.Exit(exitStorageError)
		}
		if err := checkpoints.Delete(ctx, chain, pk, stream); err != nil {
			slog.Error("failed to delete checkpoint", "stream", stream, "error", err)
			os.Exit(exitStorageError)
		}
	}

	fmt.Printf("reset history and checkpoints for %s on %s\n", pk, chain)
}
