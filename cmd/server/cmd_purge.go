package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/engine"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired investigations",
	RunE:  runPurge,
}

func runPurge(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	engCfg := engine.DefaultConfig()
	engCfg.StateTTL = stateTTL(cfg)
	eng, err := engine.NewEngine(engine.Deps{Store: store, Logger: zap.NewNop()}, engCfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	n, err := eng.Purge(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired investigations\n", n)
	return nil
}
