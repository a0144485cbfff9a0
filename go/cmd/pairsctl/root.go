package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pair-signals/go/pkg/shared"
	"pair-signals/go/pkg/tickstore"
)

// storeOpener returns a tick store and its release func.
type storeOpener func(ctx context.Context, kind string, pg shared.PostgresConfig) (tickstore.Store, func(), error)

type rootFlags struct {
	logLevel string
}

func newRootCmd(open storeOpener) *cobra.Command {
	var rf rootFlags
	root := &cobra.Command{
		Use:   "pairsctl",
		Short: "Crypto tick ingestion and pair-trading analytics",
		Long: `pairsctl runs the tick pipeline and the pair analytics API in one process,
or computes a one-off analytics snapshot for a pair.

Configuration comes from the environment (SYMBOLS, PAIRS, WINDOW, ...) with an
optional YAML overlay named by CONFIG_FILE.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&rf.logLevel, "log-level", "info", "Log level (debug|info|warn|error)")

	root.AddCommand(newRunCmd(&rf, open), newAnalyzeCmd(open))
	return root
}

func openStore(ctx context.Context, kind string, pg shared.PostgresConfig) (tickstore.Store, func(), error) {
	switch kind {
	case "memory":
		return tickstore.NewMemory(), func() {}, nil
	case "postgres":
		db, err := shared.NewPgxPool(ctx, pg)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		store := tickstore.NewPostgres(db.Pool())
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", kind)
	}
}
