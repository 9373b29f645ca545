package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"kb-assistant-go/internal/app"
	"kb-assistant-go/internal/config"
	"kb-assistant-go/internal/index"
	"kb-assistant-go/pkg/embedding"
	"kb-assistant-go/pkg/log"
)

// newEmbedder is replaced in tests.
var newEmbedder = func(cfg *config.Config) embedding.Client { return app.NewEmbedder(cfg) }

type globalOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "kbctl",
		Short: "Manage the assistant's knowledge base",
		Long: `kbctl works directly against the configured knowledge base backends.

Quick Start:
  kbctl ingest notes.pdf chapter1.md     # Add documents
  kbctl query "what is osmosis" -k 5     # Show nearest chunks
  kbctl ask "explain osmosis"            # Answer from the knowledge base
  kbctl size                             # Count stored chunks
  kbctl hash-key <api-key>               # Produce auth.api_key_hash`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				log.Init("debug", "console", "")
			}
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./configs/config.yaml", "Path to config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(
		newIngestCmd(opts),
		newQueryCmd(opts),
		newAskCmd(opts),
		newSizeCmd(opts),
		newHashKeyCmd(),
	)
	return root
}

// backend holds what every knowledge base command needs.
type backend struct {
	cfg   *config.Config
	index index.Index
}

func openBackend(ctx context.Context, opts *globalOptions) (*backend, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	idx, err := app.OpenIndex(ctx, cfg, newEmbedder(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	return &backend{cfg: cfg, index: idx}, nil
}

func (b *backend) Close() error {
	return b.index.Close()
}
