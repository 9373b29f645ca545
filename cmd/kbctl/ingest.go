package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"kb-assistant-go/internal/app"
	"kb-assistant-go/internal/model"
	"kb-assistant-go/internal/pipeline"
	"kb-assistant-go/internal/service"
)

func newIngestCmd(opts *globalOptions) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest PDF, TXT or MD files",
		Long: `Ingest stores each file, splits it into chunks and embeds them into the
knowledge base. Files already ingested (same MD5) are reported as duplicates.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBackend(ctx, opts)
			if err != nil {
				return err
			}
			defer b.Close()

			store, err := app.OpenObjectStore(ctx, b.cfg)
			if err != nil {
				return fmt.Errorf("failed to open document storage: %w", err)
			}
			repo, err := app.OpenDocumentRepository(ctx, b.cfg)
			if err != nil {
				return fmt.Errorf("failed to open document registry: %w", err)
			}
			if c, ok := repo.(io.Closer); ok {
				defer c.Close()
			}
			processor := pipeline.NewProcessor(store, app.NewLoader(b.cfg), b.index, repo)
			docs := service.NewDocumentService(repo, store, processor,
				service.WithMaxFileSize(b.cfg.Ingest.MaxFileSize()))

			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				res := ingestFile(cmd, docs, model.UserID(owner), path)
				fmt.Fprintln(out, renderIngestResult(res))
				if !res.Success {
					failed++
				}
			}
			fmt.Fprintln(out, renderTotal(b.index.Size(ctx)))
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "kbctl", "User ID recorded as the uploader")
	return cmd
}

func ingestFile(cmd *cobra.Command, docs service.DocumentService, owner model.UserID, path string) model.IngestResult {
	name := filepath.Base(path)
	f, err := os.Open(path)
	if err != nil {
		return model.IngestResult{Source: name, Error: err.Error()}
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return model.IngestResult{Source: name, Error: err.Error()}
	}
	return docs.Ingest(cmd.Context(), owner, name, f, info.Size())
}
