package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"kb-assistant-go/internal/gateway"
	"kb-assistant-go/internal/rag"
	"kb-assistant-go/pkg/llm"
)

func newQueryCmd(opts *globalOptions) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Show the chunks nearest to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBackend(ctx, opts)
			if err != nil {
				return err
			}
			defer b.Close()

			hits, err := b.index.Search(ctx, strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderHits(hits))
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top", "k", rag.DefaultTopK, "Number of chunks to return")
	return cmd
}

func newAskCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBackend(ctx, opts)
			if err != nil {
				return err
			}
			defer b.Close()

			cfg := b.cfg
			gw := gateway.New(llm.NewClient(cfg.LLM), cfg.LLM)
			composer := rag.NewComposer(b.index, gw,
				rag.WithTopK(cfg.RAG.TopK),
				rag.WithTimeout(cfg.RAG.GenerationTimeout),
				rag.WithPrompt(rag.Prompt{
					Rules:        cfg.LLM.Prompt.Rules,
					RefStart:     cfg.LLM.Prompt.RefStart,
					RefEnd:       cfg.LLM.Prompt.RefEnd,
					Instructions: cfg.LLM.Prompt.Instructions,
				}),
			)
			resp := composer.Respond(ctx, strings.Join(args, " "), nil)
			fmt.Fprint(cmd.OutOrStdout(), renderAnswer(resp))
			if resp.Outcome == rag.OutcomeFailed {
				return fmt.Errorf("query failed")
			}
			return nil
		},
	}
}

func newSizeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "size",
		Short: "Print the number of chunks in the knowledge base",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer b.Close()
			fmt.Fprintln(cmd.OutOrStdout(), b.index.Size(cmd.Context()))
			return nil
		},
	}
}
