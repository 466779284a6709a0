package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/stylesearch/engine/app"
	"github.com/WessleyAI/stylesearch/engine/domain"
	"github.com/WessleyAI/stylesearch/engine/ingest"
)

func newIngestCmd(s *session) *cobra.Command {
	var (
		p            domain.Product
		async        bool
		skipExisting bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed a product and write it to the index",
		Long: `Embed a product's text and video and write the records to the index.
With --async the product is published to NATS for the ingest worker instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := domain.ValidateProduct(p); err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := s.open(ctx, app.Options{SkipExisting: skipExisting})
			if err != nil {
				return err
			}
			defer closeApp(a)

			if async {
				if a.NATS == nil {
					return errors.New("--async needs NATS_URL")
				}
				if err := ingest.Publish(ctx, a.NATS, p); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", p.ProductID)
				return nil
			}

			res, err := a.Pipeline.Ingest(ctx, p)
			if err != nil {
				return err
			}
			return s.print(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "ingested %s: %d text, %d video records\n", res.ProductID, res.TextRecords, res.VideoRecords)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&p.ProductID, "id", "", "product id")
	fl.StringVar(&p.Title, "title", "", "product title")
	fl.StringVar(&p.Description, "description", "", "product description")
	fl.StringVar(&p.Link, "link", "", "product page URL")
	fl.StringVar(&p.VideoURL, "video-url", "", "product video URL")
	fl.BoolVar(&async, "async", false, "publish to the ingest queue instead of ingesting inline")
	fl.BoolVar(&skipExisting, "skip-existing", false, "fail if the catalog already has the product")
	return cmd
}

func newAskCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the shopping assistant",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp(a)

			resp := a.RAG.Ask(ctx, strings.Join(args, " "))
			return s.print(cmd, resp, func(w io.Writer) {
				fmt.Fprintln(w, resp.Response)
				if resp.Metadata != nil {
					fmt.Fprintln(w)
					printHits(w, resp.Metadata.Sources)
				}
			})
		},
	}
}

func newSearchTextCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "search-text <query>",
		Short: "Search product descriptions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp(a)

			hits, err := a.RAG.SearchText(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return s.print(cmd, hits, func(w io.Writer) { printHits(w, hits) })
		},
	}
}

func newSearchImageCmd(s *session) *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "search-image <file>",
		Short: "Find product video segments that look like an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := s.open(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp(a)

			hits, err := a.RAG.SearchImage(ctx, img, topK)
			if err != nil {
				return err
			}
			return s.print(cmd, hits, func(w io.Writer) { printHits(w, hits) })
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of results (default 2, max 20)")
	return cmd
}

func newInitCollectionCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "init-collection",
		Short: "Create the vector collection and its payload indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.open(cmd.Context(), app.Options{EnsureCollection: true})
			if err != nil {
				return err
			}
			defer closeApp(a)
			fmt.Fprintf(cmd.OutOrStdout(), "collection %s ready (%d dims)\n", a.Config.Collection, a.Store.Dims())
			return nil
		},
	}
}

func printHits(w io.Writer, hits []domain.SearchHit) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	for i, h := range hits {
		line := fmt.Sprintf("%2d. [%s] %5.1f%%  %s  %s", i+1, h.Type, h.Similarity, h.ProductID, h.Title)
		if h.StartTime != nil && h.EndTime != nil {
			line += fmt.Sprintf("  (%gs-%gs)", *h.StartTime, *h.EndTime)
		}
		fmt.Fprintln(w, line)
	}
}
