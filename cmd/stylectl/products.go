package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/stylesearch/engine/app"
	"github.com/WessleyAI/stylesearch/engine/catalog"
)

var errNoCatalog = errors.New("the product catalog needs NEO4J_URL")

func newProductsCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Inspect and remove ingested products",
	}
	cmd.AddCommand(newProductsListCmd(s), newProductsShowCmd(s), newProductsDeleteCmd(s))
	return cmd
}

func newProductsListCmd(s *session) *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalogued products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp(a)
			if a.Catalog == nil {
				return errNoCatalog
			}

			entries, err := a.Catalog.List(ctx, offset, limit)
			if err != nil {
				return err
			}
			return s.print(cmd, entries, func(w io.Writer) {
				if len(entries) == 0 {
					fmt.Fprintln(w, "no products")
					return
				}
				for _, e := range entries {
					fmt.Fprintf(w, "%-16s %-40s %2d segments  %s\n", e.ProductID, e.Title, e.Segments, e.IngestedAt.Format("2006-01-02 15:04"))
				}
			})
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries")
	return cmd
}

type productDetail struct {
	catalog.Entry
	SegmentList []catalog.Segment `json:"segment_list"`
}

func newProductsShowCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "show <product-id>",
		Short: "Show a product and its video segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp(a)
			if a.Catalog == nil {
				return errNoCatalog
			}

			e, err := a.Catalog.Get(ctx, args[0])
			if err != nil {
				return err
			}
			segs, err := a.Catalog.Segments(ctx, args[0])
			if err != nil {
				return err
			}
			d := productDetail{Entry: e, SegmentList: segs}
			return s.print(cmd, d, func(w io.Writer) {
				fmt.Fprintf(w, "%s  %s\n%s\n%s\nvideo: %s\ntext record: %d\n", e.ProductID, e.Title, e.Description, e.Link, e.VideoURL, e.TextRecordID)
				for _, sg := range segs {
					fmt.Fprintf(w, "  segment %d: %gs-%gs\n", sg.RecordID, sg.Start, sg.End)
				}
			})
		},
	}
}

func newProductsDeleteCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <product-id>",
		Short: "Remove a product's records from the index and the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp(a)

			id := args[0]
			if err := a.Store.DeleteByProductID(ctx, id); err != nil {
				return err
			}
			if a.Catalog != nil {
				if err := a.Catalog.Delete(ctx, id); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		},
	}
}
