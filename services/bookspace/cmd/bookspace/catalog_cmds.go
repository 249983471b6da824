package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"bookspace/pkg/catalog"
	"bookspace/pkg/domain"
)

func newSearchCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "search QUERY...",
		Short: "Search the catalog; several queries run concurrently",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			d := catalog.NewDispatcher(a.Catalog(), catalog.DispatcherOptions{})
			defer d.Close()
			var failed int
			for _, q := range args {
				query := strings.TrimSpace(q)
				if query == "" {
					continue
				}
				err := d.SearchBooks(cmd.Context(), query, func(res catalog.Result[[]domain.Book]) {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "== %s\n", query)
					if res.Err != nil {
						failed++
						fmt.Fprintf(out, "error: %v\n", res.Err)
						return
					}
					printBooks(out, res.Value)
				})
				if err != nil {
					return err
				}
			}
			// Close waits for every completion, so failed is final afterwards.
			d.Close()
			if failed > 0 {
				return fmt.Errorf("%d of %d searches failed", failed, len(args))
			}
			return nil
		},
	}
}

func newPopularCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "popular",
		Short: "List popular fiction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			books, err := a.PopularBooks(cmd.Context())
			if err != nil {
				return err
			}
			printBooks(cmd.OutOrStdout(), books)
			return nil
		},
	}
}

func printBooks(w io.Writer, books []domain.Book) {
	if len(books) == 0 {
		fmt.Fprintln(w, "no books found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tAUTHORS\tPUBLISHED")
	for _, b := range books {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.ID, b.Title, strings.Join(b.Authors, ", "), b.PublishedDate)
	}
	_ = tw.Flush()
}
