package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"bookspace/pkg/domain"
)

func newLibraryCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "Manage saved books",
	}
	cmd.AddCommand(
		newLibraryListCmd(load),
		newLibraryAddCmd(load),
		newLibraryRemoveCmd(load),
		newLibraryStatusCmd(load),
	)
	return cmd
}

func newLibraryListCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved books",
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

			books := a.MyBooks(cmd.Context())
			out := cmd.OutOrStdout()
			if len(books) == 0 {
				fmt.Fprintln(out, "your library is empty")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tADDED")
			for _, b := range books {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.ID, b.Title, b.Status, b.DateAdded.Local().Format("2006-01-02"))
			}
			return tw.Flush()
		},
	}
}

func newLibraryAddCmd(load configLoader) *cobra.Command {
	var statusIndex int
	cmd := &cobra.Command{
		Use:   "add ID",
		Short: "Look up a book in the catalog and save it",
		Args:  cobra.ExactArgs(1),
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

			detail, err := a.BookDetails(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			saved, err := a.AddToLibrary(cmd.Context(), detail.Book, domain.StatusAt(statusIndex))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %q as %s\n", saved.Title, saved.Status)
			return nil
		},
	}
	cmd.Flags().IntVar(&statusIndex, "status", 0, statusHelp())
	return cmd
}

func newLibraryRemoveCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a saved book",
		Args:  cobra.ExactArgs(1),
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
			return a.RemoveFromLibrary(cmd.Context(), args[0])
		},
	}
}

func newLibraryStatusCmd(load configLoader) *cobra.Command {
	var set int
	cmd := &cobra.Command{
		Use:   "status ID",
		Short: "Show or set the reading status of a book",
		Args:  cobra.ExactArgs(1),
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

			id := args[0]
			if cmd.Flags().Changed("set") {
				if err := a.UpdateStatus(cmd.Context(), id, domain.StatusAt(set)); err != nil {
					return err
				}
			}
			status, ok := a.BookStatus(cmd.Context(), id)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no status\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, status)
			return nil
		},
	}
	cmd.Flags().IntVar(&set, "set", 0, statusHelp())
	return cmd
}

func statusHelp() string {
	parts := make([]string, 0, 3)
	for _, s := range domain.ReadingStatuses() {
		parts = append(parts, fmt.Sprintf("%d=%s", s.Index(), s))
	}
	return "reading status index (" + strings.Join(parts, ", ") + ")"
}
