package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sonroyaalmerol/gitdav/internal/httpserver"
)

func newHistoryCmd(flags *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [collection]",
		Short: "List recent changes recorded in the journal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			journal, err := httpserver.OpenJournal(cfg, logger)
			if err != nil {
				return err
			}
			if journal == nil {
				return errors.New("journal is disabled; set journal.type to sqlite or postgres")
			}
			defer journal.Close()

			collection := ""
			if len(args) == 1 {
				collection = args[0]
			}
			entries, err := journal.List(cmd.Context(), collection, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()
			fmt.Fprintln(tw, "TIME\tACTION\tCOLLECTION\tFILE\tUSER\tUSER-AGENT")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Local().Format(time.RFC3339), e.Action, e.Collection, e.File, e.User, e.UserAgent)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show (0 for all)")
	return cmd
}
