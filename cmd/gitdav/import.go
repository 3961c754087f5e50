package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/sonroyaalmerol/gitdav/internal/httpserver"
)

func newImportCmd(flags *rootFlags) *cobra.Command {
	var (
		as     string
		create bool
	)
	cmd := &cobra.Command{
		Use:   "import <collection> <file>...",
		Short: "Split calendar or vCard files into items of a collection",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			st, err := httpserver.OpenStorage(cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			url := args[0]
			if create {
				if _, err := st.Registry.Create(url); err != nil && !errors.Is(err, fs.ErrExist) {
					return err
				}
			}
			col, err := st.Registry.Get(url)
			if err != nil {
				return err
			}
			if as == "" {
				if u, err := user.Current(); err == nil {
					as = u.Username
				}
			}

			failed := 0
			for _, path := range args[1:] {
				if !col.ImportFile(cmd.Context(), path, as) {
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %s into %s\n", path, col.URL())
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed to import", failed, len(args)-1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&as, "user", "", "user recorded as the author (default: current OS user)")
	cmd.Flags().BoolVar(&create, "create", false, "create the collection when it does not exist")
	return cmd
}
