package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nainya/folio/pkg/ingest"
)

func (c *cli) ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <manifest.yaml>",
		Short: "Ingest the document described by a manifest",
		Long: `Read a YAML manifest listing files, an optional table of contents and
optional parts, upload every file and save the resulting book.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := ingest.LoadManifest(afero.NewOsFs(), args[0])
			if err != nil {
				return err
			}
			book, err := c.app.Ingest(cmd.Context(), filepath.Base(args[0]), m)
			if book != nil {
				fmt.Fprintln(cmd.OutOrStdout(), book.ID)
			}
			return err
		},
	}
}
