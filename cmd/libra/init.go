package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/libravcs/libra/internal/core/hash"
	"github.com/libravcs/libra/pkg/libra"
)

func newInitCommand() *cobra.Command {
	var objectFormat string

	cmd := &cobra.Command{
		Use:   "init [<directory>]",
		Short: "Create an empty repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			kind, err := hash.KindFromName(objectFormat)
			if err != nil {
				return err
			}
			repo, err := libra.Init(path, kind)
			if err != nil {
				return err
			}
			defer repo.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Initialized empty repository in %s\n", repo.ControlPath())
			return nil
		},
	}

	cmd.Flags().StringVar(&objectFormat, "object-format", "sha1", "Object format of the new repository (sha1 or sha256)")

	return cmd
}
