package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/libravcs/libra/internal/core/hash"
	"github.com/libravcs/libra/internal/pack"
	"github.com/libravcs/libra/internal/packidx"
)

func newIndexPackCommand() *cobra.Command {
	var (
		output       string
		indexVersion int
		objectFormat string
	)

	cmd := &cobra.Command{
		Use:   "index-pack <pack-file>",
		Short: "Build a pack index file for an existing packed archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := hash.KindFromName(objectFormat)
			if err != nil {
				return err
			}
			if indexVersion != 1 && indexVersion != 2 {
				return fmt.Errorf("invalid index version %d", indexVersion)
			}

			packPath := args[0]
			data, err := os.ReadFile(packPath)
			if err != nil {
				return err
			}
			entries, checksum, err := pack.Scan(data, kind)
			if err != nil {
				return err
			}

			idxEntries := make([]packidx.Entry, len(entries))
			for i, e := range entries {
				idxEntries[i] = packidx.Entry{Hash: e.ID, Offset: e.Offset, CRC32: e.CRC32}
			}

			idxPath := output
			if idxPath == "" {
				idxPath = strings.TrimSuffix(packPath, ".pack") + ".idx"
			}
			f, err := os.Create(idxPath)
			if err != nil {
				return err
			}
			if indexVersion == 1 {
				err = packidx.WriteV1(f, idxEntries, checksum, kind)
			} else {
				err = packidx.WriteV2(cmd.Context(), f, idxEntries, checksum, kind)
			}
			if err != nil {
				f.Close()
				os.Remove(idxPath)
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), checksum)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the index to this path instead of deriving it")
	cmd.Flags().IntVar(&indexVersion, "index-version", 2, "Index format version (1 or 2)")
	cmd.Flags().StringVar(&objectFormat, "object-format", "sha1", "Object format of the pack (sha1 or sha256)")

	return cmd
}
